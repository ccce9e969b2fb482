package server

import (
	"github.com/pnptcn/nuner/internal/server/middleware"
	"github.com/pnptcn/nuner/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Merge routes
	apiRoutes.POST("/merge", routes.MergeHandler, middleware.RequirePermission(middleware.PermMerge))
	apiRoutes.POST("/ingress", routes.IngressHandler, middleware.RequirePermission(middleware.PermMerge))

	// Read routes
	apiRoutes.GET("/search", routes.SearchHandler, middleware.RequirePermission(middleware.PermRead))
	apiRoutes.GET("/stats", routes.StatsHandler, middleware.RequirePermission(middleware.PermRead))
	apiRoutes.GET("/schema", routes.SchemaHandler, middleware.RequireAnyPermission(middleware.PermRead, middleware.PermMerge))
}
