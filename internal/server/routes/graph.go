package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pnptcn/nuner/internal/server/middleware"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/logger"
)

type searchParams struct {
	Query string `query:"q"`
	Limit int    `query:"limit" validate:"gte=0,lte=1000"`
}

func SearchHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	params := new(searchParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if params.Limit == 0 {
		params.Limit = 50
	}

	nodes, err := app.Graph.Search(c.Request().Context(), params.Query, params.Limit)
	if err != nil {
		logger.Error("[Server] search failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Search failed"})
	}
	return c.JSON(http.StatusOK, map[string]any{"nodes": nodes})
}

func StatsHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	stats, err := app.Graph.Stats(c.Request().Context())
	if err != nil {
		logger.Error("[Server] stats failed", "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Stats unavailable"})
	}
	return c.JSON(http.StatusOK, stats)
}

// SchemaHandler serves the JSON Schema of the merge payload.
func SchemaHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, graph.PayloadSchema())
}
