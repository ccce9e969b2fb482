package middleware

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/pnptcn/nuner/internal/queue"
	"github.com/pnptcn/nuner/pkg/graph"
)

type AppUser struct {
	Subject     string
	Role        string
	Permissions []string
}

type App struct {
	Graph *graph.GraphClient
	// Queue is nil when no broker is configured.
	Queue     queue.Publisher
	QueueName string
	// Keyfunc verifies bearer JWTs. Nil disables JWT auth.
	Keyfunc      jwt.Keyfunc
	MasterAPIKey string
}

// AuthEnabled reports whether requests to /api must authenticate.
func (a *App) AuthEnabled() bool {
	return a.Keyfunc != nil || a.MasterAPIKey != ""
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
