package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pnptcn/nuner/internal/backend"
	"github.com/pnptcn/nuner/internal/config"
	"github.com/pnptcn/nuner/internal/queue"
	mid "github.com/pnptcn/nuner/internal/server/middleware"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/logger"
)

const bodyLimit = "64M"

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the HTTP API around app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))

	RegisterRoutes(e)
	return e
}

// Run opens the configured backend, connects the queue when one is
// configured and serves the API until ctx is done.
func Run(ctx context.Context, cfg *config.Config) error {
	b, err := backend.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Backend:        b,
		FuzzyMatch:     cfg.FuzzyMatch,
		FuzzyThreshold: cfg.Threshold(),
		RepairPayloads: cfg.RepairPayloads,
	})
	if err != nil {
		return err
	}

	app := &mid.App{
		Graph:        client,
		QueueName:    cfg.Queue.Name,
		MasterAPIKey: cfg.Server.MasterAPIKey,
	}

	if cfg.Server.AuthURL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.Server.AuthURL + "/jwks"})
		if err != nil {
			return fmt.Errorf("failed to load jwks keys: %w", err)
		}
		app.Keyfunc = k.Keyfunc
	}
	if !app.AuthEnabled() {
		logger.Warn("[Server] no AUTH_URL or MASTER_API_KEY set, API is unauthenticated")
	}

	if cfg.Queue.Enabled() {
		conn, err := queue.Connect(ctx, cfg.Queue.URL())
		if err != nil {
			return err
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			return fmt.Errorf("failed to open channel: %w", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, []string{cfg.Queue.Name}); err != nil {
			return err
		}
		app.Queue = ch
	} else {
		logger.Warn("[Server] no RABBITMQ_HOST set, ingress disabled")
	}

	e := New(app)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("[Server] starting", "port", cfg.Server.Port, "backend", client.Backend())
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] failed to shutdown", "err", err)
	}
	return nil
}
