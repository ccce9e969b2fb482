package routes

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/pnptcn/nuner/internal/queue"
	"github.com/pnptcn/nuner/internal/server/middleware"
	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
)

type mergeParams struct {
	BatchID string `query:"batch_id" validate:"max=128"`
}

func batchID(c echo.Context) (string, error) {
	// The body is the payload, so only the query string is bound.
	params := new(mergeParams)
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, params); err != nil {
		return "", err
	}
	if err := c.Validate(params); err != nil {
		return "", err
	}
	if params.BatchID == "" {
		params.BatchID = c.Request().Header.Get("X-Batch-ID")
	}
	return params.BatchID, nil
}

// MergeHandler merges the request body synchronously and returns the report.
func MergeHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App

	id, err := batchID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
	}

	report, err := app.Graph.MergeBatch(c.Request().Context(), id, raw)
	switch {
	case errors.Is(err, common.ErrMalformedPayload):
		return c.JSON(http.StatusBadRequest, report)
	case errors.Is(err, common.ErrBackendUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, report)
	case err != nil:
		logger.Error("[Server] merge failed", "batch", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Merge failed"})
	}
	return c.JSON(http.StatusOK, report)
}

type ingressResponse struct {
	BatchID string `json:"batch_id"`
	Queue   string `json:"queue"`
}

// IngressHandler enqueues the request body for the merge worker.
func IngressHandler(c echo.Context) error {
	app := c.(*middleware.AppContext).App
	if app.Queue == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Queue not configured"})
	}

	id, err := batchID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if id == "" {
		if id, err = gonanoid.New(); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate batch id"})
		}
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Failed to read body"})
	}
	if len(raw) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Empty body"})
	}

	if err := queue.Enqueue(c.Request().Context(), app.Queue, app.QueueName, id, raw); err != nil {
		logger.Error("[Server] failed to enqueue batch", "batch", id, "err", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Failed to enqueue batch"})
	}
	return c.JSON(http.StatusAccepted, ingressResponse{BatchID: id, Queue: app.QueueName})
}
