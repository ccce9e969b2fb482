package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/pnptcn/nuner/internal/storage"
	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/logger"
)

// Merger merges one batch. *graph.GraphClient implements it.
type Merger interface {
	MergeBatch(ctx context.Context, batchID string, raw []byte) (*graph.Report, error)
}

// Archiver keeps payloads that will never merge. *storage.Archive
// implements it.
type Archiver interface {
	Put(ctx context.Context, prefix, batchID string, body []byte) (string, error)
}

// ProcessMergeMessage merges the batch carried by body.
//
// It returns nil when the message is done with, including when the payload
// was malformed: such a payload is archived (when archive is not nil) and
// dropped since redelivery cannot fix it. A returned error means the batch
// did not go through and the message should be retried.
func ProcessMergeMessage(ctx context.Context, merger Merger, archive Archiver, body []byte) error {
	var msg MergeMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		id, _ := gonanoid.New()
		logger.Error("[Queue] undecodable message", "err", err)
		archivePayload(ctx, archive, storage.MalformedPrefix, "undecodable-"+id, body)
		return nil
	}

	report, err := merger.MergeBatch(ctx, msg.BatchID, msg.Payload)
	switch {
	case errors.Is(err, common.ErrMalformedPayload):
		archivePayload(ctx, archive, storage.MalformedPrefix, report.BatchID, msg.Payload)
		return nil
	case err != nil:
		return fmt.Errorf("batch %s: %w", msg.BatchID, err)
	}

	if report.Status != graph.StatusSuccess {
		logger.Warn("[Queue] batch merged with failures",
			"batch", report.BatchID,
			"status", report.Status,
			"rejected", len(report.Rejected),
			"nodes_failed", report.Nodes.Failed,
			"edges_failed", report.Edges.Failed,
		)
	}
	return nil
}

func archivePayload(ctx context.Context, archive Archiver, prefix, batchID string, body []byte) {
	if archive == nil {
		return
	}
	key, err := archive.Put(ctx, prefix, batchID, body)
	if err != nil {
		logger.Error("[Queue] failed to archive payload", "batch", batchID, "err", err)
		return
	}
	logger.Info("[Queue] payload archived", "batch", batchID, "key", key)
}
