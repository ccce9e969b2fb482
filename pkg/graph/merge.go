package graph

import (
	"context"
	"errors"
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store"
)

var newBatchID = func() (string, error) { return gonanoid.New() }

// MergeBatch normalizes raw and merges it into the backend: every node
// first, then every edge. Failures of single records are recorded in the
// report and never stop the batch.
//
// The returned report is never nil. The error is non-nil only when the batch
// as a whole did not go through: the payload was malformed
// (common.ErrMalformedPayload) or the backend became unavailable
// (common.ErrBackendUnavailable) or ctx was canceled. In the latter cases
// records merged before the failure stay merged and the rest are reported as
// skipped.
//
// An empty batchID is replaced by a generated one.
func (g *GraphClient) MergeBatch(ctx context.Context, batchID string, raw []byte) (*Report, error) {
	if batchID == "" {
		id, err := newBatchID()
		if err != nil {
			err = fmt.Errorf("generate batch id: %w", err)
			report := newReport("", g.backend.Name())
			report.abort(err)
			report.finish()
			logger.Error("[Merge] no batch id", "err", err)
			return report, err
		}
		batchID = id
	}
	report := newReport(batchID, g.backend.Name())

	batch, err := g.normalizer.Normalize(raw)
	if err != nil {
		report.State = StateRejected
		report.Error = err.Error()
		report.finish()
		logger.Warn("[Merge] rejected batch", "batch", batchID, "err", err)
		return report, err
	}
	report.Rejected = append(report.Rejected, batch.Rejected...)

	session, err := g.backend.Open(ctx)
	if err != nil {
		err = common.Unavailable(err)
		report.abort(err)
		report.skipNodes(batch, 0, err)
		report.skipEdges(batch, 0, err)
		report.finish()
		logger.Error("[Merge] backend unavailable", "batch", batchID, "backend", g.backend.Name(), "err", err)
		return report, err
	}
	defer closeSession(ctx, session)

	m := &merger{
		session:  session,
		adapter:  adapterFor(session, g.resolver),
		resolver: g.resolver,
		report:   report,
		ensured:  make(map[common.Category]error),
		aliases:  make(map[string]string),
	}

	report.State = StateMergingNodes
	if err := m.mergeNodes(ctx, batch); err != nil {
		report.skipEdges(batch, 0, err)
		report.finish()
		logger.Error("[Merge] node phase aborted", "batch", batchID, "err", err)
		return report, err
	}

	report.State = StateMergingEdges
	if err := m.mergeEdges(ctx, batch); err != nil {
		report.finish()
		logger.Error("[Merge] edge phase aborted", "batch", batchID, "err", err)
		return report, err
	}

	report.finish()
	logger.Info("[Merge] batch merged",
		"batch", batchID,
		"status", report.Status,
		"nodes_created", report.Nodes.Created,
		"nodes_updated", report.Nodes.Updated,
		"nodes_failed", report.Nodes.Failed,
		"edges_created", report.Edges.Created,
		"edges_updated", report.Edges.Updated,
		"edges_failed", report.Edges.Failed,
		"rejected", len(report.Rejected),
	)
	return report, nil
}

// merger carries the state of one batch against one session.
type merger struct {
	session  store.Session
	adapter  store.Adapter
	resolver *Resolver
	report   *Report

	// ensured caches EnsureSchema results per category for this batch.
	ensured map[common.Category]error
	// aliases maps incoming node ids to the stored ids they were fuzzily
	// matched to, so edges of the same batch land on the stored node.
	aliases map[string]string
}

func (m *merger) mergeNodes(ctx context.Context, batch *Batch) error {
	for i, rec := range batch.Nodes {
		index := batch.NodeIndex[i]
		if err := ctx.Err(); err != nil {
			m.report.abort(err)
			m.report.skipNodes(batch, i, err)
			return err
		}

		outcome, matchedID := m.mergeNode(ctx, rec)
		if fatal(outcome.Err) {
			err := outcome.Err
			m.report.abort(err)
			m.report.skipNodes(batch, i, err)
			return err
		}

		m.report.recordNode(index, rec.ID, outcome, matchedID)
		logger.Debug("[Merge] node", "id", rec.ID, "category", rec.Category, "outcome", outcome.Kind)
	}
	return nil
}

func (m *merger) mergeNode(ctx context.Context, rec common.NodeRecord) (common.Outcome, string) {
	if err := m.ensureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: rec.Category}); err != nil {
		return common.Failed(err), ""
	}

	res, err := m.resolver.ResolveNode(ctx, m.session, rec)
	if err != nil {
		return common.Failed(err), ""
	}

	matchedID := ""
	if res.Fuzzy && res.Match.ID != rec.ID {
		// The stored node keeps its identity.
		matchedID = res.Match.ID
		m.aliases[rec.ID] = res.Match.ID
		rec.ID = res.Match.ID
	}
	return m.adapter.UpsertNode(ctx, rec, res.Match), matchedID
}

func (m *merger) mergeEdges(ctx context.Context, batch *Batch) error {
	for i, rec := range batch.Edges {
		index := batch.EdgeIndex[i]
		if err := ctx.Err(); err != nil {
			m.report.abort(err)
			m.report.skipEdges(batch, i, err)
			return err
		}

		outcome := m.mergeEdge(ctx, rec)
		if fatal(outcome.Err) {
			err := outcome.Err
			m.report.abort(err)
			m.report.skipEdges(batch, i, err)
			return err
		}

		m.report.recordEdge(index, rec.ID, outcome)
		logger.Debug("[Merge] edge", "id", rec.ID, "category", rec.Category, "outcome", outcome.Kind)
	}
	return nil
}

func (m *merger) mergeEdge(ctx context.Context, rec common.EdgeRecord) common.Outcome {
	if err := m.ensureSchema(ctx, common.Category{Kind: common.EdgeCategory, Name: rec.Category}); err != nil {
		return common.Failed(err)
	}
	if id, ok := m.aliases[rec.Source]; ok {
		rec.Source = id
	}
	if id, ok := m.aliases[rec.Target]; ok {
		rec.Target = id
	}
	return m.adapter.UpsertEdge(ctx, rec)
}

func (m *merger) ensureSchema(ctx context.Context, c common.Category) error {
	if err, ok := m.ensured[c]; ok {
		return err
	}
	err := m.session.EnsureSchema(ctx, c)
	if fatal(err) {
		return err
	}
	m.ensured[c] = err
	return err
}

// fatal reports whether err must abort the current phase of a batch.
func fatal(err error) bool {
	return errors.Is(err, common.ErrBackendUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (r *Report) abort(err error) {
	r.State = StateAborted
	r.Error = err.Error()
}

// skipNodes reports nodes from position from onward as never attempted.
func (r *Report) skipNodes(batch *Batch, from int, cause error) {
	reason := "not attempted: " + cause.Error()
	for i := from; i < len(batch.Nodes); i++ {
		r.recordNode(batch.NodeIndex[i], batch.Nodes[i].ID, common.Skipped(reason), "")
	}
}

// skipEdges reports edges from position from onward as never attempted.
func (r *Report) skipEdges(batch *Batch, from int, cause error) {
	reason := "not attempted: " + cause.Error()
	for i := from; i < len(batch.Edges); i++ {
		r.recordEdge(batch.EdgeIndex[i], batch.Edges[i].ID, common.Skipped(reason))
	}
}
