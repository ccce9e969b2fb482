package graph

import (
	"github.com/pnptcn/nuner/pkg/common"
)

// BatchState is the position of a batch in the merge state machine.
type BatchState string

const (
	StateParsing         BatchState = "parsing"
	StateMergingNodes    BatchState = "merging_nodes"
	StateMergingEdges    BatchState = "merging_edges"
	StateDone            BatchState = "done"
	StatePartiallyFailed BatchState = "partially_failed"
	StateRejected        BatchState = "rejected"
	StateAborted         BatchState = "aborted"
)

// Status summarizes a finished batch for callers.
type Status string

const (
	// StatusSuccess: every record was applied.
	StatusSuccess Status = "success"
	// StatusPartial: some records were rejected, skipped or failed.
	StatusPartial Status = "partial"
	// StatusRejected: the payload was malformed and nothing was merged.
	StatusRejected Status = "rejected"
	// StatusFailed: the backend became unavailable and the batch was aborted.
	StatusFailed Status = "failed"
)

// Counts tallies outcomes of one record kind.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func (c *Counts) add(kind common.OutcomeKind) {
	switch kind {
	case common.OutcomeCreated:
		c.Created++
	case common.OutcomeUpdated:
		c.Updated++
	case common.OutcomeSkipped:
		c.Skipped++
	case common.OutcomeFailed:
		c.Failed++
	}
}

// RecordOutcome is the result for one record, addressed by its index in
// the raw payload.
type RecordOutcome struct {
	Index     int                `json:"index"`
	ID        string             `json:"id"`
	Outcome   common.OutcomeKind `json:"outcome"`
	Handle    common.Handle      `json:"handle,omitempty"`
	MatchedID string             `json:"matched_id,omitempty"`
	Reason    string             `json:"reason,omitempty"`

	err error
}

// Err returns the error behind a failed outcome.
func (o RecordOutcome) Err() error { return o.err }

// Report is the complete result of merging one batch.
type Report struct {
	BatchID      string           `json:"batch_id"`
	Backend      string           `json:"backend"`
	State        BatchState       `json:"state"`
	Status       Status           `json:"status"`
	Nodes        Counts           `json:"nodes"`
	Edges        Counts           `json:"edges"`
	NodeOutcomes []RecordOutcome  `json:"node_outcomes"`
	EdgeOutcomes []RecordOutcome  `json:"edge_outcomes"`
	Rejected     []RejectedRecord `json:"rejected"`
	Error        string           `json:"error,omitempty"`
}

func newReport(batchID, backend string) *Report {
	return &Report{
		BatchID:      batchID,
		Backend:      backend,
		State:        StateParsing,
		NodeOutcomes: []RecordOutcome{},
		EdgeOutcomes: []RecordOutcome{},
		Rejected:     []RejectedRecord{},
	}
}

func (r *Report) recordNode(index int, id string, o common.Outcome, matchedID string) {
	r.Nodes.add(o.Kind)
	r.NodeOutcomes = append(r.NodeOutcomes, toRecordOutcome(index, id, o, matchedID))
}

func (r *Report) recordEdge(index int, id string, o common.Outcome) {
	r.Edges.add(o.Kind)
	r.EdgeOutcomes = append(r.EdgeOutcomes, toRecordOutcome(index, id, o, ""))
}

func toRecordOutcome(index int, id string, o common.Outcome, matchedID string) RecordOutcome {
	return RecordOutcome{
		Index:     index,
		ID:        id,
		Outcome:   o.Kind,
		Handle:    o.Handle,
		MatchedID: matchedID,
		Reason:    o.Reason,
		err:       o.Err,
	}
}

// finish moves the report to its terminal state.
func (r *Report) finish() {
	switch {
	case r.State == StateRejected:
		r.Status = StatusRejected
	case r.State == StateAborted:
		r.Status = StatusFailed
	case r.Nodes.Failed+r.Edges.Failed > 0:
		r.State = StatePartiallyFailed
		r.Status = StatusPartial
	case len(r.Rejected) > 0 || r.Nodes.Skipped+r.Edges.Skipped > 0:
		r.State = StateDone
		r.Status = StatusPartial
	default:
		r.State = StateDone
		r.Status = StatusSuccess
	}
}

// Fatal reports whether the batch as a whole did not go through.
func (r *Report) Fatal() bool {
	return r.State == StateRejected || r.State == StateAborted
}
