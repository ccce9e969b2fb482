package common

// OutcomeKind is the result class of merging a single record.
type OutcomeKind string

const (
	OutcomeCreated OutcomeKind = "created"
	OutcomeUpdated OutcomeKind = "updated"
	OutcomeSkipped OutcomeKind = "skipped"
	OutcomeFailed  OutcomeKind = "failed"
)

// Outcome reports what a backend did with one node or edge record.
type Outcome struct {
	Kind   OutcomeKind
	Handle Handle
	Reason string
	Err    error
}

func Created(h Handle) Outcome { return Outcome{Kind: OutcomeCreated, Handle: h} }

func Updated(h Handle) Outcome { return Outcome{Kind: OutcomeUpdated, Handle: h} }

func Skipped(reason string) Outcome { return Outcome{Kind: OutcomeSkipped, Reason: reason} }

func Failed(err error) Outcome {
	o := Outcome{Kind: OutcomeFailed, Err: err}
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Applied reports whether the record reached the backend.
func (o Outcome) Applied() bool {
	return o.Kind == OutcomeCreated || o.Kind == OutcomeUpdated
}
