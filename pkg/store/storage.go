package store

import (
	"context"

	"github.com/pnptcn/nuner/pkg/common"
)

// Backend is a configured graph storage technology. It owns the connection
// pool (or embedded database) and hands out per-batch sessions.
type Backend interface {
	Name() string
	// Open acquires a session. Callers must Close it on every exit path.
	Open(ctx context.Context) (Session, error)
	Close(ctx context.Context) error
}

// Session is a Store scoped to a single batch. It is not safe for
// concurrent use.
type Session interface {
	Store
	Close(ctx context.Context) error
}

// Store defines the primitive operations every backend exposes to the merge
// engine. Connectivity failures are reported wrapped in
// common.ErrBackendUnavailable, category collisions in common.ErrSchemaConflict.
type Store interface {
	// EnsureSchema registers a node label or edge type. Registering a name
	// already used by the other kind fails with common.ErrSchemaConflict.
	EnsureSchema(ctx context.Context, category common.Category) error

	// FindNode looks a node up by its external id. It returns nil, nil when
	// no such node exists.
	FindNode(ctx context.Context, id string) (*common.StoredNode, error)
	// FindEdge looks an edge up by its identity. It returns nil, nil when
	// no such edge exists.
	FindEdge(ctx context.Context, key common.EdgeKey) (*common.StoredEdge, error)

	// CreateNode stores a new node. If a node with the same id appeared since
	// the caller looked, it returns common.ErrAlreadyExists.
	CreateNode(ctx context.Context, category string, props common.Properties) (common.Handle, error)
	// UpdateNode merges props over the stored properties; unspecified keys are kept.
	UpdateNode(ctx context.Context, h common.Handle, props common.Properties) error

	// CreateEdge stores a new edge between two resolved node handles. If the
	// same edge appeared since the caller looked, it returns common.ErrAlreadyExists.
	CreateEdge(ctx context.Context, source, target common.Handle, category string, props common.Properties) (common.Handle, error)
	UpdateEdge(ctx context.Context, h common.Handle, props common.Properties) error

	// Search returns nodes whose id or label contains substring, case
	// insensitive, ordered by id. A limit <= 0 means no limit.
	Search(ctx context.Context, substring string, limit int) ([]common.StoredNode, error)
	CountNodes(ctx context.Context) (int64, error)
	CountEdges(ctx context.Context) (int64, error)
}

// SimilarityFinder is implemented by stores that can resolve a node by the
// normalized form of its display name within one category.
type SimilarityFinder interface {
	// FindBySimilarity returns the best node above threshold, or nil, nil.
	FindBySimilarity(ctx context.Context, category, normalizedName string, threshold float64) (*common.StoredNode, error)
}

// Adapter translates a canonical merge intent into backend operations.
// Sessions of backends with their own match-or-create primitive implement it
// directly; the merge engine falls back to composing Store primitives.
type Adapter interface {
	// UpsertNode creates or updates the node. match is the node the identity
	// resolver found for rec, or nil when there was none.
	UpsertNode(ctx context.Context, rec common.NodeRecord, match *common.StoredNode) common.Outcome
	// UpsertEdge creates or updates the edge. Both endpoints must already
	// exist; otherwise the outcome fails with common.ErrMissingEndpoint.
	UpsertEdge(ctx context.Context, rec common.EdgeRecord) common.Outcome
}
