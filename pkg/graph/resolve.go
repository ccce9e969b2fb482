package graph

import (
	"context"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/similarity"
	"github.com/pnptcn/nuner/pkg/store"
)

// Resolution is the identity resolver's verdict for one node record.
// Match is nil for NoMatch.
type Resolution struct {
	Match *common.StoredNode
	Fuzzy bool
}

// Resolver decides whether an incoming record denotes something already
// stored: by exact id first and, when enabled, by display-name similarity
// within the record's category.
type Resolver struct {
	fuzzy     bool
	threshold float64
}

func NewResolver(fuzzy bool, threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = similarity.DefaultThreshold
	}
	return &Resolver{fuzzy: fuzzy, threshold: threshold}
}

// ResolveNode looks rec up in s. Errors are backend errors; NoMatch is not
// an error.
func (r *Resolver) ResolveNode(ctx context.Context, s store.Store, rec common.NodeRecord) (Resolution, error) {
	existing, err := s.FindNode(ctx, rec.ID)
	if err != nil {
		return Resolution{}, err
	}
	if existing != nil {
		return Resolution{Match: existing}, nil
	}

	if !r.fuzzy || rec.Label == "" {
		return Resolution{}, nil
	}
	finder, ok := s.(store.SimilarityFinder)
	if !ok {
		return Resolution{}, nil
	}
	name := similarity.NormalizeName(rec.Label)
	if name == "" {
		return Resolution{}, nil
	}

	match, err := finder.FindBySimilarity(ctx, rec.Category, name, r.threshold)
	if err != nil {
		return Resolution{}, err
	}
	if match == nil {
		return Resolution{}, nil
	}
	return Resolution{Match: match, Fuzzy: true}, nil
}

// ResolveEdge looks an edge up by its exact identity. Edges never match fuzzily.
func (r *Resolver) ResolveEdge(ctx context.Context, s store.Store, key common.EdgeKey) (*common.StoredEdge, error) {
	return s.FindEdge(ctx, key)
}
