package graph

import (
	"context"
	"errors"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/store"
)

// nativeAdapter composes Store primitives into upserts for backends without
// a match-or-create operation of their own: look up by identity, merge
// properties over a hit, create on a miss. A create that loses a race
// against a concurrent batch falls back to updating the winner.
type nativeAdapter struct {
	store    store.Store
	resolver *Resolver
}

// adapterFor prefers the session's own Adapter implementation.
func adapterFor(s store.Session, r *Resolver) store.Adapter {
	if a, ok := s.(store.Adapter); ok {
		return a
	}
	return &nativeAdapter{store: s, resolver: r}
}

func (a *nativeAdapter) UpsertNode(ctx context.Context, rec common.NodeRecord, match *common.StoredNode) common.Outcome {
	props := rec.Properties()
	if match != nil {
		return a.updateNode(ctx, match.Handle, props)
	}

	h, err := a.store.CreateNode(ctx, rec.Category, props)
	if errors.Is(err, common.ErrAlreadyExists) {
		existing, ferr := a.store.FindNode(ctx, rec.ID)
		if ferr != nil {
			return common.Failed(ferr)
		}
		if existing == nil {
			return common.Failed(err)
		}
		return a.updateNode(ctx, existing.Handle, props)
	}
	if err != nil {
		return common.Failed(err)
	}
	return common.Created(h)
}

func (a *nativeAdapter) updateNode(ctx context.Context, h common.Handle, props common.Properties) common.Outcome {
	if err := a.store.UpdateNode(ctx, h, props); err != nil {
		return common.Failed(err)
	}
	return common.Updated(h)
}

func (a *nativeAdapter) UpsertEdge(ctx context.Context, rec common.EdgeRecord) common.Outcome {
	src, err := a.store.FindNode(ctx, rec.Source)
	if err != nil {
		return common.Failed(err)
	}
	if src == nil {
		return common.Failed(common.MissingEndpoint("source", rec.Source))
	}
	tgt, err := a.store.FindNode(ctx, rec.Target)
	if err != nil {
		return common.Failed(err)
	}
	if tgt == nil {
		return common.Failed(common.MissingEndpoint("target", rec.Target))
	}

	props := rec.Properties()
	existing, err := a.resolver.ResolveEdge(ctx, a.store, rec.Key())
	if err != nil {
		return common.Failed(err)
	}
	if existing != nil {
		return a.updateEdge(ctx, existing.Handle, props)
	}

	h, err := a.store.CreateEdge(ctx, src.Handle, tgt.Handle, rec.Category, props)
	if errors.Is(err, common.ErrAlreadyExists) {
		existing, ferr := a.store.FindEdge(ctx, rec.Key())
		if ferr != nil {
			return common.Failed(ferr)
		}
		if existing == nil {
			return common.Failed(err)
		}
		return a.updateEdge(ctx, existing.Handle, props)
	}
	if err != nil {
		return common.Failed(err)
	}
	return common.Created(h)
}

func (a *nativeAdapter) updateEdge(ctx context.Context, h common.Handle, props common.Properties) common.Outcome {
	if err := a.store.UpdateEdge(ctx, h, props); err != nil {
		return common.Failed(err)
	}
	return common.Updated(h)
}
