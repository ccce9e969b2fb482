package graph

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/similarity"
	"github.com/pnptcn/nuner/pkg/store"
)

// GraphClient is the merge engine. It owns the storage backend and the
// resolver configuration, and acquires a fresh backend session for every
// call. A GraphClient is safe for concurrent use.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	backend    store.Backend
	normalizer *Normalizer
	resolver   *Resolver
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// FuzzyMatch enables display-name identity resolution for nodes whose id is
// unknown. FuzzyThreshold is the minimum similarity (0..1] for a fuzzy match
// and defaults to 0.8. RepairPayloads runs unparseable payloads through a
// JSON repairer before rejecting them.
type NewGraphClientParams struct {
	Backend        store.Backend
	FuzzyMatch     bool
	FuzzyThreshold float64
	RepairPayloads bool
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Backend:    backend,
//		FuzzyMatch: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	report, err := client.MergeBatch(ctx, "", payload)
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Backend == nil {
		return nil, fmt.Errorf("graph client: backend is required")
	}
	threshold := params.FuzzyThreshold
	if threshold == 0 {
		threshold = similarity.DefaultThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("graph client: fuzzy threshold %v out of range (0, 1]", threshold)
	}

	g := &GraphClient{
		backend:    params.Backend,
		normalizer: NewNormalizer(params.RepairPayloads),
		resolver:   NewResolver(params.FuzzyMatch, threshold),
	}
	return g, nil
}

// Backend returns the name of the storage backend in use.
func (g *GraphClient) Backend() string {
	return g.backend.Name()
}

// Search returns stored nodes whose id or label contains q.
func (g *GraphClient) Search(ctx context.Context, q string, limit int) ([]common.StoredNode, error) {
	session, err := g.backend.Open(ctx)
	if err != nil {
		return nil, common.Unavailable(err)
	}
	defer closeSession(ctx, session)

	return session.Search(ctx, q, limit)
}

// Stats holds the size of the stored graph.
type Stats struct {
	Backend string `json:"backend"`
	Nodes   int64  `json:"nodes"`
	Edges   int64  `json:"edges"`
}

// Stats counts stored nodes and edges. Both counts run concurrently, each on
// its own session.
func (g *GraphClient) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Backend: g.backend.Name()}

	eg, ectx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		n, err := g.count(ectx, store.Store.CountNodes)
		stats.Nodes = n
		return err
	})
	eg.Go(func() error {
		n, err := g.count(ectx, store.Store.CountEdges)
		stats.Edges = n
		return err
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return stats, nil
}

func (g *GraphClient) count(ctx context.Context, fn func(store.Store, context.Context) (int64, error)) (int64, error) {
	session, err := g.backend.Open(ctx)
	if err != nil {
		return 0, common.Unavailable(err)
	}
	defer closeSession(ctx, session)

	return fn(session, ctx)
}

// closeSession releases a session on every exit path. It uses a context
// detached from cancellation so that an aborted batch still returns its
// connection to the pool.
func closeSession(ctx context.Context, s store.Session) {
	if err := s.Close(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("[Graph] failed to close session", "err", err)
	}
}
