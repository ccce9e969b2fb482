package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/leaselock"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store"
)

const loadChunkSize = 100

type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// IdentityLocks guards every upsert with a lease lock on the record's
	// identity, so concurrent batches cannot both create the same entity.
	IdentityLocks bool
}

var leaseOptions = leaselock.Options{
	TTL:          10 * time.Second,
	Wait:         true,
	WaitInterval: 20 * time.Millisecond,
	WaitJitter:   20 * time.Millisecond,
}

// Backend keeps the graph in Redis hashes, sets and sorted sets. It has no
// atomic upsert: every merge is an existence check followed by per-key
// property writes.
type Backend struct {
	rdb   *goredis.Client
	keys  keyspace
	locks *leaselock.Client
}

// Connect dials Redis and verifies the connection with PING.
func Connect(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, common.Unavailable(fmt.Errorf("redis ping: %w", err))
	}
	logger.Info("[Redis] connected", "addr", opts.Addr, "prefix", opts.Prefix, "identity_locks", opts.IdentityLocks)
	return New(rdb, opts), nil
}

// New wraps an existing client. Addr, Password and DB of opts are ignored.
func New(rdb *goredis.Client, opts Options) *Backend {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "nuner"
	}
	b := &Backend{rdb: rdb, keys: keyspace{prefix: prefix}}
	if opts.IdentityLocks {
		b.locks = leaselock.New(rdb, prefix+":lock:")
	}
	return b
}

func (b *Backend) Name() string { return "redis" }

func (b *Backend) Open(ctx context.Context) (store.Session, error) {
	return &Session{rdb: b.rdb, keys: b.keys, locks: b.locks}, nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.rdb.Close()
}

// Session shares the backend's client; the client pools connections itself.
type Session struct {
	rdb   *goredis.Client
	keys  keyspace
	locks *leaselock.Client
}

var (
	_ store.Session          = (*Session)(nil)
	_ store.Adapter          = (*Session)(nil)
	_ store.SimilarityFinder = (*Session)(nil)
)

func (s *Session) Close(ctx context.Context) error { return nil }

func (s *Session) EnsureSchema(ctx context.Context, category common.Category) error {
	if !common.ValidCategory(category.Name) {
		return common.SchemaConflict(fmt.Errorf("invalid category name %q", category.Name))
	}
	if err := s.rdb.HSetNX(ctx, s.keys.schema(), category.Name, string(category.Kind)).Err(); err != nil {
		return classify(err)
	}
	kind, err := s.rdb.HGet(ctx, s.keys.schema(), category.Name).Result()
	if err != nil {
		return classify(err)
	}
	if kind != string(category.Kind) {
		return common.SchemaConflict(fmt.Errorf("category %q is registered as a %s category", category.Name, kind))
	}
	return nil
}

func (s *Session) member(ctx context.Context, set, id string) (bool, error) {
	_, err := s.rdb.ZScore(ctx, set, id).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

func (s *Session) nodeExists(ctx context.Context, id string) (bool, error) {
	return s.member(ctx, s.keys.nodes(), id)
}

func (s *Session) FindNode(ctx context.Context, id string) (*common.StoredNode, error) {
	ok, err := s.nodeExists(ctx, id)
	if err != nil || !ok {
		return nil, err
	}
	nodes, err := s.loadNodes(ctx, []string{id})
	if err != nil || len(nodes) == 0 {
		return nil, err
	}
	return &nodes[0], nil
}

// loadNodes reads nodes in chunks, preserving the order of ids.
func (s *Session) loadNodes(ctx context.Context, ids []string) ([]common.StoredNode, error) {
	out := make([]common.StoredNode, 0, len(ids))
	err := store.ChunkRange(len(ids), loadChunkSize, func(start, end int) error {
		chunk := ids[start:end]
		cats, err := s.rdb.HMGet(ctx, s.keys.nodeCategory(), chunk...).Result()
		if err != nil {
			return classify(err)
		}
		for i, id := range chunk {
			props, _, err := s.readProps(ctx, s.keys.node(id))
			if err != nil {
				return err
			}
			cat, _ := cats[i].(string)
			out = append(out, common.StoredNode{
				Handle:     common.Handle(id),
				ID:         id,
				Category:   cat,
				Properties: props,
			})
		}
		return nil
	})
	return out, err
}

func (s *Session) FindEdge(ctx context.Context, key common.EdgeKey) (*common.StoredEdge, error) {
	h := edgeHandle(key)
	ok, err := s.member(ctx, s.keys.edges(), string(h))
	if err != nil || !ok {
		return nil, err
	}
	props, _, err := s.readProps(ctx, s.keys.edge(h))
	if err != nil {
		return nil, err
	}
	return &common.StoredEdge{Handle: h, Key: key, Properties: props}, nil
}

func (s *Session) CreateNode(ctx context.Context, category string, props common.Properties) (common.Handle, error) {
	id := props.String("id")
	if id == "" {
		return "", fmt.Errorf("%w: node without id", common.ErrInvalidRecord)
	}
	exists, err := s.nodeExists(ctx, id)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("node %q: %w", id, common.ErrAlreadyExists)
	}
	if err := s.indexNode(ctx, id, category); err != nil {
		return "", err
	}
	if err := s.writeProps(ctx, s.keys.node(id), toValues(props)); err != nil {
		return "", err
	}
	return common.Handle(id), nil
}

func (s *Session) indexNode(ctx context.Context, id, category string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSetNX(ctx, s.keys.nodeCategory(), id, category)
		p.ZAdd(ctx, s.keys.nodes(), goredis.Z{Member: id})
		p.ZAdd(ctx, s.keys.category(category), goredis.Z{Member: id})
		return nil
	})
	return classify(err)
}

func (s *Session) UpdateNode(ctx context.Context, h common.Handle, props common.Properties) error {
	id := string(h)
	exists, err := s.nodeExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("node %s: %w", h, common.ErrNotFound)
	}
	values := toValues(props)
	values["id"] = common.String(id)
	return s.writeProps(ctx, s.keys.node(id), values)
}

func (s *Session) CreateEdge(ctx context.Context, source, target common.Handle, category string, props common.Properties) (common.Handle, error) {
	key := common.EdgeKey{Source: string(source), Target: string(target), Category: category}
	if err := s.requireEndpoints(ctx, key); err != nil {
		return "", err
	}
	h := edgeHandle(key)
	exists, err := s.member(ctx, s.keys.edges(), string(h))
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("edge %s: %w", h, common.ErrAlreadyExists)
	}
	if err := classify(s.rdb.ZAdd(ctx, s.keys.edges(), goredis.Z{Member: string(h)}).Err()); err != nil {
		return "", err
	}
	if err := s.writeProps(ctx, s.keys.edge(h), toValues(props)); err != nil {
		return "", err
	}
	return h, nil
}

func (s *Session) UpdateEdge(ctx context.Context, h common.Handle, props common.Properties) error {
	if _, err := parseEdgeHandle(h); err != nil {
		return err
	}
	exists, err := s.member(ctx, s.keys.edges(), string(h))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("edge %s: %w", h, common.ErrNotFound)
	}
	return s.writeProps(ctx, s.keys.edge(h), toValues(props))
}

func (s *Session) requireEndpoints(ctx context.Context, key common.EdgeKey) error {
	ok, err := s.nodeExists(ctx, key.Source)
	if err != nil {
		return err
	}
	if !ok {
		return common.MissingEndpoint("source", key.Source)
	}
	ok, err = s.nodeExists(ctx, key.Target)
	if err != nil {
		return err
	}
	if !ok {
		return common.MissingEndpoint("target", key.Target)
	}
	return nil
}

// UpsertNode checks for the node, creates and indexes it when absent, then
// writes every property individually. List values are appended.
func (s *Session) UpsertNode(ctx context.Context, rec common.NodeRecord, match *common.StoredNode) common.Outcome {
	id := rec.ID
	if match != nil {
		id = match.ID
	}
	values := rec.Values()
	values["id"] = common.String(id)

	return s.guarded(ctx, "node:"+esc(id), func(ctx context.Context) common.Outcome {
		existed, err := s.nodeExists(ctx, id)
		if err != nil {
			return common.Failed(err)
		}
		if !existed {
			if err := s.indexNode(ctx, id, rec.Category); err != nil {
				return common.Failed(err)
			}
		}
		if err := s.writeProps(ctx, s.keys.node(id), values); err != nil {
			return common.Failed(err)
		}
		if existed {
			return common.Updated(common.Handle(id))
		}
		return common.Created(common.Handle(id))
	})
}

// UpsertEdge requires both endpoint nodes before touching the edge.
func (s *Session) UpsertEdge(ctx context.Context, rec common.EdgeRecord) common.Outcome {
	key := rec.Key()
	h := edgeHandle(key)

	return s.guarded(ctx, "edge:"+string(h), func(ctx context.Context) common.Outcome {
		if err := s.requireEndpoints(ctx, key); err != nil {
			return common.Failed(err)
		}
		existed, err := s.member(ctx, s.keys.edges(), string(h))
		if err != nil {
			return common.Failed(err)
		}
		if !existed {
			if err := classify(s.rdb.ZAdd(ctx, s.keys.edges(), goredis.Z{Member: string(h)}).Err()); err != nil {
				return common.Failed(err)
			}
		}
		if err := s.writeProps(ctx, s.keys.edge(h), rec.Values()); err != nil {
			return common.Failed(err)
		}
		if existed {
			return common.Updated(h)
		}
		return common.Created(h)
	})
}

// guarded runs fn under the identity lease when identity locks are enabled.
func (s *Session) guarded(ctx context.Context, key string, fn func(ctx context.Context) common.Outcome) common.Outcome {
	if s.locks == nil {
		return fn(ctx)
	}
	var out common.Outcome
	err := s.locks.WithLease(ctx, key, leaseOptions, func(ctx context.Context) error {
		out = fn(ctx)
		return nil
	})
	if err != nil {
		return common.Failed(classify(err))
	}
	return out
}

func (s *Session) Search(ctx context.Context, substring string, limit int) ([]common.StoredNode, error) {
	ids, err := s.rdb.ZRange(ctx, s.keys.nodes(), 0, -1).Result()
	if err != nil {
		return nil, classify(err)
	}
	nodes, err := s.loadNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]common.StoredNode, 0)
	for _, n := range nodes {
		if store.MatchesSearch(n, substring) {
			out = append(out, n)
		}
	}
	return store.Limit(out, limit), nil
}

func (s *Session) FindBySimilarity(ctx context.Context, category, normalizedName string, threshold float64) (*common.StoredNode, error) {
	ids, err := s.rdb.ZRange(ctx, s.keys.category(category), 0, -1).Result()
	if err != nil {
		return nil, classify(err)
	}
	nodes, err := s.loadNodes(ctx, ids)
	if err != nil {
		return nil, err
	}
	return store.BestSimilar(nodes, normalizedName, threshold), nil
}

func (s *Session) CountNodes(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.keys.nodes()).Result()
	return n, classify(err)
}

func (s *Session) CountEdges(ctx context.Context) (int64, error) {
	n, err := s.rdb.ZCard(ctx, s.keys.edges()).Result()
	return n, classify(err)
}

func toValues(props common.Properties) map[string]common.Value {
	out := make(map[string]common.Value, len(props))
	for k, v := range props {
		out[k] = common.FromInterface(v)
	}
	return out
}
