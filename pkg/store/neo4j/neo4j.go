package neo4j

import (
	"context"
	"fmt"
	"time"

	neo4jv5 "github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store"
)

type Options struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
	Timeout     time.Duration
}

// Backend stores the graph as a labelled property graph. Every node carries
// the Node label plus its category label; edges are typed relationships.
type Backend struct {
	driver   neo4jv5.DriverWithContext
	database string
}

// Connect creates the driver, verifies connectivity and makes sure the id
// uniqueness constraints exist.
func Connect(ctx context.Context, opts Options) (*Backend, error) {
	if opts.URI == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}

	driver, err := neo4jv5.NewDriverWithContext(
		opts.URI,
		neo4jv5.BasicAuth(opts.User, opts.Password, ""),
		func(c *neo4jv5.Config) {
			if opts.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = opts.MaxPoolSize
			}
			if opts.Timeout > 0 {
				c.SocketConnectTimeout = opts.Timeout
				c.ConnectionAcquisitionTimeout = opts.Timeout
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("neo4j driver init failed: %w", err)
	}

	vctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, common.Unavailable(fmt.Errorf("neo4j verify connectivity failed: %w", err))
	}

	b := &Backend{driver: driver, database: opts.Database}
	if err := b.ensureConstraints(ctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, err
	}
	logger.Info("[Neo4j] connected", "uri", opts.URI, "database", opts.Database)
	return b, nil
}

func (b *Backend) ensureConstraints(ctx context.Context) error {
	session := b.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   neo4jv5.AccessModeWrite,
		DatabaseName: b.database,
	})
	defer session.Close(context.WithoutCancel(ctx))

	for _, q := range constraintQueries {
		res, err := session.Run(ctx, q, nil)
		if err != nil {
			return classify(fmt.Errorf("create constraint: %w", err))
		}
		if _, err := res.Consume(ctx); err != nil {
			return classify(fmt.Errorf("create constraint: %w", err))
		}
	}
	return nil
}

func (b *Backend) Name() string { return "neo4j" }

func (b *Backend) Open(ctx context.Context) (store.Session, error) {
	s := b.driver.NewSession(ctx, neo4jv5.SessionConfig{
		AccessMode:   neo4jv5.AccessModeWrite,
		DatabaseName: b.database,
	})
	return &Session{session: s}, nil
}

func (b *Backend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

// Session runs every operation in its own managed transaction, retried by
// the driver on transient errors. It implements store.Adapter with single
// MERGE statements.
type Session struct {
	session neo4jv5.SessionWithContext
}

var (
	_ store.Session          = (*Session)(nil)
	_ store.Adapter          = (*Session)(nil)
	_ store.SimilarityFinder = (*Session)(nil)
)

func (s *Session) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}

func (s *Session) write(ctx context.Context, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	out, err := s.session.ExecuteWrite(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.([]*neo4jv5.Record), nil
}

func (s *Session) read(ctx context.Context, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	out, err := s.session.ExecuteRead(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		return collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, classify(err)
	}
	return out.([]*neo4jv5.Record), nil
}

func collect(ctx context.Context, tx neo4jv5.ManagedTransaction, cypher string, params map[string]any) ([]*neo4jv5.Record, error) {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res.Collect(ctx)
}

func (s *Session) EnsureSchema(ctx context.Context, category common.Category) error {
	if _, err := label(category.Name); err != nil {
		return err
	}

	records, err := s.write(ctx, ensureCategoryQuery, map[string]any{
		"name": category.Name,
		"kind": string(category.Kind),
	})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("register category %q: no result", category.Name)
	}
	kind := stringValue(records[0], "kind")
	if kind != string(category.Kind) {
		return common.SchemaConflict(fmt.Errorf("category %q is registered as a %s category", category.Name, kind))
	}
	return nil
}

func (s *Session) FindNode(ctx context.Context, id string) (*common.StoredNode, error) {
	records, err := s.read(ctx, findNodeQuery, map[string]any{"id": id})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	n := nodeFromRecord(records[0])
	return &n, nil
}

func (s *Session) FindEdge(ctx context.Context, key common.EdgeKey) (*common.StoredEdge, error) {
	q, err := findEdgeQuery(key.Category)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, q, map[string]any{"source": key.Source, "target": key.Target})
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return &common.StoredEdge{
		Handle:     common.Handle(stringValue(records[0], "handle")),
		Key:        key,
		Properties: propsValue(records[0], "props"),
	}, nil
}

func (s *Session) CreateNode(ctx context.Context, category string, props common.Properties) (common.Handle, error) {
	q, err := createNodeQuery(category)
	if err != nil {
		return "", err
	}
	records, err := s.write(ctx, q, map[string]any{"props": map[string]any(props)})
	if err != nil {
		return "", err
	}
	return firstHandle(records)
}

func (s *Session) UpdateNode(ctx context.Context, h common.Handle, props common.Properties) error {
	params := map[string]any{"handle": string(h), "props": map[string]any(props)}
	records, err := s.write(ctx, updateNodeQuery, params)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("node %s: %w", h, common.ErrNotFound)
	}
	return nil
}

func (s *Session) CreateEdge(ctx context.Context, source, target common.Handle, category string, props common.Properties) (common.Handle, error) {
	existsQ, err := existingEdgeQuery(category)
	if err != nil {
		return "", err
	}
	createQ, err := createEdgeQuery(category)
	if err != nil {
		return "", err
	}

	params := map[string]any{"source": string(source), "target": string(target), "props": map[string]any(props)}
	out, err := s.session.ExecuteWrite(ctx, func(tx neo4jv5.ManagedTransaction) (any, error) {
		existing, err := collect(ctx, tx, existsQ, params)
		if err != nil {
			return nil, err
		}
		if len(existing) > 0 {
			return nil, common.ErrAlreadyExists
		}
		return collect(ctx, tx, createQ, params)
	})
	if err != nil {
		return "", classify(err)
	}
	records := out.([]*neo4jv5.Record)
	if len(records) == 0 {
		return "", fmt.Errorf("%w: endpoint handle %s or %s not found", common.ErrMissingEndpoint, source, target)
	}
	return firstHandle(records)
}

func (s *Session) UpdateEdge(ctx context.Context, h common.Handle, props common.Properties) error {
	records, err := s.write(ctx, updateEdgeQuery, map[string]any{"handle": string(h), "props": map[string]any(props)})
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("edge %s: %w", h, common.ErrNotFound)
	}
	return nil
}

// UpsertNode merges the node by id in one statement. The category label is
// only set on creation; an existing node keeps its category.
func (s *Session) UpsertNode(ctx context.Context, rec common.NodeRecord, match *common.StoredNode) common.Outcome {
	q, err := mergeNodeQuery(rec.Category)
	if err != nil {
		return common.Failed(err)
	}
	id := rec.ID
	if match != nil {
		id = match.ID
	}
	props := rec.Properties()
	props["id"] = id
	params := map[string]any{"id": id, "props": map[string]any(props)}

	records, err := s.write(ctx, q, params)
	if err != nil && isConstraintViolation(err) {
		// a concurrent batch created the node between MATCH and MERGE
		records, err = s.write(ctx, q, params)
	}
	if err != nil {
		return common.Failed(err)
	}
	return upsertOutcome(records)
}

// UpsertEdge merges the relationship between the two endpoint nodes. When
// an endpoint is missing nothing is written.
func (s *Session) UpsertEdge(ctx context.Context, rec common.EdgeRecord) common.Outcome {
	q, err := mergeEdgeQuery(rec.Category)
	if err != nil {
		return common.Failed(err)
	}
	records, err := s.write(ctx, q, map[string]any{
		"source": rec.Source,
		"target": rec.Target,
		"props":  map[string]any(rec.Properties()),
	})
	if err != nil {
		return common.Failed(err)
	}
	if len(records) == 0 {
		return common.Failed(s.missingEndpoint(ctx, rec))
	}
	return upsertOutcome(records)
}

func (s *Session) missingEndpoint(ctx context.Context, rec common.EdgeRecord) error {
	src, err := s.FindNode(ctx, rec.Source)
	if err != nil {
		return err
	}
	if src == nil {
		return common.MissingEndpoint("source", rec.Source)
	}
	return common.MissingEndpoint("target", rec.Target)
}

func (s *Session) Search(ctx context.Context, substring string, limit int) ([]common.StoredNode, error) {
	records, err := s.read(ctx, searchQuery(limit), map[string]any{"q": substring})
	if err != nil {
		return nil, err
	}
	return nodesFromRecords(records), nil
}

func (s *Session) FindBySimilarity(ctx context.Context, category, normalizedName string, threshold float64) (*common.StoredNode, error) {
	q, err := labelledNodesQuery(category)
	if err != nil {
		return nil, err
	}
	records, err := s.read(ctx, q, nil)
	if err != nil {
		return nil, err
	}
	return store.BestSimilar(nodesFromRecords(records), normalizedName, threshold), nil
}

func (s *Session) CountNodes(ctx context.Context) (int64, error) {
	return s.count(ctx, countNodesQuery)
}

func (s *Session) CountEdges(ctx context.Context) (int64, error) {
	return s.count(ctx, countEdgesQuery)
}

func (s *Session) count(ctx context.Context, q string) (int64, error) {
	records, err := s.read(ctx, q, nil)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}
	v, _ := records[0].Get("count")
	n, _ := v.(int64)
	return n, nil
}
