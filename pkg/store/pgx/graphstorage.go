package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// Backend stores the graph in PostgreSQL tables (see migrations/). Each
// session holds one pooled connection for the duration of a batch.
type Backend struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool. The schema must have been migrated (see Migrate).
func New(pool *pgxpool.Pool) *Backend {
	return &Backend{pool: pool}
}

// Connect creates a pool for databaseURL and verifies connectivity.
func Connect(ctx context.Context, databaseURL string, maxConns int32) (*Backend, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, common.Unavailable(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.Unavailable(err)
	}
	return New(pool), nil
}

func (b *Backend) Name() string { return "postgres" }

func (b *Backend) Open(ctx context.Context) (store.Session, error) {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &GraphDBStorage{conn: conn, release: conn.Release}, nil
}

func (b *Backend) Close(ctx context.Context) error {
	b.pool.Close()
	return nil
}

// GraphDBStorage is a Postgres session. Every operation is a single
// statement, so each node or edge merge commits on its own.
type GraphDBStorage struct {
	conn    pgxIConn
	release func()
}

// NewGraphDBStorageWithConnection creates a session over an existing
// connection. The caller keeps ownership of conn.
func NewGraphDBStorageWithConnection(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

func (s *GraphDBStorage) Close(ctx context.Context) error {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	return nil
}

func (s *GraphDBStorage) EnsureSchema(ctx context.Context, c common.Category) error {
	if !common.ValidCategory(c.Name) {
		return common.SchemaConflict(fmt.Errorf("invalid category name %q", c.Name))
	}
	var kind string
	if err := s.conn.QueryRow(ctx, ensureCategorySQL, c.Name, string(c.Kind)).Scan(&kind); err != nil {
		return classify(err)
	}
	if common.CategoryKind(kind) != c.Kind {
		return common.SchemaConflict(fmt.Errorf("%q is already registered as %s category", c.Name, kind))
	}
	return nil
}

func (s *GraphDBStorage) FindNode(ctx context.Context, id string) (*common.StoredNode, error) {
	n, err := scanNode(s.conn.QueryRow(ctx, findNodeSQL, id))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return n, nil
}

func (s *GraphDBStorage) FindEdge(ctx context.Context, key common.EdgeKey) (*common.StoredEdge, error) {
	var (
		id    int64
		e     common.StoredEdge
		props []byte
	)
	err := s.conn.QueryRow(ctx, findEdgeSQL, key.Source, key.Target, key.Category).
		Scan(&id, &e.Key.Source, &e.Key.Target, &e.Key.Category, &props)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	e.Handle = edgeHandle(id)
	if e.Properties, err = common.DecodeProperties(props); err != nil {
		return nil, fmt.Errorf("decode edge %d properties: %w", id, err)
	}
	return &e, nil
}

func (s *GraphDBStorage) CreateNode(ctx context.Context, category string, props common.Properties) (common.Handle, error) {
	id := props.String("id")
	if id == "" {
		return "", fmt.Errorf("%w: node without id", common.ErrInvalidRecord)
	}
	data, err := encodeProperties(props)
	if err != nil {
		return "", fmt.Errorf("encode node %q: %w", id, err)
	}

	var created string
	err = s.conn.QueryRow(ctx, createNodeSQL, id, category, data).Scan(&created)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", common.ErrAlreadyExists
	}
	if err != nil {
		return "", classify(err)
	}
	return common.Handle(created), nil
}

func (s *GraphDBStorage) UpdateNode(ctx context.Context, h common.Handle, props common.Properties) error {
	data, err := encodeProperties(props)
	if err != nil {
		return fmt.Errorf("encode node %q: %w", h, err)
	}
	tag, err := s.conn.Exec(ctx, updateNodeSQL, string(h), data)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("node %q: %w", h, common.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) CreateEdge(ctx context.Context, source, target common.Handle, category string, props common.Properties) (common.Handle, error) {
	data, err := encodeProperties(props)
	if err != nil {
		return "", fmt.Errorf("encode edge: %w", err)
	}

	var id int64
	err = s.conn.QueryRow(ctx, createEdgeSQL, string(source), string(target), category, data).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return "", common.ErrAlreadyExists
	}
	if err != nil {
		return "", classifyEdge(err, string(source), string(target))
	}
	return edgeHandle(id), nil
}

func (s *GraphDBStorage) UpdateEdge(ctx context.Context, h common.Handle, props common.Properties) error {
	id, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil {
		return fmt.Errorf("edge handle %q: %w", h, common.ErrNotFound)
	}
	data, err := encodeProperties(props)
	if err != nil {
		return fmt.Errorf("encode edge %d: %w", id, err)
	}
	tag, err := s.conn.Exec(ctx, updateEdgeSQL, id, data)
	if err != nil {
		return classify(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("edge %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *GraphDBStorage) Search(ctx context.Context, substring string, limit int) ([]common.StoredNode, error) {
	return s.queryNodes(ctx, searchNodesSQL, substring, limitArg(limit))
}

func (s *GraphDBStorage) FindBySimilarity(ctx context.Context, category, normalizedName string, threshold float64) (*common.StoredNode, error) {
	candidates, err := s.queryNodes(ctx, labelledNodesSQL, category)
	if err != nil {
		return nil, err
	}
	return store.BestSimilar(candidates, normalizedName, threshold), nil
}

func (s *GraphDBStorage) CountNodes(ctx context.Context) (int64, error) {
	return s.count(ctx, countNodesSQL)
}

func (s *GraphDBStorage) CountEdges(ctx context.Context) (int64, error) {
	return s.count(ctx, countEdgesSQL)
}

func (s *GraphDBStorage) count(ctx context.Context, sql string) (int64, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *GraphDBStorage) queryNodes(ctx context.Context, sql string, args ...any) ([]common.StoredNode, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []common.StoredNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func scanNode(row pgxv5.Row) (*common.StoredNode, error) {
	var (
		n     common.StoredNode
		props []byte
	)
	if err := row.Scan(&n.ID, &n.Category, &props); err != nil {
		return nil, err
	}
	p, err := common.DecodeProperties(props)
	if err != nil {
		return nil, fmt.Errorf("decode node %q properties: %w", n.ID, err)
	}
	n.Handle = common.Handle(n.ID)
	n.Properties = p
	return &n, nil
}

func edgeHandle(id int64) common.Handle {
	return common.Handle(strconv.FormatInt(id, 10))
}

// limitArg maps a non-positive limit to SQL NULL, which LIMIT treats as
// no limit.
func limitArg(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// encodeProperties renders props as jsonb input. Postgres rejects NUL bytes
// and invalid UTF-8 in jsonb text, so keys and string values are cleaned.
func encodeProperties(props common.Properties) ([]byte, error) {
	clean := make(map[string]any, len(props))
	for k, v := range props {
		if s, ok := v.(string); ok {
			v = util.SanitizePostgresText(s)
		}
		clean[util.SanitizePostgresText(k)] = v
	}
	return json.Marshal(clean)
}
