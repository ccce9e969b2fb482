// Package badger stores the graph in an embedded BadgerDB.
//
// Key layout (single-byte prefixes):
//
//	0x01 nodeID                  -> JSON(nodeDoc)
//	0x02 edgeHandle              -> JSON(edgeDoc)
//	0x03 category 0x00 nodeID    -> empty (category index)
//	0x04 category                -> kind ("node" or "edge")
//
// Every upsert is a read-modify-write inside one badger transaction, retried
// when badger reports a write conflict with a concurrent transaction.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/pnptcn/nuner/internal/util"
	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/logger"
	"github.com/pnptcn/nuner/pkg/store"
)

const (
	prefixNode     = byte(0x01)
	prefixEdge     = byte(0x02)
	prefixCategory = byte(0x03)
	prefixSchema   = byte(0x04)

	conflictRetries = 5
)

// Options configures the Badger backend.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
}

// Backend is an embedded Badger graph store.
type Backend struct {
	db     *badger.DB
	closed atomic.Bool
}

// New opens (or creates) the database described by opts.
func New(opts Options) (*Backend, error) {
	badgerOpts := badger.DefaultOptions(opts.Dir).WithLogger(nil)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Name() string { return "badger" }

// Open returns a session. Badger handles concurrency itself, so sessions only
// guard against use after close.
func (b *Backend) Open(ctx context.Context) (store.Session, error) {
	if b.closed.Load() {
		return nil, common.Unavailable(badger.ErrDBClosed)
	}
	return &session{db: b.db}, nil
}

func (b *Backend) Close(ctx context.Context) error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.db.Close()
}

type nodeDoc struct {
	ID         string            `json:"id"`
	Category   string            `json:"category"`
	Properties common.Properties `json:"properties"`
}

type edgeDoc struct {
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Category   string            `json:"category"`
	Properties common.Properties `json:"properties"`
}

type session struct {
	db     *badger.DB
	closed bool
}

func (s *session) Close(ctx context.Context) error {
	s.closed = true
	return nil
}

func (s *session) view(fn func(txn *badger.Txn) error) error {
	if s.closed {
		return fmt.Errorf("badger: session closed")
	}
	return classify(s.db.View(fn))
}

func (s *session) update(fn func(txn *badger.Txn) error) error {
	if s.closed {
		return fmt.Errorf("badger: session closed")
	}
	err := util.RetryIf(conflictRetries, func(err error) bool {
		return errors.Is(err, badger.ErrConflict)
	}, func() error {
		return s.db.Update(fn)
	})
	return classify(err)
}

// classify maps badger errors onto the engine's error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed), errors.Is(err, badger.ErrBlockedWrites):
		return common.Unavailable(err)
	default:
		return err
	}
}

func (s *session) EnsureSchema(ctx context.Context, c common.Category) error {
	if !common.ValidCategory(c.Name) {
		return common.SchemaConflict(fmt.Errorf("invalid category name %q", c.Name))
	}
	return s.update(func(txn *badger.Txn) error {
		key := schemaKey(c.Name)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(key, []byte(c.Kind))
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if kind := common.CategoryKind(val); kind != c.Kind {
				return common.SchemaConflict(fmt.Errorf("%q is already registered as %s category", c.Name, kind))
			}
			return nil
		})
	})
}

func (s *session) FindNode(ctx context.Context, id string) (*common.StoredNode, error) {
	var found *common.StoredNode
	err := s.view(func(txn *badger.Txn) error {
		doc, err := getNode(txn, id)
		if err != nil || doc == nil {
			return err
		}
		found = doc.stored()
		return nil
	})
	return found, err
}

func (s *session) FindEdge(ctx context.Context, key common.EdgeKey) (*common.StoredEdge, error) {
	var found *common.StoredEdge
	h := edgeHandle(key)
	err := s.view(func(txn *badger.Txn) error {
		doc, err := getEdge(txn, h)
		if err != nil || doc == nil {
			return err
		}
		found = doc.stored(h)
		return nil
	})
	return found, err
}

func (s *session) CreateNode(ctx context.Context, category string, props common.Properties) (common.Handle, error) {
	id := props.String("id")
	if id == "" {
		return "", fmt.Errorf("%w: node without id", common.ErrInvalidRecord)
	}

	err := s.update(func(txn *badger.Txn) error {
		existing, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if existing != nil {
			return common.ErrAlreadyExists
		}
		if err := putJSON(txn, nodeKey(id), nodeDoc{ID: id, Category: category, Properties: props}); err != nil {
			return err
		}
		return txn.Set(categoryKey(category, id), []byte{})
	})
	if err != nil {
		return "", err
	}
	return common.Handle(id), nil
}

func (s *session) UpdateNode(ctx context.Context, h common.Handle, props common.Properties) error {
	id := string(h)
	return s.update(func(txn *badger.Txn) error {
		doc, err := getNode(txn, id)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("node %q: %w", id, common.ErrNotFound)
		}
		doc.Properties = doc.Properties.Merge(props)
		// the stored id is the identity and is never overwritten
		doc.Properties["id"] = doc.ID
		return putJSON(txn, nodeKey(id), doc)
	})
}

func (s *session) CreateEdge(ctx context.Context, source, target common.Handle, category string, props common.Properties) (common.Handle, error) {
	key := common.EdgeKey{Source: string(source), Target: string(target), Category: category}
	h := edgeHandle(key)

	err := s.update(func(txn *badger.Txn) error {
		for _, end := range []struct{ role, id string }{{"source", key.Source}, {"target", key.Target}} {
			doc, err := getNode(txn, end.id)
			if err != nil {
				return err
			}
			if doc == nil {
				return common.MissingEndpoint(end.role, end.id)
			}
		}

		existing, err := getEdge(txn, h)
		if err != nil {
			return err
		}
		if existing != nil {
			return common.ErrAlreadyExists
		}
		return putJSON(txn, edgeKey(h), edgeDoc{
			Source:     key.Source,
			Target:     key.Target,
			Category:   key.Category,
			Properties: props,
		})
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

func (s *session) UpdateEdge(ctx context.Context, h common.Handle, props common.Properties) error {
	return s.update(func(txn *badger.Txn) error {
		doc, err := getEdge(txn, h)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("edge %q: %w", h, common.ErrNotFound)
		}
		doc.Properties = doc.Properties.Merge(props)
		return putJSON(txn, edgeKey(h), doc)
	})
}

func (s *session) Search(ctx context.Context, substring string, limit int) ([]common.StoredNode, error) {
	var out []common.StoredNode
	err := s.view(func(txn *badger.Txn) error {
		return scanNodes(txn, []byte{prefixNode}, func(doc *nodeDoc) bool {
			n := doc.stored()
			if store.MatchesSearch(*n, substring) {
				out = append(out, *n)
			}
			return limit <= 0 || len(out) < limit
		})
	})
	return out, err
}

// FindBySimilarity scans the category index, which badger iterates in id
// order, and returns the best fuzzy match.
func (s *session) FindBySimilarity(ctx context.Context, category, normalizedName string, threshold float64) (*common.StoredNode, error) {
	var candidates []common.StoredNode
	err := s.view(func(txn *badger.Txn) error {
		prefix := categoryPrefix(category)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id := string(bytes.TrimPrefix(it.Item().Key(), prefix))
			doc, err := getNode(txn, id)
			if err != nil {
				return err
			}
			if doc != nil {
				candidates = append(candidates, *doc.stored())
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store.BestSimilar(candidates, normalizedName, threshold), nil
}

func (s *session) CountNodes(ctx context.Context) (int64, error) {
	return s.count([]byte{prefixNode})
}

func (s *session) CountEdges(ctx context.Context) (int64, error) {
	return s.count([]byte{prefixEdge})
}

func (s *session) count(prefix []byte) (int64, error) {
	var count int64
	err := s.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		logger.Error("[Badger] count failed", "err", err)
	}
	return count, err
}

func (d *nodeDoc) stored() *common.StoredNode {
	return &common.StoredNode{
		Handle:     common.Handle(d.ID),
		ID:         d.ID,
		Category:   d.Category,
		Properties: d.Properties,
	}
}

func (d *edgeDoc) stored(h common.Handle) *common.StoredEdge {
	return &common.StoredEdge{
		Handle:     h,
		Key:        common.EdgeKey{Source: d.Source, Target: d.Target, Category: d.Category},
		Properties: d.Properties,
	}
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func nodeKey(id string) []byte {
	return append([]byte{prefixNode}, id...)
}

func edgeKey(h common.Handle) []byte {
	return append([]byte{prefixEdge}, h...)
}

func categoryPrefix(category string) []byte {
	key := make([]byte, 0, len(category)+2)
	key = append(key, prefixCategory)
	key = append(key, category...)
	return append(key, 0x00)
}

func categoryKey(category, id string) []byte {
	return append(categoryPrefix(category), id...)
}

func schemaKey(name string) []byte {
	return append([]byte{prefixSchema}, name...)
}

// edgeHandle encodes an edge identity as source/target/category with both
// ids path-escaped so the separator cannot occur inside them.
func edgeHandle(k common.EdgeKey) common.Handle {
	return common.Handle(strings.Join([]string{
		url.PathEscape(k.Source),
		url.PathEscape(k.Target),
		k.Category,
	}, "/"))
}

// ============================================================================
// Serialization
// ============================================================================

func getNode(txn *badger.Txn, id string) (*nodeDoc, error) {
	var doc nodeDoc
	ok, err := getJSON(txn, nodeKey(id), &doc)
	if err != nil || !ok {
		return nil, err
	}
	doc.Properties = doc.Properties.NormalizeNumbers()
	return &doc, nil
}

func getEdge(txn *badger.Txn, h common.Handle) (*edgeDoc, error) {
	var doc edgeDoc
	ok, err := getJSON(txn, edgeKey(h), &doc)
	if err != nil || !ok {
		return nil, err
	}
	doc.Properties = doc.Properties.NormalizeNumbers()
	return &doc, nil
}

func getJSON(txn *badger.Txn, key []byte, out any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		dec := json.NewDecoder(bytes.NewReader(val))
		dec.UseNumber()
		return dec.Decode(out)
	})
	return err == nil, err
}

func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %x: %w", key[0], err)
	}
	return txn.Set(key, data)
}

func scanNodes(txn *badger.Txn, prefix []byte, fn func(*nodeDoc) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var doc nodeDoc
		err := it.Item().Value(func(val []byte) error {
			dec := json.NewDecoder(bytes.NewReader(val))
			dec.UseNumber()
			return dec.Decode(&doc)
		})
		if err != nil {
			return err
		}
		doc.Properties = doc.Properties.NormalizeNumbers()
		if !fn(&doc) {
			return nil
		}
	}
	return nil
}
