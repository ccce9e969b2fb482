package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/store"
)

func openSession(t *testing.T) (*Backend, store.Session) {
	t.Helper()
	b, err := New(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	s, err := b.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return b, s
}

func TestNodeLifecycle(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	missing, err := s.FindNode(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, missing)

	h, err := s.CreateNode(ctx, "Person", common.Properties{"id": "alice", "label": "Alice", "age": int64(40)})
	require.NoError(t, err)
	assert.Equal(t, common.Handle("alice"), h)

	_, err = s.CreateNode(ctx, "Person", common.Properties{"id": "alice"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	require.NoError(t, s.UpdateNode(ctx, h, common.Properties{"age": int64(41), "city": "Oldenburg"}))

	got, err := s.FindNode(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Person", got.Category)
	assert.Equal(t, int64(41), got.Properties["age"])
	assert.Equal(t, "Oldenburg", got.Properties["city"])
	assert.Equal(t, "Alice", got.Label())
}

func TestUpdateMissingNode(t *testing.T) {
	_, s := openSession(t)
	err := s.UpdateNode(context.Background(), "ghost", common.Properties{"a": "b"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestEdgeLifecycle(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	a, err := s.CreateNode(ctx, "Person", common.Properties{"id": "a/1"})
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, "Person", common.Properties{"id": "b"})
	require.NoError(t, err)

	key := common.EdgeKey{Source: "a/1", Target: "b", Category: "Knows"}
	h, err := s.CreateEdge(ctx, a, b, "Knows", common.Properties{"id": "a/1-b", "since": int64(2020)})
	require.NoError(t, err)

	_, err = s.CreateEdge(ctx, a, b, "Knows", common.Properties{"id": "a/1-b"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	// a different category between the same nodes is a different edge
	_, err = s.CreateEdge(ctx, a, b, "WorksWith", common.Properties{"id": "a/1-b"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateEdge(ctx, h, common.Properties{"weight": 0.5}))
	got, err := s.FindEdge(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, int64(2020), got.Properties["since"])
	assert.Equal(t, 0.5, got.Properties["weight"])

	n, err := s.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestCreateEdgeMissingEndpoint(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	a, err := s.CreateNode(ctx, "Person", common.Properties{"id": "a"})
	require.NoError(t, err)

	_, err = s.CreateEdge(ctx, a, "nobody", "Knows", common.Properties{"id": "a-nobody"})
	assert.ErrorIs(t, err, common.ErrMissingEndpoint)

	n, err := s.CountEdges(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureSchema(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	require.NoError(t, s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "Person"}))
	require.NoError(t, s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "Person"}))

	err := s.EnsureSchema(ctx, common.Category{Kind: common.EdgeCategory, Name: "Person"})
	assert.ErrorIs(t, err, common.ErrSchemaConflict)

	err = s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "bad name"})
	assert.ErrorIs(t, err, common.ErrSchemaConflict)
}

func TestFindBySimilarity(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	_, err := s.CreateNode(ctx, "Person", common.Properties{"id": "john-smith", "label": "John Smith"})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "Organization", common.Properties{"id": "jon-smith-inc", "label": "Jon Smith Inc."})
	require.NoError(t, err)

	finder, ok := s.(store.SimilarityFinder)
	require.True(t, ok)

	got, err := finder.FindBySimilarity(ctx, "Person", "jon smith", 0.8)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "john-smith", got.ID)

	got, err = finder.FindBySimilarity(ctx, "Person", "jane doe", 0.8)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSearchAndCount(t *testing.T) {
	ctx := context.Background()
	_, s := openSession(t)

	for _, p := range []common.Properties{
		{"id": "c", "label": "Carol"},
		{"id": "a", "label": "Alice"},
		{"id": "b", "label": "Bob"},
	} {
		_, err := s.CreateNode(ctx, "Person", p)
		require.NoError(t, err)
	}

	nodes, err := s.Search(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{nodes[0].ID, nodes[1].ID, nodes[2].ID})

	nodes, err = s.Search(ctx, "ALI", 0)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "a", nodes[0].ID)

	nodes, err = s.Search(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	n, err := s.CountNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestClosedBackendIsUnavailable(t *testing.T) {
	ctx := context.Background()
	b, err := New(Options{InMemory: true})
	require.NoError(t, err)
	require.NoError(t, b.Close(ctx))

	_, err = b.Open(ctx)
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)
}
