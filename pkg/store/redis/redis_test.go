package redis

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnptcn/nuner/pkg/common"
	"github.com/pnptcn/nuner/pkg/graph"
)

func newBackend(t *testing.T, locks bool) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	b := New(rdb, Options{Prefix: "test", IdentityLocks: locks})
	t.Cleanup(func() { _ = b.Close(context.Background()) })
	return b, mr
}

func openSession(t *testing.T, b *Backend) *Session {
	t.Helper()
	s, err := b.Open(context.Background())
	require.NoError(t, err)
	return s.(*Session)
}

func nodeRecord(id, category, label string, data map[string]common.Value) common.NodeRecord {
	return common.NodeRecord{ID: id, Type: category, Category: category, Label: label, Status: "active", Data: data}
}

func TestUpsertNode_CreateThenUpdate(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	o := s.UpsertNode(ctx, nodeRecord("alice", "Person", "Alice", map[string]common.Value{
		"age":  common.Int(30),
		"tags": common.List(common.String("x"), common.String("y")),
	}), nil)
	require.Equal(t, common.OutcomeCreated, o.Kind, o.Reason)
	assert.Equal(t, common.Handle("alice"), o.Handle)

	n, err := s.FindNode(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "Person", n.Category)
	assert.Equal(t, int64(30), n.Properties["age"])
	assert.Equal(t, "Alice", n.Properties["label"])
	assert.Equal(t, `["x","y"]`, n.Properties["tags"])

	o = s.UpsertNode(ctx, nodeRecord("alice", "Person", "", map[string]common.Value{
		"age":  common.Int(31),
		"tags": common.List(common.String("y"), common.String("z")),
	}), nil)
	require.Equal(t, common.OutcomeUpdated, o.Kind, o.Reason)

	n, err = s.FindNode(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(31), n.Properties["age"])
	assert.Equal(t, "Alice", n.Properties["label"], "unspecified keys are kept")
	assert.Equal(t, `["x","y","z"]`, n.Properties["tags"], "list values are appended")
}

func TestUpsertNode_AppendAfterDuplicatesKeepsOrder(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	o := s.UpsertNode(ctx, nodeRecord("n", "Entity", "", map[string]common.Value{
		"tags": common.List(common.String("x"), common.String("x"), common.String("y")),
	}), nil)
	require.Equal(t, common.OutcomeCreated, o.Kind, o.Reason)

	o = s.UpsertNode(ctx, nodeRecord("n", "Entity", "", map[string]common.Value{
		"tags": common.List(common.String("a")),
	}), nil)
	require.Equal(t, common.OutcomeUpdated, o.Kind, o.Reason)

	n, err := s.FindNode(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, `["x","y","a"]`, n.Properties["tags"])
}

func TestUpsertNode_ScalarReplacesList(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("a", "Person", "", map[string]common.Value{"tags": common.List(common.String("x"))}), nil)
	s.UpsertNode(ctx, nodeRecord("a", "Person", "", map[string]common.Value{"tags": common.String("plain")}), nil)

	n, err := s.FindNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "plain", n.Properties["tags"])
}

func TestUpsertNode_CategoryFixedAtCreation(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("a", "Person", "", nil), nil)
	o := s.UpsertNode(ctx, nodeRecord("a", "Company", "", nil), nil)
	require.Equal(t, common.OutcomeUpdated, o.Kind)

	n, err := s.FindNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Person", n.Category)
	assert.Equal(t, "Company", n.Properties["type"])
}

func TestUpsertNode_FuzzyMatchKeepsStoredID(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("john-smith", "Person", "John Smith", nil), nil)
	match, err := s.FindNode(ctx, "john-smith")
	require.NoError(t, err)

	o := s.UpsertNode(ctx, nodeRecord("jon", "Person", "Jon Smith", nil), match)
	require.Equal(t, common.OutcomeUpdated, o.Kind)

	ghost, err := s.FindNode(ctx, "jon")
	require.NoError(t, err)
	assert.Nil(t, ghost)
	n, _ := s.CountNodes(ctx)
	assert.EqualValues(t, 1, n)
}

func TestUpsertEdge(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("a:1", "Person", "", nil), nil)
	s.UpsertNode(ctx, nodeRecord("b/2", "Company", "", nil), nil)

	rec := common.EdgeRecord{ID: "a:1-b/2", Source: "a:1", Target: "b/2", Label: "works_for", Category: "WorksFor",
		Data: map[string]common.Value{"since": common.Int(2019)}}
	o := s.UpsertEdge(ctx, rec)
	require.Equal(t, common.OutcomeCreated, o.Kind, o.Reason)

	o = s.UpsertEdge(ctx, rec)
	require.Equal(t, common.OutcomeUpdated, o.Kind, o.Reason)

	e, err := s.FindEdge(ctx, rec.Key())
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(2019), e.Properties["since"])
	assert.Equal(t, "a:1-b/2", e.Properties["id"])

	key, err := parseEdgeHandle(e.Handle)
	require.NoError(t, err)
	assert.Equal(t, rec.Key(), key)

	n, err := s.CountEdges(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestUpsertEdge_MissingEndpointWritesNothing(t *testing.T) {
	b, mr := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("a", "Person", "", nil), nil)
	before := mr.Keys()

	o := s.UpsertEdge(ctx, common.EdgeRecord{ID: "a-ghost", Source: "a", Target: "ghost", Category: "Knows"})
	require.Equal(t, common.OutcomeFailed, o.Kind)
	assert.ErrorIs(t, o.Err, common.ErrMissingEndpoint)
	assert.Contains(t, o.Reason, "target")

	o = s.UpsertEdge(ctx, common.EdgeRecord{ID: "ghost-a", Source: "ghost", Target: "a", Category: "Knows"})
	assert.ErrorIs(t, o.Err, common.ErrMissingEndpoint)
	assert.Contains(t, o.Reason, "source")

	assert.Equal(t, before, mr.Keys())
}

func TestIdentityLocks(t *testing.T) {
	b, mr := newBackend(t, true)
	s := openSession(t, b)
	ctx := context.Background()

	o := s.UpsertNode(ctx, nodeRecord("a", "Person", "", nil), nil)
	require.Equal(t, common.OutcomeCreated, o.Kind, o.Reason)
	assert.False(t, mr.Exists("test:lock:node:a"), "lease is released after the upsert")
}

func TestPrimitives(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	h, err := s.CreateNode(ctx, "Person", common.Properties{"id": "a", "n": int64(1)})
	require.NoError(t, err)
	_, err = s.CreateNode(ctx, "Person", common.Properties{"id": "a"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	require.NoError(t, s.UpdateNode(ctx, h, common.Properties{"id": "other", "m": true}))
	n, err := s.FindNode(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", n.Properties["id"])
	assert.Equal(t, true, n.Properties["m"])
	assert.Equal(t, int64(1), n.Properties["n"])

	assert.ErrorIs(t, s.UpdateNode(ctx, "ghost", common.Properties{}), common.ErrNotFound)

	_, err = s.CreateEdge(ctx, "a", "ghost", "Knows", common.Properties{})
	assert.ErrorIs(t, err, common.ErrMissingEndpoint)

	_, err = s.CreateNode(ctx, "Person", common.Properties{"id": "b"})
	require.NoError(t, err)
	eh, err := s.CreateEdge(ctx, "a", "b", "Knows", common.Properties{"id": "a-b"})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, "a", "b", "Knows", common.Properties{"id": "a-b"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)
	require.NoError(t, s.UpdateEdge(ctx, eh, common.Properties{"w": 0.5}))
	assert.ErrorIs(t, s.UpdateEdge(ctx, "garbage", common.Properties{}), common.ErrNotFound)
}

func TestEnsureSchema(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	require.NoError(t, s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "Person"}))
	require.NoError(t, s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "Person"}))
	assert.ErrorIs(t, s.EnsureSchema(ctx, common.Category{Kind: common.EdgeCategory, Name: "Person"}), common.ErrSchemaConflict)
	assert.ErrorIs(t, s.EnsureSchema(ctx, common.Category{Kind: common.NodeCategory, Name: "no good"}), common.ErrSchemaConflict)
}

func TestSearchAndSimilarity(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	ctx := context.Background()

	s.UpsertNode(ctx, nodeRecord("c", "Person", "John Smith", nil), nil)
	s.UpsertNode(ctx, nodeRecord("a", "Person", "Mary Major", nil), nil)
	s.UpsertNode(ctx, nodeRecord("b", "Company", "Smith Corp", nil), nil)

	found, err := s.Search(ctx, "SMITH", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "b", found[0].ID)
	assert.Equal(t, "c", found[1].ID)

	found, err = s.Search(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "a", found[0].ID)

	m, err := s.FindBySimilarity(ctx, "Person", "jon smith", 0.8)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "c", m.ID)

	m, err = s.FindBySimilarity(ctx, "Company", "jon smith", 0.8)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestMergeBatch_ThroughGraphClient(t *testing.T) {
	b, _ := newBackend(t, true)
	g, err := graph.NewGraphClient(graph.NewGraphClientParams{Backend: b, FuzzyMatch: true})
	require.NoError(t, err)
	ctx := context.Background()

	payload := []byte(`{
		"nodes":[
			{"id":"john","type":"person","label":"John Smith"},
			{"id":"acme","type":"company","label":"Acme"},
			{"id":"jon","type":"person","label":"Jon Smith"}
		],
		"edges":[
			{"source":"jon","target":"acme","label":"works for"},
			{"source":"acme","target":"nobody"}
		]
	}`)

	first, err := g.MergeBatch(ctx, "b1", payload)
	require.NoError(t, err)
	assert.Equal(t, graph.Counts{Created: 2, Updated: 1}, first.Nodes)
	assert.Equal(t, graph.Counts{Created: 1, Failed: 1}, first.Edges)
	assert.Equal(t, graph.StatePartiallyFailed, first.State)

	second, err := g.MergeBatch(ctx, "b2", payload)
	require.NoError(t, err)
	assert.Equal(t, graph.Counts{Updated: 3}, second.Nodes)
	assert.Equal(t, graph.Counts{Updated: 1, Failed: 1}, second.Edges)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Nodes)
	assert.EqualValues(t, 1, stats.Edges)
}

func TestBackendClosed_Unavailable(t *testing.T) {
	b, _ := newBackend(t, false)
	s := openSession(t, b)
	require.NoError(t, b.Close(context.Background()))

	_, err := s.CountNodes(context.Background())
	assert.ErrorIs(t, err, common.ErrBackendUnavailable)
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(goredis.ErrClosed), common.ErrBackendUnavailable)
	assert.ErrorIs(t, classify(&net.OpError{Op: "dial", Err: errors.New("refused")}), common.ErrBackendUnavailable)
	assert.ErrorIs(t, classify(errors.New("LOADING Redis is loading the dataset in memory")), common.ErrBackendUnavailable)
	assert.ErrorIs(t, classify(context.Canceled), context.Canceled)
	assert.NotErrorIs(t, classify(errors.New("WRONGTYPE Operation against a key")), common.ErrBackendUnavailable)
}
