package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnptcn/nuner/internal/queue"
	mid "github.com/pnptcn/nuner/internal/server/middleware"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/store/badger"
)

var signingKey = []byte("test-signing-key")

type recordingPublisher struct {
	bodies [][]byte
}

func (p *recordingPublisher) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	p.bodies = append(p.bodies, msg.Body)
	return nil
}

func newApp(t *testing.T) (*mid.App, *badger.Backend) {
	t.Helper()
	b, err := badger.New(badger.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close(context.Background()) })

	client, err := graph.NewGraphClient(graph.NewGraphClientParams{Backend: b})
	require.NoError(t, err)
	return &mid.App{Graph: client, QueueName: "merge_queue"}, b
}

func do(e http.Handler, method, target, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return signed
}

const payload = `{
	"nodes": [
		{"id": "alice", "type": "Person", "label": "Alice"},
		{"id": "acme", "type": "Organization", "label": "Acme"}
	],
	"edges": [
		{"source": "alice", "target": "acme", "label": "WorksAt"},
		{"source": "alice", "target": "nobody"}
	]
}`

func TestHealth(t *testing.T) {
	app, _ := newApp(t)
	rec := do(New(app), http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMerge(t *testing.T) {
	app, _ := newApp(t)
	e := New(app)

	rec := do(e, http.MethodPost, "/api/merge?batch_id=b1", payload, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var report graph.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "b1", report.BatchID)
	assert.Equal(t, graph.StatusPartial, report.Status)
	assert.Equal(t, graph.Counts{Created: 2}, report.Nodes)
	assert.Equal(t, graph.Counts{Created: 1, Failed: 1}, report.Edges)

	rec = do(e, http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats graph.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 2, stats.Nodes)
	assert.EqualValues(t, 1, stats.Edges)

	rec = do(e, http.MethodGet, "/api/search?q=ali", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alice"`)
	assert.NotContains(t, rec.Body.String(), `"acme"`)
}

func TestMerge_Malformed(t *testing.T) {
	app, _ := newApp(t)
	rec := do(New(app), http.MethodPost, "/api/merge", `{"nodes": [`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"rejected"`)
}

func TestMerge_BackendUnavailable(t *testing.T) {
	app, b := newApp(t)
	require.NoError(t, b.Close(context.Background()))

	rec := do(New(app), http.MethodPost, "/api/merge", payload, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"failed"`)
}

func TestSearch_InvalidLimit(t *testing.T) {
	app, _ := newApp(t)
	rec := do(New(app), http.MethodGet, "/api/search?limit=5000", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchema(t *testing.T) {
	app, _ := newApp(t)
	rec := do(New(app), http.MethodGet, "/api/schema", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"nodes"`)
}

func TestIngress(t *testing.T) {
	app, _ := newApp(t)
	e := New(app)

	rec := do(e, http.MethodPost, "/api/ingress", payload, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "no queue configured")

	pub := &recordingPublisher{}
	app.Queue = pub
	rec = do(e, http.MethodPost, "/api/ingress", payload, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		BatchID string `json:"batch_id"`
		Queue   string `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.BatchID)
	assert.Equal(t, "merge_queue", resp.Queue)

	require.Len(t, pub.bodies, 1)
	var msg queue.MergeMsg
	require.NoError(t, json.Unmarshal(pub.bodies[0], &msg))
	assert.Equal(t, resp.BatchID, msg.BatchID)
	assert.JSONEq(t, payload, string(msg.Payload))

	rec = do(e, http.MethodPost, "/api/ingress", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuth(t *testing.T) {
	app, _ := newApp(t)
	app.MasterAPIKey = "master-key"
	app.Keyfunc = func(tok *jwt.Token) (any, error) { return signingKey, nil }
	e := New(app)

	exp := time.Now().Add(time.Hour).Unix()
	reader := token(t, jwt.MapClaims{"sub": "u1", "permissions": []string{mid.PermRead}, "exp": exp})
	merger := token(t, jwt.MapClaims{"sub": "u4", "permissions": []string{mid.PermMerge}, "exp": exp})
	nobody := token(t, jwt.MapClaims{"sub": "u5", "exp": exp})
	admin := token(t, jwt.MapClaims{"sub": "u2", "role": "admin", "exp": exp})
	expired := token(t, jwt.MapClaims{"sub": "u3", "role": "admin", "exp": time.Now().Add(-time.Hour).Unix()})
	noSubject := token(t, jwt.MapClaims{"role": "admin", "exp": exp})

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"no token", http.MethodGet, "/api/stats", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/stats", "nope", http.StatusUnauthorized},
		{"expired token", http.MethodGet, "/api/stats", expired, http.StatusUnauthorized},
		{"missing subject", http.MethodGet, "/api/stats", noSubject, http.StatusUnauthorized},
		{"reader can read", http.MethodGet, "/api/stats", reader, http.StatusOK},
		{"reader cannot merge", http.MethodPost, "/api/merge", reader, http.StatusForbidden},
		{"admin can merge", http.MethodPost, "/api/merge", admin, http.StatusOK},
		{"master key", http.MethodPost, "/api/merge", "master-key", http.StatusOK},
		{"reader sees schema", http.MethodGet, "/api/schema", reader, http.StatusOK},
		{"merger sees schema", http.MethodGet, "/api/schema", merger, http.StatusOK},
		{"no permissions, no schema", http.MethodGet, "/api/schema", nobody, http.StatusForbidden},
		{"merger cannot read", http.MethodGet, "/api/stats", merger, http.StatusForbidden},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.target, payload, tt.token)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}
