package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nuner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("FUZZY_MATCH", "true")
	t.Setenv("FUZZY_THRESHOLD", "0.9")
	t.Setenv("NEO4J_TIMEOUT_SECONDS", "3")

	cfg := FromEnv()
	assert.Equal(t, "redis", cfg.Backend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.True(t, cfg.FuzzyMatch)
	assert.Equal(t, 0.9, cfg.Threshold())
	assert.Equal(t, 3*time.Second, cfg.Neo4j.Timeout)
	assert.Equal(t, "merge_queue", cfg.Queue.Name)
	require.NoError(t, cfg.Validate())
}

func TestThresholdDefault(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 0.8, cfg.Threshold())
}

func TestLoad_YAMLOverlaysEnv(t *testing.T) {
	t.Setenv("GRAPH_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("NUNER_TEST_NEO4J_PASSWORD", "s3cret")

	path := writeFile(t, `
backend: neo4j
fuzzy_match: true
neo4j:
  uri: bolt://localhost:7687
  password: ${NUNER_TEST_NEO4J_PASSWORD}
  timeout: 2s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "neo4j", cfg.Backend)
	assert.Equal(t, "s3cret", cfg.Neo4j.Password)
	assert.Equal(t, 2*time.Second, cfg.Neo4j.Timeout)
	assert.Equal(t, "8080", cfg.Server.Port, "unset keys keep their env defaults")
}

func TestLoad_Validation(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_ADDR", "")

	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown backend", yaml: "backend: mongo\n"},
		{name: "threshold above one", yaml: "backend: badger\nfuzzy_threshold: 1.5\n"},
		{name: "postgres without url", yaml: "backend: postgres\n"},
		{name: "redis without addr", yaml: "backend: redis\n"},
		{name: "bad log format", yaml: "backend: badger\nlog_format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestQueueURL(t *testing.T) {
	q := Queue{User: "guest", Password: "guest", Host: "mq", Port: "5672"}
	assert.Equal(t, "amqp://guest:guest@mq:5672/", q.URL())
}

func TestQueueEnabled(t *testing.T) {
	assert.False(t, Queue{Name: "merge_queue"}.Enabled())
	assert.True(t, Queue{Host: "mq", Name: "merge_queue"}.Enabled())
}
