package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pnptcn/nuner/pkg/graph"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "nuner.yaml")
	cfg := "backend: badger\nbadger:\n  dir: " + filepath.Join(dir, "badger") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMergeThenStats(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	batch := filepath.Join(dir, "batch-1.json")
	require.NoError(t, os.WriteFile(batch, []byte(`{
		"nodes": [{"id": "a", "label": "Alpha"}, {"id": "b", "label": "Beta"}],
		"edges": [{"source": "a", "target": "b"}]
	}`), 0o600))

	out, err := run(t, "", "merge", "--config", cfg, batch)
	require.NoError(t, err)
	var report graph.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "batch-1", report.BatchID)
	assert.Equal(t, graph.StatusSuccess, report.Status)

	out, err = run(t, "", "stats", "--config", cfg)
	require.NoError(t, err)
	var stats graph.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 2, stats.Nodes)
	assert.EqualValues(t, 1, stats.Edges)

	out, err = run(t, "", "search", "--config", cfg, "alp")
	require.NoError(t, err)
	assert.Contains(t, out, `"a"`)
}

func TestMerge_Stdin(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	out, err := run(t, `{"nodes": [{"id": "x"}], "edges": []}`, "merge", "--config", cfg, "--batch-id", "piped", "-")
	require.NoError(t, err)
	assert.Contains(t, out, `"batch_id": "piped"`)
}

func TestMerge_MalformedFails(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"nodes": [{"id": "a"}`), 0o600))

	out, err := run(t, "", "merge", "--config", cfg, bad)
	assert.Error(t, err)
	assert.Contains(t, out, `"status": "rejected"`)

	out, err = run(t, "", "merge", "--config", cfg, "--repair", bad)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "success"`)
}

func TestMerge_BatchIDNeedsSingleFile(t *testing.T) {
	_, err := run(t, "", "merge", "--batch-id", "x", "a.json", "b.json")
	assert.Error(t, err)
}

func TestMigrate_RequiresPostgres(t *testing.T) {
	cfg := writeConfig(t, t.TempDir())
	_, err := run(t, "", "migrate", "--config", cfg)
	assert.ErrorContains(t, err, "postgres")
}

func TestReplay_RequiresBucket(t *testing.T) {
	t.Setenv("AWS_BUCKET", "")
	cfg := writeConfig(t, t.TempDir())
	_, err := run(t, "", "replay", "--config", cfg)
	assert.ErrorContains(t, err, "AWS_BUCKET")
}

func TestSchema(t *testing.T) {
	out, err := run(t, "", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, `"edges"`)
}
