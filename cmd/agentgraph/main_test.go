package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/graph/persistence"
)

const gatedFlow = `id: release
name: Release flow
nodes:
  - id: prepare
    type: action
    handler: set
    config:
      version: "1.2.0"
    next_nodes: [announce]
  - id: announce
    type: action
    handler: log
    config:
      message: preparing release
    next_nodes: [ship]
  - id: ship
    type: action
    handler: set
    requires_approval: true
    approval_prompt: Ship it?
    config:
      shipped: true
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeExecution(t *testing.T, out []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m
}

// =============================================================================
// run
// =============================================================================

func TestRunGraph_ApproveCompletes(t *testing.T) {
	path := writeFile(t, t.TempDir(), "release.yaml", gatedFlow)

	var out bytes.Buffer
	err := runGraph([]string{"--file", path, "--input", `{"team":"core"}`, "--approve"}, &out)
	require.NoError(t, err)

	exec := decodeExecution(t, out.Bytes())
	assert.Equal(t, "completed", exec["status"])
	state := exec["state"].(map[string]any)
	assert.Equal(t, "core", state["team"])
	assert.Equal(t, "1.2.0", state["version"])
	assert.Equal(t, true, state["shipped"])
}

func TestRunGraph_StopsAtGateWithoutApprove(t *testing.T) {
	path := writeFile(t, t.TempDir(), "release.yaml", gatedFlow)

	var out bytes.Buffer
	require.NoError(t, runGraph([]string{"--file", path}, &out))

	exec := decodeExecution(t, out.Bytes())
	assert.Equal(t, "waiting_input", exec["status"])
	assert.Len(t, exec["pending_approvals"], 1)
}

func TestRunGraph_StartNode(t *testing.T) {
	path := writeFile(t, t.TempDir(), "release.yaml", gatedFlow)

	var out bytes.Buffer
	require.NoError(t, runGraph([]string{"--file", path, "--start", "ship"}, &out))
	state := decodeExecution(t, out.Bytes())["state"].(map[string]any)
	assert.NotContains(t, state, "version")
}

func TestRunGraph_Errors(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "release.yaml", gatedFlow)

	tests := []struct {
		name string
		args []string
	}{
		{name: "missing file flag", args: nil},
		{name: "missing file", args: []string{"--file", filepath.Join(dir, "nope.yaml")}},
		{name: "bad input", args: []string{"--file", path, "--input", "[1,2"}},
		{name: "unknown flag", args: []string{"--bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, runGraph(tt.args, &bytes.Buffer{}))
		})
	}
}

// =============================================================================
// validate
// =============================================================================

func TestRunValidate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "release.yaml", gatedFlow)
	writeFile(t, dir, "tiny.json", `{"id":"tiny","nodes":[{"id":"a","type":"action"}]}`)
	writeFile(t, dir, "README.md", "ignored")

	var out bytes.Buffer
	require.NoError(t, runValidate([]string{dir}, &out))
	assert.Equal(t, "ok  release (3 nodes)\nok  tiny (1 nodes)\n", out.String())
}

func TestRunValidate_DanglingReference(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "release.yaml", gatedFlow)
	bad := writeFile(t, dir, "broken.yaml", `id: broken
nodes:
  - id: a
    type: action
    next_nodes: [missing]
`)

	var out bytes.Buffer
	err := runValidate([]string{good, bad}, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrInvalidGraph)
	assert.Contains(t, err.Error(), "graph broken")
	assert.Contains(t, out.String(), "ok  release")
}

func TestRunValidate_NoArgs(t *testing.T) {
	assert.Error(t, runValidate(nil, &bytes.Buffer{}))
}

// =============================================================================
// migrate
// =============================================================================

func TestRunMigrate_SQLite(t *testing.T) {
	dbURL := "file:" + filepath.Join(t.TempDir(), "migrate.db") + "?mode=rwc"
	flags := []string{"--db-type", "sqlite", "--db-url", dbURL}

	var out bytes.Buffer
	require.NoError(t, runMigrate(append([]string{"up"}, flags...), &out))
	assert.Contains(t, out.String(), "Migrations complete.")

	out.Reset()
	require.NoError(t, runMigrate(append([]string{"status"}, flags...), &out))
	assert.Contains(t, out.String(), "Applied")
	assert.Contains(t, out.String(), "Pending: 0")

	out.Reset()
	require.NoError(t, runMigrate(append([]string{"steps", "-1"}, flags...), &out))
	assert.Contains(t, out.String(), "Rolling back 1 migration(s)")

	out.Reset()
	require.NoError(t, runMigrate(append([]string{"reset"}, flags...), &out))
	assert.Contains(t, out.String(), "All migrations rolled back.")
}

func TestRunMigrate_Help(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runMigrate(nil, &out))
	assert.Contains(t, out.String(), "Database Migration Commands")
}

func TestIsPositional(t *testing.T) {
	assert.True(t, isPositional("3"))
	assert.True(t, isPositional("-1"))
	assert.False(t, isPositional("--config"))
	assert.False(t, isPositional("-db-url"))
}

// =============================================================================
// misc
// =============================================================================

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.Contains(t, out.String(), "AgentGraph "+Version)
	assert.Contains(t, out.String(), "Git Commit: "+GitCommit)
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}})
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestStoreConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Type = "multi"
	cfg.Store.Backends = []string{"memory", "redis"}
	cfg.Store.KeyPrefix = "ag:"
	cfg.Store.TTL = time.Hour
	cfg.Store.OpTimeout = 2 * time.Second
	cfg.Redis.Addr = "redis:6379"
	cfg.Redis.DB = 3
	cfg.Redis.TLS = true
	cfg.Mongo.Database = "flows"

	sc := storeConfig(cfg)
	assert.Equal(t, persistence.StoreType("multi"), sc.Type)
	assert.Equal(t, []persistence.StoreType{"memory", "redis"}, sc.Backends)
	assert.Equal(t, 2*time.Second, sc.OpTimeout)
	assert.Equal(t, "redis:6379", sc.Redis.Addr)
	assert.Equal(t, 3, sc.Redis.DB)
	assert.True(t, sc.Redis.TLS)
	assert.Equal(t, "ag:", sc.Redis.KeyPrefix)
	assert.Equal(t, time.Hour, sc.Redis.TTL)
	assert.Equal(t, "flows", sc.Mongo.Database)
	assert.Equal(t, persistence.DefaultConfig().Mongo.Collection, sc.Mongo.Collection)
}

func TestBuiltins(t *testing.T) {
	out, err := setHandler(t.Context(), nil, map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, out)

	_, err = failHandler(t.Context(), nil, map[string]any{"message": "nope"})
	assert.EqualError(t, err, "nope")

	_, err = sleepHandler(t.Context(), nil, map[string]any{"duration": "1ms"})
	assert.NoError(t, err)
	_, err = sleepHandler(t.Context(), nil, map[string]any{"duration": "soon"})
	assert.Error(t, err)
}
