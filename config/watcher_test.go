package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/graph"
)

func touch(t *testing.T, path string, content string, mod time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	w, err := NewFileWatcher([]string{t.TempDir()},
		WithDebounceDelay(500*time.Millisecond),
		WithPollInterval(20*time.Millisecond),
		WithExtensions(".YAML"),
		WithWatcherLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.Equal(t, 20*time.Millisecond, w.pollInterval)
	assert.True(t, w.matches("a.yaml"))
	assert.False(t, w.matches("a.json"))
}

func TestNewFileWatcher_NonExistentPathWarns(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	require.NotNil(t, w)
}

// --- AddPath / RemovePath ---

func TestFileWatcher_AddRemovePath(t *testing.T) {
	dir := t.TempDir()
	f1 := filepath.Join(dir, "a.yaml")
	f2 := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(f1, []byte("a"), 0644))
	require.NoError(t, os.WriteFile(f2, []byte("b"), 0644))

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)

	require.NoError(t, w.AddPath(f2))
	require.NoError(t, w.AddPath(f2))
	assert.Equal(t, []string{f1, f2}, w.Paths())

	require.NoError(t, w.RemovePath(f2))
	assert.Equal(t, []string{f1}, w.Paths())

	err = w.RemovePath(filepath.Join(dir, "nonexistent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")
}

// --- checkFiles ---

func TestFileWatcher_CheckFiles_Directory(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	keep := filepath.Join(dir, "keep.yaml")
	gone := filepath.Join(dir, "gone.json")
	touch(t, keep, "v1", base)
	touch(t, gone, "{}", base)
	touch(t, filepath.Join(dir, "notes.txt"), "ignored", base)

	w, err := NewFileWatcher([]string{dir}, WithExtensions(DefinitionExtensions...))
	require.NoError(t, err)
	w.lastModTimes = w.scan()
	assert.Len(t, w.lastModTimes, 2)

	assert.Empty(t, w.checkFiles())

	added := filepath.Join(dir, "added.yml")
	touch(t, added, "new", base)
	touch(t, keep, "v2", base.Add(time.Minute))
	require.NoError(t, os.Remove(gone))
	touch(t, filepath.Join(dir, "other.txt"), "ignored", base.Add(time.Minute))

	events := w.checkFiles()
	require.Len(t, events, 3)
	assert.Equal(t, added, events[0].Path)
	assert.Equal(t, FileOpCreate, events[0].Op)
	assert.Equal(t, gone, events[1].Path)
	assert.Equal(t, FileOpRemove, events[1].Op)
	assert.Equal(t, keep, events[2].Path)
	assert.Equal(t, FileOpWrite, events[2].Op)

	assert.Empty(t, w.checkFiles())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}

// --- Start / Stop ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	w, err := NewFileWatcher([]string{t.TempDir()}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err = w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())

	// 停止后可以重新启动
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
}

func TestFileWatcher_DispatchCoalesces(t *testing.T) {
	f := filepath.Join(t.TempDir(), "coalesce.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v0"), 0644))

	w, err := NewFileWatcher([]string{f},
		WithDebounceDelay(50*time.Millisecond),
		WithPollInterval(time.Hour),
	)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []FileEvent
	w.OnChange(func(evt FileEvent) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	for i := 0; i < 3; i++ {
		w.eventChan <- FileEvent{Path: f, Op: FileOpWrite, Timestamp: time.Now()}
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, got, 1)
	assert.Equal(t, FileOpWrite, got[0].Op)
}

// --- 图定义同步 ---

type recordingRegistrar struct {
	mu   sync.Mutex
	defs []*graph.GraphDefinition
	err  error
}

func (r *recordingRegistrar) RegisterDefinition(def *graph.GraphDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.defs = append(r.defs, def)
	return nil
}

func (r *recordingRegistrar) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.defs))
	for i, d := range r.defs {
		out[i] = d.ID
	}
	return out
}

const pipelineYAML = `
id: pipeline
nodes:
  - id: start
    type: action
    handler: noop
`

func TestNewDefinitionWatcher_RequiresDir(t *testing.T) {
	_, err := NewDefinitionWatcher(GraphsConfig{}, &recordingRegistrar{}, nil)
	require.Error(t, err)
}

func TestDefinitionWatcher_RegistersNewFiles(t *testing.T) {
	dir := t.TempDir()
	reg := &recordingRegistrar{}

	w, err := NewDefinitionWatcher(GraphsConfig{Dir: dir, PollInterval: 20 * time.Millisecond}, reg, zaptest.NewLogger(t))
	require.NoError(t, err)
	w.debounceDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("nodes: []"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pipeline.yaml"), []byte(pipelineYAML), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# graphs"), 0644))

	assert.Eventually(t, func() bool {
		return len(reg.ids()) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"pipeline"}, reg.ids())
}
