package graph

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.DefaultTimeout = 2 * time.Second
	cfg.EnableCheckpointing = false
	cfg.Retention.Enabled = false
	return cfg
}

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func action(id string, next ...string) GraphNode {
	return GraphNode{ID: id, Type: NodeTypeAction, NextNodes: next}
}

func handled(id, handler string, next ...string) GraphNode {
	return GraphNode{ID: id, Type: NodeTypeAction, Handler: handler, NextNodes: next}
}

// returning yields a handler that returns a fixed delta.
func returning(out map[string]any) HandlerFunc {
	return func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		return out, nil
	}
}

// increment adds one to state[key].
func increment(key string) HandlerFunc {
	return func(_ context.Context, state map[string]any, _ map[string]any) (map[string]any, error) {
		n, _ := state[key].(int)
		return map[string]any{key: n + 1}, nil
	}
}

// concurrencyGauge tracks the peak number of concurrent invocations.
type concurrencyGauge struct {
	current atomic.Int32
	peak    atomic.Int32
	calls   atomic.Int32
	hold    time.Duration
}

func (p *concurrencyGauge) handler() HandlerFunc {
	return func(ctx context.Context, _ map[string]any, _ map[string]any) (map[string]any, error) {
		p.calls.Add(1)
		n := p.current.Add(1)
		defer p.current.Add(-1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		select {
		case <-time.After(p.hold):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, nil
	}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingObserver captures engine events.
type recordingObserver struct {
	NopObserver
	mu          sync.Mutex
	started     int
	stopped     []ExecutionStatus
	nodes       []string
	checkpoints []string
	requested   []string
	resolved    []string
	evicted     int
}

func (o *recordingObserver) ExecutionStarted(*GraphExecution) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) ExecutionStopped(exec *GraphExecution) {
	o.mu.Lock()
	o.stopped = append(o.stopped, exec.Status)
	o.mu.Unlock()
}

func (o *recordingObserver) NodeFinished(_ string, rec *NodeExecution) {
	o.mu.Lock()
	o.nodes = append(o.nodes, rec.NodeID)
	o.mu.Unlock()
}

func (o *recordingObserver) CheckpointCreated(cp *Checkpoint) {
	o.mu.Lock()
	o.checkpoints = append(o.checkpoints, cp.ID)
	o.mu.Unlock()
}

func (o *recordingObserver) InputRequested(req *HumanInputRequest) {
	o.mu.Lock()
	o.requested = append(o.requested, req.ID)
	o.mu.Unlock()
}

func (o *recordingObserver) InputResolved(req *HumanInputRequest) {
	o.mu.Lock()
	o.resolved = append(o.resolved, req.ID)
	o.mu.Unlock()
}

func (o *recordingObserver) ExecutionsEvicted(n int) {
	o.mu.Lock()
	o.evicted += n
	o.mu.Unlock()
}

func nodeOrder(exec *GraphExecution) []string {
	var ids []string
	for _, r := range exec.History.Records() {
		ids = append(ids, r.NodeID)
	}
	return ids
}
