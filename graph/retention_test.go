package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retention(maxAge time.Duration, maxExecutions int) func(*Config) {
	return func(c *Config) {
		c.Retention = RetentionConfig{
			Enabled:       true,
			Interval:      10 * time.Millisecond,
			MaxAge:        maxAge,
			MaxExecutions: maxExecutions,
		}
	}
}

func TestSweep_EvictsByAge(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	e := newTestEngine(t, func(c *Config) {
		retention(time.Hour, 0)(c)
		checkpointing(1)(c)
	}, WithClock(clock.Now), WithObserver(obs))
	require.NoError(t, e.RegisterGraph("g", []GraphNode{action("a")}))

	old, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)
	clock.Advance(50 * time.Minute)
	fresh, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	res := e.Sweep(context.Background())
	assert.Equal(t, SweepResult{Evicted: 1}, res)

	_, err = e.GetExecution(old.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	_, err = e.GetExecution(fresh.ID)
	assert.NoError(t, err)

	_, err = e.GetCheckpoints(context.Background(), old.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.Equal(t, 1, e.GetStats().Checkpoints)
	assert.Equal(t, 1, obs.evicted)
}

func TestSweep_EvictsOldestBeyondLimit(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, retention(0, 2), WithClock(clock.Now))
	require.NoError(t, e.RegisterGraph("g", []GraphNode{action("a")}))
	require.NoError(t, e.RegisterGraph("gated", []GraphNode{{ID: "h", RequiresApproval: true, TimeoutSeconds: -1}}))

	var ids []string
	for i := 0; i < 4; i++ {
		exec, err := e.Execute(context.Background(), "g", nil)
		require.NoError(t, err)
		ids = append(ids, exec.ID)
		clock.Advance(time.Minute)
	}
	waiting, err := e.Execute(context.Background(), "gated", nil)
	require.NoError(t, err)

	res := e.Sweep(context.Background())
	assert.Equal(t, 2, res.Evicted)

	remaining := e.ListExecutions("", 0)
	require.Len(t, remaining, 3)
	assert.Equal(t, ids[2], remaining[0].ID)
	assert.Equal(t, ids[3], remaining[1].ID)
	// executions that are not finished do not count against the limit
	assert.Equal(t, waiting.ID, remaining[2].ID)
}

func TestSweep_ExpiresHumanInput(t *testing.T) {
	clock := newFakeClock()
	obs := &recordingObserver{}
	e := newTestEngine(t, retention(0, 0), WithClock(clock.Now), WithObserver(obs))
	require.NoError(t, e.RegisterGraph("g", []GraphNode{{ID: "h", RequiresApproval: true, TimeoutSeconds: 30}}))

	exec, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)
	reqID := exec.PendingApprovals[0]

	clock.Advance(29 * time.Second)
	assert.Equal(t, SweepResult{}, e.Sweep(context.Background()))

	clock.Advance(2 * time.Second)
	assert.Equal(t, SweepResult{Expired: 1}, e.Sweep(context.Background()))

	req, err := e.GetInput(reqID)
	require.NoError(t, err)
	assert.Equal(t, InputStatusExpired, req.Status)
	assert.Empty(t, e.GetPendingInputs(""))

	after, err := e.GetExecution(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusFailed, after.Status)
	assert.Contains(t, after.Error, "expired")
	assert.Empty(t, after.PendingApprovals)
	assert.Equal(t, []string{reqID}, obs.resolved)

	_, err = e.ProvideInput(reqID, ResponseApprove)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestSweep_SkipsDrivenExecutions(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, retention(time.Second, 0), WithClock(clock.Now))
	release := make(chan struct{})
	entered := make(chan struct{})
	require.NoError(t, e.RegisterHandler("block", func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		close(entered)
		<-release
		return nil, nil
	}))
	require.NoError(t, e.RegisterGraph("g", []GraphNode{handled("a", "block")}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Execute(context.Background(), "g", nil)
	}()
	<-entered
	clock.Advance(time.Hour)
	assert.Equal(t, 0, e.Sweep(context.Background()).Evicted)
	close(release)
	<-done
	assert.Len(t, e.ListExecutions("", 0), 1)
}

func TestSweep_RechecksRunBeforeEvicting(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, retention(time.Hour, 0), WithClock(clock.Now))
	require.NoError(t, e.RegisterGraph("g", gatedGraph()))

	exec, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	victims := e.evictionCandidates(clock.Now())
	require.Len(t, victims, 1)
	r, err := e.lookup(exec.ID)
	require.NoError(t, err)

	// a Resume that claims the run after it was chosen keeps it resident
	r.mu.Lock()
	r.driving = true
	r.mu.Unlock()
	assert.False(t, e.evict(victims[0]))
	r.mu.Lock()
	r.driving = false
	r.mu.Unlock()

	// so does any change to the run after it was chosen
	_, err = e.ProvideInput(exec.PendingApprovals[0], ResponseApprove)
	require.NoError(t, err)
	assert.False(t, e.evict(victims[0]))

	done, err := e.Resume(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, ExecutionStatusCompleted, done.Status)
	assert.False(t, r.evicted)
}

func TestSweep_EvictedRunCannotResume(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, retention(time.Hour, 0), WithClock(clock.Now))
	require.NoError(t, e.RegisterGraph("g", gatedGraph()))

	exec, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	r, err := e.lookup(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Sweep(context.Background()).Evicted)
	assert.True(t, r.evicted)

	_, err = e.Resume(context.Background(), exec.ID)
	assert.ErrorIs(t, err, ErrExecutionNotFound)
}

func TestStartAndClose(t *testing.T) {
	e := newTestEngine(t, retention(time.Nanosecond, 0))
	require.NoError(t, e.RegisterGraph("g", []GraphNode{action("a")}))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Start(context.Background()))

	_, err := e.Execute(context.Background(), "g", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return len(e.ListExecutions("", 0)) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineClosed)
}

func TestStart_DisabledRetention(t *testing.T) {
	e := newTestEngine(t, nil)
	require.NoError(t, e.Start(context.Background()))
	assert.Nil(t, e.sweepCancel)
}
