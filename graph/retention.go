package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// SweepResult reports what one retention pass did.
type SweepResult struct {
	Expired int `json:"expired"`
	Evicted int `json:"evicted"`
}

// Start launches the retention sweeper when retention is enabled. It returns
// immediately; Close stops the sweeper.
func (e *Engine) Start(ctx context.Context) error {
	if !e.cfg.Retention.Enabled {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.sweepCancel != nil {
		return nil
	}
	sctx, cancel := context.WithCancel(ctx)
	e.sweepCancel = cancel
	e.sweepDone = make(chan struct{})
	go e.sweepLoop(sctx, e.sweepDone)

	e.logger.Info("retention sweeper started",
		zap.Duration("interval", e.cfg.Retention.Interval),
		zap.Duration("max_age", e.cfg.Retention.MaxAge),
		zap.Int("max_executions", e.cfg.Retention.MaxExecutions),
	)
	return nil
}

// Close stops the sweeper and rejects further executions.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancel, done := e.sweepCancel, e.sweepDone
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (e *Engine) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Retention.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep expires lapsed approval requests and evicts executions past the
// retention limits. Executions being driven are never touched.
func (e *Engine) Sweep(ctx context.Context) SweepResult {
	now := e.now()
	var res SweepResult

	for _, req := range e.inputs.expire(now) {
		res.Expired++
		if r, err := e.lookup(req.ExecutionID); err == nil {
			r.mu.Lock()
			r.exec.PendingApprovals = removeString(r.exec.PendingApprovals, req.ID)
			if !r.driving && !r.exec.Status.Terminal() {
				e.finish(r, ExecutionStatusFailed, fmt.Sprintf("human input request %s expired", req.ID))
			}
			r.mu.Unlock()
		}
		e.observer.InputResolved(req)
	}

	for _, v := range e.evictionCandidates(now) {
		if !e.evict(v) {
			continue
		}
		if err := e.resident.DeleteExecution(ctx, v.id); err != nil {
			e.logger.Warn("checkpoint purge failed", zap.String("execution_id", v.id), zap.Error(err))
		}
		e.inputs.discardExecution(v.id)
		res.Evicted++
	}

	if res.Expired > 0 || res.Evicted > 0 {
		e.logger.Info("retention sweep",
			zap.Int("expired_requests", res.Expired),
			zap.Int("evicted_executions", res.Evicted),
		)
		e.observer.ExecutionsEvicted(res.Evicted)
	}
	return res
}

// victim is an execution chosen for eviction, with the UpdatedAt observed
// when it was chosen.
type victim struct {
	id      string
	updated time.Time
}

// evict drops v from the resident set unless the run was picked up or changed
// since it was chosen. It reports whether the run was removed.
func (e *Engine) evict(v victim) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[v.id]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driving || !r.exec.UpdatedAt.Equal(v.updated) {
		return false
	}
	r.evicted = true
	delete(e.runs, v.id)
	return true
}

func (e *Engine) evictionCandidates(now time.Time) []victim {
	type candidate struct {
		victim
		at       time.Time
		terminal bool
	}
	rc := e.cfg.Retention

	e.mu.RLock()
	cands := make([]candidate, 0, len(e.runs))
	for id, r := range e.runs {
		r.mu.Lock()
		if !r.driving {
			c := candidate{
				victim:   victim{id: id, updated: r.exec.UpdatedAt},
				at:       r.exec.UpdatedAt,
				terminal: r.exec.Status.Terminal(),
			}
			if c.terminal && r.exec.CompletedAt != nil {
				c.at = *r.exec.CompletedAt
			}
			cands = append(cands, c)
		}
		r.mu.Unlock()
	}
	e.mu.RUnlock()

	var victims []victim
	var finished []candidate
	for _, c := range cands {
		if rc.MaxAge > 0 && now.Sub(c.at) > rc.MaxAge {
			victims = append(victims, c.victim)
			continue
		}
		if c.terminal {
			finished = append(finished, c)
		}
	}
	if rc.MaxExecutions > 0 && len(finished) > rc.MaxExecutions {
		sort.Slice(finished, func(i, j int) bool { return finished[i].at.Before(finished[j].at) })
		for _, c := range finished[:len(finished)-rc.MaxExecutions] {
			victims = append(victims, c.victim)
		}
	}
	return victims
}
