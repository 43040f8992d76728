package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// dispatch runs node by type and returns the node to visit before its
// next_nodes: the chosen branch of a condition or the join of a parallel node.
func (e *Engine) dispatch(ctx context.Context, r *run, node *GraphNode, state map[string]any, visit int) string {
	switch node.Type {
	case NodeTypeParallel:
		return e.runParallel(ctx, r, node, state, visit)
	case NodeTypeCondition:
		return e.runCondition(r, node, state, visit)
	case NodeTypeLoop:
		e.runLoop(ctx, r, node, state, visit)
		return ""
	default:
		rec, delta := e.invoke(ctx, node, state, visit)
		e.commit(r, delta, rec)
		return ""
	}
}

// commit appends records and merges delta into the execution state.
func (e *Engine) commit(r *run, delta map[string]any, recs ...*NodeExecution) {
	r.mu.Lock()
	for _, rec := range recs {
		r.exec.History.Append(rec)
	}
	merge(r.exec.State, delta)
	r.exec.UpdatedAt = e.now()
	r.mu.Unlock()

	for _, rec := range recs {
		e.observer.NodeFinished(r.exec.ID, rec)
	}
}

// invoke runs node as a plain action against a private copy of state and
// returns its record and the keys to merge. An unregistered handler yields a
// mock output that is not merged.
func (e *Engine) invoke(ctx context.Context, node *GraphNode, state map[string]any, iteration int) (*NodeExecution, map[string]any) {
	rec := &NodeExecution{
		NodeID:    node.ID,
		NodeName:  node.Name,
		NodeType:  node.Type,
		Status:    NodeStatusRunning,
		StartedAt: e.now(),
		InputData: cloneState(state),
		Iteration: iteration,
	}

	var delta map[string]any
	fn, ok := e.handlers.Get(node.Handler)
	if node.Handler == "" || !ok {
		rec.OutputData = map[string]any{"mock": "Executed " + node.Name}
		rec.Status = NodeStatusCompleted
	} else if out, err := e.call(ctx, node, fn, state); err != nil {
		rec.Status = NodeStatusFailed
		rec.Error = err.Error()
		e.logger.Warn("node failed",
			zap.String("node_id", node.ID),
			zap.String("handler", node.Handler),
			zap.Error(err),
		)
	} else {
		rec.Status = NodeStatusCompleted
		rec.OutputData = cloneState(out)
		delta = out
	}

	e.stamp(rec)
	return rec, delta
}

func (e *Engine) stamp(rec *NodeExecution) {
	end := e.now()
	rec.CompletedAt = &end
	rec.DurationMs = end.Sub(rec.StartedAt).Milliseconds()
}

type callResult struct {
	out map[string]any
	err error
}

// call invokes fn under the engine handler timeout. Panics become HandlerErrors.
func (e *Engine) call(ctx context.Context, node *GraphNode, fn HandlerFunc, state map[string]any) (map[string]any, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.DefaultTimeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- callResult{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		out, err := fn(cctx, state, cloneState(node.Config))
		done <- callResult{out: out, err: err}
	}()

	var err error
	select {
	case res := <-done:
		if res.err == nil {
			return res.out, nil
		}
		err = res.err
	case <-cctx.Done():
		err = cctx.Err()
		e.abandon(node, done, err)
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		err = fmt.Errorf("%w after %s", ErrHandlerTimeout, e.cfg.DefaultTimeout)
	}
	return nil, &HandlerError{NodeID: node.ID, Handler: node.Handler, Err: err}
}

// abandon logs a handler call that outlived its context. The handler keeps
// running until it returns on its own; its result is discarded.
func (e *Engine) abandon(node *GraphNode, done <-chan callResult, cause error) {
	started := e.now()
	e.logger.Warn("handler abandoned",
		zap.String("node_id", node.ID),
		zap.String("handler", node.Handler),
		zap.Error(cause),
	)
	go func() {
		res := <-done
		e.logger.Warn("abandoned handler returned",
			zap.String("node_id", node.ID),
			zap.String("handler", node.Handler),
			zap.Duration("late_by", e.now().Sub(started)),
			zap.NamedError("handler_error", res.err),
		)
	}()
}

// runParallel fans node.ParallelNodes out as plain actions, at most
// MaxParallelNodes at a time. Each branch works on its own copy of state;
// branch outputs merge in declaration order once all branches finish.
func (e *Engine) runParallel(ctx context.Context, r *run, node *GraphNode, state map[string]any, visit int) string {
	started := e.now()
	targets := make([]*GraphNode, len(node.ParallelNodes))
	iterations := make([]int, len(node.ParallelNodes))

	r.mu.Lock()
	seen := make(map[string]int)
	for i, id := range node.ParallelNodes {
		if t, ok := r.graph.Node(id); ok {
			targets[i] = t
			iterations[i] = r.exec.History.Visits(id) + seen[id]
			seen[id]++
		}
	}
	r.mu.Unlock()

	type branch struct {
		rec   *NodeExecution
		delta map[string]any
	}
	branches := make([]branch, len(targets))
	sem := semaphore.NewWeighted(int64(e.cfg.MaxParallelNodes))

	var wg sync.WaitGroup
	for i, t := range targets {
		if t == nil {
			continue
		}
		wg.Add(1)
		go func(i int, t *GraphNode) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				rec := &NodeExecution{
					NodeID: t.ID, NodeName: t.Name, NodeType: t.Type,
					Status: NodeStatusFailed, StartedAt: e.now(),
					InputData: cloneState(state), Error: err.Error(), Iteration: iterations[i],
				}
				e.stamp(rec)
				branches[i] = branch{rec: rec}
				return
			}
			defer sem.Release(1)
			rec, delta := e.invoke(ctx, t, cloneState(state), iterations[i])
			branches[i] = branch{rec: rec, delta: delta}
		}(i, t)
	}
	wg.Wait()

	var (
		recs   []*NodeExecution
		deltas []map[string]any
		failed = []string{}
	)
	for _, b := range branches {
		if b.rec == nil {
			continue
		}
		recs = append(recs, b.rec)
		if b.rec.Status == NodeStatusFailed {
			failed = append(failed, b.rec.NodeID)
		}
		if b.delta != nil {
			deltas = append(deltas, b.delta)
		}
	}

	r.mu.Lock()
	conflicts := mergeOverlays(r.exec.State, deltas)
	r.mu.Unlock()

	rec := &NodeExecution{
		NodeID:    node.ID,
		NodeName:  node.Name,
		NodeType:  node.Type,
		Status:    NodeStatusCompleted,
		StartedAt: started,
		InputData: state,
		OutputData: map[string]any{
			"branches":  len(recs),
			"failed":    failed,
			"conflicts": conflicts,
		},
		Iteration: visit,
	}
	e.stamp(rec)
	e.commit(r, nil, append(recs, rec)...)

	if len(conflicts) > 0 {
		e.logger.Debug("parallel branches wrote conflicting keys",
			zap.String("node_id", node.ID),
			zap.Strings("keys", conflicts),
		)
	}
	return node.JoinNode
}

// runCondition records the evaluated condition and returns the branch to take.
// An evaluation error counts as false.
func (e *Engine) runCondition(r *run, node *GraphNode, state map[string]any, visit int) string {
	rec := &NodeExecution{
		NodeID:    node.ID,
		NodeName:  node.Name,
		NodeType:  node.Type,
		StartedAt: e.now(),
		InputData: state,
		Iteration: visit,
	}

	result := false
	if node.Condition != "" {
		ok, err := e.evaluator.Evaluate(node.Condition, exprVars(state, visit))
		if err != nil {
			e.logger.Warn("condition evaluation failed",
				zap.String("node_id", node.ID),
				zap.String("condition", node.Condition),
				zap.Error(err),
			)
		} else {
			result = ok
		}
	}

	rec.Status = NodeStatusCompleted
	rec.OutputData = map[string]any{"condition_result": result}
	e.stamp(rec)
	e.commit(r, nil, rec)

	if result {
		return node.TrueBranch
	}
	return node.FalseBranch
}

// runLoop runs the loop body as plain actions for at most
// min(node.MaxIterations, MaxLoopIterations) iterations, checking the loop
// condition against the live state before each one.
func (e *Engine) runLoop(ctx context.Context, r *run, node *GraphNode, state map[string]any, visit int) {
	started := e.now()
	limit := min(node.MaxIterations, e.cfg.MaxLoopIterations)
	stop := "max_iterations"
	iterations := 0

	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			stop = "cancelled"
			break
		}
		if node.LoopCondition != "" {
			r.mu.Lock()
			vars := exprVars(r.exec.State, i)
			r.mu.Unlock()
			ok, err := e.evaluator.Evaluate(node.LoopCondition, vars)
			if err != nil {
				e.logger.Warn("loop condition evaluation failed",
					zap.String("node_id", node.ID),
					zap.Int("iteration", i),
					zap.Error(err),
				)
				stop = "condition_error"
				break
			}
			if !ok {
				stop = "condition_false"
				break
			}
		}

		for _, id := range node.LoopBody {
			body, ok := r.graph.Node(id)
			if !ok {
				continue
			}
			r.mu.Lock()
			current := cloneState(r.exec.State)
			r.mu.Unlock()
			rec, delta := e.invoke(ctx, body, current, i)
			e.commit(r, delta, rec)
		}
		iterations++
	}

	rec := &NodeExecution{
		NodeID:     node.ID,
		NodeName:   node.Name,
		NodeType:   node.Type,
		Status:     NodeStatusCompleted,
		StartedAt:  started,
		InputData:  state,
		OutputData: map[string]any{"iterations": iterations, "stop_reason": stop},
		Iteration:  visit,
	}
	e.stamp(rec)
	e.commit(r, nil, rec)
}
