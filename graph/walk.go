package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// drive pops steps off the execution frontier until it empties, a gate parks
// the walk, or ctx ends. The caller must have set r.driving.
func (e *Engine) drive(ctx context.Context, r *run) (result *GraphExecution, err error) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("execution panicked",
				zap.String("execution_id", r.exec.ID),
				zap.Any("panic", p),
			)
			r.mu.Lock()
			e.finish(r, ExecutionStatusFailed, fmt.Sprintf("panic: %v", p))
			r.mu.Unlock()
		}

		r.mu.Lock()
		r.driving = false
		result = r.exec.Clone()
		r.mu.Unlock()

		e.logger.Info("execution stopped",
			zap.String("execution_id", result.ID),
			zap.String("status", string(result.Status)),
			zap.Int("node_executions", result.History.Len()),
		)
		e.observer.ExecutionStopped(result.Clone())
	}()

	steps := 0
	for {
		if cerr := ctx.Err(); cerr != nil {
			r.mu.Lock()
			e.finish(r, ExecutionStatusFailed, cerr.Error())
			r.mu.Unlock()
			return nil, cerr
		}
		if e.cfg.MaxSteps > 0 && steps >= e.cfg.MaxSteps {
			r.mu.Lock()
			e.finish(r, ExecutionStatusFailed, fmt.Sprintf("%v: %d", ErrStepLimit, e.cfg.MaxSteps))
			r.mu.Unlock()
			return nil, nil
		}
		steps++
		if e.step(ctx, r) {
			return nil, nil
		}
	}
}

// step advances the walk by one frontier entry and reports whether the walk stopped.
func (e *Engine) step(ctx context.Context, r *run) bool {
	r.mu.Lock()
	exec := r.exec
	top := len(exec.Frontier) - 1
	if top < 0 {
		e.finish(r, ExecutionStatusCompleted, "")
		r.mu.Unlock()
		return true
	}

	st := exec.Frontier[top]
	node, ok := r.graph.Node(st.NodeID)
	if !ok {
		// dangling references are tolerated, as graphs are not validated by default
		exec.Frontier = exec.Frontier[:top]
		r.mu.Unlock()
		e.logger.Debug("skipping unknown node",
			zap.String("execution_id", exec.ID),
			zap.String("node_id", st.NodeID),
		)
		return false
	}

	if node.RequiresApproval {
		if st.RequestID == "" {
			req := e.openGate(r, node)
			r.mu.Unlock()
			e.logger.Info("waiting for human input",
				zap.String("execution_id", req.ExecutionID),
				zap.String("node_id", req.NodeID),
				zap.String("request_id", req.ID),
			)
			e.observer.InputRequested(req)
			return true
		}
		if containsString(exec.PendingApprovals, st.RequestID) {
			e.park(r)
			r.mu.Unlock()
			return true
		}
	}

	exec.Frontier = exec.Frontier[:top]
	state := cloneState(exec.State)
	visit := exec.History.Visits(node.ID)
	r.mu.Unlock()

	e.logger.Debug("dispatching node",
		zap.String("execution_id", exec.ID),
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)),
	)
	branch := e.dispatch(ctx, r, node, state, visit)

	r.mu.Lock()
	for i := len(node.NextNodes) - 1; i >= 0; i-- {
		exec.Frontier = append(exec.Frontier, Step{NodeID: node.NextNodes[i]})
	}
	if branch != "" {
		exec.Frontier = append(exec.Frontier, Step{NodeID: branch})
	}
	exec.UpdatedAt = e.now()
	cp := e.checkpointDue(r, node.ID)
	r.mu.Unlock()

	if cp != nil {
		e.persistCheckpoint(ctx, r, cp)
	}
	return false
}

// openGate parks the walk at node. Caller holds r.mu.
func (e *Engine) openGate(r *run, node *GraphNode) *HumanInputRequest {
	now := e.now()
	exec := r.exec
	prompt := node.ApprovalPrompt
	if prompt == "" {
		prompt = fmt.Sprintf("Approve execution of %s?", node.Name)
	}
	req := &HumanInputRequest{
		ID:             uuid.NewString(),
		ExecutionID:    exec.ID,
		NodeID:         node.ID,
		NodeName:       node.Name,
		Prompt:         prompt,
		Options:        []string{ResponseApprove, ResponseReject},
		Status:         InputStatusPending,
		CreatedAt:      now,
		TimeoutSeconds: node.TimeoutSeconds,
	}
	e.inputs.open(req)

	exec.Frontier[len(exec.Frontier)-1].RequestID = req.ID
	exec.PendingApprovals = append(exec.PendingApprovals, req.ID)
	e.park(r)
	exec.History.Append(&NodeExecution{
		NodeID:     node.ID,
		NodeName:   node.Name,
		NodeType:   node.Type,
		Status:     NodeStatusWaitingInput,
		StartedAt:  now,
		InputData:  cloneState(exec.State),
		OutputData: map[string]any{"request_id": req.ID},
		Iteration:  exec.History.Visits(node.ID),
	})
	return req.Clone()
}

// park marks the walk as waiting on a gate. The walk has stopped, so
// CompletedAt is stamped; Resume clears it. Caller holds r.mu.
func (e *Engine) park(r *run) {
	now := e.now()
	r.exec.Status = ExecutionStatusWaitingInput
	r.exec.UpdatedAt = now
	r.exec.CompletedAt = &now
}

// finish stamps a terminal status. Caller holds r.mu.
func (e *Engine) finish(r *run, status ExecutionStatus, msg string) {
	now := e.now()
	r.exec.Status = status
	r.exec.Error = msg
	r.exec.UpdatedAt = now
	r.exec.CompletedAt = &now
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
