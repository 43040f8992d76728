package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckpointStore persists checkpoints. Lookups that miss must return an error
// wrapping ErrCheckpointNotFound.
type CheckpointStore interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)
	// List returns the checkpoints of an execution in creation order.
	List(ctx context.Context, executionID string) ([]*Checkpoint, error)
	DeleteExecution(ctx context.Context, executionID string) error
}

// CheckpointListener is notified after a checkpoint is created. Errors are
// logged and do not affect the execution.
type CheckpointListener func(ctx context.Context, cp *Checkpoint) error

// MemoryCheckpointStore keeps append-only checkpoint lists per execution.
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	byExec map[string][]*Checkpoint
	byID   map[string]*Checkpoint
}

// NewMemoryCheckpointStore creates an empty store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{
		byExec: make(map[string][]*Checkpoint),
		byID:   make(map[string]*Checkpoint),
	}
}

func (s *MemoryCheckpointStore) Save(_ context.Context, cp *Checkpoint) error {
	if cp == nil || cp.ID == "" {
		return errors.New("checkpoint id is required")
	}
	c := cp.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.byID[c.ID]; dup {
		return fmt.Errorf("checkpoint %s already exists", c.ID)
	}
	s.byID[c.ID] = c
	s.byExec[c.ExecutionID] = append(s.byExec[c.ExecutionID], c)
	return nil
}

func (s *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[checkpointID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
	}
	return cp.Clone(), nil
}

func (s *MemoryCheckpointStore) List(_ context.Context, executionID string) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byExec[executionID]
	out := make([]*Checkpoint, len(list))
	for i, cp := range list {
		out[i] = cp.Clone()
	}
	return out, nil
}

func (s *MemoryCheckpointStore) DeleteExecution(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.byExec[executionID] {
		delete(s.byID, cp.ID)
	}
	delete(s.byExec, executionID)
	return nil
}

// Len returns the total number of stored checkpoints.
func (s *MemoryCheckpointStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// checkpointDue builds a checkpoint when the completed-record count crosses the
// next multiple of CheckpointInterval. Caller holds r.mu.
func (e *Engine) checkpointDue(r *run, nodeID string) *Checkpoint {
	if !e.cfg.EnableCheckpointing || e.cfg.CheckpointInterval < 1 {
		return nil
	}
	n := e.cfg.CheckpointInterval
	done := r.exec.History.Completed()
	if done/n <= r.ckptMark/n {
		return nil
	}
	r.ckptMark = done
	exec := r.exec
	return &Checkpoint{
		ID:             uuid.NewString(),
		ExecutionID:    exec.ID,
		GraphID:        exec.GraphID,
		NodeID:         nodeID,
		Sequence:       len(exec.Checkpoints) + 1,
		Timestamp:      e.now(),
		State:          cloneState(exec.State),
		NodeExecutions: exec.History.Snapshot(),
		Frontier:       append([]Step(nil), exec.Frontier...),
	}
}

func (e *Engine) persistCheckpoint(ctx context.Context, r *run, cp *Checkpoint) {
	if err := e.resident.Save(ctx, cp); err != nil {
		e.logger.Error("checkpoint save failed", zap.String("checkpoint_id", cp.ID), zap.Error(err))
		return
	}
	if e.durable != nil {
		if err := e.durable.Save(ctx, cp); err != nil {
			e.logger.Warn("durable checkpoint save failed",
				zap.String("checkpoint_id", cp.ID),
				zap.Error(err),
			)
		}
	}
	for _, l := range e.listeners {
		if err := l(ctx, cp.Clone()); err != nil {
			e.logger.Warn("checkpoint listener failed", zap.String("checkpoint_id", cp.ID), zap.Error(err))
		}
	}

	r.mu.Lock()
	r.exec.Checkpoints = append(r.exec.Checkpoints, cp.Summary())
	r.mu.Unlock()

	e.logger.Debug("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("execution_id", cp.ExecutionID),
		zap.String("node_id", cp.NodeID),
		zap.Int("sequence", cp.Sequence),
	)
	e.observer.CheckpointCreated(cp.Clone())
}

func (e *Engine) loadCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	cp, err := e.resident.Load(ctx, checkpointID)
	if err == nil {
		return cp, nil
	}
	if e.durable == nil || !errors.Is(err, ErrCheckpointNotFound) {
		return nil, err
	}
	return e.durable.Load(ctx, checkpointID)
}

// GetCheckpoints returns the checkpoints of an execution in creation order,
// reading the durable store when none are resident.
func (e *Engine) GetCheckpoints(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	list, err := e.resident.List(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 && e.durable != nil {
		if list, err = e.durable.List(ctx, executionID); err != nil {
			return nil, err
		}
	}
	if len(list) == 0 {
		if _, err := e.lookup(executionID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// GetCheckpoint loads a single checkpoint.
func (e *Engine) GetCheckpoint(ctx context.Context, checkpointID string) (*Checkpoint, error) {
	return e.loadCheckpoint(ctx, checkpointID)
}

// RestoreFromCheckpoint overwrites the state and history of the checkpoint's
// execution with the snapshot. It does not change status, frontier or the
// checkpoint list, and does not resume traversal.
func (e *Engine) RestoreFromCheckpoint(ctx context.Context, checkpointID string) (*GraphExecution, error) {
	cp, err := e.loadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}
	r, err := e.lookup(cp.ExecutionID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.driving {
		return nil, fmt.Errorf("%w: %s", ErrExecutionBusy, cp.ExecutionID)
	}
	r.exec.State = cloneState(cp.State)
	if r.exec.State == nil {
		r.exec.State = make(map[string]any)
	}
	r.exec.History = HistoryFrom(cp.NodeExecutions)
	r.exec.UpdatedAt = e.now()
	r.ckptMark = r.exec.History.Completed()

	e.logger.Info("execution restored from checkpoint",
		zap.String("execution_id", cp.ExecutionID),
		zap.String("checkpoint_id", cp.ID),
	)
	return r.exec.Clone(), nil
}

// ResumeFromCheckpoint restores the checkpoint and continues the walk from the
// frontier it captured. Approval requests opened after the checkpoint are
// discarded and their gates ask again. When the execution is no longer
// resident it is rebuilt from the checkpoint, which requires its graph to be
// registered.
func (e *Engine) ResumeFromCheckpoint(ctx context.Context, checkpointID string) (*GraphExecution, error) {
	if e.isClosed() {
		return nil, ErrEngineClosed
	}
	cp, err := e.loadCheckpoint(ctx, checkpointID)
	if err != nil {
		return nil, err
	}

	r, err := e.lookup(cp.ExecutionID)
	if err != nil {
		if r, err = e.rehydrate(ctx, cp); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	if r.evicted {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, cp.ExecutionID)
	}
	if r.driving {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrExecutionBusy, cp.ExecutionID)
	}
	exec := r.exec
	e.inputs.discard(exec.PendingApprovals...)
	exec.State = cloneState(cp.State)
	if exec.State == nil {
		exec.State = make(map[string]any)
	}
	exec.History = HistoryFrom(cp.NodeExecutions)
	exec.Frontier = make([]Step, len(cp.Frontier))
	for i, st := range cp.Frontier {
		exec.Frontier[i] = Step{NodeID: st.NodeID}
	}
	exec.PendingApprovals = []string{}
	exec.Status = ExecutionStatusRunning
	exec.Error = ""
	exec.CompletedAt = nil
	exec.UpdatedAt = e.now()
	r.ckptMark = exec.History.Completed()
	r.driving = true
	r.mu.Unlock()

	e.logger.Info("execution resumed from checkpoint",
		zap.String("execution_id", cp.ExecutionID),
		zap.String("checkpoint_id", cp.ID),
		zap.Int("frontier", len(cp.Frontier)),
	)
	return e.drive(ctx, r)
}

func (e *Engine) rehydrate(ctx context.Context, cp *Checkpoint) (*run, error) {
	g, ok := e.graphs.Get(cp.GraphID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, cp.GraphID)
	}
	summaries := []CheckpointSummary{}
	if list, err := e.GetCheckpoints(ctx, cp.ExecutionID); err == nil {
		for _, c := range list {
			summaries = append(summaries, c.Summary())
		}
	}
	now := e.now()
	r := &run{
		graph: g,
		exec: &GraphExecution{
			ID:               cp.ExecutionID,
			GraphID:          cp.GraphID,
			Status:           ExecutionStatusRunning,
			State:            map[string]any{},
			History:          NewHistory(),
			Checkpoints:      summaries,
			PendingApprovals: []string{},
			StartedAt:        now,
			UpdatedAt:        now,
		},
	}

	e.mu.Lock()
	if existing, ok := e.runs[cp.ExecutionID]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.seq++
	r.seq = e.seq
	e.runs[cp.ExecutionID] = r
	e.mu.Unlock()

	e.observer.ExecutionStarted(r.exec.Clone())
	return r, nil
}
