package persistence

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgraph/graph"
)

// MultiStore writes to every backend concurrently and reads from the first
// backend that has the data. Backends are tried in the order given.
type MultiStore struct {
	stores []Store
}

// NewMultiStore fans out across stores.
func NewMultiStore(stores ...Store) (*MultiStore, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("%w: at least one store is required", ErrInvalidInput)
	}
	return &MultiStore{stores: stores}, nil
}

// Save writes cp to all backends. Any failure fails the save.
func (m *MultiStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.Save(gctx, cp) })
	}
	return g.Wait()
}

// Load returns the checkpoint from the first backend that has it.
func (m *MultiStore) Load(ctx context.Context, checkpointID string) (*graph.Checkpoint, error) {
	var errs []error
	for _, s := range m.stores {
		cp, err := s.Load(ctx, checkpointID)
		if err == nil {
			return cp, nil
		}
		if !errors.Is(err, graph.ErrCheckpointNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return nil, notFound(checkpointID)
}

// List returns the first non-empty listing.
func (m *MultiStore) List(ctx context.Context, executionID string) ([]*graph.Checkpoint, error) {
	var errs []error
	for _, s := range m.stores {
		cps, err := s.List(ctx, executionID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(cps) > 0 {
			return cps, nil
		}
	}
	if len(errs) == len(m.stores) {
		return nil, errors.Join(errs...)
	}
	return []*graph.Checkpoint{}, nil
}

// DeleteExecution deletes from all backends.
func (m *MultiStore) DeleteExecution(ctx context.Context, executionID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.DeleteExecution(gctx, executionID) })
	}
	return g.Wait()
}

// Ping checks every backend.
func (m *MultiStore) Ping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.stores {
		g.Go(func() error { return s.Ping(gctx) })
	}
	return g.Wait()
}

// Close closes every backend.
func (m *MultiStore) Close() error {
	var errs []error
	for _, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Store = (*MultiStore)(nil)

// memoryStore adapts the engine's in-memory store to Store.
type memoryStore struct {
	*graph.MemoryCheckpointStore
}

// NewMemoryStore creates an in-process store, mainly for tests and as a
// MultiStore member.
func NewMemoryStore() Store {
	return memoryStore{graph.NewMemoryCheckpointStore()}
}

func (memoryStore) Ping(context.Context) error { return nil }
func (memoryStore) Close() error               { return nil }
