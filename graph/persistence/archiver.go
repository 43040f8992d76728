package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
)

// ExecutionArchive stores execution snapshots.
type ExecutionArchive interface {
	ArchiveExecution(ctx context.Context, exec *graph.GraphExecution) error
}

// Archiver is a graph.Observer that archives every execution when its walk
// stops, so finished runs survive retention eviction.
type Archiver struct {
	graph.NopObserver
	archive ExecutionArchive
	timeout time.Duration
	logger  *zap.Logger
}

// NewArchiver creates an archiver writing to archive.
func NewArchiver(archive ExecutionArchive, timeout time.Duration, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Archiver{
		archive: archive,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "execution_archiver")),
	}
}

// ExecutionStopped writes the snapshot. Failures are logged.
func (a *Archiver) ExecutionStopped(exec *graph.GraphExecution) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	if err := a.archive.ArchiveExecution(ctx, exec); err != nil {
		a.logger.Warn("failed to archive execution",
			zap.String("execution_id", exec.ID),
			zap.Error(err),
		)
	}
}

var _ graph.Observer = (*Archiver)(nil)
