package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentgraph/graph"
)

// checkpointRecord is the row form of a checkpoint. The schema is owned by
// the migrations in internal/migration.
type checkpointRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	ExecutionID string `gorm:"size:64;index:idx_agentgraph_checkpoints_exec,priority:1"`
	GraphID     string `gorm:"size:255"`
	NodeID      string `gorm:"size:255"`
	Sequence    int    `gorm:"index:idx_agentgraph_checkpoints_exec,priority:2"`
	Payload     string `gorm:"type:text"`
	CreatedAt   time.Time
}

func (checkpointRecord) TableName() string { return "agentgraph_checkpoints" }

// executionRecord is the archived form of an execution.
type executionRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	GraphID     string `gorm:"size:255;index"`
	Status      string `gorm:"size:32;index"`
	Error       string `gorm:"type:text"`
	Payload     string `gorm:"type:text"`
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (executionRecord) TableName() string { return "agentgraph_executions" }

// SQLStore persists checkpoints and archived executions through GORM.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewSQLStore wraps db. The tables must exist; run the migrations first.
func NewSQLStore(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db cannot be nil", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{db: db, logger: logger.With(zap.String("component", "sql_store"))}, nil
}

// Ping checks if the database is reachable
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *SQLStore) Close() error { return nil }

// Save inserts cp. Saving an id twice fails with ErrDuplicate.
func (s *SQLStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}
	rec := checkpointRecord{
		ID:          cp.ID,
		ExecutionID: cp.ExecutionID,
		GraphID:     cp.GraphID,
		NodeID:      cp.NodeID,
		Sequence:    cp.Sequence,
		Payload:     string(data),
		CreatedAt:   cp.Timestamp,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&checkpointRecord{}).Where("id = ?", cp.ID).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check checkpoint: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrDuplicate, cp.ID)
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

// Load retrieves a checkpoint by ID
func (s *SQLStore) Load(ctx context.Context, checkpointID string) (*graph.Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).Where("id = ?", checkpointID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint([]byte(rec.Payload))
}

// List returns an execution's checkpoints in creation order
func (s *SQLStore) List(ctx context.Context, executionID string) ([]*graph.Checkpoint, error) {
	var recs []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("sequence ASC").
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	result := make([]*graph.Checkpoint, 0, len(recs))
	for _, rec := range recs {
		cp, err := decodeCheckpoint([]byte(rec.Payload))
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// DeleteExecution removes every checkpoint of an execution. Archived
// execution rows are kept.
func (s *SQLStore) DeleteExecution(ctx context.Context, executionID string) error {
	err := s.db.WithContext(ctx).Where("execution_id = ?", executionID).Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete checkpoints: %w", err)
	}
	return nil
}

// ArchiveExecution upserts the execution snapshot.
func (s *SQLStore) ArchiveExecution(ctx context.Context, exec *graph.GraphExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("%w: execution id is required", ErrInvalidInput)
	}
	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}
	rec := executionRecord{
		ID:          exec.ID,
		GraphID:     exec.GraphID,
		Status:      string(exec.Status),
		Error:       exec.Error,
		Payload:     string(data),
		StartedAt:   exec.StartedAt,
		UpdatedAt:   exec.UpdatedAt,
		CompletedAt: exec.CompletedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to archive execution: %w", err)
	}
	return nil
}

// GetArchivedExecution returns the last archived snapshot of an execution.
func (s *SQLStore) GetArchivedExecution(ctx context.Context, executionID string) (*graph.GraphExecution, error) {
	var rec executionRecord
	err := s.db.WithContext(ctx).Where("id = ?", executionID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", graph.ErrExecutionNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution: %w", err)
	}
	return decodeExecution(rec.Payload)
}

// ListArchivedExecutions lists archived executions, newest first. An empty
// graphID lists every graph; limit <= 0 means 100.
func (s *SQLStore) ListArchivedExecutions(ctx context.Context, graphID string, limit int) ([]*graph.GraphExecution, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit)
	if graphID != "" {
		q = q.Where("graph_id = ?", graphID)
	}
	var recs []executionRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	result := make([]*graph.GraphExecution, 0, len(recs))
	for _, rec := range recs {
		exec, err := decodeExecution(rec.Payload)
		if err != nil {
			return nil, err
		}
		result = append(result, exec)
	}
	return result, nil
}

func decodeExecution(payload string) (*graph.GraphExecution, error) {
	var exec graph.GraphExecution
	if err := json.Unmarshal([]byte(payload), &exec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
	}
	if exec.History == nil {
		exec.History = graph.NewHistory()
	}
	return &exec, nil
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
