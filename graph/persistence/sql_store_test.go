package persistence

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/agentgraph/graph"
)

func TestSQLStore_Contract(t *testing.T) {
	runStoreContract(t, newSQLiteStore(t))
}

func TestNewSQLStore_RequiresDB(t *testing.T) {
	_, err := NewSQLStore(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSQLStore_DuplicateIsTyped(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	cp := sampleCheckpoint("e1", 1)
	require.NoError(t, store.Save(ctx, cp))
	assert.ErrorIs(t, store.Save(ctx, cp), ErrDuplicate)
}

func archivedExecution(id, graphID string, started time.Time, status graph.ExecutionStatus) *graph.GraphExecution {
	h := graph.NewHistory()
	h.Append(&graph.NodeExecution{NodeID: "draft", Status: graph.NodeStatusCompleted, StartedAt: started})
	return &graph.GraphExecution{
		ID:               id,
		GraphID:          graphID,
		Status:           status,
		State:            map[string]any{"draft": "v1"},
		History:          h,
		Checkpoints:      []graph.CheckpointSummary{},
		PendingApprovals: []string{},
		StartedAt:        started,
		UpdatedAt:        started,
	}
}

func TestSQLStore_ArchiveExecution(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	exec := archivedExecution("x1", "review", baseTime, graph.ExecutionStatusWaitingInput)
	require.NoError(t, store.ArchiveExecution(ctx, exec))

	// 再次归档覆盖旧快照
	done := baseTime.Add(time.Minute)
	exec.Status = graph.ExecutionStatusCompleted
	exec.CompletedAt = &done
	exec.History.Append(&graph.NodeExecution{NodeID: "publish", Status: graph.NodeStatusCompleted, StartedAt: done})
	require.NoError(t, store.ArchiveExecution(ctx, exec))

	got, err := store.GetArchivedExecution(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, graph.ExecutionStatusCompleted, got.Status)
	assert.Equal(t, "v1", got.State["draft"])
	assert.Equal(t, 2, got.History.Len())
	latest, ok := got.History.Latest("publish")
	require.True(t, ok)
	assert.Equal(t, 2, latest.Sequence)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, done.Equal(*got.CompletedAt))

	_, err = store.GetArchivedExecution(ctx, "missing")
	assert.ErrorIs(t, err, graph.ErrExecutionNotFound)

	assert.ErrorIs(t, store.ArchiveExecution(ctx, nil), ErrInvalidInput)
}

func TestSQLStore_ListArchivedExecutions(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.ArchiveExecution(ctx, archivedExecution("a", "review", baseTime, graph.ExecutionStatusCompleted)))
	require.NoError(t, store.ArchiveExecution(ctx, archivedExecution("b", "review", baseTime.Add(time.Hour), graph.ExecutionStatusFailed)))
	require.NoError(t, store.ArchiveExecution(ctx, archivedExecution("c", "fanout", baseTime.Add(2*time.Hour), graph.ExecutionStatusCompleted)))

	all, err := store.ListArchivedExecutions(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{all[0].ID, all[1].ID, all[2].ID})

	review, err := store.ListArchivedExecutions(ctx, "review", 1)
	require.NoError(t, err)
	require.Len(t, review, 1)
	assert.Equal(t, "b", review[0].ID)
}

func TestSQLStore_DeleteExecutionKeepsArchive(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleCheckpoint("x1", 1)))
	require.NoError(t, store.ArchiveExecution(ctx, archivedExecution("x1", "review", baseTime, graph.ExecutionStatusCompleted)))
	require.NoError(t, store.DeleteExecution(ctx, "x1"))

	_, err := store.GetArchivedExecution(ctx, "x1")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// sqlmock: driver failures
// ---------------------------------------------------------------------------

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	store, err := NewSQLStore(gormDB, zap.NewNop())
	require.NoError(t, err)
	return mockDB, mock, store
}

func TestSQLStore_LoadDriverError(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "agentgraph_checkpoints"`).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.Load(context.Background(), "cp1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, graph.ErrCheckpointNotFound)
	assert.Contains(t, err.Error(), "failed to load checkpoint")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_LoadNoRows(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "agentgraph_checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}))

	_, err := store.Load(context.Background(), "cp1")
	assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveDuplicateRollsBack(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count\(\*\) FROM "agentgraph_checkpoints"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.Save(context.Background(), sampleCheckpoint("e1", 1))
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListQueryError(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "agentgraph_checkpoints" WHERE execution_id = \$1`).
		WithArgs("e1").
		WillReturnError(errors.New("relation does not exist"))

	_, err := store.List(context.Background(), "e1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list checkpoints")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_Ping(t *testing.T) {
	_, mock, store := setupMockStore(t)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, store.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
