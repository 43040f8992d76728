package persistence

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentgraph/graph"
)

// brokenStore fails every call.
type brokenStore struct {
	closed atomic.Bool
}

var errBroken = errors.New("backend unavailable")

func (*brokenStore) Save(context.Context, *graph.Checkpoint) error { return errBroken }
func (*brokenStore) Load(context.Context, string) (*graph.Checkpoint, error) {
	return nil, errBroken
}
func (*brokenStore) List(context.Context, string) ([]*graph.Checkpoint, error) {
	return nil, errBroken
}
func (*brokenStore) DeleteExecution(context.Context, string) error { return errBroken }
func (*brokenStore) Ping(context.Context) error                    { return errBroken }
func (b *brokenStore) Close() error {
	b.closed.Store(true)
	return nil
}

func TestNewMultiStore_RequiresStores(t *testing.T) {
	_, err := NewMultiStore()
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestMultiStore_Contract(t *testing.T) {
	_, redisStore := newMiniredisStore(t, 0)
	multi, err := NewMultiStore(NewMemoryStore(), redisStore)
	require.NoError(t, err)
	runStoreContract(t, multi)
}

func TestMultiStore_WritesEveryBackend(t *testing.T) {
	primary, secondary := NewMemoryStore(), NewMemoryStore()
	multi, err := NewMultiStore(primary, secondary)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, multi.Save(ctx, sampleCheckpoint("e1", 1)))
	for _, s := range []Store{primary, secondary} {
		_, err := s.Load(ctx, "e1-cp1")
		assert.NoError(t, err)
	}

	require.NoError(t, multi.DeleteExecution(ctx, "e1"))
	for _, s := range []Store{primary, secondary} {
		_, err := s.Load(ctx, "e1-cp1")
		assert.ErrorIs(t, err, graph.ErrCheckpointNotFound)
	}
}

func TestMultiStore_ReadsFallBack(t *testing.T) {
	primary, secondary := NewMemoryStore(), NewMemoryStore()
	multi, err := NewMultiStore(primary, secondary)
	require.NoError(t, err)
	ctx := context.Background()

	// 只写入第二个后端
	require.NoError(t, secondary.Save(ctx, sampleCheckpoint("e1", 1)))
	require.NoError(t, secondary.Save(ctx, sampleCheckpoint("e1", 2)))

	cp, err := multi.Load(ctx, "e1-cp2")
	require.NoError(t, err)
	assert.Equal(t, 2, cp.Sequence)

	list, err := multi.List(ctx, "e1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestMultiStore_BackendFailures(t *testing.T) {
	broken := &brokenStore{}
	healthy := NewMemoryStore()
	multi, err := NewMultiStore(broken, healthy)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, multi.Save(ctx, sampleCheckpoint("e1", 1)), errBroken)
	assert.ErrorIs(t, multi.Ping(ctx), errBroken)

	require.NoError(t, healthy.Save(ctx, sampleCheckpoint("e2", 1)))
	// 读取跳过故障后端
	_, err = multi.Load(ctx, "e2-cp1")
	assert.NoError(t, err)
	list, err := multi.List(ctx, "e2")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// 未命中时报告真实故障，而不是“未找到”
	_, err = multi.Load(ctx, "missing")
	assert.ErrorIs(t, err, errBroken)

	onlyBroken, err := NewMultiStore(broken)
	require.NoError(t, err)
	_, err = onlyBroken.List(ctx, "e2")
	assert.ErrorIs(t, err, errBroken)

	require.NoError(t, multi.Close())
	assert.True(t, broken.closed.Load())
}

// ---------------------------------------------------------------------------
// Op timeout
// ---------------------------------------------------------------------------

// deadlineStore records whether calls carry a deadline.
type deadlineStore struct {
	Store
	sawDeadline atomic.Bool
}

func (d *deadlineStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	_, ok := ctx.Deadline()
	d.sawDeadline.Store(ok)
	return d.Store.Save(ctx, cp)
}

func TestWithOpTimeout(t *testing.T) {
	inner := &deadlineStore{Store: NewMemoryStore()}
	assert.Same(t, Store(inner), WithOpTimeout(inner, 0))

	bounded := WithOpTimeout(inner, time.Second)
	require.NoError(t, bounded.Save(context.Background(), sampleCheckpoint("e1", 1)))
	assert.True(t, inner.sawDeadline.Load())

	_, err := bounded.Load(context.Background(), "e1-cp1")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.Redis.Addr = mr.Addr()

	t.Run("memory", func(t *testing.T) {
		s, err := NewStore(ctx, cfg, Deps{})
		require.NoError(t, err)
		runStoreContract(t, s)
	})

	t.Run("redis", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeRedis
		s, err := NewStore(ctx, c, Deps{})
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Save(ctx, sampleCheckpoint("factory", 1)))
		assert.True(t, mr.Exists("agentgraph:checkpoint:data:factory-cp1"))
	})

	t.Run("sql requires db", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeSQL
		_, err := NewStore(ctx, c, Deps{})
		assert.Error(t, err)
	})

	t.Run("sql", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeSQL
		s, err := NewStore(ctx, c, Deps{DB: newSQLiteDB(t), Logger: zaptest.NewLogger(t)})
		require.NoError(t, err)
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("multi", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeMulti
		c.Backends = []StoreType{StoreTypeMemory, StoreTypeRedis}
		s, err := NewStore(ctx, c, Deps{})
		require.NoError(t, err)
		defer s.Close()
		require.NoError(t, s.Save(ctx, sampleCheckpoint("multi", 1)))
		assert.True(t, mr.Exists("agentgraph:checkpoint:data:multi-cp1"))
	})

	t.Run("multi cannot nest", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeMulti
		c.Backends = []StoreType{StoreTypeMemory, StoreTypeMulti}
		_, err := NewStore(ctx, c, Deps{})
		assert.Error(t, err)
	})

	t.Run("multi backend failure", func(t *testing.T) {
		c := cfg
		c.Type = StoreTypeMulti
		c.Backends = []StoreType{StoreTypeMemory, StoreTypeSQL}
		_, err := NewStore(ctx, c, Deps{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create sql backend")
	})

	t.Run("unknown", func(t *testing.T) {
		c := cfg
		c.Type = "etcd"
		_, err := NewStore(ctx, c, Deps{})
		assert.Error(t, err)
	})
}
