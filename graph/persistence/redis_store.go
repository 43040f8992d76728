package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
)

// RedisCheckpointStore is a Redis-based implementation of graph.CheckpointStore.
// Each checkpoint is a JSON string key; a sorted set per execution, scored by
// checkpoint sequence, keeps creation order.
type RedisCheckpointStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	ownClient bool
}

// NewRedisCheckpointStore connects to Redis and verifies the connection.
func NewRedisCheckpointStore(ctx context.Context, cfg RedisStoreConfig) (*RedisCheckpointStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}
	if cfg.TLS {
		opts.TLSConfig = tlsutil.ClientConfig(cfg.Addr)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisCheckpointStoreWithClient(client, cfg.KeyPrefix, cfg.TTL)
	store.ownClient = true
	return store, nil
}

// NewRedisCheckpointStoreWithClient wraps an existing client. The caller keeps
// ownership of the client.
func NewRedisCheckpointStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCheckpointStore {
	if keyPrefix == "" {
		keyPrefix = "agentgraph:"
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       ttl,
	}
}

// Close closes the client if the store created it
func (s *RedisCheckpointStore) Close() error {
	if !s.ownClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// dataKey returns the Redis key for a checkpoint
func (s *RedisCheckpointStore) dataKey(checkpointID string) string {
	return s.keyPrefix + "data:" + checkpointID
}

// execKey returns the Redis key for an execution's checkpoint index
func (s *RedisCheckpointStore) execKey(executionID string) string {
	return s.keyPrefix + "exec:" + executionID
}

// Save stores cp. Saving an id twice fails with ErrDuplicate.
func (s *RedisCheckpointStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	data, err := encodeCheckpoint(cp)
	if err != nil {
		return err
	}

	created, err := s.client.SetNX(ctx, s.dataKey(cp.ID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrDuplicate, cp.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.execKey(cp.ExecutionID), redis.Z{Score: float64(cp.Sequence), Member: cp.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.execKey(cp.ExecutionID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to index checkpoint: %w", err)
	}
	return nil
}

// Load retrieves a checkpoint by ID
func (s *RedisCheckpointStore) Load(ctx context.Context, checkpointID string) (*graph.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(checkpointID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return decodeCheckpoint(data)
}

// List returns an execution's checkpoints in creation order. Index entries
// whose data key has expired are skipped.
func (s *RedisCheckpointStore) List(ctx context.Context, executionID string) ([]*graph.Checkpoint, error) {
	ids, err := s.client.ZRange(ctx, s.execKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	if len(ids) == 0 {
		return []*graph.Checkpoint{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.dataKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoints: %w", err)
	}

	result := make([]*graph.Checkpoint, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		cp, err := decodeCheckpoint([]byte(str))
		if err != nil {
			return nil, err
		}
		result = append(result, cp)
	}
	return result, nil
}

// DeleteExecution removes every checkpoint of an execution
func (s *RedisCheckpointStore) DeleteExecution(ctx context.Context, executionID string) error {
	ids, err := s.client.ZRange(ctx, s.execKey(executionID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}

	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.dataKey(id))
	}
	pipe.Del(ctx, s.execKey(executionID))
	_, err = pipe.Exec(ctx)
	return err
}

// Ensure RedisCheckpointStore implements Store
var _ Store = (*RedisCheckpointStore)(nil)
