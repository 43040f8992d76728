package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentgraph/graph"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
	ErrDuplicate    = errors.New("checkpoint already exists")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
	StoreTypeMulti  StoreType = "multi"
)

// Store is a durable checkpoint store with lifecycle hooks.
type Store interface {
	graph.CheckpointStore

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close releases the store's connections
	Close() error
}

// Config selects and configures a checkpoint backend.
type Config struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Backends lists the fan-out targets when Type is "multi"
	Backends []StoreType `json:"backends,omitempty" yaml:"backends,omitempty"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// Mongo configuration (only used when Type is "mongo")
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo"`

	// OpTimeout bounds each backend call made without a caller deadline
	OpTimeout time.Duration `json:"op_timeout" yaml:"op_timeout"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
	TLS       bool   `json:"tls" yaml:"tls"`

	// TTL expires checkpoint keys; zero keeps them forever
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

// DefaultConfig returns the default store configuration
func DefaultConfig() Config {
	return Config{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agentgraph:",
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "agentgraph",
			Collection: "checkpoints",
		},
		OpTimeout: 5 * time.Second,
	}
}

func encodeCheckpoint(cp *graph.Checkpoint) ([]byte, error) {
	if cp == nil || cp.ID == "" || cp.ExecutionID == "" {
		return nil, fmt.Errorf("%w: checkpoint id and execution id are required", ErrInvalidInput)
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

func decodeCheckpoint(data []byte) (*graph.Checkpoint, error) {
	var cp graph.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", graph.ErrCheckpointNotFound, id)
}

// withTimeout bounds ctx by d unless ctx already has a deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// timeoutStore applies a per-call deadline to calls whose context has none.
type timeoutStore struct {
	Store
	d time.Duration
}

// WithOpTimeout bounds every call on s by d. A zero d returns s unchanged.
func WithOpTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return timeoutStore{Store: s, d: d}
}

func (t timeoutStore) Save(ctx context.Context, cp *graph.Checkpoint) error {
	ctx, cancel := withTimeout(ctx, t.d)
	defer cancel()
	return t.Store.Save(ctx, cp)
}

func (t timeoutStore) Load(ctx context.Context, checkpointID string) (*graph.Checkpoint, error) {
	ctx, cancel := withTimeout(ctx, t.d)
	defer cancel()
	return t.Store.Load(ctx, checkpointID)
}

func (t timeoutStore) List(ctx context.Context, executionID string) ([]*graph.Checkpoint, error) {
	ctx, cancel := withTimeout(ctx, t.d)
	defer cancel()
	return t.Store.List(ctx, executionID)
}

func (t timeoutStore) DeleteExecution(ctx context.Context, executionID string) error {
	ctx, cancel := withTimeout(ctx, t.d)
	defer cancel()
	return t.Store.DeleteExecution(ctx, executionID)
}

func (t timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, t.d)
	defer cancel()
	return t.Store.Ping(ctx)
}
