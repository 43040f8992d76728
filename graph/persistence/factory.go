package persistence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps carries shared connections a backend may need.
type Deps struct {
	// DB is required for the "sql" backend
	DB *gorm.DB

	Logger *zap.Logger
}

// NewStore creates the backend selected by cfg.Type, bounded by cfg.OpTimeout.
func NewStore(ctx context.Context, cfg Config, deps Deps) (Store, error) {
	s, err := newStore(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	return WithOpTimeout(s, cfg.OpTimeout), nil
}

func newStore(ctx context.Context, cfg Config, deps Deps) (Store, error) {
	switch cfg.Type {
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisCheckpointStore(ctx, cfg.Redis)
	case StoreTypeSQL:
		if deps.DB == nil {
			return nil, errors.New("sql checkpoint store requires a database connection")
		}
		return NewSQLStore(deps.DB, deps.Logger)
	case StoreTypeMongo:
		return NewMongoCheckpointStore(ctx, cfg.Mongo)
	case StoreTypeMulti:
		return newMulti(ctx, cfg, deps)
	default:
		return nil, fmt.Errorf("unsupported checkpoint store type: %s", cfg.Type)
	}
}

func newMulti(ctx context.Context, cfg Config, deps Deps) (Store, error) {
	stores := make([]Store, 0, len(cfg.Backends))
	for _, t := range cfg.Backends {
		if t == StoreTypeMulti {
			return nil, errors.New("multi store cannot nest another multi store")
		}
		sub := cfg
		sub.Type = t
		s, err := newStore(ctx, sub, deps)
		if err != nil {
			for _, opened := range stores {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("failed to create %s backend: %w", t, err)
		}
		stores = append(stores, s)
	}
	return NewMultiStore(stores...)
}
