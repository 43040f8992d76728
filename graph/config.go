package graph

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the engine limits. Field tags are consumed by the config loader.
type Config struct {
	// MaxParallelNodes bounds concurrent branches inside one parallel node.
	MaxParallelNodes int `yaml:"max_parallel_nodes" env:"MAX_PARALLEL_NODES" json:"max_parallel_nodes"`
	// MaxLoopIterations caps every loop regardless of its own max_iterations.
	MaxLoopIterations int `yaml:"max_loop_iterations" env:"MAX_LOOP_ITERATIONS" json:"max_loop_iterations"`
	// DefaultTimeout bounds a single handler invocation.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT" json:"default_timeout"`
	// EnableCheckpointing turns on periodic snapshots.
	EnableCheckpointing bool `yaml:"enable_checkpointing" env:"ENABLE_CHECKPOINTING" json:"enable_checkpointing"`
	// CheckpointInterval is the number of completed node executions between snapshots.
	CheckpointInterval int `yaml:"checkpoint_interval" env:"CHECKPOINT_INTERVAL" json:"checkpoint_interval"`
	// HumanInputTimeout is the default lifetime of an approval request.
	HumanInputTimeout time.Duration `yaml:"human_input_timeout" env:"HUMAN_INPUT_TIMEOUT" json:"human_input_timeout"`
	// MaxSteps bounds the number of frontier steps one walk may take. 0 disables the bound.
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS" json:"max_steps"`
	// ValidateGraphs rejects structurally broken graphs at registration.
	ValidateGraphs bool `yaml:"validate_graphs" env:"VALIDATE_GRAPHS" json:"validate_graphs"`
	// Retention controls eviction of resident executions.
	Retention RetentionConfig `yaml:"retention" env:"RETENTION" json:"retention"`
}

// RetentionConfig controls the background sweeper.
type RetentionConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED" json:"enabled"`
	// Interval between sweeps.
	Interval time.Duration `yaml:"interval" env:"INTERVAL" json:"interval"`
	// MaxAge evicts finished executions older than this, and idle waiting ones. 0 disables.
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE" json:"max_age"`
	// MaxExecutions keeps at most this many finished executions. 0 disables.
	MaxExecutions int `yaml:"max_executions" env:"MAX_EXECUTIONS" json:"max_executions"`
}

// DefaultConfig returns the stock engine limits.
func DefaultConfig() Config {
	return Config{
		MaxParallelNodes:    10,
		MaxLoopIterations:   100,
		DefaultTimeout:      60 * time.Second,
		EnableCheckpointing: true,
		CheckpointInterval:  5,
		HumanInputTimeout:   300 * time.Second,
		MaxSteps:            10000,
		Retention: RetentionConfig{
			Enabled:       true,
			Interval:      time.Minute,
			MaxAge:        24 * time.Hour,
			MaxExecutions: 1000,
		},
	}
}

// Validate checks the limits.
func (c Config) Validate() error {
	var errs []error
	if c.MaxParallelNodes <= 0 {
		errs = append(errs, fmt.Errorf("max_parallel_nodes must be positive, got %d", c.MaxParallelNodes))
	}
	if c.MaxLoopIterations <= 0 {
		errs = append(errs, fmt.Errorf("max_loop_iterations must be positive, got %d", c.MaxLoopIterations))
	}
	if c.DefaultTimeout <= 0 {
		errs = append(errs, fmt.Errorf("default_timeout must be positive, got %s", c.DefaultTimeout))
	}
	if c.EnableCheckpointing && c.CheckpointInterval < 1 {
		errs = append(errs, fmt.Errorf("checkpoint_interval must be at least 1, got %d", c.CheckpointInterval))
	}
	if c.HumanInputTimeout < 0 {
		errs = append(errs, fmt.Errorf("human_input_timeout must not be negative, got %s", c.HumanInputTimeout))
	}
	if c.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("max_steps must not be negative, got %d", c.MaxSteps))
	}
	if c.Retention.Enabled && c.Retention.Interval <= 0 {
		errs = append(errs, fmt.Errorf("retention.interval must be positive, got %s", c.Retention.Interval))
	}
	if c.Retention.MaxAge < 0 || c.Retention.MaxExecutions < 0 {
		errs = append(errs, errors.New("retention limits must not be negative"))
	}
	return errors.Join(errs...)
}
