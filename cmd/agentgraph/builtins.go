package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
)

// =============================================================================
// 🧰 内置处理器
// =============================================================================
// 定义文件可以直接引用这些处理器，无需编写 Go 代码：
//
//	set    将节点 config 合并进共享状态
//	log    以 info 级别记录 config.message 与当前状态键
//	sleep  等待 config.duration（如 "250ms"），受节点超时约束
//	fail   以 config.message 失败，用于演练失败路径
// =============================================================================

func registerBuiltins(e *graph.Engine, logger *zap.Logger) error {
	builtins := map[string]graph.HandlerFunc{
		"set":   setHandler,
		"log":   logHandler(logger.With(zap.String("component", "builtin_log"))),
		"sleep": sleepHandler,
		"fail":  failHandler,
	}
	for name, fn := range builtins {
		if err := e.RegisterHandler(name, fn); err != nil {
			return fmt.Errorf("register builtin %s: %w", name, err)
		}
	}
	return nil
}

func setHandler(_ context.Context, _ map[string]any, config map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out, nil
}

func logHandler(logger *zap.Logger) graph.HandlerFunc {
	return func(_ context.Context, state map[string]any, config map[string]any) (map[string]any, error) {
		msg, _ := config["message"].(string)
		if msg == "" {
			msg = "graph log node"
		}
		keys := make([]string, 0, len(state))
		for k := range state {
			keys = append(keys, k)
		}
		logger.Info(msg, zap.Strings("state_keys", keys))
		return nil, nil
	}
}

func sleepHandler(ctx context.Context, _ map[string]any, config map[string]any) (map[string]any, error) {
	raw, _ := config["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("sleep: invalid duration %q: %w", raw, err)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failHandler(_ context.Context, _ map[string]any, config map[string]any) (map[string]any, error) {
	msg, _ := config["message"].(string)
	if msg == "" {
		msg = "failed by definition"
	}
	return nil, errors.New(msg)
}
