// =============================================================================
// AgentGraph 主入口
// =============================================================================
// 图执行服务入口点，包含 HTTP API、健康检查、Prometheus 指标与数据库迁移
//
// 使用方法:
//
//	agentgraph serve                          # 启动服务
//	agentgraph serve --config config.yaml     # 指定配置文件
//	agentgraph run --file flow.yaml           # 本地试运行一个图定义
//	agentgraph validate flows/                # 校验图定义文件
//	agentgraph migrate up                     # 运行数据库迁移
//	agentgraph version                        # 显示版本信息
//	agentgraph health                         # 健康检查
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/internal/tlsutil"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// envPrefix 环境变量前缀
const envPrefix = "AGENTGRAPH"

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "run":
		err = runGraph(os.Args[2:], os.Stdout)
	case "validate":
		err = runValidate(os.Args[2:], os.Stdout)
	case "migrate":
		err = runMigrate(os.Args[2:], os.Stdout)
	case "version":
		printVersion(os.Stdout)
	case "health":
		err = runHealthCheck(os.Args[2:], os.Stdout)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 加载并校验配置（默认值 → 文件 → 环境变量）
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader().WithEnvPrefix(envPrefix)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentGraph",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("AgentGraph stopped")
	return nil
}

// =============================================================================
// ▶️ run 命令：本地试运行
// =============================================================================

func runGraph(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	file := fs.String("file", "", "Graph definition file (.yaml, .yml or .json)")
	input := fs.String("input", "", "Initial state as a JSON object")
	start := fs.String("start", "", "Start node id (default: first node)")
	approve := fs.Bool("approve", false, "Approve every gate and keep walking")
	verbose := fs.Bool("v", false, "Log engine events to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("run: --file is required")
	}

	def, err := graph.LoadDefinitionFile(*file)
	if err != nil {
		return err
	}
	var initial map[string]any
	if *input != "" {
		if err := json.Unmarshal([]byte(*input), &initial); err != nil {
			return fmt.Errorf("run: invalid --input: %w", err)
		}
	}

	logger := zap.NewNop()
	if *verbose {
		logger = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	}

	cfg := graph.DefaultConfig()
	cfg.Retention.Enabled = false
	cfg.ValidateGraphs = true
	engine, err := graph.New(cfg, graph.WithLogger(logger))
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := registerBuiltins(engine, logger); err != nil {
		return err
	}
	if err := engine.RegisterDefinition(def); err != nil {
		return err
	}

	var opts []graph.ExecuteOption
	if *start != "" {
		opts = append(opts, graph.WithStartNode(*start))
	}
	ctx := context.Background()
	exec, err := engine.Execute(ctx, def.ID, initial, opts...)
	for err == nil && *approve && exec.Status == graph.ExecutionStatusWaitingInput {
		for _, req := range engine.GetPendingInputs(exec.ID) {
			if _, err = engine.ProvideInput(req.ID, graph.ResponseApprove); err != nil {
				return err
			}
		}
		exec, err = engine.Resume(ctx, exec.ID)
	}
	if exec == nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(exec); encErr != nil {
		return encErr
	}
	return err
}

// =============================================================================
// ✅ validate 命令
// =============================================================================

func runValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("validate: at least one file or directory is required")
	}

	var defs []*graph.GraphDefinition
	for _, path := range fs.Args() {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			dirDefs, err := graph.LoadDefinitionsDir(path)
			if err != nil {
				return err
			}
			defs = append(defs, dirDefs...)
			continue
		}
		def, err := graph.LoadDefinitionFile(path)
		if err != nil {
			return err
		}
		defs = append(defs, def)
	}

	var errs []error
	for _, def := range defs {
		if err := graph.ValidateNodes(def.Nodes, nil); err != nil {
			errs = append(errs, fmt.Errorf("graph %s: %w", def.ID, err))
			continue
		}
		fmt.Fprintf(out, "ok  %s (%d nodes)\n", def.ID, len(def.Nodes))
	}
	return errors.Join(errs...)
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/ready", "Probe path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := tlsutil.SecureHTTPClient(5 * time.Second)
	resp, err := client.Get(*addr + *path)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "AgentGraph %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintf(out, `AgentGraph - graph execution engine for multi-step workflows

Usage:
  %s <command> [options]

Commands:
  serve     Start the AgentGraph server
  run       Execute a graph definition locally and print the execution
  validate  Check graph definition files
  migrate   Database migration commands
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --file <path>     Graph definition file
  --input <json>    Initial state
  --start <id>      Start node
  --approve         Approve every gate and resume

Examples:
  agentgraph serve --config /etc/agentgraph/config.yaml
  agentgraph run --file flows/order.yaml --input '{"amount": 42}' --approve
  agentgraph validate flows/
  agentgraph migrate up --config config.yaml
  agentgraph health --addr http://localhost:8080
`, filepath.Base(os.Args[0]))
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
