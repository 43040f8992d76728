package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentgraph/api/handlers"
	"github.com/BaSui01/agentgraph/config"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/graph/persistence"
	"github.com/BaSui01/agentgraph/internal/database"
	"github.com/BaSui01/agentgraph/internal/metrics"
	"github.com/BaSui01/agentgraph/internal/migration"
	"github.com/BaSui01/agentgraph/internal/server"
	"github.com/BaSui01/agentgraph/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 组装引擎、存储与 HTTP 监听器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	otel      *telemetry.Providers

	pool    *database.PoolManager
	store   persistence.Store
	archive *persistence.SQLStore
	engine  *graph.Engine
	watcher *config.FileWatcher

	health  *handlers.HealthHandler
	handler http.Handler

	httpManager    *server.Manager
	metricsManager *server.Manager

	closers []func(context.Context) error
}

// NewServer 按配置构建全部组件，不启动监听
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Server, err error) {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	// 初始化失败时释放已创建的组件
	defer func() {
		if err != nil {
			s.close(context.Background())
		}
	}()

	s.registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("agentgraph", s.registry, logger)

	if err := s.initTelemetry(); err != nil {
		return nil, err
	}
	if err := s.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := s.initStore(ctx); err != nil {
		return nil, err
	}
	if err := s.initEngine(ctx); err != nil {
		return nil, err
	}
	s.initHTTP(ctx)
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initTelemetry() error {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		// 遥测不可用不阻止服务启动
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
		providers = &telemetry.Providers{}
	}
	s.otel = providers
	s.closers = append(s.closers, providers.Shutdown)
	return nil
}

func (s *Server) initDatabase(ctx context.Context) error {
	if s.cfg.Database.Driver == "" {
		return nil
	}
	pool, err := database.Open(s.cfg.Database, s.logger, database.WithStatsHook(func(st database.PoolStats) {
		s.collector.RecordDBConnections(s.cfg.Database.Driver, st.OpenConnections, st.Idle)
	}))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.pool = pool
	s.closers = append(s.closers, func(context.Context) error { return pool.Close() })

	if s.cfg.Store.AutoMigrate {
		dbType, err := migration.ParseDatabaseType(s.cfg.Database.Driver)
		if err != nil {
			return err
		}
		m, err := migration.NewMigratorWithDB(pool.SQLDB(), dbType)
		if err != nil {
			return fmt.Errorf("failed to create migrator: %w", err)
		}
		defer m.Close()
		if err := m.Up(ctx); err != nil {
			return fmt.Errorf("failed to apply migrations: %w", err)
		}
		s.logger.Info("database migrations applied", zap.String("driver", s.cfg.Database.Driver))
	}
	return nil
}

// storeConfig 将应用配置映射为 persistence.Config
func storeConfig(cfg *config.Config) persistence.Config {
	sc := persistence.DefaultConfig()
	if cfg.Store.Type != "" {
		sc.Type = persistence.StoreType(cfg.Store.Type)
	}
	for _, b := range cfg.Store.Backends {
		sc.Backends = append(sc.Backends, persistence.StoreType(b))
	}
	if cfg.Store.OpTimeout > 0 {
		sc.OpTimeout = cfg.Store.OpTimeout
	}

	if cfg.Redis.Addr != "" {
		sc.Redis.Addr = cfg.Redis.Addr
	}
	sc.Redis.Password = cfg.Redis.Password
	sc.Redis.DB = cfg.Redis.DB
	sc.Redis.TLS = cfg.Redis.TLS
	if cfg.Redis.PoolSize > 0 {
		sc.Redis.PoolSize = cfg.Redis.PoolSize
	}
	if cfg.Store.KeyPrefix != "" {
		sc.Redis.KeyPrefix = cfg.Store.KeyPrefix
	}
	sc.Redis.TTL = cfg.Store.TTL

	if cfg.Mongo.URI != "" {
		sc.Mongo.URI = cfg.Mongo.URI
	}
	if cfg.Mongo.Database != "" {
		sc.Mongo.Database = cfg.Mongo.Database
	}
	if cfg.Mongo.Collection != "" {
		sc.Mongo.Collection = cfg.Mongo.Collection
	}
	return sc
}

func (s *Server) initStore(ctx context.Context) error {
	deps := persistence.Deps{Logger: s.logger}
	if s.pool != nil {
		deps.DB = s.pool.DB()
	}

	store, err := persistence.NewStore(ctx, storeConfig(s.cfg), deps)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint store: %w", err)
	}
	s.store = store
	s.closers = append(s.closers, func(context.Context) error { return store.Close() })

	if s.cfg.Store.ArchiveExecutions {
		if s.pool == nil {
			return errors.New("store.archive_executions requires a database")
		}
		archive, err := persistence.NewSQLStore(s.pool.DB(), s.logger)
		if err != nil {
			return fmt.Errorf("failed to create execution archive: %w", err)
		}
		s.archive = archive
	}

	s.logger.Info("checkpoint store ready",
		zap.String("type", s.cfg.Store.Type),
		zap.Bool("archive", s.archive != nil),
	)
	return nil
}

func (s *Server) initEngine(ctx context.Context) error {
	opts := []graph.Option{
		graph.WithLogger(s.logger),
		graph.WithCheckpointStore(s.store),
		graph.WithObserver(s.collector),
	}

	tracing, err := telemetry.NewObserver(s.otel.Tracer(), s.otel.Meter(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to create telemetry observer: %w", err)
	}
	opts = append(opts, graph.WithObserver(tracing))

	if s.archive != nil {
		opts = append(opts, graph.WithObserver(persistence.NewArchiver(s.archive, s.cfg.Store.OpTimeout, s.logger)))
	}

	engine, err := graph.New(s.cfg.Engine, opts...)
	if err != nil {
		return err
	}
	s.engine = engine
	s.closers = append(s.closers, func(context.Context) error { return engine.Close() })

	if err := registerBuiltins(engine, s.logger); err != nil {
		return err
	}
	if err := s.loadGraphs(ctx); err != nil {
		return err
	}

	s.registry.MustRegister(metrics.NewEngineStatsCollector("agentgraph", engine))
	return engine.Start(ctx)
}

func (s *Server) loadGraphs(ctx context.Context) error {
	dir := s.cfg.Graphs.Dir
	if dir == "" {
		return nil
	}
	defs, err := graph.LoadDefinitionsDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := s.engine.RegisterDefinition(def); err != nil {
			return fmt.Errorf("graph %s: %w", def.ID, err)
		}
	}
	s.logger.Info("graph definitions loaded", zap.String("dir", dir), zap.Int("count", len(defs)))

	if !s.cfg.Graphs.Watch {
		return nil
	}
	w, err := config.NewDefinitionWatcher(s.cfg.Graphs, s.engine, s.logger)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	s.watcher = w
	s.closers = append(s.closers, func(context.Context) error { return w.Stop() })
	return nil
}

// =============================================================================
// 🌐 HTTP
// =============================================================================

var skipAuthPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

func (s *Server) initHTTP(ctx context.Context) {
	s.health = handlers.NewHealthHandler(s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("checkpoint_store", s.store.Ping))
	if s.pool != nil {
		s.health.RegisterCheck(handlers.NewPingCheck("database", s.pool.Ping))
	}

	mux := http.NewServeMux()
	s.health.Register(mux, Version, BuildTime, GitCommit)

	var archive handlers.ExecutionArchive
	if s.archive != nil {
		archive = s.archive
	}
	handlers.NewGraphHandler(s.engine, archive, s.logger).Register(mux)

	sc := s.cfg.Server
	s.handler = Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		CORS(sc.CORSAllowedOrigins),
		APIKeyAuth(sc.APIKeys, skipAuthPaths, s.logger),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
	)

	s.httpManager = server.NewManager("api", s.handler, server.ConfigFor(sc.HTTPPort, sc), s.logger)

	if sc.MetricsPort > 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		s.metricsManager = server.NewManager("metrics", metricsMux, server.ConfigFor(sc.MetricsPort, sc), s.logger)
	}
}

// Handler 返回带中间件链的 API 处理器
func (s *Server) Handler() http.Handler { return s.handler }

// Engine 返回图执行引擎
func (s *Server) Engine() *graph.Engine { return s.engine }

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 启动 API 与 Metrics 监听器，ctx 结束后优雅关闭全部组件
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}

	s.logger.Info("AgentGraph serving",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	err := g.Wait()

	shutdownTimeout := s.cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.close(sctx)
	return err
}

// close 逆序释放已创建的组件
func (s *Server) close(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	s.closers = nil
	s.logger.Info("graceful shutdown completed")
}
