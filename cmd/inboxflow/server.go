package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/inboxflow/api/handlers"
	"github.com/BaSui01/inboxflow/config"
	"github.com/BaSui01/inboxflow/engine"
	"github.com/BaSui01/inboxflow/internal/metrics"
	"github.com/BaSui01/inboxflow/internal/server"
	"github.com/BaSui01/inboxflow/internal/telemetry"
	"github.com/BaSui01/inboxflow/oracle"
	"github.com/BaSui01/inboxflow/store"
	"github.com/BaSui01/inboxflow/tools"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 InboxFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager *server.Manager

	// Handlers
	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 存储后端连接（memory 后端时为 nil）
	redisClient *redis.Client
	db          *gorm.DB

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("inboxflow", s.logger)

	// 2. 初始化存储、Oracle、引擎和 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.String("storage_backend", s.cfg.Storage.Backend),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化存储后端、工作流引擎和所有 handlers
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)

	checkpoints, preferences, err := s.initStores()
	if err != nil {
		return err
	}

	decisionOracle, err := s.initOracle()
	if err != nil {
		return err
	}

	registry := tools.NewRegistry(s.logger)

	controller := engine.NewController(
		checkpoints,
		preferences,
		decisionOracle,
		registry,
		engine.Config{MaxTurns: s.cfg.Engine.MaxTurns},
		s.metricsCollector,
		s.logger,
	)

	s.workflowHandler = handlers.NewWorkflowHandler(controller, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// initStores 根据配置创建检查点/偏好存储
func (s *Server) initStores() (store.CheckpointStore, store.PreferenceStore, error) {
	switch s.cfg.Storage.Backend {
	case "memory":
		s.logger.Warn("using in-memory storage, workflows will not survive restarts")
		return store.NewMemoryCheckpointStore(), store.NewMemoryPreferenceStore(), nil

	case "redis":
		client, err := store.NewRedisClient(store.RedisConfig{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			Prefix:   s.cfg.Redis.KeyPrefix,
			PoolSize: s.cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		s.redisClient = client
		s.healthHandler.RegisterCheck(handlers.NewStoreHealthCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}))
		prefix := s.cfg.Redis.KeyPrefix
		return store.NewRedisCheckpointStore(client, prefix, s.logger),
			store.NewRedisPreferenceStore(client, prefix, s.logger), nil

	case "database":
		db, err := openDatabase(s.cfg.Database, s.logger)
		if err != nil {
			return nil, nil, err
		}
		if err := store.AutoMigrate(db); err != nil {
			return nil, nil, fmt.Errorf("database auto-migrate failed: %w", err)
		}
		s.db = db
		s.healthHandler.RegisterCheck(handlers.NewStoreHealthCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}))
		return store.NewGormCheckpointStore(db, s.logger),
			store.NewGormPreferenceStore(db, s.logger), nil

	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", s.cfg.Storage.Backend)
	}
}

// initOracle 根据配置创建 Decision Oracle 并套上弹性包装
func (s *Server) initOracle() (oracle.Oracle, error) {
	var inner oracle.Oracle
	switch s.cfg.Oracle.Backend {
	case "static":
		inner = oracle.NewStatic()
	default:
		return nil, fmt.Errorf("unknown oracle backend: %s", s.cfg.Oracle.Backend)
	}

	return oracle.NewResilient(inner, oracle.ResilientConfig{
		Timeout:    s.cfg.Oracle.Timeout,
		MaxRetries: s.cfg.Oracle.MaxRetries,
		RateLimit:  s.cfg.Oracle.RateLimit,
		RateBurst:  s.cfg.Oracle.RateBurst,
	}, s.logger), nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// Prometheus 指标端点
	mux.Handle("/metrics", promhttp.Handler())

	// 工作流 API 路由
	mux.HandleFunc("POST /v1/workflows", s.workflowHandler.HandleStart)
	mux.HandleFunc("POST /v1/workflows/{thread_id}/resume", s.workflowHandler.HandleResume)
	mux.HandleFunc("GET /v1/workflows/{thread_id}", s.workflowHandler.HandleInspect)

	// 构建中间件链
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
	}
	if s.cfg.Server.RateLimitRPS > 0 {
		middlewares = append(middlewares,
			RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger))
	}
	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     s.cfg.Server.IdleTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 2. 关闭 HTTP 服务器（停止接收新请求后再断开后端连接）
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 并发关闭存储连接和遥测
	g, gctx := errgroup.WithContext(ctx)
	if s.redisClient != nil {
		g.Go(func() error {
			return s.redisClient.Close()
		})
	}
	if s.db != nil {
		g.Go(func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
	}
	if s.otelProviders != nil {
		g.Go(func() error {
			return s.otelProviders.Shutdown(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("resource cleanup error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
