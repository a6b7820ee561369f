package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskrelay/taskrelay/api/handlers"
	"github.com/taskrelay/taskrelay/config"
	"github.com/taskrelay/taskrelay/internal/cache"
	"github.com/taskrelay/taskrelay/internal/database"
	"github.com/taskrelay/taskrelay/internal/metrics"
	"github.com/taskrelay/taskrelay/internal/server"
	"github.com/taskrelay/taskrelay/internal/telemetry"
	"github.com/taskrelay/taskrelay/relay"
	"github.com/taskrelay/taskrelay/relay/persistence"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 TaskRelay 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 存储与领域层
	backend      persistence.Backend
	poolManager  *database.PoolManager
	cacheManager *cache.Manager
	executor     *relay.Executor

	// Handlers
	healthHandler       *handlers.HealthHandler
	transferHandler     *handlers.TransferHandler
	chainHandler        *handlers.ChainHandler
	taskHandler         *handlers.TaskHandler
	collaboratorHandler *handlers.CollaboratorHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// 后台 goroutine 生命周期
	bgCtx    context.Context
	bgCancel context.CancelFunc
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
	s.metricsCollector = metrics.NewCollector("taskrelay", s.logger)

	// 2. 初始化存储后端
	if err := s.initBackend(); err != nil {
		return fmt.Errorf("failed to init storage backend: %w", err)
	}

	// 3. 初始化领域层与 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 6. 后台上报连接池指标
	s.startPoolStatsLoop()

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("storage_type", s.cfg.Storage.Type),
		zap.Bool("chain_cache", s.cfg.Storage.CacheEnabled),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initBackend 按配置初始化存储后端（memory 或 gorm，带可选链缓存）
func (s *Server) initBackend() error {
	opts := persistence.Options{
		Type:        persistence.StoreType(s.cfg.Storage.Type),
		AutoMigrate: s.cfg.Storage.AutoMigrate,
	}

	if opts.Type == persistence.StoreTypeGorm {
		db, err := database.Open(s.cfg.Database.Driver, s.cfg.Database.DSN(), s.logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}

		poolCfg := database.DefaultPoolConfig()
		if s.cfg.Database.MaxOpenConns > 0 {
			poolCfg.MaxOpenConns = s.cfg.Database.MaxOpenConns
		}
		if s.cfg.Database.MaxIdleConns > 0 {
			poolCfg.MaxIdleConns = s.cfg.Database.MaxIdleConns
		}
		if s.cfg.Database.ConnMaxLifetime > 0 {
			poolCfg.ConnMaxLifetime = s.cfg.Database.ConnMaxLifetime
		}

		s.poolManager, err = database.NewPoolManager(db, poolCfg, s.logger)
		if err != nil {
			return fmt.Errorf("init connection pool: %w", err)
		}
		opts.DB = s.poolManager.DB()
	}

	// 链缓存，失败时降级为直连存储
	if s.cfg.Storage.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Addr = s.cfg.Redis.Addr
		cacheCfg.Password = s.cfg.Redis.Password
		cacheCfg.DB = s.cfg.Redis.DB
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns

		mgr, err := cache.NewManager(cacheCfg, s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, chain cache disabled", zap.Error(err))
		} else {
			s.cacheManager = mgr
			opts.Cache = mgr
			opts.CacheTTL = s.cfg.Storage.CacheTTL
		}
	}

	backend, err := persistence.New(opts, s.logger)
	if err != nil {
		return err
	}
	s.backend = backend
	return nil
}

// initHandlers 初始化领域层与全部 handlers
func (s *Server) initHandlers() {
	s.executor = relay.NewExecutor(s.backend, s.backend, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewPingCheck("storage", s.backend.Ping))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingCheck("redis", s.cacheManager.Ping))
	}

	s.transferHandler = handlers.NewTransferHandler(s.executor, s.metricsCollector, s.logger)
	s.chainHandler = handlers.NewChainHandler(s.backend, s.metricsCollector, s.logger)
	s.taskHandler = handlers.NewTaskHandler(s.backend, s.backend, s.logger)
	s.collaboratorHandler = handlers.NewCollaboratorHandler(s.backend, s.logger)

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// API 路由
	s.transferHandler.RegisterRoutes(mux)
	s.chainHandler.RegisterRoutes(mux)
	s.taskHandler.RegisterRoutes(mux)
	s.collaboratorHandler.RegisterRoutes(mux)

	// 中间件链。认证跳过健康类端点。
	skipAuthPaths := []string{"/healthz", "/readyz", "/version"}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.RateLimit.Enabled {
		middlewares = append(middlewares,
			RateLimiter(s.bgCtx, s.cfg.RateLimit.RequestsPerSecond, s.cfg.RateLimit.Burst, s.logger))
	}
	middlewares = append(middlewares, JWTAuth(s.cfg.Auth, skipAuthPaths, s.logger))

	handler := Chain(mux, middlewares...)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
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
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// startPoolStatsLoop 周期性上报连接池指标
func (s *Server) startPoolStatsLoop() {
	if s.poolManager == nil || s.bgCtx == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := s.poolManager.GetStats()
				s.metricsCollector.RecordDBConnections(s.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
			case <-s.bgCtx.Done():
				return
			}
		}
	}()
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

	// 1. 停止后台 goroutine
	if s.bgCancel != nil {
		s.bgCancel()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭存储后端与缓存
	if s.backend != nil {
		if err := s.backend.Close(); err != nil {
			s.logger.Error("Storage backend close error", zap.Error(err))
		}
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager close error", zap.Error(err))
		}
	}
	if s.poolManager != nil {
		if err := s.poolManager.Close(); err != nil {
			s.logger.Error("Database pool close error", zap.Error(err))
		}
	}

	// 5. 关闭遥测
	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
