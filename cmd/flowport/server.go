package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowport/api/handlers"
	"github.com/BaSui01/flowport/config"
	"github.com/BaSui01/flowport/connector"
	"github.com/BaSui01/flowport/dsl"
	"github.com/BaSui01/flowport/importer"
	"github.com/BaSui01/flowport/internal/cache"
	"github.com/BaSui01/flowport/internal/metrics"
	"github.com/BaSui01/flowport/internal/server"
	"github.com/BaSui01/flowport/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 FlowPort 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 数据访问
	conn         connector.Connector
	cacheManager *cache.Manager

	// 业务组件
	workflowService *workflow.Service
	importEngine    *importer.Engine

	// Handlers
	healthHandler   *handlers.HealthHandler
	workflowHandler *handlers.WorkflowHandler
	exportHandler   *handlers.ExportHandler
	importHandler   *handlers.ImportHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("flowport", s.logger)

	// 2. 初始化数据源与业务组件
	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	// 3. 初始化 Handlers
	s.initHandlers()

	// 4. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 5. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("data_source", s.cfg.DataSource),
		zap.Int("target_instances", len(s.cfg.TargetInstances)),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initComponents 初始化数据源连接器、缓存与业务服务
func (s *Server) initComponents() error {
	// 数据源连接器：每个进程恰好一个
	conn, err := connector.Select(s.cfg, s.logger)
	if err != nil {
		return fmt.Errorf("failed to select data source: %w", err)
	}
	s.conn = conn
	s.logger.Info("Data source connector initialized", zap.String("source", conn.Name()))

	// Redis 缓存：可选，不可用时统计缓存退化为直查
	svcOpts := []workflow.Option{workflow.WithMetrics(s.metricsCollector)}
	if s.cfg.Redis.Enabled {
		cm, err := cache.NewManager(cache.FromRedisConfig(s.cfg.Redis), s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, stats caching disabled", zap.Error(err))
		} else {
			s.cacheManager = cm
			svcOpts = append(svcOpts, workflow.WithCache(cm))
		}
	}

	s.workflowService = workflow.NewService(s.conn, dsl.NewExporter(s.logger), s.logger, svcOpts...)
	s.importEngine = importer.NewEngine(s.cfg.Import, s.cfg.TargetInstances, s.logger)

	return nil
}

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.workflowHandler = handlers.NewWorkflowHandler(s.workflowService, s.logger)
	s.exportHandler = handlers.NewExportHandler(s.workflowService, s.logger)
	s.importHandler = handlers.NewImportHandler(s.importEngine, s.metricsCollector, s.logger)

	// 就绪检查覆盖数据源与缓存两类依赖
	s.healthHandler.RegisterCheck(handlers.NewDatasourceHealthCheck(
		s.conn.Name(), s.workflowService.TestConnection))
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.cacheManager.Ping))
	}

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 工作流 API 路由
	// ========================================
	mux.HandleFunc("GET /api/workflows", s.workflowHandler.HandleList)
	mux.HandleFunc("GET /api/workflows/{app_id}/draft", s.workflowHandler.HandleDraft)
	mux.HandleFunc("POST /api/workflows/refresh", s.workflowHandler.HandleRefresh)
	mux.HandleFunc("POST /api/workflows/validate", s.workflowHandler.HandleValidate)
	mux.HandleFunc("GET /api/source/test", s.workflowHandler.HandleSourceTest)

	// ========================================
	// 导出 API 路由
	// ========================================
	mux.HandleFunc("GET /api/apps/{app_id}/export", s.exportHandler.HandleExport)
	mux.HandleFunc("POST /api/workflows/batch-export", s.exportHandler.HandleBatchExport)

	// ========================================
	// 导入 API 路由
	// ========================================
	mux.HandleFunc("POST /api/workflows/import", s.importHandler.HandleImport)
	mux.HandleFunc("POST /api/workflows/import/confirm", s.importHandler.HandleConfirm)
	mux.HandleFunc("POST /api/workflows/batch-import", s.importHandler.HandleBatchImport)
	mux.HandleFunc("GET /api/instances", s.importHandler.HandleListInstances)
	mux.HandleFunc("POST /api/instances/{instance_id}/test", s.importHandler.HandleTestInstance)

	// ========================================
	// 构建中间件链
	// ========================================
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
	)

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

	// 4. 释放数据访问资源
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager close error", zap.Error(err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Error("Connector close error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}
