package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jobflow/orchestrator/agents"
	"github.com/jobflow/orchestrator/api/handlers"
	"github.com/jobflow/orchestrator/breaker"
	"github.com/jobflow/orchestrator/config"
	"github.com/jobflow/orchestrator/internal/metrics"
	"github.com/jobflow/orchestrator/internal/queue"
	"github.com/jobflow/orchestrator/internal/server"
	"github.com/jobflow/orchestrator/internal/telemetry"
	"github.com/jobflow/orchestrator/tasks"
	"github.com/jobflow/orchestrator/workflow"
)

// Server wires the orchestrator's components together and owns their
// lifecycle.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	collector   *metrics.Collector
	queueClient *queue.Client
	breakers    *breaker.Registry
	engine      *workflow.Engine
	frontdoor   *tasks.Service

	healthHandler    *handlers.HealthHandler
	tasksHandler     *handlers.TasksHandler
	workflowsHandler *handlers.WorkflowsHandler
	agentsHandler    *handlers.AgentsHandler

	otelProviders *telemetry.Providers

	backgroundCtx    context.Context
	backgroundCancel context.CancelFunc
}

// NewServer creates the orchestrator server.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// Start builds the component graph and starts the listeners.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("orchestrator", s.logger)

	if err := s.initComponents(); err != nil {
		return fmt.Errorf("failed to init components: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	return nil
}

// unavailableQueue stands in when Redis is not reachable at startup, so
// queued task submissions fail with a retryable error instead of a panic.
type unavailableQueue struct{}

func (unavailableQueue) Enqueue(context.Context, string, map[string]any, queue.Options) (string, error) {
	return "", fmt.Errorf("task queue is not available")
}

func (s *Server) initComponents() error {
	// background task queue; the orchestrator still serves workflow tasks
	// when Redis is down
	var taskQueue tasks.Queue = unavailableQueue{}
	queueClient, err := queue.NewClient(queue.Config{
		Addr:     s.cfg.Queue.Addr,
		Password: s.cfg.Queue.Password,
		DB:       s.cfg.Queue.DB,
		PoolSize: s.cfg.Queue.PoolSize,
		JobTTL:   s.cfg.Queue.JobTTL,
	}, s.logger)
	if err != nil {
		s.logger.Warn("Task queue not available, background tasks disabled", zap.Error(err))
	} else {
		s.queueClient = queueClient
		taskQueue = queueClient
	}

	s.breakers = breaker.NewRegistry(breaker.Config{
		Timeout:                  s.cfg.Breaker.Timeout,
		ErrorThresholdPercentage: s.cfg.Breaker.ErrorThresholdPercentage,
		ResetTimeout:             s.cfg.Breaker.ResetTimeout,
		VolumeThreshold:          s.cfg.Breaker.VolumeThreshold,
		WindowSize:               s.cfg.Breaker.WindowSize,
	}, s.logger).WithStateListener(func(agentID string, state breaker.State) {
		s.collector.SetBreakerState(agentID, int(state))
	})

	tableCfg := agents.DefaultTableConfig()
	if s.cfg.Dispatch.DefaultTimeout > 0 {
		tableCfg.DefaultTimeout = s.cfg.Dispatch.DefaultTimeout
	}
	table := agents.NewTable(tableCfg)

	dispatcher := agents.NewClient(table, s.breakers, s.collector, s.logger)

	registry := workflow.NewRegistry(table, s.logger)
	if err := workflow.RegisterCatalog(registry); err != nil {
		return fmt.Errorf("register workflow catalog: %w", err)
	}

	s.engine = workflow.NewEngine(registry, dispatcher, s.collector, s.logger)
	s.frontdoor = tasks.NewService(s.engine, taskQueue, s.collector, s.logger)

	s.healthHandler = handlers.NewHealthHandler(s.logger)
	if s.queueClient != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("task_queue", s.queueClient.Ping))
	}
	s.tasksHandler = handlers.NewTasksHandler(s.frontdoor, s.logger)
	s.workflowsHandler = handlers.NewWorkflowsHandler(registry, s.engine, s.logger)
	s.agentsHandler = handlers.NewAgentsHandler(table, s.breakers, s.logger)

	s.backgroundCtx, s.backgroundCancel = context.WithCancel(context.Background())
	if s.queueClient != nil {
		go s.pollQueueDepth(s.backgroundCtx)
	}

	s.logger.Info("Components initialized")
	return nil
}

// pollQueueDepth periodically exports the pending queue depth gauge.
func (s *Server) pollQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := s.queueClient.Depth(ctx)
			if err != nil {
				s.logger.Warn("failed to read queue depth", zap.Error(err))
				continue
			}
			s.collector.SetQueueDepth("pending", depth)
		}
	}
}

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	mux.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	mux.HandleFunc("POST /api/v1/tasks", s.tasksHandler.HandleSubmit)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.tasksHandler.HandleStatus)

	mux.HandleFunc("GET /api/v1/workflows", s.workflowsHandler.HandleListDefinitions)
	mux.HandleFunc("POST /api/v1/workflows/{type}/executions", s.workflowsHandler.HandleLaunch)
	mux.HandleFunc("GET /api/v1/executions", s.workflowsHandler.HandleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{id}", s.workflowsHandler.HandleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{id}/cancel", s.workflowsHandler.HandleCancel)

	mux.HandleFunc("GET /api/v1/agents/health", s.agentsHandler.HandleHealth)
	mux.HandleFunc("GET /api/v1/agents/breakers", s.agentsHandler.HandleBreakerStats)
	mux.HandleFunc("POST /api/v1/agents/{agent}/breaker/reset", s.agentsHandler.HandleResetBreaker)

	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
		OTelTracing(),
		RateLimiter(s.backgroundCtx, s.cfg.RateLimit.RPS, s.cfg.RateLimit.Burst, s.logger),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager("api", handler, serverConfig, s.logger)

	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager("metrics", mux, serverConfig, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// WaitForShutdown blocks until a shutdown signal, then tears everything
// down in order.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown stops the listeners, drains in-flight workflow executions, and
// closes external connections.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	// both listeners can drain concurrently
	var g errgroup.Group
	if s.httpManager != nil {
		g.Go(func() error { return s.httpManager.Shutdown(ctx) })
	}
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Shutdown(ctx) })
	}
	if err := g.Wait(); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// drain in-flight executions before dropping connections they may use
	if s.engine != nil {
		drainCtx, cancel := context.WithTimeout(ctx, s.cfg.Engine.DrainTimeout)
		if err := s.engine.Shutdown(drainCtx); err != nil {
			s.logger.Warn("workflow engine drain incomplete", zap.Error(err))
		}
		cancel()
	}

	if s.queueClient != nil {
		if err := s.queueClient.Close(); err != nil {
			s.logger.Error("Task queue close error", zap.Error(err))
		}
	}

	if s.otelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.otelProviders.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("Graceful shutdown completed")
}

// compile-time checks that the wiring satisfies the front door contracts
var (
	_ tasks.Queue         = (*queue.Client)(nil)
	_ tasks.Launcher      = (*workflow.Engine)(nil)
	_ workflow.Dispatcher = (*agents.Client)(nil)
)
