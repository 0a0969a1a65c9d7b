// Package server wires the service together and runs the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mworkman/handypay/internal/alerts"
	"github.com/mworkman/handypay/internal/config"
	"github.com/mworkman/handypay/internal/connect"
	"github.com/mworkman/handypay/internal/job"
	"github.com/mworkman/handypay/internal/logging"
	"github.com/mworkman/handypay/internal/metrics"
	"github.com/mworkman/handypay/internal/money"
	"github.com/mworkman/handypay/internal/notify"
	"github.com/mworkman/handypay/internal/payments"
	"github.com/mworkman/handypay/internal/processor"
	"github.com/mworkman/handypay/internal/realtime"
	"github.com/mworkman/handypay/internal/reconcile"
	"github.com/mworkman/handypay/internal/release"
	"github.com/mworkman/handypay/internal/sweeper"
	"github.com/mworkman/handypay/internal/traces"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and all service dependencies.
type Server struct {
	cfg           *config.Config
	proc          processor.Client
	jobService    *job.Service
	payManager    *payments.Manager
	connectSvc    *connect.Service
	alertService  *alerts.Service
	engine        *release.Engine
	listener      *reconcile.Listener
	publisher     notify.Publisher
	realtimeHub   *realtime.Hub
	sweep         *sweeper.Sweeper
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	tracesCleanup func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProcessor sets a custom payment processor client (for testing).
func WithProcessor(p processor.Client) Option {
	return func(s *Server) {
		s.proc = p
	}
}

// New creates a server instance with all services wired.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Tracing (no-op when no endpoint configured)
	cleanup, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.tracesCleanup = cleanup
	}

	// Payment processor
	if s.proc == nil {
		s.proc = processor.NewStripeClient(cfg.ProcessorSecretKey, s.logger)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		jobStore      job.Store
		connectStore  connect.Store
		alertStore    alerts.Store
		transferStore release.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		jobPG := job.NewPostgresStore(db)
		if err := jobPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate job store", "error", err)
		}
		jobStore = jobPG

		connectPG := connect.NewPostgresStore(db)
		if err := connectPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate payout account store", "error", err)
		}
		connectStore = connectPG

		alertPG := alerts.NewPostgresStore(db)
		if err := alertPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate alert store", "error", err)
		}
		alertStore = alertPG

		transferPG := release.NewPostgresStore(db)
		if err := transferPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate transfer store", "error", err)
		}
		transferStore = transferPG
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		jobStore = job.NewMemoryStore()
		connectStore = connect.NewMemoryStore()
		alertStore = alerts.NewMemoryStore()
		transferStore = release.NewMemoryStore()
	}

	// Realtime feed hub
	s.realtimeHub = realtime.NewHub(s.logger)

	// Alerts, pushed live to the operator feed
	s.alertService = alerts.NewService(alertStore, s.logger).WithSink(s.realtimeHub)

	// Outbound lifecycle events
	if cfg.AMQPURL != "" {
		pub, err := notify.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to broker: %w", err)
		}
		s.publisher = pub
		s.logger.Info("event publishing enabled")
	} else {
		s.publisher = notify.NoopPublisher{}
		s.logger.Info("no broker configured, events are dropped")
	}

	// Payments: idempotent intent creation
	s.payManager = payments.NewManager(s.proc, payments.NewMemoryIdempotencyStore(), s.logger)

	// Provider payout onboarding
	s.connectSvc = connect.NewService(connectStore, s.proc, s.logger)

	// Release engine: capture + three-way split
	policy := money.PolicyFromShareA(cfg.PartnerAShareBPS)
	policy.Warn(s.logger)
	s.engine = release.NewEngine(
		s.proc,
		transferStore,
		s.connectSvc,
		s.payManager,
		s.alertService,
		policy,
		release.Partners{AccountA: cfg.PartnerAAccountID, AccountB: cfg.PartnerBAccountID},
		s.logger,
	)

	// Job lifecycle
	s.jobService = job.NewService(jobStore, s.payManager, s.engine, s.engine, job.Policy{
		PlatformFeeCents:       cfg.PlatformFeeCents,
		Currency:               cfg.Currency,
		AutoReleaseWorkingDays: cfg.AutoReleaseWorkingDays,
	}).WithNotifier(fanoutNotifier{
		notify.NewEmitter(s.publisher, s.logger),
		s.realtimeHub,
	})

	// Webhook reconciliation
	s.listener = reconcile.NewListener(cfg.ProcessorWebhookSecret, s.jobService, s.connectSvc, s.alertService, s.logger)

	// Auto-release sweep
	s.sweep = sweeper.New(s.jobService, cfg.SweepSchedule, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// fanoutNotifier delivers each job event to every registered notifier.
type fanoutNotifier []job.Notifier

func (f fanoutNotifier) JobEvent(event string, j *job.Job) {
	for _, n := range f {
		n.JobEvent(event, j)
	}
}

// maskDSN hides the password in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// Identity reads the gateway-injected user headers. The API gateway in
// front of this service authenticates users and forwards their identity;
// the service itself never sees credentials.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthenticated",
				"message": "missing user identity",
			})
			return
		}
		c.Set("userID", userID)
		c.Set("userRole", c.GetHeader("X-User-Role"))
		c.Next()
	}
}

// RequireRole gates a route group on the gateway-asserted role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString("userRole") != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "insufficient role",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Processor webhooks: authenticated by signature, not by identity.
	reconcile.NewHandler(s.listener).RegisterRoutes(s.router.Group(""))

	// V1 API group: everything here acts as a specific user.
	v1 := s.router.Group("/v1")
	v1.Use(Identity())

	job.NewHandler(s.jobService).RegisterRoutes(v1)
	connect.NewHandler(s.connectSvc).RegisterRoutes(v1)

	// Payout records for a job.
	v1.GET("/jobs/:id/transfers", s.jobTransfersHandler)

	// Operator surface
	ops := v1.Group("/ops")
	ops.Use(RequireRole("operator"))
	alerts.NewHandler(s.alertService).RegisterRoutes(ops)
	ops.POST("/jobs/:id/reverse", s.reverseJobHandler)
	ops.POST("/sweep", s.manualSweepHandler)
	ops.GET("/feed/stats", s.feedStatsHandler)

	// WebSocket operator feed
	ops.GET("/feed", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
}

// jobTransfersHandler handles GET /v1/jobs/:id/transfers. Parties to the
// job (and operators) may inspect its payout legs.
func (s *Server) jobTransfersHandler(c *gin.Context) {
	ctx := c.Request.Context()
	j, err := s.jobService.Get(ctx, c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
		return
	}

	userID := c.GetString("userID")
	if userID != j.CustomerID && userID != j.ProviderID && c.GetString("userRole") != "operator" {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	transfers, err := s.engine.TransfersForJob(ctx, j.ID)
	if err != nil {
		logging.L(ctx).Error("listing transfers", "jobId", j.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
}

// reverseJobHandler handles POST /v1/ops/jobs/:id/reverse. Operator
// clawback after a post-completion dispute resolution.
func (s *Server) reverseJobHandler(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	if err := s.engine.ReverseAll(ctx, jobID); err != nil {
		logging.L(ctx).Error("reversing transfers", "jobId", jobID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "reversal_incomplete",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reversed": true})
}

// manualSweepHandler handles POST /v1/ops/sweep, running one sweep now
// instead of waiting for the schedule.
func (s *Server) manualSweepHandler(c *gin.Context) {
	released := s.sweep.Sweep(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"released": released})
}

func (s *Server) feedStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start auto-release sweeper
	if err := s.sweep.Start(); err != nil {
		s.logger.Error("failed to start sweeper", "error", err)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Let a running sweep finish
	s.sweep.Stop(ctx)
	s.logger.Info("sweeper stopped")

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close error", "error", err)
	}

	if s.tracesCleanup != nil {
		if err := s.tracesCleanup(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
