// Package server wires the HTTP API: storage selection, middleware
// chain, routes, and graceful shutdown.
package server

import (
	"context"
	"database/sql"
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
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/config"
	"github.com/pkozlov/bankledger/internal/health"
	"github.com/pkozlov/bankledger/internal/idempotency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
	"github.com/pkozlov/bankledger/internal/notify"
	"github.com/pkozlov/bankledger/internal/ratelimit"
	"github.com/pkozlov/bankledger/internal/risk"
	"github.com/pkozlov/bankledger/internal/security"
	"github.com/pkozlov/bankledger/internal/transfer"
	"github.com/pkozlov/bankledger/internal/user"
	"github.com/pkozlov/bankledger/internal/validation"
)

// Version is stamped at build time.
var Version = "0.1.0"

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg *config.Config

	accounts    account.Store
	users       user.Store
	ledger      *ledger.Ledger
	riskService *risk.Service
	transfers   *transfer.Service
	idemStore   idempotency.Store
	publisher   notify.Publisher
	numbers     *account.NumberGenerator

	db     *sql.DB       // nil if using in-memory
	rdb    *redis.Client // nil if using in-memory counters
	checks *health.Registry

	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger
	cancel  context.CancelFunc

	ready atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher sets a custom event publisher (for testing)
func WithPublisher(p notify.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		checks:  health.NewRegistry(),
		numbers: account.NewNumberGenerator(cfg.BankCode, cfg.BranchCode),
		logger:  logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	var (
		ledgerStore ledger.Store
		riskStore   risk.Store
		violations  ratelimit.LogStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
		s.checks.Register("database", health.Database(db))

		accountStore := account.NewPostgresStore(db)
		userStore := user.NewPostgresStore(db)
		pgLedger := ledger.NewPostgresStore(db)
		pgRisk := risk.NewPostgresStore(db)
		idemPg := idempotency.NewPostgresStore(db)
		pgViolations := ratelimit.NewPostgresLog(db)

		type migrator interface {
			Migrate(context.Context) error
		}
		stores := []struct {
			name string
			m    migrator
		}{
			{"accounts", accountStore},
			{"users", userStore},
			{"transactions", pgLedger},
			{"risk_scores", pgRisk},
			{"idempotency_keys", idemPg},
			{"rate_limit_violations", pgViolations},
		}
		for _, st := range stores {
			if err := st.m.Migrate(ctx); err != nil {
				s.logger.Warn("failed to migrate store", "store", st.name, "error", err)
			}
		}
		s.accounts = accountStore
		s.users = userStore
		s.idemStore = idemPg
		ledgerStore = pgLedger
		riskStore = pgRisk
		violations = pgViolations

		metrics.StartDBStatsCollector(ctx, db, 15*time.Second)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		memAccounts := account.NewMemoryStore()
		s.accounts = memAccounts
		s.users = user.NewMemoryStore()
		s.idemStore = idempotency.NewMemoryStore()
		ledgerStore = ledger.NewMemoryStore(memAccounts)
		riskStore = risk.NewMemoryStore()
		violations = ratelimit.NewMemoryLog()
	}

	// Notifications: Kafka if brokers configured, otherwise log-only
	if s.publisher == nil {
		if cfg.KafkaBrokers != "" {
			s.publisher = notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
			s.logger.Info("kafka notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
		} else {
			s.publisher = notify.NewLogPublisher(s.logger)
			s.logger.Info("log-only notifications enabled")
		}
	}

	s.ledger = ledger.New(ledgerStore, s.accounts, s.publisher, s.logger)
	engine := risk.NewEngine(cfg.Risk, ledgerStore)
	s.riskService = risk.NewService(engine, riskStore, s.ledger, s.publisher, s.logger)
	s.transfers = transfer.New(s.accounts, s.users, s.ledger, s.riskService, s.publisher, cfg.OTPTTL, s.logger)

	// Rate limit counters: redis if configured, otherwise in-memory
	var counters ratelimit.CounterStore
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		s.rdb = redis.NewClient(redisOpts)
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		counters = ratelimit.NewRedisCounter(s.rdb)
		s.checks.Register("redis", health.Redis(s.rdb))
		s.logger.Info("redis rate limiting enabled")
	} else {
		counters = ratelimit.NewMemoryCounter()
		s.logger.Info("in-memory rate limiting enabled")
	}

	rlCfg := ratelimit.DefaultConfig()
	if cfg.RateLimitDefaultMax > 0 {
		rlCfg.Default.MaxRequests = cfg.RateLimitDefaultMax
	}
	if cfg.RateLimitDefaultWindow > 0 {
		rlCfg.Default.Window = cfg.RateLimitDefaultWindow
	}
	limiter := ratelimit.New(rlCfg, counters, violations)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware(limiter)
	s.setupRoutes()

	return s, nil
}

// maskDSN hides password in connection string for logging
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

func (s *Server) setupMiddleware(limiter *ratelimit.Limiter) {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Caller identity (stands in for the session layer)
	s.router.Use(s.identityMiddleware())

	// Rate limiting
	s.router.Use(limiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

// identityMiddleware reads the caller identity from the X-User-ID header
// so rate limiting, idempotency, and the ledger know who is asking.
// Routes that need an identity enforce its presence via requireUser.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID := c.GetHeader("X-User-ID"); userID != "" {
			c.Set("user_id", userID)
			ctx := logging.WithUserID(c.Request.Context(), userID)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
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

// Run starts the server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	// Opportunistic cleanup of expired idempotency rows.
	go s.purgeIdempotencyKeys(runCtx)

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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if err := s.publisher.Close(); err != nil {
		s.logger.Error("publisher close error", "error", err)
	}

	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) purgeIdempotencyKeys(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			purged, err := s.idemStore.PurgeExpired(ctx)
			if err != nil {
				s.logger.Warn("purge idempotency keys", "error", err)
				continue
			}
			if purged > 0 {
				s.logger.Info("purged expired idempotency keys", "count", purged)
			}
		case <-ctx.Done():
			return
		}
	}
}
