// Package server wires the custody core together and runs the HTTP API.
package server

import (
	"context"
	"database/sql"
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
	_ "github.com/lib/pq"

	"github.com/driftlabs/mixpool/internal/chain"
	"github.com/driftlabs/mixpool/internal/clock"
	"github.com/driftlabs/mixpool/internal/config"
	"github.com/driftlabs/mixpool/internal/events"
	"github.com/driftlabs/mixpool/internal/health"
	"github.com/driftlabs/mixpool/internal/idgen"
	"github.com/driftlabs/mixpool/internal/logging"
	"github.com/driftlabs/mixpool/internal/metrics"
	"github.com/driftlabs/mixpool/internal/pool"
	"github.com/driftlabs/mixpool/internal/ratelimit"
	"github.com/driftlabs/mixpool/internal/realtime"
	"github.com/driftlabs/mixpool/internal/scheduler"
	"github.com/driftlabs/mixpool/internal/security"
	"github.com/driftlabs/mixpool/internal/token"
	"github.com/driftlabs/mixpool/internal/traces"
)

// Server is the mixpool custody service: the liquidity ledger, address token
// registry, payment scheduler, and chain monitor behind one HTTP API.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	clk    clock.Clock

	db  *sql.DB
	bus *events.Bus
	hub *realtime.Hub

	poolStore   pool.Store
	poolService *pool.Service
	poolTimer   *pool.Timer

	tokenService *token.Service
	tokenSweeper *token.Sweeper

	schedService *scheduler.Service
	executor     *scheduler.Executor

	chainSource chain.DataSource
	chainSim    *chain.SimulatedSource
	monitor     *chain.Monitor

	limiter *ratelimit.Limiter
	checks  *health.Registry

	router  *gin.Engine
	httpSrv *http.Server

	shutdownTraces func(context.Context) error
	cancelRun      context.CancelFunc
	ready          atomic.Bool
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithLogger overrides the logger built from config.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock overrides the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// New builds a fully wired server. Postgres is used when DATABASE_URL is
// set, otherwise everything runs on in-memory stores seeded from config.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		clk:    clock.System(),
		checks: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	s.bus = events.NewBus(s.logger)
	ids := idgen.Crypto{}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory).
	var (
		tokenStore token.Store
		schedStore scheduler.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))

		pgPool := pool.NewPostgresStore(db, cfg.PoolCurrency)
		if err := pgPool.EnsureReserve(context.Background(), seedReserve(cfg)); err != nil {
			return nil, fmt.Errorf("seed pool reserve: %w", err)
		}
		s.poolStore = pgPool
		tokenStore = token.NewPostgresStore(db)
		schedStore = scheduler.NewPostgresStore(db)

		s.checks.Register("database", health.DatabaseChecker(db))
	} else {
		s.logger.Info("using in-memory storage",
			"initial_funds", cfg.PoolInitialFunds, "currency", cfg.PoolCurrency)
		s.poolStore = pool.NewMemoryStore(seedReserve(cfg))
		tokenStore = token.NewMemoryStore()
		schedStore = scheduler.NewMemoryStore()
	}

	// Chain data source. The simulator is always constructed: it is the
	// payout broadcaster, and the only block producer in simulator mode.
	s.chainSim = chain.NewSimulatedSource()
	if cfg.ChainAPIURL != "" {
		s.chainSource = chain.NewRESTClient(cfg.ChainAPIURL, 30*time.Second)
		s.logger.Info("using external chain data source", "url", cfg.ChainAPIURL)
	} else {
		s.chainSource = s.chainSim
		s.logger.Info("using simulated chain data source")
	}

	s.poolService = pool.NewService(s.poolStore, ids, s.clk, s.bus, s.logger)
	s.poolTimer = pool.NewTimer(s.poolService, s.poolStore, s.clk,
		cfg.ObligationMaxAge, cfg.SweepInterval, s.logger)

	s.tokenService = token.NewService(tokenStore, ids, s.clk, s.bus, s.logger)
	s.tokenSweeper = token.NewSweeper(s.tokenService, cfg.SweepInterval, s.logger)

	s.schedService = scheduler.NewService(schedStore, ids, s.clk,
		scheduler.CryptoSampler{}, s.bus, cfg.BatchSize, s.logger)
	s.executor = scheduler.NewExecutor(s.schedService, schedStore, s.chainSim,
		s.clk, s.bus, cfg.ExecutorInterval, cfg.MaxPaymentRetry, s.logger)

	s.monitor = chain.NewMonitor(s.chainSource, s.clk, s.bus, cfg.ChainPollInterval, s.logger)
	s.wireDepositFlow()

	s.hub = realtime.NewHub(s.logger)
	s.hub.AttachBus(s.bus)

	s.limiter = ratelimit.New(ratelimit.DefaultConfig(), s.clk)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// wireDepositFlow connects the chain monitor to the token registry: emitted
// deposit addresses get watched, confirmed deposits consume their token, and
// expired tokens stop being watched.
func (s *Server) wireDepositFlow() {
	s.bus.Subscribe(token.EventTokenEmitted, func(ctx context.Context, e events.Event) error {
		if emitted, ok := e.(token.TokenEmitted); ok && emitted.Purpose == token.PurposeDeposit {
			s.monitor.WatchAddress(emitted.Address)
		}
		return nil
	})
	s.bus.Subscribe(token.EventTokenExpired, func(ctx context.Context, e events.Event) error {
		if expired, ok := e.(token.TokenExpired); ok {
			s.monitor.UnwatchAddress(expired.Address)
		}
		return nil
	})
	s.bus.Subscribe(chain.EventDepositConfirmed, func(ctx context.Context, e events.Event) error {
		confirmed, ok := e.(chain.DepositConfirmed)
		if !ok {
			return nil
		}
		tok, ok, err := s.tokenService.Resolve(ctx, confirmed.Address)
		if err != nil {
			return fmt.Errorf("resolve deposit address: %w", err)
		}
		if !ok {
			s.logger.Warn("confirmed deposit for unknown or spent address",
				"address", confirmed.Address, "txid", confirmed.TxID)
			return nil
		}
		s.logger.Info("deposit credited",
			"token_id", tok.ID, "address", confirmed.Address,
			"amount", confirmed.Amount, "txid", confirmed.TxID)
		return nil
	})
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, err any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}))
	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(s.limiter.Middleware())
	s.router.Use(metrics.Middleware())
	s.router.Use(requestIDMiddleware(s.logger))
	s.router.Use(loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.checks.Handler())
	s.router.GET("/readyz", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	pool.NewHandler(s.poolService).RegisterRoutes(v1)
	token.NewHandler(s.tokenService).RegisterRoutes(v1)
	scheduler.NewHandler(s.schedService).RegisterRoutes(v1)

	// The simulate endpoint only exists when the simulator is the data source.
	sim := s.chainSim
	if s.cfg.ChainAPIURL != "" {
		sim = nil
	}
	chain.NewHandler(s.chainSource, sim).RegisterRoutes(v1)

	v1.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	v1.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})
}

// Router exposes the configured engine, for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server and all background loops, blocking until the context
// is cancelled or a shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("trace exporter init failed, continuing without traces", "error", err)
		} else {
			s.shutdownTraces = shutdown
		}
	}

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
		s.logger.Info("http server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.poolTimer.Start(runCtx)
	go s.tokenSweeper.Start(runCtx)
	go s.executor.Start(runCtx)
	go s.monitor.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.checks.Register("obligation_timer", health.RunningChecker("obligation_timer", s.poolTimer.Running))
	s.checks.Register("token_sweeper", health.RunningChecker("token_sweeper", s.tokenSweeper.Running))
	s.checks.Register("payment_executor", health.RunningChecker("payment_executor", s.executor.Running))

	// Give the listener a beat before reporting ready.
	time.Sleep(100 * time.Millisecond)
	s.ready.Store(true)
	s.logger.Info("server ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("run context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops the HTTP server, background loops, and storage in order.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http shutdown failed", "error", err)
			firstErr = err
		}
	}

	// Cancelling the run context stops the hub, timers, monitor, and stats
	// collector; Stop waits for loops that support it.
	if s.cancelRun != nil {
		s.cancelRun()
	}
	s.poolTimer.Stop()
	s.tokenSweeper.Stop()
	s.executor.Stop()
	s.monitor.Stop()
	s.limiter.Stop()

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(shutdownCtx); err != nil {
			s.logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("shutdown complete")
	return firstErr
}

func seedReserve(cfg *config.Config) pool.Reserve {
	funds := cfg.InitialFundsSats()
	return pool.Reserve{
		TotalAmount:     funds,
		AvailableAmount: funds,
		Currency:        cfg.PoolCurrency,
		Version:         1,
	}
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
