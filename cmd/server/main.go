package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/subscription-checkout/internal/adapters/database"
	"github.com/kevin07696/subscription-checkout/internal/adapters/pendingstore"
	adapterports "github.com/kevin07696/subscription-checkout/internal/adapters/ports"
	"github.com/kevin07696/subscription-checkout/internal/adapters/secrets"
	"github.com/kevin07696/subscription-checkout/internal/adapters/settlement"
	"github.com/kevin07696/subscription-checkout/internal/adapters/surface"
	"github.com/kevin07696/subscription-checkout/internal/auth"
	"github.com/kevin07696/subscription-checkout/internal/config"
	"github.com/kevin07696/subscription-checkout/internal/domain/ports"
	checkoutHandler "github.com/kevin07696/subscription-checkout/internal/handlers/checkout"
	hostedHandler "github.com/kevin07696/subscription-checkout/internal/handlers/hosted"
	paymentHandler "github.com/kevin07696/subscription-checkout/internal/handlers/payment"
	"github.com/kevin07696/subscription-checkout/internal/middleware"
	"github.com/kevin07696/subscription-checkout/internal/services/purchase"
	"github.com/kevin07696/subscription-checkout/internal/services/reconciliation"
	"github.com/kevin07696/subscription-checkout/internal/services/returnpage"
	"github.com/kevin07696/subscription-checkout/pkg/logging"
	pkgmiddleware "github.com/kevin07696/subscription-checkout/pkg/middleware"
	"github.com/kevin07696/subscription-checkout/pkg/observability"
	"github.com/kevin07696/subscription-checkout/pkg/resilience"
	"github.com/kevin07696/subscription-checkout/pkg/resourcemgmt"
	"github.com/kevin07696/subscription-checkout/pkg/shutdown"
)

const (
	tokenExpiry       = 12 * time.Hour
	sessionMaxAge     = 24 * 60 * 60
	sweepInterval     = time.Minute
	poolMonitorPeriod = 30 * time.Second
	storeKeyPrefix    = "checkout:"
)

// dependencies holds everything main wires together
type dependencies struct {
	settlement *settlement.Client
	stores     ports.PendingStoreFactory
	hosted     *surface.Hosted
	registry   *purchase.Registry
	returnPage *returnpage.Controller
	resolver   *auth.SessionResolver
	tracker    *resourcemgmt.GoroutineTracker
	timeouts   *resilience.TimeoutConfig

	db    *database.PostgreSQLAdapter
	redis *redis.Client
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logger.Level, cfg.Logger.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting subscription checkout",
		zap.String("version", "0.1.0"),
		zap.String("pending_store", cfg.Store.Backend),
		zap.String("secret_manager", cfg.Secrets.Manager),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm, err := secrets.NewFromConfig(ctx, cfg.Secrets, logger)
	if err != nil {
		logger.Fatal("Failed to initialize secret manager", zap.Error(err))
	}

	shutdownMgr := shutdown.NewManager(logger, cfg.Server.ShutdownTimeout)
	if closer, ok := sm.(io.Closer); ok {
		shutdownMgr.RegisterCloser("secret_manager", closer)
	}

	deps, err := initDependencies(ctx, cfg, sm, shutdownMgr, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dependencies", zap.Error(err))
	}

	go deps.tracker.StartMonitoring(ctx)
	deps.tracker.GoWithContext(ctx, "session_eviction", deps.registry.Run)

	sweeper := shutdown.NewPeriodicWorker("surface_sweep", sweepInterval, logger)
	sweeper.Start(func(context.Context) {
		if n := deps.hosted.Sweep(); n > 0 {
			logger.Debug("Swept expired payment windows", zap.Int("count", n))
		}
	})
	shutdownMgr.Register("surface_sweep", sweeper.Shutdown)

	// Shutdown is LIFO: sessions cancel their watches, then the watch goroutines drain
	shutdownMgr.Register("watch_goroutines", deps.tracker.Wait)
	shutdownMgr.RegisterNoErr("checkout_sessions", deps.registry.Shutdown)

	rateLimiter := pkgmiddleware.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
	shutdownMgr.RegisterNoErr("rate_limiter", rateLimiter.Shutdown)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           middleware.RequestID(rateLimiter.Middleware(newRouter(cfg, deps, logger))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	readiness := &observability.Readiness{}
	healthChecker := observability.NewHealthChecker(healthProbes(deps)...)
	metricsServer := observability.StartMetricsServer(strconv.Itoa(cfg.Server.MetricsPort), healthChecker, readiness, logger)
	shutdownMgr.RegisterHTTPServer("metrics_server", metricsServer)

	go func() {
		logger.Info("HTTP server listening",
			zap.String("address", httpServer.Addr),
			zap.Int("metrics_port", cfg.Server.MetricsPort),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()
	shutdownMgr.RegisterHTTPServer("http_server", httpServer, shutdown.WithBudget(cfg.Server.ShutdownTimeout/2))
	shutdownMgr.RegisterNoErr("readiness", func() { readiness.SetReady(false) })
	readiness.SetReady(true)

	if err := shutdownMgr.WaitForShutdown(ctx); err != nil {
		logger.Error("Shutdown completed with errors", zap.Error(err))
	}
	logger.Info("Servers stopped")
}

// initDependencies builds the adapters and services. Components that need
// stopping are registered with shutdownMgr in dependency order.
func initDependencies(ctx context.Context, cfg *config.Config, sm adapterports.SecretManagerAdapter, shutdownMgr *shutdown.Manager, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{
		timeouts: resilience.DefaultTimeoutConfig(),
		tracker: resourcemgmt.NewGoroutineTracker(logger, resourcemgmt.Config{
			OverdueAfter: cfg.Poller.Ceiling + time.Minute,
		}),
	}
	portLogger := logging.NewZapLogger(logger)

	client, err := settlement.NewFromConfig(cfg.Settlement, sm, portLogger.With(ports.String("component", "settlement")))
	if err != nil {
		return nil, err
	}
	deps.settlement = client

	stores, err := initPendingStore(ctx, cfg.Store, deps, shutdownMgr, logger)
	if err != nil {
		return nil, err
	}
	deps.stores = pendingstore.Instrument(stores, cfg.Store.Backend, deps.timeouts, portLogger.With(ports.String("component", "pending_store")))

	hostedCfg := surface.DefaultHostedConfig()
	hostedCfg.LoadGrace = cfg.Surface.LoadGrace
	hostedCfg.HeartbeatGrace = cfg.Surface.HeartbeatGrace
	hostedCfg.OpenRate = cfg.Surface.OpenRate
	hostedCfg.OpenBurst = cfg.Surface.OpenBurst
	deps.hosted = surface.NewHosted(hostedCfg, portLogger.With(ports.String("component", "surface")))
	shutdownMgr.RegisterNoErr("hosted_surface", deps.hosted.Shutdown)

	pollerCfg := reconciliation.Config{
		CloseWatchInterval:  cfg.Poller.CloseWatchInterval,
		StatusWatchInterval: cfg.Poller.StatusWatchInterval,
		Ceiling:             cfg.Poller.Ceiling,
	}
	registryCfg := purchase.DefaultRegistryConfig()
	registryCfg.IdleTimeout = cfg.Server.SessionIdleTimeout

	purchaseLogger := portLogger.With(ports.String("component", "purchase"))
	pollerLogger := portLogger.With(ports.String("component", "reconciliation"))
	deps.registry = purchase.NewRegistry(registryCfg, func(userID string) purchase.Deps {
		view := deps.hosted.ForUser(userID)
		return purchase.Deps{
			Settlement: deps.settlement,
			Store:      deps.stores.ForUser(userID),
			Surface:    view,
			Reconciler: reconciliation.NewPoller(deps.settlement, view, pollerCfg, deps.timeouts, deps.tracker, pollerLogger),
			Timeouts:   deps.timeouts,
			Logger:     purchaseLogger.With(ports.String("user_id", userID)),
		}
	}, purchaseLogger)

	returnCfg := returnpage.DefaultConfig()
	returnCfg.MaxRecordAge = cfg.Store.MaxRecordAge
	deps.returnPage = returnpage.NewController(deps.settlement, deps.stores, returnCfg, deps.timeouts, portLogger.With(ports.String("component", "return_page")))

	signingKey, err := secrets.Resolve(ctx, sm, cfg.Session.SigningKey, cfg.Session.SigningKeySecretPath)
	if err != nil {
		return nil, err
	}
	tokens, err := auth.NewTokenManager([]byte(signingKey), cfg.Session.TokenIssuer, tokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("session signing key: %w", err)
	}
	sessionCfg := auth.SessionConfig{
		CookieName: cfg.Session.CookieName,
		MaxAge:     sessionMaxAge,
		Secure:     cfg.Session.Secure,
	}
	// Only a key held in the secret manager has versions to roll back to
	if cfg.Session.SigningKey == "" {
		previous, err := secrets.ResolveVersion(ctx, sm, cfg.Session.SigningKeySecretPath, cfg.Session.PreviousKeyVersion)
		if err != nil {
			return nil, err
		}
		if previous != "" {
			if err := tokens.AcceptPrevious([]byte(previous)); err != nil {
				return nil, err
			}
			sessionCfg.PreviousKeys = [][]byte{[]byte(previous)}
			logger.Info("Accepting previous session signing key", zap.String("version", cfg.Session.PreviousKeyVersion))
		}
	}
	deps.resolver = auth.NewSessionResolver(tokens, []byte(signingKey), sessionCfg)

	return deps, nil
}

func initPendingStore(ctx context.Context, cfg config.StoreConfig, deps *dependencies, shutdownMgr *shutdown.Manager, logger *zap.Logger) (ports.PendingStoreFactory, error) {
	switch cfg.Backend {
	case "file":
		backend, err := pendingstore.NewFileBackend(cfg.FileDir)
		if err != nil {
			return nil, fmt.Errorf("pending store: %w", err)
		}
		return backend, nil

	case "postgres":
		db, err := database.NewPostgreSQLAdapter(ctx, database.DefaultPostgreSQLConfig(cfg.DatabaseURL), logger)
		if err != nil {
			return nil, fmt.Errorf("pending store: %w", err)
		}
		if _, err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("pending store: %w", err)
		}
		db.StartPoolMonitoring(ctx, poolMonitorPeriod)
		shutdownMgr.RegisterNoErr("database", db.Close)
		deps.db = db
		return pendingstore.NewPostgresBackend(db.Pool()), nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("pending store: redis ping: %w", err)
		}
		shutdownMgr.RegisterCloser("redis", client)
		deps.redis = client
		return pendingstore.NewRedisBackend(client, storeKeyPrefix, cfg.RedisTTL), nil

	default:
		logger.Warn("Using in-memory pending store; records are lost on restart")
		return pendingstore.NewMemoryBackend(), nil
	}
}

// newRouter mounts the checkout API and the browser-facing pages
func newRouter(cfg *config.Config, deps *dependencies, logger *zap.Logger) *http.ServeMux {
	dev := cfg.Logger.Development
	sessionAuth := middleware.NewSessionAuth(deps.resolver, logger)
	apiHeaders := middleware.NewSecurityHeaders(dev)
	windowHeaders := middleware.NewPageSecurityHeaders(dev, cfg.Surface.ProcessorOrigins...)
	pageHeaders := middleware.NewPageSecurityHeaders(dev)

	api := func(next http.Handler) http.Handler {
		return apiHeaders.Middleware(sessionAuth.Require(next))
	}
	window := func(next http.Handler) http.Handler {
		return windowHeaders.Middleware(sessionAuth.Optional(next))
	}
	page := func(next http.Handler) http.Handler {
		return pageHeaders.Middleware(sessionAuth.Optional(next))
	}

	mux := http.NewServeMux()
	checkoutHandler.NewHandler(deps.registry, deps.hosted, deps.timeouts, logger).Register(mux, api)
	hostedHandler.NewHandler(deps.hosted, surface.DefaultHostedConfig().PathPrefix, cfg.Surface.HeartbeatGrace, logger).Register(mux, window)
	paymentHandler.NewResultHandler(deps.returnPage, "/", deps.timeouts, logger).Register(mux, page)
	return mux
}

// healthProbes checks whichever backends are configured. An open settlement
// breaker degrades health without failing it; pending slots keep working.
func healthProbes(deps *dependencies) []observability.Probe {
	var probes []observability.Probe
	if deps.db != nil {
		probes = append(probes, observability.PostgresProbe(deps.db.Pool())...)
	}
	probes = append(probes, observability.RedisProbe(deps.redis)...)
	if deps.settlement != nil {
		breaker := deps.settlement.Breaker()
		probes = append(probes, observability.Probe{Name: "settlement", Check: func(context.Context) error {
			if breaker.State() == settlement.StateOpen {
				return settlement.ErrCircuitOpen
			}
			return nil
		}})
	}
	return probes
}
