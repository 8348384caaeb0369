package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/utafrali/storefront-session/internal/auth"
	"github.com/utafrali/storefront-session/internal/config"
	"github.com/utafrali/storefront-session/internal/gateway"
	handler "github.com/utafrali/storefront-session/internal/handler/http"
	"github.com/utafrali/storefront-session/internal/repository"
	"github.com/utafrali/storefront-session/internal/repository/memory"
	redisrepo "github.com/utafrali/storefront-session/internal/repository/redis"
	sqliterepo "github.com/utafrali/storefront-session/internal/repository/sqlite"
	"github.com/utafrali/storefront-session/internal/session"
	"github.com/utafrali/storefront-session/internal/storefront"
	"github.com/utafrali/storefront-session/pkg/database"
	"github.com/utafrali/storefront-session/pkg/health"
	"github.com/utafrali/storefront-session/pkg/httpclient"
	"github.com/utafrali/storefront-session/pkg/middleware"
	"github.com/utafrali/storefront-session/pkg/tracing"
)

const serviceName = "storefront-session"

// App wires together all dependencies and runs the session daemon.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	store          repository.Store
	manager        *session.Manager
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Device-local storage.
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = tracerShutdown(ctx)
		return nil, err
	}

	// Backend transport. No client-level retries: the gateway owns the single retry.
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.StorefrontTimeout
	clientCfg.MaxRetries = 0
	clientCfg.MaxConnsPerHost = 16
	baseClient := httpclient.New(clientCfg)

	cbCfg := httpclient.DefaultCircuitBreakerConfig("storefront-backend")
	cbCfg.MaxRequests = cfg.CBMaxRequests
	cbCfg.Interval = time.Duration(cfg.CBInterval) * time.Second
	cbCfg.Timeout = time.Duration(cfg.CBTimeout) * time.Second
	cbCfg.FailureRatio = cfg.CBFailureRatio
	cbCfg.MinRequests = cfg.CBMinRequests
	cbClient := httpclient.NewCircuitBreakerClient(baseClient, cbCfg, logger)
	logger.Info("circuit breaker initialized",
		slog.String("name", cbCfg.Name),
		slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
		slog.Int("timeout_seconds", cfg.CBTimeout),
		slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
	)

	// Build the dependency graph.
	creds := auth.NewCredentials()
	refresher := auth.NewRefresher(cbClient, cfg.StorefrontBaseURL, creds, store.Credentials(), logger)

	gwOpts := []gateway.Option{gateway.WithExpirySkew(cfg.TokenExpirySkew)}
	if cfg.StorefrontRateLimit > 0 {
		gwOpts = append(gwOpts, gateway.WithRateLimit(rate.Limit(cfg.StorefrontRateLimit), cfg.StorefrontRateBurst))
	}
	gw := gateway.New(cbClient, cfg.StorefrontBaseURL, creds, refresher, logger, gwOpts...)
	api := storefront.NewClient(gw, logger)

	manager := session.NewManager(session.Deps{
		Refresher:   refresher,
		Credentials: creds,
		CredRepo:    store.Credentials(),
		Local:       store.Wishlist(),
		Remote:      api,
		Lang:        cfg.StorefrontLang,
		Logger:      logger,
	})

	// A refresh token rejected mid-session ends the signed-in session.
	refresher.OnReject(func(ctx context.Context) {
		if err := manager.Expire(ctx); err != nil {
			logger.WarnContext(ctx, "expired session not fully reset", slog.String("error", err.Error()))
		}
	})

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("storage", store.Ping)
	healthHandler.RegisterNonCritical("storefront", func(context.Context) error {
		if cbClient.State() == gobreaker.StateOpen {
			return errors.New("circuit breaker open")
		}
		return nil
	})

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	router := handler.NewRouter(manager, healthHandler, logger, handler.RouterConfig{
		CORS:           corsCfg,
		RequestTimeout: cfg.StorefrontTimeout * 3,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.StorefrontTimeout*3 + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		store:          store,
		manager:        manager,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		db, err := database.OpenSQLite(ctx, database.SQLiteConfig{
			Path:        cfg.SQLitePath,
			BusyTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info("opened SQLite database", slog.String("path", cfg.SQLitePath))

		if err := sqliterepo.Migrate(ctx, db, logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")

		database.RegisterDBMetrics(prometheus.DefaultRegisterer, db, serviceName)
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		return sqliterepo.NewStore(db, cfg.DeviceID), nil

	case config.StorageRedis:
		rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info("connected to Redis",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("db", cfg.RedisDB),
		)
		if cfg.SlowQueryThresholdMs > 0 {
			database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
		}
		return redisrepo.NewStore(rdb, cfg.DeviceID, cfg.AccessTTL), nil

	case config.StorageMemory:
		logger.Warn("using in-memory storage, guest wishlist and credentials will not survive a restart")
		return memory.NewStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// Handler returns the HTTP handler of the session API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Bootstrap settles the initial session. A failed wishlist load is logged,
// not fatal: the daemon serves the session and RetryFetch can load it later.
func (a *App) Bootstrap(ctx context.Context) {
	s, err := a.manager.Bootstrap(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "session bootstrap incomplete",
			slog.String("state", string(s.State)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.logger.InfoContext(ctx, "session bootstrapped",
		slog.String("state", string(s.State)),
		slog.Int("wishlist_size", a.manager.Wishlist().Len()),
	)
}

// Run settles the session, starts the HTTP server and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.Bootstrap(ctx)

	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", slog.String("error", err.Error()))
	}

	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(shutdownCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}
