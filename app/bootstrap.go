package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"supply-chain-auth/internal/auth"
	"supply-chain-auth/internal/config"
	"supply-chain-auth/internal/db"
	"supply-chain-auth/internal/maintenance"
	"supply-chain-auth/internal/observability"
	"supply-chain-auth/internal/security"
)

const (
	serviceName    = "Supply Chain AI Authentication API"
	serviceVersion = "1.0.0"
)

type Options struct {
	LoadDotEnv bool
	// RunMigrations overrides RUN_MIGRATIONS when set.
	RunMigrations *bool
}

type Runtime struct {
	Handler http.Handler
	Config  *config.Config
	Logger  *observability.Logger
	Manager *security.Manager
	Close   func() error
}

func Build(ctx context.Context, options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}
	if options.RunMigrations != nil {
		cfg.RunMigrations = *options.RunMigrations
	}

	logger := observability.NewLogger(cfg.Environment)

	if err := observability.InitSentry(cfg.SentryDSN, cfg.Environment, serviceVersion); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, database, cfg.CollectionName); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	policy, err := security.ParseFailurePolicy(cfg.SecurityFailPolicy)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	manager, err := security.Open(ctx, security.ManagerConfig{
		Token: security.TokenConfig{
			Secret:    []byte(cfg.JWTSecret),
			Algorithm: cfg.JWTAlgorithm,
			TTL:       cfg.TokenTTL(),
		},
		BcryptCost:          cfg.BcryptCost,
		Policy:              policy,
		RateLimitMaxTracked: cfg.RateLimitMaxTracked,
		Cache: security.CacheConfig{
			Enabled:      cfg.CacheEnabled,
			Addr:         cfg.RedisAddr(),
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		},
	}, logger)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("init security: %w", err)
	}

	closeAll := func() error {
		observability.FlushSentry()
		return errors.Join(manager.Close(), database.Close())
	}

	authRepo := auth.NewRepository(database, cfg.CollectionName)
	authService := auth.NewService(authRepo, manager, logger)
	authService.WithFailureLimit(cfg.LoginMaxFailures, cfg.LoginFailureWindow())

	if err := authService.BootstrapAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, cfg.AdminName); err != nil {
		_ = closeAll()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	mux := newRouter(cfg, logger, manager, authService)

	handler := observability.RecoverMiddleware(logger,
		observability.RequestLoggingMiddleware(logger,
			observability.CORSMiddleware(cfg.CORSAllowedOrigins, mux)))

	logger.Info("runtime_ready", map[string]any{
		"environment":   cfg.Environment,
		"cache_backend": manager.Backend(),
		"table":         cfg.CollectionName,
	})

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Logger:  logger,
		Manager: manager,
		Close:   closeAll,
	}, nil
}

func newRouter(cfg *config.Config, logger *observability.Logger, manager *security.Manager, authService *auth.Service) *http.ServeMux {
	authHandler := auth.NewHandler(authService, logger)
	loginLimiter := auth.NewLoginRateLimiter(manager.Limiter(), cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow(), logger)
	cleanupHandler := maintenance.NewCleanupHandler(manager, logger, cfg.CronSecret)

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", loginLimiter.Middleware(http.HandlerFunc(authHandler.Login)))
	mux.Handle("GET /api/auth/verify-token", auth.Middleware(authService, http.HandlerFunc(authHandler.VerifyToken)))
	mux.Handle("GET /api/auth/refresh-token", auth.Middleware(authService, http.HandlerFunc(authHandler.RefreshToken)))
	mux.Handle("POST /api/auth/logout", auth.Middleware(authService, http.HandlerFunc(authHandler.Logout)))
	mux.HandleFunc("POST /api/auth/test-connection", authHandler.TestConnection)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(authService, manager))
	mux.HandleFunc("GET /{$}", rootHandler)

	return mux
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpenConns)
	database.SetMaxIdleConns(cfg.DBMaxIdleConns)
	database.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DatabasePingTimeout)
	defer cancel()

	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return database, nil
}

type connectionChecker interface {
	Connected(ctx context.Context) bool
}

type backendReporter interface {
	Backend() string
}

func healthHandler(store connectionChecker, cache backendReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		writeJSON(w, http.StatusOK, map[string]any{
			"status":             "healthy",
			"timestamp":          time.Now().UTC().Format(time.RFC3339),
			"database_connected": store.Connected(ctx),
			"cache_backend":      cache.Backend(),
		})
	}
}

func rootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": serviceName,
		"version": serviceVersion,
		"status":  "running",
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
