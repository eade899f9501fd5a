package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/archive"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/maintenance"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warden: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("warden exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetry, err := observability.StartTelemetry(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, dialect, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.WithField("driver", dialect.Driver).Info("Database connected")

	var redisClient *redis.Client
	if cfg.Database.RedisURL != "" {
		redisClient, err = storage.NewRedisClient(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("Redis connected")
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	cache, err := newPermissionCache(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}

	dbAudit, err := audit.NewDBLogger(db, dialect)
	if err != nil {
		return fmt.Errorf("failed to initialize audit log: %w", err)
	}
	auditLogger := audit.NewMultiLogger(dbAudit, audit.NewSlogLogger(logger))

	manager := rbac.NewManager(db, cache, auditLogger, metrics, logger, rbac.Config{
		SeedPath:  cfg.Seed.Path,
		WatchSeed: cfg.Seed.Watch,
	})
	if err := manager.Initialize(ctx, dialect); err != nil {
		return fmt.Errorf("failed to initialize rbac: %w", err)
	}
	if err := manager.StartSeedWatcher(ctx); err != nil {
		return err
	}

	authenticator, err := newAuthenticator(ctx, cfg, db)
	if err != nil {
		return err
	}

	if cfg.RateLimit.Enabled {
		limiter := newLimiter(ctx, cfg, redisClient)
		manager.GetHandlers().UseForMutations(middleware.NewRateLimitMiddleware(limiter, logger).Handler)
	}

	router := mux.NewRouter()
	if telemetry.Enabled() {
		router.Use(otelhttp.NewMiddleware("warden"))
	}
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	router.Use(httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.NewAuthMiddleware(authenticator, false).Handler)
	manager.RegisterRoutes(api)

	probes := []observability.Probe{observability.DatabaseProbe(db)}
	if redisClient != nil {
		probes = append(probes, observability.RedisProbe(redisClient))
	}

	var uploader *archive.S3Uploader
	if cfg.Archive.Enabled {
		uploader, err = archive.NewS3Uploader(ctx, archive.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize archive: %w", err)
		}
		probes = append(probes, observability.Probe{Name: "archive", Check: uploader.HealthCheck})
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, observability.NewHealthChecker(probes...))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthRouter, registry)
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, server, healthServer)

	if cfg.Maintenance.Enabled {
		scheduler, err := newScheduler(cfg, db, manager, uploader, metrics, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		shutdown.RegisterShutdownFunc("maintenance", scheduler.Stop)
	}

	shutdown.RegisterShutdownFunc("cache", func(context.Context) error {
		if cache == nil {
			return nil
		}
		return cache.Close()
	})
	shutdown.RegisterShutdownFunc("audit", func(context.Context) error {
		return auditLogger.Close()
	})
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return telemetry.Shutdown(ctx)
	})

	for _, srv := range []*http.Server{server, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server failed")
				cancel()
			}
		}(srv)
	}

	logger.WithField("version", version).Info("Warden started")
	return shutdown.WaitForShutdown(ctx)
}

// newPermissionCache builds the configured cache. A nil cache disables caching.
func newPermissionCache(ctx context.Context, cfg *config.Config, client *redis.Client, logger *observability.Logger) (permcache.Cache, error) {
	redisOpts := permcache.RedisOptions{
		TTL:       cfg.Cache.TTL,
		KeyPrefix: cfg.Cache.KeyPrefix,
		Channel:   cfg.Cache.Channel,
	}

	switch cfg.Cache.Backend {
	case config.CacheNone:
		logger.Warn("Permission cache disabled")
		return nil, nil
	case config.CacheRedis:
		return permcache.NewRedisCache(client, redisOpts), nil
	case config.CacheLayered:
		local := permcache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		layered, err := permcache.NewLayeredCache(ctx, local, permcache.NewRedisCache(client, redisOpts), logger.WithField("component", "permcache"))
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to cache invalidations: %w", err)
		}
		return layered, nil
	default:
		return permcache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.Cache.TTL), nil
	}
}

func newAuthenticator(ctx context.Context, cfg *config.Config, db *sql.DB) (auth.Authenticator, error) {
	tokens := auth.NewTokenStore(db)
	if cfg.Auth.OIDCIssuerURL == "" {
		return auth.NewChainAuthenticator(tokens, nil), nil
	}

	oidcAuth, err := auth.NewOIDCAuthenticator(ctx, cfg.Auth.OIDCIssuerURL, cfg.Auth.OIDCClientID, db)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OIDC: %w", err)
	}
	return auth.NewChainAuthenticator(tokens, oidcAuth), nil
}

func newLimiter(ctx context.Context, cfg *config.Config, client *redis.Client) middleware.Limiter {
	rlCfg := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimit.RequestsPerWindow,
		WindowDuration:    cfg.RateLimit.Window,
		BurstSize:         cfg.RateLimit.Burst,
	}
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, rlCfg, "warden:ratelimit")
	}

	limiter := middleware.NewRateLimiter(rlCfg)
	limiter.StartCleanup(ctx)
	return limiter
}

func newScheduler(cfg *config.Config, db *sql.DB, manager *rbac.Manager, uploader *archive.S3Uploader, metrics *observability.Metrics, logger *observability.Logger) (*maintenance.Scheduler, error) {
	scheduler := maintenance.NewScheduler(logger, 10*time.Minute)

	if err := scheduler.Add(maintenance.JobIntegrity, cfg.Maintenance.IntegritySchedule,
		maintenance.IntegrityJob(manager.GetOverrideStore(), metrics)); err != nil {
		return nil, err
	}

	if metrics != nil {
		if err := scheduler.Add(maintenance.JobDBStats, "@every 30s", maintenance.DBStatsJob(db, metrics)); err != nil {
			return nil, err
		}
	}

	if uploader != nil {
		exporter := archive.NewExporter(db, manager.GetOverrideStore(), uploader, archive.Options{
			Prefix:    cfg.Archive.Prefix,
			BatchSize: cfg.Archive.BatchSize,
		}, metrics, logger.WithField("component", "archive"))

		if err := scheduler.Add(maintenance.JobArchive, cfg.Maintenance.ArchiveSchedule, maintenance.ArchiveJob(exporter)); err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}
