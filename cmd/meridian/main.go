package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meridianhq/meridian/pkg/audit"
	"github.com/meridianhq/meridian/pkg/auth"
	"github.com/meridianhq/meridian/pkg/authz"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/directory"
	"github.com/meridianhq/meridian/pkg/httputil"
	"github.com/meridianhq/meridian/pkg/observability"
	"github.com/meridianhq/meridian/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, nil).WithError(err).Error("failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting meridian authorization service")

	db, err := postgres.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Error("failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis)
		if err != nil {
			// Cache is an optimization; run degraded rather than refuse to start.
			logger.WithError(err).Warn("redis unavailable, running without permission cache")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	ctx := context.Background()
	if err := authz.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	var auditLogger audit.Logger = &audit.NoOpLogger{}
	if cfg.Observability.AuditEnabled {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			logger.WithError(err).Error("failed to initialize audit logger")
			os.Exit(1)
		}
		auditLogger = dbLogger
	}
	defer auditLogger.Close()

	var cache authz.Cache
	if redisClient != nil {
		cache = authz.NewRedisCache(redisClient)
	}

	store := authz.NewStore(db)
	service := authz.NewService(authz.ServiceConfig{
		Store:    store,
		Users:    directory.NewUserDirectory(db),
		Projects: directory.NewProjectDirectory(db),
		Cache:    cache,
		Audit:    auditLogger,
		Logger:   logger,
		Metrics:  metrics,
	})

	if metrics != nil {
		go collectGauges(ctx, metrics, db, store, logger)
	}

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware)
	router.Use(httputil.RequestIDMiddleware)
	router.Use(auth.PrincipalMiddleware)
	if metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(metrics))
	}
	authz.NewHandlers(service, logger).RegisterRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate port for k8s probes.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown incomplete")
	}
	logger.Info("stopped")
}

// collectGauges periodically refreshes the pool and inventory gauges.
func collectGauges(ctx context.Context, metrics *observability.Metrics, db *sql.DB, store *authz.Store, logger *observability.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		metrics.SetDBStats(db.Stats())

		if count, err := store.CountRoles(ctx); err == nil {
			metrics.RolesTotal.Set(float64(count))
		} else {
			logger.WithError(err).Debug("role gauge refresh failed")
		}
		if count, err := store.CountMemberships(ctx); err == nil {
			metrics.MembershipsTotal.Set(float64(count))
		} else {
			logger.WithError(err).Debug("membership gauge refresh failed")
		}
	}
}
