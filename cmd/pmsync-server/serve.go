package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/api"
	"github.com/ehr/pmsync/internal/config"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/platform/auth"
	"github.com/ehr/pmsync/internal/platform/db"
	"github.com/ehr/pmsync/internal/platform/middleware"
	"github.com/ehr/pmsync/internal/platform/webhook"
)

func runServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(a.metrics.Middleware())

	e.GET("/healthz", db.HealthHandler(a.pool))
	e.GET("/metrics", a.metrics.Handler())

	hooks := webhook.NewHandler(a.router, a.events, cfg.WebhookSecret)
	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	hooks.RegisterIngress(e.Group("", middleware.BodyLimit(cfg.WebhookMaxBody)))

	apiV1 := e.Group("/api/v1", middleware.BodyLimit("1M"))
	if cfg.AuthEnabled() {
		apiV1.Use(auth.JWTMiddleware(auth.Config{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AdminJWTSecret),
		}))
	} else {
		logger.Warn().Msg("admin API auth disabled in development")
		apiV1.Use(auth.DevMiddleware())
	}

	// Background syncs started over the API outlive the request but not the
	// process; they stop when ctx is cancelled.
	handler := api.NewHandler(ctx, api.Deps{
		Practices: practice.NewService(a.practices),
		Records:   a.store,
		Jobs:      a.jobs,
		Sync:      a.orchestrator,
		Writer:    a.writer,
		Health:    a.monitor,
		Alerts:    a.alerts,
		Logger:    logger.With().Str("component", "api").Logger(),
	})
	handler.RegisterRoutes(apiV1)
	hooks.RegisterRoutes(apiV1)

	sched := newScheduler(logger)
	sched.every("incremental_sync", cfg.IncrementalSyncInterval, func(ctx context.Context) {
		a.orchestrator.IncrementalSync(ctx)
	})
	sched.every("health_check", cfg.HealthCheckInterval, func(ctx context.Context) {
		if _, err := a.monitor.CheckAll(ctx); err != nil {
			logger.Error().Err(err).Msg("health check pass failed")
		}
	})
	sched.start(ctx)

	addr := fmt.Sprintf(":%s", cfg.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}
	sched.wait()
	handler.Wait()
	logger.Info().Msg("server stopped")
	return nil
}
