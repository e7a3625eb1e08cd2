package main

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/config"
	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/healthcheck"
	"github.com/ehr/pmsync/internal/orchestrator"
	"github.com/ehr/pmsync/internal/platform/db"
	"github.com/ehr/pmsync/internal/platform/metrics"
	"github.com/ehr/pmsync/internal/platform/notification"
	"github.com/ehr/pmsync/internal/platform/runlock"
	"github.com/ehr/pmsync/internal/platform/secrets"
	"github.com/ehr/pmsync/internal/platform/webhook"
	"github.com/ehr/pmsync/internal/pushback"
	"github.com/ehr/pmsync/internal/upstream"
)

// alertBacklog bounds the in-memory alert feed served at /api/v1/alerts.
const alertBacklog = 500

// app holds every long-lived component built from one Config.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool  *pgxpool.Pool
	redis *redis.Client

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	practices practice.Repository
	store     records.Store
	jobs      audit.JobRepository
	events    audit.WebhookEventRepository
	health    audit.HealthRepository

	clients      *upstream.Factory
	alerts       *notification.InMemoryNotifier
	orchestrator *orchestrator.Orchestrator
	router       *webhook.Router
	writer       *pushback.Writer
	monitor      *healthcheck.Monitor
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}

// upstreamOptions maps config onto client options. UPSTREAM_MAX_RETRIES is
// a literal budget, so 0 disables retries; the client reads a zero budget as
// "use the default" and a negative one as "none".
func upstreamOptions(cfg *config.Config) upstream.Options {
	retries := cfg.UpstreamMaxRetries
	if retries == 0 {
		retries = -1
	}
	return upstream.Options{
		APIVersion:    cfg.UpstreamAPIVersion,
		Timeout:       cfg.UpstreamTimeout,
		MaxRetries:    retries,
		BaseDelay:     cfg.UpstreamRetryBaseDelay,
		RateLimitWait: cfg.UpstreamRateLimitWait,
		RateLimitRPS:  cfg.UpstreamRateLimitRPS,
	}
}

// newApp connects to Postgres (and Redis when configured) and wires the
// sync components. Close releases the connections.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	if cfg.CredentialsKey == "" {
		return nil, errors.New("CREDENTIALS_ENCRYPTION_KEY is required to read practice credentials")
	}
	cipher, err := secrets.NewEncryptorFromHex(cfg.CredentialsKey)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("connected to database")

	a := &app{
		cfg:       cfg,
		logger:    logger,
		pool:      pool,
		registry:  prometheus.NewRegistry(),
		practices: practice.NewRepoPG(pool, cipher),
		store:     records.NewStorePG(pool),
		jobs:      audit.NewJobRepoPG(pool),
		events:    audit.NewWebhookEventRepoPG(pool),
		health:    audit.NewHealthRepoPG(pool),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	var locker runlock.Locker = runlock.NewLocalLocker()
	if cfg.RedisURL != "" {
		rdb, err := runlock.Connect(ctx, cfg.RedisURL)
		if err != nil {
			pool.Close()
			return nil, err
		}
		a.redis = rdb
		locker = runlock.NewRedisLocker(rdb, "pmsync:")
		logger.Info().Msg("using redis run locks")
	} else {
		logger.Warn().Msg("REDIS_URL not set, run locks are process-local")
	}

	base := upstreamOptions(cfg)
	base.Logger = logger.With().Str("component", "upstream").Logger()
	base.Metrics = a.metrics
	a.clients = upstream.NewFactory(base, cfg.UpstreamSandboxURL, cfg.UpstreamProductionURL)

	a.alerts = notification.NewInMemoryNotifier(alertBacklog)
	notifier := notification.Multi{notification.NewLogNotifier(logger), a.alerts}

	a.orchestrator = orchestrator.New(a.practices, a.store, a.jobs, a.clients,
		logger.With().Str("component", "orchestrator").Logger(),
		orchestrator.Config{
			PageSize:          cfg.UpstreamPageSize,
			RunBudget:         cfg.SyncRunBudget,
			Lookback:          cfg.SyncLookback,
			AppointmentWindow: time.Duration(cfg.SyncAppointmentWindowDays) * 24 * time.Hour,
			LockTTL:           cfg.SyncLockTTL,
		},
		orchestrator.WithLocker(locker),
		orchestrator.WithMetrics(a.metrics),
	)
	a.router = webhook.NewRouter(a.practices, a.store, a.events, a.metrics,
		logger.With().Str("component", "webhook").Logger())
	a.writer = pushback.NewWriter(a.practices, a.store, a.clients, a.metrics,
		logger.With().Str("component", "pushback").Logger())
	a.monitor = healthcheck.NewMonitor(a.practices, a.health, a.clients, notifier, a.metrics,
		logger.With().Str("component", "healthcheck").Logger(), cfg.HealthDegradedThreshold)
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
}
