// Package healthcheck probes upstream connectivity per practice and keeps
// the practice status and probe history current.
package healthcheck

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/platform/metrics"
	"github.com/ehr/pmsync/internal/platform/notification"
	"github.com/ehr/pmsync/internal/upstream"
)

const DefaultDegradedThreshold = time.Second

// ClientFactory hands out the upstream client bound to one practice.
type ClientFactory interface {
	ForPractice(p *practice.Practice) (*upstream.Client, error)
}

// Report is the outcome of one probe.
type Report struct {
	PracticeID uuid.UUID     `json:"practice_id"`
	Subdomain  string        `json:"subdomain"`
	Status     string        `json:"status"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

type Monitor struct {
	practices practice.Repository
	history   audit.HealthRepository
	clients   ClientFactory
	notifier  notification.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	threshold time.Duration
	now       func() time.Time
}

// NewMonitor returns a Monitor. A non-positive threshold means
// DefaultDegradedThreshold; a nil notifier disables alerts.
func NewMonitor(practices practice.Repository, history audit.HealthRepository, clients ClientFactory, notifier notification.Notifier, m *metrics.Metrics, logger zerolog.Logger, threshold time.Duration) *Monitor {
	if threshold <= 0 {
		threshold = DefaultDegradedThreshold
	}
	return &Monitor{
		practices: practices,
		history:   history,
		clients:   clients,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With().Str("component", "healthcheck").Logger(),
		threshold: threshold,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckAll probes every active, configured practice in turn. Practices
// without credentials are left alone: their status stays unconfigured and
// no alert is raised.
func (m *Monitor) CheckAll(ctx context.Context) ([]Report, error) {
	active, err := m.practices.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active practices: %w", err)
	}
	reports := make([]Report, 0, len(active))
	for _, p := range active {
		if ctx.Err() != nil {
			return reports, ctx.Err()
		}
		if !p.Configured() {
			m.logger.Debug().Str("practice_id", p.ID.String()).Msg("skipping unconfigured practice")
			continue
		}
		reports = append(reports, m.Check(ctx, p))
	}
	return reports, nil
}

// Check authenticates and fetches a single provider, classifies the
// latency, then records the result.
func (m *Monitor) Check(ctx context.Context, p *practice.Practice) Report {
	log := m.logger.With().Str("practice_id", p.ID.String()).Logger()
	start := time.Now()
	err := m.probe(ctx, p)
	latency := time.Since(start)

	r := Report{
		PracticeID: p.ID,
		Subdomain:  p.Subdomain,
		Status:     audit.HealthHealthy,
		Latency:    latency,
		CheckedAt:  m.now(),
	}
	switch {
	case err != nil:
		r.Status = audit.HealthDown
		r.Error = err.Error()
	case latency > m.threshold:
		r.Status = audit.HealthDegraded
	}
	m.metrics.ObserveProbe(r.Status, latency)

	hc := &audit.HealthCheck{
		PracticeID: p.ID,
		Status:     r.Status,
		LatencyMS:  latency.Milliseconds(),
		CheckedAt:  r.CheckedAt,
	}
	if r.Error != "" {
		hc.Error = &r.Error
	}
	if err := m.history.Save(ctx, hc); err != nil {
		log.Error().Err(err).Msg("save health check")
	}

	if r.Status == audit.HealthDown {
		if err := m.practices.SetStatus(ctx, p.ID, practice.StatusError, r.Error); err != nil {
			log.Error().Err(err).Msg("set practice status")
		}
	} else if err := m.practices.SetStatus(ctx, p.ID, practice.StatusConnected, ""); err != nil {
		log.Error().Err(err).Msg("set practice status")
	}

	m.alert(ctx, log, p, r)
	log.Info().Str("status", r.Status).Dur("latency", latency).Msg("health probe")
	return r
}

func (m *Monitor) probe(ctx context.Context, p *practice.Practice) error {
	client, err := m.clients.ForPractice(p)
	if err != nil {
		return err
	}
	if _, err := client.Authenticate(ctx); err != nil {
		return err
	}
	_, err = client.ListProviders(ctx, upstream.ListParams{PerPage: 1})
	return err
}

func (m *Monitor) alert(ctx context.Context, log zerolog.Logger, p *practice.Practice, r Report) {
	if m.notifier == nil || r.Status == audit.HealthHealthy {
		return
	}
	a := &notification.Alert{
		PracticeID: p.ID.String(),
		Severity:   notification.SeverityWarning,
		Title:      fmt.Sprintf("Practice %s upstream latency degraded", p.Subdomain),
		Body:       fmt.Sprintf("Probe took %s (threshold %s).", r.Latency.Round(time.Millisecond), m.threshold),
		Metadata:   map[string]string{"status": r.Status, "subdomain": p.Subdomain},
	}
	if r.Status == audit.HealthDown {
		a.Severity = notification.SeverityCritical
		a.Title = fmt.Sprintf("Practice %s upstream unreachable", p.Subdomain)
		a.Body = r.Error
	}
	if err := m.notifier.Notify(ctx, a); err != nil {
		log.Warn().Err(err).Msg("send health alert")
	}
}

// History returns the most recent probes for a practice.
func (m *Monitor) History(ctx context.Context, practiceID uuid.UUID, limit int) ([]*audit.HealthCheck, error) {
	return m.history.ListByPractice(ctx, practiceID, limit)
}
