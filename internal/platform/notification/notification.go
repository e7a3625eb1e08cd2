// Package notification raises operator alerts. Delivery is pluggable behind
// Notifier; the bundled implementations log, keep alerts in memory for the
// admin API, or fan out to several notifiers.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// Severity ranks an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-facing notification.
type Alert struct {
	ID         string            `json:"id"`
	PracticeID string            `json:"practice_id,omitempty"`
	Severity   Severity          `json:"severity"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a *Alert) error
}

func stamp(a *Alert) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
}

// ---------------------------------------------------------------------------
// Log notifier
// ---------------------------------------------------------------------------

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alerts").Logger()}
}

func (n *LogNotifier) Notify(_ context.Context, a *Alert) error {
	stamp(a)
	ev := n.logger.Warn()
	if a.Severity == SeverityCritical {
		ev = n.logger.Error()
	}
	d := zerolog.Dict()
	for k, v := range a.Metadata {
		d = d.Str(k, v)
	}
	ev.Str("alert_id", a.ID).
		Str("practice_id", a.PracticeID).
		Str("severity", string(a.Severity)).
		Dict("metadata", d).
		Msg(a.Title + ": " + a.Body)
	return nil
}

// ---------------------------------------------------------------------------
// In-memory notifier
// ---------------------------------------------------------------------------

// InMemoryNotifier keeps the most recent alerts for inspection.
type InMemoryNotifier struct {
	mu     sync.RWMutex
	alerts []*Alert
	limit  int
}

// NewInMemoryNotifier keeps at most limit alerts; limit <= 0 keeps all.
func NewInMemoryNotifier(limit int) *InMemoryNotifier {
	return &InMemoryNotifier{limit: limit}
}

func (n *InMemoryNotifier) Notify(_ context.Context, a *Alert) error {
	stamp(a)
	cp := *a
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, &cp)
	if n.limit > 0 && len(n.alerts) > n.limit {
		n.alerts = n.alerts[len(n.alerts)-n.limit:]
	}
	return nil
}

// Recent returns alerts newest first, optionally filtered by practice.
func (n *InMemoryNotifier) Recent(practiceID string) []*Alert {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Alert, 0, len(n.alerts))
	for i := len(n.alerts) - 1; i >= 0; i-- {
		if practiceID != "" && n.alerts[i].PracticeID != practiceID {
			continue
		}
		cp := *n.alerts[i]
		out = append(out, &cp)
	}
	return out
}

// ---------------------------------------------------------------------------
// Fan-out
// ---------------------------------------------------------------------------

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a *Alert) error {
	stamp(a)
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
