// Package webhook receives upstream change notifications, logs every event
// and applies the carried record to the local store.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/audit"
	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/platform/metrics"
)

var ErrNotReplayable = errors.New("only failed events can be replayed")

// Result outcome values.
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
)

// Event is a notification as delivered by the upstream system. Data may
// be an inline object or a JSON-encoded string.
type Event struct {
	EventID    string          `json:"eventId"`
	EventType  string          `json:"eventType"`
	Subdomain  string          `json:"subdomain"`
	ResourceID string          `json:"resourceId"`
	Data       json.RawMessage `json:"data"`
}

// Result reports what happened to one event.
type Result struct {
	EventLogID uuid.UUID `json:"event_log_id"`
	Outcome    string    `json:"outcome"`
	Kind       string    `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Success reports whether the event needs no further attention.
func (r Result) Success() bool { return r.Outcome != OutcomeFailed }

type Router struct {
	practices practice.Repository
	store     records.Store
	events    audit.WebhookEventRepository
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewRouter(practices practice.Repository, store records.Store, events audit.WebhookEventRepository, m *metrics.Metrics, logger zerolog.Logger) *Router {
	return &Router{
		practices: practices,
		store:     store,
		events:    events,
		metrics:   m,
		logger:    logger.With().Str("component", "webhook").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// normalizeData unwraps a string-encoded payload and drops null.
func normalizeData(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode data string: %w", err)
	}
	inner := bytes.TrimSpace([]byte(s))
	if len(inner) == 0 {
		return nil, nil
	}
	if !json.Valid(inner) {
		return nil, errors.New("data string is not JSON")
	}
	return inner, nil
}

// Handle logs ev and applies it. An event id that was already processed
// is acknowledged without being applied again; one that is pending or
// failed is processed on its existing log row.
func (r *Router) Handle(ctx context.Context, ev Event) Result {
	log := r.logger.With().Str("event_id", ev.EventID).Str("event_type", ev.EventType).Str("subdomain", ev.Subdomain).Logger()

	if prior, err := r.events.GetByEventID(ctx, ev.EventID); err == nil {
		switch prior.Status {
		case audit.EventProcessed:
			log.Debug().Msg("duplicate webhook event acknowledged")
			r.metrics.ObserveWebhook(OutcomeDuplicate)
			return Result{EventLogID: prior.ID, Outcome: OutcomeDuplicate}
		case audit.EventFailed:
			if err := r.events.Reopen(ctx, prior.ID); err != nil {
				return r.fail(log, prior.ID, fmt.Errorf("reopen event: %w", err))
			}
		}
		return r.process(ctx, log, prior)
	} else if !errors.Is(err, audit.ErrNotFound) {
		log.Error().Err(err).Msg("look up webhook event")
	}

	data, dataErr := normalizeData(ev.Data)
	if dataErr != nil {
		data = nil
	}
	e := &audit.WebhookEvent{
		EventID:    ev.EventID,
		EventType:  ev.EventType,
		Subdomain:  ev.Subdomain,
		ResourceID: ev.ResourceID,
		Payload:    data,
		Status:     audit.EventPending,
		ReceivedAt: r.now(),
	}
	if err := r.events.Create(ctx, e); err != nil {
		log.Error().Err(err).Msg("record webhook event")
		r.metrics.ObserveWebhook(OutcomeFailed)
		return Result{Outcome: OutcomeFailed, Error: "record event: " + err.Error()}
	}
	if dataErr != nil {
		r.complete(ctx, log, e.ID, audit.EventFailed, nil, dataErr.Error())
		return r.fail(log, e.ID, dataErr)
	}
	return r.process(ctx, log, e)
}

// Replay reprocesses a failed event from its logged payload.
func (r *Router) Replay(ctx context.Context, id uuid.UUID) (Result, error) {
	e, err := r.events.GetByID(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if e.Status != audit.EventFailed {
		return Result{}, ErrNotReplayable
	}
	if err := r.events.Reopen(ctx, id); err != nil {
		return Result{}, err
	}
	log := r.logger.With().Str("event_id", e.EventID).Str("event_type", e.EventType).Bool("replay", true).Logger()
	return r.process(ctx, log, e), nil
}

func (r *Router) process(ctx context.Context, log zerolog.Logger, e *audit.WebhookEvent) Result {
	p, err := r.practices.GetBySubdomain(ctx, e.Subdomain)
	if err != nil {
		msg := "unknown subdomain"
		if !errors.Is(err, practice.ErrNotFound) {
			msg = err.Error()
		}
		r.complete(ctx, log, e.ID, audit.EventFailed, nil, msg)
		return r.fail(log, e.ID, errors.New(msg))
	}
	pid := p.ID

	rt, ok := lookup(e.EventType)
	if !ok {
		r.complete(ctx, log, e.ID, audit.EventProcessed, &pid, "")
		r.metrics.ObserveWebhook(OutcomeIgnored)
		log.Debug().Msg("unrouted webhook event")
		return Result{EventLogID: e.ID, Outcome: OutcomeIgnored}
	}

	in := &inbound{kind: rt.kind, resourceID: e.ResourceID, payload: e.Payload, deleted: isDelete(e.EventType)}
	if err := rt.apply(ctx, r.store, pid, in); err != nil {
		r.complete(ctx, log, e.ID, audit.EventFailed, &pid, err.Error())
		res := r.fail(log, e.ID, err)
		res.Kind = string(rt.kind)
		return res
	}
	r.complete(ctx, log, e.ID, audit.EventProcessed, &pid, "")
	if err := r.practices.SetStatus(ctx, pid, practice.StatusConnected, ""); err != nil {
		log.Warn().Err(err).Msg("set practice status")
	}
	r.metrics.ObserveWebhook(OutcomeProcessed)
	log.Info().Str("kind", string(rt.kind)).Str("foreign_id", e.ResourceID).Msg("webhook event applied")
	return Result{EventLogID: e.ID, Outcome: OutcomeProcessed, Kind: string(rt.kind)}
}

func (r *Router) complete(ctx context.Context, log zerolog.Logger, id uuid.UUID, status string, practiceID *uuid.UUID, msg string) {
	if err := r.events.Complete(ctx, id, status, practiceID, msg, r.now()); err != nil {
		log.Error().Err(err).Str("status", status).Msg("complete webhook event")
	}
}

func (r *Router) fail(log zerolog.Logger, id uuid.UUID, err error) Result {
	log.Warn().Err(err).Msg("webhook event failed")
	r.metrics.ObserveWebhook(OutcomeFailed)
	return Result{EventLogID: id, Outcome: OutcomeFailed, Error: err.Error()}
}
