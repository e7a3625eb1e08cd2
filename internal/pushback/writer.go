// Package pushback writes locally originated records to the upstream
// practice system and links the upstream id back to the local row.
package pushback

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/pmsync/internal/domain/practice"
	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/platform/metrics"
	"github.com/ehr/pmsync/internal/upstream"
)

// Result is the outcome of one push. Failures are reported here, never as
// a Go error, and are not retried.
type Result struct {
	Success   bool   `json:"success"`
	ForeignID string `json:"foreign_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func failure(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

// ClientFactory hands out the upstream client bound to one practice.
type ClientFactory interface {
	ForPractice(p *practice.Practice) (*upstream.Client, error)
}

type Writer struct {
	practices practice.Repository
	store     records.Store
	clients   ClientFactory
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func NewWriter(practices practice.Repository, store records.Store, clients ClientFactory, m *metrics.Metrics, logger zerolog.Logger) *Writer {
	return &Writer{
		practices: practices,
		store:     store,
		clients:   clients,
		metrics:   m,
		logger:    logger.With().Str("component", "pushback").Logger(),
	}
}

// wire is satisfied by every upstream record type through its Meta.
type wire interface {
	Identifier() string
}

// target is a loaded local row ready to push.
type target[R records.Record] struct {
	row    *records.Row
	rec    R
	client *upstream.Client
}

func load[E any, R interface {
	*E
	records.Record
}](ctx context.Context, w *Writer, practiceID, localID uuid.UUID, kind records.Kind) (*target[R], error) {
	row, err := w.store.GetByID(ctx, kind, localID)
	if errors.Is(err, records.ErrNotFound) {
		return nil, fmt.Errorf("%s %s not found", kind, localID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, localID, err)
	}
	if row.PracticeID != practiceID {
		return nil, fmt.Errorf("%s %s not found", kind, localID)
	}
	if row.Deleted {
		if row.MergedInto != nil {
			return nil, fmt.Errorf("%s %s was merged into %s; push that row instead", kind, localID, *row.MergedInto)
		}
		return nil, fmt.Errorf("%s %s is deleted", kind, localID)
	}
	rec := R(new(E))
	if err := row.Decode(rec); err != nil {
		return nil, err
	}
	p, err := w.practices.GetByID(ctx, practiceID)
	if err != nil {
		return nil, fmt.Errorf("load practice %s: %w", practiceID, err)
	}
	client, err := w.clients.ForPractice(p)
	if err != nil {
		return nil, err
	}
	return &target[R]{row: row, rec: rec, client: client}, nil
}

// create pushes a local row that has no foreign id yet and links the id
// the upstream assigned.
func create[E any, R interface {
	*E
	records.Record
}, W wire](ctx context.Context, w *Writer, practiceID, localID uuid.UUID, kind records.Kind,
	push func(context.Context, *upstream.Client, R) (W, error), mapBack func(W) (R, error)) Result {
	log := w.logger.With().Str("practice_id", practiceID.String()).Str("kind", string(kind)).Str("local_id", localID.String()).Logger()

	t, err := load[E, R](ctx, w, practiceID, localID, kind)
	if err != nil {
		return w.fail(log, kind, err.Error())
	}
	if !t.row.AwaitingReconciliation() {
		return w.fail(log, kind, fmt.Sprintf("%s %s is already synced as %s", kind, localID, *t.row.ForeignID))
	}
	resp, err := push(ctx, t.client, t.rec)
	if err != nil {
		return w.fail(log, kind, fmt.Sprintf("create %s: %v", kind, err))
	}
	foreignID := resp.Identifier()
	if foreignID == "" {
		return w.fail(log, kind, fmt.Sprintf("create %s: response carried no id", kind))
	}

	linked := t.rec
	if mapped, err := mapBack(resp); err == nil {
		linked = mapped
	} else {
		log.Warn().Err(err).Str("foreign_id", foreignID).Msg("map create response; keeping local data")
	}
	linked.SetForeignKey(foreignID)
	if _, err := w.store.AssignForeignID(ctx, kind, localID, linked); err != nil {
		res := w.fail(log, kind, fmt.Sprintf("%s created upstream as %s but linking failed: %v", kind, foreignID, err))
		res.ForeignID = foreignID
		return res
	}
	w.metrics.ObserveRecords(string(kind), "pushed", 1)
	log.Info().Str("foreign_id", foreignID).Msg("record pushed")
	return Result{Success: true, ForeignID: foreignID}
}

// update pushes changes of an already linked row and stores the response.
func update[E any, R interface {
	*E
	records.Record
}, W wire](ctx context.Context, w *Writer, practiceID, localID uuid.UUID, kind records.Kind,
	push func(context.Context, *upstream.Client, string, R) (W, error), mapBack func(W) (R, error)) Result {
	log := w.logger.With().Str("practice_id", practiceID.String()).Str("kind", string(kind)).Str("local_id", localID.String()).Logger()

	t, err := load[E, R](ctx, w, practiceID, localID, kind)
	if err != nil {
		return w.fail(log, kind, err.Error())
	}
	if t.row.AwaitingReconciliation() {
		return w.fail(log, kind, fmt.Sprintf("%s %s has no foreign identifier", kind, localID))
	}
	foreignID := *t.row.ForeignID
	resp, err := push(ctx, t.client, foreignID, t.rec)
	if err != nil {
		return w.fail(log, kind, fmt.Sprintf("update %s %s: %v", kind, foreignID, err))
	}

	stored := t.rec
	if mapped, err := mapBack(resp); err == nil {
		stored = mapped
	}
	stored.SetForeignKey(foreignID)
	if _, err := w.store.Upsert(ctx, practiceID, stored); err != nil {
		log.Warn().Err(err).Str("foreign_id", foreignID).Msg("store update response")
	}
	w.metrics.ObserveRecords(string(kind), "pushed", 1)
	log.Info().Str("foreign_id", foreignID).Msg("record updated upstream")
	return Result{Success: true, ForeignID: foreignID}
}

func (w *Writer) fail(log zerolog.Logger, kind records.Kind, msg string) Result {
	w.metrics.ObserveRecords(string(kind), "push_failed", 1)
	log.Warn().Str("error", msg).Msg("push failed")
	return failure("%s", msg)
}
