package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// -- Sync jobs --

type jobRepoPG struct{ pool *pgxpool.Pool }

func NewJobRepoPG(pool *pgxpool.Pool) JobRepository { return &jobRepoPG{pool: pool} }

const jobCols = `id, practice_id, type, status, started_at, finished_at,
	records_processed, records_failed, records_skipped, errors`

func scanJob(row pgx.Row) (*SyncJob, error) {
	var j SyncJob
	err := row.Scan(&j.ID, &j.PracticeID, &j.Type, &j.Status, &j.StartedAt, &j.FinishedAt,
		&j.RecordsProcessed, &j.RecordsFailed, &j.RecordsSkipped, &j.Errors)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *jobRepoPG) Create(ctx context.Context, job *SyncJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobRunning
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_job (id, practice_id, type, status, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.PracticeID, job.Type, job.Status, job.StartedAt)
	return err
}

func (r *jobRepoPG) Finalize(ctx context.Context, job *SyncJob) error {
	errs := job.Errors
	if errs == nil {
		errs = []string{}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sync_job SET status = $2, finished_at = $3,
			records_processed = $4, records_failed = $5, records_skipped = $6, errors = $7
		WHERE id = $1 AND status = 'running'`,
		job.ID, job.Status, job.FinishedAt,
		job.RecordsProcessed, job.RecordsFailed, job.RecordsSkipped, errs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, job.ID); err != nil {
			return err
		}
		return ErrJobFinalized
	}
	return nil
}

func (r *jobRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*SyncJob, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobCols+` FROM sync_job WHERE id = $1`, id))
}

func (r *jobRepoPG) ListByPractice(ctx context.Context, practiceID uuid.UUID, limit, offset int) ([]*SyncJob, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sync_job WHERE practice_id = $1`, practiceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobCols+` FROM sync_job WHERE practice_id = $1
		ORDER BY started_at DESC LIMIT $2 OFFSET $3`, practiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*SyncJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, j)
	}
	return items, total, rows.Err()
}

// -- Webhook events --

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewWebhookEventRepoPG(pool *pgxpool.Pool) WebhookEventRepository {
	return &eventRepoPG{pool: pool}
}

const eventCols = `id, practice_id, event_id, event_type, subdomain, resource_id, payload,
	status, error, received_at, processed_at`

func scanEvent(row pgx.Row) (*WebhookEvent, error) {
	var e WebhookEvent
	var eventID, resourceID *string
	err := row.Scan(&e.ID, &e.PracticeID, &eventID, &e.EventType, &e.Subdomain, &resourceID, &e.Payload,
		&e.Status, &e.Error, &e.ReceivedAt, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if eventID != nil {
		e.EventID = *eventID
	}
	if resourceID != nil {
		e.ResourceID = *resourceID
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *eventRepoPG) Create(ctx context.Context, e *WebhookEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_event (id, practice_id, event_id, event_type, subdomain, resource_id, payload, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.PracticeID, nullable(e.EventID), e.EventType, e.Subdomain, nullable(e.ResourceID),
		e.Payload, e.Status, e.ReceivedAt)
	return err
}

func (r *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*WebhookEvent, error) {
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM webhook_event WHERE id = $1`, id))
}

func (r *eventRepoPG) GetByEventID(ctx context.Context, eventID string) (*WebhookEvent, error) {
	if eventID == "" {
		return nil, ErrNotFound
	}
	return scanEvent(r.pool.QueryRow(ctx, `SELECT `+eventCols+` FROM webhook_event WHERE event_id = $1`, eventID))
}

func (r *eventRepoPG) Complete(ctx context.Context, id uuid.UUID, status string, practiceID *uuid.UUID, errMsg string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_event SET status = $2, practice_id = COALESCE($3, practice_id), error = $4, processed_at = $5
		WHERE id = $1 AND status = 'pending'`,
		id, status, practiceID, nullable(errMsg), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrEventFinalized
	}
	return nil
}

func (r *eventRepoPG) Reopen(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_event SET status = 'pending', processed_at = NULL
		WHERE id = $1 AND status = 'failed'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrEventFinalized
	}
	return nil
}

func (r *eventRepoPG) List(ctx context.Context, f EventFilter, limit, offset int) ([]*WebhookEvent, int, error) {
	var where []string
	var args []any
	idx := 1
	if f.PracticeID != nil {
		where = append(where, fmt.Sprintf("practice_id = $%d", idx))
		args = append(args, *f.PracticeID)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.EventType != "" {
		where = append(where, fmt.Sprintf("event_type = $%d", idx))
		args = append(args, f.EventType)
		idx++
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_event`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := fmt.Sprintf(`SELECT `+eventCols+` FROM webhook_event`+clause+` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

// -- Health checks --

type healthRepoPG struct{ pool *pgxpool.Pool }

func NewHealthRepoPG(pool *pgxpool.Pool) HealthRepository { return &healthRepoPG{pool: pool} }

func (r *healthRepoPG) Save(ctx context.Context, hc *HealthCheck) error {
	if hc.ID == uuid.Nil {
		hc.ID = uuid.New()
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO health_check (id, practice_id, status, latency_ms, error, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		hc.ID, hc.PracticeID, hc.Status, hc.LatencyMS, hc.Error, hc.CheckedAt)
	return err
}

func (r *healthRepoPG) ListByPractice(ctx context.Context, practiceID uuid.UUID, limit int) ([]*HealthCheck, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, practice_id, status, latency_ms, error, checked_at
		FROM health_check WHERE practice_id = $1 ORDER BY checked_at DESC LIMIT $2`, practiceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*HealthCheck
	for rows.Next() {
		var hc HealthCheck
		if err := rows.Scan(&hc.ID, &hc.PracticeID, &hc.Status, &hc.LatencyMS, &hc.Error, &hc.CheckedAt); err != nil {
			return nil, err
		}
		items = append(items, &hc)
	}
	return items, rows.Err()
}
