// Package audit records what the sync engine did: sync job runs, the
// webhook event log and health probe history.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Sync job types.
const (
	JobFull        = "full"
	JobIncremental = "incremental"
)

// Sync job statuses.
const (
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// SyncJob is one full or incremental run for one practice.
type SyncJob struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	PracticeID       uuid.UUID  `db:"practice_id" json:"practice_id"`
	Type             string     `db:"type" json:"type"`
	Status           string     `db:"status" json:"status"`
	StartedAt        time.Time  `db:"started_at" json:"started_at"`
	FinishedAt       *time.Time `db:"finished_at" json:"finished_at,omitempty"`
	RecordsProcessed int        `db:"records_processed" json:"records_processed"`
	RecordsFailed    int        `db:"records_failed" json:"records_failed"`
	RecordsSkipped   int        `db:"records_skipped" json:"records_skipped"`
	Errors           []string   `db:"errors" json:"errors,omitempty"`
}

// Finished reports whether the job reached a terminal status.
func (j *SyncJob) Finished() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}

// Webhook event statuses.
const (
	EventPending   = "pending"
	EventProcessed = "processed"
	EventFailed    = "failed"
)

// WebhookEvent is an inbound upstream notification and its outcome.
type WebhookEvent struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	PracticeID  *uuid.UUID      `db:"practice_id" json:"practice_id,omitempty"`
	EventID     string          `db:"event_id" json:"event_id,omitempty"`
	EventType   string          `db:"event_type" json:"event_type"`
	Subdomain   string          `db:"subdomain" json:"subdomain"`
	ResourceID  string          `db:"resource_id" json:"resource_id,omitempty"`
	Payload     json.RawMessage `db:"payload" json:"payload,omitempty"`
	Status      string          `db:"status" json:"status"`
	Error       *string         `db:"error" json:"error,omitempty"`
	ReceivedAt  time.Time       `db:"received_at" json:"received_at"`
	ProcessedAt *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Health statuses.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// HealthCheck is one connectivity probe result.
type HealthCheck struct {
	ID         uuid.UUID `db:"id" json:"id"`
	PracticeID uuid.UUID `db:"practice_id" json:"practice_id"`
	Status     string    `db:"status" json:"status"`
	LatencyMS  int64     `db:"latency_ms" json:"latency_ms"`
	Error      *string   `db:"error" json:"error,omitempty"`
	CheckedAt  time.Time `db:"checked_at" json:"checked_at"`
}
