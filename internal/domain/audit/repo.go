package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrJobFinalized   = errors.New("sync job already finalized")
	ErrEventFinalized = errors.New("webhook event already finalized")
)

type JobRepository interface {
	Create(ctx context.Context, job *SyncJob) error
	// Finalize writes the terminal status and counters. It fails with
	// ErrJobFinalized if the job already left the running state.
	Finalize(ctx context.Context, job *SyncJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)
	ListByPractice(ctx context.Context, practiceID uuid.UUID, limit, offset int) ([]*SyncJob, int, error)
}

// EventFilter narrows ListEvents. Zero values match everything.
type EventFilter struct {
	PracticeID *uuid.UUID
	Status     string
	EventType  string
}

type WebhookEventRepository interface {
	Create(ctx context.Context, e *WebhookEvent) error
	GetByID(ctx context.Context, id uuid.UUID) (*WebhookEvent, error)
	GetByEventID(ctx context.Context, eventID string) (*WebhookEvent, error)
	// Complete moves a pending event to processed or failed.
	Complete(ctx context.Context, id uuid.UUID, status string, practiceID *uuid.UUID, errMsg string, at time.Time) error
	// Reopen moves a failed event back to pending so it can be retried.
	Reopen(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f EventFilter, limit, offset int) ([]*WebhookEvent, int, error)
}

type HealthRepository interface {
	Save(ctx context.Context, hc *HealthCheck) error
	ListByPractice(ctx context.Context, practiceID uuid.UUID, limit int) ([]*HealthCheck, error)
}
