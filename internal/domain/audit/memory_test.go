package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestInMemoryJobRepository_FinalizeOnce(t *testing.T) {
	repo := NewInMemoryJobRepository()
	ctx := context.Background()
	job := &SyncJob{PracticeID: uuid.New(), Type: JobFull, StartedAt: time.Now()}
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != JobRunning {
		t.Fatalf("expected running, got %q", job.Status)
	}

	now := time.Now()
	job.Status = JobCompleted
	job.FinishedAt = &now
	job.RecordsProcessed = 9
	job.RecordsFailed = 1
	if err := repo.Finalize(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	job.Status = JobFailed
	if err := repo.Finalize(ctx, job); !errors.Is(err, ErrJobFinalized) {
		t.Fatalf("expected ErrJobFinalized, got %v", err)
	}
	got, _ := repo.GetByID(ctx, job.ID)
	if got.Status != JobCompleted || got.RecordsProcessed != 9 || got.RecordsFailed != 1 {
		t.Errorf("finalized job was mutated: %+v", got)
	}
}

func TestInMemoryJobRepository_ListByPractice(t *testing.T) {
	repo := NewInMemoryJobRepository()
	ctx := context.Background()
	practiceID := uuid.New()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		repo.Create(ctx, &SyncJob{PracticeID: practiceID, Type: JobIncremental, StartedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	repo.Create(ctx, &SyncJob{PracticeID: uuid.New(), Type: JobFull, StartedAt: base})

	jobs, total, err := repo.ListByPractice(ctx, practiceID, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 || len(jobs) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(jobs), total)
	}
	if !jobs[0].StartedAt.After(jobs[1].StartedAt) {
		t.Error("expected newest first")
	}
}

func TestInMemoryWebhookEventRepository_CompleteAndReopen(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository()
	ctx := context.Background()
	e := &WebhookEvent{EventID: "evt-1", EventType: "patient.updated", Status: EventPending}
	repo.Create(ctx, e)

	if err := repo.Complete(ctx, e.ID, EventFailed, nil, "boom", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.Complete(ctx, e.ID, EventProcessed, nil, "", time.Now()); !errors.Is(err, ErrEventFinalized) {
		t.Fatalf("expected ErrEventFinalized, got %v", err)
	}
	if err := repo.Reopen(ctx, e.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	practiceID := uuid.New()
	if err := repo.Complete(ctx, e.ID, EventProcessed, &practiceID, "", time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetByEventID(ctx, "evt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != EventProcessed || got.Error != nil || *got.PracticeID != practiceID {
		t.Errorf("unexpected event: %+v", got)
	}
	if err := repo.Reopen(ctx, e.ID); !errors.Is(err, ErrEventFinalized) {
		t.Errorf("expected processed event to stay closed, got %v", err)
	}
}

func TestInMemoryWebhookEventRepository_ListFilter(t *testing.T) {
	repo := NewInMemoryWebhookEventRepository()
	ctx := context.Background()
	repo.Create(ctx, &WebhookEvent{EventType: "patient.created", Status: EventPending})
	repo.Create(ctx, &WebhookEvent{EventType: "payment.created", Status: EventPending})
	e := &WebhookEvent{EventType: "patient.created", Status: EventPending}
	repo.Create(ctx, e)
	repo.Complete(ctx, e.ID, EventFailed, nil, "x", time.Now())

	items, total, _ := repo.List(ctx, EventFilter{Status: EventFailed}, 10, 0)
	if total != 1 || items[0].ID != e.ID {
		t.Fatalf("expected the failed event only, got %d", total)
	}
	_, total, _ = repo.List(ctx, EventFilter{EventType: "patient.created"}, 10, 0)
	if total != 2 {
		t.Fatalf("expected 2 patient events, got %d", total)
	}
	if _, err := repo.GetByEventID(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected empty event id to never match, got %v", err)
	}
}

func TestInMemoryHealthRepository_ListLimit(t *testing.T) {
	repo := NewInMemoryHealthRepository()
	ctx := context.Background()
	practiceID := uuid.New()
	for _, s := range []string{HealthHealthy, HealthDegraded, HealthDown} {
		repo.Save(ctx, &HealthCheck{PracticeID: practiceID, Status: s, CheckedAt: time.Now()})
	}
	got, _ := repo.ListByPractice(ctx, practiceID, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got[0].Status != HealthDown {
		t.Errorf("expected most recent first, got %q", got[0].Status)
	}
}
