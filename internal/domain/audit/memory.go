package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -- Sync jobs --

type InMemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*SyncJob
}

func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{jobs: make(map[uuid.UUID]*SyncJob)}
}

func copyJob(j *SyncJob) *SyncJob {
	cp := *j
	cp.Errors = append([]string(nil), j.Errors...)
	return &cp
}

func (r *InMemoryJobRepository) Create(_ context.Context, job *SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobRunning
	}
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *InMemoryJobRepository) Finalize(_ context.Context, job *SyncJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.Finished() {
		return ErrJobFinalized
	}
	r.jobs[job.ID] = copyJob(job)
	return nil
}

func (r *InMemoryJobRepository) GetByID(_ context.Context, id uuid.UUID) (*SyncJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (r *InMemoryJobRepository) ListByPractice(_ context.Context, practiceID uuid.UUID, limit, offset int) ([]*SyncJob, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*SyncJob
	for _, j := range r.jobs {
		if j.PracticeID == practiceID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return page(out, limit, offset), len(out), nil
}

// -- Webhook events --

type InMemoryWebhookEventRepository struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*WebhookEvent
	order  []uuid.UUID
}

func NewInMemoryWebhookEventRepository() *InMemoryWebhookEventRepository {
	return &InMemoryWebhookEventRepository{events: make(map[uuid.UUID]*WebhookEvent)}
}

func (r *InMemoryWebhookEventRepository) Create(_ context.Context, e *WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	cp := *e
	r.events[e.ID] = &cp
	r.order = append(r.order, e.ID)
	return nil
}

func (r *InMemoryWebhookEventRepository) GetByID(_ context.Context, id uuid.UUID) (*WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *InMemoryWebhookEventRepository) GetByEventID(_ context.Context, eventID string) (*WebhookEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if eventID == "" {
		return nil, ErrNotFound
	}
	for _, id := range r.order {
		if e := r.events[id]; e.EventID == eventID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryWebhookEventRepository) Complete(_ context.Context, id uuid.UUID, status string, practiceID *uuid.UUID, errMsg string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != EventPending {
		return ErrEventFinalized
	}
	e.Status = status
	if practiceID != nil {
		e.PracticeID = practiceID
	}
	if errMsg != "" {
		e.Error = &errMsg
	} else {
		e.Error = nil
	}
	e.ProcessedAt = &at
	return nil
}

func (r *InMemoryWebhookEventRepository) Reopen(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.events[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status != EventFailed {
		return ErrEventFinalized
	}
	e.Status = EventPending
	e.ProcessedAt = nil
	return nil
}

func (r *InMemoryWebhookEventRepository) List(_ context.Context, f EventFilter, limit, offset int) ([]*WebhookEvent, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*WebhookEvent
	for i := len(r.order) - 1; i >= 0; i-- {
		e := r.events[r.order[i]]
		if f.PracticeID != nil && (e.PracticeID == nil || *e.PracticeID != *f.PracticeID) {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return page(out, limit, offset), len(out), nil
}

// -- Health checks --

type InMemoryHealthRepository struct {
	mu     sync.RWMutex
	checks []*HealthCheck
}

func NewInMemoryHealthRepository() *InMemoryHealthRepository {
	return &InMemoryHealthRepository{}
}

func (r *InMemoryHealthRepository) Save(_ context.Context, hc *HealthCheck) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hc.ID == uuid.Nil {
		hc.ID = uuid.New()
	}
	cp := *hc
	r.checks = append(r.checks, &cp)
	return nil
}

func (r *InMemoryHealthRepository) ListByPractice(_ context.Context, practiceID uuid.UUID, limit int) ([]*HealthCheck, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*HealthCheck
	for i := len(r.checks) - 1; i >= 0; i-- {
		if r.checks[i].PracticeID == practiceID {
			cp := *r.checks[i]
			out = append(out, &cp)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
