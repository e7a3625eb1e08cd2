package practice

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryRepository is a thread-safe Repository used by tests and sandbox runs.
type InMemoryRepository struct {
	mu        sync.RWMutex
	practices map[uuid.UUID]*Practice
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{practices: make(map[uuid.UUID]*Practice)}
}

func (r *InMemoryRepository) Create(_ context.Context, p *Practice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	r.practices[p.ID] = &cp
	return nil
}

func (r *InMemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Practice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.practices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *InMemoryRepository) GetBySubdomain(_ context.Context, subdomain string) (*Practice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.practices {
		if p.Subdomain == subdomain {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (r *InMemoryRepository) ListActive(_ context.Context) ([]*Practice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Practice
	for _, p := range r.practices {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemoryRepository) MarkSynced(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practices[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = StatusConnected
	p.LastSyncedAt = &at
	p.LastError = nil
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InMemoryRepository) SetStatus(_ context.Context, id uuid.UUID, status string, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.practices[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	if lastError != "" {
		p.LastError = &lastError
	} else if status == StatusConnected {
		p.LastError = nil
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}
