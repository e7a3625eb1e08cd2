package records

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type foreignKey struct {
	practiceID uuid.UUID
	kind       Kind
	foreignID  string
}

// InMemoryStore is a thread-safe Store used by tests and sandbox runs.
type InMemoryStore struct {
	mu        sync.RWMutex
	rows      map[uuid.UUID]*Row
	byForeign map[foreignKey]uuid.UUID
	order     []uuid.UUID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		rows:      make(map[uuid.UUID]*Row),
		byForeign: make(map[foreignKey]uuid.UUID),
	}
}

func (s *InMemoryStore) Upsert(_ context.Context, practiceID uuid.UUID, rec Record) (UpsertResult, error) {
	if rec.ForeignKey() == "" {
		return UpsertResult{}, fmt.Errorf("upsert %s: %w", rec.Kind(), ErrMissingForeignID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode %s %s: %w", rec.Kind(), rec.ForeignKey(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := foreignKey{practiceID, rec.Kind(), rec.ForeignKey()}
	if id, ok := s.byForeign[key]; ok {
		row := s.rows[id]
		row.Data = data
		row.Deleted = rec.IsDeleted()
		row.SyncedAt = &now
		row.UpdatedAt = now
		return UpsertResult{ID: id}, nil
	}

	fid := rec.ForeignKey()
	row := &Row{
		ID:         uuid.New(),
		PracticeID: practiceID,
		Kind:       rec.Kind(),
		ForeignID:  &fid,
		Data:       data,
		Deleted:    rec.IsDeleted(),
		SyncedAt:   &now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.rows[row.ID] = row
	s.byForeign[key] = row.ID
	s.order = append(s.order, row.ID)
	return UpsertResult{ID: row.ID, Created: true}, nil
}

func (s *InMemoryStore) CreateLocal(_ context.Context, practiceID uuid.UUID, rec Record) (*Row, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode local %s: %w", rec.Kind(), err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	row := &Row{
		ID:         uuid.New(),
		PracticeID: practiceID,
		Kind:       rec.Kind(),
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.rows[row.ID] = row
	s.order = append(s.order, row.ID)
	cp := *row
	return &cp, nil
}

func (s *InMemoryStore) GetByID(_ context.Context, kind Kind, id uuid.UUID) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[id]
	if !ok || row.Kind != kind {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *InMemoryStore) GetByForeignID(_ context.Context, practiceID uuid.UUID, kind Kind, foreignID string) (*Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byForeign[foreignKey{practiceID, kind, foreignID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.rows[id]
	return &cp, nil
}

func (s *InMemoryStore) AssignForeignID(_ context.Context, kind Kind, localID uuid.UUID, rec Record) (uuid.UUID, error) {
	if rec.ForeignKey() == "" {
		return uuid.Nil, ErrMissingForeignID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode %s %s: %w", kind, rec.ForeignKey(), err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local, ok := s.rows[localID]
	if !ok || local.Kind != kind {
		return uuid.Nil, ErrNotFound
	}
	now := time.Now().UTC()
	key := foreignKey{local.PracticeID, kind, rec.ForeignKey()}
	if existing, ok := s.byForeign[key]; ok && existing != localID {
		row := s.rows[existing]
		row.Data = data
		row.SyncedAt = &now
		row.UpdatedAt = now
		local.Deleted = true
		local.MergedInto = &existing
		local.UpdatedAt = now
		return existing, nil
	}

	fid := rec.ForeignKey()
	local.ForeignID = &fid
	local.Data = data
	local.SyncedAt = &now
	local.UpdatedAt = now
	s.byForeign[key] = localID
	return localID, nil
}

func (s *InMemoryStore) ForeignIDs(_ context.Context, practiceID uuid.UUID, kind Kind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for key, id := range s.byForeign {
		if key.practiceID == practiceID && key.kind == kind && !s.rows[id].Deleted {
			ids = append(ids, key.foreignID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *InMemoryStore) List(_ context.Context, practiceID uuid.UUID, kind Kind, limit, offset int) ([]*Row, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Newest first, like the pg store.
	var filtered []*Row
	for i := len(s.order) - 1; i >= 0; i-- {
		row := s.rows[s.order[i]]
		if row.PracticeID == practiceID && row.Kind == kind {
			cp := *row
			filtered = append(filtered, &cp)
		}
	}
	total := len(filtered)
	if offset >= total {
		return []*Row{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return filtered[offset:end], total, nil
}

func (s *InMemoryStore) Count(_ context.Context, practiceID uuid.UUID, kind Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, row := range s.rows {
		if row.PracticeID == practiceID && row.Kind == kind {
			n++
		}
	}
	return n, nil
}
