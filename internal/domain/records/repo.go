package records

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrMissingForeignID = errors.New("record has no foreign id")
)

// UpsertResult reports which row an upsert landed on.
type UpsertResult struct {
	ID      uuid.UUID
	Created bool
}

// Store persists synced entities. Every write is a single-row atomic
// operation; (practice, kind, foreign id) identifies at most one row.
type Store interface {
	// Upsert inserts or overwrites the row keyed by the record's foreign id.
	Upsert(ctx context.Context, practiceID uuid.UUID, rec Record) (UpsertResult, error)
	// CreateLocal stores a locally originated record that has no foreign id yet.
	CreateLocal(ctx context.Context, practiceID uuid.UUID, rec Record) (*Row, error)
	GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Row, error)
	GetByForeignID(ctx context.Context, practiceID uuid.UUID, kind Kind, foreignID string) (*Row, error)
	// AssignForeignID attaches the upstream id (carried by rec) to a local
	// row. If another row already holds that foreign id, that row receives
	// rec's data, the local row is flagged deleted, and the surviving row's
	// id is returned.
	AssignForeignID(ctx context.Context, kind Kind, localID uuid.UUID, rec Record) (uuid.UUID, error)
	ForeignIDs(ctx context.Context, practiceID uuid.UUID, kind Kind) ([]string, error)
	List(ctx context.Context, practiceID uuid.UUID, kind Kind, limit, offset int) ([]*Row, int, error)
	Count(ctx context.Context, practiceID uuid.UUID, kind Kind) (int, error)
}
