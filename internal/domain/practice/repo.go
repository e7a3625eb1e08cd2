package practice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("practice not found")

type Repository interface {
	Create(ctx context.Context, p *Practice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Practice, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Practice, error)
	ListActive(ctx context.Context) ([]*Practice, error)
	// MarkSynced sets status connected, records the sync time and clears the last error.
	MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status string, lastError string) error
}
