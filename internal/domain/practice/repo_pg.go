package practice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/pmsync/internal/platform/secrets"
)

type repoPG struct {
	pool   *pgxpool.Pool
	cipher secrets.Cipher
}

// NewRepoPG returns a Repository that stores API keys encrypted with cipher.
func NewRepoPG(pool *pgxpool.Pool, cipher secrets.Cipher) Repository {
	return &repoPG{pool: pool, cipher: cipher}
}

const practiceCols = `id, name, subdomain, location_id, environment, api_key, status,
	last_synced_at, last_error, active, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Practice, error) {
	var p Practice
	err := row.Scan(&p.ID, &p.Name, &p.Subdomain, &p.LocationID, &p.Environment, &p.APIKey, &p.Status,
		&p.LastSyncedAt, &p.LastError, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if p.APIKey != "" {
		key, err := r.cipher.Decrypt(p.APIKey)
		if err != nil {
			return nil, fmt.Errorf("practice %s: %w", p.ID, err)
		}
		p.APIKey = key
	}
	return &p, nil
}

func (r *repoPG) Create(ctx context.Context, p *Practice) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	enc, err := r.cipher.Encrypt(p.APIKey)
	if err != nil {
		return err
	}
	return r.pool.QueryRow(ctx, `
		INSERT INTO practice (id, name, subdomain, location_id, environment, api_key, status, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Subdomain, p.LocationID, p.Environment, enc, p.Status, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Practice, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+practiceCols+` FROM practice WHERE id = $1`, id))
}

func (r *repoPG) GetBySubdomain(ctx context.Context, subdomain string) (*Practice, error) {
	return r.scan(r.pool.QueryRow(ctx, `SELECT `+practiceCols+` FROM practice WHERE subdomain = $1`, subdomain))
}

func (r *repoPG) ListActive(ctx context.Context) ([]*Practice, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+practiceCols+` FROM practice WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Practice
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *repoPG) MarkSynced(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE practice SET status = $2, last_synced_at = $3, last_error = NULL, updated_at = NOW()
		WHERE id = $1`, id, StatusConnected, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, status string, lastError string) error {
	var errVal *string
	if lastError != "" {
		errVal = &lastError
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE practice SET status = $2,
			last_error = CASE WHEN $2 = 'connected' THEN NULL ELSE COALESCE($3, last_error) END,
			updated_at = NOW()
		WHERE id = $1`, id, status, errVal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
