package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

const rowCols = `id, practice_id, foreign_id, data, deleted, merged_into, synced_at, created_at, updated_at`

func table(kind Kind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
	return kind.Table(), nil
}

func scanRow(kind Kind, row pgx.Row) (*Row, error) {
	r := Row{Kind: kind}
	err := row.Scan(&r.ID, &r.PracticeID, &r.ForeignID, &r.Data, &r.Deleted, &r.MergedInto, &r.SyncedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *storePG) Upsert(ctx context.Context, practiceID uuid.UUID, rec Record) (UpsertResult, error) {
	tbl, err := table(rec.Kind())
	if err != nil {
		return UpsertResult{}, err
	}
	if rec.ForeignKey() == "" {
		return UpsertResult{}, fmt.Errorf("upsert %s: %w", rec.Kind(), ErrMissingForeignID)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("encode %s %s: %w", rec.Kind(), rec.ForeignKey(), err)
	}

	var res UpsertResult
	err = s.pool.QueryRow(ctx, `
		INSERT INTO `+tbl+` (id, practice_id, foreign_id, data, deleted, synced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (practice_id, foreign_id) DO UPDATE
			SET data = EXCLUDED.data, deleted = EXCLUDED.deleted, synced_at = NOW(), updated_at = NOW()
		RETURNING id, (xmax = 0)`,
		uuid.New(), practiceID, rec.ForeignKey(), data, rec.IsDeleted()).Scan(&res.ID, &res.Created)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("upsert %s %s: %w", rec.Kind(), rec.ForeignKey(), err)
	}
	return res, nil
}

func (s *storePG) CreateLocal(ctx context.Context, practiceID uuid.UUID, rec Record) (*Row, error) {
	tbl, err := table(rec.Kind())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode local %s: %w", rec.Kind(), err)
	}
	return scanRow(rec.Kind(), s.pool.QueryRow(ctx, `
		INSERT INTO `+tbl+` (id, practice_id, data)
		VALUES ($1, $2, $3)
		RETURNING `+rowCols,
		uuid.New(), practiceID, data))
}

func (s *storePG) GetByID(ctx context.Context, kind Kind, id uuid.UUID) (*Row, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	return scanRow(kind, s.pool.QueryRow(ctx, `SELECT `+rowCols+` FROM `+tbl+` WHERE id = $1`, id))
}

func (s *storePG) GetByForeignID(ctx context.Context, practiceID uuid.UUID, kind Kind, foreignID string) (*Row, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	return scanRow(kind, s.pool.QueryRow(ctx,
		`SELECT `+rowCols+` FROM `+tbl+` WHERE practice_id = $1 AND foreign_id = $2`, practiceID, foreignID))
}

func (s *storePG) AssignForeignID(ctx context.Context, kind Kind, localID uuid.UUID, rec Record) (uuid.UUID, error) {
	tbl, err := table(kind)
	if err != nil {
		return uuid.Nil, err
	}
	if rec.ForeignKey() == "" {
		return uuid.Nil, ErrMissingForeignID
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode %s %s: %w", kind, rec.ForeignKey(), err)
	}

	var practiceID uuid.UUID
	err = s.pool.QueryRow(ctx, `
		UPDATE `+tbl+` SET foreign_id = $2, data = $3, synced_at = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING practice_id`,
		localID, rec.ForeignKey(), data).Scan(&practiceID)
	if err == nil {
		return localID, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrNotFound
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return uuid.Nil, fmt.Errorf("assign foreign id %s to %s: %w", rec.ForeignKey(), localID, err)
	}

	// A pull or webhook already stored this foreign id; it wins and the local
	// row is retired.
	var survivor uuid.UUID
	err = s.pool.QueryRow(ctx, `
		UPDATE `+tbl+` SET data = $3, synced_at = NOW(), updated_at = NOW()
		WHERE practice_id = (SELECT practice_id FROM `+tbl+` WHERE id = $1) AND foreign_id = $2
		RETURNING id`,
		localID, rec.ForeignKey(), data).Scan(&survivor)
	if err != nil {
		return uuid.Nil, fmt.Errorf("merge %s into existing %s: %w", localID, rec.ForeignKey(), err)
	}
	if _, err := s.pool.Exec(ctx,
		`UPDATE `+tbl+` SET deleted = TRUE, merged_into = $2, updated_at = NOW() WHERE id = $1`, localID, survivor); err != nil {
		return uuid.Nil, fmt.Errorf("retire local %s: %w", localID, err)
	}
	return survivor, nil
}

func (s *storePG) ForeignIDs(ctx context.Context, practiceID uuid.UUID, kind Kind) ([]string, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT foreign_id FROM `+tbl+` WHERE practice_id = $1 AND foreign_id IS NOT NULL AND NOT deleted ORDER BY foreign_id`, practiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *storePG) List(ctx context.Context, practiceID uuid.UUID, kind Kind, limit, offset int) ([]*Row, int, error) {
	tbl, err := table(kind)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE practice_id = $1`, practiceID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+rowCols+` FROM `+tbl+` WHERE practice_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		practiceID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Row
	for rows.Next() {
		r, err := scanRow(kind, rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (s *storePG) Count(ctx context.Context, practiceID uuid.UUID, kind Kind) (int, error) {
	tbl, err := table(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM `+tbl+` WHERE practice_id = $1`, practiceID).Scan(&n)
	return n, err
}
