package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/pmsync/internal/domain/records"
	"github.com/ehr/pmsync/internal/upstream"
)

type fetchFunc[T any] func(ctx context.Context, p upstream.ListParams) (*upstream.Page[T], error)

type mapFunc[T any] func(T) (records.Record, error)

// as adapts a typed mapper to mapFunc.
func as[T any, R records.Record](fn func(T) (R, error)) mapFunc[T] {
	return func(w T) (records.Record, error) {
		rec, err := fn(w)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

// paginate walks every page of one collection, mapping and upserting each
// item. Item failures are counted and recorded; only a failed page fetch
// or cancellation ends the walk early. Records whose source timestamp is
// before skipBefore are counted as skipped.
func paginate[T any](ctx context.Context, r *run, kind records.Kind, params upstream.ListParams, fetch fetchFunc[T], mapFn mapFunc[T], skipBefore *time.Time) (Tally, error) {
	var t Tally
	params.PerPage = r.pageSize
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return t, err
		}
		pg, err := fetch(ctx, params)
		if err != nil {
			return t, fmt.Errorf("%s page %d: %w", kind, page, err)
		}
		for i, item := range pg.Items {
			if item.Err != nil {
				t.fail("%s page %d item %d: %v", kind, page, i, item.Err)
				continue
			}
			rec, err := mapFn(item.Value)
			if err != nil {
				t.fail("%s page %d item %d: %v", kind, page, i, err)
				continue
			}
			if skipBefore != nil {
				if u := rec.SourceUpdatedAt(); u != nil && u.Before(*skipBefore) {
					t.Skipped++
					continue
				}
			}
			if _, err := r.store.Upsert(ctx, r.practice.ID, rec); err != nil {
				t.fail("%s %s: %v", kind, rec.ForeignKey(), err)
				continue
			}
			t.Processed++
		}
		if !pg.HasMore() {
			return t, nil
		}
		if pg.PageInfo.EndCursor == params.Cursor {
			return t, fmt.Errorf("%s page %d: cursor %q did not advance", kind, page, params.Cursor)
		}
		params.Cursor = pg.PageInfo.EndCursor
	}
}
