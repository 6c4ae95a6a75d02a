package services

import (
	"context"
	"errors"
	"fmt"

	"bilancio/internal/core"
)

type MergeResult struct {
	Adopted int
	Kept    int
}

// Merge folds a pulled snapshot into the replica record by record. The
// remote record is adopted only when its updatedAt is strictly newer than the
// local record and any local tombstone, read at merge time. Merging the same
// snapshot twice changes nothing the second time.
func Merge(ctx context.Context, replica Replica, remote core.Snapshot) (MergeResult, error) {
	var (
		res  MergeResult
		errs []error
	)
	for _, table := range core.Tables {
		for _, ent := range remote.Entities(table) {
			adopted, err := replica.UpsertIfNewer(ctx, ent)
			switch {
			case errors.Is(err, core.ErrStaleWrite):
				res.Kept++
			case err != nil:
				errs = append(errs, fmt.Errorf("merge %s/%d: %w", table, ent.EntityID(), err))
			case adopted:
				res.Adopted++
			default:
				res.Kept++
			}
		}
	}
	return res, errors.Join(errs...)
}
