package txlog

import (
	"context"
	"iter"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Pending yields up to limit (all when limit <= 0) pending transactions of a
// workspace in local creation order. The sequence reads the store lazily, one
// page at a time, holds no rows open between yields, and starts over each
// time it is ranged.
func (l *Log) Pending(ctx context.Context, workspaceID string, limit int) iter.Seq2[*models.Transaction, error] {
	return func(yield func(*models.Transaction, error) bool) {
		repo := l.repos.Transactions(l.db)
		var after int64
		yielded := 0

		for {
			size := l.pageSize
			if limit > 0 && limit-yielded < size {
				size = limit - yielded
			}
			if size <= 0 {
				return
			}

			page, err := repo.ListPending(ctx, workspaceID, after, size)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, tx := range page {
				if !yield(tx, nil) {
					return
				}
				yielded++
				after = tx.LocalSeq
			}
			if len(page) < size {
				return
			}
		}
	}
}

// CountPending returns how many transactions of the workspace wait for the server.
func (l *Log) CountPending(ctx context.Context, workspaceID string) (int, error) {
	return l.repos.Transactions(l.db).CountPending(ctx, workspaceID)
}
