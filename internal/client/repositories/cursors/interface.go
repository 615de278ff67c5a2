// Package cursors persists replication stream positions.
package cursors

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Repository maps a stream key to its position. A stream never moves back.
type Repository interface {
	// Get returns 0 when the stream has no cursor yet.
	Get(ctx context.Context, streamKey string) (int64, error)
	// Set stores position, failing with common.ErrCursorRegression when it
	// is lower than the stored one.
	Set(ctx context.Context, streamKey string, position int64) error
	List(ctx context.Context) ([]*models.Cursor, error)
	// DeletePrefix removes every cursor whose key lies under prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
