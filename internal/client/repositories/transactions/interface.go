// Package transactions persists the device's transaction log rows.
package transactions

import (
	"context"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Repository stores log rows. Rows with a NULL server_created_at are pending.
type Repository interface {
	// Insert stores tx and returns its local sequence. A tx.LocalSeq > 0 is
	// kept as is, otherwise the next sequence is assigned.
	Insert(ctx context.Context, tx *models.Transaction) (int64, error)
	// Get returns common.ErrNotFound when no row has the id.
	Get(ctx context.Context, id string) (*models.Transaction, error)
	// ListPending returns up to limit pending rows of a workspace with
	// LocalSeq > afterSeq, in local order.
	ListPending(ctx context.Context, workspaceID string, afterSeq int64, limit int) ([]*models.Transaction, error)
	// ListPendingByNode returns the node's pending rows ordered by version.
	ListPendingByNode(ctx context.Context, nodeID string) ([]*models.Transaction, error)
	// ListByNode returns every row of the node ordered by version.
	ListByNode(ctx context.Context, nodeID string) ([]*models.Transaction, error)
	MarkAcknowledged(ctx context.Context, id string, serverCreatedAt time.Time, serverSeq int64) error
	Delete(ctx context.Context, id string) error
	DeletePendingByNode(ctx context.Context, nodeID string) error
	DeleteByNode(ctx context.Context, nodeID string) error
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
	CountPending(ctx context.Context, workspaceID string) (int, error)
}
