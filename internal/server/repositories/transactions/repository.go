package transactions

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Repository stores accepted transactions. The server log is append-only;
// Insert assigns the stream sequence number.
type Repository interface {
	Get(ctx context.Context, id string) (*models.Transaction, error)
	Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	// ListForNode returns the node's transactions with version >= fromVersion
	// in version order.
	ListForNode(ctx context.Context, nodeID string, fromVersion int64) ([]*models.Transaction, error)
	// ListAfter returns a page of the workspace stream with seq > cursor.
	ListAfter(ctx context.Context, workspaceID string, cursor int64, limit int) ([]*models.Transaction, error)
}
