// Package nodes persists the materialized node state on the device.
package nodes

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Repository stores one row per node, tombstones included.
type Repository interface {
	// Get returns common.ErrNotFound when the node is unknown.
	Get(ctx context.Context, id string) (*models.Node, error)
	Insert(ctx context.Context, n *models.Node) error
	// Update overwrites every mutable column of n.
	Update(ctx context.Context, n *models.Node) error
	// ListByWorkspace returns the workspace's nodes ordered by creation time.
	ListByWorkspace(ctx context.Context, workspaceID string, includeDeleted bool) ([]*models.Node, error)
	Delete(ctx context.Context, id string) error
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
}
