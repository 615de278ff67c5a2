// Package workspaces persists the workspaces the local account belongs to.
package workspaces

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

type Repository interface {
	Upsert(ctx context.Context, w *models.Workspace) error
	// Get returns common.ErrNotFound when the workspace is unknown.
	Get(ctx context.Context, id string) (*models.Workspace, error)
	List(ctx context.Context, accountID string) ([]*models.Workspace, error)
	Delete(ctx context.Context, id string) error
	DeleteByAccount(ctx context.Context, accountID string) error
}
