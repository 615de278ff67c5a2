package workspaces

import (
	"context"

	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, ws *models.Workspace) (*models.Workspace, error)
	Get(ctx context.Context, id string) (*models.Workspace, error)

	// PutMembership inserts or replaces a membership and moves it to the end
	// of the account stream.
	PutMembership(ctx context.Context, m *shared.Membership) (*shared.Membership, error)
	GetMembership(ctx context.Context, accountID, workspaceID string) (*shared.Membership, error)
	ListMemberships(ctx context.Context, accountID string) ([]*shared.Membership, error)
	MembershipsAfter(ctx context.Context, accountID string, cursor int64, limit int) ([]*shared.Membership, error)
	// Members returns the accounts with an active membership in the workspace.
	Members(ctx context.Context, workspaceID string) ([]string, error)
}
