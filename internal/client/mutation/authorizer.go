package mutation

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dmitrijs2005/nodesync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

// Authorizer decides whether an actor may perform a mutation. A false answer
// turns into common.ErrUnauthorized; an error aborts the mutation as is.
type Authorizer interface {
	CanCreate(ctx context.Context, actor, workspaceID string, parent *models.Node, attrs models.Attributes) (bool, error)
	CanUpdate(ctx context.Context, actor string, node *models.Node, attrs models.Attributes) (bool, error)
	CanDelete(ctx context.Context, actor string, node *models.Node) (bool, error)
}

// RoleAuthorizer answers from the actor's role in the local workspaces table.
// Collaborators may create, and may change only the nodes they created.
type RoleAuthorizer struct {
	db    *sql.DB
	repos repomanager.RepositoryManager
}

func NewRoleAuthorizer(db *sql.DB, repos repomanager.RepositoryManager) *RoleAuthorizer {
	return &RoleAuthorizer{db: db, repos: repos}
}

func (a *RoleAuthorizer) role(ctx context.Context, actor, workspaceID string) (models.Role, error) {
	w, err := a.repos.Workspaces(a.db).Get(ctx, workspaceID)
	if errors.Is(err, common.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if w.AccountID != actor {
		return "", nil
	}
	return w.Role, nil
}

func (a *RoleAuthorizer) CanCreate(ctx context.Context, actor, workspaceID string, _ *models.Node, _ models.Attributes) (bool, error) {
	r, err := a.role(ctx, actor, workspaceID)
	if err != nil {
		return false, err
	}
	return r.CanWrite(), nil
}

func (a *RoleAuthorizer) CanUpdate(ctx context.Context, actor string, node *models.Node, _ models.Attributes) (bool, error) {
	return a.canChange(ctx, actor, node)
}

func (a *RoleAuthorizer) CanDelete(ctx context.Context, actor string, node *models.Node) (bool, error) {
	return a.canChange(ctx, actor, node)
}

func (a *RoleAuthorizer) canChange(ctx context.Context, actor string, node *models.Node) (bool, error) {
	r, err := a.role(ctx, actor, node.WorkspaceID)
	if err != nil {
		return false, err
	}
	if r == models.RoleCollaborator {
		return node.CreatedBy == actor, nil
	}
	return r.CanWrite(), nil
}
