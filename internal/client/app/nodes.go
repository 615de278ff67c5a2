package app

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/nodesync/internal/client/mutation"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

type CreateInput struct {
	Type        models.NodeType
	ParentID    string
	WorkspaceID string
	Attributes  models.Attributes
}

func (a *App) Create(ctx context.Context, in CreateInput) (*models.Node, error) {
	return a.mutate(ctx, mutation.Input{
		Kind:        mutation.KindCreate,
		Type:        in.Type,
		ParentID:    in.ParentID,
		WorkspaceID: in.WorkspaceID,
		Attributes:  in.Attributes,
	})
}

// Update applies patch to the node's attributes. A nil value removes the key.
// A patch that changes nothing records no transaction.
func (a *App) Update(ctx context.Context, nodeID string, patch models.Attributes) (*models.Node, error) {
	return a.mutate(ctx, mutation.Input{Kind: mutation.KindUpdate, NodeID: nodeID, Attributes: patch})
}

func (a *App) Delete(ctx context.Context, nodeID string) (*models.Node, error) {
	return a.mutate(ctx, mutation.Input{Kind: mutation.KindDelete, NodeID: nodeID})
}

func (a *App) mutate(ctx context.Context, in mutation.Input) (*models.Node, error) {
	accountID, err := a.accountID()
	if err != nil {
		return nil, err
	}
	in.Actor = accountID
	res, err := a.pipeline.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

// Node returns the local view of a node, tombstones included.
func (a *App) Node(ctx context.Context, nodeID string) (*models.Node, error) {
	return a.repos.Nodes(a.db).Get(ctx, nodeID)
}

func (a *App) Workspaces(ctx context.Context) ([]*models.Workspace, error) {
	accountID, err := a.accountID()
	if err != nil {
		return nil, err
	}
	return a.log.Workspaces(ctx, accountID)
}

// TreeNode is a live node with its live children ordered by creation time.
type TreeNode struct {
	Node     *models.Node
	Children []*TreeNode
}

// Tree returns the workspace's live nodes as a forest. Nodes whose parent is
// unknown or deleted are roots.
func (a *App) Tree(ctx context.Context, workspaceID string) ([]*TreeNode, error) {
	if err := a.member(ctx, workspaceID); err != nil {
		return nil, err
	}
	list, err := a.repos.Nodes(a.db).ListByWorkspace(ctx, workspaceID, false)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*TreeNode, len(list))
	for _, n := range list {
		byID[n.ID] = &TreeNode{Node: n}
	}
	var roots []*TreeNode
	for _, n := range list {
		t := byID[n.ID]
		if p, ok := byID[n.ParentID]; ok && n.ParentID != n.ID {
			p.Children = append(p.Children, t)
			continue
		}
		roots = append(roots, t)
	}
	return roots, nil
}

// Pending lists the workspace's transactions not yet acknowledged, in push
// order.
func (a *App) Pending(ctx context.Context, workspaceID string) ([]*models.Transaction, error) {
	if err := a.member(ctx, workspaceID); err != nil {
		return nil, err
	}
	var out []*models.Transaction
	for tx, err := range a.log.Pending(ctx, workspaceID, 0) {
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (a *App) member(ctx context.Context, workspaceID string) error {
	list, err := a.Workspaces(ctx)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(list, func(w *models.Workspace) bool { return w.ID == workspaceID }) {
		return fmt.Errorf("%w: workspace %s", common.ErrNotFound, workspaceID)
	}
	return nil
}
