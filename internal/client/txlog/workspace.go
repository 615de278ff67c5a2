package txlog

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

// ApplyMemberships applies an account stream batch and advances its cursor in
// one durable unit. Removed memberships purge the workspace's local data; the
// caller must have deactivated the workspace's jobs first. It returns the ids
// of the purged workspaces.
func (l *Log) ApplyMemberships(ctx context.Context, streamKey string, cursor int64, items []*models.Membership) ([]string, error) {
	return dbx.WithTxValue(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) ([]string, error) {
		var removed []string
		for _, m := range items {
			if m.Removed {
				if err := l.purgeWorkspace(ctx, q, m.AccountID, m.WorkspaceID); err != nil {
					return nil, err
				}
				removed = append(removed, m.WorkspaceID)
				continue
			}
			if err := l.repos.Workspaces(q).Upsert(ctx, m.Workspace()); err != nil {
				return nil, err
			}
		}
		if err := l.repos.Cursors(q).Set(ctx, streamKey, cursor); err != nil {
			return nil, err
		}
		return removed, nil
	})
}

// PurgeWorkspace deletes every local row of a workspace, cursors included.
func (l *Log) PurgeWorkspace(ctx context.Context, accountID, workspaceID string) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return l.purgeWorkspace(ctx, q, accountID, workspaceID)
	})
}

func (l *Log) purgeWorkspace(ctx context.Context, q dbx.DBTX, accountID, workspaceID string) error {
	if err := l.repos.Transactions(q).DeleteByWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if err := l.repos.Nodes(q).DeleteByWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if err := l.repos.Files(q).DeleteByWorkspace(ctx, workspaceID); err != nil {
		return err
	}
	if err := l.repos.Cursors(q).DeletePrefix(ctx, models.WorkspaceScope(accountID, workspaceID)); err != nil {
		return err
	}
	l.logger.Info(ctx, "workspace purged", "workspace", workspaceID)
	return l.repos.Workspaces(q).Delete(ctx, workspaceID)
}

// Workspaces lists the account's workspaces.
func (l *Log) Workspaces(ctx context.Context, accountID string) ([]*models.Workspace, error) {
	return l.repos.Workspaces(l.db).List(ctx, accountID)
}

// SaveWorkspaces stores the memberships returned at login.
func (l *Log) SaveWorkspaces(ctx context.Context, list []*models.Workspace) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		for _, w := range list {
			if err := l.repos.Workspaces(q).Upsert(ctx, w); err != nil {
				return err
			}
		}
		return nil
	})
}

// Cursor returns the position of a stream.
func (l *Log) Cursor(ctx context.Context, streamKey string) (int64, error) {
	return l.repos.Cursors(l.db).Get(ctx, streamKey)
}

// PurgeAccount deletes the local data of every workspace of the account and
// the account's own cursors.
func (l *Log) PurgeAccount(ctx context.Context, accountID string) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		list, err := l.repos.Workspaces(q).List(ctx, accountID)
		if err != nil {
			return err
		}
		for _, w := range list {
			if err := l.purgeWorkspace(ctx, q, accountID, w.ID); err != nil {
				return err
			}
		}
		return l.repos.Cursors(q).DeletePrefix(ctx, models.AccountScope(accountID))
	})
}
