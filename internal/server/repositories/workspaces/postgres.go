package workspaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, ws *models.Workspace) (*models.Workspace, error) {
	query :=
		`INSERT INTO workspaces (id, name, owner_id)
		 VALUES ($1, $2, $3)
		 RETURNING created_at
		 `

	if err := r.db.QueryRowContext(ctx, query, ws.ID, ws.Name, ws.OwnerID).Scan(&ws.CreatedAt); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ws, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Workspace, error) {
	query :=
		`SELECT id, name, owner_id, created_at FROM workspaces
		 WHERE id = $1
		 `

	ws := &models.Workspace{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ws, nil
}

func (r *PostgresRepository) PutMembership(ctx context.Context, m *shared.Membership) (*shared.Membership, error) {
	query :=
		`INSERT INTO memberships (account_id, workspace_id, role, removed)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (account_id, workspace_id) DO UPDATE
		 SET role = EXCLUDED.role, removed = EXCLUDED.removed,
		     updated_at = now(), seq = nextval('membership_seq')
		 RETURNING seq, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, m.AccountID, m.WorkspaceID, string(m.Role), m.Removed).
		Scan(&m.Seq, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

const membershipColumns = `m.account_id, m.workspace_id, w.name, m.role, m.removed, m.updated_at, m.seq`

func (r *PostgresRepository) GetMembership(ctx context.Context, accountID, workspaceID string) (*shared.Membership, error) {
	query :=
		`SELECT ` + membershipColumns + `
		 FROM memberships m JOIN workspaces w ON w.id = m.workspace_id
		 WHERE m.account_id = $1 AND m.workspace_id = $2
		 `

	m, err := scanMembership(r.db.QueryRowContext(ctx, query, accountID, workspaceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return m, nil
}

func (r *PostgresRepository) ListMemberships(ctx context.Context, accountID string) ([]*shared.Membership, error) {
	query :=
		`SELECT ` + membershipColumns + `
		 FROM memberships m JOIN workspaces w ON w.id = m.workspace_id
		 WHERE m.account_id = $1 AND NOT m.removed
		 ORDER BY m.seq
		 `
	return r.list(ctx, query, accountID)
}

func (r *PostgresRepository) MembershipsAfter(ctx context.Context, accountID string, cursor int64, limit int) ([]*shared.Membership, error) {
	query :=
		`SELECT ` + membershipColumns + `
		 FROM memberships m JOIN workspaces w ON w.id = m.workspace_id
		 WHERE m.account_id = $1 AND m.seq > $2
		 ORDER BY m.seq
		 LIMIT $3
		 `
	return r.list(ctx, query, accountID, cursor, limit)
}

func (r *PostgresRepository) Members(ctx context.Context, workspaceID string) ([]string, error) {
	query :=
		`SELECT account_id FROM memberships
		 WHERE workspace_id = $1 AND NOT removed
		 ORDER BY account_id
		 `

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*shared.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*shared.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMembership(s scanner) (*shared.Membership, error) {
	m := &shared.Membership{}
	var role string
	if err := s.Scan(&m.AccountID, &m.WorkspaceID, &m.WorkspaceName, &role, &m.Removed, &m.UpdatedAt, &m.Seq); err != nil {
		return nil, err
	}
	m.Role = shared.Role(role)
	return m, nil
}
