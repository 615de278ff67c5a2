package workspaces

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, w *models.Workspace) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workspaces (id, account_id, name, role, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET account_id = excluded.account_id, name = excluded.name,
			role = excluded.role, updated_at = excluded.updated_at
	`, w.ID, w.AccountID, w.Name, w.Role, w.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert workspace %s: %w", w.ID, err)
	}
	return nil
}

func scanWorkspace(row interface{ Scan(...any) error }) (*models.Workspace, error) {
	var w models.Workspace
	var updated int64
	if err := row.Scan(&w.ID, &w.AccountID, &w.Name, &w.Role, &updated); err != nil {
		return nil, err
	}
	w.UpdatedAt = time.Unix(0, updated).UTC()
	return &w, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRowContext(ctx,
		`SELECT id, account_id, name, role, updated_at FROM workspaces WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workspace %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workspace %s: %w", id, err)
	}
	return w, nil
}

func (r *SQLiteRepository) List(ctx context.Context, accountID string) ([]*models.Workspace, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, name, role, updated_at FROM workspaces WHERE account_id = ? ORDER BY name, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	var result []*models.Workspace
	for rows.Next() {
		w, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace row: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate workspace rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete workspace %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByAccount(ctx context.Context, accountID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM workspaces WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("failed to delete workspaces of %s: %w", accountID, err)
	}
	return nil
}
