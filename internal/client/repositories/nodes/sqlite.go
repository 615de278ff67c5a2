package nodes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `id, workspace_id, type, parent_id, root_id, attributes, version, deleted,
	server_attributes, server_version, server_deleted, created_by, created_at, updated_by, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*models.Node, error) {
	var (
		n                  models.Node
		parentID, updBy    sql.NullString
		attrs, serverAttrs string
		createdAt          int64
		updatedAt          sql.NullInt64
	)
	err := row.Scan(&n.ID, &n.WorkspaceID, &n.Type, &parentID, &n.RootID, &attrs, &n.Version, &n.Deleted,
		&serverAttrs, &n.ServerVersion, &n.ServerDeleted, &n.CreatedBy, &createdAt, &updBy, &updatedAt)
	if err != nil {
		return nil, err
	}

	n.ParentID = parentID.String
	n.UpdatedBy = updBy.String
	n.CreatedAt = time.Unix(0, createdAt).UTC()
	if updatedAt.Valid {
		t := time.Unix(0, updatedAt.Int64).UTC()
		n.UpdatedAt = &t
	}
	if n.Attributes, err = decodeAttributes(attrs); err != nil {
		return nil, err
	}
	if n.ServerAttributes, err = decodeAttributes(serverAttrs); err != nil {
		return nil, err
	}
	return &n, nil
}

func decodeAttributes(s string) (models.Attributes, error) {
	a := models.Attributes{}
	if s == "" {
		return a, nil
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}
	if a == nil {
		a = models.Attributes{}
	}
	return a, nil
}

func encodeAttributes(a models.Attributes) (string, error) {
	if a == nil {
		a = models.Attributes{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Node, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("node %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return n, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, n *models.Node) error {
	attrs, err := encodeAttributes(n.Attributes)
	if err != nil {
		return err
	}
	serverAttrs, err := encodeAttributes(n.ServerAttributes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO nodes (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.WorkspaceID, n.Type, nullString(n.ParentID), n.RootID, attrs, n.Version, n.Deleted,
		serverAttrs, n.ServerVersion, n.ServerDeleted, n.CreatedBy, n.CreatedAt.UnixNano(),
		nullString(n.UpdatedBy), nullTime(n.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", n.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Update(ctx context.Context, n *models.Node) error {
	attrs, err := encodeAttributes(n.Attributes)
	if err != nil {
		return err
	}
	serverAttrs, err := encodeAttributes(n.ServerAttributes)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE nodes SET
			attributes = ?, version = ?, deleted = ?,
			server_attributes = ?, server_version = ?, server_deleted = ?,
			updated_by = ?, updated_at = ?
		WHERE id = ?`,
		attrs, n.Version, n.Deleted, serverAttrs, n.ServerVersion, n.ServerDeleted,
		nullString(n.UpdatedBy), nullTime(n.UpdatedAt), n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", n.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("node %s: %w", n.ID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListByWorkspace(ctx context.Context, workspaceID string, includeDeleted bool) ([]*models.Node, error) {
	query := `SELECT ` + columns + ` FROM nodes WHERE workspace_id = ?`
	if !includeDeleted {
		query += ` AND deleted = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var result []*models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node row: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate node rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete nodes of workspace %s: %w", workspaceID, err)
	}
	return nil
}
