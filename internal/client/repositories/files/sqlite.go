package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) CreateOrUpdate(ctx context.Context, f *File) error {
	f.UpdatedAt = r.now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO files (node_id, workspace_id, local_path, size, mime_type, upload_status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			local_path = excluded.local_path,
			size = excluded.size,
			mime_type = excluded.mime_type,
			upload_status = excluded.upload_status,
			updated_at = excluded.updated_at
	`, f.NodeID, f.WorkspaceID, f.LocalPath, f.Size, f.MimeType, f.UploadStatus, f.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", f.NodeID, err)
	}
	return nil
}

const columns = `node_id, workspace_id, local_path, size, mime_type, upload_status, updated_at`

func scanFile(row interface{ Scan(...any) error }) (*File, error) {
	var f File
	var updated int64
	if err := row.Scan(&f.NodeID, &f.WorkspaceID, &f.LocalPath, &f.Size, &f.MimeType, &f.UploadStatus, &updated); err != nil {
		return nil, err
	}
	f.UpdatedAt = time.Unix(0, updated).UTC()
	return &f, nil
}

func (r *SQLiteRepository) GetByNodeID(ctx context.Context, nodeID string) (*File, error) {
	f, err := scanFile(r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM files WHERE node_id = ?`, nodeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("file %s: %w", nodeID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", nodeID, err)
	}
	return f, nil
}

func (r *SQLiteRepository) ListPendingUpload(ctx context.Context, workspaceID string) ([]*File, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM files
		WHERE workspace_id = ? AND upload_status = ? ORDER BY updated_at`, workspaceID, UploadPending)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending files: %w", err)
	}
	defer rows.Close()

	var result []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file row: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) MarkUploaded(ctx context.Context, nodeID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE files SET upload_status = ?, updated_at = ? WHERE node_id = ?`,
		UploadCompleted, r.now().UTC().UnixNano(), nodeID)
	if err != nil {
		return fmt.Errorf("failed to mark file %s uploaded: %w", nodeID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("file %s: %w", nodeID, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM files WHERE workspace_id = ?`, workspaceID); err != nil {
		return fmt.Errorf("failed to delete files of workspace %s: %w", workspaceID, err)
	}
	return nil
}
