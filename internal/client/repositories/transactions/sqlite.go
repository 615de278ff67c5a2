package transactions

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

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const columns = `seq, id, operation, node_id, node_type, parent_id, root_id, workspace_id, data,
	created_by, created_at, server_created_at, server_seq, version`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*models.Transaction, error) {
	var (
		tx              models.Transaction
		parentID, data  sql.NullString
		createdAt       int64
		serverCreatedAt sql.NullInt64
		serverSeq       sql.NullInt64
	)
	err := row.Scan(&tx.LocalSeq, &tx.ID, &tx.Operation, &tx.NodeID, &tx.NodeType, &parentID, &tx.RootID,
		&tx.WorkspaceID, &data, &tx.CreatedBy, &createdAt, &serverCreatedAt, &serverSeq, &tx.Version)
	if err != nil {
		return nil, err
	}

	tx.ParentID = parentID.String
	tx.CreatedAt = time.Unix(0, createdAt).UTC()
	if serverCreatedAt.Valid {
		t := time.Unix(0, serverCreatedAt.Int64).UTC()
		tx.ServerCreatedAt = &t
	}
	tx.Seq = serverSeq.Int64
	if data.Valid && data.String != "" && data.String != "null" {
		if err := json.Unmarshal([]byte(data.String), &tx.Data); err != nil {
			return nil, fmt.Errorf("decode transaction data: %w", err)
		}
	}
	return &tx, nil
}

func (r *SQLiteRepository) queryList(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var result []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transaction rows: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, tx *models.Transaction) (int64, error) {
	var data sql.NullString
	if tx.Data != nil {
		b, err := json.Marshal(tx.Data)
		if err != nil {
			return 0, fmt.Errorf("encode transaction data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	}

	var serverCreatedAt, serverSeq sql.NullInt64
	if tx.ServerCreatedAt != nil {
		serverCreatedAt = sql.NullInt64{Int64: tx.ServerCreatedAt.UnixNano(), Valid: true}
	}
	if tx.Seq > 0 {
		serverSeq = sql.NullInt64{Int64: tx.Seq, Valid: true}
	}

	var seq sql.NullInt64
	if tx.LocalSeq > 0 {
		seq = sql.NullInt64{Int64: tx.LocalSeq, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `INSERT INTO transactions (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, tx.ID, tx.Operation, tx.NodeID, tx.NodeType, sql.NullString{String: tx.ParentID, Valid: tx.ParentID != ""},
		tx.RootID, tx.WorkspaceID, data, tx.CreatedBy, tx.CreatedAt.UnixNano(), serverCreatedAt, serverSeq, tx.Version)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction %s: %w", tx.ID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read transaction seq: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListPending(ctx context.Context, workspaceID string, afterSeq int64, limit int) ([]*models.Transaction, error) {
	return r.queryList(ctx, `SELECT `+columns+` FROM transactions
		WHERE workspace_id = ? AND server_created_at IS NULL AND seq > ?
		ORDER BY seq LIMIT ?`, workspaceID, afterSeq, limit)
}

func (r *SQLiteRepository) ListPendingByNode(ctx context.Context, nodeID string) ([]*models.Transaction, error) {
	return r.queryList(ctx, `SELECT `+columns+` FROM transactions
		WHERE node_id = ? AND server_created_at IS NULL ORDER BY version`, nodeID)
}

func (r *SQLiteRepository) ListByNode(ctx context.Context, nodeID string) ([]*models.Transaction, error) {
	return r.queryList(ctx, `SELECT `+columns+` FROM transactions WHERE node_id = ? ORDER BY version`, nodeID)
}

func (r *SQLiteRepository) MarkAcknowledged(ctx context.Context, id string, serverCreatedAt time.Time, serverSeq int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transactions SET server_created_at = ?, server_seq = ? WHERE id = ?`,
		serverCreatedAt.UnixNano(), sql.NullInt64{Int64: serverSeq, Valid: serverSeq > 0}, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge transaction %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected != 1 {
		return fmt.Errorf("transaction %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", what, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return r.exec(ctx, "delete transaction", `DELETE FROM transactions WHERE id = ?`, id)
}

func (r *SQLiteRepository) DeletePendingByNode(ctx context.Context, nodeID string) error {
	return r.exec(ctx, "delete pending transactions",
		`DELETE FROM transactions WHERE node_id = ? AND server_created_at IS NULL`, nodeID)
}

func (r *SQLiteRepository) DeleteByNode(ctx context.Context, nodeID string) error {
	return r.exec(ctx, "delete node transactions", `DELETE FROM transactions WHERE node_id = ?`, nodeID)
}

func (r *SQLiteRepository) DeleteByWorkspace(ctx context.Context, workspaceID string) error {
	return r.exec(ctx, "delete workspace transactions", `DELETE FROM transactions WHERE workspace_id = ?`, workspaceID)
}

func (r *SQLiteRepository) CountPending(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions
		WHERE workspace_id = ? AND server_created_at IS NULL`, workspaceID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}
