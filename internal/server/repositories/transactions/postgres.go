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

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const columns = `seq, id, operation, node_id, node_type, parent_id, root_id, workspace_id,
		        data, created_by, created_at, server_created_at, version`

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Transaction, error) {
	query :=
		`SELECT ` + columns + `
		 FROM transactions
		 WHERE id = $1
		 `

	tx, err := scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tx, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	if tx.ServerCreatedAt == nil {
		return nil, errors.New("transaction has no server time")
	}

	var data []byte
	if len(tx.Data) > 0 {
		b, err := json.Marshal(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("encode data: %w", err)
		}
		data = b
	}

	query :=
		`INSERT INTO transactions (id, operation, node_id, node_type, parent_id, root_id, workspace_id,
		                           data, created_by, created_at, server_created_at, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING seq
		 `

	err := r.db.QueryRowContext(ctx, query,
		tx.ID, string(tx.Operation), tx.NodeID, string(tx.NodeType), tx.ParentID, tx.RootID, tx.WorkspaceID,
		data, tx.CreatedBy, tx.CreatedAt, *tx.ServerCreatedAt, tx.Version).Scan(&tx.Seq)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tx, nil
}

func (r *PostgresRepository) ListForNode(ctx context.Context, nodeID string, fromVersion int64) ([]*models.Transaction, error) {
	query :=
		`SELECT ` + columns + `
		 FROM transactions
		 WHERE node_id = $1 AND version >= $2
		 ORDER BY version
		 `
	return r.list(ctx, query, nodeID, fromVersion)
}

func (r *PostgresRepository) ListAfter(ctx context.Context, workspaceID string, cursor int64, limit int) ([]*models.Transaction, error) {
	query :=
		`SELECT ` + columns + `
		 FROM transactions
		 WHERE workspace_id = $1 AND seq > $2
		 ORDER BY seq
		 LIMIT $3
		 `
	return r.list(ctx, query, workspaceID, cursor, limit)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		tx, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Transaction, error) {
	var (
		tx       models.Transaction
		op, nt   string
		data     []byte
		serverAt time.Time
	)
	err := s.Scan(&tx.Seq, &tx.ID, &op, &tx.NodeID, &nt, &tx.ParentID, &tx.RootID, &tx.WorkspaceID,
		&data, &tx.CreatedBy, &tx.CreatedAt, &serverAt, &tx.Version)
	if err != nil {
		return nil, err
	}
	tx.Operation = models.Operation(op)
	tx.NodeType = models.NodeType(nt)
	tx.ServerCreatedAt = &serverAt
	if len(data) > 0 {
		if err := json.Unmarshal(data, &tx.Data); err != nil {
			return nil, fmt.Errorf("decode data of %s: %w", tx.ID, err)
		}
	}
	return &tx, nil
}
