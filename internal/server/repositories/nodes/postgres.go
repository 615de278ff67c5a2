package nodes

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

// Get returns the node head. The row is locked for the rest of the
// enclosing transaction so concurrent pushes to one node serialize.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.NodeHead, error) {
	query :=
		`SELECT id, workspace_id, type, version, deleted, updated_at FROM nodes
		 WHERE id = $1
		 FOR UPDATE
		 `

	h := &models.NodeHead{}
	var nt string
	err := r.db.QueryRowContext(ctx, query, id).Scan(&h.ID, &h.WorkspaceID, &nt, &h.Version, &h.Deleted, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	h.Type = shared.NodeType(nt)
	return h, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, h *models.NodeHead) error {
	query :=
		`INSERT INTO nodes (id, workspace_id, type, version, deleted, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET version = EXCLUDED.version, deleted = EXCLUDED.deleted, updated_at = EXCLUDED.updated_at
		 `

	_, err := r.db.ExecContext(ctx, query, h.ID, h.WorkspaceID, string(h.Type), h.Version, h.Deleted, h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
