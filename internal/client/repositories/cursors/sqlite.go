package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

type SQLiteRepository struct {
	db  dbx.DBTX
	now func() time.Time
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func (r *SQLiteRepository) Get(ctx context.Context, streamKey string) (int64, error) {
	var position int64
	err := r.db.QueryRowContext(ctx, `SELECT position FROM cursors WHERE stream_key = ?`, streamKey).Scan(&position)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get cursor %s: %w", streamKey, err)
	}
	return position, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, streamKey string, position int64) error {
	current, err := r.Get(ctx, streamKey)
	if err != nil {
		return err
	}
	if position < current {
		return fmt.Errorf("%w: %s from %d to %d", common.ErrCursorRegression, streamKey, current, position)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cursors (stream_key, position, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(stream_key) DO UPDATE SET position = excluded.position, updated_at = excluded.updated_at
	`, streamKey, position, r.now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to set cursor %s: %w", streamKey, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]*models.Cursor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT stream_key, position, updated_at FROM cursors ORDER BY stream_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	var result []*models.Cursor
	for rows.Next() {
		var c models.Cursor
		var updated int64
		if err := rows.Scan(&c.StreamKey, &c.Position, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		c.UpdatedAt = time.Unix(0, updated).UTC()
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cursor rows: %w", err)
	}
	return result, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (r *SQLiteRepository) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cursors WHERE stream_key = ? OR stream_key LIKE ? ESCAPE '\'`,
		prefix, escapeLike(prefix)+"/%")
	if err != nil {
		return fmt.Errorf("failed to delete cursors under %s: %w", prefix, err)
	}
	return nil
}
