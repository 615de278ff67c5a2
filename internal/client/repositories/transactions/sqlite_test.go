package transactions

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/repositories/sqlitedb"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlitedb.Open(context.Background(), sqlitedb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTx(id, node string, version int64, op models.Operation) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Operation:   op,
		NodeID:      node,
		NodeType:    models.NodeTypePage,
		RootID:      "root",
		WorkspaceID: "w1",
		Data:        models.Attributes{"v": float64(version)},
		CreatedBy:   "acc",
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, int(version), 0, time.UTC),
		Version:     version,
	}
}

func TestInsertAndGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	seq, err := r.Insert(ctx, newTx("t1", "n1", 1, models.OperationCreate))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	del := newTx("t2", "n1", 2, models.OperationDelete)
	del.Data = nil
	seq, err = r.Insert(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	got, err := r.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.Attributes{"v": 1.0}, got.Data)
	assert.True(t, got.Pending())
	assert.Equal(t, int64(1), got.LocalSeq)

	got, err = r.Get(ctx, "t2")
	require.NoError(t, err)
	assert.Nil(t, got.Data)

	_, err = r.Get(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestInsert_VersionUnique(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Insert(ctx, newTx("t1", "n1", 1, models.OperationCreate))
	require.NoError(t, err)
	_, err = r.Insert(ctx, newTx("t2", "n1", 1, models.OperationCreate))
	require.Error(t, err)
}

func TestInsert_ExplicitSeq(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	tx := newTx("t1", "n1", 1, models.OperationCreate)
	tx.LocalSeq = 7
	seq, err := r.Insert(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seq)

	seq, err = r.Insert(ctx, newTx("t2", "n1", 2, models.OperationUpdate))
	require.NoError(t, err)
	assert.Equal(t, int64(8), seq)
}

func TestPendingAndAcknowledge(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		_, err := r.Insert(ctx, newTx(id, "n1", int64(i+1), models.OperationUpdate))
		require.NoError(t, err)
	}
	other := newTx("z", "n9", 1, models.OperationCreate)
	other.WorkspaceID = "w2"
	_, err := r.Insert(ctx, other)
	require.NoError(t, err)

	page, err := r.ListPending(ctx, "w1", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, err = r.ListPending(ctx, "w1", page[1].LocalSeq, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)

	at := time.Date(2024, 2, 2, 0, 0, 0, 1000, time.UTC)
	require.NoError(t, r.MarkAcknowledged(ctx, "a", at, 11))
	require.ErrorIs(t, r.MarkAcknowledged(ctx, "missing", at, 1), common.ErrNotFound)

	got, err := r.Get(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.ServerCreatedAt)
	assert.True(t, at.Equal(*got.ServerCreatedAt))
	assert.Equal(t, int64(11), got.Seq)

	n, err := r.CountPending(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pending, err := r.ListPendingByNode(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b", pending[0].ID)

	all, err := r.ListByNode(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, r.DeletePendingByNode(ctx, "n1"))
	all, err = r.ListByNode(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].ID)

	require.NoError(t, r.Delete(ctx, "a"))
	require.NoError(t, r.DeleteByWorkspace(ctx, "w2"))
	require.NoError(t, r.DeleteByNode(ctx, "n1"))
	n, err = r.CountPending(ctx, "w2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
