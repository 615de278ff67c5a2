package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/repositories/sqlitedb"
	"github.com/dmitrijs2005/nodesync/internal/common"
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

func TestSetGetDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Get(ctx, "absent")
	require.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, r.Set(ctx, "k", []byte("old")))
	require.NoError(t, r.Set(ctx, "k", []byte("new")))
	v, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), v)

	require.NoError(t, r.Set(ctx, "empty", nil))
	v, err = r.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, r.Delete(ctx, "k"))
	require.NoError(t, r.Delete(ctx, "k"), "deleting an absent key is fine")
	_, err = r.Get(ctx, "k")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestErrorsAreWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	require.ErrorContains(t, err, "read metadata k")
	require.NotErrorIs(t, err, common.ErrNotFound)
	require.ErrorContains(t, r.Set(ctx, "k", nil), "write metadata k")
	require.ErrorContains(t, r.Delete(ctx, "k"), "delete metadata k")
}

func TestSession(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	s, err := LoadSession(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, s)

	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, SaveSession(ctx, r, &Session{AccountID: "a1", Email: "a@b.c", AccessToken: "tok", ExpiresAt: exp}))

	s, err = LoadSession(ctx, r)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "a1", s.AccountID)
	assert.True(t, exp.Equal(s.ExpiresAt))

	require.NoError(t, ClearSession(ctx, r))
	s, err = LoadSession(ctx, r)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestDeviceID_IsStable(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	first, err := DeviceID(ctx, r)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := DeviceID(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
