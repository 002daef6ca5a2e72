package metadata

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestGetSet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	v, err := r.Get(ctx, KeyClientID)
	require.NoError(t, err)
	assert.Nil(t, v, "absent key reads as nil")

	require.NoError(t, r.Set(ctx, KeyClientID, []byte("first")))
	require.NoError(t, r.Set(ctx, KeyClientID, []byte("second")))

	v, err = r.Get(ctx, KeyClientID)
	require.NoError(t, err)
	assert.Equal(t, "second", string(v))
}

func TestTime_RoundTripAndAbsent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	got, err := r.GetTime(ctx, KeyLastSync)
	require.NoError(t, err)
	require.True(t, got.IsZero())

	ts := time.Date(2024, 5, 1, 10, 30, 0, 123000000, time.FixedZone("IDT", 3*3600))
	require.NoError(t, r.SetTime(ctx, KeyLastSync, ts))

	got, err = r.GetTime(ctx, KeyLastSync)
	require.NoError(t, err)
	require.True(t, ts.Equal(got))
	require.Equal(t, time.UTC, got.Location())
}

func TestInt_RoundTripAndAbsent(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	n, err := r.GetInt(ctx, KeyEvicted)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, r.SetInt(ctx, KeyEvicted, 42))
	n, err = r.GetInt(ctx, KeyEvicted)
	require.NoError(t, err)
	assert.EqualValues(t, 42, n)

	v, err := r.Get(ctx, KeyEvicted)
	require.NoError(t, err)
	assert.Equal(t, "42", string(v))
}

func TestMalformedValues(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, KeyLastBackup, []byte("yesterday")))
	_, err := r.GetTime(ctx, KeyLastBackup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse metadata[last_backup]")

	require.NoError(t, r.Set(ctx, KeyEvicted, []byte("lots")))
	_, err = r.GetInt(ctx, KeyEvicted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse metadata[sync_evicted]")
}

func TestDBErrorsWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Close())

	v, err := r.Get(ctx, "k")
	require.Error(t, err)
	assert.Nil(t, v)
	assert.Contains(t, err.Error(), "failed to get metadata[k]")

	err = r.Set(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set metadata[k]")

	_, err = r.GetInt(ctx, "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get metadata[k]")
}

func TestTxHandle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, NewSQLiteRepository(tx).SetInt(ctx, KeyEvicted, 7))
	require.NoError(t, tx.Rollback())

	n, err := NewSQLiteRepository(db).GetInt(ctx, KeyEvicted)
	require.NoError(t, err)
	assert.Zero(t, n, "rolled back write must not be visible")
}
