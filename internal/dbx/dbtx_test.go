package dbx

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var errMissing = errors.New("missing")

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY, v TEXT);`)
	require.NoError(t, err)
	return db
}

func countRows(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n))
	return n
}

func insert(v string) func(ctx context.Context, tx DBTX) error {
	return func(ctx context.Context, tx DBTX) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t(v) VALUES (?)`, v)
		return err
	}
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	require.NoError(t, WithTx(context.Background(), db, nil, insert("ok")))
	require.Equal(t, 1, countRows(t, db), "must commit on success")
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)
	boom := errors.New("boom")

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert("fail")(ctx, tx))
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, countRows(t, db), "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countRows(t, db), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		require.NoError(t, insert("panic")(ctx, tx))
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestInTx(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a transaction on a plain db", func(t *testing.T) {
		db := setupDB(t)
		err := InTx(ctx, db, func(ctx context.Context, tx DBTX) error {
			_, isTx := tx.(*sql.Tx)
			assert.True(t, isTx)
			return insert("a")(ctx, tx)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, countRows(t, db))
	})

	t.Run("joins the caller's transaction", func(t *testing.T) {
		db := setupDB(t)
		boom := errors.New("boom")

		err := WithTx(ctx, db, nil, func(ctx context.Context, outer DBTX) error {
			require.NoError(t, InTx(ctx, outer, func(ctx context.Context, tx DBTX) error {
				assert.Same(t, outer, tx)
				return insert("b")(ctx, tx)
			}))
			return boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, countRows(t, db), "inner work belongs to the outer transaction")
	})
}

func TestExecOne(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	require.NoError(t, insert("x")(ctx, db))

	require.NoError(t, ExecOne(ctx, db, errMissing, `DELETE FROM t WHERE v = ?`, "x"))
	require.ErrorIs(t, ExecOne(ctx, db, errMissing, `DELETE FROM t WHERE v = ?`, "x"), errMissing)

	err := ExecOne(ctx, db, errMissing, `DELETE FROM nope`)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errMissing)
}
