package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
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
CREATE TABLE audit_log (
  id          INTEGER PRIMARY KEY AUTOINCREMENT,
  collection  TEXT NOT NULL,
  entity_id   TEXT NOT NULL,
  operation   TEXT NOT NULL,
  before_data BLOB,
  after_data  BLOB,
  created_at  TEXT NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestAppendAndList(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	first := &models.AuditEntry{Collection: models.CollectionPlants, EntityID: "plant_1", Operation: models.OpCreate,
		After: json.RawMessage(`{"id":"plant_1"}`), Timestamp: ts}
	require.NoError(t, r.Append(ctx, first))
	require.NotZero(t, first.ID)

	require.NoError(t, r.Append(ctx, &models.AuditEntry{Collection: models.CollectionPlants, EntityID: "plant_1",
		Operation: models.OpDelete, Before: json.RawMessage(`{"id":"plant_1"}`), Timestamp: ts.Add(time.Second)}))
	require.NoError(t, r.Append(ctx, &models.AuditEntry{Collection: models.CollectionPosts, EntityID: "post_1",
		Operation: models.OpCreate, Timestamp: ts}))

	got, err := r.List(ctx, "plant_1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.OpDelete, got[0].Operation, "newest first")
	assert.Nil(t, got[0].After)
	assert.JSONEq(t, `{"id":"plant_1"}`, string(got[0].Before))
	assert.Equal(t, models.OpCreate, got[1].Operation)
	assert.True(t, ts.Equal(got[1].Timestamp))

	all, err := r.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := r.List(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestAppend_DBErrorWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	err := r.Append(context.Background(), &models.AuditEntry{EntityID: "x", Timestamp: time.Now()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to append audit entry for x")
}

func TestList_DBErrorWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	_, err := r.List(context.Background(), "", 10)
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to list audit log")
}
