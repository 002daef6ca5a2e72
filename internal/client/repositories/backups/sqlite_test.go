package backups

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
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
	require.NoError(t, migrations.Up(context.Background(), db, logging.Nop()))
	return db
}

var t0 = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func backup(id string, at time.Time, typ models.BackupType) *models.Backup {
	payload := []byte(`{"plants":[],"events":[],"posts":[]}`)
	return &models.Backup{
		ID:        id,
		CreatedAt: at,
		Type:      typ,
		Checksum:  "blake2b256:00",
		Size:      int64(len(payload)),
		Note:      "note " + id,
		Payload:   payload,
	}
}

func TestSaveGet(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	b := backup("b1", t0, models.BackupManual)
	b.Compressed = true
	require.NoError(t, r.Save(ctx, b))

	got, err := r.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b.Payload, got.Payload)
	assert.True(t, got.Compressed)
	assert.True(t, t0.Equal(got.CreatedAt))
	assert.Equal(t, models.BackupManual, got.Type)
	assert.Equal(t, "note b1", got.Note)

	_, err = r.Get(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestList_NewestFirstWithoutPayload(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, backup("b1", t0, models.BackupAutomatic)))
	require.NoError(t, r.Save(ctx, backup("b2", t0.Add(time.Hour), models.BackupManual)))
	require.NoError(t, r.Save(ctx, backup("b3", t0.Add(2*time.Hour), models.BackupAutomatic)))

	all, err := r.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b3", all[0].ID)
	assert.Nil(t, all[0].Payload)

	auto, err := r.List(ctx, models.BackupAutomatic)
	require.NoError(t, err)
	require.Len(t, auto, 2)
	assert.Equal(t, "b3", auto[0].ID)
	assert.Equal(t, "b1", auto[1].ID)
}

func TestDelete(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	require.NoError(t, r.Save(ctx, backup("b1", t0, models.BackupManual)))
	require.NoError(t, r.Delete(ctx, "b1"))
	require.ErrorIs(t, r.Delete(ctx, "b1"), common.ErrNotFound)
}

func TestSave_DBError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO backups").WillReturnError(sql.ErrConnDone)

	err = NewSQLiteRepository(db).Save(context.Background(), backup("b1", t0, models.BackupManual))
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.Contains(t, err.Error(), "failed to save backup b1")
	require.NoError(t, mock.ExpectationsWereMet())
}
