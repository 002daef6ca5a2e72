package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// GetTime returns the zero time when key is absent.
func (r *SQLiteRepository) GetTime(ctx context.Context, key string) (time.Time, error) {
	return getParsed(ctx, r, key, func(s string) (time.Time, error) {
		return time.Parse(time.RFC3339Nano, s)
	})
}

// SetTime stores t in UTC.
func (r *SQLiteRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, []byte(t.UTC().Format(time.RFC3339Nano)))
}

func (r *SQLiteRepository) GetInt(ctx context.Context, key string) (int64, error) {
	return getParsed(ctx, r, key, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func (r *SQLiteRepository) SetInt(ctx context.Context, key string, n int64) error {
	return r.Set(ctx, key, []byte(strconv.FormatInt(n, 10)))
}

func getParsed[T any](ctx context.Context, r *SQLiteRepository, key string, parse func(string) (T, error)) (T, error) {
	var zero T
	v, err := r.Get(ctx, key)
	if err != nil || len(v) == 0 {
		return zero, err
	}
	out, err := parse(string(v))
	if err != nil {
		return zero, fmt.Errorf("failed to parse metadata[%s]: %w", key, err)
	}
	return out, nil
}
