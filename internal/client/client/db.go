package client

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	_ "modernc.org/sqlite"
)

func RunMigrations(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return migrations.Up(ctx, db, logger)
}

// InitDatabase opens the SQLite file at dsn and migrates it. The pool is
// limited to one connection: SQLite serialises writers anyway and an
// in-memory dsn is private to its connection.
func InitDatabase(ctx context.Context, dsn string, logger logging.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
