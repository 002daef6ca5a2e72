// Package migrations embeds the goose SQL migrations of the local database.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
)

//go:embed *.sql
var Migrations embed.FS

// Up applies every pending migration to db. goose output goes to logger at
// debug level; a nil logger discards it.
func Up(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	if logger == nil {
		logger = logging.Nop()
	}

	p, err := goose.NewProvider(goose.DialectSQLite3, db, Migrations,
		goose.WithLogger(gooseLogger{ctx: ctx, l: logger}),
		goose.WithVerbose(true),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Info(ctx, "migration applied",
			"version", r.Source.Version,
			"path", r.Source.Path,
			"duration", r.Duration,
		)
	}
	return nil
}

// gooseLogger adapts logging.Logger to goose.Logger.
type gooseLogger struct {
	ctx context.Context
	l   logging.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.l.Debug(g.ctx, strings.TrimSpace(fmt.Sprintf(format, v...)), "component", "goose")
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	g.l.Error(g.ctx, msg, "component", "goose")
	panic(msg)
}
