package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Append(ctx context.Context, e *models.AuditEntry) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (collection, entity_id, operation, before_data, after_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Collection), e.EntityID, string(e.Operation), nullable(e.Before), nullable(e.After),
		e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append audit entry for %s: %w", e.EntityID, err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, entityID string, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, collection, entity_id, operation, before_data, after_data, created_at FROM audit_log`
	args := []any{}
	if entityID != "" {
		query += ` WHERE entity_id = ?`
		args = append(args, entityID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit log: %w", err)
	}
	defer rows.Close()

	var result []models.AuditEntry
	for rows.Next() {
		var (
			e          models.AuditEntry
			collection string
			op         string
			before     []byte
			after      []byte
			ts         string
		)
		if err := rows.Scan(&e.ID, &collection, &e.EntityID, &op, &before, &after, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.Collection = models.Collection(collection)
		e.Operation = models.Operation(op)
		e.Before = before
		e.After = after
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return result, nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
