package conflicts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
)

const conflictColumns = `id, local_item, server_data, conflict_type, created_at, resolved`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, c *models.ConflictRecord) error {
	local, err := json.Marshal(c.LocalItem)
	if err != nil {
		return fmt.Errorf("failed to encode conflict %s: %w", c.ID, err)
	}

	var server any
	if len(c.ServerData) > 0 {
		server = []byte(c.ServerData)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, entity_type, entity_id, local_item, server_data, conflict_type, created_at, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET local_item = excluded.local_item, server_data = excluded.server_data,
			conflict_type = excluded.conflict_type, resolved = excluded.resolved
	`, c.ID, string(c.LocalItem.EntityType), c.LocalItem.EntityID, local, server, string(c.ConflictType),
		c.Timestamp.UnixNano(), c.Resolved)
	if err != nil {
		return fmt.Errorf("failed to save conflict %s: %w", c.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context) ([]models.ConflictRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE resolved = 0 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select conflicts: %w", err)
	}
	defer rows.Close()

	var result []models.ConflictRecord
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.ConflictRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	c, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conflict %s", common.ErrNotFound, id)
	}
	return c, err
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	err := dbx.ExecOne(ctx, r.db, fmt.Errorf("%w: conflict %s", common.ErrNotFound, id),
		`DELETE FROM conflicts WHERE id = ?`, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to delete conflict %s: %w", id, err)
	}
	return err
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts WHERE resolved = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConflict(sc scanner) (*models.ConflictRecord, error) {
	var (
		c            models.ConflictRecord
		local        []byte
		server       []byte
		conflictType string
		created      int64
	)
	if err := sc.Scan(&c.ID, &local, &server, &conflictType, &created, &c.Resolved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}
	if err := json.Unmarshal(local, &c.LocalItem); err != nil {
		return nil, fmt.Errorf("failed to decode conflict %s: %w", c.ID, err)
	}
	c.ServerData = server
	c.ConflictType = models.ConflictType(conflictType)
	c.Timestamp = time.Unix(0, created).UTC()
	return &c, nil
}
