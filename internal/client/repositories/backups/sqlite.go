package backups

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Save(ctx context.Context, b *models.Backup) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backups (id, created_at, type, checksum, compressed, size, note, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.ID, b.CreatedAt.UnixNano(), string(b.Type), b.Checksum, b.Compressed, b.Size, b.Note, b.Payload)
	if err != nil {
		return fmt.Errorf("failed to save backup %s: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.Backup, error) {
	var (
		b       models.Backup
		created int64
		typ     string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, created_at, type, checksum, compressed, size, note, payload FROM backups WHERE id = ?
	`, id).Scan(&b.ID, &created, &typ, &b.Checksum, &b.Compressed, &b.Size, &b.Note, &b.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: backup %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup %s: %w", id, err)
	}
	b.CreatedAt = time.Unix(0, created).UTC()
	b.Type = models.BackupType(typ)
	return &b, nil
}

func (r *SQLiteRepository) List(ctx context.Context, t models.BackupType) ([]models.Backup, error) {
	query := `SELECT id, created_at, type, checksum, compressed, size, note FROM backups`
	var args []any
	if t != "" {
		query += ` WHERE type = ?`
		args = append(args, string(t))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}
	defer rows.Close()

	var result []models.Backup
	for rows.Next() {
		var (
			b       models.Backup
			created int64
			typ     string
		)
		if err := rows.Scan(&b.ID, &created, &typ, &b.Checksum, &b.Compressed, &b.Size, &b.Note); err != nil {
			return nil, fmt.Errorf("failed to scan backup: %w", err)
		}
		b.CreatedAt = time.Unix(0, created).UTC()
		b.Type = models.BackupType(typ)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate backups: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	err := dbx.ExecOne(ctx, r.db, fmt.Errorf("%w: backup %s", common.ErrNotFound, id),
		`DELETE FROM backups WHERE id = ?`, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("failed to delete backup %s: %w", id, err)
	}
	return err
}
