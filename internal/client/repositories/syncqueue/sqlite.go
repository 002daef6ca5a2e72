package syncqueue

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

const itemColumns = `seq, id, entity_type, entity_id, operation, payload, origin_ts, retry_count, last_attempt, last_error, client_id, state, force`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, item *models.SyncQueueItem, maxSize int) ([]models.SyncQueueItem, error) {
	var evicted []models.SyncQueueItem
	err := dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		evicted, err = enqueue(ctx, tx, item, maxSize)
		return err
	})
	return evicted, err
}

func enqueue(ctx context.Context, db dbx.DBTX, item *models.SyncQueueItem, maxSize int) ([]models.SyncQueueItem, error) {
	// an item already being sent stays; only waiting duplicates are replaced
	_, err := db.ExecContext(ctx, `
		DELETE FROM sync_queue WHERE entity_type = ? AND entity_id = ? AND operation = ? AND state = ?
	`, string(item.EntityType), item.EntityID, string(item.Operation), string(models.QueuePending))
	if err != nil {
		return nil, fmt.Errorf("failed to dedup queue item: %w", err)
	}

	if item.State == "" {
		item.State = models.QueuePending
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_queue (id, entity_type, entity_id, operation, payload, origin_ts, retry_count, last_attempt, last_error, client_id, state, force)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, string(item.EntityType), item.EntityID, string(item.Operation), []byte(item.Payload),
		item.OriginTimestamp.UnixNano(), item.RetryCount, nanos(item.LastAttempt), item.LastError,
		item.ClientID, string(item.State), item.Force)
	if err != nil {
		return nil, fmt.Errorf("failed to insert queue item: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		item.Seq = seq
	}

	if maxSize <= 0 {
		return nil, nil
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}
	if n <= maxSize {
		return nil, nil
	}

	evicted, err := list(ctx, db, n-maxSize)
	if err != nil {
		return nil, err
	}
	for _, e := range evicted {
		if _, err := db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, e.ID); err != nil {
			return nil, fmt.Errorf("failed to evict queue item %s: %w", e.ID, err)
		}
	}
	return evicted, nil
}

func (r *SQLiteRepository) List(ctx context.Context, limit int) ([]models.SyncQueueItem, error) {
	return list(ctx, r.db, limit)
}

func list(ctx context.Context, db dbx.DBTX, limit int) ([]models.SyncQueueItem, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sync_queue ORDER BY origin_ts, seq LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select queue items: %w", err)
	}
	defer rows.Close()

	var result []models.SyncQueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue items: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.SyncQueueItem, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: queue item %s", common.ErrNotFound, id)
	}
	return item, err
}

func (r *SQLiteRepository) MarkSending(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, "mark sending", `
		UPDATE sync_queue SET state = ?, last_attempt = ? WHERE id = ?
	`, string(models.QueueSending), at.UnixNano(), id)
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error {
	return r.exec(ctx, "mark failed", `
		UPDATE sync_queue SET state = ?, retry_count = ?, last_error = ? WHERE id = ?
	`, string(models.QueuePending), retryCount, lastErr, id)
}

func (r *SQLiteRepository) Remove(ctx context.Context, id string) error {
	return r.exec(ctx, "remove", `DELETE FROM sync_queue WHERE id = ?`, id)
}

func (r *SQLiteRepository) ResetSending(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET state = ? WHERE state = ?`,
		string(models.QueuePending), string(models.QueueSending))
	if err != nil {
		return 0, fmt.Errorf("failed to reset sending items: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountByOperation(ctx context.Context) (map[models.Operation]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT operation, COUNT(*) FROM sync_queue GROUP BY operation`)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue by operation: %w", err)
	}
	defer rows.Close()

	result := make(map[models.Operation]int)
	for rows.Next() {
		var op string
		var n int
		if err := rows.Scan(&op, &n); err != nil {
			return nil, fmt.Errorf("failed to scan queue count: %w", err)
		}
		result[models.Operation(op)] = n
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Oldest(ctx context.Context) (*time.Time, error) {
	var ts sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MIN(origin_ts) FROM sync_queue`).Scan(&ts); err != nil {
		return nil, fmt.Errorf("failed to select oldest queue item: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := time.Unix(0, ts.Int64).UTC()
	return &t, nil
}

func (r *SQLiteRepository) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s queue item: %w", what, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(sc scanner) (*models.SyncQueueItem, error) {
	var (
		item        models.SyncQueueItem
		entityType  string
		operation   string
		payload     []byte
		originTS    int64
		lastAttempt sql.NullInt64
		state       string
	)
	err := sc.Scan(&item.Seq, &item.ID, &entityType, &item.EntityID, &operation, &payload, &originTS,
		&item.RetryCount, &lastAttempt, &item.LastError, &item.ClientID, &state, &item.Force)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	item.EntityType = models.EntityType(entityType)
	item.Operation = models.Operation(operation)
	item.Payload = payload
	item.OriginTimestamp = time.Unix(0, originTS).UTC()
	item.State = models.QueueState(state)
	if lastAttempt.Valid {
		t := time.Unix(0, lastAttempt.Int64).UTC()
		item.LastAttempt = &t
	}
	return &item, nil
}

func nanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}
