// Package syncqueue is the durable outbox of mutations awaiting delivery
// to the remote authority. It is owned by the sync engine.
package syncqueue

import (
	"context"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
)

type Repository interface {
	// Enqueue stores item after removing any queued item for the same
	// (entityType, entityID, operation). When the queue then holds more
	// than maxSize items the oldest are evicted and returned.
	Enqueue(ctx context.Context, item *models.SyncQueueItem, maxSize int) ([]models.SyncQueueItem, error)

	// List returns up to limit items, oldest origin timestamp first.
	// A limit of zero or less returns every item.
	List(ctx context.Context, limit int) ([]models.SyncQueueItem, error)
	Get(ctx context.Context, id string) (*models.SyncQueueItem, error)

	MarkSending(ctx context.Context, id string, at time.Time) error
	// MarkFailed returns the item to pending with a new retry count.
	MarkFailed(ctx context.Context, id string, retryCount int, lastErr string) error
	Remove(ctx context.Context, id string) error

	// ResetSending returns items left in sending by an interrupted run to
	// pending.
	ResetSending(ctx context.Context) (int64, error)

	Count(ctx context.Context) (int, error)
	CountByOperation(ctx context.Context) (map[models.Operation]int, error)
	// Oldest returns the origin timestamp of the oldest item, or nil.
	Oldest(ctx context.Context) (*time.Time, error)
}
