// Package conflicts stores mutations the sync engine could not deliver or
// resolve automatically, until a user resolves them.
package conflicts

import (
	"context"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
)

type Repository interface {
	Save(ctx context.Context, c *models.ConflictRecord) error
	// List returns unresolved conflicts, oldest first.
	List(ctx context.Context) ([]models.ConflictRecord, error)
	Get(ctx context.Context, id string) (*models.ConflictRecord, error)
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}
