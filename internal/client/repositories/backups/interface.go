// Package backups stores point-in-time snapshots of the local dataset.
// Stored backups are never modified, only created and deleted.
package backups

import (
	"context"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
)

type Repository interface {
	Save(ctx context.Context, b *models.Backup) error
	// Get returns the backup including its payload.
	Get(ctx context.Context, id string) (*models.Backup, error)
	// List returns backups without payloads, newest first. An empty type
	// lists every backup.
	List(ctx context.Context, t models.BackupType) ([]models.Backup, error)
	Delete(ctx context.Context, id string) error
}
