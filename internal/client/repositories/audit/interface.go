// Package audit persists the append-only diagnostic trail of committed
// create/update/delete operations.
package audit

import (
	"context"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
)

type Repository interface {
	Append(ctx context.Context, e *models.AuditEntry) error
	// List returns the newest entries first. An empty entityID lists all.
	List(ctx context.Context, entityID string, limit int) ([]models.AuditEntry, error)
}
