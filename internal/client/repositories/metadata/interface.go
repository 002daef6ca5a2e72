// Package metadata stores small key/value facts about the local replica:
// the client identifier, the last successful sync, the last backup time and
// the running count of evicted queue items.
package metadata

import (
	"context"
	"time"
)

// Well-known keys.
const (
	KeyClientID   = "client_id"
	KeyLastSync   = "last_sync"
	KeyLastBackup = "last_backup"
	KeyEvicted    = "sync_evicted"
)

// Repository reads and writes replica facts. An absent key reads as the
// zero value of the requested kind, never as an error.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error

	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error

	GetInt(ctx context.Context, key string) (int64, error)
	SetInt(ctx context.Context, key string, n int64) error
}
