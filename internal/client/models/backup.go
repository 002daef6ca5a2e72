package models

import (
	"encoding/json"
	"time"
)

type BackupType string

const (
	BackupManual    BackupType = "manual"
	BackupAutomatic BackupType = "automatic"
)

// BackupData is the serialized snapshot of all primary collections.
type BackupData struct {
	Plants   []json.RawMessage `json:"plants"`
	Events   []json.RawMessage `json:"events"`
	Posts    []json.RawMessage `json:"posts"`
	Settings json.RawMessage   `json:"settings,omitempty"`
}

// Backup is an immutable point-in-time snapshot. Payload holds the stored
// bytes, snappy-compressed when Compressed is set; Checksum always covers
// the uncompressed serialized BackupData.
type Backup struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	Type       BackupType `json:"type"`
	Checksum   string     `json:"checksum"`
	Compressed bool       `json:"compressed"`
	Size       int64      `json:"size"`
	Note       string     `json:"note,omitempty"`
	Payload    []byte     `json:"payload,omitempty"`
}

// BackupSummary counts records per collection.
type BackupSummary struct {
	Plants   int `json:"plants"`
	Events   int `json:"events"`
	Posts    int `json:"posts"`
	Settings int `json:"settings"`
}

// AuditEntry records one committed create/update/delete.
type AuditEntry struct {
	ID         int64           `json:"id"`
	Collection Collection      `json:"collection"`
	EntityID   string          `json:"entityId"`
	Operation  Operation       `json:"operation"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}
