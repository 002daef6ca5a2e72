package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the kind of mutation carried by a queue item.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpUpsert Operation = "upsert"
)

// QueueState is the persisted part of a queue item's lifecycle. Delivered
// items are removed and conflicted items move to the conflict store, so
// only these two states are ever stored.
type QueueState string

const (
	QueuePending QueueState = "pending"
	QueueSending QueueState = "sending"
)

// SyncQueueItem is one pending outbound mutation.
type SyncQueueItem struct {
	ID              string          `json:"id"`
	Seq             int64           `json:"seq,omitempty"`
	EntityType      EntityType      `json:"entityType"`
	EntityID        string          `json:"entityId"`
	Operation       Operation       `json:"operation"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	OriginTimestamp time.Time       `json:"originTimestamp"`
	RetryCount      int             `json:"retryCount"`
	LastAttempt     *time.Time      `json:"lastAttempt,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
	ClientID        string          `json:"clientId"`
	State           QueueState      `json:"state"`
	Force           bool            `json:"force,omitempty"`
}

// IdempotencyKey identifies one delivery attempt set; retries of the same
// mutation share it.
func (i *SyncQueueItem) IdempotencyKey() string {
	return fmt.Sprintf("%s:%s:%s:%d", i.EntityType, i.EntityID, i.Operation, i.OriginTimestamp.UnixNano())
}

// ConflictType names the divergence reported for a mutation.
type ConflictType string

const (
	ConflictTimestamp          ConflictType = "timestamp"
	ConflictField              ConflictType = "field"
	ConflictDeletion           ConflictType = "deletion"
	ConflictMaxRetriesExceeded ConflictType = "max_retries_exceeded"
)

// ConflictRecord is a mutation that could not be delivered or resolved
// automatically. It stays until a user resolves it.
type ConflictRecord struct {
	ID           string          `json:"id"`
	LocalItem    SyncQueueItem   `json:"localItem"`
	ServerData   json.RawMessage `json:"serverData,omitempty"`
	ConflictType ConflictType    `json:"conflictType"`
	Timestamp    time.Time       `json:"timestamp"`
	Resolved     bool            `json:"resolved"`
}

// QueueStatus summarises the outbound queue for status displays.
type QueueStatus struct {
	Pending     int               `json:"pending"`
	Conflicts   int               `json:"conflicts"`
	Evicted     int64             `json:"evicted"`
	Online      bool              `json:"online"`
	Syncing     bool              `json:"syncing"`
	LastSync    *time.Time        `json:"lastSync,omitempty"`
	OldestItem  *time.Time        `json:"oldestItem,omitempty"`
	ByOperation map[Operation]int `json:"byOperation"`
}
