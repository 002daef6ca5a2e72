// Package syncproto defines the wire contract between the client sync
// engine and the remote authority: the Push and Ping messages, a JSON
// gRPC codec and the hand-written service descriptor.
package syncproto

import (
	"encoding/json"
	"time"
)

// Conflict types reported by the remote.
const (
	ConflictTimestamp = "timestamp"
	ConflictField     = "field"
	ConflictDeletion  = "deletion"
)

// PushRequest delivers one mutation.
type PushRequest struct {
	Operation      string          `json:"operation"`
	EntityType     string          `json:"entityType"`
	EntityID       string          `json:"entityId"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	ClientID       string          `json:"clientId"`
	Force          bool            `json:"force,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// PushResponse is either a success, optionally carrying the stored record,
// or a conflict carrying the server's copy.
type PushResponse struct {
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	Conflict     bool            `json:"conflict,omitempty"`
	ConflictType string          `json:"conflictType,omitempty"`
	ServerData   json.RawMessage `json:"serverData,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type PingRequest struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// StatusOK is the Ping status of a healthy remote.
const StatusOK = "OK"
