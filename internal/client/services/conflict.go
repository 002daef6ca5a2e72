package services

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/tidwall/gjson"
)

// Outcome is the decision taken for a conflicted mutation.
type Outcome int

const (
	// OutcomeManual leaves the conflict for a user to resolve.
	OutcomeManual Outcome = iota
	// OutcomeKeepLocal re-sends Data with the force flag set.
	OutcomeKeepLocal
	// OutcomeKeepServer applies the server copy locally.
	OutcomeKeepServer
	// OutcomeSettled means both sides already agree.
	OutcomeSettled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeKeepLocal:
		return "keep_local"
	case OutcomeKeepServer:
		return "keep_server"
	case OutcomeSettled:
		return "settled"
	default:
		return "manual"
	}
}

// Decision is what the resolver wants done with a conflicted item.
type Decision struct {
	Outcome Outcome
	// Operation and Data are what gets re-sent for OutcomeKeepLocal and
	// applied locally for OutcomeKeepServer.
	Operation models.Operation
	Data      json.RawMessage
	// ApplyLocal is set when Data differs from the local record and must
	// be written back.
	ApplyLocal bool
}

// ConflictResolver applies the automatic strategies: last write wins for
// timestamp conflicts, a field merge for field conflicts, and resurrection
// of local data for deletion conflicts.
type ConflictResolver struct {
	userOwned map[models.EntityType][]string
}

// NewConflictResolver builds a resolver using userOwned as the per-type
// list of fields whose local value wins a field merge.
func NewConflictResolver(userOwned map[models.EntityType][]string) *ConflictResolver {
	return &ConflictResolver{userOwned: maps.Clone(userOwned)}
}

func (r *ConflictResolver) Resolve(item *models.SyncQueueItem, ct models.ConflictType, server json.RawMessage) (Decision, error) {
	switch ct {
	case models.ConflictTimestamp:
		return r.lastWriteWins(item, server), nil
	case models.ConflictField:
		return r.mergeFields(item, server)
	case models.ConflictDeletion:
		return r.resurrect(item), nil
	default:
		return Decision{Outcome: OutcomeManual}, nil
	}
}

func (r *ConflictResolver) lastWriteWins(item *models.SyncQueueItem, server json.RawMessage) Decision {
	if isAbsent(server) {
		return Decision{Outcome: OutcomeManual}
	}
	ts := gjson.GetBytes(server, "updatedAt")
	if !ts.Exists() {
		return Decision{Outcome: OutcomeManual}
	}
	serverAt, err := time.Parse(time.RFC3339Nano, ts.String())
	if err != nil {
		return Decision{Outcome: OutcomeManual}
	}

	if item.OriginTimestamp.After(serverAt) {
		return Decision{Outcome: OutcomeKeepLocal, Operation: item.Operation, Data: item.Payload}
	}
	return Decision{Outcome: OutcomeKeepServer, Data: server}
}

// mergeFields takes the server record as the base and overlays the
// user-owned fields of the local record, keeping the local updatedAt. A
// user-owned field missing locally is removed from the result.
func (r *ConflictResolver) mergeFields(item *models.SyncQueueItem, server json.RawMessage) (Decision, error) {
	if item.Operation == models.OpDelete || isAbsent(server) || len(item.Payload) == 0 {
		return Decision{Outcome: OutcomeManual}, nil
	}

	var base, local map[string]any
	if err := json.Unmarshal(server, &base); err != nil {
		return Decision{}, fmt.Errorf("error decoding server data: %w", err)
	}
	if err := json.Unmarshal(item.Payload, &local); err != nil {
		return Decision{}, fmt.Errorf("error decoding local data: %w", err)
	}

	for _, f := range r.userOwned[item.EntityType] {
		if v, ok := local[f]; ok {
			base[f] = v
		} else {
			delete(base, f)
		}
	}
	if v, ok := local["updatedAt"]; ok {
		base["updatedAt"] = v
	}
	base["id"] = item.EntityID

	merged, err := json.Marshal(base)
	if err != nil {
		return Decision{}, fmt.Errorf("error encoding merged data: %w", err)
	}
	return Decision{Outcome: OutcomeKeepLocal, Operation: models.OpUpsert, Data: merged, ApplyLocal: true}, nil
}

// resurrect keeps a local edit to a record the server has deleted. When
// the local mutation is itself a delete both sides agree.
func (r *ConflictResolver) resurrect(item *models.SyncQueueItem) Decision {
	if item.Operation == models.OpDelete {
		return Decision{Outcome: OutcomeSettled}
	}
	if len(item.Payload) == 0 {
		return Decision{Outcome: OutcomeManual}
	}
	return Decision{Outcome: OutcomeKeepLocal, Operation: models.OpUpsert, Data: item.Payload}
}

func isAbsent(data json.RawMessage) bool {
	return len(data) == 0 || string(data) == "null"
}

// Backoff returns the delay before retry number retry: base doubled per
// earlier retry and capped at limit. retry < 1 means no delay.
func Backoff(retry int, base, limit time.Duration) time.Duration {
	if retry < 1 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}
