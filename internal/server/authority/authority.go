// Package authority is the reference remote authority: an in-memory record
// store that accepts pushed mutations, deduplicates retried deliveries and
// reports conflicting concurrent edits.
package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
)

const DefaultIdempotencyCacheSize = 4096

var entityTypes = map[string]bool{
	"plant":    true,
	"event":    true,
	"post":     true,
	"settings": true,
}

// fields that change on every write and never take part in conflict checks
var bookkeeping = map[string]bool{
	"updatedAt":     true,
	"schemaVersion": true,
}

// Record is the server copy of one entity. A deleted record is kept as a
// tombstone so later edits of it can be reported.
type Record struct {
	Data      json.RawMessage
	UpdatedAt time.Time
	Deleted   bool
	ClientID  string
	// fieldTimes holds, per top-level field, the origin time of the write
	// that last changed it.
	fieldTimes map[string]time.Time
}

type key struct {
	entityType string
	id         string
}

// Authority is safe for concurrent use.
type Authority struct {
	mu      sync.Mutex
	records map[key]*Record
	seen    *lru.Cache[string, *syncproto.PushResponse]
	logger  logging.Logger
}

func New(logger logging.Logger, idempotencyCacheSize int) (*Authority, error) {
	if idempotencyCacheSize <= 0 {
		idempotencyCacheSize = DefaultIdempotencyCacheSize
	}
	seen, err := lru.New[string, *syncproto.PushResponse](idempotencyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("error creating idempotency cache: %w", err)
	}
	return &Authority{
		records: make(map[key]*Record),
		seen:    seen,
		logger:  logger.With("module", "authority"),
	}, nil
}

// Push applies one mutation. A replayed idempotency key returns the answer
// given the first time. Malformed requests fail with common.ErrValidation.
func (a *Authority) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	dedup := ""
	if req.IdempotencyKey != "" {
		dedup = req.ClientID + "|" + req.IdempotencyKey
		if resp, ok := a.seen.Get(dedup); ok {
			a.logger.Debug(ctx, "replayed delivery", "key", req.IdempotencyKey)
			return resp, nil
		}
	}

	resp := a.apply(ctx, req)
	if dedup != "" {
		a.seen.Add(dedup, resp)
	}
	return resp, nil
}

// Get returns a copy of the stored record.
func (a *Authority) Get(entityType, id string) (*Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[key{entityType, id}]
	if !ok {
		return nil, false
	}
	cp := *r
	cp.fieldTimes = nil
	return &cp, true
}

// Count returns the number of live records.
func (a *Authority) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, r := range a.records {
		if !r.Deleted {
			n++
		}
	}
	return n
}

func (a *Authority) apply(ctx context.Context, req *syncproto.PushRequest) *syncproto.PushResponse {
	k := key{req.EntityType, req.EntityID}
	cur := a.records[k]
	deleting := req.Operation == "delete"

	if !req.Force && cur != nil {
		if resp := a.detect(cur, req); resp != nil {
			a.logger.Info(ctx, "conflict detected", "type", req.EntityType, "id", req.EntityID,
				"op", req.Operation, "conflict", resp.ConflictType, "client", req.ClientID)
			return resp
		}
	}

	switch {
	case deleting && (cur == nil || cur.Deleted):
		return &syncproto.PushResponse{Success: true}
	case deleting:
		cur.Deleted = true
		cur.Data = nil
		cur.UpdatedAt = req.Timestamp
		cur.ClientID = req.ClientID
		a.logger.Debug(ctx, "record deleted", "type", req.EntityType, "id", req.EntityID)
		return &syncproto.PushResponse{Success: true}
	}

	if cur == nil {
		cur = &Record{}
		a.records[k] = cur
	}
	if cur.Deleted {
		cur.fieldTimes = nil
	}
	touch(cur, req)
	cur.Data = append(json.RawMessage(nil), req.Data...)
	cur.Deleted = false
	if req.Timestamp.After(cur.UpdatedAt) {
		cur.UpdatedAt = req.Timestamp
	}
	cur.ClientID = req.ClientID

	a.logger.Debug(ctx, "record stored", "type", req.EntityType, "id", req.EntityID, "op", req.Operation, "force", req.Force)
	return &syncproto.PushResponse{Success: true, Data: cur.Data}
}

// detect reports a conflict between an unforced write and the stored
// record, or nil if the write may proceed.
//
// A tombstone conflicts with any edit. Otherwise each field the write
// changes is checked: if the server changed it after the write was made
// the field conflicts. When every changed field conflicts the whole write
// is stale (timestamp); when only some do the edits can be merged (field).
func (a *Authority) detect(cur *Record, req *syncproto.PushRequest) *syncproto.PushResponse {
	if cur.Deleted {
		if req.Operation == "delete" {
			return nil
		}
		return conflict(syncproto.ConflictDeletion, nil)
	}

	if req.Operation == "delete" {
		if cur.UpdatedAt.After(req.Timestamp) {
			return conflict(syncproto.ConflictTimestamp, cur.Data)
		}
		return nil
	}

	changed := diff(cur.Data, req.Data)
	if len(changed) == 0 {
		return nil
	}

	stale := 0
	for _, f := range changed {
		if t, ok := cur.fieldTimes[f]; ok && t.After(req.Timestamp) {
			stale++
		}
	}
	switch {
	case stale == 0:
		return nil
	case stale == len(changed):
		return conflict(syncproto.ConflictTimestamp, cur.Data)
	default:
		return conflict(syncproto.ConflictField, cur.Data)
	}
}

func conflict(ct string, server json.RawMessage) *syncproto.PushResponse {
	return &syncproto.PushResponse{Conflict: true, ConflictType: ct, ServerData: server}
}

// touch stamps the fields req changes with its origin time.
func touch(cur *Record, req *syncproto.PushRequest) {
	if cur.fieldTimes == nil {
		cur.fieldTimes = make(map[string]time.Time)
	}
	for _, f := range diff(cur.Data, req.Data) {
		cur.fieldTimes[f] = req.Timestamp
	}
}

// diff lists the top-level fields whose raw JSON differs between a and b,
// including fields present on one side only.
func diff(a, b json.RawMessage) []string {
	left := fields(a)
	right := fields(b)

	var out []string
	for f, v := range right {
		if bookkeeping[f] {
			continue
		}
		if lv, ok := left[f]; !ok || lv != v {
			out = append(out, f)
		}
	}
	for f := range left {
		if _, ok := right[f]; !ok && !bookkeeping[f] {
			out = append(out, f)
		}
	}
	return out
}

func fields(data json.RawMessage) map[string]string {
	out := make(map[string]string)
	if len(data) == 0 {
		return out
	}
	gjson.ParseBytes(data).ForEach(func(k, v gjson.Result) bool {
		out[k.String()] = v.Raw
		return true
	})
	return out
}

func validate(req *syncproto.PushRequest) error {
	var errs []common.FieldError
	switch req.Operation {
	case "create", "update", "upsert", "delete":
	default:
		errs = append(errs, common.FieldError{Field: "operation", Rule: "oneof", Message: "must be one of create update upsert delete"})
	}
	if !entityTypes[req.EntityType] {
		errs = append(errs, common.FieldError{Field: "entityType", Rule: "oneof", Message: "unknown entity type"})
	}
	if req.EntityID == "" {
		errs = append(errs, common.FieldError{Field: "entityId", Rule: "required", Message: "is required"})
	}
	if req.Operation != "delete" && req.Operation != "" {
		doc := gjson.ParseBytes(req.Data)
		switch {
		case !doc.IsObject():
			errs = append(errs, common.FieldError{Field: "data", Rule: "object", Message: "must be a JSON object"})
		case doc.Get("id").String() != req.EntityID:
			errs = append(errs, common.FieldError{Field: "data.id", Rule: "eqfield", Message: "must match entityId"})
		}
	}
	if len(errs) > 0 {
		return common.NewValidationError("push request", errs)
	}
	return nil
}
