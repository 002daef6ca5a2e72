package entities

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
	"github.com/tidwall/gjson"
)

// Store describes durable keyed storage of records per collection.
type Store interface {
	Create(ctx context.Context, e models.Entity) error
	Read(ctx context.Context, c models.Collection, id string) (*Record, error)
	Update(ctx context.Context, e models.Entity) error
	// Upsert reports whether the record was created.
	Upsert(ctx context.Context, e models.Entity) (bool, error)
	Delete(ctx context.Context, c models.Collection, id string) error

	FindAll(ctx context.Context, c models.Collection, opts FindOptions) ([]*Record, error)
	FindByIndex(ctx context.Context, c models.Collection, field string, m Matcher) ([]*Record, error)
	AdvancedQuery(ctx context.Context, c models.Collection, q query.Query) (*query.Result, error)
	Count(ctx context.Context, c models.Collection) (int, error)
	Clear(ctx context.Context, c models.Collection) error

	AuditLog(ctx context.Context, entityID string, limit int) ([]models.AuditEntry, error)
}

// Record is a stored document together with its bookkeeping columns.
type Record struct {
	Collection    models.Collection
	ID            string
	Data          json.RawMessage
	SchemaVersion string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Get reads a dotted path from the document.
func (r *Record) Get(path string) gjson.Result {
	return gjson.GetBytes(r.Data, path)
}

// Map decodes the document into its generic form.
func (r *Record) Map() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(r.Data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FindOptions narrows and orders a full collection scan. Records come back
// in creation order unless Less is set.
type FindOptions struct {
	Filter func(*Record) bool
	Less   func(a, b *Record) bool
	Limit  int
	Offset int
}

// Matcher is a predicate on the values of one indexed field. Set conditions
// are combined with AND; an empty Matcher matches every record that has a
// value for the field. Array fields match when any element does.
//
// Operands may be strings, numbers, booleans or time.Time. Timestamps,
// whether given as time.Time or RFC 3339 strings, compare chronologically.
type Matcher struct {
	Eq    any
	In    []any
	Gt    any
	Gte   any
	Lt    any
	Lte   any
	Regex string
}
