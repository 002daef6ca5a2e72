// Package models defines the garden records persisted locally and the
// bookkeeping types owned by the sync and backup engines.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/common"
)

// EntityType classifies a record kind.
type EntityType string

const (
	TypePlant    EntityType = "plant"
	TypeEvent    EntityType = "event"
	TypePost     EntityType = "post"
	TypeSettings EntityType = "settings"
)

// EntityTypes lists every record kind in restore order.
var EntityTypes = []EntityType{TypePlant, TypeEvent, TypePost, TypeSettings}

// Collection names a container of records of one type.
type Collection string

const (
	CollectionPlants   Collection = "plants"
	CollectionEvents   Collection = "events"
	CollectionPosts    Collection = "posts"
	CollectionSettings Collection = "settings"
	CollectionAuditLog Collection = "auditLog"
)

// CurrentSchemaVersion is stamped on every new or migrated record.
const CurrentSchemaVersion = "1.1"

// SettingsID is the fixed id of the settings singleton.
const SettingsID = "settings_app"

// Collection returns the collection that stores records of type t.
func (t EntityType) Collection() Collection {
	switch t {
	case TypePlant:
		return CollectionPlants
	case TypeEvent:
		return CollectionEvents
	case TypePost:
		return CollectionPosts
	case TypeSettings:
		return CollectionSettings
	default:
		return ""
	}
}

// Valid reports whether t is a known record kind.
func (t EntityType) Valid() bool {
	return t.Collection() != ""
}

// TypeOf maps a collection back to its record type.
func TypeOf(c Collection) (EntityType, bool) {
	for _, t := range EntityTypes {
		if t.Collection() == c {
			return t, true
		}
	}
	return "", false
}

// Base carries the fields shared by every record.
type Base struct {
	ID            string    `json:"id" validate:"required,max=100"`
	CreatedAt     time.Time `json:"createdAt" validate:"required"`
	UpdatedAt     time.Time `json:"updatedAt" validate:"required,gtefield=CreatedAt"`
	SchemaVersion string    `json:"schemaVersion" validate:"required"`
}

func (b *Base) GetBase() *Base { return b }

// Entity is implemented by *Plant, *CalendarEvent, *CommunityPost and *Settings.
type Entity interface {
	EntityType() EntityType
	GetBase() *Base
}

// New returns an empty record of type t.
func New(t EntityType) (Entity, error) {
	switch t {
	case TypePlant:
		return &Plant{}, nil
	case TypeEvent:
		return &CalendarEvent{}, nil
	case TypePost:
		return &CommunityPost{}, nil
	case TypeSettings:
		return &Settings{}, nil
	default:
		return nil, fmt.Errorf("unknown entity type %q", t)
	}
}

// Decode unmarshals a stored JSON document into a record of type t.
func Decode(t EntityType, raw []byte) (Entity, error) {
	e, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return e, nil
}

// NewID returns a type-prefixed id of the form <type>_<unixms>_<hex>.
func NewID(t EntityType, now time.Time) string {
	if t == TypeSettings {
		return SettingsID
	}
	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		suffix = fmt.Sprintf("%08x", now.UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("%s_%d_%s", t, now.UnixMilli(), suffix)
}

// ToMap converts a record into a generic document, the shape the query
// engine and conflict merging operate on.
func ToMap(e Entity) (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
