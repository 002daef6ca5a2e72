package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/go-playground/validator/v10"
)

// immutable fields may be echoed back in a patch but never changed.
var immutable = []string{"id", "createdAt", "schemaVersion"}

type Registry struct {
	validate   *validator.Validate
	schemas    map[models.EntityType]*Schema
	migrations map[migrationKey]Migration
	now        func() time.Time
}

type Option func(*Registry)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMigration registers an additional schema migration edge.
func WithMigration(t models.EntityType, from string, m Migration) Option {
	return func(r *Registry) { r.migrations[migrationKey{t, from}] = m }
}

func NewRegistry(opts ...Option) *Registry {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("pattern", validatePattern)

	r := &Registry{
		validate:   v,
		schemas:    defaultSchemas(),
		migrations: defaultMigrations(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Schema returns the schema for t.
func (r *Registry) Schema(t models.EntityType) (*Schema, bool) {
	s, ok := r.schemas[t]
	return s, ok
}

// Validate returns every violated constraint of e, or nil.
func (r *Registry) Validate(e models.Entity) []common.FieldError {
	var errs []common.FieldError

	if err := r.validate.Struct(e); err != nil {
		errs = append(errs, fieldErrors(err)...)
	}
	if s, ok := r.schemas[e.EntityType()]; ok {
		for _, rule := range s.Rules {
			errs = append(errs, rule(e)...)
		}
	}
	return errs
}

// Create builds a new record of type t from partial data: defaults are
// filled in, id and timestamps stamped, and the result validated.
func (r *Registry) Create(t models.EntityType, data map[string]any) (models.Entity, error) {
	s, ok := r.schemas[t]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}

	doc := s.Defaults()
	for k, v := range data {
		if v == nil {
			continue
		}
		doc[k] = v
	}

	now := r.stamp()
	doc["id"] = models.NewID(t, now)
	doc["createdAt"] = now
	doc["updatedAt"] = now
	doc["schemaVersion"] = models.CurrentSchemaVersion

	e, err := r.decodeStrict(s, doc)
	if err != nil {
		return nil, err
	}
	if errs := r.Validate(e); len(errs) > 0 {
		return nil, common.NewValidationError(string(t), errs)
	}
	return e, nil
}

// Update shallow-merges patch into a copy of e, restamps updatedAt and
// re-validates the whole result. A nil value in patch clears the field.
// e itself is never modified.
func (r *Registry) Update(e models.Entity, patch map[string]any) (models.Entity, error) {
	t := e.EntityType()
	s, ok := r.schemas[t]
	if !ok {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}

	doc, err := models.ToMap(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}

	var errs []common.FieldError
	for _, k := range immutable {
		if v, ok := patch[k]; ok && !sameJSON(doc[k], v) {
			errs = append(errs, common.FieldError{Field: k, Rule: "immutable", Message: "cannot be changed"})
		}
	}
	if len(errs) > 0 {
		return nil, common.NewValidationError(string(t), errs)
	}

	for k, v := range patch {
		if k == "updatedAt" || slices.Contains(immutable, k) {
			continue
		}
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}

	now := r.stamp()
	prev := e.GetBase().UpdatedAt
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	doc["updatedAt"] = now

	updated, err := r.decodeStrict(s, doc)
	if err != nil {
		return nil, err
	}
	if errs := r.Validate(updated); len(errs) > 0 {
		return nil, common.NewValidationError(string(t), errs)
	}
	return updated, nil
}

// Decode reads a stored document, applying pending schema migrations. The
// boolean reports whether the document was migrated and should be
// written back.
func (r *Registry) Decode(t models.EntityType, raw []byte) (models.Entity, bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", t, err)
	}

	migrated, err := r.Migrate(t, doc)
	if err != nil {
		return nil, false, err
	}
	if !migrated {
		e, err := models.Decode(t, raw)
		return e, false, err
	}

	b, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	e, err := models.Decode(t, b)
	return e, true, err
}

func (r *Registry) stamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

func (r *Registry) decodeStrict(s *Schema, doc map[string]any) (models.Entity, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, common.NewValidationError(string(s.Type), []common.FieldError{{Rule: "type", Message: err.Error()}})
	}

	e, err := models.New(s.Type)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(b))
	if !s.AllowAdditional {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(e); err != nil {
		return nil, common.NewValidationError(string(s.Type), []common.FieldError{decodeError(err)})
	}
	return e, nil
}

func decodeError(err error) common.FieldError {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) {
		return common.FieldError{Field: ute.Field, Rule: "type", Message: "must be " + ute.Type.String()}
	}

	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return common.FieldError{Field: strings.Trim(rest, `"`), Rule: "unknown", Message: "is not allowed"}
	}
	return common.FieldError{Rule: "type", Message: msg}
}

func fieldErrors(err error) []common.FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []common.FieldError{{Rule: "invalid", Message: err.Error()}}
	}

	out := make([]common.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, common.FieldError{
			Field:   fieldPath(fe.Namespace()),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// fieldPath turns "Plant.Base.id" or "Plant.care.sunlight" into a JSON path.
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	keep := parts[:0]
	for _, p := range parts {
		if p != "Base" {
			keep = append(keep, p)
		}
	}
	return strings.Join(keep, ".")
}

func message(fe validator.FieldError) string {
	kind := fe.Kind()
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "max":
		bound := "at least"
		if fe.Tag() == "max" {
			bound = "at most"
		}
		switch kind {
		case reflect.String:
			return fmt.Sprintf("must be %s %s characters", bound, fe.Param())
		case reflect.Slice, reflect.Array, reflect.Map:
			return fmt.Sprintf("must contain %s %s items", bound, fe.Param())
		default:
			return fmt.Sprintf("must be %s %s", bound, fe.Param())
		}
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a valid URL"
	case "pattern":
		return fmt.Sprintf("must match the %s format", fe.Param())
	case "unique":
		return "must not contain duplicates"
	case "gtefield":
		return fmt.Sprintf("must not be before %s", fe.Param())
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}
