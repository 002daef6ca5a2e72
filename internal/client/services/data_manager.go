package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/query"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/schema"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
)

// Syncer accepts committed local mutations for delivery to the remote.
type Syncer interface {
	Submit(ctx context.Context, m Mutation) error
}

// DataManager is the read/write facade over the local store. Writes are
// serialised; change events are emitted while the write lock is held, so
// listeners must not call mutating methods synchronously.
type DataManager struct {
	mu sync.Mutex

	registry *schema.Registry
	store    entities.Store
	cache    *recordCache
	events   *emitter
	syncer   Syncer
	logger   logging.Logger
	now      func() time.Time
}

type DataManagerOption func(*DataManager)

func WithCacheTTL(ttl time.Duration) DataManagerOption {
	return func(m *DataManager) { m.cache = newRecordCache(ttl) }
}

func WithSyncer(s Syncer) DataManagerOption {
	return func(m *DataManager) { m.syncer = s }
}

func WithDataManagerClock(now func() time.Time) DataManagerOption {
	return func(m *DataManager) { m.now = now }
}

func NewDataManager(registry *schema.Registry, store entities.Store, logger logging.Logger, opts ...DataManagerOption) *DataManager {
	logger = logger.With("module", "data")
	m := &DataManager{
		registry: registry,
		store:    store,
		cache:    newRecordCache(DefaultCacheTTL),
		events:   newEmitter(logger),
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetSyncer attaches the sync engine after construction, since the engine
// itself depends on the data manager.
func (m *DataManager) SetSyncer(s Syncer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncer = s
}

// Init rewrites stored records that were written under an older schema
// version and returns how many were migrated.
func (m *DataManager) Init(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	migrated := 0
	for _, t := range models.EntityTypes {
		recs, err := m.store.FindAll(ctx, t.Collection(), entities.FindOptions{})
		if err != nil {
			return migrated, fmt.Errorf("error scanning %s: %w", t.Collection(), err)
		}
		for _, rec := range recs {
			e, changed, err := m.registry.Decode(t, rec.Data)
			if err != nil {
				m.logger.Warn(ctx, "skipping undecodable record", "collection", rec.Collection, "id", rec.ID, "error", err)
				continue
			}
			if !changed {
				continue
			}
			if err := m.store.Update(ctx, e); err != nil {
				return migrated, fmt.Errorf("error migrating %s: %w", rec.ID, err)
			}
			migrated++
		}
		m.cache.invalidate(t.Collection())
	}

	if migrated > 0 {
		m.logger.Info(ctx, "schema migration complete", "migrated", migrated, "version", models.CurrentSchemaVersion)
	}
	return migrated, nil
}

// On registers fn for events called name.
func (m *DataManager) On(name EventName, fn Listener) ListenerID {
	return m.events.on(name, fn)
}

// OnAll registers fn for every event. Remove it with Off(AllEvents, id).
func (m *DataManager) OnAll(fn Listener) ListenerID {
	return m.events.on(AllEvents, fn)
}

// Off removes a listener and reports whether it was registered.
func (m *DataManager) Off(name EventName, id ListenerID) bool {
	return m.events.off(name, id)
}

// InvalidateAll drops every cached read, e.g. after a restore rewrote the
// store underneath the manager.
func (m *DataManager) InvalidateAll() {
	m.cache.invalidateAll()
}

// List returns every record of type t. With useCache a read from the last
// five minutes may be served, never one older than the last write.
func (m *DataManager) List(ctx context.Context, t models.EntityType, useCache bool) ([]models.Entity, error) {
	coll := t.Collection()
	if coll == "" {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}

	if useCache {
		if recs, ok := m.cache.get(coll, allKey); ok {
			return m.decodeAll(ctx, t, recs), nil
		}
	}

	gen := m.cache.generation(coll)
	recs, err := m.store.FindAll(ctx, coll, entities.FindOptions{})
	if err != nil {
		return nil, err
	}
	m.cache.put(coll, allKey, gen, recs)
	return m.decodeAll(ctx, t, recs), nil
}

// Get returns one record, through the cache.
func (m *DataManager) Get(ctx context.Context, t models.EntityType, id string) (models.Entity, error) {
	coll := t.Collection()
	if coll == "" {
		return nil, fmt.Errorf("unknown entity type %q", t)
	}

	if recs, ok := m.cache.get(coll, id); ok && len(recs) == 1 {
		e, _, err := m.registry.Decode(t, recs[0].Data)
		return e, err
	}

	gen := m.cache.generation(coll)
	rec, err := m.store.Read(ctx, coll, id)
	if err != nil {
		return nil, err
	}
	m.cache.put(coll, id, gen, []*entities.Record{rec})

	e, _, err := m.registry.Decode(t, rec.Data)
	return e, err
}

// Create validates data as a new record of type t and stores it.
func (m *DataManager) Create(ctx context.Context, t models.EntityType, data map[string]any) (models.Entity, error) {
	e, err := m.registry.Create(t, data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Create(ctx, e); err != nil {
		return nil, err
	}
	m.committed(ctx, models.OpCreate, e, nil, SourceLocal)
	return e, nil
}

// Update applies patch to the stored record. The whole resulting record is
// revalidated.
func (m *DataManager) Update(ctx context.Context, t models.EntityType, id string, patch map[string]any) (models.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.load(ctx, t, id)
	if err != nil {
		return nil, err
	}
	next, err := m.registry.Update(prev, patch)
	if err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, next); err != nil {
		return nil, err
	}
	m.committed(ctx, models.OpUpdate, next, prev, SourceLocal)
	return next, nil
}

func (m *DataManager) Delete(ctx context.Context, t models.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.load(ctx, t, id)
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, t.Collection(), id); err != nil {
		return err
	}
	m.committed(ctx, models.OpDelete, nil, prev, SourceLocal)
	return nil
}

// ApplyRemote writes data received from the remote authority without
// handing it back to the sync engine.
func (m *DataManager) ApplyRemote(ctx context.Context, t models.EntityType, id string, data json.RawMessage, deleted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if deleted {
		prev, err := m.load(ctx, t, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := m.store.Delete(ctx, t.Collection(), id); err != nil {
			return err
		}
		m.committed(ctx, models.OpDelete, nil, prev, SourceRemote)
		return nil
	}

	e, _, err := m.registry.Decode(t, data)
	if err != nil {
		return err
	}
	if e.GetBase().ID != id {
		return fmt.Errorf("remote %s data carries id %q, want %q", t, e.GetBase().ID, id)
	}
	if errs := m.registry.Validate(e); len(errs) > 0 {
		return common.NewValidationError(string(t), errs)
	}

	prev, err := m.load(ctx, t, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	if _, err := m.store.Upsert(ctx, e); err != nil {
		return err
	}

	op := models.OpUpdate
	if prev == nil {
		op = models.OpCreate
	}
	m.committed(ctx, op, e, prev, SourceRemote)
	return nil
}

// Query runs q over a snapshot of collection t.
func (m *DataManager) Query(ctx context.Context, t models.EntityType, q query.Query) (*query.Result, error) {
	docs, err := m.docs(ctx, t)
	if err != nil {
		return nil, err
	}
	return query.Execute(docs, q)
}

// AuditLog returns recent audit entries, optionally for one record.
func (m *DataManager) AuditLog(ctx context.Context, entityID string, limit int) ([]models.AuditEntry, error) {
	return m.store.AuditLog(ctx, entityID, limit)
}

// committed runs the post-commit steps of a write: cache invalidation,
// hand-off to the sync engine for local writes, then the change event.
func (m *DataManager) committed(ctx context.Context, op models.Operation, e, prev models.Entity, src EventSource) {
	subject := e
	if subject == nil {
		subject = prev
	}
	t := subject.EntityType()
	id := subject.GetBase().ID

	m.cache.invalidate(t.Collection())

	if src == SourceLocal && m.syncer != nil {
		mut := Mutation{EntityType: t, EntityID: id, Operation: op, Timestamp: m.now().UTC()}
		if e != nil {
			mut.Timestamp = e.GetBase().UpdatedAt
		}
		payload, err := json.Marshal(subject)
		if err == nil {
			mut.Payload = payload
			err = m.syncer.Submit(ctx, mut)
		}
		if err != nil {
			m.logger.Error(ctx, "failed to queue mutation", "type", t, "id", id, "op", op, "error", err)
		}
	}

	m.events.emit(ctx, ChangeEvent{
		Name:     eventNameFor(t, op),
		Type:     t,
		ID:       id,
		Entity:   e,
		Previous: prev,
		Source:   src,
	})
}

func (m *DataManager) load(ctx context.Context, t models.EntityType, id string) (models.Entity, error) {
	rec, err := m.store.Read(ctx, t.Collection(), id)
	if err != nil {
		return nil, err
	}
	e, _, err := m.registry.Decode(t, rec.Data)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", id, err)
	}
	return e, nil
}

func (m *DataManager) decodeAll(ctx context.Context, t models.EntityType, recs []*entities.Record) []models.Entity {
	out := make([]models.Entity, 0, len(recs))
	for _, rec := range recs {
		e, _, err := m.registry.Decode(t, rec.Data)
		if err != nil {
			m.logger.Warn(ctx, "skipping undecodable record", "collection", rec.Collection, "id", rec.ID, "error", err)
			continue
		}
		out = append(out, e)
	}
	return out
}

func (m *DataManager) docs(ctx context.Context, t models.EntityType) ([]query.Doc, error) {
	es, err := m.List(ctx, t, true)
	if err != nil {
		return nil, err
	}
	docs := make([]query.Doc, 0, len(es))
	for _, e := range es {
		d, err := models.ToMap(e)
		if err != nil {
			return nil, fmt.Errorf("error encoding %s: %w", e.GetBase().ID, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func as[T models.Entity](e models.Entity, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	v, ok := e.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected record type %T", e)
	}
	return v, nil
}

func listAs[T models.Entity](es []models.Entity, err error) ([]T, error) {
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(es))
	for _, e := range es {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *DataManager) GetPlants(ctx context.Context, useCache bool) ([]*models.Plant, error) {
	return listAs[*models.Plant](m.List(ctx, models.TypePlant, useCache))
}

func (m *DataManager) GetPlant(ctx context.Context, id string) (*models.Plant, error) {
	return as[*models.Plant](m.Get(ctx, models.TypePlant, id))
}

func (m *DataManager) CreatePlant(ctx context.Context, data map[string]any) (*models.Plant, error) {
	return as[*models.Plant](m.Create(ctx, models.TypePlant, data))
}

func (m *DataManager) UpdatePlant(ctx context.Context, id string, patch map[string]any) (*models.Plant, error) {
	return as[*models.Plant](m.Update(ctx, models.TypePlant, id, patch))
}

func (m *DataManager) DeletePlant(ctx context.Context, id string) error {
	return m.Delete(ctx, models.TypePlant, id)
}

func (m *DataManager) GetEvents(ctx context.Context, useCache bool) ([]*models.CalendarEvent, error) {
	return listAs[*models.CalendarEvent](m.List(ctx, models.TypeEvent, useCache))
}

func (m *DataManager) GetEvent(ctx context.Context, id string) (*models.CalendarEvent, error) {
	return as[*models.CalendarEvent](m.Get(ctx, models.TypeEvent, id))
}

func (m *DataManager) CreateEvent(ctx context.Context, data map[string]any) (*models.CalendarEvent, error) {
	return as[*models.CalendarEvent](m.Create(ctx, models.TypeEvent, data))
}

func (m *DataManager) UpdateEvent(ctx context.Context, id string, patch map[string]any) (*models.CalendarEvent, error) {
	return as[*models.CalendarEvent](m.Update(ctx, models.TypeEvent, id, patch))
}

func (m *DataManager) DeleteEvent(ctx context.Context, id string) error {
	return m.Delete(ctx, models.TypeEvent, id)
}

func (m *DataManager) GetPosts(ctx context.Context, useCache bool) ([]*models.CommunityPost, error) {
	return listAs[*models.CommunityPost](m.List(ctx, models.TypePost, useCache))
}

func (m *DataManager) GetPost(ctx context.Context, id string) (*models.CommunityPost, error) {
	return as[*models.CommunityPost](m.Get(ctx, models.TypePost, id))
}

func (m *DataManager) CreatePost(ctx context.Context, data map[string]any) (*models.CommunityPost, error) {
	return as[*models.CommunityPost](m.Create(ctx, models.TypePost, data))
}

func (m *DataManager) UpdatePost(ctx context.Context, id string, patch map[string]any) (*models.CommunityPost, error) {
	return as[*models.CommunityPost](m.Update(ctx, models.TypePost, id, patch))
}

func (m *DataManager) DeletePost(ctx context.Context, id string) error {
	return m.Delete(ctx, models.TypePost, id)
}

// GetSettings returns the settings singleton, creating it with defaults on
// first use.
func (m *DataManager) GetSettings(ctx context.Context) (*models.Settings, error) {
	s, err := as[*models.Settings](m.Get(ctx, models.TypeSettings, models.SettingsID))
	if err == nil || !errors.Is(err, common.ErrNotFound) {
		return s, err
	}

	e, err := m.registry.Create(models.TypeSettings, nil)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.load(ctx, models.TypeSettings, models.SettingsID)
	if err == nil {
		return as[*models.Settings](existing, nil)
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if err := m.store.Create(ctx, e); err != nil {
		return nil, err
	}
	m.committed(ctx, models.OpCreate, e, nil, SourceLocal)
	return as[*models.Settings](e, nil)
}

func (m *DataManager) UpdateSettings(ctx context.Context, patch map[string]any) (*models.Settings, error) {
	if _, err := m.GetSettings(ctx); err != nil {
		return nil, err
	}
	return as[*models.Settings](m.Update(ctx, models.TypeSettings, models.SettingsID, patch))
}
