package services

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/migrations"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/audit"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/backups"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/schema"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	db        *sql.DB
	clock     *testClock
	registry  *schema.Registry
	store     *entities.SQLiteStore
	dm        *DataManager
	queue     *syncqueue.SQLiteRepository
	conflicts *conflicts.SQLiteRepository
	meta      *metadata.SQLiteRepository
	backups   *backups.SQLiteRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, migrations.Up(context.Background(), db, logging.Nop()))

	clock := newTestClock()
	registry := schema.NewRegistry(schema.WithClock(clock.Now))
	store := entities.NewSQLiteStore(db, logging.Nop(),
		entities.WithClock(clock.Now),
		entities.WithAuditRepository(audit.NewSQLiteRepository(db)))

	return &testEnv{
		db:        db,
		clock:     clock,
		registry:  registry,
		store:     store,
		dm:        NewDataManager(registry, store, logging.Nop(), WithDataManagerClock(clock.Now)),
		queue:     syncqueue.NewSQLiteRepository(db),
		conflicts: conflicts.NewSQLiteRepository(db),
		meta:      metadata.NewSQLiteRepository(db),
		backups:   backups.NewSQLiteRepository(db),
	}
}

// newEngine wires a sync engine to the env with short delays, starting
// online, and attaches it to the data manager.
func (e *testEnv) newEngine(t *testing.T, remote *fakeRemote, mutate ...func(*SyncConfig)) *SyncEngine {
	t.Helper()

	cfg := DefaultSyncConfig()
	cfg.BatchDelay = 0
	cfg.RetryBaseDelay = time.Second
	cfg.UserOwned = map[models.EntityType][]string{}
	for _, typ := range models.EntityTypes {
		s, _ := e.registry.Schema(typ)
		cfg.UserOwned[typ] = s.UserOwned
	}
	for _, fn := range mutate {
		fn(&cfg)
	}

	engine := NewSyncEngine(cfg, remote, e.queue, e.conflicts, e.meta, e.dm, logging.Nop(),
		WithSyncClock(e.clock.Now), WithInitialOnline(true))
	require.NoError(t, engine.Init(context.Background()))
	e.dm.SetSyncer(engine)
	return engine
}

type fakeRemote struct {
	mu       sync.Mutex
	pingErr  error
	handler  func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error)
	requests []syncproto.PushRequest
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeRemote) Push(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	h := f.handler
	f.mu.Unlock()

	if h == nil {
		return &syncproto.PushResponse{Success: true, Data: req.Data}, nil
	}
	return h(ctx, req)
}

func (f *fakeRemote) setHandler(h func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error)) {
	f.mu.Lock()
	f.handler = h
	f.mu.Unlock()
}

func (f *fakeRemote) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) sent() []syncproto.PushRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syncproto.PushRequest(nil), f.requests...)
}

type recordingSyncer struct {
	mu        sync.Mutex
	mutations []Mutation
}

func (r *recordingSyncer) Submit(ctx context.Context, m Mutation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations = append(r.mutations, m)
	return nil
}

func (r *recordingSyncer) all() []Mutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mutation(nil), r.mutations...)
}
