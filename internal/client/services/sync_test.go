package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverCopy returns p as the server would hold it, with changes applied.
func serverCopy(t *testing.T, p *models.Plant, changes map[string]any) json.RawMessage {
	t.Helper()
	doc, err := models.ToMap(p)
	require.NoError(t, err)
	for k, v := range changes {
		doc[k] = v
	}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func queueItems(t *testing.T, env *testEnv) []models.SyncQueueItem {
	t.Helper()
	items, err := env.queue.List(context.Background(), 0)
	require.NoError(t, err)
	return items
}

func storedConflicts(t *testing.T, env *testEnv) []models.ConflictRecord {
	t.Helper()
	recs, err := env.conflicts.List(context.Background())
	require.NoError(t, err)
	return recs
}

// conflictUnlessForced answers every unforced push with a conflict of type
// ct and accepts forced pushes.
func conflictUnlessForced(ct models.ConflictType, server json.RawMessage) func(context.Context, *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	return func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		if req.Force {
			return &syncproto.PushResponse{Success: true, Data: req.Data}, nil
		}
		return &syncproto.PushResponse{Conflict: true, ConflictType: string(ct), ServerData: server}, nil
	}
}

func TestSync_OfflineWritesDrainWhenOnline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	status, err := engine.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
	assert.False(t, status.Online)
	assert.Nil(t, status.LastSync)
	assert.Equal(t, map[models.Operation]int{models.OpCreate: 1}, status.ByOperation)

	_, err = engine.ForceSyncNow(ctx)
	assert.ErrorIs(t, err, common.ErrOffline)
	assert.Empty(t, remote.sent())

	engine.SetOnline(true)
	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Attempted)
	assert.Equal(t, 1, report.Delivered)

	sent := remote.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, string(models.OpCreate), sent[0].Operation)
	assert.Equal(t, string(models.TypePlant), sent[0].EntityType)
	assert.Equal(t, p.ID, sent[0].EntityID)
	assert.Equal(t, engine.ClientID(), sent[0].ClientID)
	assert.NotEmpty(t, sent[0].IdempotencyKey)
	assert.False(t, sent[0].Force)

	assert.Empty(t, queueItems(t, env))
	status, err = engine.GetQueueStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, status.LastSync)
	assert.Equal(t, env.clock.Now(), *status.LastSync)

	last, err := env.meta.GetTime(ctx, metadata.KeyLastSync)
	require.NoError(t, err)
	assert.True(t, last.Equal(env.clock.Now()))
}

func TestSync_QueueKeepsOneItemPerOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{})
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	for _, status := range []string{"flowering", "fruiting", "harvested"} {
		env.clock.Advance(time.Second)
		_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"status": status})
		require.NoError(t, err)
	}

	items := queueItems(t, env)
	require.Len(t, items, 2)
	assert.Equal(t, models.OpCreate, items[0].Operation)
	assert.Equal(t, models.OpUpdate, items[1].Operation)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(items[1].Payload, &payload))
	assert.Equal(t, "harvested", payload["status"])
}

func TestSync_QueueCapEvictsOldest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{}, func(c *SyncConfig) { c.MaxQueueSize = 2 })
	engine.SetOnline(false)

	var ids []string
	for _, name := range []string{"Tomato", "Basil", "Mint"} {
		env.clock.Advance(time.Second)
		p, err := env.dm.CreatePlant(ctx, map[string]any{"name": name})
		require.NoError(t, err)
		ids = append(ids, p.ID)
	}

	items := queueItems(t, env)
	require.Len(t, items, 2)
	assert.Equal(t, ids[1], items[0].EntityID)
	assert.Equal(t, ids[2], items[1].EntityID)

	status, err := engine.GetQueueStatus(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Evicted)

	v, err := env.meta.Get(ctx, metadata.KeyEvicted)
	require.NoError(t, err)
	assert.Equal(t, "1", string(v))
}

func TestSync_FieldConflictKeepsLocalStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	server := serverCopy(t, p, map[string]any{"type": "fruit", "imageUrl": "https://example.com/tomato.png"})
	remote.setHandler(conflictUnlessForced(models.ConflictField, server))

	env.clock.Advance(time.Minute)
	_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"status": "flowering"})
	require.NoError(t, err)

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Delivered)
	assert.Zero(t, report.Conflicts)

	assert.Empty(t, queueItems(t, env))
	assert.Empty(t, storedConflicts(t, env))

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFlowering, got.Status)
	assert.Equal(t, models.PlantFruit, got.Type)
	assert.Equal(t, "https://example.com/tomato.png", got.ImageURL)

	sent := remote.sent()
	forced := sent[len(sent)-1]
	assert.True(t, forced.Force)
	assert.Equal(t, string(models.OpUpsert), forced.Operation)
}

func TestSync_TimestampConflictServerNewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"name": "Local Tomato"})
	require.NoError(t, err)

	server := serverCopy(t, p, map[string]any{
		"name":      "Server Tomato",
		"updatedAt": env.clock.Now().Add(time.Hour).Format(time.RFC3339Nano),
	})
	remote.setHandler(conflictUnlessForced(models.ConflictTimestamp, server))

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Zero(t, report.Delivered)

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Server Tomato", got.Name)
	assert.Empty(t, queueItems(t, env), "applying the server copy must not queue it again")
}

func TestSync_TimestampConflictLocalNewer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"name": "Local Tomato"})
	require.NoError(t, err)

	server := serverCopy(t, p, map[string]any{"name": "Server Tomato"})
	remote.setHandler(conflictUnlessForced(models.ConflictTimestamp, server))

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Delivered)

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Local Tomato", got.Name)

	sent := remote.sent()
	forced := sent[len(sent)-1]
	assert.True(t, forced.Force)
	assert.Equal(t, string(models.OpUpdate), forced.Operation)
}

func TestSync_DeletionConflictResurrects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	remote.setHandler(conflictUnlessForced(models.ConflictDeletion, nil))
	env.clock.Advance(time.Minute)
	_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"notes": "still here"})
	require.NoError(t, err)

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Delivered)

	sent := remote.sent()
	forced := sent[len(sent)-1]
	assert.True(t, forced.Force)
	assert.Equal(t, string(models.OpUpsert), forced.Operation)
	assert.Empty(t, storedConflicts(t, env))
}

func TestSync_ForcedConflictIsEscalated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	server := serverCopy(t, p, map[string]any{"type": "fruit"})
	remote.setHandler(func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		return &syncproto.PushResponse{Conflict: true, ConflictType: string(models.ConflictField), ServerData: server}, nil
	})

	env.clock.Advance(time.Minute)
	_, err = env.dm.UpdatePlant(ctx, p.ID, map[string]any{"status": "flowering"})
	require.NoError(t, err)

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resolved)
	assert.Equal(t, 1, report.Conflicts)

	assert.Empty(t, queueItems(t, env))
	recs := storedConflicts(t, env)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ConflictField, recs[0].ConflictType)
	assert.True(t, recs[0].LocalItem.Force)
	assert.JSONEq(t, string(server), string(recs[0].ServerData))
}

func TestSync_RetriesThenEscalates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	remote.setHandler(func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		return nil, common.ErrNetwork
	})
	engine := env.newEngine(t, remote)

	_, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	for retry := 1; retry <= DefaultMaxRetries; retry++ {
		report, err := engine.ForceSyncNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)

		items := queueItems(t, env)
		require.Len(t, items, 1)
		assert.Equal(t, retry, items[0].RetryCount)
		assert.Equal(t, common.ErrNetwork.Error(), items[0].LastError)

		report, err = engine.ForceSyncNow(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Attempted, "item must wait out its backoff")

		env.clock.Advance(Backoff(retry, time.Second, DefaultRetryMaxDelay))
	}

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	assert.Empty(t, queueItems(t, env))
	recs := storedConflicts(t, env)
	require.Len(t, recs, 1)
	assert.Equal(t, models.ConflictMaxRetriesExceeded, recs[0].ConflictType)
	assert.Equal(t, DefaultMaxRetries+1, recs[0].LocalItem.RetryCount)

	// the user keeps the local copy once the server is reachable again
	remote.setHandler(nil)
	require.NoError(t, engine.ResolveConflict(ctx, recs[0].ID, Resolution{Strategy: ResolveKeepLocal}))
	assert.Empty(t, storedConflicts(t, env))

	items := queueItems(t, env)
	require.Len(t, items, 1)
	assert.True(t, items[0].Force)
	assert.Zero(t, items[0].RetryCount)

	report, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Delivered)
	assert.Empty(t, queueItems(t, env))
}

func TestSync_RetriesExhaustedKeepServerKeepsLocal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	remote.setHandler(func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		return nil, common.ErrNetwork
	})
	engine := env.newEngine(t, remote)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	for retry := 1; retry <= DefaultMaxRetries; retry++ {
		_, err := engine.ForceSyncNow(ctx)
		require.NoError(t, err)
		env.clock.Advance(Backoff(retry, time.Second, DefaultRetryMaxDelay))
	}
	_, err = engine.ForceSyncNow(ctx)
	require.NoError(t, err)

	recs := storedConflicts(t, env)
	require.Len(t, recs, 1)
	require.Equal(t, models.ConflictMaxRetriesExceeded, recs[0].ConflictType)
	assert.True(t, isAbsent(recs[0].ServerData))

	require.NoError(t, engine.ResolveConflict(ctx, recs[0].ID, Resolution{Strategy: ResolveKeepServer}))
	assert.Empty(t, storedConflicts(t, env))
	assert.Empty(t, queueItems(t, env))

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err, "a transport failure is not a server delete")
	assert.Equal(t, p.Name, got.Name)
}

func TestSync_TimeoutIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	remote.setHandler(func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	engine := env.newEngine(t, remote, func(c *SyncConfig) { c.RequestTimeout = 20 * time.Millisecond })

	_, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	items := queueItems(t, env)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].LastError, common.ErrTimeout.Error())
}

func TestSync_RejectedMutationIsRetried(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	remote := &fakeRemote{}
	remote.setHandler(func(ctx context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
		return &syncproto.PushResponse{Error: "unknown entity type"}, nil
	})
	engine := env.newEngine(t, remote)

	_, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	report, err := engine.ForceSyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	items := queueItems(t, env)
	require.Len(t, items, 1)
	assert.Contains(t, items[0].LastError, "unknown entity type")
}

func saveConflict(t *testing.T, env *testEnv, p *models.Plant, ct models.ConflictType, server json.RawMessage) *models.ConflictRecord {
	t.Helper()
	payload, err := json.Marshal(p)
	require.NoError(t, err)

	rec := &models.ConflictRecord{
		ID: "conflict_1",
		LocalItem: models.SyncQueueItem{
			ID:              "q1",
			EntityType:      models.TypePlant,
			EntityID:        p.ID,
			Operation:       models.OpUpdate,
			Payload:         payload,
			OriginTimestamp: p.UpdatedAt,
			ClientID:        "client",
			State:           models.QueuePending,
		},
		ServerData:   server,
		ConflictType: ct,
		Timestamp:    env.clock.Now(),
	}
	require.NoError(t, env.conflicts.Save(context.Background(), rec))
	return rec
}

func TestSync_ResolveConflictKeepServer(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{})
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	before := len(queueItems(t, env))

	rec := saveConflict(t, env, p, models.ConflictTimestamp, serverCopy(t, p, map[string]any{"name": "Server Tomato"}))
	require.NoError(t, engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveKeepServer}))

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Server Tomato", got.Name)
	assert.Len(t, queueItems(t, env), before)
	assert.Empty(t, storedConflicts(t, env))

	err = engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveKeepServer})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSync_ResolveConflictKeepServerDeleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{})
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	rec := saveConflict(t, env, p, models.ConflictDeletion, nil)
	require.NoError(t, engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveKeepServer}))

	_, err = env.dm.GetPlant(ctx, p.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSync_ResolveConflictKeepServerWithoutServerCopy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{})
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	for _, ct := range []models.ConflictType{models.ConflictMaxRetriesExceeded, models.ConflictTimestamp} {
		rec := saveConflict(t, env, p, ct, nil)
		require.NoError(t, engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveKeepServer}), ct)

		got, err := env.dm.GetPlant(ctx, p.ID)
		require.NoError(t, err, "%s without a server copy must keep local data", ct)
		assert.Equal(t, p.Name, got.Name)
		assert.Empty(t, storedConflicts(t, env))
	}
}

func TestSync_ResolveConflictCustom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	engine := env.newEngine(t, &fakeRemote{})
	engine.SetOnline(false)

	p, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)
	for _, it := range queueItems(t, env) {
		require.NoError(t, env.queue.Remove(ctx, it.ID))
	}

	rec := saveConflict(t, env, p, models.ConflictTimestamp, serverCopy(t, p, map[string]any{"name": "Server Tomato"}))

	err = engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveCustom})
	assert.ErrorIs(t, err, common.ErrValidation)
	err = engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: "coin_flip"})
	assert.ErrorIs(t, err, common.ErrValidation)
	assert.Len(t, storedConflicts(t, env), 1)

	custom := serverCopy(t, p, map[string]any{"name": "Merged Tomato", "notes": "picked by hand"})
	require.NoError(t, engine.ResolveConflict(ctx, rec.ID, Resolution{Strategy: ResolveCustom, Data: custom}))

	got, err := env.dm.GetPlant(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Merged Tomato", got.Name)
	assert.Equal(t, "picked by hand", got.Notes)

	items := queueItems(t, env)
	require.Len(t, items, 1)
	assert.Equal(t, models.OpUpsert, items[0].Operation)
	assert.True(t, items[0].Force)
	assert.JSONEq(t, string(custom), string(items[0].Payload))
	assert.Empty(t, storedConflicts(t, env))
}

func TestSync_InitRecoversInterruptedDeliveries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.queue.Enqueue(ctx, &models.SyncQueueItem{
		ID:              "q1",
		EntityType:      models.TypePlant,
		EntityID:        "plant_1_abcd",
		Operation:       models.OpCreate,
		Payload:         json.RawMessage(`{}`),
		OriginTimestamp: env.clock.Now(),
		ClientID:        "client",
		State:           models.QueueSending,
	}, 0)
	require.NoError(t, err)

	first := env.newEngine(t, &fakeRemote{})
	items := queueItems(t, env)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueuePending, items[0].State)

	second := env.newEngine(t, &fakeRemote{})
	assert.NotEmpty(t, first.ClientID())
	assert.Equal(t, first.ClientID(), second.ClientID())
}

func TestSync_WorkerDrainsInBackground(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	remote := &fakeRemote{}
	engine := env.newEngine(t, remote)
	require.NoError(t, engine.Start(ctx))
	assert.Error(t, engine.Start(ctx))

	_, err := env.dm.CreatePlant(ctx, tomato())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		n, err := env.queue.Count(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, remote.sent(), 1)

	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())
}

func TestSync_WatcherTracksConnectivity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	remote := &fakeRemote{}
	remote.setPingErr(errors.New("no route to host"))
	engine := env.newEngine(t, remote)

	engine.checkConnectivity(ctx)
	assert.False(t, engine.IsOnline())

	remote.setPingErr(nil)
	engine.checkConnectivity(ctx)
	assert.True(t, engine.IsOnline())
}
