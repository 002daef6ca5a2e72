package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/client"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBatchSize           = 10
	DefaultBatchDelay          = 500 * time.Millisecond
	DefaultRequestTimeout      = 30 * time.Second
	DefaultSyncInterval        = 5 * time.Minute
	DefaultOnlineCheckInterval = 30 * time.Second
	DefaultMaxRetries          = 3
	DefaultRetryBaseDelay      = time.Second
	DefaultRetryMaxDelay       = 30 * time.Second
	DefaultMaxQueueSize        = 500
)

type SyncConfig struct {
	BatchSize           int
	BatchDelay          time.Duration
	RequestTimeout      time.Duration
	SyncInterval        time.Duration
	OnlineCheckInterval time.Duration
	MaxRetries          int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	MaxQueueSize        int
	// UserOwned lists, per record type, the fields whose local value wins
	// a field-level merge.
	UserOwned map[models.EntityType][]string
}

func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		BatchSize:           DefaultBatchSize,
		BatchDelay:          DefaultBatchDelay,
		RequestTimeout:      DefaultRequestTimeout,
		SyncInterval:        DefaultSyncInterval,
		OnlineCheckInterval: DefaultOnlineCheckInterval,
		MaxRetries:          DefaultMaxRetries,
		RetryBaseDelay:      DefaultRetryBaseDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		MaxQueueSize:        DefaultMaxQueueSize,
	}
}

// Mutation is a committed local write handed to the sync engine.
type Mutation struct {
	EntityType models.EntityType
	EntityID   string
	Operation  models.Operation
	Payload    json.RawMessage
	Timestamp  time.Time
}

// RemoteApplier writes server-side data into the local store without
// queueing it again.
type RemoteApplier interface {
	ApplyRemote(ctx context.Context, t models.EntityType, id string, data json.RawMessage, deleted bool) error
}

type Strategy string

const (
	ResolveKeepLocal  Strategy = "keep_local"
	ResolveKeepServer Strategy = "keep_server"
	ResolveCustom     Strategy = "custom"
)

// Resolution is a user's answer to a stored conflict. Data is required for
// ResolveCustom and holds the complete record to keep.
type Resolution struct {
	Strategy Strategy        `json:"strategy"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// SyncReport summarises one drain of the queue.
type SyncReport struct {
	Attempted int           `json:"attempted"`
	Delivered int           `json:"delivered"`
	Resolved  int           `json:"resolved"`
	Conflicts int           `json:"conflicts"`
	Failed    int           `json:"failed"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// SyncEngine delivers queued mutations to the remote authority. Items are
// persisted before any delivery attempt and leave the queue only when
// delivered, moved to the conflict store, or evicted by the size cap.
type SyncEngine struct {
	cfg       SyncConfig
	remote    client.Client
	queue     syncqueue.Repository
	conflicts conflicts.Repository
	meta      metadata.Repository
	applier   RemoteApplier
	resolver  *ConflictResolver
	logger    logging.Logger
	now       func() time.Time

	// drainMu admits one drain at a time.
	drainMu sync.Mutex

	mu       sync.Mutex
	online   bool
	syncing  bool
	clientID string
	lastSync *time.Time
	cancel   context.CancelFunc
	group    *errgroup.Group

	evicted atomic.Int64
	wake    chan struct{}
}

type SyncOption func(*SyncEngine)

func WithSyncClock(now func() time.Time) SyncOption {
	return func(e *SyncEngine) { e.now = now }
}

// WithInitialOnline sets the connectivity state assumed before the first
// check completes.
func WithInitialOnline(online bool) SyncOption {
	return func(e *SyncEngine) { e.online = online }
}

func NewSyncEngine(
	cfg SyncConfig,
	remote client.Client,
	queue syncqueue.Repository,
	conflictRepo conflicts.Repository,
	meta metadata.Repository,
	applier RemoteApplier,
	logger logging.Logger,
	opts ...SyncOption,
) *SyncEngine {
	e := &SyncEngine{
		cfg:       cfg,
		remote:    remote,
		queue:     queue,
		conflicts: conflictRepo,
		meta:      meta,
		applier:   applier,
		resolver:  NewConflictResolver(cfg.UserOwned),
		logger:    logger.With("module", "sync"),
		now:       time.Now,
		wake:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnsureClientID returns the persisted client id, generating one on first
// use.
func EnsureClientID(ctx context.Context, meta metadata.Repository) (string, error) {
	v, err := meta.Get(ctx, metadata.KeyClientID)
	if err != nil {
		return "", fmt.Errorf("error reading client id: %w", err)
	}
	if len(v) > 0 {
		return string(v), nil
	}

	id := uuid.NewString()
	if err := meta.Set(ctx, metadata.KeyClientID, []byte(id)); err != nil {
		return "", fmt.Errorf("error saving client id: %w", err)
	}
	return id, nil
}

// Init loads persisted engine state and returns items left in sending by
// an interrupted run to pending.
func (e *SyncEngine) Init(ctx context.Context) error {
	id, err := EnsureClientID(ctx, e.meta)
	if err != nil {
		return err
	}

	n, err := e.queue.ResetSending(ctx)
	if err != nil {
		return fmt.Errorf("error resetting queue: %w", err)
	}
	if n > 0 {
		e.logger.Info(ctx, "requeued interrupted deliveries", "count", n)
	}

	last, err := e.meta.GetTime(ctx, metadata.KeyLastSync)
	if err != nil {
		return err
	}

	evicted, err := e.meta.GetInt(ctx, metadata.KeyEvicted)
	if err != nil {
		e.logger.Warn(ctx, "ignoring stored eviction count", "error", err)
	}
	e.evicted.Store(evicted)

	e.mu.Lock()
	e.clientID = id
	if !last.IsZero() {
		e.lastSync = &last
	}
	e.mu.Unlock()
	return nil
}

// Start launches the queue worker and the connectivity watcher.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.group != nil {
		return errors.New("sync engine already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.runWorker(gctx) })
	g.Go(func() error { return e.runWatcher(gctx) })

	e.cancel = cancel
	e.group = g
	return nil
}

// Close stops background work and waits for it to finish.
func (e *SyncEngine) Close() error {
	e.mu.Lock()
	cancel, g := e.cancel, e.group
	e.cancel, e.group = nil, nil
	e.mu.Unlock()

	if g == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

func (e *SyncEngine) ClientID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clientID
}

func (e *SyncEngine) IsOnline() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline records the connectivity state. Going online wakes the worker.
func (e *SyncEngine) SetOnline(online bool) {
	e.mu.Lock()
	changed := e.online != online
	e.online = online
	e.mu.Unlock()

	if !changed {
		return
	}
	e.logger.Info(context.Background(), "connectivity changed", "online", online)
	if online {
		e.trigger()
	}
}

// Submit persists m in the outbound queue and wakes the worker when online.
func (e *SyncEngine) Submit(ctx context.Context, m Mutation) error {
	item := &models.SyncQueueItem{
		ID:              uuid.NewString(),
		EntityType:      m.EntityType,
		EntityID:        m.EntityID,
		Operation:       m.Operation,
		Payload:         m.Payload,
		OriginTimestamp: m.Timestamp.UTC(),
		ClientID:        e.ClientID(),
		State:           models.QueuePending,
	}
	if item.OriginTimestamp.IsZero() {
		item.OriginTimestamp = e.now().UTC()
	}

	if err := e.enqueue(ctx, item); err != nil {
		return err
	}
	e.trigger()
	return nil
}

// ForceSyncNow drains the queue immediately, waiting for a running drain
// to finish first.
func (e *SyncEngine) ForceSyncNow(ctx context.Context) (*SyncReport, error) {
	if !e.IsOnline() {
		return nil, common.ErrOffline
	}

	e.drainMu.Lock()
	defer e.drainMu.Unlock()
	return e.drain(ctx)
}

func (e *SyncEngine) GetQueueStatus(ctx context.Context) (*models.QueueStatus, error) {
	pending, err := e.queue.Count(ctx)
	if err != nil {
		return nil, err
	}
	byOp, err := e.queue.CountByOperation(ctx)
	if err != nil {
		return nil, err
	}
	oldest, err := e.queue.Oldest(ctx)
	if err != nil {
		return nil, err
	}
	nConflicts, err := e.conflicts.Count(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return &models.QueueStatus{
		Pending:     pending,
		Conflicts:   nConflicts,
		Evicted:     e.evicted.Load(),
		Online:      e.online,
		Syncing:     e.syncing,
		LastSync:    e.lastSync,
		OldestItem:  oldest,
		ByOperation: byOp,
	}, nil
}

func (e *SyncEngine) GetConflicts(ctx context.Context) ([]models.ConflictRecord, error) {
	return e.conflicts.List(ctx)
}

// ResolveConflict settles a stored conflict as the user decided and
// removes the record.
func (e *SyncEngine) ResolveConflict(ctx context.Context, id string, res Resolution) error {
	rec, err := e.conflicts.Get(ctx, id)
	if err != nil {
		return err
	}
	item := rec.LocalItem

	switch res.Strategy {
	case ResolveKeepLocal:
		if _, err := e.requeue(ctx, &item, item.Operation, item.Payload); err != nil {
			return err
		}
	case ResolveKeepServer:
		// Only a deletion conflict says the server dropped the record. Without
		// a server copy there is nothing to apply and local data stays.
		deleted := rec.ConflictType == models.ConflictDeletion
		if !deleted && isAbsent(rec.ServerData) {
			e.logger.Info(ctx, "no server copy to apply, keeping local data",
				"conflict", id, "conflictType", rec.ConflictType, "type", item.EntityType, "id", item.EntityID)
			break
		}
		if err := e.applier.ApplyRemote(ctx, item.EntityType, item.EntityID, rec.ServerData, deleted); err != nil {
			return fmt.Errorf("error applying server data: %w", err)
		}
	case ResolveCustom:
		if isAbsent(res.Data) {
			return fmt.Errorf("%w: custom resolution requires data", common.ErrValidation)
		}
		if err := e.applier.ApplyRemote(ctx, item.EntityType, item.EntityID, res.Data, false); err != nil {
			return fmt.Errorf("error applying resolved data: %w", err)
		}
		if _, err := e.requeue(ctx, &item, models.OpUpsert, res.Data); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown resolution strategy %q", common.ErrValidation, res.Strategy)
	}

	if err := e.conflicts.Delete(ctx, id); err != nil {
		return err
	}
	e.logger.Info(ctx, "conflict resolved", "conflict", id, "strategy", res.Strategy, "type", item.EntityType, "id", item.EntityID)
	e.trigger()
	return nil
}

func (e *SyncEngine) trigger() {
	if !e.IsOnline() {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *SyncEngine) enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	evicted, err := e.queue.Enqueue(ctx, item, e.cfg.MaxQueueSize)
	if err != nil {
		return fmt.Errorf("error queueing mutation: %w", err)
	}
	if len(evicted) == 0 {
		return nil
	}

	total := e.evicted.Add(int64(len(evicted)))
	for _, ev := range evicted {
		e.logger.Warn(ctx, "sync queue full, evicted oldest mutation",
			"type", ev.EntityType, "id", ev.EntityID, "op", ev.Operation,
			"origin", ev.OriginTimestamp, "evicted_total", total)
	}
	if err := e.meta.SetInt(ctx, metadata.KeyEvicted, total); err != nil {
		e.logger.Warn(ctx, "failed to persist eviction count", "error", err)
	}
	return nil
}

// requeue queues a forced copy of item carrying op and data. The copy
// starts with a fresh retry budget.
func (e *SyncEngine) requeue(ctx context.Context, item *models.SyncQueueItem, op models.Operation, data json.RawMessage) (*models.SyncQueueItem, error) {
	forced := *item
	forced.ID = uuid.NewString()
	forced.Seq = 0
	forced.Operation = op
	forced.Payload = data
	forced.Force = true
	forced.RetryCount = 0
	forced.LastAttempt = nil
	forced.LastError = ""
	forced.State = models.QueuePending
	forced.OriginTimestamp = e.now().UTC()
	if forced.ClientID == "" {
		forced.ClientID = e.ClientID()
	}
	if err := e.enqueue(ctx, &forced); err != nil {
		return nil, err
	}
	return &forced, nil
}

func (e *SyncEngine) runWorker(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.wake:
		case <-ticker.C:
		}

		if !e.IsOnline() || !e.drainMu.TryLock() {
			continue
		}
		_, err := e.drain(ctx)
		e.drainMu.Unlock()

		if err != nil && ctx.Err() == nil {
			e.logger.Error(ctx, "sync failed", "error", err)
		}
	}
}

func (e *SyncEngine) runWatcher(ctx context.Context) error {
	e.checkConnectivity(ctx)

	ticker := time.NewTicker(e.cfg.OnlineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.checkConnectivity(ctx)
		}
	}
}

func (e *SyncEngine) checkConnectivity(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	err := e.remote.Ping(pctx)
	cancel()

	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.logger.Debug(ctx, "remote unreachable", "error", err)
	}
	e.SetOnline(err == nil)
}

func (e *SyncEngine) setSyncing(v bool) {
	e.mu.Lock()
	e.syncing = v
	e.mu.Unlock()
}

// drain delivers ready items oldest first, in batches with a pause in
// between, until nothing is ready or the engine goes offline. Each item is
// attempted at most once per drain. Callers hold drainMu.
func (e *SyncEngine) drain(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{StartedAt: e.now().UTC()}
	e.setSyncing(true)
	defer e.setSyncing(false)

	seen := make(map[string]bool)
	for first := true; e.IsOnline(); first = false {
		items, err := e.queue.List(ctx, 0)
		if err != nil {
			return report, fmt.Errorf("error listing queue: %w", err)
		}
		batch := e.readyBatch(items, seen)
		if len(batch) == 0 {
			break
		}

		if !first && e.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(e.cfg.BatchDelay):
			}
		}

		for i := range batch {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			seen[batch[i].ID] = true
			if err := e.process(ctx, &batch[i], seen, report); err != nil {
				return report, err
			}
		}
	}

	report.Duration = e.now().Sub(report.StartedAt)
	if report.Attempted == 0 {
		return report, nil
	}

	last := e.now().UTC()
	e.mu.Lock()
	e.lastSync = &last
	e.mu.Unlock()
	if err := e.meta.SetTime(ctx, metadata.KeyLastSync, last); err != nil {
		e.logger.Warn(ctx, "failed to persist last sync time", "error", err)
	}

	e.logger.Info(ctx, "sync complete",
		"attempted", report.Attempted, "delivered", report.Delivered,
		"resolved", report.Resolved, "conflicts", report.Conflicts, "failed", report.Failed)
	return report, nil
}

func (e *SyncEngine) readyBatch(items []models.SyncQueueItem, seen map[string]bool) []models.SyncQueueItem {
	size := e.cfg.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	now := e.now()
	batch := make([]models.SyncQueueItem, 0, size)
	for _, it := range items {
		if seen[it.ID] || it.State != models.QueuePending {
			continue
		}
		if it.LastAttempt != nil && now.Before(it.LastAttempt.Add(e.backoff(it.RetryCount))) {
			continue
		}
		batch = append(batch, it)
		if len(batch) == size {
			break
		}
	}
	return batch
}

func (e *SyncEngine) backoff(retry int) time.Duration {
	return Backoff(retry, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)
}

// process performs one delivery attempt. Delivery failures are recorded on
// the item; only local storage failures are returned.
func (e *SyncEngine) process(ctx context.Context, item *models.SyncQueueItem, seen map[string]bool, report *SyncReport) error {
	report.Attempted++
	if err := e.queue.MarkSending(ctx, item.ID, e.now().UTC()); err != nil {
		return fmt.Errorf("error marking %s sending: %w", item.ID, err)
	}

	resp, err := e.send(ctx, item)
	switch {
	case err != nil:
		return e.failed(ctx, item, err, report)
	case resp.Success:
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return fmt.Errorf("error removing delivered %s: %w", item.ID, err)
		}
		report.Delivered++
		e.logger.Debug(ctx, "mutation delivered", "type", item.EntityType, "id", item.EntityID, "op", item.Operation)
		return nil
	case resp.Conflict:
		return e.conflicted(ctx, item, models.ConflictType(resp.ConflictType), resp.ServerData, seen, report)
	default:
		return e.failed(ctx, item, fmt.Errorf("remote rejected mutation: %s", resp.Error), report)
	}
}

func (e *SyncEngine) send(ctx context.Context, item *models.SyncQueueItem) (*syncproto.PushResponse, error) {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	resp, err := e.remote.Push(rctx, &syncproto.PushRequest{
		Operation:      string(item.Operation),
		EntityType:     string(item.EntityType),
		EntityID:       item.EntityID,
		Data:           item.Payload,
		Timestamp:      item.OriginTimestamp,
		ClientID:       item.ClientID,
		Force:          item.Force,
		IdempotencyKey: item.IdempotencyKey(),
	})
	if err != nil {
		if errors.Is(rctx.Err(), context.DeadlineExceeded) && !errors.Is(err, common.ErrTimeout) {
			return nil, fmt.Errorf("%w: %v", common.ErrTimeout, err)
		}
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("empty response from remote")
	}
	return resp, nil
}

func (e *SyncEngine) failed(ctx context.Context, item *models.SyncQueueItem, cause error, report *SyncReport) error {
	retry := item.RetryCount + 1
	if retry > e.cfg.MaxRetries {
		report.Conflicts++
		e.logger.Warn(ctx, "retries exhausted", "type", item.EntityType, "id", item.EntityID, "op", item.Operation, "error", cause)
		item.RetryCount = retry
		item.LastError = cause.Error()
		return e.escalate(ctx, item, models.ConflictMaxRetriesExceeded, nil)
	}

	report.Failed++
	e.logger.Warn(ctx, "delivery failed, will retry",
		"type", item.EntityType, "id", item.EntityID, "op", item.Operation,
		"retry", retry, "delay", e.backoff(retry), "error", cause)
	if err := e.queue.MarkFailed(ctx, item.ID, retry, cause.Error()); err != nil {
		return fmt.Errorf("error recording failure of %s: %w", item.ID, err)
	}
	return nil
}

func (e *SyncEngine) conflicted(ctx context.Context, item *models.SyncQueueItem, ct models.ConflictType, server json.RawMessage, seen map[string]bool, report *SyncReport) error {
	// a forced write that still conflicts goes to the user
	if item.Force {
		report.Conflicts++
		return e.escalate(ctx, item, ct, server)
	}

	dec, err := e.resolver.Resolve(item, ct, server)
	if err != nil {
		e.logger.Warn(ctx, "automatic resolution failed", "type", item.EntityType, "id", item.EntityID, "error", err)
		dec = Decision{Outcome: OutcomeManual}
	}
	e.logger.Debug(ctx, "conflict", "type", item.EntityType, "id", item.EntityID, "conflict", ct, "outcome", dec.Outcome)

	switch dec.Outcome {
	case OutcomeSettled:
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return err
		}
		report.Resolved++
		return nil

	case OutcomeKeepServer:
		if err := e.applier.ApplyRemote(ctx, item.EntityType, item.EntityID, dec.Data, false); err != nil {
			e.logger.Warn(ctx, "failed to apply server data", "id", item.EntityID, "error", err)
			report.Conflicts++
			return e.escalate(ctx, item, ct, server)
		}
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return err
		}
		report.Resolved++
		return nil

	case OutcomeKeepLocal:
		if dec.ApplyLocal {
			if err := e.applier.ApplyRemote(ctx, item.EntityType, item.EntityID, dec.Data, false); err != nil {
				e.logger.Warn(ctx, "failed to apply merged data", "id", item.EntityID, "error", err)
				report.Conflicts++
				return e.escalate(ctx, item, ct, server)
			}
		}
		if err := e.queue.Remove(ctx, item.ID); err != nil {
			return err
		}
		forced, err := e.requeue(ctx, item, dec.Operation, dec.Data)
		if err != nil {
			return err
		}
		report.Resolved++

		seen[forced.ID] = true
		return e.process(ctx, forced, seen, report)

	default:
		report.Conflicts++
		return e.escalate(ctx, item, ct, server)
	}
}

// escalate moves item from the queue into the conflict store.
func (e *SyncEngine) escalate(ctx context.Context, item *models.SyncQueueItem, ct models.ConflictType, server json.RawMessage) error {
	rec := &models.ConflictRecord{
		ID:           uuid.NewString(),
		LocalItem:    *item,
		ServerData:   server,
		ConflictType: ct,
		Timestamp:    e.now().UTC(),
	}
	rec.LocalItem.State = models.QueuePending

	if err := e.conflicts.Save(ctx, rec); err != nil {
		return fmt.Errorf("error saving conflict for %s: %w", item.ID, err)
	}
	if err := e.queue.Remove(ctx, item.ID); err != nil {
		return fmt.Errorf("error removing conflicted %s: %w", item.ID, err)
	}

	e.logger.Warn(ctx, "mutation needs manual resolution",
		"conflict", rec.ID, "reason", ct, "type", item.EntityType, "id", item.EntityID, "op", item.Operation)
	return nil
}
