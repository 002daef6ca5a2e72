package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/objectstore"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/backups"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/schema"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/compressx"
	"github.com/dmitrijs2005/gardenkeeper/internal/cryptox"
	"github.com/dmitrijs2005/gardenkeeper/internal/filex"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBackupRetention     = 10
	DefaultBackupInterval      = 24 * time.Hour
	DefaultBackupCheckInterval = time.Hour

	exportFormat  = "gardenkeeper-backup"
	exportVersion = 1
)

type BackupConfig struct {
	// Retention caps the number of automatic backups kept. Manual backups
	// are never evicted.
	Retention     int
	Interval      time.Duration
	CheckInterval time.Duration
	Compress      bool
}

func DefaultBackupConfig() BackupConfig {
	return BackupConfig{
		Retention:     DefaultBackupRetention,
		Interval:      DefaultBackupInterval,
		CheckInterval: DefaultBackupCheckInterval,
		Compress:      true,
	}
}

type BackupOptions struct {
	Type models.BackupType
	Note string
	// Uncompressed stores the payload as is even when compression is on.
	Uncompressed bool
}

type RestoreOptions struct {
	// DryRun verifies the backup and reports its contents without writing.
	DryRun bool
	// ClearExisting empties the collections before restoring, so records
	// absent from the backup are removed.
	ClearExisting bool
}

// RestoreResult reports a restore. Summary counts the records in the
// backup; the other counters are only filled by a real restore.
type RestoreResult struct {
	Valid          bool                 `json:"valid"`
	DryRun         bool                 `json:"dryRun"`
	Summary        models.BackupSummary `json:"summary"`
	Restored       models.BackupSummary `json:"restored"`
	Skipped        models.BackupSummary `json:"skipped"`
	Errored        models.BackupSummary `json:"errored"`
	SafetyBackupID string               `json:"safetyBackupId,omitempty"`
}

// Invalidator drops cached reads after the store was rewritten.
type Invalidator interface {
	InvalidateAll()
}

type exportEnvelope struct {
	Format  string        `json:"format"`
	Version int           `json:"version"`
	Backup  models.Backup `json:"backup"`
}

// BackupService snapshots and restores the primary collections.
type BackupService struct {
	cfg         BackupConfig
	registry    *schema.Registry
	store       entities.Store
	repo        backups.Repository
	meta        metadata.Repository
	invalidator Invalidator
	objects     objectstore.ObjectStore
	logger      logging.Logger
	now         func() time.Time

	// mu serialises snapshots and restores.
	mu sync.Mutex

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	group     *errgroup.Group
}

type BackupOption func(*BackupService)

func WithObjectStore(o objectstore.ObjectStore) BackupOption {
	return func(s *BackupService) { s.objects = o }
}

func WithBackupClock(now func() time.Time) BackupOption {
	return func(s *BackupService) { s.now = now }
}

func NewBackupService(
	cfg BackupConfig,
	registry *schema.Registry,
	store entities.Store,
	repo backups.Repository,
	meta metadata.Repository,
	invalidator Invalidator,
	logger logging.Logger,
	opts ...BackupOption,
) *BackupService {
	s := &BackupService{
		cfg:         cfg,
		registry:    registry,
		store:       store,
		repo:        repo,
		meta:        meta,
		invalidator: invalidator,
		logger:      logger.With("module", "backup"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBackup snapshots every collection. The checksum covers the
// uncompressed serialized snapshot.
func (s *BackupService) CreateBackup(ctx context.Context, opts BackupOptions) (*models.Backup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.create(ctx, opts)
}

// create stores a new backup and then applies retention. Backups named in
// keep are never evicted by that pass.
func (s *BackupService) create(ctx context.Context, opts BackupOptions, keep ...string) (*models.Backup, error) {
	if opts.Type == "" {
		opts.Type = models.BackupManual
	}

	data, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding snapshot: %w", err)
	}

	now := s.now().UTC()
	b := &models.Backup{
		ID:        newBackupID(now),
		CreatedAt: now,
		Type:      opts.Type,
		Checksum:  cryptox.Checksum(raw),
		Size:      int64(len(raw)),
		Note:      opts.Note,
		Payload:   raw,
	}
	if s.cfg.Compress && !opts.Uncompressed {
		b.Payload = compressx.Encode(raw)
		b.Compressed = true
	}

	if err := s.repo.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("error saving backup: %w", err)
	}
	if err := s.meta.SetTime(ctx, metadata.KeyLastBackup, now); err != nil {
		s.logger.Warn(ctx, "failed to record backup time", "error", err)
	}

	s.logger.Info(ctx, "backup created", "id", b.ID, "type", b.Type, "size", b.Size,
		"stored", len(b.Payload), "plants", len(data.Plants), "events", len(data.Events), "posts", len(data.Posts))

	s.enforceRetention(ctx, keep...)
	return b, nil
}

// VerifyBackup recomputes the checksum of a stored backup. A mismatch is
// reported as false, not as an error.
func (s *BackupService) VerifyBackup(ctx context.Context, id string) (bool, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if _, err := decodeBackup(b); err != nil {
		if errors.Is(err, common.ErrIntegrity) {
			s.logger.Warn(ctx, "backup failed verification", "id", id, "error", err)
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// RestoreFromBackup verifies the backup, takes a safety backup of the
// current state and restores each collection in turn. It fails with
// common.ErrIntegrity before touching anything if verification fails.
func (s *BackupService) RestoreFromBackup(ctx context.Context, id string, opts RestoreOptions) (*RestoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := decodeBackup(b)
	if err != nil {
		return nil, err
	}

	res := &RestoreResult{Valid: true, DryRun: opts.DryRun, Summary: summarize(data)}
	if opts.DryRun {
		return res, nil
	}

	safety, err := s.create(ctx, BackupOptions{Type: models.BackupAutomatic, Note: "pre-restore"}, id)
	if err != nil {
		return nil, fmt.Errorf("error creating safety backup: %w", err)
	}
	res.SafetyBackupID = safety.ID

	defer s.invalidator.InvalidateAll()

	if opts.ClearExisting {
		for _, t := range models.EntityTypes {
			if err := s.store.Clear(ctx, t.Collection()); err != nil {
				return res, fmt.Errorf("error clearing %s: %w", t.Collection(), err)
			}
		}
	}

	s.restoreAll(ctx, models.TypePlant, data.Plants, &res.Restored.Plants, &res.Skipped.Plants, &res.Errored.Plants)
	s.restoreAll(ctx, models.TypeEvent, data.Events, &res.Restored.Events, &res.Skipped.Events, &res.Errored.Events)
	s.restoreAll(ctx, models.TypePost, data.Posts, &res.Restored.Posts, &res.Skipped.Posts, &res.Errored.Posts)
	if !isAbsent(data.Settings) {
		s.restoreAll(ctx, models.TypeSettings, []json.RawMessage{data.Settings}, &res.Restored.Settings, &res.Skipped.Settings, &res.Errored.Settings)
	}

	s.logger.Info(ctx, "backup restored", "id", id, "safety", safety.ID,
		"restored", res.Restored, "skipped", res.Skipped, "errored", res.Errored)
	return res, nil
}

func (s *BackupService) ListBackups(ctx context.Context) ([]models.Backup, error) {
	return s.repo.List(ctx, "")
}

func (s *BackupService) DeleteBackup(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

// ExportBackup writes the backup, payload included, as a JSON document
// that ImportBackup accepts.
func (s *BackupService) ExportBackup(ctx context.Context, id string, w io.Writer) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exportEnvelope{Format: exportFormat, Version: exportVersion, Backup: *b}); err != nil {
		return fmt.Errorf("error writing backup: %w", err)
	}
	return nil
}

// ExportToFile writes the export document to <dir>/<id>.json and returns
// the path.
func (s *BackupService) ExportToFile(ctx context.Context, id, dir string) (string, error) {
	dir, err := filex.EnsureDir(dir)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := s.ExportBackup(ctx, id, &buf); err != nil {
		return "", err
	}

	path := filepath.Join(dir, id+".json")
	if err := filex.WriteFileAtomic(path, buf.Bytes(), 0o600); err != nil {
		return "", fmt.Errorf("error writing %s: %w", path, err)
	}
	return path, nil
}

// ImportBackup stores an exported backup after verifying it.
func (s *BackupService) ImportBackup(ctx context.Context, r io.Reader) (*models.Backup, error) {
	var env exportEnvelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: malformed export: %v", common.ErrIntegrity, err)
	}
	if env.Format != exportFormat {
		return nil, fmt.Errorf("%w: unknown export format %q", common.ErrIntegrity, env.Format)
	}
	if env.Version > exportVersion {
		return nil, fmt.Errorf("unsupported export version %d", env.Version)
	}

	b := env.Backup
	if b.ID == "" {
		return nil, fmt.Errorf("%w: export has no backup id", common.ErrIntegrity)
	}
	if _, err := decodeBackup(&b); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.repo.Get(ctx, b.ID); err == nil {
		return nil, fmt.Errorf("%w: backup %s", common.ErrDuplicateKey, b.ID)
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if err := s.repo.Save(ctx, &b); err != nil {
		return nil, fmt.Errorf("error saving backup: %w", err)
	}
	s.logger.Info(ctx, "backup imported", "id", b.ID, "type", b.Type)
	return &b, nil
}

// ExportToObjectStore uploads the export document under "<id>.json" and
// returns the key.
func (s *BackupService) ExportToObjectStore(ctx context.Context, id string) (string, error) {
	if s.objects == nil {
		return "", errors.New("object store is not configured")
	}

	var buf bytes.Buffer
	if err := s.ExportBackup(ctx, id, &buf); err != nil {
		return "", err
	}

	key := id + ".json"
	if err := s.objects.Put(ctx, key, buf.Bytes()); err != nil {
		return "", err
	}
	s.logger.Info(ctx, "backup uploaded", "id", id, "key", key)
	return key, nil
}

func (s *BackupService) ImportFromObjectStore(ctx context.Context, key string) (*models.Backup, error) {
	if s.objects == nil {
		return nil, errors.New("object store is not configured")
	}

	body, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.ImportBackup(ctx, bytes.NewReader(body))
}

// Start runs the auto-backup loop: every CheckInterval it creates an
// automatic backup if the last one is older than Interval.
func (s *BackupService) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.group != nil {
		return errors.New("backup service already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.autoBackup(gctx)

		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.autoBackup(gctx)
			}
		}
	})

	s.cancel = cancel
	s.group = g
	return nil
}

func (s *BackupService) Close() error {
	s.lifecycle.Lock()
	cancel, g := s.cancel, s.group
	s.cancel, s.group = nil, nil
	s.lifecycle.Unlock()

	if g == nil {
		return nil
	}
	cancel()
	return g.Wait()
}

// autoBackup creates an automatic backup when one is due. Failures are
// logged only.
func (s *BackupService) autoBackup(ctx context.Context) {
	due, err := s.backupDue(ctx)
	if err != nil {
		s.logger.Error(ctx, "auto-backup check failed", "error", err)
		return
	}
	if !due {
		return
	}
	if _, err := s.CreateBackup(ctx, BackupOptions{Type: models.BackupAutomatic}); err != nil && ctx.Err() == nil {
		s.logger.Error(ctx, "auto-backup failed", "error", err)
	}
}

func (s *BackupService) backupDue(ctx context.Context) (bool, error) {
	rec, err := s.store.Read(ctx, models.CollectionSettings, models.SettingsID)
	switch {
	case err == nil:
		if enabled := rec.Get("autoBackup"); enabled.Exists() && !enabled.Bool() {
			return false, nil
		}
	case !errors.Is(err, common.ErrNotFound):
		return false, err
	}

	last, err := s.meta.GetTime(ctx, metadata.KeyLastBackup)
	if err != nil {
		return false, err
	}
	return last.IsZero() || s.now().Sub(last) >= s.cfg.Interval, nil
}

func (s *BackupService) enforceRetention(ctx context.Context, keep ...string) {
	if s.cfg.Retention <= 0 {
		return
	}
	list, err := s.repo.List(ctx, models.BackupAutomatic)
	if err != nil {
		s.logger.Warn(ctx, "failed to list backups for retention", "error", err)
		return
	}
	for i := s.cfg.Retention; i < len(list); i++ {
		if slices.Contains(keep, list[i].ID) {
			continue
		}
		if err := s.repo.Delete(ctx, list[i].ID); err != nil {
			s.logger.Warn(ctx, "failed to evict backup", "id", list[i].ID, "error", err)
			continue
		}
		s.logger.Info(ctx, "evicted old automatic backup", "id", list[i].ID, "createdAt", list[i].CreatedAt)
	}
}

func (s *BackupService) snapshot(ctx context.Context) (*models.BackupData, error) {
	data := &models.BackupData{}
	lists := map[models.EntityType]*[]json.RawMessage{
		models.TypePlant: &data.Plants,
		models.TypeEvent: &data.Events,
		models.TypePost:  &data.Posts,
	}
	for t, dst := range lists {
		recs, err := s.store.FindAll(ctx, t.Collection(), entities.FindOptions{})
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", t.Collection(), err)
		}
		out := make([]json.RawMessage, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Data)
		}
		*dst = out
	}

	rec, err := s.store.Read(ctx, models.CollectionSettings, models.SettingsID)
	switch {
	case err == nil:
		data.Settings = rec.Data
	case !errors.Is(err, common.ErrNotFound):
		return nil, fmt.Errorf("error reading settings: %w", err)
	}
	return data, nil
}

// restoreAll writes each document of type t. Documents that fail to decode
// count as errored, those failing validation as skipped.
func (s *BackupService) restoreAll(ctx context.Context, t models.EntityType, docs []json.RawMessage, restored, skipped, errored *int) {
	for _, raw := range docs {
		e, _, err := s.registry.Decode(t, raw)
		if err != nil {
			*errored++
			s.logger.Warn(ctx, "restore: undecodable record", "type", t, "error", err)
			continue
		}
		if errs := s.registry.Validate(e); len(errs) > 0 {
			*skipped++
			s.logger.Warn(ctx, "restore: invalid record skipped", "type", t, "id", e.GetBase().ID,
				"error", common.NewValidationError(string(t), errs))
			continue
		}
		if _, err := s.store.Upsert(ctx, e); err != nil {
			*errored++
			s.logger.Warn(ctx, "restore: write failed", "type", t, "id", e.GetBase().ID, "error", err)
			continue
		}
		*restored++
	}
}

// decodeBackup returns the snapshot stored in b, failing with
// common.ErrIntegrity when the payload does not match its checksum.
func decodeBackup(b *models.Backup) (*models.BackupData, error) {
	raw := b.Payload
	if b.Compressed {
		var err error
		raw, err = compressx.Decode(b.Payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
		}
	}
	if !cryptox.VerifyChecksum(raw, b.Checksum) {
		return nil, fmt.Errorf("%w: checksum mismatch for %s", common.ErrIntegrity, b.ID)
	}

	var data models.BackupData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIntegrity, err)
	}
	return &data, nil
}

func summarize(d *models.BackupData) models.BackupSummary {
	sum := models.BackupSummary{
		Plants: len(d.Plants),
		Events: len(d.Events),
		Posts:  len(d.Posts),
	}
	if !isAbsent(d.Settings) {
		sum.Settings = 1
	}
	return sum
}

func newBackupID(now time.Time) string {
	suffix, err := common.MakeRandHexString(4)
	if err != nil {
		suffix = fmt.Sprintf("%08x", now.UnixNano()&0xffffffff)
	}
	return fmt.Sprintf("backup_%d_%s", now.UnixMilli(), suffix)
}
