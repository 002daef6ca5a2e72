package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/client"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/config"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/objectstore"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/audit"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/backups"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/conflicts"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/entities"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/repositories/syncqueue"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/schema"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/services"
	"github.com/dmitrijs2005/gardenkeeper/internal/logging"
	"golang.org/x/term"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// App owns the client's wiring: the local database, the data manager, the
// sync engine, and the backup service, plus the REPL's terminal I/O.
type App struct {
	config  *config.Config
	logger  logging.Logger
	reader  *bufio.Reader
	out     io.Writer
	data    *services.DataManager
	sync    *services.SyncEngine
	backups *services.BackupService

	// closed in reverse order
	closers []io.Closer
}

// remoteFactory builds the sync transport for a client id.
type remoteFactory func(c *config.Config, clientID string) (client.Client, error)

// NewApp opens the local store and wires every component. Nothing runs in
// the background until Run.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	return newApp(ctx, c, newRemote, os.Stdin, os.Stdout)
}

func newApp(ctx context.Context, c *config.Config, dial remoteFactory, in io.Reader, out io.Writer) (*App, error) {

	logger, logCloser := logging.New(logging.Options{
		Level:      c.LogLevel,
		File:       c.LogFile,
		MaxSizeMB:  10,
		MaxBackups: 3,
	})

	app := &App{
		config:  c,
		logger:  logger,
		reader:  bufio.NewReader(in),
		out:     out,
		closers: []io.Closer{logCloser},
	}

	if err := app.init(ctx, dial); err != nil {
		logger.Error(ctx, "client init failed", "error", err)
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) init(ctx context.Context, dial remoteFactory) error {
	db, err := client.InitDatabase(ctx, a.config.DatabasePath, a.logger)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	a.closers = append(a.closers, db)

	registry := schema.NewRegistry()
	store := entities.NewSQLiteStore(db, a.logger, entities.WithAuditRepository(audit.NewSQLiteRepository(db)))

	a.data = services.NewDataManager(registry, store, a.logger, services.WithCacheTTL(a.config.CacheTTL))
	migrated, err := a.data.Init(ctx)
	if err != nil {
		return fmt.Errorf("error migrating records: %w", err)
	}
	if migrated > 0 {
		a.logger.Info(ctx, "migrated records", "count", migrated)
	}

	meta := metadata.NewSQLiteRepository(db)
	clientID, err := services.EnsureClientID(ctx, meta)
	if err != nil {
		return err
	}

	remote, err := dial(a.config, clientID)
	if err != nil {
		return fmt.Errorf("error creating sync client: %w", err)
	}
	a.closers = append(a.closers, remote)

	a.sync = services.NewSyncEngine(syncConfig(a.config, registry), remote,
		syncqueue.NewSQLiteRepository(db), conflicts.NewSQLiteRepository(db), meta, a.data, a.logger)
	if err := a.sync.Init(ctx); err != nil {
		return fmt.Errorf("error initializing sync engine: %w", err)
	}
	a.data.SetSyncer(a.sync)

	var opts []services.BackupOption
	if a.config.S3.Bucket != "" {
		objects, err := a.newObjectStore(ctx)
		if err != nil {
			return fmt.Errorf("error creating object store: %w", err)
		}
		opts = append(opts, services.WithObjectStore(objects))
	}
	a.backups = services.NewBackupService(backupConfig(a.config), registry, store,
		backups.NewSQLiteRepository(db), meta, a.data, a.logger, opts...)

	return nil
}

func newRemote(c *config.Config, clientID string) (client.Client, error) {
	switch strings.ToLower(c.Transport) {
	case "", config.TransportGRPC:
		return client.NewGRPCClient(c.ServerEndpointAddr, clientID)
	case config.TransportHTTP:
		return client.NewHTTPClient(c.HTTPBaseURL, clientID, c.RequestTimeout), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}

// newObjectStore asks for the S3 secret on the terminal when only the
// access key is configured.
func (a *App) newObjectStore(ctx context.Context) (*objectstore.S3Store, error) {
	s3 := a.config.S3
	if s3.AccessKey != "" && s3.SecretKey == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		secret, err := GetSecret("S3 secret key", a.out)
		if err != nil {
			return nil, err
		}
		s3.SecretKey = secret
	}
	return objectstore.NewS3Store(ctx, objectstore.S3Config{
		Region:    s3.Region,
		Endpoint:  s3.Endpoint,
		AccessKey: s3.AccessKey,
		SecretKey: s3.SecretKey,
		Bucket:    s3.Bucket,
		Prefix:    s3.Prefix,
	})
}

func syncConfig(c *config.Config, registry *schema.Registry) services.SyncConfig {
	cfg := services.DefaultSyncConfig()
	if c.OnlineCheckInterval > 0 {
		cfg.OnlineCheckInterval = c.OnlineCheckInterval
	}
	if c.SyncInterval > 0 {
		cfg.SyncInterval = c.SyncInterval
	}
	if c.RequestTimeout > 0 {
		cfg.RequestTimeout = c.RequestTimeout
	}
	if c.BatchSize > 0 {
		cfg.BatchSize = c.BatchSize
	}
	if c.MaxRetries > 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.MaxQueueSize > 0 {
		cfg.MaxQueueSize = c.MaxQueueSize
	}
	cfg.UserOwned = make(map[models.EntityType][]string)
	for _, t := range models.EntityTypes {
		if s, ok := registry.Schema(t); ok {
			cfg.UserOwned[t] = s.UserOwned
		}
	}
	return cfg
}

func backupConfig(c *config.Config) services.BackupConfig {
	cfg := services.DefaultBackupConfig()
	if c.BackupRetention > 0 {
		cfg.Retention = c.BackupRetention
	}
	if c.BackupInterval > 0 {
		cfg.Interval = c.BackupInterval
	}
	return cfg
}

func (a *App) mode() Mode {
	if a.sync != nil && a.sync.IsOnline() {
		return ModeOnline
	}
	return ModeOffline
}

func (a *App) getStatus() string {
	return fmt.Sprintf("(%s)", a.mode())
}

// Run starts background sync and backups, then runs the REPL until the
// user exits or ctx ends. The app is closed on return.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	if err := a.sync.Start(ctx); err != nil {
		return err
	}
	if a.config.BackupInterval > 0 {
		if err := a.backups.Start(ctx); err != nil {
			return err
		}
	}

	fmt.Fprintln(a.out, "Welcome to GardenKeeper (type 'help' for commands)")
	runREPL(ctx, a.commands(), a.getStatus, a.reader, a.out)
	return nil
}

// Close stops background work and releases the database, the transport
// and the log file. It is safe to call more than once.
func (a *App) Close() error {
	var errs []error
	if a.sync != nil {
		errs = append(errs, a.sync.Close())
	}
	if a.backups != nil {
		errs = append(errs, a.backups.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}
