package cli

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/client/client"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/config"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/models"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/schema"
	"github.com/dmitrijs2005/gardenkeeper/internal/client/services"
	"github.com/dmitrijs2005/gardenkeeper/internal/common"
	"github.com/dmitrijs2005/gardenkeeper/internal/syncproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	mu     sync.Mutex
	pushed []syncproto.PushRequest
}

func (f *fakeRemote) Close() error                   { return nil }
func (f *fakeRemote) Ping(ctx context.Context) error { return nil }

func (f *fakeRemote) Push(_ context.Context, req *syncproto.PushRequest) (*syncproto.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, *req)
	return &syncproto.PushResponse{Success: true}, nil
}

func (f *fakeRemote) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushed)
}

func testConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.DatabasePath = ":memory:"
	cfg.LogFile = ""
	cfg.LogLevel = "error"
	cfg.BackupInterval = 0
	cfg.ExportDir = t.TempDir()
	return cfg
}

func newTestApp(t *testing.T) (*App, *bytes.Buffer, *fakeRemote) {
	t.Helper()
	remote := &fakeRemote{}
	var out bytes.Buffer

	app, err := newApp(context.Background(), testConfig(t),
		func(*config.Config, string) (client.Client, error) { return remote, nil },
		strings.NewReader(""), &out)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })
	return app, &out, remote
}

// feed makes the next prompts read lines.
func (a *App) feed(lines ...string) {
	a.reader = bufio.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

var createdID = regexp.MustCompile(`created (\S+)`)

func addPlant(t *testing.T, a *App, out *bytes.Buffer, name string) string {
	t.Helper()
	out.Reset()
	a.feed("name="+name, "type=vegetable", "status=growing", "location=bed 1", "")
	require.NoError(t, a.Add(context.Background(), []string{"plants"}))
	m := createdID.FindStringSubmatch(out.String())
	require.Len(t, m, 2, out.String())
	return m[1]
}

func TestApp_RecordCommands(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	id := addPlant(t, a, out, "Tomato")
	addPlant(t, a, out, "Basil")

	out.Reset()
	require.NoError(t, a.List(ctx, []string{"plant", "name=Tomato"}))
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "1 record(s)")

	out.Reset()
	a.feed("status=flowering", "")
	require.NoError(t, a.Edit(ctx, []string{"plant", id}))
	assert.Contains(t, out.String(), "updated "+id)

	out.Reset()
	require.NoError(t, a.Show(ctx, []string{"plant", id}))
	assert.Contains(t, out.String(), `"status": "flowering"`)

	out.Reset()
	require.NoError(t, a.Search(ctx, []string{"basil"}))
	assert.Contains(t, out.String(), "Basil")
	assert.NotContains(t, out.String(), "Tomato")

	out.Reset()
	require.NoError(t, a.History(ctx, []string{id}))
	assert.Contains(t, out.String(), "create")
	assert.Contains(t, out.String(), "update")

	require.NoError(t, a.Delete(ctx, []string{"plant", id}))
	require.ErrorIs(t, a.Show(ctx, []string{"plant", id}), common.ErrNotFound)
}

func TestApp_CommandErrors(t *testing.T) {
	a, _, _ := newTestApp(t)
	ctx := context.Background()

	assert.ErrorIs(t, a.List(ctx, nil), errUsage)
	assert.ErrorIs(t, a.Show(ctx, []string{"plant"}), errUsage)
	assert.ErrorIs(t, a.History(ctx, []string{"x", "many"}), errUsage)
	assert.ErrorIs(t, a.Restore(ctx, []string{"b1", "now"}), errUsage)
	assert.ErrorContains(t, a.List(ctx, []string{"trees"}), "unknown record type")

	a.feed("name=", "")
	assert.ErrorIs(t, a.Add(ctx, []string{"plant"}), common.ErrValidation)

	a.feed("{not json", "")
	assert.Error(t, a.Resolve(ctx, []string{"c1", "custom"}))
	assert.ErrorIs(t, a.Resolve(ctx, []string{"c1", "keep_local"}), common.ErrNotFound)
}

func TestApp_SettingsAndStats(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.Set(ctx, []string{"theme=dark"}))
	assert.Contains(t, out.String(), `"theme": "dark"`)

	out.Reset()
	require.NoError(t, a.Settings(ctx, nil))
	assert.Contains(t, out.String(), `"theme": "dark"`)

	addPlant(t, a, out, "Tomato")
	out.Reset()
	require.NoError(t, a.Stats(ctx, nil))
	assert.Contains(t, out.String(), `"total": 1`)
}

func TestApp_SyncCommands(t *testing.T) {
	a, out, remote := newTestApp(t)
	ctx := context.Background()

	addPlant(t, a, out, "Tomato")
	require.ErrorIs(t, a.Sync(ctx, nil), common.ErrOffline)

	a.sync.SetOnline(true)
	out.Reset()
	require.NoError(t, a.Sync(ctx, nil))
	assert.Contains(t, out.String(), "delivered 1")
	assert.Equal(t, 1, remote.count())

	out.Reset()
	require.NoError(t, a.Status(ctx, nil))
	assert.Contains(t, out.String(), "mode:      online")
	assert.Contains(t, out.String(), "pending:   0")

	out.Reset()
	require.NoError(t, a.Conflicts(ctx, nil))
	assert.Contains(t, out.String(), "KIND")
}

func TestApp_BackupCommands(t *testing.T) {
	a, out, _ := newTestApp(t)
	ctx := context.Background()
	addPlant(t, a, out, "Tomato")

	out.Reset()
	require.NoError(t, a.Backup(ctx, []string{"before", "spring"}))
	list, err := a.backups.ListBackups(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID
	assert.Equal(t, "before spring", list[0].Note)

	out.Reset()
	require.NoError(t, a.Backups(ctx, nil))
	assert.Contains(t, out.String(), id)

	out.Reset()
	require.NoError(t, a.Verify(ctx, []string{id}))
	assert.Contains(t, out.String(), "is intact")

	out.Reset()
	require.NoError(t, a.Restore(ctx, []string{id, "dry-run"}))
	assert.Contains(t, out.String(), `"dryRun": true`)

	out.Reset()
	require.NoError(t, a.Export(ctx, []string{id}))
	path := strings.TrimSpace(strings.TrimPrefix(out.String(), "exported to"))
	require.FileExists(t, path)

	require.NoError(t, a.RemoveBackup(ctx, []string{id}))

	out.Reset()
	require.NoError(t, a.Import(ctx, []string{path}))
	assert.Contains(t, out.String(), "imported backup "+id)

	assert.Error(t, a.Export(ctx, []string{id, "s3"}))
}

func TestApp_RunUntilExit(t *testing.T) {
	a, out, _ := newTestApp(t)
	a.feed("help", "exit")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx))

	assert.Contains(t, out.String(), "Welcome to GardenKeeper")
	assert.Contains(t, out.String(), "resolve <conflict id>")
	assert.Contains(t, out.String(), "Bye!")
	assert.NoError(t, a.Close())
}

func TestNewRemote(t *testing.T) {
	cfg := testConfig(t)

	cfg.Transport = config.TransportHTTP
	r, err := newRemote(cfg, "c1")
	require.NoError(t, err)
	assert.IsType(t, &client.HTTPClient{}, r)

	cfg.Transport = config.TransportGRPC
	r, err = newRemote(cfg, "c1")
	require.NoError(t, err)
	assert.IsType(t, &client.GRPCClient{}, r)
	require.NoError(t, r.Close())

	cfg.Transport = "carrier-pigeon"
	_, err = newRemote(cfg, "c1")
	assert.Error(t, err)
}

func TestSyncAndBackupConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 0
	cfg.MaxRetries = 5
	cfg.SyncInterval = 0
	cfg.RequestTimeout = 2 * time.Second

	sc := syncConfig(cfg, schema.NewRegistry())
	def := services.DefaultSyncConfig()
	assert.Equal(t, def.BatchSize, sc.BatchSize)
	assert.Equal(t, def.SyncInterval, sc.SyncInterval)
	assert.Equal(t, 5, sc.MaxRetries)
	assert.Equal(t, 2*time.Second, sc.RequestTimeout)
	assert.Equal(t, cfg.OnlineCheckInterval, sc.OnlineCheckInterval)
	assert.Contains(t, sc.UserOwned, models.TypePlant)

	cfg.BackupRetention = 0
	cfg.BackupInterval = time.Hour
	bc := backupConfig(cfg)
	assert.Equal(t, services.DefaultBackupRetention, bc.Retention)
	assert.Equal(t, time.Hour, bc.Interval)
}

func TestSyncConfig_ShippedDefaultsMatchEngine(t *testing.T) {
	var cfg config.Config
	cfg.LoadDefaults()

	sc := syncConfig(&cfg, schema.NewRegistry())
	def := services.DefaultSyncConfig()
	assert.Equal(t, def.SyncInterval, sc.SyncInterval)
	assert.Equal(t, def.RequestTimeout, sc.RequestTimeout)
	assert.Equal(t, def.OnlineCheckInterval, sc.OnlineCheckInterval)
	assert.Equal(t, def.BatchSize, sc.BatchSize)
	assert.Equal(t, def.MaxRetries, sc.MaxRetries)
	assert.Equal(t, def.MaxQueueSize, sc.MaxQueueSize)
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]models.EntityType{
		"plant": models.TypePlant, "Plants": models.TypePlant,
		"events": models.TypeEvent, "post": models.TypePost, "settings": models.TypeSettings,
	} {
		got, err := parseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseType("auditLog")
	assert.Error(t, err)
}

