package config

import "time"

const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Config holds runtime settings for the gardenkeeper client.
//
// Fields:
//   - ServerEndpointAddr: host:port of the remote gRPC endpoint.
//   - Transport: "grpc" or "http".
//   - HTTPBaseURL: base URL of the remote HTTP endpoint, used with the http transport.
//   - DatabasePath: SQLite file holding the local store.
//   - OnlineCheckInterval / SyncInterval: connectivity check and periodic drain intervals.
//   - RequestTimeout: per-push deadline.
//   - BatchSize / MaxRetries / MaxQueueSize: sync queue tuning.
//   - CacheTTL: lifetime of cached collection reads.
//   - BackupRetention / BackupInterval: automatic backup policy; a zero
//     interval disables automatic backups.
//   - ExportDir: directory used for exported backup files.
//   - S3: optional object storage for exported backups.
type Config struct {
	ServerEndpointAddr  string
	Transport           string
	HTTPBaseURL         string
	DatabasePath        string
	LogLevel            string
	LogFile             string
	OnlineCheckInterval time.Duration
	SyncInterval        time.Duration
	RequestTimeout      time.Duration
	BatchSize           int
	MaxRetries          int
	MaxQueueSize        int
	CacheTTL            time.Duration
	BackupRetention     int
	BackupInterval      time.Duration
	ExportDir           string
	S3                  S3Config
}

// S3Config is the object storage target. An empty Bucket disables it.
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.Transport = TransportGRPC
	c.HTTPBaseURL = "http://127.0.0.1:8080"
	c.DatabasePath = "gardenkeeper.db"
	c.LogLevel = "info"
	c.LogFile = "gardenkeeper.log"
	c.OnlineCheckInterval = 30 * time.Second
	c.SyncInterval = 5 * time.Minute
	c.RequestTimeout = 30 * time.Second
	c.BatchSize = 10
	c.MaxRetries = 3
	c.MaxQueueSize = 500
	c.CacheTTL = 5 * time.Minute
	c.BackupRetention = 10
	c.BackupInterval = 24 * time.Hour
	c.ExportDir = "."
	c.S3 = S3Config{Region: "us-east-1", Prefix: "gardenkeeper/"}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// a config file (if present) and command-line flags (if present). Later
// sources take precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
