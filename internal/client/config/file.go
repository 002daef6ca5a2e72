package config

import (
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/flagx"
	"github.com/dmitrijs2005/gardenkeeper/internal/timex"
)

// FileConfig defines the on-disk configuration. It uses timex.Duration for
// interval fields, which allows both "3s" strings and integer nanoseconds.
//
// After decoding, set fields are copied onto the runtime Config; absent or
// zero fields leave the current value alone.
type FileConfig struct {
	ServerEndpointAddr  string         `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	Transport           string         `json:"transport" yaml:"transport"`
	HTTPBaseURL         string         `json:"http_base_url" yaml:"http_base_url"`
	DatabasePath        string         `json:"database_path" yaml:"database_path"`
	LogLevel            string         `json:"log_level" yaml:"log_level"`
	LogFile             string         `json:"log_file" yaml:"log_file"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	SyncInterval        timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	RequestTimeout      timex.Duration `json:"request_timeout" yaml:"request_timeout"`
	BatchSize           int            `json:"batch_size" yaml:"batch_size"`
	MaxRetries          int            `json:"max_retries" yaml:"max_retries"`
	MaxQueueSize        int            `json:"max_queue_size" yaml:"max_queue_size"`
	CacheTTL            timex.Duration `json:"cache_ttl" yaml:"cache_ttl"`
	BackupRetention     int            `json:"backup_retention" yaml:"backup_retention"`
	BackupInterval      timex.Duration `json:"backup_interval" yaml:"backup_interval"`
	ExportDir           string         `json:"export_dir" yaml:"export_dir"`
	S3                  FileS3Config   `json:"s3" yaml:"s3"`
}

type FileS3Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Prefix    string `json:"prefix" yaml:"prefix"`
}

// parseFile loads configuration values from the file named by the -c or
// -config flag. YAML is used for .yaml and .yml files, JSON otherwise. If
// no file is named nothing happens; an unreadable or malformed file panics.
func parseFile(config *Config) {

	c := &FileConfig{}
	ok, err := flagx.LoadConfigFile(c)
	if err != nil {
		panic(err)
	}

	// nothing to load
	if !ok {
		return
	}

	c.apply(config)
}

func (c *FileConfig) apply(config *Config) {
	setString(&config.ServerEndpointAddr, c.ServerEndpointAddr)
	setString(&config.Transport, c.Transport)
	setString(&config.HTTPBaseURL, c.HTTPBaseURL)
	setString(&config.DatabasePath, c.DatabasePath)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFile, c.LogFile)
	setString(&config.ExportDir, c.ExportDir)

	setInt(&config.BatchSize, c.BatchSize)
	setInt(&config.MaxRetries, c.MaxRetries)
	setInt(&config.MaxQueueSize, c.MaxQueueSize)
	setInt(&config.BackupRetention, c.BackupRetention)

	setDuration(&config.OnlineCheckInterval, c.OnlineCheckInterval)
	setDuration(&config.SyncInterval, c.SyncInterval)
	setDuration(&config.RequestTimeout, c.RequestTimeout)
	setDuration(&config.CacheTTL, c.CacheTTL)
	setDuration(&config.BackupInterval, c.BackupInterval)

	setString(&config.S3.Bucket, c.S3.Bucket)
	setString(&config.S3.Region, c.S3.Region)
	setString(&config.S3.Endpoint, c.S3.Endpoint)
	setString(&config.S3.AccessKey, c.S3.AccessKey)
	setString(&config.S3.SecretKey, c.S3.SecretKey)
	setString(&config.S3.Prefix, c.S3.Prefix)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
