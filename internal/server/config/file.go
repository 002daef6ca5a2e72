package config

import (
	"github.com/dmitrijs2005/gardenkeeper/internal/flagx"
	"github.com/dmitrijs2005/gardenkeeper/internal/timex"
)

// FileConfig is the on-disk shape of the server configuration. Durations
// accept both "15s" strings and integer nanoseconds.
type FileConfig struct {
	EndpointAddrGRPC     string         `json:"endpoint_addr_grpc" yaml:"endpoint_addr_grpc"`
	EndpointAddrHTTP     string         `json:"endpoint_addr_http" yaml:"endpoint_addr_http"`
	LogLevel             string         `json:"log_level" yaml:"log_level"`
	LogFile              string         `json:"log_file" yaml:"log_file"`
	IdempotencyCacheSize int            `json:"idempotency_cache_size" yaml:"idempotency_cache_size"`
	ShutdownTimeout      timex.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// parseFile loads the file named by -c or -config into config. The file is
// decoded as YAML when its extension is .yaml or .yml and as JSON otherwise.
// Only keys present in the file override config. An unreadable or
// malformed file panics.
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

	if c.EndpointAddrGRPC != "" {
		config.EndpointAddrGRPC = c.EndpointAddrGRPC
	}
	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.LogLevel != "" {
		config.LogLevel = c.LogLevel
	}
	if c.LogFile != "" {
		config.LogFile = c.LogFile
	}
	if c.IdempotencyCacheSize != 0 {
		config.IdempotencyCacheSize = c.IdempotencyCacheSize
	}
	if c.ShutdownTimeout.Duration != 0 {
		config.ShutdownTimeout = c.ShutdownTimeout.Duration
	}
}
