// Package config handles configuration for the reference sync server,
// including defaults, a JSON or YAML file overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the gardenkeeper reference server.
//
// Fields:
//   - EndpointAddrGRPC: bind address for the gRPC sync endpoint.
//   - EndpointAddrHTTP: bind address for the HTTP sync endpoint; empty disables it.
//   - LogLevel / LogFile: logging verbosity and optional rotated log file.
//   - IdempotencyCacheSize: number of remembered push responses.
//   - ShutdownTimeout: grace period for in-flight HTTP requests.
type Config struct {
	EndpointAddrGRPC     string
	EndpointAddrHTTP     string
	LogLevel             string
	LogFile              string
	IdempotencyCacheSize int
	ShutdownTimeout      time.Duration
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.EndpointAddrHTTP = ":8080"
	c.LogLevel = "info"
	c.LogFile = ""
	c.IdempotencyCacheSize = 4096
	c.ShutdownTimeout = 15 * time.Second
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional config file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseFile(cfg)
	parseFlags(cfg)
	return cfg
}
