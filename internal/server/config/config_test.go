package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, ":50051", c.EndpointAddrGRPC)
	assert.Equal(t, ":8080", c.EndpointAddrHTTP)
	assert.Equal(t, "info", c.LogLevel)
	assert.Empty(t, c.LogFile)
	assert.Equal(t, 4096, c.IdempotencyCacheSize)
	assert.Equal(t, 15*time.Second, c.ShutdownTimeout)
}

func TestLoadConfig_UsesDefaultsBeforeParsing(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"testbin"}

	c := LoadConfig()

	require.NotNil(t, c, "LoadConfig must not return nil")

	var want Config
	want.LoadDefaults()
	assert.Equal(t, want, *c)
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	path := writeTemp(t, "server.yaml", "endpoint_addr_grpc: \":6000\"\nlog_level: debug\n")
	os.Args = []string{"testbin", "-c", path, "-a", ":7000"}

	c := LoadConfig()

	assert.Equal(t, ":7000", c.EndpointAddrGRPC)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, ":8080", c.EndpointAddrHTTP)
}
