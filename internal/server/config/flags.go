package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   HTTP bind address (e.g., ":8080"), empty disables HTTP
//	-l string   log level (debug, info, warn, error)
//	-o string   log file path
//	-k int      idempotency cache size
//	-g int      shutdown timeout, seconds
//
// os.Args is filtered to the flags handled here first, so the config file
// flag (-c) does not trip the parser.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-w", "-l", "-o", "-k", "-g"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "gRPC address and port to run server")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "HTTP address and port to run server")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFile, "o", config.LogFile, "log file")
	fs.IntVar(&config.IdempotencyCacheSize, "k", config.IdempotencyCacheSize, "idempotency cache size")

	shutdownTimeout := fs.Int("g", int(config.ShutdownTimeout.Seconds()), "shutdown timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ShutdownTimeout = time.Duration(*shutdownTimeout) * time.Second
}
