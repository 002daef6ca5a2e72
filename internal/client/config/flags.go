package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gardenkeeper/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   address and port of the remote gRPC endpoint
//	-t string   transport, grpc or http
//	-u string   base URL of the remote HTTP endpoint
//	-d string   path of the local database file
//	-i int      online check interval in seconds
//	-s int      periodic sync interval in seconds
//	-l string   log level
//	-o string   log file path
//	-b string   S3 bucket for exported backups
//	-r int      number of automatic backups to keep
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-t", "-u", "-d", "-i", "-s", "-l", "-o", "-b", "-r"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.Transport, "t", cfg.Transport, "sync transport (grpc or http)")
	fs.StringVar(&cfg.HTTPBaseURL, "u", cfg.HTTPBaseURL, "base URL of the HTTP sync endpoint")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database file")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")
	syncInterval := fs.Int("s", int(cfg.SyncInterval.Seconds()), "sync interval (in seconds)")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.StringVar(&cfg.LogFile, "o", cfg.LogFile, "log file")
	fs.StringVar(&cfg.S3.Bucket, "b", cfg.S3.Bucket, "S3 bucket for backups")
	fs.IntVar(&cfg.BackupRetention, "r", cfg.BackupRetention, "automatic backups to keep")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
	cfg.SyncInterval = time.Duration(*syncInterval) * time.Second
}
