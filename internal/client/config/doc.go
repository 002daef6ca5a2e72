// Package config loads runtime configuration for the gardenkeeper client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file (see parseFile) selected via -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the remote gRPC endpoint
//	-t string   transport, grpc or http
//	-u string   base URL of the remote HTTP endpoint
//	-d string   local database file
//	-i int      online status check interval (seconds)
//	-s int      periodic sync interval (seconds)
//	-l string   log level
//	-o string   log file
//	-b string   S3 bucket for exported backups
//	-r int      automatic backups to keep
//
// # File schema
//
// Intervals use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	server_endpoint_addr: 127.0.0.1:50051
//	transport: grpc
//	database_path: garden.db
//	online_check_interval: 3s
//	sync_interval: 30s
//	backup_interval: 24h
//	s3:
//	  bucket: garden-backups
//	  endpoint: http://127.0.0.1:9000
//
// This package does not read environment variables; the AWS SDK may still
// pick up credentials from the environment when S3 keys are left empty.
package config
