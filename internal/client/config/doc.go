// Package config loads runtime configuration for the nodesync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON or YAML file selected with -c or -config.
//  3. Command-line flags, which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the sync server
//	-d string   path of the local SQLite database
//	-l string   log level (debug, info, warn, error)
//
// # File schema
//
// Durations use timex.Duration, so values can be strings like "15s" or
// integer nanoseconds. Keys missing from the file keep their defaults:
//
//	server_addr: 127.0.0.1:50051
//	database_path: nodesync.db
//	device_id: ""
//	log_level: info
//	log_format: text
//	ping_interval: 15s
//	idle_timeout: 45s
//	request_timeout: 30s
//	reconnect_min: 1s
//	reconnect_max: 1m
//	offline_retry_delay: 5s
//	outbound_batch_size: 100
//	max_concurrent_jobs: 4
//
// Flags() lists the flags owned by this package so that the command-line
// layer can strip them before parsing its own.
package config
