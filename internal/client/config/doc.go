// Package config loads runtime configuration for the famsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with --config/-c or $FAMSYNC_CONFIG.
//     Files ending in .yaml or .yml are read as YAML, anything else as JSON.
//  3. Command-line flags registered by RegisterFlags, applied only when set.
//
// Durations in the file may be strings like "30s" or integer nanoseconds:
//
//	authority_addr: 127.0.0.1:50051
//	sync_interval: 30s
//	batching: true
//	s3:
//	  bucket: famsync-media
//	  endpoint: http://127.0.0.1:9000
//	  use_path_style: true
//
// Paths left empty (db_path, cache_dir) are placed under data_dir.
package config
