// Package config loads runtime configuration for the uploader CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   origin URL of the CMS backend
//	-d string   data directory for queue state, spool files and credentials
//	-i int      online status check interval (seconds)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals and timeouts, so values
// can be either strings like "15s" or integer nanoseconds:
//
//	{
//	  "origin_url": "https://backend-payload-cms-staging.nmas.live",
//	  "data_dir": "/var/lib/uploadq",
//	  "online_check_interval": "15s",
//	  "request_timeout": "10m",
//	  "background_timeout": "1h",
//	  "token_leeway": "30s",
//	  "large_file_threshold": 10485760,
//	  "video_threshold": 15728640,
//	  "extra_fields": {"project": "field-team-7"}
//	}
//
// Primary API
//
//   - type Config                     — runtime settings for the uploader
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
