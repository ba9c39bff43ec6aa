package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/dmitrijs2005/famsync/internal/flagx"
)

const (
	FlagConfig       = "config"
	FlagDataDir      = "data-dir"
	FlagAuthority    = "authority"
	FlagPresenceURL  = "presence-url"
	FlagSyncInterval = "sync-interval"
	FlagBatchSize    = "batch-size"
	FlagBatching     = "batching"
	FlagLogLevel     = "log-level"
	FlagLogFormat    = "log-format"
)

// RegisterFlags declares the settings that can be overridden on the command
// line. Only flags the user actually set override earlier sources.
func RegisterFlags(fs *pflag.FlagSet) {
	var d Config
	d.LoadDefaults()

	fs.StringP(FlagConfig, "c", "", "path to a JSON or YAML config file (or $"+flagx.ConfigEnvVar+")")
	fs.String(FlagDataDir, d.DataDir, "directory holding the local database and cache")
	fs.StringP(FlagAuthority, "a", d.AuthorityAddr, "address and port of the sync authority")
	fs.String(FlagPresenceURL, "", "WebSocket presence URL used for connectivity detection")
	fs.Duration(FlagSyncInterval, d.SyncInterval, "interval between foreground sync ticks")
	fs.Int(FlagBatchSize, d.BatchSize, "operations fetched per drain")
	fs.Bool(FlagBatching, d.Batching, "send same-type updates in one batch call")
	fs.String(FlagLogLevel, d.LogLevel, "log level: debug, info, warn, error")
	fs.String(FlagLogFormat, d.LogFormat, "log format: text or json")
}

func parseFlags(cfg *Config, fs *pflag.FlagSet) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case FlagDataDir:
			cfg.DataDir, err = fs.GetString(f.Name)
		case FlagAuthority:
			cfg.AuthorityAddr, err = fs.GetString(f.Name)
		case FlagPresenceURL:
			cfg.PresenceURL, err = fs.GetString(f.Name)
		case FlagSyncInterval:
			cfg.SyncInterval, err = fs.GetDuration(f.Name)
		case FlagBatchSize:
			cfg.BatchSize, err = fs.GetInt(f.Name)
		case FlagBatching:
			cfg.Batching, err = fs.GetBool(f.Name)
		case FlagLogLevel:
			cfg.LogLevel, err = fs.GetString(f.Name)
		case FlagLogFormat:
			cfg.LogFormat, err = fs.GetString(f.Name)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to read flag: %w", err)
	}
	return nil
}

func configPath(fs *pflag.FlagSet) string {
	if fs != nil {
		if p, err := fs.GetString(FlagConfig); err == nil && p != "" {
			return p
		}
	}
	return os.Getenv(flagx.ConfigEnvVar)
}

// LoadConfig builds a Config from defaults, then the config file (from
// --config or $FAMSYNC_CONFIG), then the flags set on fs. fs may be nil.
func LoadConfig(fs *pflag.FlagSet) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if path := configPath(fs); path != "" {
		if err := parseFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if fs != nil {
		if err := parseFlags(cfg, fs); err != nil {
			return nil, err
		}
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
