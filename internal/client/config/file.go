package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/famsync/internal/client/cache"
	"github.com/dmitrijs2005/famsync/internal/timex"
)

// FileConfig is the on-disk shape of the configuration, read from JSON or
// from YAML when the file extension is .yaml or .yml. Durations use
// timex.Duration so they can be written as "30s" or as nanoseconds. Absent
// keys keep the value of the earlier source.
type FileConfig struct {
	DataDir  string `json:"data_dir" yaml:"data_dir"`
	DBPath   string `json:"db_path" yaml:"db_path"`
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	AuthorityAddr       string         `json:"authority_addr" yaml:"authority_addr"`
	PresenceURL         string         `json:"presence_url" yaml:"presence_url"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	SettleDelay         timex.Duration `json:"settle_delay" yaml:"settle_delay"`

	SyncInterval        timex.Duration `json:"sync_interval" yaml:"sync_interval"`
	MaintenanceInterval timex.Duration `json:"maintenance_interval" yaml:"maintenance_interval"`
	TombstoneRetention  timex.Duration `json:"tombstone_retention" yaml:"tombstone_retention"`
	BatchSize           int            `json:"batch_size" yaml:"batch_size"`
	MaxRetries          *int           `json:"max_retries" yaml:"max_retries"`
	BackoffBase         timex.Duration `json:"backoff_base" yaml:"backoff_base"`
	MaxBackoff          timex.Duration `json:"max_backoff" yaml:"max_backoff"`
	Batching            *bool          `json:"batching" yaml:"batching"`

	CacheCleanupInterval timex.Duration  `json:"cache_cleanup_interval" yaml:"cache_cleanup_interval"`
	LowStorageThreshold  uint64          `json:"low_storage_threshold" yaml:"low_storage_threshold"`
	S3                   *cache.S3Config `json:"s3" yaml:"s3"`

	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format"`
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// parseFile overlays cfg with the values set in the file at path.
func parseFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc FileConfig
	if isYAML(path) {
		err = yaml.Unmarshal(data, &fc)
	} else {
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func (fc *FileConfig) apply(cfg *Config) {
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.DBPath, fc.DBPath)
	setString(&cfg.CacheDir, fc.CacheDir)
	setString(&cfg.AuthorityAddr, fc.AuthorityAddr)
	setString(&cfg.PresenceURL, fc.PresenceURL)
	setString(&cfg.LogLevel, fc.LogLevel)
	setString(&cfg.LogFormat, fc.LogFormat)

	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.SettleDelay, fc.SettleDelay)
	setDuration(&cfg.SyncInterval, fc.SyncInterval)
	setDuration(&cfg.MaintenanceInterval, fc.MaintenanceInterval)
	setDuration(&cfg.TombstoneRetention, fc.TombstoneRetention)
	setDuration(&cfg.BackoffBase, fc.BackoffBase)
	setDuration(&cfg.MaxBackoff, fc.MaxBackoff)
	setDuration(&cfg.CacheCleanupInterval, fc.CacheCleanupInterval)

	if fc.BatchSize != 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.Batching != nil {
		cfg.Batching = *fc.Batching
	}
	if fc.LowStorageThreshold != 0 {
		cfg.LowStorageThreshold = fc.LowStorageThreshold
	}
	if fc.S3 != nil {
		cfg.S3 = *fc.S3
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
