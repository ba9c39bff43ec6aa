package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/famsync/internal/client/cache"
)

const (
	dbFileName  = "famsync.db"
	cacheSubdir = "cache"
)

// Config holds runtime settings of the famsync client.
//
// Paths left empty are derived from DataDir by Resolve.
type Config struct {
	DataDir  string
	DBPath   string
	CacheDir string

	AuthorityAddr string
	// PresenceURL selects the WebSocket connectivity source when set;
	// otherwise the authority is polled with Ping.
	PresenceURL         string
	OnlineCheckInterval time.Duration
	SettleDelay         time.Duration

	SyncInterval        time.Duration
	MaintenanceInterval time.Duration
	TombstoneRetention  time.Duration
	BatchSize           int
	MaxRetries          int
	BackoffBase         time.Duration
	MaxBackoff          time.Duration
	Batching            bool

	CacheCleanupInterval time.Duration
	LowStorageThreshold  uint64
	S3                   cache.S3Config

	LogLevel  string
	LogFormat string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = ".famsync"
	c.AuthorityAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.SettleDelay = 2 * time.Second

	c.SyncInterval = 30 * time.Second
	c.MaintenanceInterval = time.Hour
	c.TombstoneRetention = 30 * 24 * time.Hour
	c.BatchSize = 50
	c.MaxRetries = 3
	c.BackoffBase = 5 * time.Second
	c.MaxBackoff = time.Hour
	c.Batching = true

	c.CacheCleanupInterval = time.Hour
	c.LowStorageThreshold = 500 * uint64(cache.MB)

	c.LogLevel = "info"
	c.LogFormat = "text"
}

// Resolve fills derived paths.
func (c *Config) Resolve() {
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, dbFileName)
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(c.DataDir, cacheSubdir)
	}
}

// Validate reports settings the client cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DataDir == "":
		return fmt.Errorf("data dir is required")
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	case c.SyncInterval <= 0:
		return fmt.Errorf("sync interval must be positive")
	case c.BackoffBase <= 0 || c.MaxBackoff < c.BackoffBase:
		return fmt.Errorf("invalid backoff %s..%s", c.BackoffBase, c.MaxBackoff)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}
