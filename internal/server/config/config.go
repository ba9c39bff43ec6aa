// Package config handles configuration for the reference authority,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"errors"
	"time"
)

// Config holds runtime settings of the authority.
//
// Fields:
//   - EndpointAddrGRPC: bind address of the gRPC Authority service.
//   - EndpointAddrHTTP: bind address of the admin router (/healthz, /ws).
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty keeps records in memory.
//   - SecretKey: HMAC secret for access tokens (HS256). Do not use the default in prod.
//   - AccessTokenValidityDuration: lifetime of tokens minted with MintTokenFor.
//   - MintTokenFor: when set, a token for this user id is printed at startup.
//   - LogLevel / LogFormat: slog level and "text" or "json".
type Config struct {
	EndpointAddrGRPC            string
	EndpointAddrHTTP            string
	DatabaseDSN                 string
	SecretKey                   string
	AccessTokenValidityDuration time.Duration
	MintTokenFor                string
	LogLevel                    string
	LogFormat                   string
}

// LoadDefaults populates Config with development defaults.
func (c *Config) LoadDefaults() {
	c.EndpointAddrGRPC = ":50051"
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = ""
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 24 * time.Hour
	c.LogLevel = "info"
	c.LogFormat = "json"
}

func (c *Config) Validate() error {
	if c.EndpointAddrGRPC == "" {
		return errors.New("grpc address is required")
	}
	if c.SecretKey == "" {
		return errors.New("secret key is required")
	}
	if c.AccessTokenValidityDuration <= 0 {
		return errors.New("token validity must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.New("log format must be text or json")
	}
	return nil
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags. args
// excludes the program name.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
