// Package warehouse provides the Postgres client backing the gold tier
package warehouse

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrDSNRequired     = errors.New("warehouse DSN is required")
	ErrInvalidMaxConns = errors.New("warehouse maxConns must be positive")
)

// Config contains Postgres connection settings
type Config struct {
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"maxConns" default:"4"`
	ConnectTimeout   time.Duration `yaml:"connectTimeout" default:"10s"`
	StatementTimeout time.Duration `yaml:"statementTimeout" default:"5m"`
	Debug            bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.DSN == "" {
		return ErrDSNRequired
	}

	if c.MaxConns < 0 {
		return ErrInvalidMaxConns
	}

	return nil
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 4
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}

	if c.StatementTimeout == 0 {
		c.StatementTimeout = 5 * time.Minute
	}
}
