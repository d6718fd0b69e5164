// Package redis provides Redis client configuration
package redis

import (
	"errors"
	"fmt"
	"strings"
)

// Define static errors
var (
	ErrAddressRequired = errors.New("redis address is required")
)

// Config holds Redis client configuration. Redis is optional: an empty
// address disables the run lock and the watermark cache.
type Config struct {
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix" default:"medallion"`
}

// Enabled reports whether a Redis address was configured
func (c *Config) Enabled() bool {
	return c != nil && strings.TrimSpace(c.Address) != ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled() {
		return ErrAddressRequired
	}

	if c.Prefix == "" {
		c.Prefix = "medallion"
	}

	return nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	if c.Prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", c.Prefix, key)
}
