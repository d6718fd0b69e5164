package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewOptions converts the configured address into go-redis options. Both
// plain host:port addresses and redis:// URLs are accepted.
func NewOptions(cfg *Config) (*redis.Options, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	addr := strings.TrimSpace(cfg.Address)

	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}

		return opt, nil
	}

	return &redis.Options{Addr: addr}, nil
}

// NewClient creates a go-redis client for the configured address
func NewClient(cfg *Config) (*redis.Client, error) {
	opt, err := NewOptions(cfg)
	if err != nil {
		return nil, err
	}

	return redis.NewClient(opt), nil
}
