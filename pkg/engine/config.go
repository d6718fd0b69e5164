// Package engine wires the pipeline to its storage, warehouse and Redis
// clients and hosts the status and metrics servers
package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/medallion/pkg/api"
	"github.com/ethpandaops/medallion/pkg/pipeline"
	"github.com/ethpandaops/medallion/pkg/redis"
	"github.com/ethpandaops/medallion/pkg/storage"
	"github.com/ethpandaops/medallion/pkg/warehouse"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrInvalidLogLevel is returned when logging is not a logrus level
var ErrInvalidLogLevel = errors.New("invalid logging level")

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Dependencies
	Storage   storage.Config   `yaml:"storage"`
	Warehouse warehouse.Config `yaml:"warehouse"`
	// Redis is optional; without it runs are not locked and watermark reads
	// are not cached
	Redis redis.Config `yaml:"redis"`

	Pipeline pipeline.Config `yaml:"pipeline"`

	// API service configuration
	API api.Config `yaml:"api"`
}

// LoadConfig reads a YAML config file over the defaults and validates it
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// WarehouseEnabled reports whether a warehouse DSN was configured
func (c *Config) WarehouseEnabled() bool {
	return c.Warehouse.DSN != ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Logging)
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}

	if c.WarehouseEnabled() {
		if err := c.Warehouse.Validate(); err != nil {
			return err
		}
	}

	if c.Redis.Enabled() {
		if err := c.Redis.Validate(); err != nil {
			return err
		}
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	return c.API.Validate()
}
