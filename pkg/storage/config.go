// Package storage provides the object storage client used for the bronze and
// silver tiers
package storage

import (
	"errors"
	"time"
)

// Static errors for configuration validation
var (
	ErrEndpointRequired     = errors.New("storage endpoint is required")
	ErrBronzeBucketRequired = errors.New("bronze bucket is required")
	ErrSilverBucketRequired = errors.New("silver bucket is required")
	ErrBucketsMustDiffer    = errors.New("bronze and silver buckets must differ")
)

// Config contains S3-compatible object storage settings
type Config struct {
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"accessKey"`
	SecretKey string        `yaml:"secretKey"`
	Region    string        `yaml:"region" default:"us-east-1"`
	Secure    bool          `yaml:"secure"`
	Timeout   time.Duration `yaml:"timeout" default:"1m"`
	Buckets   Buckets       `yaml:"buckets"`
}

// Buckets names the bucket backing each object tier
type Buckets struct {
	Bronze string `yaml:"bronze"`
	Silver string `yaml:"silver"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return ErrEndpointRequired
	}

	if c.Buckets.Bronze == "" {
		return ErrBronzeBucketRequired
	}

	if c.Buckets.Silver == "" {
		return ErrSilverBucketRequired
	}

	if c.Buckets.Bronze == c.Buckets.Silver {
		return ErrBucketsMustDiffer
	}

	return nil
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}

	if c.Timeout == 0 {
		c.Timeout = time.Minute
	}
}
