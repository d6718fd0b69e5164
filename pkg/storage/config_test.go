package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Endpoint: "localhost:9000",
			Buckets:  Buckets{Bronze: "bronze", Silver: "silver"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: ErrEndpointRequired},
		{name: "missing bronze", mutate: func(c *Config) { c.Buckets.Bronze = "" }, wantErr: ErrBronzeBucketRequired},
		{name: "missing silver", mutate: func(c *Config) { c.Buckets.Silver = "" }, wantErr: ErrSilverBucketRequired},
		{name: "same bucket", mutate: func(c *Config) { c.Buckets.Silver = "bronze" }, wantErr: ErrBucketsMustDiffer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, "us-east-1", cfg.Region)
	assert.Equal(t, time.Minute, cfg.Timeout)

	cfg = Config{Region: "eu-west-1", Timeout: 5 * time.Second}
	cfg.SetDefaults()

	assert.Equal(t, "eu-west-1", cfg.Region)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	_, err := NewClient(logrus.New(), &Config{})
	require.ErrorIs(t, err, ErrEndpointRequired)
}

func TestClassify(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	c := &client{log: log}

	err := c.classify("get", time.Now(), "silver", "ratings/1997-09.csv", minio.ErrorResponse{Code: "NoSuchKey"})
	require.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrUnavailable)

	cause := errors.New("connection refused")
	err = c.classify("put", time.Now(), "silver", "ratings/1997-09.csv", cause)
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
}
