package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ethpandaops/medallion/pkg/observability"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// Define static errors
var (
	// ErrNotFound is returned when the requested object does not exist
	ErrNotFound = errors.New("object not found")
	// ErrUnavailable wraps every other storage failure; callers surface it and
	// leave retries to the scheduler
	ErrUnavailable = errors.New("object storage unavailable")
)

const (
	// ContentTypeCSV is the content type used for every tier object
	ContentTypeCSV = "text/csv"

	codeNoSuchKey = "NoSuchKey"
)

// ClientInterface defines the methods for interacting with object storage
type ClientInterface interface {
	// Get returns the full object body, or ErrNotFound
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Put writes the full object body, replacing any existing object
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// EnsureBucket creates the bucket if it does not exist
	EnsureBucket(ctx context.Context, bucket string) error
	// Start verifies connectivity and provisions the configured buckets
	Start(ctx context.Context) error
	// Stop releases client resources
	Stop() error
}

// client implements ClientInterface on top of minio-go
type client struct {
	log     logrus.FieldLogger
	minio   *minio.Client
	region  string
	timeout time.Duration
	buckets []string
}

// NewClient creates a new S3-compatible object storage client
func NewClient(log logrus.FieldLogger, cfg *Config) (ClientInterface, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.SetDefaults()

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &client{
		log:     log.WithField("component", "storage"),
		minio:   mc,
		region:  cfg.Region,
		timeout: cfg.Timeout,
		buckets: []string{cfg.Buckets.Bronze, cfg.Buckets.Silver},
	}, nil
}

func (c *client) Start(ctx context.Context) error {
	for _, bucket := range c.buckets {
		if err := c.EnsureBucket(ctx, bucket); err != nil {
			return err
		}
	}

	c.log.Info("Connected to object storage")

	return nil
}

func (c *client) Stop() error {
	return nil
}

func (c *client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	obj, err := c.minio.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, c.classify("get", start, bucket, key, err)
	}
	defer func() {
		if closeErr := obj.Close(); closeErr != nil {
			c.log.WithError(closeErr).Debug("Failed to close object reader")
		}
	}()

	// minio defers the request until the first read, so a missing key
	// surfaces here rather than from GetObject
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, c.classify("get", start, bucket, key, err)
	}

	observability.RecordStorageOperation("get", "success", time.Since(start).Seconds())

	c.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Read object")

	return data, nil
}

func (c *client) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	_, err := c.minio.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return c.classify("put", start, bucket, key, err)
	}

	observability.RecordStorageOperation("put", "success", time.Since(start).Seconds())

	c.log.WithFields(logrus.Fields{
		"bucket": bucket,
		"key":    key,
		"bytes":  len(data),
	}).Debug("Wrote object")

	return nil
}

func (c *client) EnsureBucket(ctx context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	exists, err := c.minio.BucketExists(ctx, bucket)
	if err != nil {
		return c.classify("ensure_bucket", start, bucket, "", err)
	}

	if !exists {
		if err := c.minio.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
			return c.classify("ensure_bucket", start, bucket, "", err)
		}

		c.log.WithField("bucket", bucket).Info("Created bucket")
	}

	observability.RecordStorageOperation("ensure_bucket", "success", time.Since(start).Seconds())

	return nil
}

// classify maps a minio error onto ErrNotFound or ErrUnavailable
func (c *client) classify(operation string, start time.Time, bucket, key string, err error) error {
	if minio.ToErrorResponse(err).Code == codeNoSuchKey {
		observability.RecordStorageOperation(operation, "not_found", time.Since(start).Seconds())

		return fmt.Errorf("%s %s/%s: %w", operation, bucket, key, ErrNotFound)
	}

	observability.RecordStorageOperation(operation, "error", time.Since(start).Seconds())
	observability.RecordError("storage", operation)

	return fmt.Errorf("%s %s/%s: %w: %w", operation, bucket, key, ErrUnavailable, err)
}
