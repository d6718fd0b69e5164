package watermark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCacheTTL bounds how stale a cached watermark may be
	DefaultCacheTTL = 30 * time.Second

	listKey = "_all"
)

// cacheEntry is the JSON form of a cached record; Missing marks a cached
// cold start
type cacheEntry struct {
	Dataset        string    `json:"dataset"`
	MaxValue       string    `json:"max_value"`
	RecordsLoaded  int64     `json:"records_loaded"`
	ProcessingTime time.Time `json:"processing_time"`
	Missing        bool      `json:"missing,omitempty"`
}

// CachedStore fronts a Store with a Redis read cache. Reads fall back to the
// store when Redis fails; writes go to the store and invalidate the cache.
type CachedStore struct {
	log       logrus.FieldLogger
	store     *Store
	redis     *redis.Client
	keyPrefix string
	ttl       time.Duration
}

var _ ReadWriter = (*CachedStore)(nil)

// NewCachedStore creates a cached view of store. keyPrefix is prepended to
// every cache key, for example "medallion:watermark".
func NewCachedStore(log logrus.FieldLogger, store *Store, client *redis.Client, keyPrefix string, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &CachedStore{
		log:       log.WithField("component", "watermark-cache"),
		store:     store,
		redis:     client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
	}
}

// Stage returns the name of the stage owning the log
func (c *CachedStore) Stage() string {
	return c.store.Stage()
}

func (c *CachedStore) key(dataset string) string {
	return fmt.Sprintf("%s:%s:%s", c.keyPrefix, c.store.Stage(), dataset)
}

// Read returns the dataset's current watermark, served from Redis when cached
func (c *CachedStore) Read(ctx context.Context, dataset string) (*Record, error) {
	key := c.key(dataset)

	var cached cacheEntry
	if hit := c.get(ctx, key, &cached); hit {
		if cached.Missing {
			return nil, nil
		}

		if rec, err := cached.record(); err == nil {
			return rec, nil
		}
	}

	rec, err := c.store.Read(ctx, dataset)
	if err != nil {
		return nil, err
	}

	entry := cacheEntry{Dataset: dataset, Missing: rec == nil}
	if rec != nil {
		entry = newCacheEntry(*rec)
	}

	c.set(ctx, key, entry)

	return rec, nil
}

// List returns the current watermark of every dataset, served from Redis
// when cached
func (c *CachedStore) List(ctx context.Context) ([]Record, error) {
	key := c.key(listKey)

	var cached []cacheEntry
	if hit := c.get(ctx, key, &cached); hit {
		out := make([]Record, 0, len(cached))

		for _, e := range cached {
			rec, err := e.record()
			if err != nil {
				out = nil

				break
			}

			out = append(out, *rec)
		}

		if out != nil {
			return out, nil
		}
	}

	records, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]cacheEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, newCacheEntry(rec))
	}

	c.set(ctx, key, entries)

	return records, nil
}

// Write appends to the underlying log and invalidates the dataset's entries
func (c *CachedStore) Write(ctx context.Context, rec Record) error {
	if err := c.store.Write(ctx, rec); err != nil {
		return err
	}

	c.invalidate(ctx, rec.Dataset)

	return nil
}

// Advance advances the underlying log and invalidates on change
func (c *CachedStore) Advance(ctx context.Context, dataset string, value Value, records int64, at time.Time) (bool, error) {
	advanced, err := c.store.Advance(ctx, dataset, value, records, at)
	if err != nil {
		return false, err
	}

	if advanced {
		c.invalidate(ctx, dataset)
	}

	return advanced, nil
}

func (c *CachedStore) get(ctx context.Context, key string, dest any) bool {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).Debug("Watermark cache read failed")
		}

		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("Discarding undecodable cache entry")

		return false
	}

	return true
}

func (c *CachedStore) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithError(err).Debug("Watermark cache write failed")
	}
}

func (c *CachedStore) invalidate(ctx context.Context, dataset string) {
	if err := c.redis.Del(ctx, c.key(dataset), c.key(listKey)).Err(); err != nil {
		c.log.WithError(err).WithField("dataset", dataset).Warn("Failed to invalidate watermark cache")
	}
}

func newCacheEntry(rec Record) cacheEntry {
	return cacheEntry{
		Dataset:        rec.Dataset,
		MaxValue:       rec.MaxValue.String(),
		RecordsLoaded:  rec.RecordsLoaded,
		ProcessingTime: rec.ProcessingTime,
	}
}

func (e cacheEntry) record() (*Record, error) {
	value, err := ParseValue(e.MaxValue)
	if err != nil {
		return nil, err
	}

	return &Record{
		Dataset:        e.Dataset,
		MaxValue:       value,
		RecordsLoaded:  e.RecordsLoaded,
		ProcessingTime: e.ProcessingTime,
	}, nil
}
