package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	medallionredis "github.com/ethpandaops/medallion/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// NewMiniredis starts an in-memory Redis that is stopped when the test ends
func NewMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()

	return miniredis.RunT(t)
}

// MiniredisConfig returns a Redis config pointing at mr with the default
// "medallion" key prefix
func MiniredisConfig(mr *miniredis.Miniredis) *medallionredis.Config {
	return &medallionredis.Config{
		Address: "redis://" + mr.Addr(),
		Prefix:  "medallion",
	}
}

// NewMiniredisClient starts an in-memory Redis and returns a client built
// from its config the way the engine builds one. The client is closed when
// the test ends.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	client, err := medallionredis.NewClient(MiniredisConfig(mr))
	if err != nil {
		t.Fatalf("failed to create miniredis client: %v", err)
	}

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}
