package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethpandaops/medallion/pkg/storage"
)

// ObjectStore is an in-memory storage.ClientInterface for unit tests
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	buckets map[string]bool
	puts    int

	// FailGet, when set, is consulted before every Get; a non-nil error is
	// returned wrapped in storage.ErrUnavailable
	FailGet func(bucket, key string) error
	// FailPut is the Put counterpart of FailGet
	FailPut func(bucket, key string) error
}

var _ storage.ClientInterface = (*ObjectStore)(nil)

// NewObjectStore creates an empty in-memory object store
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		objects: make(map[string][]byte),
		buckets: make(map[string]bool),
	}
}

func objectID(bucket, key string) string {
	return bucket + "/" + key
}

// Get returns a copy of the stored object, or storage.ErrNotFound
func (s *ObjectStore) Get(_ context.Context, bucket, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailGet != nil {
		if err := s.FailGet(bucket, key); err != nil {
			return nil, fmt.Errorf("get %s/%s: %w: %w", bucket, key, storage.ErrUnavailable, err)
		}
	}

	data, ok := s.objects[objectID(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, storage.ErrNotFound)
	}

	return append([]byte(nil), data...), nil
}

// Put stores a copy of data under bucket/key
func (s *ObjectStore) Put(_ context.Context, bucket, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailPut != nil {
		if err := s.FailPut(bucket, key); err != nil {
			return fmt.Errorf("put %s/%s: %w: %w", bucket, key, storage.ErrUnavailable, err)
		}
	}

	s.objects[objectID(bucket, key)] = append([]byte(nil), data...)
	s.buckets[bucket] = true
	s.puts++

	return nil
}

// EnsureBucket records the bucket as existing
func (s *ObjectStore) EnsureBucket(_ context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[bucket] = true

	return nil
}

// Start is a no-op
func (s *ObjectStore) Start(_ context.Context) error {
	return nil
}

// Stop is a no-op
func (s *ObjectStore) Stop() error {
	return nil
}

// SetObject seeds an object without counting it as a Put
func (s *ObjectStore) SetObject(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[objectID(bucket, key)] = append([]byte(nil), data...)
}

// Object returns the stored object and whether it exists
func (s *ObjectStore) Object(bucket, key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[objectID(bucket, key)]

	return data, ok
}

// Keys returns the sorted object keys stored in bucket
func (s *ObjectStore) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := bucket + "/"

	var keys []string
	for id := range s.objects {
		if strings.HasPrefix(id, prefix) {
			keys = append(keys, strings.TrimPrefix(id, prefix))
		}
	}

	sort.Strings(keys)

	return keys
}

// HasBucket reports whether the bucket was created
func (s *ObjectStore) HasBucket(bucket string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buckets[bucket]
}

// Puts returns the number of successful Put calls
func (s *ObjectStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.puts
}
