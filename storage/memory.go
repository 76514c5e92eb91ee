package storage

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// defaultShards is the shard count used when none is configured
const defaultShards = 64

// shard represents a single shard of data with its own lock
type shard struct {
	mu   sync.Mutex
	data map[string]*Item
}

// MemoryStorage implements Storage in memory
type MemoryStorage struct {
	shards    []shard
	shardMask uint64

	now       func() time.Time
	observers []Observer
}

// MemoryOption is a function that configures a MemoryStorage instance
type MemoryOption func(*MemoryStorage)

// WithShardCount sets the number of shards for the storage.
// The number is rounded up to the next power of 2.
func WithShardCount(count int) MemoryOption {
	return func(s *MemoryStorage) {
		if count > 0 {
			s.shards = make([]shard, nextPowerOf2(count))
		}
	}
}

// WithClock replaces the time source used for expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStorage) {
		if now != nil {
			s.now = now
		}
	}
}

// WithObserver registers an observer for set and expiry events
func WithObserver(o Observer) MemoryOption {
	return func(s *MemoryStorage) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// NewMemory creates a new in-memory store with 64 shards by default
func NewMemory(opts ...MemoryOption) *MemoryStorage {
	s := &MemoryStorage{
		shards: make([]shard, defaultShards),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.shardMask = uint64(len(s.shards) - 1)
	for i := range s.shards {
		s.shards[i].data = make(map[string]*Item)
	}

	return s
}

// nextPowerOf2 returns the next power of 2 >= n
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// shardFor returns the shard owning key
func (s *MemoryStorage) shardFor(key string) *shard {
	return &s.shards[xxhash.Sum64String(key)&s.shardMask]
}

// Set stores a value, replacing both value and TTL of any previous entry
func (s *MemoryStorage) Set(key, value string, ttl *uint64) error {
	item := &Item{Value: value}

	if ttl != nil {
		expiresAt, err := expiryAt(s.now(), *ttl)
		if err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
		item.ExpiresAt = expiresAt
	}

	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = item
	sh.mu.Unlock()

	for _, o := range s.observers {
		o.OnKeySet(key)
	}

	return nil
}

// Get retrieves a value by key, purging it if it has expired
func (s *MemoryStorage) Get(key string) (string, bool) {
	sh := s.shardFor(key)

	sh.mu.Lock()
	item, exists := sh.data[key]
	if !exists {
		sh.mu.Unlock()
		return "", false
	}

	if item.IsExpired(s.now()) {
		delete(sh.data, key)
		sh.mu.Unlock()

		for _, o := range s.observers {
			o.OnKeyExpired(key)
		}
		return "", false
	}

	value := item.Value
	sh.mu.Unlock()

	return value, true
}

// Len returns the number of stored entries
func (s *MemoryStorage) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.data)
		sh.mu.Unlock()
	}
	return total
}

// expiryAt converts a millisecond TTL into an absolute time, failing on overflow
func expiryAt(now time.Time, ttlMillis uint64) (time.Time, error) {
	const maxMillis = uint64(math.MaxInt64 / int64(time.Millisecond))
	if ttlMillis > maxMillis {
		return time.Time{}, ErrInvalidExpire
	}

	expiresAt := now.Add(time.Duration(ttlMillis) * time.Millisecond)
	if expiresAt.Before(now) {
		return time.Time{}, ErrInvalidExpire
	}

	return expiresAt, nil
}
