// Package storage provides the shared in-memory key-value store.
//
// Keys are spread over power-of-two shards selected by xxhash, each guarded
// by its own mutex held for a single get or set. A TTL is converted once, at
// insertion, into an absolute expiry. Expired entries are removed lazily by
// the read that observes them.
//
// Basic usage:
//
//	store := storage.NewMemory()
//	err := store.Set("key", "value", nil)
//	value, exists := store.Get("key")
package storage
