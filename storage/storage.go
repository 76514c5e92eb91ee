package storage

import (
	"errors"
)

// ErrInvalidExpire is returned when a TTL cannot be turned into an absolute
// expiry, i.e. now + ttl overflows the clock.
var ErrInvalidExpire = errors.New("invalid expire time")

// Storage defines the key-value surface the command handler depends on
type Storage interface {
	// Set stores value under key, replacing any previous entry and its TTL.
	// ttl is in milliseconds; nil means no expiry.
	Set(key, value string, ttl *uint64) error

	// Get returns the value for key, or false if absent or expired
	Get(key string) (string, bool)

	// Len returns the number of stored entries, including expired ones
	// that have not been read since they expired
	Len() int
}

// Observer provides hooks for storage events
type Observer interface {
	OnKeySet(key string)
	OnKeyExpired(key string)
}
