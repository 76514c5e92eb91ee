package storage

import "time"

// Item is a stored value with its absolute expiry
type Item struct {
	Value     string
	ExpiresAt time.Time // zero means no expiry
}

// HasExpiry reports whether the item carries a TTL
func (i *Item) HasExpiry() bool {
	return !i.ExpiresAt.IsZero()
}

// IsExpired returns true if the item has expired at now
func (i *Item) IsExpired(now time.Time) bool {
	return i.HasExpiry() && !now.Before(i.ExpiresAt)
}
