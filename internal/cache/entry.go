package cache

import (
	"time"
)

// Clock returns the current time. Tests inject a fake one to simulate TTLs.
type Clock func() time.Time

// Entry is one cached value. Value is opaque to the cache; callers must not
// modify a slice they passed in or received.
type Entry struct {
	Key          string    `json:"key"`
	Value        []byte    `json:"value"`
	CreatedAt    time.Time `json:"createdAt"`
	ExpiresAt    time.Time `json:"expiresAt,omitzero"`
	AccessCount  int64     `json:"accessCount"`
	LastAccessed time.Time `json:"lastAccessed,omitzero"`
	SizeBytes    int       `json:"sizeBytes"`
}

func newEntry(key string, value []byte, now time.Time, ttl time.Duration) *Entry {
	e := &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		SizeBytes: len(key) + len(value),
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// HasTTL reports whether the entry expires at all.
func (e *Entry) HasTTL() bool {
	return !e.ExpiresAt.IsZero()
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return e.HasTTL() && !now.Before(e.ExpiresAt)
}

// Remaining is the time left before expiry, or 0 for entries without a TTL.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if !e.HasTTL() {
		return 0
	}
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
