package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

// ErrMiss is returned by a Store when a key is absent or has expired.
var ErrMiss = errors.New("cache: miss")

// expiryGrace extends the backend-native TTL past the logical expiry so the
// lazy check on read stays authoritative.
const expiryGrace = time.Minute

// Store is the durable second tier. Implementations check the entry's expiry
// lazily on read: an expired read deletes the key and returns ErrMiss.
type Store interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, keys ...string) error
	// Sweep removes every expired entry and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

func encodeEntry(e *Entry) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", apperrors.ErrCacheWrite, e.Key, err)
	}
	return data, nil
}

func decodeEntry(key string, data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %w", apperrors.ErrCacheRead, key, err)
	}
	return &e, nil
}

// backendTTL is the native TTL to request from a backend for e.
func backendTTL(e *Entry, now time.Time) time.Duration {
	if !e.HasTTL() {
		return 0
	}
	return e.Remaining(now) + expiryGrace
}
