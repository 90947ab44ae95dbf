package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	pkgbadger "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/badger"
	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
)

// BadgerStore keeps entries in an embedded Badger database. Badger calls do
// not block on the network, so the context is only checked up front.
type BadgerStore struct {
	backend *pkgbadger.Backend
	prefix  string
	now     Clock
	logger  *slog.Logger
}

func NewBadgerStore(backend *pkgbadger.Backend, prefix string, now Clock) *BadgerStore {
	if now == nil {
		now = time.Now
	}
	return &BadgerStore{
		backend: backend,
		prefix:  prefix,
		now:     now,
		logger:  slog.Default().With("component", "cache-badger"),
	}
}

func (s *BadgerStore) Name() string { return "badger" }

func (s *BadgerStore) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCacheRead, err)
	}
	data, err := s.backend.Get(s.prefix + key)
	if err != nil {
		if errors.Is(err, pkgbadger.ErrNotFound) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: %w", apperrors.ErrCacheRead, err)
	}
	e, err := decodeEntry(key, data)
	if err != nil {
		return nil, err
	}
	if e.Expired(s.now()) {
		if err := s.backend.Delete(s.prefix + key); err != nil {
			s.logger.Warn("deleting expired entry failed", "key", key, "error", err)
		}
		return nil, ErrMiss
	}
	return e, nil
}

func (s *BadgerStore) Set(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCacheWrite, err)
	}
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := s.backend.Set(s.prefix+e.Key, data, backendTTL(e, s.now())); err != nil {
		return fmt.Errorf("%w: badger set %s: %w", apperrors.ErrCacheWrite, e.Key, err)
	}
	return nil
}

func (s *BadgerStore) Delete(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrCacheWrite, err)
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.backend.Delete(full...); err != nil {
		return fmt.Errorf("%w: badger delete: %w", apperrors.ErrCacheWrite, err)
	}
	return nil
}

// Sweep collects expired keys under the prefix, then deletes them in one
// transaction.
func (s *BadgerStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := s.backend.ScanPrefix(s.prefix, func(fullKey string, value []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := decodeEntry(fullKey, value)
		if err != nil || e.Expired(now) {
			expired = append(expired, fullKey)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: badger sweep: %w", apperrors.ErrCacheRead, err)
	}
	if err := s.backend.Delete(expired...); err != nil {
		return 0, fmt.Errorf("%w: badger sweep delete: %w", apperrors.ErrCacheWrite, err)
	}
	return len(expired), nil
}

func (s *BadgerStore) Ping(_ context.Context) error {
	if s.backend.IsClosed() {
		return errors.New("badger is closed")
	}
	return nil
}
