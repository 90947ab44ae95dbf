package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/hybrid-retrieval-core/pkg/redis"
)

// RedisStore keeps entries in Redis as JSON envelopes carrying their own
// expiry timestamp.
type RedisStore struct {
	client *pkgredis.Client
	prefix string
	now    Clock
	logger *slog.Logger
}

func NewRedisStore(client *pkgredis.Client, prefix string, now Clock) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    now,
		logger: slog.Default().With("component", "cache-redis"),
	}
}

func (s *RedisStore) Name() string { return "redis" }

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.GetBytes(ctx, s.prefix+key)
	if err != nil {
		if pkgredis.IsNilError(err) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("%w: redis get %s: %w", apperrors.ErrCacheRead, key, err)
	}
	e, err := decodeEntry(key, data)
	if err != nil {
		return nil, err
	}
	if e.Expired(s.now()) {
		if err := s.client.Del(ctx, s.prefix+key); err != nil {
			s.logger.Warn("deleting expired entry failed", "key", key, "error", err)
		}
		return nil, ErrMiss
	}
	return e, nil
}

func (s *RedisStore) Set(ctx context.Context, e *Entry) error {
	data, err := encodeEntry(e)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+e.Key, data, backendTTL(e, s.now())); err != nil {
		return fmt.Errorf("%w: redis set %s: %w", apperrors.ErrCacheWrite, e.Key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...); err != nil {
		return fmt.Errorf("%w: redis del: %w", apperrors.ErrCacheWrite, err)
	}
	return nil
}

// Sweep scans the prefix and deletes every entry whose envelope has expired.
func (s *RedisStore) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired []string
	err := s.client.ScanKeys(ctx, s.prefix+"*", func(fullKey string) error {
		data, err := s.client.GetBytes(ctx, fullKey)
		if err != nil {
			if pkgredis.IsNilError(err) {
				return nil
			}
			return err
		}
		e, err := decodeEntry(fullKey, data)
		if err != nil {
			s.logger.Warn("dropping undecodable entry", "key", fullKey, "error", err)
			expired = append(expired, fullKey)
			return nil
		}
		if e.Expired(now) {
			expired = append(expired, fullKey)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: redis sweep: %w", apperrors.ErrCacheRead, err)
	}
	if err := s.client.Del(ctx, expired...); err != nil {
		return 0, fmt.Errorf("%w: redis sweep delete: %w", apperrors.ErrCacheWrite, err)
	}
	return len(expired), nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
