package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"quentry-gateway/pkg/platform/sentinel"
)

const keyPrefix = "qgw:session:"

// RedisStore is the shared backend. Read and delete failures are swallowed
// and reported as absence so a flaky Redis degrades session reads instead of
// failing every request; write failures surface as sentinel.ErrUnavailable.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedis constructs the shared store around an established client.
func NewRedis(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// Get returns the value for key, or sentinel.ErrNotFound when the key is
// absent or Redis is unreachable.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "session store read failed, treating as absent",
				"key", key,
				"error", err,
			)
		}
		return nil, sentinel.ErrNotFound
	}
	return value, nil
}

// Set stores value under key with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("session store write: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Delete removes key. Failures are swallowed: the record's TTL remains as a
// backstop and the next read treats it as absent anyway.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, keyPrefix+key).Err(); err != nil {
		s.logger.WarnContext(ctx, "session store delete failed, ignoring",
			"key", key,
			"error", err,
		)
	}
	return nil
}
