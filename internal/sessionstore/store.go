// Package sessionstore is the key-value persistence layer for session records.
// Two interchangeable backends implement Store: a shared Redis store visible
// across process instances and a local in-process fallback. Selection happens
// once at startup; call sites never feature-detect.
package sessionstore

import (
	"context"
	"log/slog"
	"time"

	platformredis "quentry-gateway/internal/platform/redis"
)

// Store persists serialized session records with TTL semantics.
//
// Get returns sentinel.ErrNotFound for absent keys. Implementations favor
// availability on reads: backend read failures are reported as absence.
// Set failures always surface, since silently losing a freshly written
// session would corrupt state.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Select picks the backend for this process: the shared Redis store when a
// healthy client is available, the local fallback otherwise. The fallback
// keeps the gateway serving logins when Redis is down, at the cost of
// sessions being invisible to other instances.
func Select(client *platformredis.Client, logger *slog.Logger) Store {
	if client != nil {
		return NewRedis(client, logger)
	}
	logger.Warn("session store degraded: redis unavailable, using in-process fallback")
	return NewMemory()
}
