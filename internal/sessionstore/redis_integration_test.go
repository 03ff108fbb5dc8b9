//go:build integration

package sessionstore_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"quentry-gateway/internal/sessionstore"
	"quentry-gateway/pkg/platform/sentinel"
	"quentry-gateway/pkg/testutil/containers"
)

type RedisStoreIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *sessionstore.RedisStore
}

func TestRedisStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreIntegrationSuite))
}

func (s *RedisStoreIntegrationSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = sessionstore.NewRedis(s.redis.Client, slog.Default())
}

func (s *RedisStoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreIntegrationSuite) TestRoundTripWithTTL() {
	ctx := context.Background()

	err := s.store.Set(ctx, "upstream:alice", []byte(`{"token":"EU_abc123"}`), time.Hour)
	s.Require().NoError(err)

	value, err := s.store.Get(ctx, "upstream:alice")
	s.Require().NoError(err)
	s.Equal([]byte(`{"token":"EU_abc123"}`), value)

	ttl := s.redis.Client.TTL(ctx, "qgw:session:upstream:alice").Val()
	s.Positive(ttl)
	s.LessOrEqual(ttl, time.Hour)
}

func (s *RedisStoreIntegrationSuite) TestShortTTLExpires() {
	ctx := context.Background()

	err := s.store.Set(ctx, "upstream:bob", []byte("v"), time.Second)
	s.Require().NoError(err)

	s.Eventually(func() bool {
		_, err := s.store.Get(ctx, "upstream:bob")
		return err != nil
	}, 5*time.Second, 200*time.Millisecond)

	_, err = s.store.Get(ctx, "upstream:bob")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreIntegrationSuite) TestDeleteRemovesAcrossClients() {
	ctx := context.Background()

	s.Require().NoError(s.store.Set(ctx, "identity:alice", []byte("v"), time.Hour))
	s.Require().NoError(s.store.Delete(ctx, "identity:alice"))

	other := sessionstore.NewRedis(s.redis.Client, slog.Default())
	_, err := other.Get(ctx, "identity:alice")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}
