//go:build integration

package deduplication

import (
	"context"
	"testing"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	redismodule "github.com/testcontainers/testcontainers-go/modules/redis"

	"workfeed/internal/config"
	"workfeed/internal/logger"
)

func setupRedis(t *testing.T) *redisclient.Client {
	t.Helper()
	ctx := context.Background()

	container, err := redismodule.Run(ctx, "redis:8.4.0-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	opt, err := redisclient.ParseURL(uri)
	require.NoError(t, err)

	client := redisclient.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(pingCtx).Err())

	t.Cleanup(func() {
		client.Close()
	})
	return client
}

func TestRedisRepository_SetNX(t *testing.T) {
	client := setupRedis(t)
	repo := NewRepository(client)
	ctx := context.Background()

	ok, err := repo.SetNX(ctx, "notify:1", time.Now().Unix(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.SetNX(ctx, "notify:1", time.Now().Unix(), 5*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	size, err := repo.GetCacheSize(ctx, "notify:")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestGuard_TwoReplicasShareRedis(t *testing.T) {
	client := setupRedis(t)
	cfg := config.GuardConfig{TTLSeconds: 30, OnRedisError: "deny"}

	replicaA := NewGuard(NewRepository(client), cfg, logger.NopLogger())
	replicaB := NewGuard(NewCircuitBreakerRepository(NewRepository(client), config.CircuitBreakerConfig{Enabled: true}), cfg, logger.NopLogger())
	ctx := context.Background()

	first, err := replicaA.Claim(ctx, "77")
	require.NoError(t, err)
	second, err := replicaB.Claim(ctx, "77")
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}
