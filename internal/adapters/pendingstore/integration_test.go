package pendingstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/kevin07696/subscription-checkout/internal/adapters/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPostgresBackend(t *testing.T) {
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	adapter, err := database.NewPostgreSQLAdapter(ctx, database.DefaultPostgreSQLConfig(databaseURL), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(adapter.Close)
	_, err = adapter.Migrate(ctx)
	require.NoError(t, err)

	runStoreSuite(t, NewPostgresBackend(adapter.Pool()))
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 13})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestRedisBackend(t *testing.T) {
	client := newTestRedis(t)
	runStoreSuite(t, NewRedisBackend(client, "test:", 0))
}

func TestRedisBackend_TTL(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	store := NewRedisBackend(client, "test:", time.Hour).ForUser("user-ttl")
	require.NoError(t, store.Write(ctx, testRecord("ORD-1")))

	ttl, err := client.TTL(ctx, "test:pending_payment:user-ttl").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 59*time.Minute)
}
