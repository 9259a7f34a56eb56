//go:build integration

package lease

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	testcontainers.CleanupContainer(t, ctr)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedis(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	t.Run("single owner", func(t *testing.T) {
		a := NewRedis(client, "lease:single", time.Minute)
		b := NewRedis(client, "lease:single", time.Minute)

		ok, err := a.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = b.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		// b does not own the lease, so its release leaves a in place.
		require.NoError(t, b.Release(ctx))
		ok, err = b.TryAcquire(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, a.Release(ctx))
		ok, err = b.TryAcquire(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expires", func(t *testing.T) {
		a := NewRedis(client, "lease:ttl", 200*time.Millisecond)
		b := NewRedis(client, "lease:ttl", time.Minute)

		ok, err := a.TryAcquire(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		require.Eventually(t, func() bool {
			ok, err := b.TryAcquire(ctx)
			return err == nil && ok
		}, 5*time.Second, 50*time.Millisecond)

		// a's lease expired and b took over; a stale release must not free it.
		require.NoError(t, a.Release(ctx))
		val, err := client.Get(ctx, "lease:ttl").Result()
		require.NoError(t, err)
		assert.Equal(t, b.token, val)
	})
}
