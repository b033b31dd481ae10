package alert

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena.com/pkg/agent"
)

// setupRedis 本地 Redis (localhost:6379, DB 15)，不可用时跳过
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	client.FlushDB(context.Background())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisGate_Acquire(t *testing.T) {
	client := setupRedis(t)
	g := NewRedisGate(client)
	ctx := context.Background()

	ok, err := g.Acquire(ctx, "arena:alert:test", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.Acquire(ctx, "arena:alert:test", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ttl, err := client.TTL(ctx, "arena:alert:test").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisGate_SharedAcrossWatchers(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	p := userPosition("7", agent.RiskLevelCritical)

	a := NewWatcher(NewRedisGate(client), agent.RiskLevelDanger, nil)
	b := NewWatcher(NewRedisGate(client), agent.RiskLevelDanger, nil)

	assert.Len(t, a.Scan(ctx, []*agent.Position{p}), 1)
	assert.Empty(t, b.Scan(ctx, []*agent.Position{p}))
}
