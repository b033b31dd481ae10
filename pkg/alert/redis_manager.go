// 文件: pkg/alert/redis_manager.go
// Redis 去重 (SET NX + 过期时间)

package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Gate = (*RedisGate)(nil)

// RedisGate 多个进程共享去重状态
type RedisGate struct {
	client *redis.Client
}

func NewRedisGate(client *redis.Client) *RedisGate {
	return &RedisGate{client: client}
}

func (g *RedisGate) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return g.client.SetNX(ctx, key, "1", ttl).Result()
}
