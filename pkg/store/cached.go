// 文件: pkg/store/cached.go
// Redis 缓存装饰器
//
// 【缓存策略】Cache Aside
// - 读: 先查 Redis，miss 则查底层并回填
// - 写: 先写底层，成功后删除相关缓存
//
// 只缓存低频变化、读多的数据: 市场快照、质押池、用户钱包；
// 其他操作直接透传给被装饰的 Store

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

var _ Store = (*CachedStore)(nil)

const (
	cacheKeyPrefix = "arena:"
	cacheKeyMarket = cacheKeyPrefix + "market:%s"
	cacheKeyPool   = cacheKeyPrefix + "pool:%s"
	cacheKeyUser   = cacheKeyPrefix + "user:%s"

	DefaultCacheTTL = 30 * time.Second
)

// CachedStore Redis 缓存装饰器
type CachedStore struct {
	Store  // 被装饰的底层存储，未覆盖的方法直接透传
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore 包装底层存储
//
//	gs, _ := store.Open(cfg)
//	st := store.NewCachedStore(gs, rdb, 30*time.Second, logger)
func NewCachedStore(base Store, rds *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		Store:  base,
		redis:  rds,
		ttl:    ttl,
		logger: logger.Named("cache"),
	}
}

// =============================================================================
// 读操作 (带缓存)
// =============================================================================

func (c *CachedStore) GetMarketSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	return getOrLoad(ctx, c, fmt.Sprintf(cacheKeyMarket, symbol), func() (*market.Snapshot, error) {
		return c.Store.GetMarketSnapshot(ctx, symbol)
	})
}

func (c *CachedStore) GetPool(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	return getOrLoad(ctx, c, fmt.Sprintf(cacheKeyPool, poolID), func() (*liquidity.Pool, error) {
		return c.Store.GetPool(ctx, poolID)
	})
}

func (c *CachedStore) GetUser(ctx context.Context, userID string) (*User, error) {
	return getOrLoad(ctx, c, fmt.Sprintf(cacheKeyUser, userID), func() (*User, error) {
		return c.Store.GetUser(ctx, userID)
	})
}

// getOrLoad 查缓存，miss 时调用 load 并回填
// Redis 不可用时退化为直接读底层
func getOrLoad[T any](ctx context.Context, c *CachedStore, key string, load func() (*T, error)) (*T, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	} else if err != redis.Nil {
		c.logger.Debug("cache get failed", zap.String("key", key), zap.Error(err))
	}

	v, err := load()
	if err != nil {
		return nil, err
	}
	c.set(ctx, key, v)
	return v, nil
}

// =============================================================================
// 写操作 (写底层 + 删缓存)
// =============================================================================

func (c *CachedStore) UpsertMarketSnapshot(ctx context.Context, snap market.Snapshot) error {
	if err := c.Store.UpsertMarketSnapshot(ctx, snap); err != nil {
		return err
	}
	c.del(ctx, fmt.Sprintf(cacheKeyMarket, snap.Symbol))
	return nil
}

func (c *CachedStore) RecomputeAndPersistTotalStaked(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	pool, err := c.Store.RecomputeAndPersistTotalStaked(ctx, poolID)
	if err != nil {
		return nil, err
	}
	c.del(ctx, fmt.Sprintf(cacheKeyPool, poolID))
	return pool, nil
}

func (c *CachedStore) ClaimStakeRewards(ctx context.Context, stakeID string) (*liquidity.Stake, error) {
	st, err := c.Store.ClaimStakeRewards(ctx, stakeID)
	if err != nil {
		return nil, err
	}
	c.del(ctx, fmt.Sprintf(cacheKeyPool, st.PoolID))
	return st, nil
}

func (c *CachedStore) ApplyWalletDeltas(ctx context.Context, deltas []WalletDelta) error {
	if err := c.Store.ApplyWalletDeltas(ctx, deltas); err != nil {
		return err
	}
	keys := make([]string, 0, len(deltas))
	for _, d := range deltas {
		keys = append(keys, fmt.Sprintf(cacheKeyUser, d.UserID))
	}
	c.del(ctx, keys...)
	return nil
}

func (c *CachedStore) AppendLogEntries(ctx context.Context, entries []feed.Entry) error {
	return c.Store.AppendLogEntries(ctx, entries)
}

// Close 关闭底层存储，Redis 客户端由调用方管理
func (c *CachedStore) Close() error {
	return c.Store.Close()
}

// =============================================================================
// 缓存操作
// =============================================================================

func (c *CachedStore) set(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Debug("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedStore) del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache invalidate failed", zap.Strings("keys", keys), zap.Error(err))
	}
}
