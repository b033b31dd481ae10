package store

import (
	"context"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

var _ Store = Noop{}

// Noop 未配置存储: 写入直接成功，读取为空
type Noop struct{}

func (Noop) Configured() bool { return false }

func (Noop) LoadAllPositions(context.Context) ([]*agent.Position, error)        { return nil, nil }
func (Noop) InsertPosition(context.Context, *agent.Position) error              { return nil }
func (Noop) BatchUpdatePositions(context.Context, []agent.Delta) error          { return nil }
func (Noop) BatchInsertPnLHistory(context.Context, []agent.HistorySample) error { return nil }

func (Noop) UpsertMarketSnapshot(context.Context, market.Snapshot) error { return nil }
func (Noop) GetMarketSnapshot(context.Context, string) (*market.Snapshot, error) {
	return nil, ErrNotFound
}
func (Noop) InsertPriceHistory(context.Context, []market.PriceSample) error { return nil }

func (Noop) GetPool(context.Context, string) (*liquidity.Pool, error) {
	return nil, liquidity.ErrPoolNotFound
}
func (Noop) ListStakes(context.Context, string) ([]*liquidity.Stake, error) { return nil, nil }
func (Noop) RecomputeAndPersistTotalStaked(_ context.Context, poolID string) (*liquidity.Pool, error) {
	return &liquidity.Pool{ID: poolID}, nil
}
func (Noop) UpsertUserStake(_ context.Context, d liquidity.StakeDelta) (*liquidity.Stake, error) {
	return &liquidity.Stake{UserID: d.UserID, PoolID: d.PoolID}, nil
}
func (Noop) ClaimStakeRewards(_ context.Context, stakeID string) (*liquidity.Stake, error) {
	return &liquidity.Stake{ID: stakeID}, nil
}

func (Noop) GetUser(context.Context, string) (*User, error)         { return nil, ErrNotFound }
func (Noop) ApplyWalletDeltas(context.Context, []WalletDelta) error { return nil }

func (Noop) AppendLogEntries(context.Context, []feed.Entry) error { return nil }

func (Noop) Close() error { return nil }
