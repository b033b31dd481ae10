// 文件: pkg/liquidity/model.go
// 流动性质押池数据结构
//
// 金额统一用 decimal，避免累计利息时的浮点误差

package liquidity

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInsufficientStake = errors.New("insufficient stake")
	ErrNothingToClaim    = errors.New("nothing to claim")
	ErrPoolNotFound      = errors.New("pool not found")
)

// Pool 质押池
// TotalStaked 必须等于所有质押之和，由定期全量重算保证
type Pool struct {
	ID           string
	TotalStaked  decimal.Decimal
	TotalRewards decimal.Decimal // 已领取奖励累计
	UpdatedAt    time.Time
}

// Stake 用户质押
type Stake struct {
	ID             string
	UserID         string
	PoolID         string
	Amount         decimal.Decimal // 本金
	Rewards        decimal.Decimal // 已领取累计
	PendingRewards decimal.Decimal // 未领取
	StakedAt       time.Time
	UpdatedAt      time.Time
}

// StakeDelta 质押增量
// AmountDelta / RewardsDelta 为增量；PendingRewards 为绝对值，nil 表示不修改
type StakeDelta struct {
	UserID         string
	PoolID         string
	AmountDelta    decimal.Decimal
	RewardsDelta   decimal.Decimal
	PendingRewards *decimal.Decimal
}

// StakeOp 写入通道中的一条操作
// Claim=true 时先写入 Delta，再把存储中的 pending 转入 rewards
type StakeOp struct {
	StakeDelta
	Claim bool
}

// Repository 质押存储
type Repository interface {
	GetPool(ctx context.Context, poolID string) (*Pool, error)
	ListStakes(ctx context.Context, poolID string) ([]*Stake, error)
	RecomputeAndPersistTotalStaked(ctx context.Context, poolID string) (*Pool, error)
	UpsertUserStake(ctx context.Context, d StakeDelta) (*Stake, error)
	ClaimStakeRewards(ctx context.Context, stakeID string) (*Stake, error)
}

func stakeKey(userID, poolID string) string {
	return userID + "|" + poolID
}
