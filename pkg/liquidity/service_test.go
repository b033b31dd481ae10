package liquidity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Mock Repository
// =============================================================================

type mockRepo struct {
	pool    Pool
	stakes  map[string]*Stake
	failOps int32 // 前 N 次 Upsert 失败

	upsertCalls    int32
	claimCalls     int32
	recomputeCalls int32
}

func newMockRepo() *mockRepo {
	return &mockRepo{pool: Pool{ID: "main"}, stakes: map[string]*Stake{}}
}

func (m *mockRepo) GetPool(ctx context.Context, poolID string) (*Pool, error) {
	p := m.pool
	return &p, nil
}

func (m *mockRepo) ListStakes(ctx context.Context, poolID string) ([]*Stake, error) {
	var out []*Stake
	for _, s := range m.stakes {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRepo) RecomputeAndPersistTotalStaked(ctx context.Context, poolID string) (*Pool, error) {
	atomic.AddInt32(&m.recomputeCalls, 1)
	total := decimal.Zero
	for _, s := range m.stakes {
		total = total.Add(s.Amount)
	}
	m.pool.TotalStaked = total
	p := m.pool
	return &p, nil
}

func (m *mockRepo) UpsertUserStake(ctx context.Context, d StakeDelta) (*Stake, error) {
	n := atomic.AddInt32(&m.upsertCalls, 1)
	if n <= m.failOps {
		return nil, errors.New("db down")
	}
	s, ok := m.stakes[d.UserID]
	if !ok {
		s = &Stake{ID: "s-" + d.UserID, UserID: d.UserID, PoolID: d.PoolID}
		m.stakes[d.UserID] = s
	}
	s.Amount = s.Amount.Add(d.AmountDelta)
	s.Rewards = s.Rewards.Add(d.RewardsDelta)
	if d.PendingRewards != nil {
		s.PendingRewards = *d.PendingRewards
	}
	cp := *s
	return &cp, nil
}

func (m *mockRepo) ClaimStakeRewards(ctx context.Context, stakeID string) (*Stake, error) {
	atomic.AddInt32(&m.claimCalls, 1)
	for _, s := range m.stakes {
		if s.ID == stakeID {
			m.pool.TotalRewards = m.pool.TotalRewards.Add(s.PendingRewards)
			s.Rewards = s.Rewards.Add(s.PendingRewards)
			s.PendingRewards = decimal.Zero
			cp := *s
			return &cp, nil
		}
	}
	return nil, errors.New("stake not found")
}

var t0 = time.Unix(1700000000, 0)

// =============================================================================
// APR 测试
// =============================================================================

func TestDynamicAPR_Clamped(t *testing.T) {
	cfg := DefaultConfig()

	// 质押为 0: 上限
	assert.Equal(t, cfg.MaxAPR, DynamicAPR(decimal.NewFromInt(10), decimal.Zero, cfg))

	// 手续费极少: 下限
	assert.Equal(t, cfg.MinAPR, DynamicAPR(decimal.NewFromFloat(0.01), decimal.NewFromInt(1_000_000), cfg))

	// 手续费极多: 上限
	assert.Equal(t, cfg.MaxAPR, DynamicAPR(decimal.NewFromInt(1000), decimal.NewFromInt(100), cfg))
}

func TestDynamicAPR_InsideBand(t *testing.T) {
	cfg := DefaultConfig()
	// daily = 100000 * 0.001 = 100; annual = 36500; /36500 staked = 1; *0.7*100 = 70
	daily := DailyFeeEstimate(100000, cfg.FeeRate)
	apr := DynamicAPR(daily, decimal.NewFromInt(36500), cfg)
	assert.InDelta(t, 70, apr, 1e-9)
}

func TestAccrue_PerSecond(t *testing.T) {
	amount := decimal.NewFromInt(SecondsPerYear)
	// 100% APR，一年秒数的本金，每秒 1
	got := Accrue(amount, 100, 1)
	assert.True(t, got.Equal(decimal.NewFromInt(1)), got.String())
	assert.True(t, Accrue(decimal.Zero, 100, 1).IsZero())
}

// =============================================================================
// Service 测试
// =============================================================================

func TestService_StakeUnstake(t *testing.T) {
	s := NewService(DefaultConfig(), nil, zap.NewNop())

	_, err := s.Stake("u1", decimal.NewFromInt(100), t0)
	require.NoError(t, err)
	_, err = s.Stake("u2", decimal.NewFromInt(50), t0)
	require.NoError(t, err)

	assert.True(t, s.Pool().TotalStaked.Equal(decimal.NewFromInt(150)))

	_, err = s.Unstake("u1", decimal.NewFromInt(200), t0)
	assert.ErrorIs(t, err, ErrInsufficientStake)
	_, err = s.Stake("u1", decimal.NewFromInt(-1), t0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	st, err := s.Unstake("u1", decimal.NewFromInt(40), t0)
	require.NoError(t, err)
	assert.True(t, st.Amount.Equal(decimal.NewFromInt(60)))
	assert.True(t, s.Pool().TotalStaked.Equal(decimal.NewFromInt(110)))
}

func TestService_AccrueAndClaim(t *testing.T) {
	cfg := DefaultConfig()
	s := NewService(cfg, nil, zap.NewNop())
	_, err := s.Stake("u1", decimal.NewFromInt(1_000_000), t0)
	require.NoError(t, err)

	_, err = s.Claim("u1", t0)
	assert.ErrorIs(t, err, ErrNothingToClaim)

	// 没有 ACTIVE 仓位: APR 取下限
	apr := s.Accrue(t0, 0)
	assert.Equal(t, cfg.MinAPR, apr)
	s.Accrue(t0.Add(time.Second), 0)

	st, _ := s.StakeOf("u1")
	require.True(t, st.PendingRewards.IsPositive())

	claimed, err := s.Claim("u1", t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, claimed.Equal(st.PendingRewards))

	st, _ = s.StakeOf("u1")
	assert.True(t, st.PendingRewards.IsZero())
	assert.True(t, st.Rewards.Equal(claimed))
	assert.True(t, s.Pool().TotalRewards.Equal(claimed))
}

func TestService_FlushThroughLane(t *testing.T) {
	repo := newMockRepo()
	s := NewService(DefaultConfig(), repo, zap.NewNop())
	ctx := context.Background()

	_, _ = s.Stake("u1", decimal.NewFromInt(1000), t0)
	s.Accrue(t0, 50000)
	s.Accrue(t0.Add(time.Second), 50000)
	claimed, err := s.Claim("u1", t0.Add(time.Second))
	require.NoError(t, err)

	require.NoError(t, s.Lane().Flush(ctx))

	// stake + 两次 accrue 合并为一条，claim 单独一条
	assert.Equal(t, int32(2), atomic.LoadInt32(&repo.upsertCalls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.claimCalls))

	stored := repo.stakes["u1"]
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, stored.Rewards.Equal(claimed))
	assert.True(t, stored.PendingRewards.IsZero())
	assert.True(t, repo.pool.TotalRewards.Equal(claimed))
}

func TestService_FlushFailureRetriesWithoutDoubleCount(t *testing.T) {
	repo := newMockRepo()
	repo.failOps = 1
	s := NewService(DefaultConfig(), repo, zap.NewNop())
	ctx := context.Background()

	_, _ = s.Stake("u1", decimal.NewFromInt(10), t0)
	require.Error(t, s.Lane().Flush(ctx))
	require.NoError(t, s.Lane().Flush(ctx))

	assert.True(t, repo.stakes["u1"].Amount.Equal(decimal.NewFromInt(10)))
}

func TestService_ReconcileSelfHeals(t *testing.T) {
	repo := newMockRepo()
	repo.stakes["a"] = &Stake{ID: "1", UserID: "a", Amount: decimal.NewFromInt(30)}
	repo.stakes["b"] = &Stake{ID: "2", UserID: "b", Amount: decimal.NewFromInt(12)}
	// 缓存值被破坏
	repo.pool.TotalStaked = decimal.NewFromInt(999)

	s := NewService(DefaultConfig(), repo, zap.NewNop())
	require.NoError(t, s.Load(context.Background()))
	assert.True(t, s.Pool().TotalStaked.Equal(decimal.NewFromInt(42)))

	require.NoError(t, s.ReconcileTotalStaked(context.Background()))
	assert.True(t, repo.pool.TotalStaked.Equal(decimal.NewFromInt(42)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&repo.recomputeCalls))
	assert.Len(t, s.Stakes(), 2)
}

func TestCompactOps(t *testing.T) {
	p1 := decimal.NewFromInt(1)
	p2 := decimal.NewFromInt(2)
	ops := []StakeOp{
		{StakeDelta: StakeDelta{UserID: "a", AmountDelta: decimal.NewFromInt(5)}},
		{StakeDelta: StakeDelta{UserID: "b", AmountDelta: decimal.NewFromInt(1)}},
		{StakeDelta: StakeDelta{UserID: "a", PendingRewards: &p1}},
		{StakeDelta: StakeDelta{UserID: "a", PendingRewards: &p2}, Claim: true},
		{StakeDelta: StakeDelta{UserID: "a", AmountDelta: decimal.NewFromInt(3)}},
	}

	out := CompactOps(ops)

	require.Len(t, out, 4)
	assert.True(t, out[0].AmountDelta.Equal(decimal.NewFromInt(5)))
	assert.True(t, out[0].PendingRewards.Equal(p1))
	assert.Equal(t, "b", out[1].UserID)
	assert.True(t, out[2].Claim)
	assert.True(t, out[3].AmountDelta.Equal(decimal.NewFromInt(3)))
}
