// 文件: pkg/liquidity/service.go
// 质押池服务
//
// 职责:
// 1. 内存维护池和每个用户的质押
// 2. 每秒按动态 APR 累计未领取奖励
// 3. 所有变更进入质押写入通道，由 Syncer 批量落库
// 4. 定期全量重算 totalStaked (自愈)
//
// 并发: 自带互斥锁，和仓位账本相互独立

package liquidity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arena.com/pkg/reconcile"
)

// Service 质押池服务
type Service struct {
	mu     sync.Mutex
	cfg    Config
	pool   Pool
	stakes map[string]*Stake // userID -> stake
	apr    float64

	lastAccrual time.Time

	repo   Repository // nil 时纯内存运行
	lane   *reconcile.Lane[StakeOp]
	logger *zap.Logger
}

// NewService 创建服务，repo 可为 nil
func NewService(cfg Config, repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolID == "" {
		cfg.PoolID = DefaultConfig().PoolID
	}
	s := &Service{
		cfg:    cfg,
		pool:   Pool{ID: cfg.PoolID},
		stakes: make(map[string]*Stake),
		apr:    cfg.MaxAPR,
		repo:   repo,
		logger: logger.Named("liquidity"),
	}
	s.lane = reconcile.NewLane[StakeOp]("stakes", s.writeOps).WithCompact(CompactOps)
	return s
}

// Lane 质押写入通道，交给 Syncer 调度
func (s *Service) Lane() *reconcile.Lane[StakeOp] {
	return s.lane
}

// =============================================================================
// 加载
// =============================================================================

// Load 从存储恢复池和质押
func (s *Service) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	pool, err := s.repo.GetPool(ctx, s.cfg.PoolID)
	if err != nil && !errors.Is(err, ErrPoolNotFound) {
		return fmt.Errorf("load pool: %w", err)
	}
	stakes, err := s.repo.ListStakes(ctx, s.cfg.PoolID)
	if err != nil {
		return fmt.Errorf("load stakes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if pool != nil {
		s.pool = *pool
	}
	for _, st := range stakes {
		cp := *st
		s.stakes[st.UserID] = &cp
	}
	s.pool.TotalStaked = s.sumLocked()
	s.logger.Info("pool loaded",
		zap.String("pool", s.cfg.PoolID),
		zap.Int("stakes", len(stakes)),
		zap.String("total_staked", s.pool.TotalStaked.String()))
	return nil
}

// =============================================================================
// 用户操作
// =============================================================================

// Stake 追加质押
func (s *Service) Stake(userID string, amount decimal.Decimal, now time.Time) (Stake, error) {
	if !amount.IsPositive() {
		return Stake{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stakeLocked(userID, now)
	if st.Amount.IsZero() {
		st.StakedAt = now
	}
	st.Amount = st.Amount.Add(amount)
	st.UpdatedAt = now
	s.pool.TotalStaked = s.pool.TotalStaked.Add(amount)

	s.lane.Push(StakeOp{StakeDelta: StakeDelta{UserID: userID, PoolID: s.cfg.PoolID, AmountDelta: amount}})
	return *st, nil
}

// Unstake 赎回本金，未领取奖励保留
func (s *Service) Unstake(userID string, amount decimal.Decimal, now time.Time) (Stake, error) {
	if !amount.IsPositive() {
		return Stake{}, ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stakes[userID]
	if !ok || st.Amount.LessThan(amount) {
		return Stake{}, ErrInsufficientStake
	}
	st.Amount = st.Amount.Sub(amount)
	st.UpdatedAt = now
	s.pool.TotalStaked = s.pool.TotalStaked.Sub(amount)

	s.lane.Push(StakeOp{StakeDelta: StakeDelta{UserID: userID, PoolID: s.cfg.PoolID, AmountDelta: amount.Neg()}})
	return *st, nil
}

// Claim 领取奖励: pending -> rewards，池 totalRewards 累加
func (s *Service) Claim(userID string, now time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stakes[userID]
	if !ok || !st.PendingRewards.IsPositive() {
		return decimal.Zero, ErrNothingToClaim
	}
	claimed := st.PendingRewards
	st.Rewards = st.Rewards.Add(claimed)
	st.PendingRewards = decimal.Zero
	st.UpdatedAt = now
	s.pool.TotalRewards = s.pool.TotalRewards.Add(claimed)

	// 先把领取前的 pending 同步到存储，再由存储执行领取
	pending := claimed
	s.lane.Push(StakeOp{
		StakeDelta: StakeDelta{UserID: userID, PoolID: s.cfg.PoolID, PendingRewards: &pending},
		Claim:      true,
	})
	return claimed, nil
}

// =============================================================================
// 定时任务
// =============================================================================

// Accrue 每秒调用: 重算 APR 并累计所有质押的 pending
//
// activeCollateral 为当前所有 ACTIVE 仓位保证金之和
func (s *Service) Accrue(now time.Time, activeCollateral float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seconds := 1.0
	if !s.lastAccrual.IsZero() {
		seconds = now.Sub(s.lastAccrual).Seconds()
	}
	s.lastAccrual = now
	if seconds <= 0 {
		return s.apr
	}

	daily := DailyFeeEstimate(activeCollateral, s.cfg.FeeRate)
	s.apr = DynamicAPR(daily, s.pool.TotalStaked, s.cfg)

	for _, st := range s.stakes {
		reward := Accrue(st.Amount, s.apr, seconds)
		if reward.IsZero() {
			continue
		}
		st.PendingRewards = st.PendingRewards.Add(reward)
		st.UpdatedAt = now
		pending := st.PendingRewards
		s.lane.Push(StakeOp{StakeDelta: StakeDelta{UserID: st.UserID, PoolID: s.cfg.PoolID, PendingRewards: &pending}})
	}
	return s.apr
}

// ReconcileTotalStaked 全量重算 totalStaked
//
// 内存池按内存质押重算；存储侧调用 RecomputeAndPersistTotalStaked 修正缓存值
func (s *Service) ReconcileTotalStaked(ctx context.Context) error {
	s.mu.Lock()
	before := s.pool.TotalStaked
	s.pool.TotalStaked = s.sumLocked()
	after := s.pool.TotalStaked
	s.mu.Unlock()

	if !before.Equal(after) {
		s.logger.Warn("total staked drift corrected",
			zap.String("before", before.String()),
			zap.String("after", after.String()))
	}

	if s.repo == nil {
		return nil
	}
	pool, err := s.repo.RecomputeAndPersistTotalStaked(ctx, s.cfg.PoolID)
	if err != nil {
		return fmt.Errorf("recompute total staked: %w", err)
	}
	s.logger.Debug("store total staked recomputed", zap.String("total", pool.TotalStaked.String()))
	return nil
}

// =============================================================================
// 查询
// =============================================================================

// APR 当前年化 (%)
func (s *Service) APR() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apr
}

// Pool 池快照
func (s *Service) Pool() Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// StakeOf 用户质押快照
func (s *Service) StakeOf(userID string) (Stake, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stakes[userID]
	if !ok {
		return Stake{}, false
	}
	return *st, true
}

// Stakes 所有质押，按用户排序
func (s *Service) Stakes() []Stake {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stake, 0, len(s.stakes))
	for _, st := range s.stakes {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// =============================================================================
// 内部
// =============================================================================

func (s *Service) stakeLocked(userID string, now time.Time) *Stake {
	st, ok := s.stakes[userID]
	if !ok {
		st = &Stake{UserID: userID, PoolID: s.cfg.PoolID, StakedAt: now}
		s.stakes[userID] = st
	}
	return st
}

func (s *Service) sumLocked() decimal.Decimal {
	total := decimal.Zero
	for _, st := range s.stakes {
		total = total.Add(st.Amount)
	}
	return total
}

// writeOps 质押通道写入函数，逐条提交，失败时只重试未完成部分
func (s *Service) writeOps(ctx context.Context, ops []StakeOp) error {
	if s.repo == nil {
		return nil
	}
	for i, op := range ops {
		st, err := s.repo.UpsertUserStake(ctx, op.StakeDelta)
		if err != nil {
			return &reconcile.PartialError{Done: i, Err: err}
		}
		if op.Claim && st != nil {
			if _, err := s.repo.ClaimStakeRewards(ctx, st.ID); err != nil {
				// Delta 已写入，Claim 重试时再次写入 pending 绝对值，结果不变
				return &reconcile.PartialError{Done: i, Err: err}
			}
		}
	}
	return nil
}

// CompactOps 合并同一用户相邻的非领取操作
//
// 增量相加，pending 取最新值；Claim 作为该用户的分界点，保持先后顺序
func CompactOps(ops []StakeOp) []StakeOp {
	out := make([]StakeOp, 0, len(ops))
	open := make(map[string]int) // key -> out 中可合并的位置
	for _, op := range ops {
		key := stakeKey(op.UserID, op.PoolID)
		if op.Claim {
			delete(open, key)
			out = append(out, op)
			continue
		}
		if idx, ok := open[key]; ok {
			m := &out[idx]
			m.AmountDelta = m.AmountDelta.Add(op.AmountDelta)
			m.RewardsDelta = m.RewardsDelta.Add(op.RewardsDelta)
			if op.PendingRewards != nil {
				m.PendingRewards = op.PendingRewards
			}
			continue
		}
		open[key] = len(out)
		out = append(out, op)
	}
	return out
}
