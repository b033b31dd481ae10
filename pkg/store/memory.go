// 文件: pkg/store/memory.go
// 内存存储 (测试 / 单机演示)
//
// 除了保存数据，还提供:
// - Calls(op): 每个操作的调用次数
// - FailNext(op, n): 接下来 n 次调用返回错误，模拟存储暂时不可用

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

var _ Store = (*Memory)(nil)

// ErrInjected FailNext 注入的错误
var ErrInjected = errors.New("injected store failure")

// 操作名，用于 Calls / FailNext
const (
	OpLoadAllPositions     = "LoadAllPositions"
	OpInsertPosition       = "InsertPosition"
	OpBatchUpdatePositions = "BatchUpdatePositions"
	OpBatchInsertHistory   = "BatchInsertPnLHistory"
	OpUpsertMarket         = "UpsertMarketSnapshot"
	OpGetMarket            = "GetMarketSnapshot"
	OpInsertPriceHistory   = "InsertPriceHistory"
	OpGetPool              = "GetPool"
	OpListStakes           = "ListStakes"
	OpRecomputeTotalStaked = "RecomputeAndPersistTotalStaked"
	OpUpsertUserStake      = "UpsertUserStake"
	OpClaimStakeRewards    = "ClaimStakeRewards"
	OpGetUser              = "GetUser"
	OpApplyWalletDeltas    = "ApplyWalletDeltas"
	OpAppendLogEntries     = "AppendLogEntries"
)

// Memory 内存存储
type Memory struct {
	mu sync.Mutex

	positions map[string]*agent.Position
	history   map[string][]agent.HistorySample
	markets   map[string]market.Snapshot
	prices    []market.PriceSample
	pools     map[string]*liquidity.Pool
	stakes    map[string]*liquidity.Stake // stakeID -> stake
	users     map[string]*User
	logs      []feed.Entry

	calls map[string]int
	fail  map[string]int
}

// NewMemory 创建内存存储
func NewMemory() *Memory {
	return &Memory{
		positions: make(map[string]*agent.Position),
		history:   make(map[string][]agent.HistorySample),
		markets:   make(map[string]market.Snapshot),
		pools:     make(map[string]*liquidity.Pool),
		stakes:    make(map[string]*liquidity.Stake),
		users:     make(map[string]*User),
		calls:     make(map[string]int),
		fail:      make(map[string]int),
	}
}

func (m *Memory) Configured() bool { return true }

// FailNext 接下来 n 次 op 调用失败
func (m *Memory) FailNext(op string, n int) {
	m.mu.Lock()
	m.fail[op] = n
	m.mu.Unlock()
}

// Calls op 被调用次数 (包括失败的)
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// TotalCalls 所有写操作调用次数
func (m *Memory) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// enter 记录调用并判断是否注入失败，调用方已持有锁
func (m *Memory) enter(op string) error {
	m.calls[op]++
	if m.fail[op] > 0 {
		m.fail[op]--
		return ErrInjected
	}
	return nil
}

// =============================================================================
// 仓位
// =============================================================================

func (m *Memory) LoadAllPositions(ctx context.Context) ([]*agent.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpLoadAllPositions); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(m.positions))
	for id := range m.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*agent.Position, 0, len(ids))
	for _, id := range ids {
		p := m.positions[id].Clone()
		p.PnLHistory = nil
		samples := m.history[id]
		if over := len(samples) - agent.DefaultHistoryCap; over > 0 {
			samples = samples[over:]
		}
		for _, s := range samples {
			p.PnLHistory = append(p.PnLHistory, agent.PnLPoint{At: s.At, Value: s.Value})
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) InsertPosition(ctx context.Context, p *agent.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertPosition); err != nil {
		return err
	}
	if _, ok := m.positions[p.ID]; ok {
		return agent.ErrAgentExists
	}
	m.positions[p.ID] = p.Clone()
	return nil
}

func (m *Memory) BatchUpdatePositions(ctx context.Context, deltas []agent.Delta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpBatchUpdatePositions); err != nil {
		return err
	}
	for _, d := range deltas {
		// 不存在的 ID 忽略，和 UPDATE ... WHERE id = ? 语义一致
		if p, ok := m.positions[d.ID]; ok {
			p.Apply(d)
		}
	}
	return nil
}

func (m *Memory) BatchInsertPnLHistory(ctx context.Context, samples []agent.HistorySample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpBatchInsertHistory); err != nil {
		return err
	}
	for _, s := range samples {
		m.history[s.AgentID] = append(m.history[s.AgentID], s)
	}
	return nil
}

// Position 查询已保存的仓位 (测试用)
func (m *Memory) Position(id string) (*agent.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// History 某个仓位的全部采样 (测试用)
func (m *Memory) History(id string) []agent.HistorySample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]agent.HistorySample, len(m.history[id]))
	copy(out, m.history[id])
	return out
}

// =============================================================================
// 市场
// =============================================================================

func (m *Memory) UpsertMarketSnapshot(ctx context.Context, snap market.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertMarket); err != nil {
		return err
	}
	snap.History = append([]float64(nil), snap.History...)
	m.markets[snap.Symbol] = snap
	return nil
}

func (m *Memory) GetMarketSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetMarket); err != nil {
		return nil, err
	}
	snap, ok := m.markets[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	snap.History = append([]float64(nil), snap.History...)
	return &snap, nil
}

func (m *Memory) InsertPriceHistory(ctx context.Context, samples []market.PriceSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpInsertPriceHistory); err != nil {
		return err
	}
	m.prices = append(m.prices, samples...)
	return nil
}

// PriceSamples 已保存的价格采样 (测试用)
func (m *Memory) PriceSamples() []market.PriceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]market.PriceSample(nil), m.prices...)
}

// =============================================================================
// 质押
// =============================================================================

func (m *Memory) GetPool(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetPool); err != nil {
		return nil, err
	}
	p, ok := m.pools[poolID]
	if !ok {
		return nil, liquidity.ErrPoolNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) ListStakes(ctx context.Context, poolID string) ([]*liquidity.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpListStakes); err != nil {
		return nil, err
	}
	var out []*liquidity.Stake
	for _, s := range m.stakes {
		if s.PoolID == poolID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) RecomputeAndPersistTotalStaked(ctx context.Context, poolID string) (*liquidity.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpRecomputeTotalStaked); err != nil {
		return nil, err
	}
	total := decimal.Zero
	for _, s := range m.stakes {
		if s.PoolID == poolID {
			total = total.Add(s.Amount)
		}
	}
	p := m.poolLocked(poolID)
	p.TotalStaked = total
	p.UpdatedAt = time.Now()
	cp := *p
	return &cp, nil
}

func (m *Memory) UpsertUserStake(ctx context.Context, d liquidity.StakeDelta) (*liquidity.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpUpsertUserStake); err != nil {
		return nil, err
	}

	var st *liquidity.Stake
	for _, s := range m.stakes {
		if s.UserID == d.UserID && s.PoolID == d.PoolID {
			st = s
			break
		}
	}
	now := time.Now()
	if st == nil {
		st = &liquidity.Stake{ID: uuid.NewString(), UserID: d.UserID, PoolID: d.PoolID, StakedAt: now}
		m.stakes[st.ID] = st
	}
	applyStakeDelta(st, d, now)
	cp := *st
	return &cp, nil
}

func (m *Memory) ClaimStakeRewards(ctx context.Context, stakeID string) (*liquidity.Stake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpClaimStakeRewards); err != nil {
		return nil, err
	}
	st, ok := m.stakes[stakeID]
	if !ok {
		return nil, ErrNotFound
	}
	claimed := st.PendingRewards
	st.Rewards = st.Rewards.Add(claimed)
	st.PendingRewards = decimal.Zero
	st.UpdatedAt = time.Now()

	p := m.poolLocked(st.PoolID)
	p.TotalRewards = p.TotalRewards.Add(claimed)
	cp := *st
	return &cp, nil
}

// SetPool 直接写入池 (测试用，可制造脏数据)
func (m *Memory) SetPool(p liquidity.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[p.ID] = &p
}

func (m *Memory) poolLocked(poolID string) *liquidity.Pool {
	p, ok := m.pools[poolID]
	if !ok {
		p = &liquidity.Pool{ID: poolID}
		m.pools[poolID] = p
	}
	return p
}

// applyStakeDelta 本金不允许为负
func applyStakeDelta(st *liquidity.Stake, d liquidity.StakeDelta, now time.Time) {
	wasEmpty := st.Amount.IsZero()
	st.Amount = st.Amount.Add(d.AmountDelta)
	if st.Amount.IsNegative() {
		st.Amount = decimal.Zero
	}
	if wasEmpty && st.Amount.IsPositive() {
		st.StakedAt = now
	}
	st.Rewards = st.Rewards.Add(d.RewardsDelta)
	if d.PendingRewards != nil {
		st.PendingRewards = *d.PendingRewards
	}
	st.UpdatedAt = now
}

// =============================================================================
// 用户
// =============================================================================

func (m *Memory) GetUser(ctx context.Context, userID string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpGetUser); err != nil {
		return nil, err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) ApplyWalletDeltas(ctx context.Context, deltas []WalletDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpApplyWalletDeltas); err != nil {
		return err
	}
	now := time.Now()
	for _, d := range deltas {
		u, ok := m.users[d.UserID]
		if !ok {
			u = &User{ID: d.UserID}
			m.users[d.UserID] = u
		}
		u.Balance += d.Amount
		u.UpdatedAt = now
	}
	return nil
}

// PutUser 直接写入用户 (测试用)
func (m *Memory) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// =============================================================================
// 日志
// =============================================================================

func (m *Memory) AppendLogEntries(ctx context.Context, entries []feed.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter(OpAppendLogEntries); err != nil {
		return err
	}
	m.logs = append(m.logs, entries...)
	return nil
}

// Logs 已保存的日志 (测试用)
func (m *Memory) Logs() []feed.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]feed.Entry(nil), m.logs...)
}

func (m *Memory) Close() error { return nil }
