// 文件: pkg/sim/ops.go
// 用户操作
//
// 【流程】
// 1. 校验 (失败时返回错误并写一条 ERROR 事件)
// 2. 修改内存状态 (账本 / 钱包 / 质押池)
// 3. 增量推入写入通道，由 Syncer 落库

package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/population"
	"arena.com/pkg/store"
)

var (
	ErrNotIdle   = fmt.Errorf("%w: agent not idle", agent.ErrInvalidTransition)
	ErrNotActive = fmt.Errorf("%w: agent not active", agent.ErrInvalidTransition)
)

// =============================================================================
// 钱包
// =============================================================================

// Wallet 用户余额，首次访问时从存储加载
func (s *Simulation) Wallet(ctx context.Context, userID string) (float64, error) {
	if err := s.ensureWallet(ctx, userID); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallets[userID], nil
}

// ensureWallet 存储读取在锁外进行
func (s *Simulation) ensureWallet(ctx context.Context, userID string) error {
	s.mu.Lock()
	_, ok := s.wallets[userID]
	s.mu.Unlock()
	if ok {
		return nil
	}

	balance := s.cfg.StartingWallet
	fresh := true
	if s.store.Configured() {
		u, err := s.store.GetUser(ctx, userID)
		switch {
		case err == nil:
			balance = u.Balance
			fresh = false
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("load wallet %s: %w", userID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.wallets[userID]; ok {
		return nil
	}
	s.wallets[userID] = balance
	if fresh {
		s.lanes.wallet.Push(store.WalletDelta{UserID: userID, Amount: balance})
	}
	return nil
}

// creditLocked 修改余额并推入钱包通道
func (s *Simulation) creditLocked(userID string, amount float64) {
	if amount == 0 {
		return
	}
	s.wallets[userID] += amount
	s.lanes.wallet.Push(store.WalletDelta{UserID: userID, Amount: amount})
}

// =============================================================================
// Agent
// =============================================================================

// Mint 铸造一个闲置的持久化 Agent
func (s *Simulation) Mint(ctx context.Context, userID, name string, dir agent.Direction, asset string) (*agent.Position, error) {
	if asset == "" {
		asset = s.cfg.DefaultAsset
	}
	if !s.engine.HasAsset(asset) {
		return nil, s.fail(ctx, userID, "", fmt.Errorf("%w: %s", ErrUnknownAsset, asset))
	}
	if err := s.ensureWallet(ctx, userID); err != nil {
		return nil, s.fail(ctx, userID, "", err)
	}

	persona, err := s.personas.Generate(ctx, dir)
	if err != nil {
		s.logger.Warn("persona generator failed", zap.Error(err))
		persona, _ = population.NewStaticPersonas(nil).Generate(ctx, dir)
	}
	if name == "" {
		name = persona.Name
	}

	now := s.now()
	id := agent.NewID()
	p := &agent.Position{
		ID:        id,
		Origin:    agent.Persisted{DBID: id},
		Owner:     agent.OwnerUser,
		OwnerID:   userID,
		Name:      name,
		Strategy:  persona.Strategy,
		Flavor:    persona.Flavor,
		Asset:     asset,
		Direction: dir,
		Resolved:  agent.DirectionAuto,
		Leverage:  agent.MinLeverage,
		Status:    agent.StatusIdle,
		Risk:      agent.RiskLevelSafe,
		CreatedAt: now,
	}

	// 铸造同步写入，失败时不进入账本
	if s.store.Configured() {
		if err := s.store.InsertPosition(ctx, p); err != nil {
			return nil, s.fail(ctx, userID, id, fmt.Errorf("mint: %w", err))
		}
	}

	s.mu.Lock()
	err = s.ledger.Add(p)
	out := p.Clone()
	s.mu.Unlock()
	if err != nil {
		return nil, s.fail(ctx, userID, id, err)
	}

	s.feed.Append(ctx, feed.NewEntry(feed.TypeMint, userID, id,
		fmt.Sprintf("%s minted %s (%s %s)", userID, name, dir, asset), nil))
	return out, nil
}

// Deploy 闲置 Agent 投入竞技场
//
// dir 为 nil 时沿用铸造方向
func (s *Simulation) Deploy(ctx context.Context, userID, agentID string, collateral float64, leverage int, dir *agent.Direction) (*agent.Position, error) {
	if leverage < agent.MinLeverage || leverage > agent.MaxLeverage {
		return nil, s.fail(ctx, userID, agentID, fmt.Errorf("%w: %d", agent.ErrInvalidLeverage, leverage))
	}
	if !positiveAmount(collateral) {
		return nil, s.fail(ctx, userID, agentID, fmt.Errorf("%w: %v", agent.ErrInvalidCollateral, collateral))
	}
	if err := s.ensureWallet(ctx, userID); err != nil {
		return nil, s.fail(ctx, userID, agentID, err)
	}

	s.mu.Lock()
	p, err := s.ownedLocked(userID, agentID)
	if err == nil && p.Status != agent.StatusIdle {
		err = ErrNotIdle
	}
	if err == nil && s.wallets[userID] < collateral {
		err = fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, collateral, s.wallets[userID])
	}
	var price float64
	if err == nil {
		price, err = s.engine.Price(p.Asset)
	}
	if err != nil {
		s.mu.Unlock()
		return nil, s.fail(ctx, userID, agentID, err)
	}

	direction := p.Direction
	if dir != nil {
		direction = *dir
	}
	resolved := agent.DirectionAuto
	if direction == agent.DirectionAuto {
		resolved = s.engine.ResolveAuto(p.ID, p.Asset)
	}

	s.creditLocked(userID, -collateral)
	d := agent.Delta{
		ID:         p.ID,
		PnL:        agent.Float(0),
		Status:     agent.StatusPtr(agent.StatusActive),
		Balance:    agent.Float(collateral),
		EntryPrice: agent.Float(price),
		Leverage:   agent.Int(leverage),
		Direction:  agent.DirectionPtr(direction),
		Resolved:   agent.DirectionPtr(resolved),
		DeployedAt: agent.TimePtr(s.now()),
	}
	p.Apply(d)
	p.RetiredAt = time.Time{}
	p.PnLHistory = nil
	s.lanes.positions.Push(d)
	out := p.Clone()
	s.mu.Unlock()

	s.feed.Append(ctx, feed.NewEntry(feed.TypeDeploy, userID, agentID,
		fmt.Sprintf("%s deployed %s %dx %s on %s @ %.2f", out.Name, direction, leverage, fmtAmount(collateral), out.Asset, price),
		feed.Amount(-collateral)))
	return out, nil
}

// Withdraw 主动退出: 权益 (保证金 + PnL，不低于 0) 返还钱包，记一次胜负
func (s *Simulation) Withdraw(ctx context.Context, userID, agentID string) (float64, error) {
	if err := s.ensureWallet(ctx, userID); err != nil {
		return 0, s.fail(ctx, userID, agentID, err)
	}

	s.mu.Lock()
	p, err := s.ownedLocked(userID, agentID)
	if err == nil && p.Status != agent.StatusActive {
		err = ErrNotActive
	}
	if err != nil {
		s.mu.Unlock()
		return 0, s.fail(ctx, userID, agentID, err)
	}

	pnl := p.PnL
	equity := max(p.Balance+pnl, 0)
	d := agent.Delta{
		ID:      p.ID,
		PnL:     agent.Float(0),
		Status:  agent.StatusPtr(agent.StatusIdle),
		Balance: agent.Float(0),
	}
	outcome := feed.TypeExit
	switch {
	case pnl > 0:
		d.Wins = agent.Int(p.Wins + 1)
		outcome = feed.TypeWin
	case pnl < 0:
		d.Losses = agent.Int(p.Losses + 1)
		outcome = feed.TypeLoss
	}
	p.Apply(d)
	s.creditLocked(userID, equity)
	s.lanes.positions.Push(d)
	name := p.Name
	s.mu.Unlock()

	s.feed.Append(ctx, feed.NewEntry(feed.TypeExit, userID, agentID,
		fmt.Sprintf("%s exited with %s", name, fmtAmount(equity)), feed.Amount(equity)))
	if outcome != feed.TypeExit {
		s.feed.Append(ctx, feed.NewEntry(outcome, userID, agentID,
			fmt.Sprintf("%s closed %s", name, fmtSigned(pnl)), feed.Amount(pnl)))
	}
	return equity, nil
}

func (s *Simulation) ownedLocked(userID, agentID string) (*agent.Position, error) {
	p, ok := s.ledger.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, agentID)
	}
	if p.Owner != agent.OwnerUser || p.OwnerID != userID {
		return nil, ErrNotOwner
	}
	return p, nil
}

// =============================================================================
// 质押
// =============================================================================

// Stake 从钱包转入质押池
func (s *Simulation) Stake(ctx context.Context, userID string, amount float64) (liquidity.Stake, error) {
	if !positiveAmount(amount) {
		return liquidity.Stake{}, s.fail(ctx, userID, "", fmt.Errorf("%w: %v", liquidity.ErrInvalidAmount, amount))
	}
	if err := s.ensureWallet(ctx, userID); err != nil {
		return liquidity.Stake{}, s.fail(ctx, userID, "", err)
	}
	dec := decimal.NewFromFloat(amount)

	s.mu.Lock()
	if s.wallets[userID] < amount {
		have := s.wallets[userID]
		s.mu.Unlock()
		return liquidity.Stake{}, s.fail(ctx, userID, "",
			fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientFunds, amount, have))
	}
	st, err := s.pool.Stake(userID, dec, s.now())
	if err == nil {
		s.creditLocked(userID, -amount)
	}
	s.mu.Unlock()
	if err != nil {
		return liquidity.Stake{}, s.fail(ctx, userID, "", err)
	}

	s.feed.Append(ctx, feed.NewEntry(feed.TypeStake, userID, "",
		fmt.Sprintf("%s staked %s", userID, fmtAmount(amount)), feed.Amount(-amount)))
	return st, nil
}

// Unstake 本金返还钱包
func (s *Simulation) Unstake(ctx context.Context, userID string, amount float64) (liquidity.Stake, error) {
	if !positiveAmount(amount) {
		return liquidity.Stake{}, s.fail(ctx, userID, "", fmt.Errorf("%w: %v", liquidity.ErrInvalidAmount, amount))
	}
	if err := s.ensureWallet(ctx, userID); err != nil {
		return liquidity.Stake{}, s.fail(ctx, userID, "", err)
	}
	dec := decimal.NewFromFloat(amount)

	s.mu.Lock()
	st, err := s.pool.Unstake(userID, dec, s.now())
	if err == nil {
		s.creditLocked(userID, amount)
	}
	s.mu.Unlock()
	if err != nil {
		return liquidity.Stake{}, s.fail(ctx, userID, "", err)
	}

	s.feed.Append(ctx, feed.NewEntry(feed.TypeUnstake, userID, "",
		fmt.Sprintf("%s unstaked %s", userID, fmtAmount(amount)), feed.Amount(amount)))
	return st, nil
}

// Claim 领取奖励到钱包
func (s *Simulation) Claim(ctx context.Context, userID string) (float64, error) {
	if err := s.ensureWallet(ctx, userID); err != nil {
		return 0, s.fail(ctx, userID, "", err)
	}

	s.mu.Lock()
	claimed, err := s.pool.Claim(userID, s.now())
	amount := claimed.InexactFloat64()
	if err == nil {
		s.creditLocked(userID, amount)
	}
	s.mu.Unlock()
	if err != nil {
		return 0, s.fail(ctx, userID, "", err)
	}

	s.feed.Append(ctx, feed.NewEntry(feed.TypeClaim, userID, "",
		fmt.Sprintf("%s claimed %s", userID, fmtAmount(amount)), feed.Amount(amount)))
	return amount, nil
}

// =============================================================================
// 辅助
// =============================================================================

// fail 写一条 ERROR 事件并原样返回错误
func (s *Simulation) fail(ctx context.Context, userID, agentID string, err error) error {
	s.feed.Append(ctx, feed.NewEntry(feed.TypeError, userID, agentID, err.Error(), nil))
	s.logger.Debug("operation rejected",
		zap.String("user", userID),
		zap.String("agent", agentID),
		zap.Error(err))
	return err
}

// positiveAmount 有限正数，NaN / Inf 一律拒绝
func positiveAmount(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func fmtAmount(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func fmtSigned(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+$%.2f", v)
	}
	return fmt.Sprintf("-$%.2f", -v)
}
