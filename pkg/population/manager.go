// 文件: pkg/population/manager.go
// 机器人种群管理
//
// 【每次轮转】
// 1. 按来源划分: 用户仓位 / 已落库的系统仓位 / 本地机器人
// 2. 本地机器人超过各自的最大存活时间 -> 过期退场
// 3. 过期前保证金耗尽 -> 强平 (和结算同一规则，低频兜底)
// 4. 存活数低于目标且低于上限 -> 每次最多补充 BatchSize 个，方向偏向人数少的一方
// 5. 退场的机器人保留 Grace 时间供展示，之后从内存删除
//
// 本地机器人永远不落库；已落库的系统仓位不由这里管理

package population

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
)

var ErrInvalidConfig = errors.New("invalid population config")

// Config 种群配置
type Config struct {
	TargetMin int // 目标数量区间
	TargetMax int
	HardCap   int // 本地机器人上限
	BatchSize int // 每次最多补充数量

	MinAge time.Duration // 最大存活时间在 [MinAge, MaxAge] 内随机
	MaxAge time.Duration
	Grace  time.Duration // 退场后保留时间

	MinLeverage   int
	MaxLeverage   int
	MinCollateral float64
	MaxCollateral float64
	AutoShare     float64 // 新机器人使用 AUTO 的比例

	Assets []string // 机器人可选资产，为空时使用 PriceSource 的全部资产
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TargetMin:     60,
		TargetMax:     140,
		HardCap:       150,
		BatchSize:     3,
		MinAge:        30 * time.Second,
		MaxAge:        120 * time.Second,
		Grace:         3 * time.Second,
		MinLeverage:   2,
		MaxLeverage:   25,
		MinCollateral: 100,
		MaxCollateral: 5000,
		AutoShare:     0.2,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.TargetMin < 0 || c.TargetMax < c.TargetMin:
		return fmt.Errorf("%w: target band [%d, %d]", ErrInvalidConfig, c.TargetMin, c.TargetMax)
	case c.HardCap <= 0:
		return fmt.Errorf("%w: hard cap %d", ErrInvalidConfig, c.HardCap)
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: batch size %d", ErrInvalidConfig, c.BatchSize)
	case c.MinAge <= 0 || c.MaxAge < c.MinAge:
		return fmt.Errorf("%w: age range [%s, %s]", ErrInvalidConfig, c.MinAge, c.MaxAge)
	case c.Grace < 0:
		return fmt.Errorf("%w: grace %s", ErrInvalidConfig, c.Grace)
	case c.MinLeverage < agent.MinLeverage || c.MaxLeverage > agent.MaxLeverage || c.MaxLeverage < c.MinLeverage:
		return fmt.Errorf("%w: leverage range [%d, %d]", ErrInvalidConfig, c.MinLeverage, c.MaxLeverage)
	case c.MinCollateral <= 0 || c.MaxCollateral < c.MinCollateral:
		return fmt.Errorf("%w: collateral range [%v, %v]", ErrInvalidConfig, c.MinCollateral, c.MaxCollateral)
	case c.AutoShare < 0 || c.AutoShare > 1:
		return fmt.Errorf("%w: auto share %v", ErrInvalidConfig, c.AutoShare)
	}
	return nil
}

// PriceSource 当前价格 (settlement.Engine 实现)
type PriceSource interface {
	Price(symbol string) (float64, error)
	Symbols() []string
}

// AutoResolver 部署时 AUTO 的方向 (settlement.Engine 实现)
type AutoResolver interface {
	ResolveAuto(id, symbol string) agent.Direction
}

// Report 一次轮转的统计
type Report struct {
	Users           int
	SystemPersisted int
	Ephemeral       int // 轮转后存活的本地机器人
	Expired         int
	Liquidated      int
	Removed         int
	Spawned         int
	Target          int
}

// Manager 种群管理器
//
// 不加锁，和结算引擎一样由 sim.Simulation 串行调用
type Manager struct {
	cfg      Config
	ledger   *agent.Ledger
	prices   PriceSource
	resolver AutoResolver
	personas PersonaGenerator
	feed     *feed.Feed
	rnd      *rand.Rand
	logger   *zap.Logger

	target int
}

// Option 可选依赖
type Option func(*Manager)

// WithResolver AUTO 机器人部署时解析方向
func WithResolver(r AutoResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

// WithPersonas 替换人设生成器
func WithPersonas(g PersonaGenerator) Option {
	return func(m *Manager) {
		if g != nil {
			m.personas = g
		}
	}
}

// WithFeed 机器人强平写入事件流
func WithFeed(f *feed.Feed) Option {
	return func(m *Manager) { m.feed = f }
}

// NewManager 创建种群管理器
func NewManager(cfg Config, ledger *agent.Ledger, prices PriceSource, rnd *rand.Rand, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		ledger:   ledger,
		prices:   prices,
		personas: NewStaticPersonas(rnd),
		rnd:      rnd,
		logger:   logger.Named("population"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.target = m.drawTarget()
	return m, nil
}

// Target 当前目标数量
func (m *Manager) Target() int {
	return m.target
}

// Rotate 执行一次轮转
func (m *Manager) Rotate(ctx context.Context, now time.Time) Report {
	var rep Report
	alive := 0

	for _, p := range m.ledger.All() {
		switch o := p.Origin.(type) {
		case agent.Ephemeral:
			if m.retire(ctx, p, o, now, &rep) {
				continue
			}
			alive++
		case agent.Persisted:
			if p.Owner == agent.OwnerSystem {
				rep.SystemPersisted++
			} else {
				rep.Users++
			}
		}
	}

	// 宽限期结束的机器人直接删除
	rep.Removed = m.ledger.RemoveIf(func(p *agent.Position) bool {
		if !p.IsEphemeral() || p.RetiredAt.IsZero() {
			return false
		}
		return now.Sub(p.RetiredAt) > m.cfg.Grace
	})

	if alive >= m.target {
		m.target = m.drawTarget()
	}
	rep.Target = m.target

	if need := min(m.target-alive, m.cfg.HardCap-alive, m.cfg.BatchSize); need > 0 {
		rep.Spawned = m.spawn(ctx, need, now)
		alive += rep.Spawned
	}
	rep.Ephemeral = alive

	m.logger.Debug("rotated",
		zap.Int("alive", rep.Ephemeral),
		zap.Int("target", rep.Target),
		zap.Int("spawned", rep.Spawned),
		zap.Int("expired", rep.Expired),
		zap.Int("liquidated", rep.Liquidated),
		zap.Int("removed", rep.Removed))
	return rep
}

// retire 处理过期 / 强平，返回该机器人是否已退场
func (m *Manager) retire(ctx context.Context, p *agent.Position, o agent.Ephemeral, now time.Time, rep *Report) bool {
	if !p.RetiredAt.IsZero() || p.Status == agent.StatusLiquidated {
		if p.RetiredAt.IsZero() {
			p.RetiredAt = now
		}
		return true
	}

	if p.IsActive() && p.Balance+p.PnL <= 0 {
		lost := p.Balance
		p.Apply(agent.LiquidationDelta(p))
		p.RetiredAt = now
		rep.Liquidated++
		if m.feed != nil {
			msg := fmt.Sprintf("%s liquidated on %s, lost %.2f", p.Name, p.Asset, lost)
			m.feed.Append(ctx, feed.NewEntry(feed.TypeLiquidation, "", p.ID, msg, feed.Amount(-lost)))
		}
		return true
	}

	if now.Sub(o.CreatedAt) > p.MaxAge {
		p.Status = agent.StatusIdle
		p.RetiredAt = now
		rep.Expired++
		return true
	}
	return false
}

// spawn 补充 n 个机器人，返回实际数量
func (m *Manager) spawn(ctx context.Context, n int, now time.Time) int {
	symbols := m.cfg.Assets
	if len(symbols) == 0 {
		symbols = m.prices.Symbols()
	}
	if len(symbols) == 0 {
		return 0
	}

	longs, shorts := m.sideCounts()
	spawned := 0
	for i := 0; i < n; i++ {
		symbol := symbols[m.rnd.Intn(len(symbols))]
		price, err := m.prices.Price(symbol)
		if err != nil || price <= 0 {
			m.logger.Warn("spawn skipped", zap.String("symbol", symbol), zap.Error(err))
			continue
		}

		side := BiasSide(longs, shorts, m.rnd)
		if side == agent.DirectionLong {
			longs++
		} else {
			shorts++
		}

		p := m.newBot(ctx, symbol, price, side, now)
		if err := m.ledger.Add(p); err != nil {
			m.logger.Warn("spawn failed", zap.String("id", p.ID), zap.Error(err))
			continue
		}
		spawned++
	}
	return spawned
}

func (m *Manager) newBot(ctx context.Context, symbol string, price float64, side agent.Direction, now time.Time) *agent.Position {
	id := agent.NewBotID()
	dir := side
	resolved := agent.DirectionAuto
	if m.rnd.Float64() < m.cfg.AutoShare {
		dir = agent.DirectionAuto
		// 偏向的一方作为 AUTO 的实际方向，保持多空平衡
		resolved = side
		if m.resolver != nil {
			resolved = m.resolver.ResolveAuto(id, symbol)
		}
	}

	persona, err := m.personas.Generate(ctx, dir)
	if err != nil {
		persona, _ = NewStaticPersonas(m.rnd).Generate(ctx, dir)
	}

	return &agent.Position{
		ID:         id,
		Origin:     agent.Ephemeral{LocalID: id, CreatedAt: now},
		Owner:      agent.OwnerSystem,
		Name:       persona.Name,
		Strategy:   persona.Strategy,
		Flavor:     persona.Flavor,
		Asset:      symbol,
		Direction:  dir,
		Resolved:   resolved,
		Leverage:   m.cfg.MinLeverage + m.rnd.Intn(m.cfg.MaxLeverage-m.cfg.MinLeverage+1),
		Balance:    m.cfg.MinCollateral + m.rnd.Float64()*(m.cfg.MaxCollateral-m.cfg.MinCollateral),
		EntryPrice: price,
		Status:     agent.StatusActive,
		Risk:       agent.RiskLevelSafe,
		CreatedAt:  now,
		DeployedAt: now,
		MaxAge:     m.cfg.MinAge + time.Duration(m.rnd.Int63n(int64(m.cfg.MaxAge-m.cfg.MinAge)+1)),
	}
}

// sideCounts 当前所有 ACTIVE 仓位的多空数量
func (m *Manager) sideCounts() (longs, shorts int) {
	for _, p := range m.ledger.Active() {
		if p.Effective() == agent.DirectionLong {
			longs++
		} else {
			shorts++
		}
	}
	return longs, shorts
}

func (m *Manager) drawTarget() int {
	return m.cfg.TargetMin + m.rnd.Intn(m.cfg.TargetMax-m.cfg.TargetMin+1)
}

// BiasSide 偏向人数少的一方，相等时抛硬币
func BiasSide(longs, shorts int, rnd *rand.Rand) agent.Direction {
	switch {
	case longs < shorts:
		return agent.DirectionLong
	case shorts < longs:
		return agent.DirectionShort
	}
	if rnd.Intn(2) == 0 {
		return agent.DirectionLong
	}
	return agent.DirectionShort
}
