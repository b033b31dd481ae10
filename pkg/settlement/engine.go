// 文件: pkg/settlement/engine.go
// 结算引擎
//
// 【每个 tick】
// 1. 所有资产先推进价格 (任何仓位都不会读到一半更新的价格)
// 2. 按资产聚合多空总量和每秒收益 (仅展示)
// 3. 逐个 ACTIVE 仓位重新计算 PnL，触发强平
// 4. 整批 Delta 写入账本；已落库的仓位同时进入写入通道
// 5. 低概率把市场快照和价格采样放入写入通道
//
// 【并发】
// 引擎本身不加锁，调用方 (sim.Simulation) 负责串行化
// 任何步骤都不会返回错误中断 tick，落库全部交给 reconcile 通道

package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/market"
	"arena.com/pkg/reconcile"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrNoAssets     = errors.New("no assets configured")
)

// =============================================================================
// 配置
// =============================================================================

// AutoMode AUTO 方向的解析方式
type AutoMode string

const (
	// AutoDeploy 部署时按当前趋势解析一次并保存，聚合和 PnL 都用保存的方向
	AutoDeploy AutoMode = "deploy"
	// AutoLegacy PnL 用 ID 哈希偏向，聚合用实时趋势
	AutoLegacy AutoMode = "legacy"
)

// ParseAutoMode 未知值按 deploy 处理
func ParseAutoMode(s string) AutoMode {
	if AutoMode(s) == AutoLegacy {
		return AutoLegacy
	}
	return AutoDeploy
}

// Config 结算配置
type Config struct {
	HistorySampleProb  float64 // 每个仓位每 tick 记录 PnL 采样的概率
	MarketPersistProb  float64 // 每个资产每 tick 落库市场快照的概率
	EarningsMultiplier float64
	HistoryCap         int
	AutoMode           AutoMode
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		HistorySampleProb:  0.1,
		MarketPersistProb:  1.0 / 30,
		EarningsMultiplier: market.DefaultEarningsMultiplier,
		HistoryCap:         agent.DefaultHistoryCap,
		AutoMode:           AutoDeploy,
	}
}

// Lanes 结算产生的写入通道，为 nil 的通道直接跳过
type Lanes struct {
	Positions *reconcile.Lane[agent.Delta]
	History   *reconcile.Lane[agent.HistorySample]
	Markets   *reconcile.Lane[market.Snapshot]
	Prices    *reconcile.Lane[market.PriceSample]
}

// =============================================================================
// 结果
// =============================================================================

// AssetResult 单个资产一次结算的结果
type AssetResult struct {
	Tick       market.Tick
	Snapshot   market.Snapshot
	Settled    int      // 参与结算的仓位数
	Liquidated []string // 本 tick 爆仓的仓位
	Enqueued   int      // 进入落库通道的 Delta 数
	Persisted  bool     // 市场快照是否进入落库通道
}

// Result 一次 tick 的结果
type Result struct {
	At     time.Time
	Assets []AssetResult
}

// Snapshots 所有资产的市场快照
func (r Result) Snapshots() []market.Snapshot {
	out := make([]market.Snapshot, len(r.Assets))
	for i, a := range r.Assets {
		out[i] = a.Snapshot
	}
	return out
}

// Liquidated 本 tick 全部爆仓的仓位
func (r Result) Liquidated() []string {
	var out []string
	for _, a := range r.Assets {
		out = append(out, a.Liquidated...)
	}
	return out
}

// =============================================================================
// Engine
// =============================================================================

// Engine 结算引擎
type Engine struct {
	cfg     Config
	ledger  *agent.Ledger
	markets map[string]*market.PriceProcess
	order   []string // 资产推进顺序
	latest  map[string]market.Snapshot

	lanes  Lanes
	feed   *feed.Feed
	rnd    *rand.Rand
	logger *zap.Logger
}

// NewEngine 创建引擎
//
// procs 的顺序即每个 tick 推进价格的顺序；fd 可为 nil
func NewEngine(cfg Config, ledger *agent.Ledger, procs []*market.PriceProcess, lanes Lanes, fd *feed.Feed, rnd *rand.Rand, logger *zap.Logger) (*Engine, error) {
	if len(procs) == 0 {
		return nil, ErrNoAssets
	}
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = agent.DefaultHistoryCap
	}
	if cfg.EarningsMultiplier <= 0 {
		cfg.EarningsMultiplier = market.DefaultEarningsMultiplier
	}
	if cfg.AutoMode == "" {
		cfg.AutoMode = AutoDeploy
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		cfg:     cfg,
		ledger:  ledger,
		markets: make(map[string]*market.PriceProcess, len(procs)),
		latest:  make(map[string]market.Snapshot, len(procs)),
		lanes:   lanes,
		feed:    fd,
		rnd:     rnd,
		logger:  logger.Named("settlement"),
	}
	for _, p := range procs {
		sym := p.Symbol()
		if _, dup := e.markets[sym]; dup {
			return nil, fmt.Errorf("duplicate asset %s", sym)
		}
		e.markets[sym] = p
		e.order = append(e.order, sym)
		e.latest[sym] = p.Snapshot(market.Aggregates{})
	}
	return e, nil
}

// Tick 推进所有资产并结算
func (e *Engine) Tick(ctx context.Context, now time.Time) Result {
	// 1. 先推进全部价格
	ticks := make([]market.Tick, len(e.order))
	for i, sym := range e.order {
		ticks[i] = e.markets[sym].Advance(now)
	}

	// 2. 再逐个资产结算
	res := Result{At: now, Assets: make([]AssetResult, len(ticks))}
	for i, t := range ticks {
		res.Assets[i] = e.Settle(ctx, t, now)
	}
	return res
}

// Settle 用一个已推进的价格结算该资产的所有 ACTIVE 仓位
func (e *Engine) Settle(ctx context.Context, t market.Tick, now time.Time) AssetResult {
	proc, ok := e.markets[t.Symbol]
	if !ok {
		e.logger.Warn("settle unknown asset", zap.String("symbol", t.Symbol))
		return AssetResult{Tick: t}
	}

	active := e.activeFor(t.Symbol)
	res := AssetResult{Tick: t, Settled: len(active)}

	// 聚合 (仅展示)
	agg := e.aggregate(active, t)

	// 逐仓位计算，先算完再整批写入
	deltas := make([]agent.Delta, 0, len(active))
	var liquidated []*agent.Position
	for _, p := range active {
		out := agent.Evaluate(p, t.Price)
		if out.Liquidated {
			deltas = append(deltas, agent.LiquidationDelta(p))
			liquidated = append(liquidated, p)
			continue
		}
		deltas = append(deltas, agent.Delta{ID: p.ID, PnL: agent.Float(out.PnL)})
	}

	// 通知用的保证金要在写入前取
	lost := make(map[string]float64, len(liquidated))
	for _, p := range liquidated {
		lost[p.ID] = p.Balance
	}

	e.ledger.ApplyBatch(deltas)

	var samples []agent.HistorySample
	for i, p := range active {
		d := deltas[i]
		if p.Status == agent.StatusLiquidated {
			p.RetiredAt = now
		} else if e.rnd.Float64() < e.cfg.HistorySampleProb {
			p.AppendHistory(agent.PnLPoint{At: now, Value: p.PnL}, e.cfg.HistoryCap)
			if _, ok := p.Origin.(agent.Persisted); ok {
				samples = append(samples, agent.HistorySample{AgentID: p.ID, Value: p.PnL, At: now})
			}
		}
		if e.route(p, d) {
			res.Enqueued++
		}
	}
	if len(samples) > 0 && e.lanes.History != nil {
		e.lanes.History.Push(samples...)
	}

	for _, p := range liquidated {
		res.Liquidated = append(res.Liquidated, p.ID)
		e.announceLiquidation(ctx, p, lost[p.ID], t.Price)
	}

	snap := proc.Snapshot(agg)
	e.latest[t.Symbol] = snap
	res.Snapshot = snap

	if e.rnd.Float64() < e.cfg.MarketPersistProb {
		if e.lanes.Markets != nil {
			e.lanes.Markets.Push(snap)
		}
		if e.lanes.Prices != nil {
			e.lanes.Prices.Push(snap.Sample())
		}
		res.Persisted = true
	}

	if len(res.Liquidated) > 0 {
		e.logger.Info("liquidations",
			zap.String("symbol", t.Symbol),
			zap.Float64("price", t.Price),
			zap.Strings("agents", res.Liquidated))
	}
	e.logger.Debug("settled",
		zap.String("symbol", t.Symbol),
		zap.Float64("price", t.Price),
		zap.String("trend", t.Trend.String()),
		zap.Int("active", res.Settled),
		zap.Int("enqueued", res.Enqueued))
	return res
}

// route 已落库的仓位进入写入通道，本地机器人只改内存
func (e *Engine) route(p *agent.Position, d agent.Delta) bool {
	switch p.Origin.(type) {
	case agent.Persisted:
		if e.lanes.Positions != nil {
			e.lanes.Positions.Push(d)
			return true
		}
	case agent.Ephemeral:
	}
	return false
}

func (e *Engine) activeFor(symbol string) []*agent.Position {
	var out []*agent.Position
	for _, p := range e.ledger.Active() {
		if p.Asset == symbol {
			out = append(out, p)
		}
	}
	return out
}

// aggregate 多空总保证金 + 每秒收益
func (e *Engine) aggregate(active []*agent.Position, t market.Tick) market.Aggregates {
	var agg market.Aggregates
	for _, p := range active {
		if e.side(p, t.Trend) == agent.DirectionLong {
			agg.TotalLongStaked += p.Balance
		} else {
			agg.TotalShortStaked += p.Balance
		}
	}
	agg.LongEarningsPerSec, agg.ShortEarningsPerSec = market.Earnings(
		agg.TotalLongStaked, agg.TotalShortStaked, t.Delta, e.cfg.EarningsMultiplier)
	return agg
}

// side 聚合时仓位所属的一方
//
// legacy: AUTO 只在趋势 UP 时算多头
// deploy: 和 PnL 使用同一个方向
func (e *Engine) side(p *agent.Position, trend market.Trend) agent.Direction {
	if e.cfg.AutoMode == AutoLegacy && p.Direction == agent.DirectionAuto {
		if trend == market.TrendUp {
			return agent.DirectionLong
		}
		return agent.DirectionShort
	}
	return p.Effective()
}

func (e *Engine) announceLiquidation(ctx context.Context, p *agent.Position, collateral, price float64) {
	if e.feed == nil {
		return
	}
	msg := fmt.Sprintf("%s liquidated on %s at %.2f, lost %.2f", displayName(p), p.Asset, price, collateral)
	e.feed.Append(ctx, feed.NewEntry(feed.TypeLiquidation, p.OwnerID, p.ID, msg, feed.Amount(-collateral)))
}

func displayName(p *agent.Position) string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// =============================================================================
// AUTO 解析 / 查询
// =============================================================================

// ResolveAuto 部署时 AUTO 的方向
//
// deploy 模式按资产当前趋势解析 (横盘用 ID 哈希)；legacy 模式返回 AUTO，不保存解析结果
func (e *Engine) ResolveAuto(id, symbol string) agent.Direction {
	if e.cfg.AutoMode == AutoLegacy {
		return agent.DirectionAuto
	}
	proc, ok := e.markets[symbol]
	if !ok {
		return agent.HashBias(id)
	}
	return agent.ResolveAuto(id, proc.Trend().Sign())
}

// Restore 用存储中的快照恢复资产价格和历史
func (e *Engine) Restore(snap market.Snapshot) error {
	proc, ok := e.markets[snap.Symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, snap.Symbol)
	}
	if err := proc.Restore(snap.Price, snap.History, snap.Trend, snap.UpdatedAt); err != nil {
		return fmt.Errorf("restore %s: %w", snap.Symbol, err)
	}
	e.latest[snap.Symbol] = proc.Snapshot(snap.Aggregates)
	return nil
}

// Price 资产当前价格
func (e *Engine) Price(symbol string) (float64, error) {
	proc, ok := e.markets[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, symbol)
	}
	return proc.Price(), nil
}

// HasAsset 资产是否存在
func (e *Engine) HasAsset(symbol string) bool {
	_, ok := e.markets[symbol]
	return ok
}

// Symbols 资产列表 (推进顺序)
func (e *Engine) Symbols() []string {
	return append([]string(nil), e.order...)
}

// Snapshot 资产最近一次快照
func (e *Engine) Snapshot(symbol string) (market.Snapshot, bool) {
	s, ok := e.latest[symbol]
	if !ok {
		return market.Snapshot{}, false
	}
	s.History = append([]float64(nil), s.History...)
	return s, true
}

// Snapshots 所有资产最近一次快照
func (e *Engine) Snapshots() []market.Snapshot {
	out := make([]market.Snapshot, 0, len(e.order))
	for _, sym := range e.order {
		s, _ := e.Snapshot(sym)
		out = append(out, s)
	}
	return out
}

// Mode AUTO 解析方式
func (e *Engine) Mode() AutoMode {
	return e.cfg.AutoMode
}
