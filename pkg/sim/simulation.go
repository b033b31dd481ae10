// 文件: pkg/sim/simulation.go
// 模拟上下文 + 调度器
//
// 【任务】
// - settlement: 每 1s 推进价格并结算
// - population: 每 3s 轮转机器人
// - accrual:    每 1s 累计质押奖励
// - sync:       每 2s 批量落库 (reconcile.Syncer)
// - cron:       定期全量重算 totalStaked
//
// 【并发】
// 账本、价格、钱包由 mu 串行化；一个任务内价格先全部推进，再计算 PnL
// 落库只在 Syncer 中进行，永远不阻塞结算
// 退出时不等待未完成的批次

package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arena.com/pkg/agent"
	"arena.com/pkg/alert"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
	"arena.com/pkg/population"
	"arena.com/pkg/reconcile"
	"arena.com/pkg/settlement"
	"arena.com/pkg/store"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotOwner          = errors.New("agent not owned by user")
	ErrUnknownAsset      = errors.New("unknown asset")
)

// =============================================================================
// 配置
// =============================================================================

// Config 模拟配置
type Config struct {
	TickInterval       time.Duration
	PopulationInterval time.Duration
	AccrualInterval    time.Duration
	Sync               reconcile.Config

	StartingWallet float64
	DefaultAsset   string
	FeedCapacity   int
	Seed           int64 // 0 表示使用时间种子
	TrendThreshold float64
	Assets         []market.AssetSpec

	Settlement        settlement.Config
	PopulationEnabled bool
	Population        population.Config
	Liquidity         liquidity.Config
	ReconcileCron     string          // 为空时不注册
	AlertLevel        agent.RiskLevel // 用户仓位风险预警阈值
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		TickInterval:       time.Second,
		PopulationInterval: 3 * time.Second,
		AccrualInterval:    time.Second,
		Sync:               reconcile.Config{Interval: reconcile.DefaultFlushInterval, Timeout: reconcile.DefaultFlushTimeout},
		StartingWallet:     10000,
		DefaultAsset:       "BTC",
		FeedCapacity:       feed.DefaultCapacity,
		TrendThreshold:     market.DefaultTrendThreshold,
		Assets:             market.DefaultAssets(),
		Settlement:         settlement.DefaultConfig(),
		PopulationEnabled:  true,
		Population:         population.DefaultConfig(),
		Liquidity:          liquidity.DefaultConfig(),
		ReconcileCron:      "0 */5 * * * *",
		AlertLevel:         agent.RiskLevelDanger,
	}
}

// Deps 外部依赖，全部可选
type Deps struct {
	Store     store.Store                 // nil 时纯内存运行
	Publisher feed.Publisher              // 事件外发 (Kafka / NATS)
	Personas  population.PersonaGenerator // nil 时使用内置人设
	AlertGate alert.Gate                  // nil 时进程内去重
	Logger    *zap.Logger
	Clock     func() time.Time
}

// =============================================================================
// Simulation
// =============================================================================

// Simulation 模拟上下文，持有全部可变状态和定时任务
type Simulation struct {
	mu      sync.Mutex
	cfg     Config
	ledger  *agent.Ledger
	engine  *settlement.Engine
	pop     *population.Manager
	wallets map[string]float64

	store       store.Store
	lanes       lanes
	syncer      *reconcile.Syncer
	pool        *liquidity.Service
	feed        *feed.Feed
	broadcaster *market.Broadcaster
	personas    population.PersonaGenerator
	alerts      *alert.Watcher

	logger *zap.Logger
	now    func() time.Time
}

// New 装配模拟
func New(cfg Config, deps Deps) (*Simulation, error) {
	if len(cfg.Assets) == 0 {
		cfg.Assets = market.DefaultAssets()
	}
	if cfg.DefaultAsset == "" {
		cfg.DefaultAsset = cfg.Assets[0].Symbol
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.PopulationInterval <= 0 {
		cfg.PopulationInterval = 3 * time.Second
	}
	if cfg.AccrualInterval <= 0 {
		cfg.AccrualInterval = time.Second
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	st := deps.Store
	if st == nil {
		st = store.Noop{}
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))

	s := &Simulation{
		cfg:         cfg,
		ledger:      agent.NewLedger(),
		wallets:     make(map[string]float64),
		store:       st,
		lanes:       newLanes(st),
		broadcaster: market.NewBroadcaster(8),
		logger:      logger,
		now:         now,
	}

	if cfg.AlertLevel > agent.RiskLevelSafe {
		s.alerts = alert.NewWatcher(deps.AlertGate, cfg.AlertLevel, logger)
	}

	s.feed = feed.New(cfg.FeedCapacity, logger,
		feed.WithPublisher(deps.Publisher),
		feed.WithPersist(func(e feed.Entry) { s.lanes.logs.Push(e) }),
		feed.WithClock(now))

	procs := make([]*market.PriceProcess, 0, len(cfg.Assets))
	for _, spec := range cfg.Assets {
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("asset %q: %w", spec.Symbol, err)
		}
		procs = append(procs, market.NewPriceProcess(spec, rand.New(rand.NewSource(rnd.Int63())), cfg.TrendThreshold))
	}

	engine, err := settlement.NewEngine(cfg.Settlement, s.ledger, procs, settlement.Lanes{
		Positions: s.lanes.positions,
		History:   s.lanes.history,
		Markets:   s.lanes.markets,
		Prices:    s.lanes.prices,
	}, s.feed, rand.New(rand.NewSource(rnd.Int63())), logger)
	if err != nil {
		return nil, err
	}
	if !engine.HasAsset(cfg.DefaultAsset) {
		return nil, fmt.Errorf("%w: default %s", ErrUnknownAsset, cfg.DefaultAsset)
	}
	s.engine = engine

	s.personas = deps.Personas
	if s.personas == nil {
		s.personas = population.NewStaticPersonas(rand.New(rand.NewSource(rnd.Int63())))
	}
	if cfg.PopulationEnabled {
		s.pop, err = population.NewManager(cfg.Population, s.ledger, engine,
			rand.New(rand.NewSource(rnd.Int63())), logger,
			population.WithResolver(engine),
			population.WithPersonas(s.personas),
			population.WithFeed(s.feed))
		if err != nil {
			return nil, err
		}
	}

	var repo liquidity.Repository
	if st.Configured() {
		repo = st
	}
	s.pool = liquidity.NewService(cfg.Liquidity, repo, logger)

	s.syncer = reconcile.NewSyncer(cfg.Sync, logger, nil, s.lanes.flushers()...)
	s.syncer.Register(s.pool.Lane())
	return s, nil
}

// =============================================================================
// 启动加载
// =============================================================================

// Load 从存储恢复仓位、市场和质押池
func (s *Simulation) Load(ctx context.Context) error {
	if !s.store.Configured() {
		s.logger.Info("store not configured, running in memory")
		return nil
	}

	positions, err := s.store.LoadAllPositions(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}

	snaps := make([]market.Snapshot, 0, len(s.engine.Symbols()))
	for _, sym := range s.engine.Symbols() {
		snap, err := s.store.GetMarketSnapshot(ctx, sym)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load market %s: %w", sym, err)
		}
		snaps = append(snaps, *snap)
	}

	if err := s.pool.Load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range positions {
		s.ledger.Put(p)
	}
	for _, snap := range snaps {
		if err := s.engine.Restore(snap); err != nil {
			s.logger.Warn("market restore skipped", zap.String("symbol", snap.Symbol), zap.Error(err))
		}
	}
	s.logger.Info("state loaded",
		zap.Int("positions", len(positions)),
		zap.Int("markets", len(snaps)))
	return nil
}

// =============================================================================
// 调度
// =============================================================================

// Run 运行全部任务直到 ctx 取消
func (s *Simulation) Run(ctx context.Context) error {
	cr := NewCronRunner(ctx, s.logger)
	if s.cfg.ReconcileCron != "" {
		if _, err := cr.Add("reconcile_total_staked", s.cfg.ReconcileCron, s.pool.ReconcileTotalStaked); err != nil {
			return fmt.Errorf("register reconcile cron: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.every(ctx, "settlement", s.cfg.TickInterval, s.Tick) })
	if s.pop != nil {
		g.Go(func() error { return s.every(ctx, "population", s.cfg.PopulationInterval, s.Rotate) })
	}
	g.Go(func() error { return s.every(ctx, "accrual", s.cfg.AccrualInterval, s.Accrue) })
	g.Go(func() error { return s.syncer.Run(ctx) })

	cr.Start()
	defer cr.Stop()

	s.logger.Info("simulation started",
		zap.Strings("assets", s.engine.Symbols()),
		zap.Bool("store", s.store.Configured()),
		zap.String("auto_mode", string(s.engine.Mode())))
	err := g.Wait()
	s.logger.Info("simulation stopped", zap.Int("pending_writes", s.syncer.Pending()))
	return err
}

// every 定时执行任务，单次 panic 只跳过这一次
func (s *Simulation) every(ctx context.Context, name string, interval time.Duration, task func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.safe(ctx, name, task)
		}
	}
}

func (s *Simulation) safe(ctx context.Context, name string, task func(context.Context)) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("task panic",
				zap.String("task", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	task(ctx)
}

// Tick 一次结算，快照广播给订阅方，用户仓位风险升级时写预警
func (s *Simulation) Tick(ctx context.Context) {
	s.mu.Lock()
	res := s.engine.Tick(ctx, s.now())
	var risky []*agent.Position
	if s.alerts != nil {
		for _, p := range s.ledger.Active() {
			if p.Owner == agent.OwnerUser && p.Risk >= s.cfg.AlertLevel {
				risky = append(risky, p.Clone())
			}
		}
	}
	s.mu.Unlock()

	s.broadcaster.Broadcast(res.Snapshots())

	if len(risky) == 0 {
		return
	}
	for _, a := range s.alerts.Scan(ctx, risky) {
		s.feed.Append(ctx, feed.NewEntry(feed.TypeRisk, a.UserID, a.AgentID, a.Message(), nil))
	}
}

// Rotate 一次机器人轮转
func (s *Simulation) Rotate(ctx context.Context) {
	if s.pop == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pop.Rotate(ctx, s.now())
}

// Accrue 一次质押奖励累计
func (s *Simulation) Accrue(_ context.Context) {
	s.mu.Lock()
	collateral := 0.0
	for _, p := range s.ledger.Active() {
		collateral += p.Balance
	}
	s.mu.Unlock()

	s.pool.Accrue(s.now(), collateral)
}

// Flush 立即执行一轮落库，返回是否执行
func (s *Simulation) Flush(ctx context.Context) bool {
	return s.syncer.Flush(ctx)
}

// Close 释放订阅，不等待未落库的批次
func (s *Simulation) Close() {
	s.feed.Close()
	s.broadcaster.Close()
}

// =============================================================================
// 查询
// =============================================================================

// View 渲染层使用的只读快照
type View struct {
	Markets   []market.Snapshot
	Positions []*agent.Position
	Pool      liquidity.Pool
	APR       float64
	Feed      []feed.Entry
}

// Snapshot 当前状态深拷贝
func (s *Simulation) Snapshot() View {
	s.mu.Lock()
	v := View{
		Markets:   s.engine.Snapshots(),
		Positions: s.ledger.Snapshot(),
	}
	s.mu.Unlock()

	v.Pool = s.pool.Pool()
	v.APR = s.pool.APR()
	v.Feed = s.feed.Recent(0)
	return v
}

// Position 单个仓位快照
func (s *Simulation) Position(id string) (*agent.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.ledger.Get(id)
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// SubscribeMarkets 每个 tick 的市场快照
func (s *Simulation) SubscribeMarkets() <-chan []market.Snapshot {
	return s.broadcaster.Subscribe()
}

// SubscribeFeed 事件流
func (s *Simulation) SubscribeFeed(buf int) <-chan feed.Entry {
	return s.feed.Subscribe(buf)
}

// Feed 事件流
func (s *Simulation) Feed() *feed.Feed {
	return s.feed
}

// Pool 质押池服务
func (s *Simulation) Pool() *liquidity.Service {
	return s.pool
}

// Syncer 落库调度
func (s *Simulation) Syncer() *reconcile.Syncer {
	return s.syncer
}
