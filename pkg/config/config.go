// 文件: pkg/config/config.go
// 竞技场配置
//
// 加载顺序: 内置默认值 -> TOML 文件 -> .env -> ARENA_* 环境变量

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"arena.com/pkg/agent"
	"arena.com/pkg/logx"
	"arena.com/pkg/market"
)

var ErrInvalid = errors.New("invalid config")

// Config 顶层配置
type Config struct {
	Log        logx.Config      `toml:"log"`
	Store      StoreConfig      `toml:"store"`
	Redis      RedisConfig      `toml:"redis"`
	Events     EventsConfig     `toml:"events"`
	Sim        SimConfig        `toml:"sim"`
	Settlement SettlementConfig `toml:"settlement"`
	Population PopulationConfig `toml:"population"`
	Liquidity  LiquidityConfig  `toml:"liquidity"`
}

// StoreConfig 数据库，Driver 为空时纯内存运行
type StoreConfig struct {
	Driver          string   `toml:"driver"` // mysql | postgres | ""
	DSN             string   `toml:"dsn"`
	MaxOpenConns    int      `toml:"max_open_conns"`
	MaxIdleConns    int      `toml:"max_idle_conns"`
	ConnMaxLifetime duration `toml:"conn_max_lifetime"`
	AutoMigrate     bool     `toml:"auto_migrate"`
}

// RedisConfig 缓存，Addr 为空时不启用
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      duration `toml:"ttl"`
}

// EventsConfig 事件流外发
type EventsConfig struct {
	Backend string   `toml:"backend"` // kafka | nats | ""
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	NatsURL string   `toml:"nats_url"`
	Subject string   `toml:"subject"` // NATS 主题前缀
}

// AssetConfig 单个资产
type AssetConfig struct {
	Symbol       string  `toml:"symbol"`
	InitialPrice float64 `toml:"initial_price"`
	Volatility   float64 `toml:"volatility"`
	MinPrice     float64 `toml:"min_price"`
}

// SimConfig 调度参数
type SimConfig struct {
	TickInterval       duration      `toml:"tick_interval"`
	PopulationInterval duration      `toml:"population_interval"`
	FlushInterval      duration      `toml:"flush_interval"`
	FlushTimeout       duration      `toml:"flush_timeout"`
	AccrualInterval    duration      `toml:"accrual_interval"`
	StartingWallet     float64       `toml:"starting_wallet"`
	DefaultAsset       string        `toml:"default_asset"`
	FeedCapacity       int           `toml:"feed_capacity"`
	Seed               int64         `toml:"seed"` // 0 表示使用时间种子
	NodeID             int64         `toml:"node_id"`
	AlertLevel         string        `toml:"alert_level"` // warning | danger | critical | off
	Assets             []AssetConfig `toml:"assets"`
}

// SettlementConfig 结算参数
type SettlementConfig struct {
	HistorySampleProb  float64 `toml:"history_sample_prob"`
	MarketPersistProb  float64 `toml:"market_persist_prob"`
	EarningsMultiplier float64 `toml:"earnings_multiplier"`
	HistoryCap         int     `toml:"history_cap"`
	TrendThreshold     float64 `toml:"trend_threshold"`
	AutoMode           string  `toml:"auto_mode"` // deploy | legacy
}

// PopulationConfig 机器人种群参数
type PopulationConfig struct {
	Enabled       bool     `toml:"enabled"`
	TargetMin     int      `toml:"target_min"`
	TargetMax     int      `toml:"target_max"`
	HardCap       int      `toml:"hard_cap"`
	BatchSize     int      `toml:"batch_size"`
	MinAge        duration `toml:"min_age"`
	MaxAge        duration `toml:"max_age"`
	Grace         duration `toml:"grace"`
	MinLeverage   int      `toml:"min_leverage"`
	MaxLeverage   int      `toml:"max_leverage"`
	MinCollateral float64  `toml:"min_collateral"`
	MaxCollateral float64  `toml:"max_collateral"`
	AutoShare     float64  `toml:"auto_share"`
}

// LiquidityConfig 质押池参数
type LiquidityConfig struct {
	PoolID        string  `toml:"pool_id"`
	FeeRate       float64 `toml:"fee_rate"`
	FeeShare      float64 `toml:"fee_share"`
	MinAPR        float64 `toml:"min_apr"`
	MaxAPR        float64 `toml:"max_apr"`
	ReconcileCron string  `toml:"reconcile_cron"` // 带秒的 cron 表达式
}

// riskLevels 预警阈值，off 关闭预警
var riskLevels = map[string]agent.RiskLevel{
	"":         agent.RiskLevelSafe,
	"off":      agent.RiskLevelSafe,
	"warning":  agent.RiskLevelWarning,
	"danger":   agent.RiskLevelDanger,
	"critical": agent.RiskLevelCritical,
}

// duration 支持 TOML 字符串 ("2s", "5m")
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults 内置默认值
func Defaults() Config {
	assets := market.DefaultAssets()
	ac := make([]AssetConfig, len(assets))
	for i, a := range assets {
		ac[i] = AssetConfig{Symbol: a.Symbol, InitialPrice: a.InitialPrice, Volatility: a.Volatility, MinPrice: a.MinPrice}
	}

	return Config{
		Log: logx.Config{Level: "info", Encoding: "json"},
		Store: StoreConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: duration{30 * time.Minute},
			AutoMigrate:     true,
		},
		Redis: RedisConfig{TTL: duration{30 * time.Second}},
		Events: EventsConfig{
			Topic:   "arena.feed",
			Subject: "arena.feed",
		},
		Sim: SimConfig{
			TickInterval:       duration{time.Second},
			PopulationInterval: duration{3 * time.Second},
			FlushInterval:      duration{2 * time.Second},
			FlushTimeout:       duration{5 * time.Second},
			AccrualInterval:    duration{time.Second},
			StartingWallet:     10000,
			DefaultAsset:       "BTC",
			FeedCapacity:       200,
			NodeID:             1,
			AlertLevel:         "danger",
			Assets:             ac,
		},
		Settlement: SettlementConfig{
			HistorySampleProb:  0.1,
			MarketPersistProb:  1.0 / 30,
			EarningsMultiplier: market.DefaultEarningsMultiplier,
			HistoryCap:         30,
			TrendThreshold:     market.DefaultTrendThreshold,
			AutoMode:           "deploy",
		},
		Population: PopulationConfig{
			Enabled:       true,
			TargetMin:     60,
			TargetMax:     140,
			HardCap:       150,
			BatchSize:     3,
			MinAge:        duration{30 * time.Second},
			MaxAge:        duration{120 * time.Second},
			Grace:         duration{3 * time.Second},
			MinLeverage:   2,
			MaxLeverage:   25,
			MinCollateral: 100,
			MaxCollateral: 5000,
			AutoShare:     0.2,
		},
		Liquidity: LiquidityConfig{
			PoolID:        "main",
			FeeRate:       0.001,
			FeeShare:      0.7,
			MinAPR:        50,
			MaxAPR:        150,
			ReconcileCron: "0 */5 * * * *",
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "", "mysql", "postgres", "postgresql":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q", c.Store.Driver))
	}
	if c.Store.Driver != "" && c.Store.DSN == "" {
		errs = append(errs, errors.New("store.dsn required when driver is set"))
	}

	switch c.Events.Backend {
	case "":
	case "kafka":
		if len(c.Events.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers required for kafka"))
		}
	case "nats":
		if c.Events.NatsURL == "" {
			errs = append(errs, errors.New("events.nats_url required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.backend %q", c.Events.Backend))
	}

	for name, d := range map[string]time.Duration{
		"sim.tick_interval":       c.Sim.TickInterval.Duration,
		"sim.population_interval": c.Sim.PopulationInterval.Duration,
		"sim.flush_interval":      c.Sim.FlushInterval.Duration,
		"sim.accrual_interval":    c.Sim.AccrualInterval.Duration,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, ok := riskLevels[strings.ToLower(c.Sim.AlertLevel)]; !ok {
		errs = append(errs, fmt.Errorf("sim.alert_level %q", c.Sim.AlertLevel))
	}
	if c.Sim.StartingWallet < 0 {
		errs = append(errs, errors.New("sim.starting_wallet must not be negative"))
	}

	if len(c.Sim.Assets) == 0 {
		errs = append(errs, errors.New("sim.assets must not be empty"))
	}
	seen := make(map[string]bool)
	for _, a := range c.AssetSpecs() {
		if err := a.Validate(); err != nil {
			errs = append(errs, err)
		}
		if seen[a.Symbol] {
			errs = append(errs, fmt.Errorf("duplicate asset %s", a.Symbol))
		}
		seen[a.Symbol] = true
	}
	if c.Sim.DefaultAsset != "" && !seen[c.Sim.DefaultAsset] {
		errs = append(errs, fmt.Errorf("sim.default_asset %s not configured", c.Sim.DefaultAsset))
	}

	if p := c.Settlement.HistorySampleProb; p < 0 || p > 1 {
		errs = append(errs, errors.New("settlement.history_sample_prob must be in [0, 1]"))
	}
	if p := c.Settlement.MarketPersistProb; p < 0 || p > 1 {
		errs = append(errs, errors.New("settlement.market_persist_prob must be in [0, 1]"))
	}
	switch c.Settlement.AutoMode {
	case "", "deploy", "legacy":
	default:
		errs = append(errs, fmt.Errorf("settlement.auto_mode %q", c.Settlement.AutoMode))
	}

	if c.Liquidity.MinAPR < 0 || c.Liquidity.MaxAPR < c.Liquidity.MinAPR {
		errs = append(errs, errors.New("liquidity apr band invalid"))
	}
	if c.Liquidity.FeeShare < 0 || c.Liquidity.FeeShare > 1 {
		errs = append(errs, errors.New("liquidity.fee_share must be in [0, 1]"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// AssetSpecs 资产配置转换
func (c *Config) AssetSpecs() []market.AssetSpec {
	out := make([]market.AssetSpec, len(c.Sim.Assets))
	for i, a := range c.Sim.Assets {
		out[i] = market.AssetSpec{
			Symbol:       a.Symbol,
			InitialPrice: a.InitialPrice,
			Volatility:   a.Volatility,
			MinPrice:     a.MinPrice,
		}
	}
	return out
}
