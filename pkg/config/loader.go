// 文件: pkg/config/loader.go
// 配置加载 + 环境变量覆盖

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load 读取 TOML 文件 (path 为空时只用默认值)，再应用 ARENA_* 环境变量
//
// 返回的配置未校验，调用方需要再调用 Validate
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		// 文件中出现 [[sim.assets]] 时整体替换默认资产，不逐个合并
		assets := cfg.Sim.Assets
		cfg.Sim.Assets = nil
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if !md.IsDefined("sim", "assets") {
			cfg.Sim.Assets = assets
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
		}
	}

	// .env 不存在时忽略
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Log ──
	setStr(&cfg.Log.Level, "ARENA_LOG_LEVEL")
	setStr(&cfg.Log.Encoding, "ARENA_LOG_ENCODING")
	setBool(&cfg.Log.Development, "ARENA_LOG_DEVELOPMENT")

	// ── Store ──
	setStr(&cfg.Store.Driver, "ARENA_STORE_DRIVER")
	setStr(&cfg.Store.DSN, "ARENA_STORE_DSN")
	setInt(&cfg.Store.MaxOpenConns, "ARENA_STORE_MAX_OPEN_CONNS")
	setInt(&cfg.Store.MaxIdleConns, "ARENA_STORE_MAX_IDLE_CONNS")
	setBool(&cfg.Store.AutoMigrate, "ARENA_STORE_AUTO_MIGRATE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARENA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARENA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARENA_REDIS_DB")
	setDuration(&cfg.Redis.TTL, "ARENA_REDIS_TTL")

	// ── Events ──
	setStr(&cfg.Events.Backend, "ARENA_EVENTS_BACKEND")
	setStringSlice(&cfg.Events.Brokers, "ARENA_EVENTS_BROKERS")
	setStr(&cfg.Events.Topic, "ARENA_EVENTS_TOPIC")
	setStr(&cfg.Events.NatsURL, "ARENA_EVENTS_NATS_URL")
	setStr(&cfg.Events.Subject, "ARENA_EVENTS_SUBJECT")

	// ── Sim ──
	setDuration(&cfg.Sim.TickInterval, "ARENA_SIM_TICK_INTERVAL")
	setDuration(&cfg.Sim.PopulationInterval, "ARENA_SIM_POPULATION_INTERVAL")
	setDuration(&cfg.Sim.FlushInterval, "ARENA_SIM_FLUSH_INTERVAL")
	setFloat64(&cfg.Sim.StartingWallet, "ARENA_SIM_STARTING_WALLET")
	setStr(&cfg.Sim.DefaultAsset, "ARENA_SIM_DEFAULT_ASSET")
	setInt64(&cfg.Sim.Seed, "ARENA_SIM_SEED")
	setInt64(&cfg.Sim.NodeID, "ARENA_SIM_NODE_ID")
	setStr(&cfg.Sim.AlertLevel, "ARENA_SIM_ALERT_LEVEL")

	// ── Settlement ──
	setStr(&cfg.Settlement.AutoMode, "ARENA_SETTLEMENT_AUTO_MODE")
	setFloat64(&cfg.Settlement.EarningsMultiplier, "ARENA_SETTLEMENT_EARNINGS_MULTIPLIER")

	// ── Population ──
	setBool(&cfg.Population.Enabled, "ARENA_POPULATION_ENABLED")
	setInt(&cfg.Population.HardCap, "ARENA_POPULATION_HARD_CAP")

	// ── Liquidity ──
	setFloat64(&cfg.Liquidity.MinAPR, "ARENA_LIQUIDITY_MIN_APR")
	setFloat64(&cfg.Liquidity.MaxAPR, "ARENA_LIQUIDITY_MAX_APR")
	setStr(&cfg.Liquidity.ReconcileCron, "ARENA_LIQUIDITY_RECONCILE_CRON")
}

// ---------------------------------------------------------------------------
// 环境变量存在且非空时才覆盖
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		*dst = cleaned
	}
}
