// 文件: pkg/config/convert.go
// 配置 -> 各组件参数

package config

import (
	"strings"

	"arena.com/pkg/liquidity"
	"arena.com/pkg/population"
	"arena.com/pkg/reconcile"
	"arena.com/pkg/settlement"
	"arena.com/pkg/sim"
	"arena.com/pkg/store"
)

func (c *Config) DBConfig() store.DBConfig {
	return store.DBConfig{
		Driver:          c.Store.Driver,
		DSN:             c.Store.DSN,
		MaxOpenConns:    c.Store.MaxOpenConns,
		MaxIdleConns:    c.Store.MaxIdleConns,
		ConnMaxLifetime: c.Store.ConnMaxLifetime.Duration,
		AutoMigrate:     c.Store.AutoMigrate,
	}
}

func (c *Config) SettlementConfig() settlement.Config {
	return settlement.Config{
		HistorySampleProb:  c.Settlement.HistorySampleProb,
		MarketPersistProb:  c.Settlement.MarketPersistProb,
		EarningsMultiplier: c.Settlement.EarningsMultiplier,
		HistoryCap:         c.Settlement.HistoryCap,
		AutoMode:           settlement.ParseAutoMode(c.Settlement.AutoMode),
	}
}

func (c *Config) PopulationConfig() population.Config {
	p := c.Population
	return population.Config{
		TargetMin:     p.TargetMin,
		TargetMax:     p.TargetMax,
		HardCap:       p.HardCap,
		BatchSize:     p.BatchSize,
		MinAge:        p.MinAge.Duration,
		MaxAge:        p.MaxAge.Duration,
		Grace:         p.Grace.Duration,
		MinLeverage:   p.MinLeverage,
		MaxLeverage:   p.MaxLeverage,
		MinCollateral: p.MinCollateral,
		MaxCollateral: p.MaxCollateral,
		AutoShare:     p.AutoShare,
	}
}

func (c *Config) LiquidityConfig() liquidity.Config {
	return liquidity.Config{
		PoolID:   c.Liquidity.PoolID,
		FeeRate:  c.Liquidity.FeeRate,
		FeeShare: c.Liquidity.FeeShare,
		MinAPR:   c.Liquidity.MinAPR,
		MaxAPR:   c.Liquidity.MaxAPR,
	}
}

func (c *Config) SyncConfig() reconcile.Config {
	return reconcile.Config{
		Interval: c.Sim.FlushInterval.Duration,
		Timeout:  c.Sim.FlushTimeout.Duration,
	}
}

// SimulationConfig 组装模拟配置
func (c *Config) SimulationConfig() sim.Config {
	return sim.Config{
		TickInterval:       c.Sim.TickInterval.Duration,
		PopulationInterval: c.Sim.PopulationInterval.Duration,
		AccrualInterval:    c.Sim.AccrualInterval.Duration,
		Sync:               c.SyncConfig(),
		StartingWallet:     c.Sim.StartingWallet,
		DefaultAsset:       c.Sim.DefaultAsset,
		FeedCapacity:       c.Sim.FeedCapacity,
		Seed:               c.Sim.Seed,
		TrendThreshold:     c.Settlement.TrendThreshold,
		Assets:             c.AssetSpecs(),
		Settlement:         c.SettlementConfig(),
		PopulationEnabled:  c.Population.Enabled,
		Population:         c.PopulationConfig(),
		Liquidity:          c.LiquidityConfig(),
		ReconcileCron:      c.Liquidity.ReconcileCron,
		AlertLevel:         riskLevels[strings.ToLower(c.Sim.AlertLevel)],
	}
}
