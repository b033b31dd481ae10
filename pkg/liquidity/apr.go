// 文件: pkg/liquidity/apr.go
// 动态 APR 与利息计算 (纯函数)
//
// dailyFeeEstimate = sum(ACTIVE 仓位保证金) * feeRate
// annualFeeProjection = dailyFeeEstimate * 365
// dynamicApr = (annualFeeProjection / totalStaked) * feeShare * 100
// 最终 APR 截断在 [MinAPR, MaxAPR]
//
// 每秒利息 = amount * (apr / 100) / secondsPerYear

package liquidity

import (
	"math"

	"github.com/shopspring/decimal"
)

const SecondsPerYear = 365 * 24 * 60 * 60

// Config 池参数
type Config struct {
	PoolID   string
	FeeRate  float64 // 每日手续费占保证金比例
	FeeShare float64 // 分给质押者的比例
	MinAPR   float64 // %
	MaxAPR   float64 // %
}

// DefaultConfig 默认参数
func DefaultConfig() Config {
	return Config{
		PoolID:   "main",
		FeeRate:  0.001,
		FeeShare: 0.7,
		MinAPR:   50,
		MaxAPR:   150,
	}
}

// DailyFeeEstimate 每日手续费估算
func DailyFeeEstimate(activeCollateral, feeRate float64) decimal.Decimal {
	if activeCollateral <= 0 || feeRate <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(activeCollateral).Mul(decimal.NewFromFloat(feeRate))
}

// DynamicAPR 动态年化 (%)
//
// totalStaked 为 0 时取上限，不会除零
func DynamicAPR(dailyFee, totalStaked decimal.Decimal, cfg Config) float64 {
	if !totalStaked.IsPositive() {
		return cfg.MaxAPR
	}
	annual := dailyFee.Mul(decimal.NewFromInt(365))
	apr, _ := annual.Div(totalStaked).
		Mul(decimal.NewFromFloat(cfg.FeeShare)).
		Mul(decimal.NewFromInt(100)).
		Float64()
	return clamp(apr, cfg.MinAPR, cfg.MaxAPR)
}

// Accrue 一段时间内的利息
func Accrue(amount decimal.Decimal, apr float64, seconds float64) decimal.Decimal {
	if !amount.IsPositive() || apr <= 0 || seconds <= 0 {
		return decimal.Zero
	}
	return amount.
		Mul(decimal.NewFromFloat(apr / 100)).
		Mul(decimal.NewFromFloat(seconds)).
		Div(decimal.NewFromInt(SecondsPerYear))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
