// 文件: pkg/market/snapshot.go
// 市场快照 + 多空聚合
//
// 聚合数据只用于展示，每个 tick 从仓位集合重新计算，
// 不是任何仓位 PnL 的数据来源

package market

import (
	"math"
	"time"
)

// DefaultEarningsMultiplier 每秒收益展示倍数
const DefaultEarningsMultiplier = 1.5

// Aggregates 多空双方聚合
type Aggregates struct {
	TotalLongStaked     float64
	TotalShortStaked    float64
	LongEarningsPerSec  float64
	ShortEarningsPerSec float64
}

// Snapshot 市场状态
type Snapshot struct {
	Symbol        string
	Price         float64
	History       []float64
	Trend         Trend
	LastChangePct float64
	Aggregates
	UpdatedAt time.Time
}

// Earnings 计算双方每秒收益
//
// side_total * |priceDelta| * multiplier，
// 价格方向一致的一方为正，另一方为负；横盘时两方按上涨处理符号
func Earnings(longTotal, shortTotal, delta, multiplier float64) (longPerSec, shortPerSec float64) {
	mag := math.Abs(delta) * multiplier
	longPerSec = longTotal * mag
	shortPerSec = shortTotal * mag
	if delta < 0 {
		longPerSec = -longPerSec
	} else {
		shortPerSec = -shortPerSec
	}
	return longPerSec, shortPerSec
}

// PriceSample 价格历史采样
type PriceSample struct {
	Symbol string
	Price  float64
	At     time.Time
}

// Sample 当前价格采样
func (s Snapshot) Sample() PriceSample {
	return PriceSample{Symbol: s.Symbol, Price: s.Price, At: s.UpdatedAt}
}
