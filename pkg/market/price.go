// 文件: pkg/market/price.go
// 合成价格过程 (有界随机游走)
//
// 每个 tick:
// 1. priceDelta = (rand() - 0.5) * volatility
// 2. newPrice = max(minPrice, price * (1 + priceDelta))
// 3. 趋势分类: delta > 0.001 为 UP，< -0.001 为 DOWN，否则 FLAT
//
// 阈值是相对变化 (分数)，不是绝对价格
//
// 和 Ticker 一样，每个过程持有独立的随机源，
// 测试时传入固定种子即可复现整条价格路径

package market

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrInvalidPrice = errors.New("invalid price")
)

const (
	// HistoryLen 价格历史环长度
	HistoryLen = 30

	// DefaultTrendThreshold 趋势判定阈值 (0.1%)
	DefaultTrendThreshold = 0.001
)

// =============================================================================
// 资产参数
// =============================================================================

// AssetSpec 合成资产参数
type AssetSpec struct {
	Symbol       string
	InitialPrice float64
	Volatility   float64 // 单 tick 最大相对波动幅度的 2 倍
	MinPrice     float64 // 价格下限，保证价格永远为正
}

// DefaultAssets 默认资产列表
func DefaultAssets() []AssetSpec {
	return []AssetSpec{
		{Symbol: "BTC", InitialPrice: 65000, Volatility: 0.004, MinPrice: 1000},
		{Symbol: "ETH", InitialPrice: 3500, Volatility: 0.006, MinPrice: 100},
		{Symbol: "SOL", InitialPrice: 150, Volatility: 0.01, MinPrice: 1},
	}
}

// Validate 检查参数
func (s AssetSpec) Validate() error {
	if s.Symbol == "" {
		return ErrUnknownAsset
	}
	if s.InitialPrice <= 0 || s.MinPrice <= 0 || s.InitialPrice < s.MinPrice {
		return ErrInvalidPrice
	}
	if s.Volatility < 0 {
		return ErrInvalidPrice
	}
	return nil
}

// =============================================================================
// 趋势
// =============================================================================

type Trend int8

const (
	TrendFlat Trend = 0
	TrendUp   Trend = 1
	TrendDown Trend = -1
)

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "UP"
	case TrendDown:
		return "DOWN"
	}
	return "FLAT"
}

// Sign 上涨 +1，下跌 -1，横盘 0
func (t Trend) Sign() int {
	return int(t)
}

func ParseTrend(s string) Trend {
	switch strings.ToUpper(s) {
	case "UP":
		return TrendUp
	case "DOWN":
		return TrendDown
	}
	return TrendFlat
}

// ClassifyTrend 按相对变化分类
func ClassifyTrend(delta, threshold float64) Trend {
	switch {
	case delta > threshold:
		return TrendUp
	case delta < -threshold:
		return TrendDown
	}
	return TrendFlat
}

// =============================================================================
// PriceProcess
// =============================================================================

// Tick 一次价格推进的结果
type Tick struct {
	Symbol    string
	Price     float64
	PrevPrice float64
	Delta     float64 // 随机相对变化 (未截断)
	Trend     Trend
	At        time.Time
}

// ChangePct 实际涨跌幅 (%)，价格触底时小于 Delta
func (t Tick) ChangePct() float64 {
	if t.PrevPrice <= 0 {
		return 0
	}
	return (t.Price - t.PrevPrice) / t.PrevPrice * 100
}

// PriceProcess 单个资产的价格过程
type PriceProcess struct {
	spec      AssetSpec
	rnd       *rand.Rand
	threshold float64

	price         float64
	history       []float64 // 最旧在前
	trend         Trend
	lastChangePct float64
	updatedAt     time.Time
}

// NewPriceProcess 创建价格过程
// rnd 为 nil 时使用时间种子
func NewPriceProcess(spec AssetSpec, rnd *rand.Rand, threshold float64) *PriceProcess {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if threshold <= 0 {
		threshold = DefaultTrendThreshold
	}
	return &PriceProcess{
		spec:      spec,
		rnd:       rnd,
		threshold: threshold,
		price:     spec.InitialPrice,
		history:   []float64{spec.InitialPrice},
		trend:     TrendFlat,
	}
}

// Advance 推进一个 tick
func (p *PriceProcess) Advance(now time.Time) Tick {
	delta := (p.rnd.Float64() - 0.5) * p.spec.Volatility
	return p.Step(delta, now)
}

// Step 按给定的相对变化推进 (Advance 的确定性部分)
func (p *PriceProcess) Step(delta float64, now time.Time) Tick {
	prev := p.price
	next := math.Max(p.spec.MinPrice, prev*(1+delta))
	p.apply(next, ClassifyTrend(delta, p.threshold), now)
	return Tick{
		Symbol:    p.spec.Symbol,
		Price:     next,
		PrevPrice: prev,
		Delta:     delta,
		Trend:     p.trend,
		At:        now,
	}
}

// SetPrice 直接设置价格，趋势按实际变化判定
func (p *PriceProcess) SetPrice(price float64, now time.Time) Tick {
	prev := p.price
	next := math.Max(p.spec.MinPrice, price)
	delta := 0.0
	if prev > 0 {
		delta = (next - prev) / prev
	}
	p.apply(next, ClassifyTrend(delta, p.threshold), now)
	return Tick{Symbol: p.spec.Symbol, Price: next, PrevPrice: prev, Delta: delta, Trend: p.trend, At: now}
}

func (p *PriceProcess) apply(next float64, trend Trend, now time.Time) {
	prev := p.price
	p.price = next
	p.trend = trend
	if prev > 0 {
		p.lastChangePct = (next - prev) / prev * 100
	}
	p.updatedAt = now
	p.history = append(p.history, next)
	if over := len(p.history) - HistoryLen; over > 0 {
		p.history = append(p.history[:0], p.history[over:]...)
	}
}

// Restore 用存储中的快照恢复状态
func (p *PriceProcess) Restore(price float64, history []float64, trend Trend, updatedAt time.Time) error {
	if price <= 0 {
		return ErrInvalidPrice
	}
	p.price = math.Max(p.spec.MinPrice, price)
	p.trend = trend
	p.updatedAt = updatedAt
	if len(history) > HistoryLen {
		history = history[len(history)-HistoryLen:]
	}
	p.history = append(p.history[:0], history...)
	if len(p.history) == 0 {
		p.history = append(p.history, p.price)
	}
	return nil
}

func (p *PriceProcess) Symbol() string  { return p.spec.Symbol }
func (p *PriceProcess) Spec() AssetSpec { return p.spec }
func (p *PriceProcess) Price() float64  { return p.price }
func (p *PriceProcess) Trend() Trend    { return p.trend }

// History 价格历史副本
func (p *PriceProcess) History() []float64 {
	out := make([]float64, len(p.history))
	copy(out, p.history)
	return out
}

// Snapshot 生成市场快照
func (p *PriceProcess) Snapshot(agg Aggregates) Snapshot {
	return Snapshot{
		Symbol:        p.spec.Symbol,
		Price:         p.price,
		History:       p.History(),
		Trend:         p.trend,
		LastChangePct: p.lastChangePct,
		Aggregates:    agg,
		UpdatedAt:     p.updatedAt,
	}
}
