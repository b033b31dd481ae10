// 文件: pkg/agent/pnl.go
// 盈亏与强平计算 (纯函数)
//
// 【公式】
// priceDiffFrac = (newPrice - entryPrice) / entryPrice
// rawPnl = collateral * priceDiffFrac * directionMultiplier * leverage
//
// 【强平】
// collateral + rawPnl <= 0 时强平:
// pnl = -collateral, balance = 0
// 保证金永远不会出现负数

package agent

// RawPnL 计算未实现盈亏，无副作用
func RawPnL(collateral, entryPrice, price float64, multiplier, leverage int) float64 {
	if entryPrice <= 0 {
		return 0
	}
	priceDiffFrac := (price - entryPrice) / entryPrice
	return collateral * priceDiffFrac * float64(multiplier) * float64(leverage)
}

// HashBias 由 ID 字符码决定的固定方向
//
// 取最后一个字符的编码，偶数为多，奇数为空
func HashBias(id string) Direction {
	if id == "" {
		return DirectionLong
	}
	if id[len(id)-1]%2 == 0 {
		return DirectionLong
	}
	return DirectionShort
}

// ResolveAuto 按市场趋势解析 AUTO 方向
//
// trendSign: +1 上涨, -1 下跌, 0 横盘 (横盘时用 ID 哈希)
func ResolveAuto(id string, trendSign int) Direction {
	switch {
	case trendSign > 0:
		return DirectionLong
	case trendSign < 0:
		return DirectionShort
	}
	return HashBias(id)
}

// Outcome 单个仓位一次结算的结果
type Outcome struct {
	PnL        float64
	Liquidated bool
	Risk       RiskLevel
}

// Evaluate 用最新价格重新计算仓位
//
// 每次从 (price, entryPrice, direction, leverage, collateral) 从头计算，
// 不依赖上一次的 PnL，不会累积误差
func Evaluate(p *Position, price float64) Outcome {
	raw := RawPnL(p.Balance, p.EntryPrice, price, p.Effective().Sign(), p.Leverage)
	if p.Balance+raw <= 0 {
		return Outcome{PnL: -p.Balance, Liquidated: true, Risk: RiskLevelLiquidated}
	}
	return Outcome{PnL: raw, Risk: ClassifyRisk(p.Balance, raw)}
}

// LiquidationDelta 强平变更: pnl = -保证金, balance = 0
func LiquidationDelta(p *Position) Delta {
	return Delta{
		ID:      p.ID,
		PnL:     Float(-p.Balance),
		Status:  StatusPtr(StatusLiquidated),
		Balance: Float(0),
	}
}
