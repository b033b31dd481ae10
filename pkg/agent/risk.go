// 文件: pkg/agent/risk.go
// 仓位风险等级
//
// 风险率 = 亏损 / 保证金
// - 安全区: < 70%
// - 预警区: 70% ~ 80%
// - 危险区: 80% ~ 90%
// - 临界区: >= 90%，下一个 tick 随时可能爆仓
// - 已爆仓

package agent

type RiskLevel int8

const (
	RiskLevelSafe RiskLevel = iota
	RiskLevelWarning
	RiskLevelDanger
	RiskLevelCritical
	RiskLevelLiquidated
)

const (
	ThresholdWarning  = 0.70
	ThresholdDanger   = 0.80
	ThresholdCritical = 0.90
)

func (l RiskLevel) String() string {
	switch l {
	case RiskLevelSafe:
		return "SAFE"
	case RiskLevelWarning:
		return "WARNING"
	case RiskLevelDanger:
		return "DANGER"
	case RiskLevelCritical:
		return "CRITICAL"
	case RiskLevelLiquidated:
		return "LIQUIDATED"
	default:
		return "UNKNOWN"
	}
}

// ClassifyRisk 根据保证金和未实现盈亏计算风险等级
func ClassifyRisk(collateral, pnl float64) RiskLevel {
	if collateral <= 0 {
		return RiskLevelLiquidated
	}
	if pnl >= 0 {
		return RiskLevelSafe
	}
	ratio := -pnl / collateral
	switch {
	case ratio >= 1:
		return RiskLevelLiquidated
	case ratio >= ThresholdCritical:
		return RiskLevelCritical
	case ratio >= ThresholdDanger:
		return RiskLevelDanger
	case ratio >= ThresholdWarning:
		return RiskLevelWarning
	default:
		return RiskLevelSafe
	}
}
