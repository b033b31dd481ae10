package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLong(id string) *Position {
	return &Position{
		ID:         id,
		Origin:     Persisted{DBID: id},
		Direction:  DirectionLong,
		Leverage:   10,
		Balance:    1000,
		EntryPrice: 100,
		Status:     StatusActive,
	}
}

// =============================================================================
// RawPnL 测试
// =============================================================================

func TestRawPnL(t *testing.T) {
	tests := []struct {
		name       string
		collateral float64
		entry      float64
		price      float64
		mult       int
		leverage   int
		want       float64
	}{
		{"多头下跌9%", 1000, 100, 91, 1, 10, -900},
		{"多头下跌11%", 1000, 100, 89, 1, 10, -1100},
		{"空头下跌11%", 1000, 100, 89, -1, 10, 1100},
		{"多头上涨5% 1倍", 200, 100, 105, 1, 1, 10},
		{"入场价为0", 1000, 0, 100, 1, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RawPnL(tt.collateral, tt.entry, tt.price, tt.mult, tt.leverage)
			assert.InDelta(t, tt.want, got, 1e-9)
			// 重复计算结果一致
			assert.Equal(t, got, RawPnL(tt.collateral, tt.entry, tt.price, tt.mult, tt.leverage))
		})
	}
}

// =============================================================================
// Evaluate 测试
// =============================================================================

func TestEvaluate_SurvivesAt91(t *testing.T) {
	p := newLong("a1")

	out := Evaluate(p, 91)

	assert.False(t, out.Liquidated)
	assert.InDelta(t, -900, out.PnL, 1e-9)
	assert.Equal(t, RiskLevelCritical, out.Risk)
}

func TestEvaluate_LiquidatedAt89(t *testing.T) {
	p := newLong("a1")

	out := Evaluate(p, 89)

	assert.True(t, out.Liquidated)
	assert.Equal(t, -1000.0, out.PnL)
	assert.Equal(t, RiskLevelLiquidated, out.Risk)

	p.Apply(LiquidationDelta(p))
	assert.Equal(t, StatusLiquidated, p.Status)
	assert.Equal(t, 0.0, p.Balance)
	assert.Equal(t, -1000.0, p.PnL)
}

func TestEvaluate_ExactlyZeroEquityLiquidates(t *testing.T) {
	p := newLong("a1")

	out := Evaluate(p, 90)

	assert.True(t, out.Liquidated)
}

func TestEvaluate_AutoUsesResolvedSide(t *testing.T) {
	p := newLong("a1")
	p.Direction = DirectionAuto
	p.Resolved = DirectionShort

	out := Evaluate(p, 95)

	assert.InDelta(t, 500, out.PnL, 1e-9)
}

// =============================================================================
// AUTO 方向测试
// =============================================================================

func TestHashBias_Stable(t *testing.T) {
	// '0' = 48 偶数，'1' = 49 奇数
	assert.Equal(t, DirectionLong, HashBias("agent-0"))
	assert.Equal(t, DirectionShort, HashBias("agent-1"))
	assert.Equal(t, DirectionLong, HashBias(""))

	for i := 0; i < 10; i++ {
		assert.Equal(t, HashBias("xyz"), HashBias("xyz"))
	}
}

func TestResolveAuto(t *testing.T) {
	assert.Equal(t, DirectionLong, ResolveAuto("agent-1", 1))
	assert.Equal(t, DirectionShort, ResolveAuto("agent-0", -1))
	assert.Equal(t, HashBias("agent-1"), ResolveAuto("agent-1", 0))
}

func TestEffective_AutoFixedAcrossTrendFlips(t *testing.T) {
	p := newLong("agent-1")
	p.Direction = DirectionAuto
	p.Resolved = ResolveAuto(p.ID, 1)

	first := p.Effective()
	// 趋势翻转不会影响已解析的方向
	for i := 0; i < 5; i++ {
		require.Equal(t, first, p.Effective())
	}
	assert.Equal(t, DirectionLong, first)
}

func TestEffective_AutoWithoutResolutionUsesHash(t *testing.T) {
	p := newLong("agent-1")
	p.Direction = DirectionAuto

	assert.Equal(t, DirectionShort, p.Effective())
}

// =============================================================================
// 历史采样测试
// =============================================================================

func TestAppendHistory_FIFO(t *testing.T) {
	p := newLong("a1")
	base := time.Unix(1700000000, 0)

	for i := 0; i < 45; i++ {
		p.AppendHistory(PnLPoint{At: base.Add(time.Duration(i) * time.Second), Value: float64(i)}, DefaultHistoryCap)
		require.LessOrEqual(t, len(p.PnLHistory), DefaultHistoryCap)
	}

	require.Len(t, p.PnLHistory, DefaultHistoryCap)
	assert.Equal(t, 15.0, p.PnLHistory[0].Value)
	assert.Equal(t, 44.0, p.PnLHistory[DefaultHistoryCap-1].Value)
}

// =============================================================================
// 风险等级测试
// =============================================================================

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		name     string
		pnl      float64
		expected RiskLevel
	}{
		{"盈利", 50, RiskLevelSafe},
		{"亏损69%", -690, RiskLevelSafe},
		{"亏损70%", -700, RiskLevelWarning},
		{"亏损80%", -800, RiskLevelDanger},
		{"亏损90%", -900, RiskLevelCritical},
		{"亏损100%", -1000, RiskLevelLiquidated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ClassifyRisk(1000, tt.pnl))
		})
	}

	assert.Equal(t, RiskLevelLiquidated, ClassifyRisk(0, 0))
	assert.Equal(t, "UNKNOWN", RiskLevel(99).String())
}
