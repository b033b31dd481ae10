package market

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSpec = AssetSpec{Symbol: "BTC", InitialPrice: 100, Volatility: 0.02, MinPrice: 1}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		delta    float64
		expected Trend
	}{
		{0.0011, TrendUp},
		{0.001, TrendFlat},
		{0, TrendFlat},
		{-0.001, TrendFlat},
		{-0.0011, TrendDown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ClassifyTrend(tt.delta, DefaultTrendThreshold), "delta=%v", tt.delta)
	}
}

func TestStep_AppliesDeltaAndTrend(t *testing.T) {
	p := NewPriceProcess(testSpec, rand.New(rand.NewSource(1)), 0)
	now := time.Unix(1700000000, 0)

	tick := p.Step(0.01, now)

	assert.InDelta(t, 101, tick.Price, 1e-9)
	assert.Equal(t, 100.0, tick.PrevPrice)
	assert.Equal(t, TrendUp, tick.Trend)
	assert.InDelta(t, 1.0, tick.ChangePct(), 1e-9)
	assert.Equal(t, p.Price(), tick.Price)
	assert.Equal(t, now, tick.At)
}

func TestStep_ClampsToMinPrice(t *testing.T) {
	p := NewPriceProcess(AssetSpec{Symbol: "X", InitialPrice: 2, Volatility: 1, MinPrice: 1.5}, nil, 0)

	tick := p.Step(-0.9, time.Now())

	assert.Equal(t, 1.5, tick.Price)
	assert.Equal(t, TrendDown, tick.Trend)
	assert.Greater(t, p.Price(), 0.0)
}

func TestAdvance_BoundedAndDeterministic(t *testing.T) {
	a := NewPriceProcess(testSpec, rand.New(rand.NewSource(42)), 0)
	b := NewPriceProcess(testSpec, rand.New(rand.NewSource(42)), 0)
	now := time.Now()

	for i := 0; i < 500; i++ {
		ta := a.Advance(now)
		tb := b.Advance(now)
		require.Equal(t, ta.Price, tb.Price)
		require.LessOrEqual(t, ta.Delta, testSpec.Volatility/2)
		require.GreaterOrEqual(t, ta.Delta, -testSpec.Volatility/2)
		require.GreaterOrEqual(t, ta.Price, testSpec.MinPrice)
	}
}

func TestHistory_RingOf30(t *testing.T) {
	p := NewPriceProcess(testSpec, rand.New(rand.NewSource(7)), 0)
	var last float64
	for i := 0; i < 100; i++ {
		last = p.Advance(time.Now()).Price
	}

	h := p.History()
	require.Len(t, h, HistoryLen)
	assert.Equal(t, last, h[HistoryLen-1])

	// 返回的是副本
	h[0] = -1
	assert.NotEqual(t, -1.0, p.History()[0])
}

func TestRestore(t *testing.T) {
	p := NewPriceProcess(testSpec, nil, 0)
	hist := make([]float64, 40)
	for i := range hist {
		hist[i] = float64(i + 1)
	}

	require.NoError(t, p.Restore(40, hist, TrendDown, time.Now()))
	assert.Equal(t, 40.0, p.Price())
	assert.Equal(t, TrendDown, p.Trend())
	assert.Len(t, p.History(), HistoryLen)
	assert.Equal(t, 11.0, p.History()[0])

	assert.ErrorIs(t, p.Restore(0, nil, TrendFlat, time.Now()), ErrInvalidPrice)
}

func TestSetPrice(t *testing.T) {
	p := NewPriceProcess(testSpec, nil, 0)

	tick := p.SetPrice(91, time.Now())

	assert.Equal(t, 91.0, tick.Price)
	assert.InDelta(t, -0.09, tick.Delta, 1e-12)
	assert.Equal(t, TrendDown, tick.Trend)
}

func TestEarnings(t *testing.T) {
	long, short := Earnings(1000, 500, 0.01, 1.5)
	assert.InDelta(t, 15, long, 1e-9)
	assert.InDelta(t, -7.5, short, 1e-9)

	long, short = Earnings(1000, 500, -0.01, 1.5)
	assert.InDelta(t, -15, long, 1e-9)
	assert.InDelta(t, 7.5, short, 1e-9)
}

func TestAssetSpec_Validate(t *testing.T) {
	for _, s := range DefaultAssets() {
		assert.NoError(t, s.Validate())
	}
	assert.Error(t, AssetSpec{Symbol: "X", InitialPrice: 0, MinPrice: 1}.Validate())
	assert.ErrorIs(t, AssetSpec{}.Validate(), ErrUnknownAsset)
}

func TestTrendStringAndParse(t *testing.T) {
	for _, tr := range []Trend{TrendUp, TrendDown, TrendFlat} {
		assert.Equal(t, tr, ParseTrend(tr.String()))
	}
}
