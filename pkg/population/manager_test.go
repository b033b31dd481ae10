package population

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
)

// =============================================================================
// 测试辅助
// =============================================================================

type fixedPrices map[string]float64

func (f fixedPrices) Price(symbol string) (float64, error) {
	p, ok := f[symbol]
	if !ok {
		return 0, errors.New("unknown asset")
	}
	return p, nil
}

func (f fixedPrices) Symbols() []string {
	return []string{"BTC"}
}

type failingPersonas struct{}

func (failingPersonas) Generate(context.Context, agent.Direction) (Persona, error) {
	return Persona{}, errors.New("generator offline")
}

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.TargetMin = 5
	cfg.TargetMax = 5
	cfg.HardCap = 6
	cfg.BatchSize = 3
	return cfg
}

func newManager(t *testing.T, cfg Config, ledger *agent.Ledger, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(cfg, ledger, fixedPrices{"BTC": 65000}, rand.New(rand.NewSource(7)), zap.NewNop(), opts...)
	require.NoError(t, err)
	return m
}

func bot(id string, dir agent.Direction, created time.Time, maxAge time.Duration) *agent.Position {
	return &agent.Position{
		ID:         id,
		Origin:     agent.Ephemeral{LocalID: id, CreatedAt: created},
		Owner:      agent.OwnerSystem,
		Asset:      "BTC",
		Direction:  dir,
		Leverage:   5,
		Balance:    500,
		EntryPrice: 65000,
		Status:     agent.StatusActive,
		CreatedAt:  created,
		MaxAge:     maxAge,
	}
}

// =============================================================================
// 测试
// =============================================================================

func TestRotate_SpawnsInBatchesUpToTarget(t *testing.T) {
	ledger := agent.NewLedger()
	m := newManager(t, smallConfig(), ledger)
	now := time.Now()

	rep := m.Rotate(context.Background(), now)
	assert.Equal(t, 3, rep.Spawned)
	assert.Equal(t, 3, rep.Ephemeral)

	rep = m.Rotate(context.Background(), now.Add(time.Second))
	assert.Equal(t, 2, rep.Spawned)
	assert.Equal(t, 5, ledger.Len())

	rep = m.Rotate(context.Background(), now.Add(2*time.Second))
	assert.Equal(t, 0, rep.Spawned)

	for _, p := range ledger.All() {
		require.True(t, p.IsEphemeral())
		assert.True(t, agent.LooksLikeBot(p.ID))
		assert.Equal(t, agent.OwnerSystem, p.Owner)
		assert.Equal(t, 65000.0, p.EntryPrice)
		assert.GreaterOrEqual(t, p.MaxAge, 30*time.Second)
		assert.LessOrEqual(t, p.MaxAge, 120*time.Second)
		assert.GreaterOrEqual(t, p.Leverage, 2)
		assert.LessOrEqual(t, p.Leverage, 25)
		assert.NotEmpty(t, p.Name)
	}
}

func TestRotate_RespectsHardCap(t *testing.T) {
	cfg := smallConfig()
	cfg.TargetMin, cfg.TargetMax = 50, 50
	cfg.HardCap = 4
	ledger := agent.NewLedger()
	m := newManager(t, cfg, ledger)

	now := time.Now()
	for i := 0; i < 5; i++ {
		m.Rotate(context.Background(), now.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, 4, ledger.Len())
}

func TestRotate_ExpiresAfterMaxAgeThenRemovesAfterGrace(t *testing.T) {
	cfg := smallConfig()
	cfg.TargetMin, cfg.TargetMax = 0, 0
	ledger := agent.NewLedger()
	m := newManager(t, cfg, ledger)

	start := time.Now()
	require.NoError(t, ledger.Add(bot("bot-old", agent.DirectionLong, start, 30*time.Second)))
	require.NoError(t, ledger.Add(bot("bot-young", agent.DirectionShort, start, 90*time.Second)))

	rep := m.Rotate(context.Background(), start.Add(31*time.Second))
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Ephemeral)

	old, ok := ledger.Get("bot-old")
	require.True(t, ok, "retained during grace")
	assert.False(t, old.IsActive())

	rep = m.Rotate(context.Background(), start.Add(33*time.Second))
	assert.Equal(t, 0, rep.Removed)

	rep = m.Rotate(context.Background(), start.Add(35*time.Second))
	assert.Equal(t, 1, rep.Removed)
	_, ok = ledger.Get("bot-old")
	assert.False(t, ok)
	_, ok = ledger.Get("bot-young")
	assert.True(t, ok)
}

func TestRotate_LiquidatesExhaustedBots(t *testing.T) {
	cfg := smallConfig()
	cfg.TargetMin, cfg.TargetMax = 0, 0
	ledger := agent.NewLedger()
	fd := feed.New(10, zap.NewNop())
	m := newManager(t, cfg, ledger, WithFeed(fd))

	now := time.Now()
	b := bot("bot-broke", agent.DirectionLong, now, time.Minute)
	b.PnL = -600
	require.NoError(t, ledger.Add(b))

	rep := m.Rotate(context.Background(), now.Add(time.Second))
	assert.Equal(t, 1, rep.Liquidated)
	assert.Equal(t, agent.StatusLiquidated, b.Status)
	assert.Equal(t, 0.0, b.Balance)
	assert.Equal(t, -500.0, b.PnL)

	entries := fd.Recent(5)
	require.Len(t, entries, 1)
	assert.Equal(t, feed.TypeLiquidation, entries[0].Type)
	assert.False(t, entries[0].IsUser())
}

func TestRotate_LeavesPersistedPositionsAlone(t *testing.T) {
	cfg := smallConfig()
	cfg.TargetMin, cfg.TargetMax = 0, 0
	ledger := agent.NewLedger()
	m := newManager(t, cfg, ledger)

	now := time.Now()
	user := &agent.Position{ID: "u-1", Origin: agent.Persisted{DBID: "u-1"}, Owner: agent.OwnerUser, Status: agent.StatusActive, Balance: 10, PnL: -20}
	sys := &agent.Position{ID: "s-1", Origin: agent.Persisted{DBID: "s-1"}, Owner: agent.OwnerSystem, Status: agent.StatusLiquidated, RetiredAt: now.Add(-time.Hour)}
	require.NoError(t, ledger.Add(user))
	require.NoError(t, ledger.Add(sys))

	rep := m.Rotate(context.Background(), now)
	assert.Equal(t, 1, rep.Users)
	assert.Equal(t, 1, rep.SystemPersisted)
	assert.Equal(t, 2, ledger.Len())
	assert.Equal(t, agent.StatusActive, user.Status)
}

func TestRotate_BiasesTowardUnderRepresentedSide(t *testing.T) {
	cfg := smallConfig()
	cfg.AutoShare = 0
	cfg.TargetMin, cfg.TargetMax = 10, 10
	cfg.HardCap = 10
	ledger := agent.NewLedger()
	now := time.Now()
	for _, id := range []string{"bot-l1", "bot-l2", "bot-l3", "bot-l4"} {
		require.NoError(t, ledger.Add(bot(id, agent.DirectionLong, now, time.Minute)))
	}
	m := newManager(t, cfg, ledger)

	rep := m.Rotate(context.Background(), now)
	require.Equal(t, 3, rep.Spawned)
	for _, p := range ledger.All()[4:] {
		assert.Equal(t, agent.DirectionShort, p.Direction)
	}
}

func TestRotate_PersonaFallback(t *testing.T) {
	ledger := agent.NewLedger()
	m := newManager(t, smallConfig(), ledger, WithPersonas(failingPersonas{}))
	m.Rotate(context.Background(), time.Now())
	for _, p := range ledger.All() {
		assert.NotEmpty(t, p.Name)
		assert.NotEmpty(t, p.Strategy)
	}
}

func TestBiasSide(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	assert.Equal(t, agent.DirectionLong, BiasSide(1, 3, rnd))
	assert.Equal(t, agent.DirectionShort, BiasSide(3, 1, rnd))

	seen := map[agent.Direction]int{}
	for i := 0; i < 200; i++ {
		seen[BiasSide(2, 2, rnd)]++
	}
	assert.Greater(t, seen[agent.DirectionLong], 0)
	assert.Greater(t, seen[agent.DirectionShort], 0)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.TargetMax = 10
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxAge = time.Second
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.MaxLeverage = 100
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}

func TestStaticPersonas(t *testing.T) {
	g := NewStaticPersonas(rand.New(rand.NewSource(3)))
	p, err := g.Generate(context.Background(), agent.DirectionShort)
	require.NoError(t, err)
	assert.Contains(t, shortStrategies, p.Strategy)
	assert.Contains(t, flavors, p.Flavor)
}
