package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arena.com/pkg/agent"
	"arena.com/pkg/settlement"
	"arena.com/pkg/sim"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Sim.TickInterval.Duration)
	assert.Equal(t, 3*time.Second, cfg.Sim.PopulationInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.Sim.FlushInterval.Duration)
	assert.Len(t, cfg.Sim.Assets, 3)
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "main", cfg.Liquidity.PoolID)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
[log]
level = "debug"

[store]
driver = "postgres"
dsn = "host=localhost user=arena dbname=arena"

[sim]
tick_interval = "500ms"
default_asset = "DOGE"

[[sim.assets]]
symbol = "DOGE"
initial_price = 0.15
volatility = 0.02
min_price = 0.001

[settlement]
auto_mode = "legacy"

[liquidity]
min_apr = 10
max_apr = 90
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 500*time.Millisecond, cfg.Sim.TickInterval.Duration)
	// 未出现的键保留默认值
	assert.Equal(t, 2*time.Second, cfg.Sim.FlushInterval.Duration)
	require.Len(t, cfg.Sim.Assets, 1)
	assert.Equal(t, "DOGE", cfg.AssetSpecs()[0].Symbol)

	assert.Equal(t, settlement.AutoLegacy, cfg.SettlementConfig().AutoMode)
	assert.Equal(t, 90.0, cfg.LiquidityConfig().MaxAPR)
	assert.Equal(t, "postgres", cfg.DBConfig().Driver)
	assert.Equal(t, 30*time.Second, cfg.PopulationConfig().MinAge)
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeFile(t, "[sim]\ntick_intervall = \"1s\"\n")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ARENA_LOG_LEVEL", "warn")
	t.Setenv("ARENA_EVENTS_BACKEND", "kafka")
	t.Setenv("ARENA_EVENTS_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("ARENA_SIM_TICK_INTERVAL", "250ms")
	t.Setenv("ARENA_SIM_SEED", "42")

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Brokers)
	assert.Equal(t, 250*time.Millisecond, cfg.Sim.TickInterval.Duration)
	assert.Equal(t, int64(42), cfg.Sim.Seed)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "sqlite"
	cfg.Events.Backend = "nats"
	cfg.Sim.TickInterval.Duration = 0
	cfg.Settlement.AutoMode = "sometimes"
	cfg.Sim.DefaultAsset = "XRP"

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	msg := err.Error()
	assert.Contains(t, msg, "store.driver")
	assert.Contains(t, msg, "events.nats_url")
	assert.Contains(t, msg, "sim.tick_interval")
	assert.Contains(t, msg, "auto_mode")
	assert.Contains(t, msg, "XRP")
}

func TestValidate_DuplicateAsset(t *testing.T) {
	cfg := Defaults()
	cfg.Sim.Assets = append(cfg.Sim.Assets, cfg.Sim.Assets[0])
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}

func TestSimulationConfig_BuildsSimulation(t *testing.T) {
	cfg := Defaults()
	cfg.Sim.Seed = 7
	sc := cfg.SimulationConfig()
	assert.Equal(t, 2*time.Second, sc.Sync.Interval)
	assert.Equal(t, "0 */5 * * * *", sc.ReconcileCron)
	assert.Equal(t, settlement.AutoDeploy, sc.Settlement.AutoMode)
	assert.Len(t, sc.Assets, 3)
	assert.Equal(t, agent.RiskLevelDanger, sc.AlertLevel)

	s, err := sim.New(sc, sim.Deps{})
	require.NoError(t, err)
	defer s.Close()
	assert.Len(t, s.Snapshot().Markets, 3)
}

func TestValidate_AlertLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Sim.AlertLevel = "OFF"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, agent.RiskLevelSafe, cfg.SimulationConfig().AlertLevel)

	cfg.Sim.AlertLevel = "panic"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
