// 文件: pkg/population/persona.go
// Agent 人设生成
//
// 人设只用于展示，和结算无关；外部生成器失败时退回内置表

package population

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"arena.com/pkg/agent"
)

// Persona 名字 + 策略 + 描述
type Persona struct {
	Name     string
	Strategy string
	Flavor   string
}

// PersonaGenerator 人设生成器 (外部协作方)
type PersonaGenerator interface {
	Generate(ctx context.Context, dir agent.Direction) (Persona, error)
}

var (
	namePrefixes = []string{"Neon", "Quantum", "Iron", "Silent", "Feral", "Crimson", "Null", "Vapor", "Hyper", "Atomic"}
	nameSuffixes = []string{"Viper", "Oracle", "Mantis", "Golem", "Specter", "Falcon", "Kraken", "Cipher", "Warden", "Drone"}

	longStrategies  = []string{"Momentum Rider", "Breakout Hunter", "Trend Surfer", "Dip Buyer"}
	shortStrategies = []string{"Fade Artist", "Top Sniper", "Gravity Trader", "Panic Harvester"}
	autoStrategies  = []string{"Adaptive Swing", "Regime Switcher", "Noise Reader"}

	flavors = []string{
		"Trained on a decade of liquidation cascades.",
		"Believes every candle is a message.",
		"Sleeps through chop, wakes up for volatility.",
		"Never averages down. Almost never.",
		"Runs on caffeine-flavored gradients.",
		"Claims to have predicted the last three wicks.",
	}
)

// StaticPersonas 内置人设表
type StaticPersonas struct {
	rnd *rand.Rand
}

// NewStaticPersonas rnd 为 nil 时使用时间种子
func NewStaticPersonas(rnd *rand.Rand) *StaticPersonas {
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &StaticPersonas{rnd: rnd}
}

func (s *StaticPersonas) Generate(_ context.Context, dir agent.Direction) (Persona, error) {
	var strategies []string
	switch dir {
	case agent.DirectionLong:
		strategies = longStrategies
	case agent.DirectionShort:
		strategies = shortStrategies
	default:
		strategies = autoStrategies
	}
	return Persona{
		Name:     fmt.Sprintf("%s %s", pick(s.rnd, namePrefixes), pick(s.rnd, nameSuffixes)),
		Strategy: pick(s.rnd, strategies),
		Flavor:   pick(s.rnd, flavors),
	}, nil
}

func pick(rnd *rand.Rand, items []string) string {
	return items[rnd.Intn(len(items))]
}
