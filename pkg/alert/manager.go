// 文件: pkg/alert/manager.go
// 风险预警扫描

package alert

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"arena.com/pkg/agent"
)

// DefaultTTL 去重键保留时间，覆盖一次部署的正常时长
const DefaultTTL = 24 * time.Hour

// MemoryGate 进程内去重
type MemoryGate struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryGate) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.expires[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.expires[key] = now.Add(ttl)

	// 顺带清理过期键
	if len(g.expires) > 1024 {
		for k, exp := range g.expires {
			if !now.Before(exp) {
				delete(g.expires, k)
			}
		}
	}
	return true, nil
}

// Len 当前键数量
func (g *MemoryGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.expires)
}

// =============================================================================
// Watcher
// =============================================================================

// Watcher 扫描用户仓位，风险达到 MinLevel 时触发预警
type Watcher struct {
	gate     Gate
	minLevel agent.RiskLevel
	ttl      time.Duration
	logger   *zap.Logger
}

// NewWatcher gate 为 nil 时使用 MemoryGate
func NewWatcher(gate Gate, minLevel agent.RiskLevel, logger *zap.Logger) *Watcher {
	if gate == nil {
		gate = NewMemoryGate()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		gate:     gate,
		minLevel: minLevel,
		ttl:      DefaultTTL,
		logger:   logger.Named("alert"),
	}
}

// Scan 只看 ACTIVE 的用户仓位；已爆仓由结算单独通知
func (w *Watcher) Scan(ctx context.Context, positions []*agent.Position) []Alert {
	var out []Alert
	for _, p := range positions {
		if p.Owner != agent.OwnerUser || !p.IsActive() {
			continue
		}
		if p.Risk < w.minLevel || p.Risk >= agent.RiskLevelLiquidated {
			continue
		}

		ok, err := w.gate.Acquire(ctx, alertKey(p, p.Risk), w.ttl)
		if err != nil {
			w.logger.Warn("alert gate failed", zap.String("agent", p.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		out = append(out, Alert{
			AgentID: p.ID,
			UserID:  p.OwnerID,
			Name:    p.Name,
			Asset:   p.Asset,
			Level:   p.Risk,
			PnL:     p.PnL,
			Balance: p.Balance,
		})
	}
	return out
}
