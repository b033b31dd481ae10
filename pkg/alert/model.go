// 文件: pkg/alert/model.go
// 仓位风险预警
//
// 用户仓位风险等级升到阈值以上时发出一次预警:
// 同一仓位、同一次部署、同一等级只触发一次 (AlertOnce)
// 去重状态放在 Gate 中，Redis 实现可跨进程 / 重启共享

package alert

import (
	"context"
	"fmt"
	"time"

	"arena.com/pkg/agent"
)

// Alert 一条触发的预警
type Alert struct {
	AgentID string
	UserID  string
	Name    string
	Asset   string
	Level   agent.RiskLevel
	PnL     float64
	Balance float64
}

// Message 展示文案
func (a Alert) Message() string {
	return fmt.Sprintf("%s on %s is %s: pnl %.2f of %.2f collateral", a.Name, a.Asset, a.Level, a.PnL, a.Balance)
}

// Gate 去重闸门
//
// Acquire 第一次调用返回 true，ttl 内重复调用返回 false
type Gate interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// alertKey 仓位 + 部署时间 + 等级
func alertKey(p *agent.Position, level agent.RiskLevel) string {
	return fmt.Sprintf("arena:alert:%s:%d:%s", p.ID, p.DeployedAt.Unix(), level)
}
