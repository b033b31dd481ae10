// 文件: pkg/agent/delta.go
// 仓位增量更新
//
// 字段为 nil 表示不修改，和存储层的部分更新语义一致:
// batchUpdate([{id, pnl, status?, balance?}])

package agent

import "time"

// Delta 仓位部分更新
type Delta struct {
	ID         string
	PnL        *float64
	Status     *Status
	Balance    *float64
	EntryPrice *float64
	Leverage   *int
	Direction  *Direction
	Resolved   *Direction
	Wins       *int
	Losses     *int
	DeployedAt *time.Time
}

// Float 返回指针，构造 Delta 用
func Float(v float64) *float64 { return &v }

// Int 返回指针
func Int(v int) *int { return &v }

// StatusPtr 返回指针
func StatusPtr(s Status) *Status { return &s }

// DirectionPtr 返回指针
func DirectionPtr(d Direction) *Direction { return &d }

// TimePtr 返回指针
func TimePtr(t time.Time) *time.Time { return &t }

// IsEmpty 没有任何字段需要更新
func (d Delta) IsEmpty() bool {
	return d.PnL == nil && d.Status == nil && d.Balance == nil &&
		d.EntryPrice == nil && d.Leverage == nil && d.Direction == nil &&
		d.Resolved == nil && d.Wins == nil && d.Losses == nil &&
		d.DeployedAt == nil
}

// Merge 合并同一仓位的两次更新，后者覆盖前者
func (d Delta) Merge(next Delta) Delta {
	if next.PnL != nil {
		d.PnL = next.PnL
	}
	if next.Status != nil {
		d.Status = next.Status
	}
	if next.Balance != nil {
		d.Balance = next.Balance
	}
	if next.EntryPrice != nil {
		d.EntryPrice = next.EntryPrice
	}
	if next.Leverage != nil {
		d.Leverage = next.Leverage
	}
	if next.Direction != nil {
		d.Direction = next.Direction
	}
	if next.Resolved != nil {
		d.Resolved = next.Resolved
	}
	if next.Wins != nil {
		d.Wins = next.Wins
	}
	if next.Losses != nil {
		d.Losses = next.Losses
	}
	if next.DeployedAt != nil {
		d.DeployedAt = next.DeployedAt
	}
	return d
}

// Apply 把增量写入仓位
//
// 保证金不允许为负: 写入负值时按强平处理，pnl = -更新前保证金
func (p *Position) Apply(d Delta) {
	prevBalance := p.Balance
	if d.PnL != nil {
		p.PnL = *d.PnL
	}
	if d.Status != nil {
		p.Status = *d.Status
	}
	if d.Balance != nil {
		p.Balance = *d.Balance
	}
	if d.EntryPrice != nil {
		p.EntryPrice = *d.EntryPrice
	}
	if d.Leverage != nil {
		p.Leverage = *d.Leverage
	}
	if d.Direction != nil {
		p.Direction = *d.Direction
	}
	if d.Resolved != nil {
		p.Resolved = *d.Resolved
	}
	if d.Wins != nil {
		p.Wins = *d.Wins
	}
	if d.Losses != nil {
		p.Losses = *d.Losses
	}
	if d.DeployedAt != nil {
		p.DeployedAt = *d.DeployedAt
	}

	if p.Balance < 0 {
		p.PnL = -prevBalance
		p.Balance = 0
		p.Status = StatusLiquidated
	}
	if p.Status == StatusLiquidated {
		p.Risk = RiskLevelLiquidated
	} else if d.PnL != nil || d.Balance != nil {
		p.Risk = ClassifyRisk(p.Balance, p.PnL)
	}
}

// CompactDeltas 同一仓位的多个 Delta 合并成一个，保持首次出现的顺序
func CompactDeltas(deltas []Delta) []Delta {
	out := make([]Delta, 0, len(deltas))
	idx := make(map[string]int, len(deltas))
	for _, d := range deltas {
		if i, ok := idx[d.ID]; ok {
			out[i] = out[i].Merge(d)
			continue
		}
		idx[d.ID] = len(out)
		out = append(out, d)
	}
	return out
}
