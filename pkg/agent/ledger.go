// 文件: pkg/agent/ledger.go
// 仓位账本
//
// 职责:
// 1. 保存所有仓位 (用户 + 机器人)
// 2. 按插入顺序稳定遍历
// 3. 批量应用结算产生的 Delta
//
// 并发: Ledger 本身不加锁，由 sim.Simulation 的互斥锁统一串行化，
// 保证价格推进完成之前不会有任何仓位被读取

package agent

// Ledger 仓位账本
type Ledger struct {
	positions map[string]*Position
	order     []string
}

func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]*Position),
	}
}

// Add 添加仓位
func (l *Ledger) Add(p *Position) error {
	if _, ok := l.positions[p.ID]; ok {
		return ErrAgentExists
	}
	l.positions[p.ID] = p
	l.order = append(l.order, p.ID)
	return nil
}

// Put 添加或替换 (加载时使用)
func (l *Ledger) Put(p *Position) {
	if _, ok := l.positions[p.ID]; !ok {
		l.order = append(l.order, p.ID)
	}
	l.positions[p.ID] = p
}

// Get 查询
func (l *Ledger) Get(id string) (*Position, bool) {
	p, ok := l.positions[id]
	return p, ok
}

// Remove 删除，返回是否存在
func (l *Ledger) Remove(id string) bool {
	if _, ok := l.positions[id]; !ok {
		return false
	}
	delete(l.positions, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoveIf 批量删除满足条件的仓位，返回删除数量
func (l *Ledger) RemoveIf(fn func(*Position) bool) int {
	kept := l.order[:0]
	removed := 0
	for _, id := range l.order {
		p := l.positions[id]
		if fn(p) {
			delete(l.positions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	l.order = kept
	return removed
}

// Len 仓位数量
func (l *Ledger) Len() int {
	return len(l.order)
}

// All 所有仓位 (插入顺序)
func (l *Ledger) All() []*Position {
	out := make([]*Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.positions[id])
	}
	return out
}

// Active 所有 ACTIVE 仓位
func (l *Ledger) Active() []*Position {
	var out []*Position
	for _, id := range l.order {
		if p := l.positions[id]; p.IsActive() {
			out = append(out, p)
		}
	}
	return out
}

// ByOwner 某个用户的所有仓位
func (l *Ledger) ByOwner(userID string) []*Position {
	var out []*Position
	for _, id := range l.order {
		if p := l.positions[id]; p.OwnerID == userID {
			out = append(out, p)
		}
	}
	return out
}

// Apply 应用单个 Delta
func (l *Ledger) Apply(d Delta) error {
	p, ok := l.positions[d.ID]
	if !ok {
		return ErrAgentNotFound
	}
	p.Apply(d)
	return nil
}

// ApplyBatch 批量应用，跳过已不存在的仓位 (可能已被种群管理器移除)
func (l *Ledger) ApplyBatch(deltas []Delta) int {
	applied := 0
	for _, d := range deltas {
		if l.Apply(d) == nil {
			applied++
		}
	}
	return applied
}

// Snapshot 深拷贝所有仓位
func (l *Ledger) Snapshot() []*Position {
	out := make([]*Position, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.positions[id].Clone())
	}
	return out
}
