// 文件: pkg/store/models.go
// 数据库行模型 + 领域对象转换
//
// 时间统一存 UnixMilli (int64)，MySQL / PostgreSQL 通用

package store

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

// =============================================================================
// 仓位
// =============================================================================

type agentRow struct {
	ID         string  `gorm:"primaryKey;size:64"`
	OwnerType  string  `gorm:"size:16;not null"`
	OwnerID    string  `gorm:"size:64;index"`
	Name       string  `gorm:"size:128"`
	Strategy   string  `gorm:"size:128"`
	Flavor     string  `gorm:"size:512"`
	Asset      string  `gorm:"size:16;not null"`
	Direction  string  `gorm:"size:8;not null"`
	Resolved   string  `gorm:"size:8"`
	Leverage   int     `gorm:"not null;default:1"`
	Balance    float64 `gorm:"not null;default:0"`
	EntryPrice float64 `gorm:"not null;default:0"`
	PnL        float64 `gorm:"column:pnl;not null;default:0"`
	Status     string  `gorm:"size:16;not null;index"`
	Wins       int     `gorm:"not null;default:0"`
	Losses     int     `gorm:"not null;default:0"`
	DeployedAt int64
	CreatedAt  int64
	UpdatedAt  int64
}

func (agentRow) TableName() string { return "arena_agents" }

func toAgentRow(p *agent.Position) agentRow {
	return agentRow{
		ID:         p.ID,
		OwnerType:  p.Owner.String(),
		OwnerID:    p.OwnerID,
		Name:       p.Name,
		Strategy:   p.Strategy,
		Flavor:     p.Flavor,
		Asset:      p.Asset,
		Direction:  p.Direction.String(),
		Resolved:   p.Resolved.String(),
		Leverage:   p.Leverage,
		Balance:    p.Balance,
		EntryPrice: p.EntryPrice,
		PnL:        p.PnL,
		Status:     p.Status.String(),
		Wins:       p.Wins,
		Losses:     p.Losses,
		DeployedAt: toMilli(p.DeployedAt),
		CreatedAt:  toMilli(p.CreatedAt),
	}
}

func (r agentRow) toPosition() *agent.Position {
	p := &agent.Position{
		ID:         r.ID,
		Origin:     agent.Persisted{DBID: r.ID},
		Owner:      agent.ParseOwner(r.OwnerType),
		OwnerID:    r.OwnerID,
		Name:       r.Name,
		Strategy:   r.Strategy,
		Flavor:     r.Flavor,
		Asset:      r.Asset,
		Direction:  agent.ParseDirection(r.Direction),
		Resolved:   agent.ParseDirection(r.Resolved),
		Leverage:   r.Leverage,
		Balance:    r.Balance,
		EntryPrice: r.EntryPrice,
		PnL:        r.PnL,
		Status:     agent.ParseStatus(r.Status),
		Wins:       r.Wins,
		Losses:     r.Losses,
		DeployedAt: fromMilli(r.DeployedAt),
		CreatedAt:  fromMilli(r.CreatedAt),
	}
	p.Risk = agent.ClassifyRisk(p.Balance, p.PnL)
	return p
}

// deltaUpdates 只包含 Delta 中设置了的字段
func deltaUpdates(d agent.Delta, now int64) map[string]any {
	u := map[string]any{"updated_at": now}
	if d.PnL != nil {
		u["pnl"] = *d.PnL
	}
	if d.Status != nil {
		u["status"] = d.Status.String()
	}
	if d.Balance != nil {
		// 存储层同样不允许负保证金
		u["balance"] = max(*d.Balance, 0)
	}
	if d.EntryPrice != nil {
		u["entry_price"] = *d.EntryPrice
	}
	if d.Leverage != nil {
		u["leverage"] = *d.Leverage
	}
	if d.Direction != nil {
		u["direction"] = d.Direction.String()
	}
	if d.Resolved != nil {
		u["resolved"] = d.Resolved.String()
	}
	if d.Wins != nil {
		u["wins"] = *d.Wins
	}
	if d.Losses != nil {
		u["losses"] = *d.Losses
	}
	if d.DeployedAt != nil {
		u["deployed_at"] = toMilli(*d.DeployedAt)
	}
	return u
}

type pnlHistoryRow struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	AgentID   string  `gorm:"size:64;not null;index"`
	Value     float64 `gorm:"not null"`
	CreatedAt int64   `gorm:"index"`
}

func (pnlHistoryRow) TableName() string { return "arena_pnl_history" }

// =============================================================================
// 市场
// =============================================================================

type marketRow struct {
	Symbol              string  `gorm:"primaryKey;size:16"`
	Price               float64 `gorm:"not null"`
	History             string  `gorm:"type:text"` // JSON 数组
	Trend               string  `gorm:"size:8"`
	LastChangePct       float64
	TotalLongStaked     float64
	TotalShortStaked    float64
	LongEarningsPerSec  float64
	ShortEarningsPerSec float64
	UpdatedAt           int64
}

func (marketRow) TableName() string { return "arena_markets" }

func toMarketRow(s market.Snapshot) (marketRow, error) {
	hist, err := json.Marshal(s.History)
	if err != nil {
		return marketRow{}, err
	}
	return marketRow{
		Symbol:              s.Symbol,
		Price:               s.Price,
		History:             string(hist),
		Trend:               s.Trend.String(),
		LastChangePct:       s.LastChangePct,
		TotalLongStaked:     s.TotalLongStaked,
		TotalShortStaked:    s.TotalShortStaked,
		LongEarningsPerSec:  s.LongEarningsPerSec,
		ShortEarningsPerSec: s.ShortEarningsPerSec,
		UpdatedAt:           toMilli(s.UpdatedAt),
	}, nil
}

func (r marketRow) toSnapshot() market.Snapshot {
	var hist []float64
	_ = json.Unmarshal([]byte(r.History), &hist)
	return market.Snapshot{
		Symbol:        r.Symbol,
		Price:         r.Price,
		History:       hist,
		Trend:         market.ParseTrend(r.Trend),
		LastChangePct: r.LastChangePct,
		Aggregates: market.Aggregates{
			TotalLongStaked:     r.TotalLongStaked,
			TotalShortStaked:    r.TotalShortStaked,
			LongEarningsPerSec:  r.LongEarningsPerSec,
			ShortEarningsPerSec: r.ShortEarningsPerSec,
		},
		UpdatedAt: fromMilli(r.UpdatedAt),
	}
}

type priceHistoryRow struct {
	ID        int64   `gorm:"primaryKey;autoIncrement"`
	Symbol    string  `gorm:"size:16;not null;index"`
	Price     float64 `gorm:"not null"`
	CreatedAt int64   `gorm:"index"`
}

func (priceHistoryRow) TableName() string { return "arena_price_history" }

// =============================================================================
// 质押
// =============================================================================

type poolRow struct {
	ID           string          `gorm:"primaryKey;size:64"`
	TotalStaked  decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	TotalRewards decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	UpdatedAt    int64
}

func (poolRow) TableName() string { return "arena_pools" }

func (r poolRow) toPool() *liquidity.Pool {
	return &liquidity.Pool{
		ID:           r.ID,
		TotalStaked:  r.TotalStaked,
		TotalRewards: r.TotalRewards,
		UpdatedAt:    fromMilli(r.UpdatedAt),
	}
}

type stakeRow struct {
	ID             string          `gorm:"primaryKey;size:64"`
	UserID         string          `gorm:"size:64;not null;uniqueIndex:idx_stake_user_pool"`
	PoolID         string          `gorm:"size:64;not null;uniqueIndex:idx_stake_user_pool;index"`
	Amount         decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Rewards        decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	PendingRewards decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	StakedAt       int64
	UpdatedAt      int64
}

func (stakeRow) TableName() string { return "arena_stakes" }

func (r stakeRow) toStake() *liquidity.Stake {
	return &liquidity.Stake{
		ID:             r.ID,
		UserID:         r.UserID,
		PoolID:         r.PoolID,
		Amount:         r.Amount,
		Rewards:        r.Rewards,
		PendingRewards: r.PendingRewards,
		StakedAt:       fromMilli(r.StakedAt),
		UpdatedAt:      fromMilli(r.UpdatedAt),
	}
}

// =============================================================================
// 用户 / 日志
// =============================================================================

type userRow struct {
	ID           string  `gorm:"primaryKey;size:64"`
	Balance      float64 `gorm:"not null;default:0"`
	ReferralCode string  `gorm:"size:32;index"`
	ReferredBy   string  `gorm:"size:64"`
	UpdatedAt    int64
}

func (userRow) TableName() string { return "arena_users" }

func (r userRow) toUser() *User {
	return &User{
		ID:           r.ID,
		Balance:      r.Balance,
		ReferralCode: r.ReferralCode,
		ReferredBy:   r.ReferredBy,
		UpdatedAt:    fromMilli(r.UpdatedAt),
	}
}

type logRow struct {
	ID        string   `gorm:"primaryKey;size:64"`
	UserID    string   `gorm:"size:64;not null;index"`
	AgentID   string   `gorm:"size:64"`
	Message   string   `gorm:"size:512"`
	Type      string   `gorm:"size:16;not null"`
	Amount    *float64 `gorm:"default:null"`
	CreatedAt int64    `gorm:"index"`
}

func (logRow) TableName() string { return "arena_logs" }

func toLogRow(e feed.Entry) logRow {
	return logRow{
		ID:        e.ID,
		UserID:    e.UserID,
		AgentID:   e.AgentID,
		Message:   e.Message,
		Type:      string(e.Type),
		Amount:    e.Amount,
		CreatedAt: toMilli(e.At),
	}
}

// allModels AutoMigrate 列表
func allModels() []any {
	return []any{
		&agentRow{}, &pnlHistoryRow{},
		&marketRow{}, &priceHistoryRow{},
		&poolRow{}, &stakeRow{},
		&userRow{}, &logRow{},
	}
}

func toMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
