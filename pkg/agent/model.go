// 文件: pkg/agent/model.go
// 竞技场 Agent (持仓) 数据结构
//
// 【概念】
// Agent 就是一个带杠杆的方向性仓位:
// - Balance: 保证金，也是最大亏损
// - PnL: 未实现盈亏，每个 tick 从头计算，不做增量累加
// - Status: IDLE -> ACTIVE -> LIQUIDATED / IDLE
//
// 【来源】
// - Persisted: 从存储加载或用户铸造，变更需要落库
// - Ephemeral: 本地生成的机器人，只存在内存，永不落库

package agent

import (
	"errors"
	"strings"
	"time"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrAgentExists       = errors.New("agent already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidLeverage   = errors.New("invalid leverage")
	ErrInvalidCollateral = errors.New("invalid collateral")
)

const (
	// MinLeverage / MaxLeverage 杠杆范围
	MinLeverage = 1
	MaxLeverage = 50

	// DefaultHistoryCap PnL 采样最多保留 30 个
	DefaultHistoryCap = 30
)

// =============================================================================
// 归属方
// =============================================================================

type Owner int8

const (
	OwnerUser   Owner = iota // 真实用户
	OwnerSystem              // 系统机器人
)

func (o Owner) String() string {
	if o == OwnerSystem {
		return "SYSTEM"
	}
	return "USER"
}

// ParseOwner 从存储字段解析
func ParseOwner(s string) Owner {
	if strings.EqualFold(s, "SYSTEM") {
		return OwnerSystem
	}
	return OwnerUser
}

// =============================================================================
// 方向
// =============================================================================

type Direction int8

const (
	DirectionAuto  Direction = 0  // 由算法决定
	DirectionLong  Direction = 1  // 多头
	DirectionShort Direction = -1 // 空头
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	}
	return "AUTO"
}

// Sign 多头 +1，空头 -1，AUTO 0
func (d Direction) Sign() int {
	return int(d)
}

// ParseDirection 未知值按 AUTO 处理
func ParseDirection(s string) Direction {
	switch strings.ToUpper(s) {
	case "LONG":
		return DirectionLong
	case "SHORT":
		return DirectionShort
	}
	return DirectionAuto
}

// =============================================================================
// 状态
// =============================================================================

type Status int8

const (
	StatusIdle       Status = iota // 已铸造，未部署
	StatusActive                   // 已部署，每个 tick 结算
	StatusLiquidated               // 已爆仓
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "IDLE"
	case StatusActive:
		return "ACTIVE"
	case StatusLiquidated:
		return "LIQUIDATED"
	}
	return "UNKNOWN"
}

func ParseStatus(s string) Status {
	switch strings.ToUpper(s) {
	case "ACTIVE":
		return StatusActive
	case "LIQUIDATED":
		return StatusLiquidated
	}
	return StatusIdle
}

// =============================================================================
// Origin - 来源 (tagged union)
// =============================================================================

// Origin 仓位来源，只有 Persisted 和 Ephemeral 两种实现
//
// 路由规则用类型匹配:
//
//	switch o := p.Origin.(type) {
//	case agent.Persisted: // 进入落库队列
//	case agent.Ephemeral: // 只改内存
//	}
type Origin interface {
	origin()
}

// Persisted 已落库的仓位
type Persisted struct {
	DBID string
}

// Ephemeral 本地机器人，CreatedAt 用于计算存活时间
type Ephemeral struct {
	LocalID   string
	CreatedAt time.Time
}

func (Persisted) origin() {}
func (Ephemeral) origin() {}

// =============================================================================
// Position - Agent 仓位
// =============================================================================

// PnLPoint PnL 采样点
type PnLPoint struct {
	At    time.Time
	Value float64
}

// HistorySample 待落库的 PnL 采样
type HistorySample struct {
	AgentID string
	Value   float64
	At      time.Time
}

// Position Agent 仓位
type Position struct {
	ID      string
	Origin  Origin
	Owner   Owner
	OwnerID string // 用户ID，机器人为空

	// ===== 展示信息 =====
	Name     string
	Strategy string
	Flavor   string

	// ===== 仓位参数 =====
	Asset      string
	Direction  Direction
	Resolved   Direction // AUTO 的实际方向，部署时确定
	Leverage   int
	Balance    float64 // 保证金
	EntryPrice float64

	// ===== 实时状态 =====
	PnL        float64
	PnLHistory []PnLPoint
	Status     Status
	Risk       RiskLevel

	// ===== 战绩 (仅主动退出时计数) =====
	Wins   int
	Losses int

	CreatedAt  time.Time
	DeployedAt time.Time
	RetiredAt  time.Time     // 爆仓/过期时间，机器人用于宽限期
	MaxAge     time.Duration // 机器人最大存活时间，创建时随机决定
}

// IsEphemeral 是否本地机器人
func (p *Position) IsEphemeral() bool {
	_, ok := p.Origin.(Ephemeral)
	return ok
}

// IsActive 是否参与结算
func (p *Position) IsActive() bool {
	return p.Status == StatusActive
}

// Equity 当前权益 = 保证金 + 未实现盈亏
func (p *Position) Equity() float64 {
	return p.Balance + p.PnL
}

// Age 机器人存活时间，持久化仓位返回 0
func (p *Position) Age(now time.Time) time.Duration {
	if e, ok := p.Origin.(Ephemeral); ok {
		return now.Sub(e.CreatedAt)
	}
	return 0
}

// Effective 结算使用的方向
//
// LONG/SHORT 直接返回；AUTO 优先使用部署时解析的方向，
// 没有解析结果时退化为 ID 哈希偏向，整个部署周期内不变
func (p *Position) Effective() Direction {
	if p.Direction != DirectionAuto {
		return p.Direction
	}
	if p.Resolved != DirectionAuto {
		return p.Resolved
	}
	return HashBias(p.ID)
}

// AppendHistory 追加采样，超过 limit 丢弃最旧的
func (p *Position) AppendHistory(pt PnLPoint, limit int) {
	if limit <= 0 {
		limit = DefaultHistoryCap
	}
	p.PnLHistory = append(p.PnLHistory, pt)
	if over := len(p.PnLHistory) - limit; over > 0 {
		// 复制到新切片，避免底层数组无限增长
		trimmed := make([]PnLPoint, limit)
		copy(trimmed, p.PnLHistory[over:])
		p.PnLHistory = trimmed
	}
}

// Clone 深拷贝 (快照给渲染层)
func (p *Position) Clone() *Position {
	c := *p
	if p.PnLHistory != nil {
		c.PnLHistory = make([]PnLPoint, len(p.PnLHistory))
		copy(c.PnLHistory, p.PnLHistory)
	}
	return &c
}
