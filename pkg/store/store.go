// 文件: pkg/store/store.go
// 竞技场持久化接口
//
// 【设计模式】Repository Pattern
// - 模拟核心只依赖 Store 接口
// - Noop: 未配置存储时纯内存运行
// - Memory: 测试用，带调用计数和故障注入
// - GormStore: MySQL / PostgreSQL
// - CachedStore: Redis 缓存装饰器
//
// 存储被视为最终一致、可能暂时失败的外部协作方，
// 所有写操作都是幂等的部分更新或只追加

package store

import (
	"context"
	"errors"
	"time"

	"arena.com/pkg/agent"
	"arena.com/pkg/feed"
	"arena.com/pkg/liquidity"
	"arena.com/pkg/market"
)

var (
	ErrNotFound = errors.New("record not found")
)

// User 用户钱包
type User struct {
	ID           string
	Balance      float64
	ReferralCode string
	ReferredBy   string
	UpdatedAt    time.Time
}

// WalletDelta 钱包余额增量
type WalletDelta struct {
	UserID string
	Amount float64
}

// Store 持久化接口
type Store interface {
	// Configured 是否连接了真实存储，所有调用前只检查这一处
	Configured() bool

	// ===== 仓位 =====

	// LoadAllPositions 启动时全量加载
	LoadAllPositions(ctx context.Context) ([]*agent.Position, error)
	// InsertPosition 铸造
	InsertPosition(ctx context.Context, p *agent.Position) error
	// BatchUpdatePositions 按 ID 部分更新，未设置字段不变
	BatchUpdatePositions(ctx context.Context, deltas []agent.Delta) error
	// BatchInsertPnLHistory 只追加
	BatchInsertPnLHistory(ctx context.Context, samples []agent.HistorySample) error

	// ===== 市场 =====

	UpsertMarketSnapshot(ctx context.Context, snap market.Snapshot) error
	GetMarketSnapshot(ctx context.Context, symbol string) (*market.Snapshot, error)
	InsertPriceHistory(ctx context.Context, samples []market.PriceSample) error

	// ===== 质押 =====
	liquidity.Repository

	// ===== 用户 =====

	GetUser(ctx context.Context, userID string) (*User, error)
	// ApplyWalletDeltas 余额增量，用户不存在时创建
	ApplyWalletDeltas(ctx context.Context, deltas []WalletDelta) error

	// ===== 日志 =====

	// AppendLogEntries 只追加的审计日志
	AppendLogEntries(ctx context.Context, entries []feed.Entry) error

	Close() error
}
