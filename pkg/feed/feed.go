// 文件: pkg/feed/feed.go
// 竞技场事件流
//
// 职责:
// 1. 保存最近 N 条事件 (环形缓冲)
// 2. 扇出给本地订阅者 (渲染层)，慢订阅者丢弃
// 3. 转发给消息中间件 (Kafka / NATS)
// 4. 用户事件交给持久化钩子 (日志写入通道)
//
// 部署失败、强平等都通过事件流通知用户，而不是弹窗报错

package feed

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntryType 事件类型
type EntryType string

const (
	TypeMint        EntryType = "MINT"
	TypeDeploy      EntryType = "DEPLOY"
	TypeExit        EntryType = "EXIT"
	TypeWin         EntryType = "WIN"
	TypeLoss        EntryType = "LOSS"
	TypeLiquidation EntryType = "LIQUIDATION"
	TypeStake       EntryType = "STAKE"
	TypeUnstake     EntryType = "UNSTAKE"
	TypeClaim       EntryType = "CLAIM"
	TypeRisk        EntryType = "RISK"
	TypeError       EntryType = "ERROR"
)

// DefaultCapacity 默认保留条数
const DefaultCapacity = 200

// Entry 一条事件
type Entry struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Message string    `json:"message"`
	Type    EntryType `json:"type"`
	Amount  *float64  `json:"amount,omitempty"`
	At      time.Time `json:"at"`
}

// NewEntry 构造事件，amount 可为 nil
func NewEntry(typ EntryType, userID, agentID, message string, amount *float64) Entry {
	return Entry{
		UserID:  userID,
		AgentID: agentID,
		Message: message,
		Type:    typ,
		Amount:  amount,
	}
}

// Amount 返回指针，构造 Entry 用
func Amount(v float64) *float64 { return &v }

// IsUser 是否用户事件 (需要落库)
func (e Entry) IsUser() bool {
	return e.UserID != ""
}

// Publisher 消息中间件
type Publisher interface {
	Publish(ctx context.Context, e Entry) error
}

// Feed 事件流
type Feed struct {
	mu          sync.RWMutex
	entries     []Entry
	capacity    int
	subscribers []chan Entry
	publishers  []Publisher
	persist     func(Entry)
	logger      *zap.Logger
	now         func() time.Time
}

// Option 可选配置
type Option func(*Feed)

// WithPublisher 追加消息中间件
func WithPublisher(p Publisher) Option {
	return func(f *Feed) {
		if p != nil {
			f.publishers = append(f.publishers, p)
		}
	}
}

// WithPersist 用户事件持久化钩子
func WithPersist(fn func(Entry)) Option {
	return func(f *Feed) { f.persist = fn }
}

// WithClock 测试用
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// New 创建事件流
func New(capacity int, logger *zap.Logger, opts ...Option) *Feed {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Feed{
		capacity: capacity,
		logger:   logger.Named("feed"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Append 追加事件，补全 ID 和时间
func (f *Feed) Append(ctx context.Context, e Entry) Entry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = f.now()
	}

	f.mu.Lock()
	f.entries = append(f.entries, e)
	if over := len(f.entries) - f.capacity; over > 0 {
		f.entries = append(f.entries[:0], f.entries[over:]...)
	}
	for _, ch := range f.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	publishers := f.publishers
	persist := f.persist
	f.mu.Unlock()

	if persist != nil && e.IsUser() {
		persist(e)
	}
	for _, p := range publishers {
		if err := p.Publish(ctx, e); err != nil {
			f.logger.Warn("publish entry failed", zap.String("type", string(e.Type)), zap.Error(err))
		}
	}

	f.logger.Debug("entry", zap.String("type", string(e.Type)), zap.String("message", e.Message))
	return e
}

// Recent 最近 n 条，最旧在前；n <= 0 返回全部
func (f *Feed) Recent(n int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	start := 0
	if n > 0 && n < len(f.entries) {
		start = len(f.entries) - n
	}
	out := make([]Entry, len(f.entries)-start)
	copy(out, f.entries[start:])
	return out
}

// ForUser 某个用户最近的事件
func (f *Feed) ForUser(userID string, n int) []Entry {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var out []Entry
	for i := len(f.entries) - 1; i >= 0 && (n <= 0 || len(out) < n); i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
	}
	// 反转为时间正序
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Subscribe 订阅新事件
func (f *Feed) Subscribe(buf int) <-chan Entry {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Entry, buf)
	f.mu.Lock()
	f.subscribers = append(f.subscribers, ch)
	f.mu.Unlock()
	return ch
}

// Close 关闭所有订阅者
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subscribers {
		close(ch)
	}
	f.subscribers = nil
}
