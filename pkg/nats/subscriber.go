// 文件: pkg/nats/subscriber.go
// NATS 订阅者
//
// arenatail 用它跟随事件流:
// - 普通订阅: 每个进程收到全部事件
// - 队列订阅: 同一 queue 组内的进程分摊事件

package nats

import (
	"fmt"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// MessageHandler 消息处理函数，返回错误只记日志和计数
type MessageHandler func(subject string, data []byte) error

// SubscriberConfig 订阅配置
type SubscriberConfig struct {
	URL   string
	Queue string // 非空时使用队列订阅
}

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	queue   string
	subs    []*nats.Subscription
	handler MessageHandler
	logger  *zap.Logger

	received atomic.Int64
	failed   atomic.Int64
}

// NewSubscriber 创建订阅者
func NewSubscriber(cfg SubscriberConfig, handler MessageHandler, logger *zap.Logger) (*Subscriber, error) {
	if handler == nil {
		return nil, fmt.Errorf("nats: nil handler")
	}
	conn, err := Connect(cfg.URL, "arena-subscriber", logger)
	if err != nil {
		return nil, err
	}
	return newSubscriber(conn, cfg.Queue, handler, logger), nil
}

func newSubscriber(conn *nats.Conn, queue string, handler MessageHandler, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subscriber{
		conn:    conn,
		queue:   queue,
		handler: handler,
		logger:  logger.Named("nats"),
	}
}

func (s *Subscriber) onMessage(msg *nats.Msg) {
	s.received.Add(1)
	if err := s.handler(msg.Subject, msg.Data); err != nil {
		s.failed.Add(1)
		s.logger.Warn("handle error", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Subscribe 订阅主题 (支持通配符 arena.feed.>)
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		var (
			sub *nats.Subscription
			err error
		)
		if s.queue != "" {
			sub, err = s.conn.QueueSubscribe(subject, s.queue, s.onMessage)
		} else {
			sub, err = s.conn.Subscribe(subject, s.onMessage)
		}
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	// 确保订阅已到达服务端，之后发布的消息不会漏掉
	return s.conn.Flush()
}

// SubscriberStats 统计信息
type SubscriberStats struct {
	Received int64
	Failed   int64
}

// Stats 获取统计信息
func (s *Subscriber) Stats() SubscriberStats {
	return SubscriberStats{Received: s.received.Load(), Failed: s.failed.Load()}
}

// Close 取消订阅并关闭连接
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.conn.Close()
	return nil
}
