// 文件: pkg/nats/publisher.go
// NATS 发布者
// 轻量级替代 Kafka，本地开发和 arenatail 默认使用

package nats

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect 建立连接，断线自动重连
func Connect(url, name string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}

// Publisher NATS 发布者
type Publisher struct {
	conn *nats.Conn

	published atomic.Int64
	failed    atomic.Int64
}

// NewPublisher 创建发布者
func NewPublisher(url string, logger *zap.Logger) (*Publisher, error) {
	conn, err := Connect(url, "arena-publisher", logger)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn}, nil
}

// Publish JSON 发布
//
// nats.Conn.Publish 只写入客户端缓冲区，断线期间由重连缓冲暂存
func (p *Publisher) Publish(subject string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.conn.Publish(subject, b); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.published.Add(1)
	return nil
}

// PublisherStats 统计信息
type PublisherStats struct {
	Published int64
	Failed    int64
}

// Stats 获取统计信息
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{Published: p.published.Load(), Failed: p.failed.Load()}
}

// Close 先 flush 再关闭
func (p *Publisher) Close() {
	_ = p.conn.FlushTimeout(time.Second)
	p.conn.Close()
}
