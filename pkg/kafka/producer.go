// 文件: pkg/kafka/producer.go
// Kafka 异步生产者
//
// 特点:
// - 异步发送，不阻塞结算循环
// - 输入队列阻塞超过 SendTimeout 即丢弃并计数，不会卡住调用方
// - 错误统一写日志
// - 优雅关闭

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

var (
	ErrProducerClosed = errors.New("producer is closed")
	ErrProducerBusy   = errors.New("producer input stalled, message dropped")
)

// DefaultSendTimeout 单条消息等待输入队列的上限
const DefaultSendTimeout = 50 * time.Millisecond

// =============================================================================
// Message 接口
// =============================================================================

// Message 通用消息接口
type Message interface {
	Topic() string          // 目标 topic
	Key() string            // 分区 key (相同 key 保证顺序)
	Value() ([]byte, error) // 消息体
}

// JSONMessage 任意值按 JSON 序列化
type JSONMessage struct {
	TopicName string
	KeyValue  string
	Payload   any
}

func (m JSONMessage) Topic() string          { return m.TopicName }
func (m JSONMessage) Key() string            { return m.KeyValue }
func (m JSONMessage) Value() ([]byte, error) { return json.Marshal(m.Payload) }

// =============================================================================
// Producer 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string
	ClientID       string
	RequiredAcks   int           // 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int
	SendTimeout    time.Duration // 输入队列等待上限，<=0 用 DefaultSendTimeout
}

// DefaultProducerConfig 默认配置
// 事件流允许少量丢失，leader 确认即可
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		ClientID:       "arena",
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 200 * time.Millisecond,
		FlushMessages:  50,
		MaxRetries:     3,
		SendTimeout:    DefaultSendTimeout,
	}
}

func (cfg ProducerConfig) sarama() *sarama.Config {
	sc := sarama.NewConfig()
	if cfg.ClientID != "" {
		sc.ClientID = cfg.ClientID
	}

	switch cfg.RequiredAcks {
	case 0:
		sc.Producer.RequiredAcks = sarama.NoResponse
	case -1:
		sc.Producer.RequiredAcks = sarama.WaitForAll
	default:
		sc.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch cfg.Compression {
	case "gzip":
		sc.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer
// =============================================================================

// Producer 异步生产者
type Producer struct {
	producer    sarama.AsyncProducer
	logger      *zap.Logger
	sendTimeout time.Duration

	sentCount    atomic.Int64
	errorCount   atomic.Int64
	droppedCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewProducer 创建生产者
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, cfg.sarama())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return newProducer(ap, cfg.SendTimeout, logger), nil
}

func newProducer(ap sarama.AsyncProducer, sendTimeout time.Duration, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	p := &Producer{
		producer:    ap,
		logger:      logger.Named("kafka"),
		sendTimeout: sendTimeout,
	}
	p.wg.Add(1)
	go p.handleErrors()
	return p
}

// Send 发送消息
func (p *Producer) Send(ctx context.Context, msg Message) error {
	data, err := msg.Value()
	if err != nil {
		return fmt.Errorf("serialize message: %w", err)
	}
	return p.SendRaw(ctx, msg.Topic(), msg.Key(), data)
}

// SendRaw 发送原始消息
//
// 输入队列在 sendTimeout 内未接收则丢弃，返回 ErrProducerBusy
func (p *Producer) SendRaw(ctx context.Context, topic, key string, value []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	m := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	timer := time.NewTimer(p.sendTimeout)
	defer timer.Stop()

	select {
	case p.producer.Input() <- m:
		p.sentCount.Add(1)
		return nil
	case <-timer.C:
		p.droppedCount.Add(1)
		return ErrProducerBusy
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		p.logger.Warn("send failed", zap.String("topic", err.Msg.Topic), zap.Error(err.Err))
	}
}

// ProducerStats 统计信息
type ProducerStats struct {
	SentCount    int64
	ErrorCount   int64
	DroppedCount int64
}

// Stats 获取统计信息
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:    p.sentCount.Load(),
		ErrorCount:   p.errorCount.Load(),
		DroppedCount: p.droppedCount.Load(),
	}
}

// Close 关闭生产者，等待错误处理协程退出
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	err := p.producer.Close()
	p.wg.Wait()
	return err
}
