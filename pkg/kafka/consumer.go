// 文件: pkg/kafka/consumer.go
// Kafka 消费者组 (arenatail 订阅事件流使用)

package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // -1=newest, -2=oldest
}

// DefaultConsumerConfig 默认从最新位置开始
func DefaultConsumerConfig(brokers []string, groupID string, topics ...string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetNewest,
	}
}

// MessageHandler 消息处理函数，返回错误只记日志，不中断消费
type MessageHandler func(topic string, key, value []byte) error

// Consumer 消费者组
type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *zap.Logger
}

// NewConsumer 创建消费者
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		handler: handler,
		logger:  logger.Named("kafka-consumer"),
	}, nil
}

// Run 阻塞消费直到 ctx 取消
func (c *Consumer) Run(ctx context.Context) error {
	defer c.group.Close()

	h := &groupHandler{handler: c.handler, logger: c.logger}
	for {
		// rebalance 后 Consume 返回，需要重新加入
		if err := c.group.Consume(ctx, c.topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Warn("consume error", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type groupHandler struct {
	handler MessageHandler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if err := h.handler(msg.Topic, msg.Key, msg.Value); err != nil {
			h.logger.Warn("handle error", zap.String("topic", msg.Topic), zap.Int64("offset", msg.Offset), zap.Error(err))
		}
		session.MarkMessage(msg, "")
	}
	return nil
}
