// 文件: pkg/feed/broker.go
// 事件流转发到消息中间件
// - Kafka: 按 UserID 分区，同一用户事件有序
// - NATS: subject = <prefix>.<type>，tail 工具订阅 <prefix>.>

package feed

import (
	"context"
	"strings"

	"arena.com/pkg/kafka"
	"arena.com/pkg/nats"
)

// KafkaPublisher Kafka 转发
type KafkaPublisher struct {
	producer *kafka.Producer
	topic    string
}

func NewKafkaPublisher(p *kafka.Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Entry) error {
	key := e.UserID
	if key == "" {
		key = e.AgentID
	}
	return k.producer.Send(ctx, kafka.JSONMessage{TopicName: k.topic, KeyValue: key, Payload: e})
}

// NATSPublisher NATS 转发
type NATSPublisher struct {
	pub    *nats.Publisher
	prefix string
}

func NewNATSPublisher(p *nats.Publisher, prefix string) *NATSPublisher {
	return &NATSPublisher{pub: p, prefix: strings.TrimSuffix(prefix, ".")}
}

func (n *NATSPublisher) Publish(_ context.Context, e Entry) error {
	return n.pub.Publish(Subject(n.prefix, e.Type), e)
}

// Subject NATS 主题名
func Subject(prefix string, typ EntryType) string {
	return prefix + "." + strings.ToLower(string(typ))
}
