package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProducer_SendJSON(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"type":"WIN"}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	p := newProducer(mp, 0, zap.NewNop())

	err := p.Send(context.Background(), JSONMessage{
		TopicName: "arena.feed",
		KeyValue:  "u1",
		Payload:   map[string]string{"type": "WIN"},
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	assert.Equal(t, int64(1), p.Stats().SentCount)
}

func TestProducer_ErrorsCounted(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	mp.ExpectInputAndFail(sarama.ErrOutOfBrokers)
	p := newProducer(mp, 0, zap.NewNop())

	require.NoError(t, p.SendRaw(context.Background(), "arena.feed", "k", []byte("x")))

	require.Eventually(t, func() bool { return p.Stats().ErrorCount == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
}

func TestProducer_SendAfterClose(t *testing.T) {
	mp := mocks.NewAsyncProducer(t, nil)
	p := newProducer(mp, 0, zap.NewNop())
	require.NoError(t, p.Close())

	err := p.SendRaw(context.Background(), "t", "k", nil)
	assert.ErrorIs(t, err, ErrProducerClosed)
	// 重复关闭无副作用
	assert.NoError(t, p.Close())
}

func TestNewProducer_NoBrokers(t *testing.T) {
	_, err := NewProducer(ProducerConfig{}, nil)
	assert.Error(t, err)
}

// stalledProducer 输入队列无人读取
type stalledProducer struct {
	*mocks.AsyncProducer
	input chan *sarama.ProducerMessage
}

func (s *stalledProducer) Input() chan<- *sarama.ProducerMessage { return s.input }

func TestProducer_StalledInputDropsInsteadOfBlocking(t *testing.T) {
	sp := &stalledProducer{
		AsyncProducer: mocks.NewAsyncProducer(t, nil),
		input:         make(chan *sarama.ProducerMessage),
	}
	p := newProducer(sp, 10*time.Millisecond, zap.NewNop())

	start := time.Now()
	err := p.SendRaw(context.Background(), "arena.feed", "k", []byte("x"))
	assert.ErrorIs(t, err, ErrProducerBusy)
	assert.Less(t, time.Since(start), time.Second)

	stats := p.Stats()
	assert.Equal(t, int64(0), stats.SentCount)
	assert.Equal(t, int64(1), stats.DroppedCount)
	require.NoError(t, p.Close())
}
