package nats

import (
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testURL = nats.DefaultURL

// setupPublisher 本地 NATS 不可用时跳过
func setupPublisher(t *testing.T) *Publisher {
	p, err := NewPublisher(testURL, zap.NewNop())
	if err != nil {
		t.Skipf("skipping test; nats not available: %v", err)
	}
	t.Cleanup(p.Close)
	return p
}

func TestSubscriber_OnMessageCountsFailures(t *testing.T) {
	var got []string
	s := newSubscriber(nil, "", func(subject string, data []byte) error {
		got = append(got, subject+":"+string(data))
		if string(data) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	}, nil)

	s.onMessage(&nats.Msg{Subject: "arena.feed.win", Data: []byte("ok")})
	s.onMessage(&nats.Msg{Subject: "arena.feed.loss", Data: []byte("bad")})

	assert.Equal(t, []string{"arena.feed.win:ok", "arena.feed.loss:bad"}, got)
	assert.Equal(t, SubscriberStats{Received: 2, Failed: 1}, s.Stats())
}

func TestNewSubscriber_NilHandler(t *testing.T) {
	_, err := NewSubscriber(SubscriberConfig{URL: testURL}, nil, nil)
	assert.Error(t, err)
}

func TestPublishSubscribe_Wildcard(t *testing.T) {
	p := setupPublisher(t)

	received := make(chan string, 4)
	sub, err := NewSubscriber(SubscriberConfig{URL: testURL}, func(subject string, _ []byte) error {
		received <- subject
		return nil
	}, zap.NewNop())
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, sub.Subscribe("arenatest.feed.>"))

	require.NoError(t, p.Publish("arenatest.feed.liquidation", map[string]string{"type": "LIQUIDATION"}))
	require.NoError(t, p.Publish("arenatest.feed.win", map[string]string{"type": "WIN"}))

	for _, want := range []string{"arenatest.feed.liquidation", "arenatest.feed.win"} {
		select {
		case subject := <-received:
			assert.Equal(t, want, subject)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
	assert.Equal(t, int64(2), p.Stats().Published)
}

func TestPublishSubscribe_QueueGroupSharesMessages(t *testing.T) {
	p := setupPublisher(t)

	handler := func(string, []byte) error { return nil }
	cfg := SubscriberConfig{URL: testURL, Queue: "arenatest-tail"}
	a, err := NewSubscriber(cfg, handler, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewSubscriber(cfg, handler, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.Subscribe("arenatest.queue"))
	require.NoError(t, b.Subscribe("arenatest.queue"))

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, p.Publish("arenatest.queue", i))
	}

	// 每条消息只投递给组内一个成员
	require.Eventually(t, func() bool {
		return a.Stats().Received+b.Stats().Received == n
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(n), a.Stats().Received+b.Stats().Received)
}

func TestPublish_UnmarshalableValue(t *testing.T) {
	p := setupPublisher(t)
	err := p.Publish("arenatest.bad", func() {})
	assert.Error(t, err)
	assert.Equal(t, int64(1), p.Stats().Failed)
}
