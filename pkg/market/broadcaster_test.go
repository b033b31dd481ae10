package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(4)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Broadcast([]Snapshot{{Symbol: "BTC", Price: 1}})

	got1 := <-s1
	got2 := <-s2
	require.Len(t, got1, 1)
	assert.Equal(t, "BTC", got1[0].Symbol)
	assert.Equal(t, got1, got2)
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(1)
	slow := b.Subscribe()

	// 缓冲为 1，第二次发送被丢弃，不会阻塞
	b.Broadcast([]Snapshot{{Price: 1}})
	b.Broadcast([]Snapshot{{Price: 2}})

	assert.Equal(t, uint64(1), b.Dropped())
	got := <-slow
	assert.Equal(t, 1.0, got[0].Price)
}

func TestBroadcaster_UnsubscribeAndClose(t *testing.T) {
	b := NewBroadcaster(1)
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Unsubscribe(s1)
	_, ok := <-s1
	assert.False(t, ok)

	b.Close()
	_, ok = <-s2
	assert.False(t, ok)
}
