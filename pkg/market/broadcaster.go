package market

import (
	"sync"
	"sync/atomic"
)

// Broadcaster 市场快照广播器 (Fan-out)
//
//	  Settlement (生产者)
//	        |
//	  [Broadcaster]
//	   /    |    \
//	渲染层  排行榜  tail 工具
//
// 订阅者处理慢时直接丢弃快照，旧行情没有价值，绝不阻塞结算
type Broadcaster struct {
	// 订阅少，广播多，读写锁
	mu          sync.RWMutex
	subscribers []chan []Snapshot
	dropped     atomic.Uint64
	bufSize     int
}

// NewBroadcaster bufSize 为每个订阅者的缓冲
func NewBroadcaster(bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 16
	}
	return &Broadcaster{bufSize: bufSize}
}

// Subscribe 订阅，每次收到一个 tick 的全部资产快照
func (b *Broadcaster) Subscribe() <-chan []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []Snapshot, b.bufSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe 取消订阅并关闭 channel
func (b *Broadcaster) Unsubscribe(sub <-chan []Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, ch := range b.subscribers {
		if ch == sub {
			close(ch)
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Broadcast 非阻塞分发
func (b *Broadcaster) Broadcast(snaps []Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers {
		select {
		case ch <- snaps:
		default:
			// Drop Strategy
			b.dropped.Add(1)
		}
	}
}

// Dropped 丢弃次数
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅者
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subscribers {
		close(ch)
	}
	b.subscribers = nil
}
