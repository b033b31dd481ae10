// 文件: pkg/reconcile/queue.go
// 批量写入队列
//
// 高频内存变更 (每秒一次结算) 和存储写入解耦:
// 1. 结算同步 Append
// 2. 定时 Flush 原子地取走全部数据，新数据进入新队列
// 3. 写入失败时 Requeue 插回队首，保持原有顺序，下个周期重试

package reconcile

import "sync"

// Queue 并发安全的 FIFO 队列
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Append 追加到队尾
func (q *Queue[T]) Append(items ...T) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, items...)
	q.mu.Unlock()
}

// Drain 取走全部数据并清空
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	batch := q.items
	q.items = nil
	return batch
}

// Requeue 失败批次插回队首
//
// 队列: [C D] (flush 期间新到)
// 失败: [A B]
// 结果: [A B C D]
func (q *Queue[T]) Requeue(batch []T) {
	if len(batch) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]T, 0, len(batch)+len(q.items))
	merged = append(merged, batch...)
	merged = append(merged, q.items...)
	q.items = merged
}

// Len 当前长度
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
