// 文件: pkg/reconcile/lane.go
// 写入通道 = 队列 + 批量写函数
//
// 同一个模式复用在:
// - 仓位 PnL/状态更新
// - PnL 历史采样
// - 钱包余额变更
// - 市场快照 / 价格历史
// - 质押变更
// - 日志

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// WriteFunc 一次批量写入
type WriteFunc[T any] func(ctx context.Context, batch []T) error

// CompactFunc 写入前合并批次 (可选)
type CompactFunc[T any] func(batch []T) []T

// PartialError 批次前 Done 条已写入，只需重试剩余部分
//
// 非幂等的写入 (钱包增量、质押增量) 逐条提交时使用，避免重复入账
type PartialError struct {
	Done int
	Err  error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial write (%d done): %v", e.Done, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Flusher Syncer 调度的最小接口
type Flusher interface {
	Name() string
	Flush(ctx context.Context) error
	Pending() int
}

// LaneStats 通道统计
type LaneStats struct {
	Batches  int64 // 成功批次
	Items    int64 // 成功条数
	Failures int64 // 失败批次
}

// Lane 单个写入通道
type Lane[T any] struct {
	name    string
	queue   *Queue[T]
	write   WriteFunc[T]
	compact CompactFunc[T]

	batches  atomic.Int64
	items    atomic.Int64
	failures atomic.Int64
}

// NewLane 创建通道
func NewLane[T any](name string, write WriteFunc[T]) *Lane[T] {
	return &Lane[T]{
		name:  name,
		queue: NewQueue[T](),
		write: write,
	}
}

// WithCompact 设置合并函数，返回自身便于链式调用
func (l *Lane[T]) WithCompact(fn CompactFunc[T]) *Lane[T] {
	l.compact = fn
	return l
}

func (l *Lane[T]) Name() string { return l.name }

// Push 入队 (同步，不阻塞)
func (l *Lane[T]) Push(items ...T) {
	l.queue.Append(items...)
}

// Pending 待写条数
func (l *Lane[T]) Pending() int {
	return l.queue.Len()
}

// Flush 取走队列并批量写入，失败时整批插回队首
func (l *Lane[T]) Flush(ctx context.Context) error {
	batch := l.queue.Drain()
	if len(batch) == 0 {
		return nil
	}
	if l.compact != nil {
		batch = l.compact(batch)
	}

	if err := l.write(ctx, batch); err != nil {
		rest := batch
		var pe *PartialError
		if errors.As(err, &pe) && pe.Done > 0 && pe.Done <= len(batch) {
			rest = batch[pe.Done:]
			l.items.Add(int64(pe.Done))
		}
		l.queue.Requeue(rest)
		l.failures.Add(1)
		return fmt.Errorf("flush %s (%d items): %w", l.name, len(rest), err)
	}

	l.batches.Add(1)
	l.items.Add(int64(len(batch)))
	return nil
}

// Stats 统计快照
func (l *Lane[T]) Stats() LaneStats {
	return LaneStats{
		Batches:  l.batches.Load(),
		Items:    l.items.Load(),
		Failures: l.failures.Load(),
	}
}
