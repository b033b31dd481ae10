// 文件: pkg/reconcile/syncer.go
// 定时同步器
//
// 职责:
// 1. 固定间隔 (默认 2s) 依次 Flush 所有通道
// 2. 错误统一交给 ErrorSink，不重试，不向上传播
// 3. 上一次 Flush 未完成时跳过本次
// 4. 停止时不做最后一次 Flush (尽力而为)

package reconcile

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFlushInterval = 2 * time.Second
	DefaultFlushTimeout  = 5 * time.Second
)

// ErrorSink 唯一的错误出口
type ErrorSink func(lane string, err error)

// LogSink 把错误写到日志
func LogSink(logger *zap.Logger) ErrorSink {
	return func(lane string, err error) {
		logger.Warn("flush failed, batch requeued", zap.String("lane", lane), zap.Error(err))
	}
}

// Config 同步器配置
type Config struct {
	Interval time.Duration
	Timeout  time.Duration // 单次 Flush 超时
}

// Syncer 定时同步器
type Syncer struct {
	cfg    Config
	sink   ErrorSink
	logger *zap.Logger

	mu    sync.RWMutex
	lanes []Flusher

	flushing atomic.Bool
	rounds   atomic.Int64
	skipped  atomic.Int64
}

// NewSyncer 创建同步器，sink 为 nil 时写日志
func NewSyncer(cfg Config, logger *zap.Logger, sink ErrorSink, lanes ...Flusher) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultFlushInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultFlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = LogSink(logger)
	}
	return &Syncer{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("syncer"),
		lanes:  lanes,
	}
}

// Register 注册通道
func (s *Syncer) Register(lanes ...Flusher) {
	s.mu.Lock()
	s.lanes = append(s.lanes, lanes...)
	s.mu.Unlock()
}

// Pending 所有通道待写条数
func (s *Syncer) Pending() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, l := range s.lanes {
		total += l.Pending()
	}
	return total
}

// Flush 执行一轮同步，返回是否真正执行
func (s *Syncer) Flush(ctx context.Context) bool {
	if !s.flushing.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		return false
	}
	defer s.flushing.Store(false)

	s.mu.RLock()
	lanes := make([]Flusher, len(s.lanes))
	copy(lanes, s.lanes)
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for _, l := range lanes {
		// 每个通道独立，一个失败不影响其他通道
		if err := l.Flush(ctx); err != nil {
			s.sink(l.Name(), err)
		}
	}
	s.rounds.Add(1)
	return true
}

// Run 阻塞运行直到 ctx 取消
func (s *Syncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("syncer started", zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer stopped", zap.Int("pending", s.Pending()))
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Rounds 完成轮数
func (s *Syncer) Rounds() int64 { return s.rounds.Load() }

// Skipped 因上一轮未完成而跳过的次数
func (s *Syncer) Skipped() int64 { return s.skipped.Load() }
