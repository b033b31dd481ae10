// 文件: pkg/sim/cron.go
// 低频定时任务 (带秒的 cron 表达式)

package sim

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CronRunner cron 调度器
type CronRunner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// NewCronRunner 任务执行时使用 baseCtx
func NewCronRunner(baseCtx context.Context, logger *zap.Logger) *CronRunner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CronRunner{
		cron:    cron.New(cron.WithSeconds()),
		logger:  logger.Named("cron"),
		baseCtx: baseCtx,
	}
}

// Add 注册任务
func (r *CronRunner) Add(name, spec string, job func(context.Context) error) (cron.EntryID, error) {
	return r.cron.AddFunc(spec, func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("cron job panic", zap.String("job", name), zap.Any("panic", rec))
			}
		}()
		if err := job(r.baseCtx); err != nil {
			r.logger.Warn("cron job failed", zap.String("job", name), zap.Error(err))
		}
	})
}

// Len 已注册任务数
func (r *CronRunner) Len() int {
	return len(r.cron.Entries())
}

func (r *CronRunner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", r.Len()))
	r.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (r *CronRunner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
