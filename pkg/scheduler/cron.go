package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"SafeCircle/pkg/logger"
)

// Cron 基于 robfig/cron 的定时任务，任务拿到的 ctx 在 Stop 时取消
type Cron struct {
	c      *cron.Cron
	loc    *time.Location
	ctx    context.Context
	cancel context.CancelFunc
}

func NewCron(loc *time.Location) *Cron {
	if loc == nil {
		loc = time.UTC
	}
	l := zapCronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(l),
		// 上一轮没跑完时跳过本轮，避免扫描任务叠加
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{c: c, loc: loc, ctx: ctx, cancel: cancel}
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop 取消任务上下文并等待正在执行的任务结束
func (cr *Cron) Stop() {
	cr.cancel()
	<-cr.c.Stop().Done()
}

func (cr *Cron) Add(expr string, job Job) (cron.EntryID, error) {
	return cr.c.AddFunc(expr, func() { job.Run(cr.ctx) })
}

func (cr *Cron) AddFunc(expr string, fn func(ctx context.Context)) (cron.EntryID, error) {
	return cr.Add(expr, FuncJob(fn))
}

func (cr *Cron) Entries() []cron.Entry { return cr.c.Entries() }

// zapCronLogger 把 cron 内部日志接到 zap
type zapCronLogger struct{}

func (zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Lg.Sugar().Errorw("cron: "+msg, append(keysAndValues, zap.Error(err))...)
}
