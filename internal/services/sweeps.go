package services

import (
	"context"
	"time"

	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/scheduler"

	"go.uber.org/zap"
)

// sweepTimeout 单轮扫描的上限
const sweepTimeout = 50 * time.Second

// EscalationJob 升级扫描，每轮互相独立
func (s *Services) EscalationJob() scheduler.Job {
	return scheduler.FuncJob(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := s.Alerts.SweepEscalations(ctx); err != nil {
			logger.Error("escalation sweep failed", zap.Error(err))
		}
	})
}

// OverdueJob 把逾期签到写回存储
func (s *Services) OverdueJob() scheduler.Job {
	return scheduler.FuncJob(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := s.CheckIns.MaterializeOverdue(ctx); err != nil {
			logger.Error("overdue sweep failed", zap.Error(err))
		}
	})
}

// RunSweeps 依次执行两个扫描，供命令行一次性调用
func (s *Services) RunSweeps(ctx context.Context) (escalated, overdue int, err error) {
	if escalated, err = s.Alerts.SweepEscalations(ctx); err != nil {
		return escalated, 0, err
	}
	overdue, err = s.CheckIns.MaterializeOverdue(ctx)
	return escalated, overdue, err
}
