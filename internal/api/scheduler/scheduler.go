package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// OverdueMarker 将到期未付的发票标记为逾期。
type OverdueMarker interface {
	MarkOverdue(ctx context.Context) (int64, error)
}

// Scheduler 定期触发逾期扫描。
//
// 启动时立即扫描一次，之后按 interval 周期执行，ctx 取消后停止。
type Scheduler struct {
	marker   OverdueMarker
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewScheduler 创建逾期扫描调度器。interval 小于等于 0 时默认 15 分钟。
func NewScheduler(marker OverdueMarker, logger *slog.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{
		marker:   marker,
		logger:   logger,
		interval: interval,
		timeout:  time.Minute,
	}
}

// Start 在后台运行扫描循环。
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	s.logger.Info("overdue sweeper started", slog.String("interval", s.interval.String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in overdue sweeper", slog.Any("panic", r))
			}
		}()

		s.Sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Wait 阻塞直到扫描循环退出。
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Sweep 执行一次扫描，返回被标记的发票数。
func (s *Scheduler) Sweep(ctx context.Context) int64 {
	sweepCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.marker.MarkOverdue(sweepCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("overdue sweep failed", slog.String("error", err.Error()))
		}
		return 0
	}
	if count > 0 {
		s.logger.Info("invoices marked overdue", slog.Int64("count", count))
	}
	return count
}
