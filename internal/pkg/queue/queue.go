package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"invoicehub/internal/pkg/metrics"
)

// Job 表示一个可执行的异步任务。
type Job func(ctx context.Context) error

// Queue 是内存任务队列与固定 worker 池，用于发送回执等"发出即忘"的任务。
//
// 队列满或已关闭时 Enqueue 直接返回 false，不会阻塞调用方。
type Queue struct {
	logger     *slog.Logger
	workers    int
	jobTimeout time.Duration
	jobs       chan Job

	mu     sync.RWMutex // 保护 closed 与 close(jobs)
	closed bool
	wg     sync.WaitGroup

	stats queueStats
}

type queueStats struct {
	enqueued  atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	panics    atomic.Int64
}

// Stats 队列统计信息快照。
type Stats struct {
	Enqueued  int64 // 入队任务数
	Succeeded int64 // 成功任务数
	Failed    int64 // 失败任务数
	Dropped   int64 // 丢弃任务数（队列满或已关闭）
	Panics    int64 // Panic 次数
}

// NewQueue 创建任务队列。workers 与 capacity 至少为 1；jobTimeout 为 0 表示任务不设超时。
func NewQueue(logger *slog.Logger, workers, capacity int, jobTimeout time.Duration) *Queue {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		logger:     logger,
		workers:    workers,
		jobTimeout: jobTimeout,
		jobs:       make(chan Job, capacity),
	}
}

// Start 启动 worker 池。ctx 被取消时 worker 立即退出，剩余任务被丢弃。
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("worker stopped", slog.Int("worker_id", id))
			return

		case job, ok := <-q.jobs:
			if !ok {
				return
			}
			metrics.QueueDepth.Set(float64(len(q.jobs)))
			q.execute(ctx, job, id)
		}
	}
}

// execute 执行单个任务，带 panic 恢复。
func (q *Queue) execute(ctx context.Context, job Job, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			q.stats.panics.Add(1)
			metrics.QueueJobsTotal.WithLabelValues("panic").Inc()
			q.logger.Error("job panic recovered",
				slog.Int("worker_id", workerID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}

	if err := job(ctx); err != nil {
		q.stats.failed.Add(1)
		metrics.QueueJobsTotal.WithLabelValues("failed").Inc()
		q.logger.Warn("job failed",
			slog.Int("worker_id", workerID),
			slog.String("error", err.Error()))
		return
	}
	q.stats.succeeded.Add(1)
	metrics.QueueJobsTotal.WithLabelValues("succeeded").Inc()
}

// Enqueue 非阻塞入队，队列已满或已关闭时返回 false。
func (q *Queue) Enqueue(job Job) bool {
	if job == nil {
		return false
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop("queue is closed, reject job")
		return false
	}

	select {
	case q.jobs <- job:
		q.stats.enqueued.Add(1)
		metrics.QueueDepth.Set(float64(len(q.jobs)))
		return true
	default:
		q.drop("queue full, drop job")
		return false
	}
}

func (q *Queue) drop(reason string) {
	q.stats.dropped.Add(1)
	metrics.QueueJobsTotal.WithLabelValues("dropped").Inc()
	q.logger.Warn(reason, slog.Int("capacity", cap(q.jobs)), slog.Int("pending", len(q.jobs)))
}

// Shutdown 拒绝新任务并等待 worker 处理完已入队的任务；ctx 到期时返回错误。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("queue already closed")
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.logger.Info("queue shutdown completed")
		return nil
	case <-ctx.Done():
		q.logger.Error("queue shutdown timeout", slog.Int("pending", len(q.jobs)))
		return fmt.Errorf("queue shutdown: %w", ctx.Err())
	}
}

// Stats 获取统计信息快照。
func (q *Queue) Stats() Stats {
	return Stats{
		Enqueued:  q.stats.enqueued.Load(),
		Succeeded: q.stats.succeeded.Load(),
		Failed:    q.stats.failed.Load(),
		Dropped:   q.stats.dropped.Load(),
		Panics:    q.stats.panics.Load(),
	}
}

// Len 返回待处理的任务数量。
func (q *Queue) Len() int {
	return len(q.jobs)
}
