package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueue(workers, capacity int, timeout time.Duration) *Queue {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewQueue(logger, workers, capacity, timeout)
}

func TestQueue_ProcessesJobs(t *testing.T) {
	q := newTestQueue(3, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	var completed atomic.Int32
	for i := 0; i < 5; i++ {
		if !q.Enqueue(func(ctx context.Context) error {
			completed.Add(1)
			return nil
		}) {
			t.Fatalf("failed to enqueue job %d", i)
		}
	}

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if completed.Load() != 5 {
		t.Fatalf("expected 5 completed jobs, got %d", completed.Load())
	}
	if s := q.Stats(); s.Enqueued != 5 || s.Succeeded != 5 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestQueue_FailureAndPanic(t *testing.T) {
	q := newTestQueue(1, 5, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error { return errors.New("smtp down") })
	q.Enqueue(func(ctx context.Context) error { panic("intentional panic") })

	// worker 在 panic 后仍可继续处理
	var executed atomic.Bool
	q.Enqueue(func(ctx context.Context) error {
		executed.Store(true)
		return nil
	})

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	s := q.Stats()
	if s.Failed != 1 || s.Panics != 1 || s.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if !executed.Load() {
		t.Fatalf("job after panic should execute")
	}
}

func TestQueue_FullDrops(t *testing.T) {
	q := newTestQueue(1, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if !q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected second job to fit the buffer")
	}
	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("expected enqueue to fail when queue is full")
	}

	close(release)
	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if q.Stats().Dropped != 1 {
		t.Fatalf("expected 1 dropped job, got %d", q.Stats().Dropped)
	}
}

func TestQueue_JobTimeout(t *testing.T) {
	q := newTestQueue(1, 1, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	q.Enqueue(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := q.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if q.Stats().Failed != 1 {
		t.Fatalf("expected timed out job to fail")
	}
}

func TestQueue_ShutdownRejectsAndTimesOut(t *testing.T) {
	q := newTestQueue(1, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	release := make(chan struct{})
	q.Enqueue(func(ctx context.Context) error {
		<-release
		return nil
	})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer shutdownCancel()
	if err := q.Shutdown(shutdownCtx); err == nil {
		t.Fatalf("expected shutdown timeout while job is blocked")
	}
	close(release)

	if q.Enqueue(func(ctx context.Context) error { return nil }) {
		t.Fatalf("should not accept jobs after shutdown")
	}
	if err := q.Shutdown(context.Background()); err == nil {
		t.Fatalf("expected error on second shutdown")
	}
}
