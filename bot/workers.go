package bot

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/onnwee/enisa-bot/telemetry"
)

// WorkerPool runs message tasks on their own goroutines, at most max at a time.
type WorkerPool struct {
	sem      *semaphore.Weighted
	wait     time.Duration
	inflight atomic.Int64
	wg       sync.WaitGroup
}

// NewWorkerPool sizes the pool. wait bounds how long Submit blocks on a full pool.
func NewWorkerPool(max int, wait time.Duration) *WorkerPool {
	if max <= 0 {
		max = 1
	}
	slog.Info("worker pool initialized", slog.Int("max_inflight", max), slog.Duration("queue_wait", wait))
	return &WorkerPool{sem: semaphore.NewWeighted(int64(max)), wait: wait}
}

// Submit starts task once a slot is free. It gives up after the queue wait or when
// ctx is done, and reports whether the task was started. The task itself runs with
// taskCtx and is not interrupted by ctx.
func (p *WorkerPool) Submit(ctx, taskCtx context.Context, task func(context.Context)) bool {
	if !p.sem.TryAcquire(1) {
		acqCtx, cancel := context.WithTimeout(ctx, p.wait)
		err := p.sem.Acquire(acqCtx, 1)
		cancel()
		if err != nil {
			telemetry.IncTasksRejected()
			return false
		}
	}
	p.wg.Add(1)
	p.inflight.Add(1)
	telemetry.AddInflight(1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("worker: task panicked", slog.Any("panic", r))
			}
			telemetry.AddInflight(-1)
			p.inflight.Add(-1)
			p.sem.Release(1)
			p.wg.Done()
		}()
		task(taskCtx)
	}()
	return true
}

// Inflight returns the number of running tasks.
func (p *WorkerPool) Inflight() int { return int(p.inflight.Load()) }

// Wait blocks until all running tasks finish.
func (p *WorkerPool) Wait() { p.wg.Wait() }
