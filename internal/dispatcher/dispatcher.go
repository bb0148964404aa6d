// Package dispatcher runs the worker pool that executes submitted crawls.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/worker"
)

// Queue is a run queue that can be closed and drained on shutdown.
type Queue interface {
	crawler.Queue
	Close() []crawler.QueueItem
}

// Dispatcher fans queue work out to a fixed pool of workers.
type Dispatcher struct {
	queue   Queue
	exec    worker.Executor
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher with size workers.
func New(queue Queue, exec worker.Executor, size int, logger *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{queue: queue, exec: exec, logger: logger.Named("dispatcher")}
	for i := range size {
		d.workers = append(d.workers, worker.New(i+1, queue, exec, d.logger))
	}
	return d
}

// Run starts the workers and blocks until ctx ends and every in-flight run
// has finished. Runs still waiting in the queue are abandoned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Run(ctx)
		}()
	}
	<-ctx.Done()
	wg.Wait()
	for _, item := range d.queue.Close() {
		d.logger.Warn("abandoning queued run", zap.String("run_id", item.RunID), zap.String("source", item.SourceKey))
		worker.Deliver(item.Reply, d.exec.Abandon(item, worker.ErrShuttingDown))
	}
}

// Enqueue submits a claimed run.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
