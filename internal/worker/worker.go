// Package worker executes claimed crawl runs pulled from the queue.
package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// ErrShuttingDown is reported for runs that were claimed but never started
// because the process is stopping.
var ErrShuttingDown = errors.New("worker pool shutting down")

// Executor performs a claimed run. Abandon releases a claim that will not
// be executed.
type Executor interface {
	Execute(ctx context.Context, item crawler.QueueItem) crawler.RunResult
	Abandon(item crawler.QueueItem, reason error) crawler.RunResult
}

// Worker pulls runs off the queue one at a time.
type Worker struct {
	id     int
	queue  crawler.Queue
	exec   Executor
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, exec Executor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{id: id, queue: queue, exec: exec, logger: logger.With(zap.Int("worker", id))}
}

// Run consumes the queue until ctx ends or the queue closes. A run that has
// started is finished even if ctx is cancelled mid-way.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if ctx.Err() != nil {
			Deliver(item.Reply, w.exec.Abandon(item, ErrShuttingDown))
			return
		}
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	w.logger.Debug("run dequeued", zap.String("run_id", item.RunID), zap.String("source", item.SourceKey))
	res := w.exec.Execute(context.WithoutCancel(ctx), item)
	w.logger.Info("run finished",
		zap.String("run_id", item.RunID),
		zap.String("source", item.SourceKey),
		zap.String("state", string(res.State)),
		zap.Int("articles", res.Articles),
	)
	Deliver(item.Reply, res)
}

// Deliver hands res to reply without blocking and closes it. A nil reply
// is ignored.
func Deliver(reply chan<- crawler.RunResult, res crawler.RunResult) {
	if reply == nil {
		return
	}
	select {
	case reply <- res:
	default:
	}
	close(reply)
}
