package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// Runner crawls one source for one edition date. An empty date means today.
type Runner interface {
	Run(ctx context.Context, key, date string) (crawler.RunResult, error)
}

// Sweeper deletes articles older than a number of days.
type Sweeper interface {
	RetentionSweep(ctx context.Context, days int) (int64, error)
}

// CrawlSources returns a job body that crawls keys one after another for
// today's edition. A source that is already running is skipped; other
// failures do not stop later sources and are joined into the result.
func CrawlSources(runner Runner, keys []string, logger *zap.Logger) func(context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		var errs []error
		for _, key := range keys {
			res, err := runner.Run(ctx, key, "")
			switch {
			case errors.Is(err, crawler.ErrRunAlreadyInProgress):
				logger.Info("source already crawling, skipped", zap.String("source", key))
			case err != nil:
				errs = append(errs, fmt.Errorf("crawl %s: %w", key, err))
			default:
				logger.Info("scheduled crawl finished",
					zap.String("source", key), zap.String("run_id", res.RunID), zap.Int("articles", res.Articles))
			}
		}
		return errors.Join(errs...)
	}
}

// Cleanup returns a job body that runs the retention sweep.
func Cleanup(store Sweeper, days int, logger *zap.Logger) func(context.Context) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context) error {
		deleted, err := store.RetentionSweep(ctx, days)
		if err != nil {
			return fmt.Errorf("retention sweep: %w", err)
		}
		logger.Info("retention sweep finished", zap.Int("days", days), zap.Int64("deleted", deleted))
		return nil
	}
}
