package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

// ErrSelectionClosed is reported by Star once Close has been called.
var ErrSelectionClosed = errors.New("selection closed")

// Item is a starred article.
type Item struct {
	Link            string    `json:"link"`
	Title           string    `json:"title"`
	TranslatedTitle string    `json:"translated_title,omitempty"`
	Source          string    `json:"source,omitempty"`
	Section         string    `json:"section,omitempty"`
	Date            string    `json:"date,omitempty"`
	StarredAt       time.Time `json:"starred_at"`
}

// Selection tracks starred articles and warms the cache for each one on
// a bounded set of background goroutines.
type Selection struct {
	cache  *Cache
	clock  crawler.Clock
	logger *zap.Logger
	sem    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	items  map[string]Item
	closed bool
}

// NewSelection creates a selection whose prefetches run at most width at a time.
func NewSelection(c *Cache, width int, clock crawler.Clock, logger *zap.Logger) *Selection {
	if width <= 0 {
		width = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = system.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Selection{
		cache:  c,
		clock:  clock,
		logger: logger.Named("selection"),
		sem:    make(chan struct{}, width),
		ctx:    ctx,
		cancel: cancel,
		items:  make(map[string]Item),
	}
}

// Star records item and schedules a prefetch of its body. The returned
// channel yields the prefetch outcome once and is then closed. After Close
// the item is not recorded and the channel yields ErrSelectionClosed.
func (s *Selection) Star(item Item) <-chan error {
	done := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		done <- ErrSelectionClosed
		close(done)
		return done
	}
	if prev, ok := s.items[item.Link]; ok {
		item.StarredAt = prev.StarredAt
	} else {
		item.StarredAt = s.clock.Now()
	}
	s.items[item.Link] = item
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer close(done)
		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			done <- fmt.Errorf("prefetch %s: %w", item.Link, s.ctx.Err())
			return
		}
		defer func() { <-s.sem }()
		if _, err := s.cache.GetOrFetch(s.ctx, item.Link); err != nil {
			s.logger.Warn("prefetch failed", zap.String("link", item.Link), zap.Error(err))
			done <- err
			return
		}
		done <- nil
	}()
	return done
}

// Unstar removes link from the selection. The cached body is kept.
func (s *Selection) Unstar(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[link]
	delete(s.items, link)
	return ok
}

// IsStarred reports whether link is in the selection.
func (s *Selection) IsStarred(link string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[link]
	return ok
}

// Items lists the selection in the order items were starred.
func (s *Selection) Items() []Item {
	s.mu.RLock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StarredAt.Equal(out[j].StarredAt) {
			return out[i].StarredAt.Before(out[j].StarredAt)
		}
		return out[i].Link < out[j].Link
	})
	return out
}

// Close waits for in-flight prefetches. When ctx expires first the
// remaining prefetches are cancelled.
func (s *Selection) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return fmt.Errorf("selection close: %w", ctx.Err())
	}
}
