package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// ArticleStore is an in-memory ArticleStore keyed by link.
type ArticleStore struct {
	mu     sync.RWMutex
	byLink map[string]*crawler.Article
	nextID int64
	clock  crawler.Clock
}

// NewArticleStore constructs an empty store. A nil clock uses wall time.
func NewArticleStore(clock crawler.Clock) *ArticleStore {
	if clock == nil {
		clock = system.New()
	}
	return &ArticleStore{byLink: make(map[string]*crawler.Article), clock: clock}
}

// UpsertListing inserts unseen links and refreshes the mutable fields of
// known ones. Items without a link are counted as errors.
func (s *ArticleStore) UpsertListing(
	ctx context.Context,
	items []crawler.Listing,
	sourceKey, date string,
) (crawler.UpsertResult, error) {
	var res crawler.UpsertResult
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("upsert %s: %w", sourceKey, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		if item.Link == "" || item.Title == "" {
			res.Errors++
			continue
		}
		now := s.clock.Now().UTC()
		if existing, ok := s.byLink[item.Link]; ok {
			existing.Section = item.Section
			existing.Title = item.Title
			existing.TranslatedTitle = item.TranslatedTitle
			existing.ContentPreview = item.ContentPreview
			existing.LastUpdated = now
			res.Saved++
			continue
		}
		s.nextID++
		s.byLink[item.Link] = &crawler.Article{
			ID:              s.nextID,
			Source:          item.Source,
			SourceKey:       sourceKey,
			Section:         item.Section,
			Title:           item.Title,
			TranslatedTitle: item.TranslatedTitle,
			Link:            item.Link,
			ContentPreview:  item.ContentPreview,
			Date:            date,
			CreatedAt:       now,
			LastUpdated:     now,
		}
		res.Saved++
	}
	metrics.ObserveUpsert(res.Saved, res.Errors)
	return res, nil
}

// Query returns copies of matching articles ordered by date descending,
// then source key, then insertion order.
func (s *ArticleStore) Query(_ context.Context, q crawler.ArticleQuery) ([]crawler.Article, error) {
	s.mu.RLock()
	out := make([]crawler.Article, 0, len(s.byLink))
	for _, a := range s.byLink {
		if q.SourceKey != "" && a.SourceKey != q.SourceKey {
			continue
		}
		if q.Date != "" && a.Date != q.Date {
			continue
		}
		out = append(out, *a)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		if out[i].SourceKey != out[j].SourceKey {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RetentionSweep removes articles whose date sorts before now-days.
func (s *ArticleStore) RetentionSweep(_ context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days).Format(crawler.DateLayout)
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for link, a := range s.byLink {
		if a.Date < cutoff {
			delete(s.byLink, link)
			deleted++
		}
	}
	return deleted, nil
}

// Stats counts articles per source.
func (s *ArticleStore) Stats(_ context.Context) (crawler.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := crawler.StoreStats{BySource: map[string]int64{}}
	for _, a := range s.byLink {
		stats.Total++
		stats.BySource[a.SourceKey]++
		if a.Date > stats.Latest {
			stats.Latest = a.Date
		}
	}
	return stats, nil
}
