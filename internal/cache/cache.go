// Package cache memoizes article bodies by link. Concurrent requests for
// the same link share one fetch, and bodies can be written through to a
// blob store so a restarted process recovers them without refetching.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// BodyFetcher resolves the full text of an article.
type BodyFetcher interface {
	FetchBody(ctx context.Context, link string) (crawler.ArticleBody, error)
}

// PathFunc maps a link to its blob object path.
type PathFunc func(link string) string

// Cache holds every body it has resolved; entries are never evicted.
type Cache struct {
	fetcher BodyFetcher
	blob    crawler.BlobStore
	path    PathFunc
	logger  *zap.Logger

	mu     sync.RWMutex
	bodies map[string]crawler.ArticleBody
	group  singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithBlobStore enables write-through persistence under paths from path.
func WithBlobStore(blob crawler.BlobStore, path PathFunc) Option {
	return func(c *Cache) {
		c.blob = blob
		c.path = path
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New builds an empty cache in front of fetcher.
func New(fetcher BodyFetcher, opts ...Option) *Cache {
	c := &Cache{
		fetcher: fetcher,
		logger:  zap.NewNop(),
		bodies:  make(map[string]crawler.ArticleBody),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("cache")
	return c
}

// Get returns a memoized body without fetching.
func (c *Cache) Get(link string) (crawler.ArticleBody, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	body, ok := c.bodies[link]
	return body, ok
}

// Len reports the number of memoized bodies.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bodies)
}

// GetOrFetch returns the cached body for link, loading it from the blob
// store or fetching it on a miss. At most one load per link is in flight.
// The load is detached from ctx so a caller that gives up does not fail
// the other callers waiting on the same link.
func (c *Cache) GetOrFetch(ctx context.Context, link string) (crawler.ArticleBody, error) {
	if body, ok := c.Get(link); ok {
		metrics.ObserveCacheLookup(true)
		return body, nil
	}
	metrics.ObserveCacheLookup(false)
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(link, func() (any, error) {
		if body, ok := c.Get(link); ok {
			return body, nil
		}
		if body, ok := c.load(loadCtx, link); ok {
			c.put(link, body)
			return body, nil
		}
		body, err := c.fetcher.FetchBody(loadCtx, link)
		if err != nil {
			return crawler.ArticleBody{}, fmt.Errorf("fetch body %s: %w", link, err)
		}
		body.BlobURI = c.persist(loadCtx, link, body)
		c.put(link, body)
		return body, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return crawler.ArticleBody{}, res.Err
		}
		return res.Val.(crawler.ArticleBody), nil
	case <-ctx.Done():
		return crawler.ArticleBody{}, fmt.Errorf("fetch body %s: %w", link, ctx.Err())
	}
}

func (c *Cache) put(link string, body crawler.ArticleBody) {
	c.mu.Lock()
	c.bodies[link] = body
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context, link string) (crawler.ArticleBody, bool) {
	if c.blob == nil {
		return crawler.ArticleBody{}, false
	}
	rc, err := c.blob.GetObject(ctx, c.path(link))
	if err != nil {
		if !errors.Is(err, crawler.ErrObjectNotFound) {
			c.logger.Warn("blob read failed", zap.String("link", link), zap.Error(err))
		}
		return crawler.ArticleBody{}, false
	}
	defer rc.Close()
	var body crawler.ArticleBody
	if err := json.NewDecoder(rc).Decode(&body); err != nil {
		c.logger.Warn("blob decode failed", zap.String("link", link), zap.Error(err))
		return crawler.ArticleBody{}, false
	}
	return body, true
}

// persist writes body through to the blob store and returns its URI.
// Failures are logged; the body is still served from memory.
func (c *Cache) persist(ctx context.Context, link string, body crawler.ArticleBody) string {
	if c.blob == nil {
		return ""
	}
	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.Warn("encode body failed", zap.String("link", link), zap.Error(err))
		return ""
	}
	uri, err := c.blob.PutObject(ctx, c.path(link), "application/json", bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("blob write failed", zap.String("link", link), zap.Error(err))
		return ""
	}
	return uri
}
