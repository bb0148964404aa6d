package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/cache"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const (
	defaultArticleLimit = 200
	maxArticleLimit     = 1000
	storeTimeout        = 5 * time.Second
)

// ArticleHandler serves stored listings, article bodies and the selection.
type ArticleHandler struct {
	store     crawler.ArticleStore
	bodies    Bodies
	selection Selection
	timeout   time.Duration
	logger    *zap.Logger
}

// NewArticleHandler wires the store and optional body cache and selection.
func NewArticleHandler(store crawler.ArticleStore, bodies Bodies, selection Selection, logger *zap.Logger) *ArticleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleHandler{
		store:     store,
		bodies:    bodies,
		selection: selection,
		timeout:   storeTimeout,
		logger:    logger,
	}
}

type articleDTO struct {
	crawler.Article
	Starred bool `json:"starred"`
}

// List handles GET /v1/articles?source=&date=&limit=&offset=. Results are
// ordered by date descending, then source key.
func (h *ArticleHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultArticleLimit, maxArticleLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := crawler.ArticleQuery{
		SourceKey: strings.TrimSpace(r.URL.Query().Get("source")),
		Date:      strings.TrimSpace(r.URL.Query().Get("date")),
	}
	if q.Date != "" {
		if _, err := time.Parse(crawler.DateLayout, q.Date); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date")
			return
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	articles, err := h.store.Query(ctx, q)
	if err != nil {
		h.logger.Error("query articles failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to query articles")
		return
	}
	total := len(articles)
	articles = page(articles, limit, offset)
	out := make([]articleDTO, 0, len(articles))
	for _, a := range articles {
		out = append(out, articleDTO{Article: a, Starred: h.selection != nil && h.selection.IsStarred(a.Link)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": out, "total": total})
}

// Body handles GET /v1/articles/body?url=. Bodies are memoized by link.
func (h *ArticleHandler) Body(w http.ResponseWriter, r *http.Request) {
	if h.bodies == nil {
		writeError(w, http.StatusServiceUnavailable, "article cache unavailable")
		return
	}
	link := strings.TrimSpace(r.URL.Query().Get("url"))
	if link == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	body, err := h.bodies.GetOrFetch(r.Context(), link)
	if err != nil {
		h.logger.Warn("article body fetch failed", zap.String("link", link), zap.Error(err))
		code := http.StatusBadGateway
		if crawler.IsNotFound(err) {
			code = http.StatusNotFound
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// Stats handles GET /v1/stats.
func (h *ArticleHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusServiceUnavailable, "article store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	stats, err := h.store.Stats(ctx)
	if err != nil {
		h.logger.Error("store stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Selected handles GET /v1/selection.
func (h *ArticleHandler) Selected(w http.ResponseWriter, _ *http.Request) {
	if h.selection == nil {
		writeError(w, http.StatusServiceUnavailable, "selection unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.selection.Items()})
}

// Star handles POST /v1/selection. The body prefetch runs in the background.
func (h *ArticleHandler) Star(w http.ResponseWriter, r *http.Request) {
	if h.selection == nil {
		writeError(w, http.StatusServiceUnavailable, "selection unavailable")
		return
	}
	var item cache.Item
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	item.Link = strings.TrimSpace(item.Link)
	if item.Link == "" {
		writeError(w, http.StatusBadRequest, "link is required")
		return
	}
	done := h.selection.Star(item)
	select {
	case err := <-done:
		if errors.Is(err, cache.ErrSelectionClosed) {
			writeError(w, http.StatusServiceUnavailable, "selection closed")
			return
		}
		if err != nil {
			h.logger.Debug("selection prefetch failed", zap.String("link", item.Link), zap.Error(err))
		}
	default:
		go func() {
			if err := <-done; err != nil {
				h.logger.Debug("selection prefetch failed", zap.String("link", item.Link), zap.Error(err))
			}
		}()
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"link": item.Link, "starred": true})
}

// Unstar handles DELETE /v1/selection?url=.
func (h *ArticleHandler) Unstar(w http.ResponseWriter, r *http.Request) {
	if h.selection == nil {
		writeError(w, http.StatusServiceUnavailable, "selection unavailable")
		return
	}
	link := strings.TrimSpace(r.URL.Query().Get("url"))
	if link == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if !h.selection.Unstar(link) {
		writeError(w, http.StatusNotFound, "not starred")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": link, "starred": false})
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	end := min(offset+limit, len(in))
	return in[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
