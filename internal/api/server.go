package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/cache"
	"github.com/JakeFAU/epaper-crawler/internal/config"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
	queuememory "github.com/JakeFAU/epaper-crawler/internal/queue/memory"
	"github.com/JakeFAU/epaper-crawler/internal/scheduler"
	"github.com/JakeFAU/epaper-crawler/internal/status"
)

// Crawler submits runs to the worker pool.
type Crawler interface {
	Start(ctx context.Context, key, date string) (string, <-chan crawler.RunResult, error)
}

// Bodies resolves full article bodies.
type Bodies interface {
	GetOrFetch(ctx context.Context, link string) (crawler.ArticleBody, error)
}

// Selection is the starred-article set.
type Selection interface {
	Star(item cache.Item) <-chan error
	Unstar(link string) bool
	IsStarred(link string) bool
	Items() []cache.Item
}

// Jobs is the scheduler surface.
type Jobs interface {
	Trigger(id string) error
	Jobs() []scheduler.JobInfo
}

// Deps are the collaborators behind the routes. Bodies, Selection and Jobs
// are optional; their routes answer 503 when absent.
type Deps struct {
	Crawler   Crawler
	Registry  *status.Registry
	Store     crawler.ArticleStore
	Bodies    Bodies
	Selection Selection
	Jobs      Jobs
}

// Server wires HTTP handlers to the crawl engine.
type Server struct {
	router   chi.Router
	deps     Deps
	articles *ArticleHandler
	logger   *zap.Logger
}

const requestTimeout = 60 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")
	s := &Server{
		deps:     deps,
		articles: NewArticleHandler(deps.Store, deps.Bodies, deps.Selection, logger),
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/sources", s.listSources)
		r.Route("/sources/{key}", func(r chi.Router) {
			r.Get("/status", s.sourceStatus)
			r.Post("/crawl", s.startCrawl)
		})
		r.Get("/articles", s.articles.List)
		r.Get("/articles/body", s.articles.Body)
		r.Get("/stats", s.articles.Stats)
		r.Route("/selection", func(r chi.Router) {
			r.Get("/", s.articles.Selected)
			r.Post("/", s.articles.Star)
			r.Delete("/", s.articles.Unstar)
		})
		r.Get("/jobs", s.listJobs)
		r.Post("/jobs/{id}/trigger", s.triggerJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSources(w http.ResponseWriter, _ *http.Request) {
	snaps := s.deps.Registry.Snapshots()
	out := make([]status.Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceKey < out[j].SourceKey })
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

func (s *Server) sourceStatus(w http.ResponseWriter, r *http.Request) {
	tracker, ok := s.deps.Registry.Get(chi.URLParam(r, "key"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	writeJSON(w, http.StatusOK, tracker.Snapshot())
}

// startCrawl answers 202 once the run is claimed and queued. The outcome is
// observable through the source status.
func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	date := r.URL.Query().Get("date")
	runID, reply, err := s.deps.Crawler.Start(r.Context(), key, date)
	if err != nil {
		writeError(w, crawlStatusCode(err), err.Error())
		return
	}
	go s.awaitRun(runID, reply)
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID, "source": key, "status": "accepted"})
}

func (s *Server) awaitRun(runID string, reply <-chan crawler.RunResult) {
	res, ok := <-reply
	if !ok {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("source", res.SourceKey),
		zap.String("state", string(res.State)),
		zap.Int("articles", res.Articles),
	}
	if res.Err != nil {
		s.logger.Warn("submitted run failed", append(fields, zap.Error(res.Err))...)
		return
	}
	s.logger.Info("submitted run finished", fields...)
}

func crawlStatusCode(err error) int {
	switch {
	case errors.Is(err, crawler.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, crawler.ErrRunAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, crawler.ErrInvalidDate):
		return http.StatusBadRequest
	case errors.Is(err, queuememory.ErrQueueFull), errors.Is(err, crawler.ErrQueueClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) listJobs(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.deps.Jobs.Jobs()})
}

func (s *Server) triggerJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler disabled")
		return
	}
	id := chi.URLParam(r, "id")
	err := s.deps.Jobs.Trigger(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "triggered": true})
	case errors.Is(err, crawler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown job")
	case errors.Is(err, crawler.ErrRunAlreadyInProgress):
		writeError(w, http.StatusConflict, "job already running")
	case errors.Is(err, scheduler.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
