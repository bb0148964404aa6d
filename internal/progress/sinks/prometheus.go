package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/epaper-crawler/internal/progress"
)

// PrometheusSink exports run lifecycle metrics per source.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	pageArticles  *prometheus.CounterVec
	savedArticles *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_runs_started_total",
			Help: "Crawl runs started per source.",
		}, []string{"source"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_runs_completed_total",
			Help: "Crawl runs finished per source and result.",
		}, []string{"source", "result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epaper_runs_running",
			Help: "Crawl runs currently in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "epaper_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"source", "result"}),
		pageArticles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_page_articles_total",
			Help: "Candidates extracted from section pages.",
		}, []string{"source"}),
		savedArticles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "epaper_saved_articles_total",
			Help: "Articles persisted per source.",
		}, []string{"source"}),
		running: make(map[string]struct{}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.pageArticles,
		s.savedArticles,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates collectors from a batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			s.runsStarted.WithLabelValues(evt.Source).Inc()
			if s.track(evt.RunID, true) {
				s.runsRunning.Inc()
			}
		case progress.StageRunDone:
			s.finish(evt, "success")
		case progress.StageRunError:
			s.finish(evt, "error")
		case progress.StagePageDone:
			s.pageArticles.WithLabelValues(evt.Source).Add(float64(evt.Articles))
		case progress.StagePersisted:
			s.savedArticles.WithLabelValues(evt.Source).Add(float64(evt.Articles))
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(evt.Source, result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(evt.Source, result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.RunID, false) {
		s.runsRunning.Dec()
	}
}

// track records a run as started or finished and reports whether the
// running set changed.
func (s *PrometheusSink) track(runID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[runID]
	if start {
		s.running[runID] = struct{}{}
		return !ok
	}
	delete(s.running, runID)
	return ok
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
