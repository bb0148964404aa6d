// Package scheduler fires named jobs on cron schedules and on demand. Each
// job runs at most one instance at a time: a fire that lands while the job
// is still running is skipped, and missed fire times are never replayed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// Job is one schedulable unit of work.
type Job struct {
	ID   string
	Name string
	// Spec is a standard five-field cron expression or a descriptor such as "@daily".
	Spec string
	Run  func(ctx context.Context) error
}

// JobInfo describes a registered job for observability.
type JobInfo struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Spec    string    `json:"schedule"`
	Next    time.Time `json:"next_run_time"`
	Running bool      `json:"running"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	running atomic.Bool
}

// Scheduler owns the cron clock and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	parser cron.Parser

	mu   sync.RWMutex
	jobs map[string]*entry

	// manual tracks TriggerNow runs so Stop can drain them. stopped is
	// guarded by mu.
	manual  sync.WaitGroup
	stopped bool
	logger  *zap.Logger
}

// Option configures a Scheduler.
type Option func(*options)

type options struct {
	loc *time.Location
}

// WithLocation evaluates cron specs in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		o.loc = loc
	}
}

// New builds a stopped Scheduler.
func New(logger *zap.Logger, opts ...Option) *Scheduler {
	o := options{loc: time.Local}
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := NewCronLogger(logger)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(o.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)),
	)
	return &Scheduler{
		cron:   c,
		parser: parser,
		jobs:   make(map[string]*entry),
		logger: logger,
	}
}

// Add registers job. Specs are validated here.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if job.Run == nil {
		return fmt.Errorf("job %q: run func is required", job.ID)
	}
	if _, err := s.parser.Parse(job.Spec); err != nil {
		return fmt.Errorf("job %q: parse schedule %q: %w", job.ID, job.Spec, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[job.ID]; dup {
		return fmt.Errorf("job %q already registered", job.ID)
	}
	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Spec, func() { s.fire(e, "schedule") })
	if err != nil {
		return fmt.Errorf("job %q: schedule: %w", job.ID, err)
	}
	e.id = id
	s.jobs[job.ID] = e
	s.logger.Info("job scheduled", zap.String("job_id", job.ID), zap.String("schedule", job.Spec))
	return nil
}

// Start begins firing scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.Jobs())))
}

// ErrStopped is returned by Trigger once Stop has been called.
var ErrStopped = errors.New("scheduler stopped")

// Trigger runs job id immediately in the background. It fails with
// crawler.ErrUnknownJob, crawler.ErrRunAlreadyInProgress or ErrStopped
// without queuing anything.
func (s *Scheduler) Trigger(id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	switch {
	case !ok:
		return fmt.Errorf("job %q: %w", id, crawler.ErrUnknownJob)
	case s.stopped:
		return ErrStopped
	}
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Info("manual trigger skipped, job still running", zap.String("job_id", id))
		return fmt.Errorf("job %q: %w", id, crawler.ErrRunAlreadyInProgress)
	}
	s.manual.Add(1)
	go func() {
		defer s.manual.Done()
		s.execute(e, "manual")
	}()
	return nil
}

// TriggerNow is Trigger reporting only whether the job was started.
func (s *Scheduler) TriggerNow(id string) bool {
	return s.Trigger(id) == nil
}

// NextRunTimes maps every job id to its next scheduled fire time. Times are
// zero until Start has been called.
func (s *Scheduler) NextRunTimes() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]time.Time, len(s.jobs))
	for id, e := range s.jobs {
		out[id] = s.cron.Entry(e.id).Next
	}
	return out
}

// Jobs lists registered jobs ordered by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for id, e := range s.jobs {
		out = append(out, JobInfo{
			ID:      id,
			Name:    e.job.Name,
			Spec:    e.job.Spec,
			Next:    s.cron.Entry(e.id).Next,
			Running: e.running.Load(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop halts the cron clock and waits for in-flight jobs, scheduled or
// manual, to finish. It returns ctx's error if the drain outlives ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	cronDone := s.cron.Stop()
	drained := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.manual.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler drain: %w", ctx.Err())
	}
}

func (s *Scheduler) fire(e *entry, trigger string) {
	if !e.running.CompareAndSwap(false, true) {
		s.logger.Info("scheduled fire skipped, job still running", zap.String("job_id", e.job.ID))
		metrics.ObserveSchedulerRun(e.job.ID, "skipped")
		return
	}
	s.execute(e, trigger)
}

// execute runs a job whose running flag the caller has already set.
func (s *Scheduler) execute(e *entry, trigger string) {
	defer e.running.Store(false)
	logger := s.logger.With(zap.String("job_id", e.job.ID), zap.String("trigger", trigger))
	logger.Info("job started")
	started := time.Now()
	err := e.job.Run(context.Background())
	switch {
	case err == nil:
		metrics.ObserveSchedulerRun(e.job.ID, "ok")
		logger.Info("job finished", zap.Duration("took", time.Since(started)))
	case errors.Is(err, crawler.ErrRunAlreadyInProgress):
		metrics.ObserveSchedulerRun(e.job.ID, "skipped")
		logger.Info("job skipped", zap.Error(err))
	default:
		metrics.ObserveSchedulerRun(e.job.ID, "error")
		logger.Error("job failed", zap.Duration("took", time.Since(started)), zap.Error(err))
	}
}
