// Package orchestrator owns the end-to-end crawl of one source for one
// edition date: it claims the source's tracker, drives discovery, fans page
// fetches out to a bounded pool, translates and persists the listings, and
// reports the outcome to the tracker, the progress hub and the publisher.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/discovery"
	"github.com/JakeFAU/epaper-crawler/internal/progress"
	"github.com/JakeFAU/epaper-crawler/internal/status"
	"github.com/JakeFAU/epaper-crawler/internal/translate"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultPoolWidth  = 5
	DefaultPreviewLen = 200
)

// Config tunes a run.
type Config struct {
	// PoolWidth bounds concurrent page fetches within one run.
	PoolWidth int
	// PreviewLen is the rune length of the stored content preview.
	PreviewLen int
	// Topic receives a crawler.RunNotice after every run. Empty disables publishing.
	Topic string
	// Location assigns today's date when a run is requested without one.
	Location *time.Location
}

// Deps are the collaborators of an Orchestrator. Translator, Publisher,
// Events and Queue are optional.
type Deps struct {
	Sources    []crawler.Source
	Registry   *status.Registry
	Engine     *discovery.Engine
	Store      crawler.ArticleStore
	Translator crawler.Translator
	Publisher  crawler.Publisher
	Events     progress.Emitter
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	Queue      crawler.Queue
}

// Orchestrator runs crawls. It implements worker.Executor so queued runs
// submitted through Start are executed by the dispatcher's workers.
type Orchestrator struct {
	sources    map[string]crawler.Source
	registry   *status.Registry
	engine     *discovery.Engine
	store      crawler.ArticleStore
	translator crawler.Translator
	publisher  crawler.Publisher
	events     progress.Emitter
	ids        crawler.IDGenerator
	clock      crawler.Clock
	queue      crawler.Queue
	cfg        Config
	logger     *zap.Logger
}

type locator interface {
	Location() *time.Location
}

// New validates deps and builds an Orchestrator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("orchestrator: status registry is required")
	case deps.Engine == nil:
		return nil, errors.New("orchestrator: discovery engine is required")
	case deps.Store == nil:
		return nil, errors.New("orchestrator: article store is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	}
	sources := make(map[string]crawler.Source, len(deps.Sources))
	for _, src := range deps.Sources {
		if _, ok := deps.Registry.Get(src.Key()); !ok {
			return nil, fmt.Errorf("orchestrator: no tracker for source %q", src.Key())
		}
		sources[src.Key()] = src
	}
	if deps.Translator == nil {
		deps.Translator = translate.Identity{}
	}
	if cfg.PoolWidth <= 0 {
		cfg.PoolWidth = DefaultPoolWidth
	}
	if cfg.PreviewLen <= 0 {
		cfg.PreviewLen = DefaultPreviewLen
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
		if l, ok := deps.Clock.(locator); ok {
			cfg.Location = l.Location()
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		sources:    sources,
		registry:   deps.Registry,
		engine:     deps.Engine,
		store:      deps.Store,
		translator: deps.Translator,
		publisher:  deps.Publisher,
		events:     deps.Events,
		ids:        deps.IDs,
		clock:      deps.Clock,
		queue:      deps.Queue,
		cfg:        cfg,
		logger:     logger.Named("orchestrator"),
	}, nil
}

// Sources returns the configured source keys.
func (o *Orchestrator) Sources() []string {
	keys := make([]string, 0, len(o.sources))
	for key := range o.sources {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Run crawls key for date synchronously. An empty date means today. When the
// source already has a run in progress it returns
// crawler.ErrRunAlreadyInProgress without side effects. A run-fatal error is
// recorded on the tracker and returned alongside the failed result.
func (o *Orchestrator) Run(ctx context.Context, key, date string) (crawler.RunResult, error) {
	item, tracker, err := o.claim(key, date)
	if err != nil {
		return crawler.RunResult{}, err
	}
	res := o.execute(ctx, tracker, item)
	return res, res.Err
}

// Start claims key's tracker and submits the run to the worker queue. The
// returned channel yields exactly one result and is then closed. A claim
// that cannot be queued is failed on the tracker.
func (o *Orchestrator) Start(ctx context.Context, key, date string) (string, <-chan crawler.RunResult, error) {
	if o.queue == nil {
		return "", nil, errors.New("orchestrator: no run queue configured")
	}
	item, tracker, err := o.claim(key, date)
	if err != nil {
		return "", nil, err
	}
	reply := make(chan crawler.RunResult, 1)
	item.Reply = reply
	if err := o.queue.Enqueue(ctx, item); err != nil {
		cause := fmt.Errorf("submit run: %w", err)
		o.fail(ctx, tracker, item, o.clock.Now(), 0, cause)
		return "", nil, cause
	}
	o.logger.Info("run queued", zap.String("run_id", item.RunID), zap.String("source", key), zap.String("date", item.Date))
	return item.RunID, reply, nil
}

// Execute runs a claimed queue item.
func (o *Orchestrator) Execute(ctx context.Context, item crawler.QueueItem) crawler.RunResult {
	tracker, ok := o.registry.Get(item.SourceKey)
	if !ok {
		return crawler.RunResult{
			RunID:     item.RunID,
			SourceKey: item.SourceKey,
			Date:      item.Date,
			State:     crawler.RunStateFailed,
			Err:       fmt.Errorf("source %q: %w", item.SourceKey, crawler.ErrUnknownSource),
		}
	}
	return o.execute(ctx, tracker, item)
}

// Abandon fails a claimed run that will never execute.
func (o *Orchestrator) Abandon(item crawler.QueueItem, reason error) crawler.RunResult {
	tracker, ok := o.registry.Get(item.SourceKey)
	if !ok {
		return crawler.RunResult{RunID: item.RunID, SourceKey: item.SourceKey, State: crawler.RunStateFailed, Err: reason}
	}
	now := o.clock.Now()
	return o.fail(context.Background(), tracker, item, now, 0, fmt.Errorf("run abandoned: %w", reason))
}

func (o *Orchestrator) claim(key, date string) (crawler.QueueItem, *status.Tracker, error) {
	if _, ok := o.sources[key]; !ok {
		return crawler.QueueItem{}, nil, fmt.Errorf("source %q: %w", key, crawler.ErrUnknownSource)
	}
	tracker, ok := o.registry.Get(key)
	if !ok {
		return crawler.QueueItem{}, nil, fmt.Errorf("source %q: %w", key, crawler.ErrUnknownSource)
	}
	day, err := o.editionDate(date)
	if err != nil {
		return crawler.QueueItem{}, nil, err
	}
	runID, err := o.ids.NewID()
	if err != nil {
		return crawler.QueueItem{}, nil, err
	}
	if err := tracker.StartRun(runID); err != nil {
		return crawler.QueueItem{}, nil, fmt.Errorf("source %q: %w", key, err)
	}
	return crawler.QueueItem{
		RunID:     runID,
		SourceKey: key,
		Date:      day.Format(crawler.DateLayout),
		Submitted: o.clock.Now().UnixNano(),
	}, tracker, nil
}

func (o *Orchestrator) editionDate(date string) (time.Time, error) {
	if date == "" {
		now := o.clock.Now().In(o.cfg.Location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.cfg.Location), nil
	}
	day, err := time.ParseInLocation(crawler.DateLayout, date, o.cfg.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", date, crawler.ErrInvalidDate)
	}
	return day, nil
}

func (o *Orchestrator) execute(ctx context.Context, tracker *status.Tracker, item crawler.QueueItem) (res crawler.RunResult) {
	started := o.clock.Now()
	src := o.sources[item.SourceKey]
	day, _ := time.ParseInLocation(crawler.DateLayout, item.Date, o.cfg.Location)

	tracker.AddLog(fmt.Sprintf("Starting crawl of %s for %s", src.Name(), item.Date))
	o.emit(progress.Event{RunID: item.RunID, TS: started, Stage: progress.StageRunStart, Source: item.SourceKey})

	saved := 0
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("run panicked", zap.String("run_id", item.RunID), zap.Any("panic", r))
			res = o.fail(ctx, tracker, item, started, saved, fmt.Errorf("run panicked: %v", r))
		}
	}()

	upsert, err := o.crawl(ctx, tracker, src, item, day)
	saved = upsert.Saved
	if err != nil {
		return o.fail(ctx, tracker, item, started, saved, err)
	}
	if err := tracker.FinishRun(upsert.Saved); err != nil {
		o.logger.Error("finish run", zap.String("run_id", item.RunID), zap.Error(err))
	}
	finished := o.clock.Now()
	o.emit(progress.Event{
		RunID:    item.RunID,
		TS:       finished,
		Stage:    progress.StageRunDone,
		Source:   item.SourceKey,
		Articles: upsert.Saved,
		Errors:   upsert.Errors,
		Dur:      finished.Sub(started),
	})
	res = crawler.RunResult{
		RunID:     item.RunID,
		SourceKey: item.SourceKey,
		Date:      item.Date,
		State:     crawler.RunStateCompleted,
		Articles:  upsert.Saved,
		Errors:    upsert.Errors,
		Started:   started,
		Finished:  finished,
	}
	o.notify(ctx, res)
	return res
}

func (o *Orchestrator) fail(
	ctx context.Context,
	tracker *status.Tracker,
	item crawler.QueueItem,
	started time.Time,
	saved int,
	cause error,
) crawler.RunResult {
	if err := tracker.FailRun(cause); err != nil {
		o.logger.Error("fail run", zap.String("run_id", item.RunID), zap.Error(err))
	}
	finished := o.clock.Now()
	o.emit(progress.Event{
		RunID:    item.RunID,
		TS:       finished,
		Stage:    progress.StageRunError,
		Source:   item.SourceKey,
		Articles: saved,
		Dur:      max(finished.Sub(started), 0),
		Note:     cause.Error(),
	})
	res := crawler.RunResult{
		RunID:     item.RunID,
		SourceKey: item.SourceKey,
		Date:      item.Date,
		State:     crawler.RunStateFailed,
		Articles:  saved,
		Started:   started,
		Finished:  finished,
		Err:       cause,
	}
	o.notify(ctx, res)
	return res
}

func (o *Orchestrator) crawl(
	ctx context.Context,
	tracker *status.Tracker,
	src crawler.Source,
	item crawler.QueueItem,
	day time.Time,
) (crawler.UpsertResult, error) {
	candidates, err := o.discover(ctx, tracker, src, item, day)
	if err != nil {
		return crawler.UpsertResult{}, err
	}
	listings := o.prepare(ctx, tracker, src, candidates)
	tracker.AddLog(fmt.Sprintf("Saving %d articles", len(listings)))
	upsert, err := o.store.UpsertListing(ctx, listings, item.SourceKey, item.Date)
	if err != nil {
		return upsert, fmt.Errorf("persist listings: %w", err)
	}
	if upsert.Errors > 0 {
		tracker.AddLog(fmt.Sprintf("%d articles could not be saved", upsert.Errors))
	}
	o.emit(progress.Event{
		RunID:    item.RunID,
		TS:       o.clock.Now(),
		Stage:    progress.StagePersisted,
		Source:   item.SourceKey,
		Articles: upsert.Saved,
		Errors:   upsert.Errors,
	})
	return upsert, nil
}

func (o *Orchestrator) discover(
	ctx context.Context,
	tracker *status.Tracker,
	src crawler.Source,
	item crawler.QueueItem,
	day time.Time,
) ([]crawler.Candidate, error) {
	switch s := src.(type) {
	case crawler.IndexSource:
		return o.collectIndex(ctx, tracker, s, item, day)
	case crawler.SlotSource:
		tracker.AddLog("Probing article slots section by section")
		cands, err := o.engine.Probe(ctx, s, day, tracker)
		if errors.Is(err, crawler.ErrNoEdition) {
			tracker.AddLog(fmt.Sprintf("No edition published for %s", item.Date))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", s.Key(), err)
		}
		return cands, nil
	default:
		return nil, fmt.Errorf("source %q has no discovery strategy", src.Key())
	}
}

// collectIndex fetches every section page of a static-index edition through
// a bounded pool. A page that fails to load contributes no candidates.
func (o *Orchestrator) collectIndex(
	ctx context.Context,
	tracker *status.Tracker,
	src crawler.IndexSource,
	item crawler.QueueItem,
	day time.Time,
) ([]crawler.Candidate, error) {
	pages, err := o.engine.Pages(ctx, src, day)
	if errors.Is(err, crawler.ErrNoEdition) {
		tracker.AddLog(fmt.Sprintf("No edition published for %s", item.Date))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tracker.AddLog(fmt.Sprintf("Found %d pages", len(pages)))
	if len(pages) == 0 {
		return nil, nil
	}

	results := make([][]crawler.Candidate, len(pages))
	var done atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.cfg.PoolWidth)
	for i, page := range pages {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("page %s panicked: %v", page.Section, r)
				}
			}()
			pageStart := o.clock.Now()
			cands, err := o.engine.CollectPage(ctx, src, page, day)
			if err != nil {
				tracker.AddLog(fmt.Sprintf("Error fetching page %s: %v", page.Section, err))
				o.logger.Warn("page fetch failed",
					zap.String("run_id", item.RunID), zap.String("url", page.URL), zap.Error(err))
			} else {
				tracker.AddLog(fmt.Sprintf("Page %s: found %d articles", page.Section, len(cands)))
			}
			results[i] = cands
			n := done.Add(1)
			tracker.SetProgress(int(n) * discovery.ProbeProgressShare / len(pages))
			o.emit(progress.Event{
				RunID:    item.RunID,
				TS:       o.clock.Now(),
				Stage:    progress.StagePageDone,
				Source:   item.SourceKey,
				Section:  page.Section,
				URL:      page.URL,
				Articles: len(cands),
				Dur:      max(o.clock.Now().Sub(pageStart), 0),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []crawler.Candidate
	for _, cands := range results {
		all = append(all, cands...)
	}
	return all, nil
}

// prepare deduplicates candidates by link, orders them by section label,
// translates titles and trims previews.
func (o *Orchestrator) prepare(
	ctx context.Context,
	tracker *status.Tracker,
	src crawler.Source,
	candidates []crawler.Candidate,
) []crawler.Listing {
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]crawler.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Link == "" {
			continue
		}
		key := crawler.LinkKey(c.Link)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, c)
	}
	slices.SortStableFunc(unique, func(a, b crawler.Candidate) int {
		return strings.Compare(a.Section, b.Section)
	})
	if len(unique) > 0 {
		tracker.AddLog(fmt.Sprintf("Translating %d titles", len(unique)))
	}

	out := make([]crawler.Listing, 0, len(unique))
	for _, c := range unique {
		translated, err := o.translator.Translate(ctx, c.Title)
		if err != nil {
			o.logger.Debug("title translation failed", zap.String("link", c.Link), zap.Error(err))
			translated = c.Title
		}
		out = append(out, crawler.Listing{
			Source:          src.Name(),
			Section:         c.Section,
			Title:           c.Title,
			TranslatedTitle: translated,
			Link:            c.Link,
			ContentPreview:  preview(c.Preview, o.cfg.PreviewLen),
		})
	}
	return out
}

func preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func (o *Orchestrator) emit(evt progress.Event) {
	if o.events == nil {
		return
	}
	o.events.Emit(evt)
}

// notify publishes the run outcome. Publish failures are logged only.
func (o *Orchestrator) notify(ctx context.Context, res crawler.RunResult) {
	if o.publisher == nil || o.cfg.Topic == "" {
		return
	}
	notice := crawler.RunNotice{
		RunID:     res.RunID,
		SourceKey: res.SourceKey,
		Date:      res.Date,
		State:     res.State,
		Articles:  res.Articles,
		Errors:    res.Errors,
		Finished:  res.Finished,
	}
	if res.Err != nil {
		notice.Error = res.Err.Error()
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.Topic, notice); err != nil {
		o.logger.Warn("publish run notice", zap.String("run_id", res.RunID), zap.Error(err))
	}
}
