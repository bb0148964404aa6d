// Package app builds the long-lived services from configuration and owns
// their startup and shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/api"
	"github.com/JakeFAU/epaper-crawler/internal/cache"
	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/config"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/discovery"
	"github.com/JakeFAU/epaper-crawler/internal/dispatcher"
	"github.com/JakeFAU/epaper-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/epaper-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/epaper-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/epaper-crawler/internal/hash/sha256"
	"github.com/JakeFAU/epaper-crawler/internal/headless/detector"
	"github.com/JakeFAU/epaper-crawler/internal/id/uuid"
	"github.com/JakeFAU/epaper-crawler/internal/logging"
	"github.com/JakeFAU/epaper-crawler/internal/orchestrator"
	"github.com/JakeFAU/epaper-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/epaper-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/epaper-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/epaper-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/epaper-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/epaper-crawler/internal/queue/memory"
	"github.com/JakeFAU/epaper-crawler/internal/scheduler"
	"github.com/JakeFAU/epaper-crawler/internal/sources"
	"github.com/JakeFAU/epaper-crawler/internal/status"
	gcsstorage "github.com/JakeFAU/epaper-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/epaper-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/epaper-crawler/internal/storage/memory"
	mongostore "github.com/JakeFAU/epaper-crawler/internal/storage/mongo"
	pgstore "github.com/JakeFAU/epaper-crawler/internal/storage/postgres"
	"github.com/JakeFAU/epaper-crawler/internal/translate"
)

const (
	shutdownTimeout = 30 * time.Second
	headlessMargin  = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  *system.Clock

	registry     *status.Registry
	store        crawler.ArticleStore
	orchestrator *orchestrator.Orchestrator
	queue        *queuememory.Queue
	dispatch     *dispatcher.Dispatcher
	cache        *cache.Cache
	selection    *cache.Selection
	scheduler    *scheduler.Scheduler
	apiServer    *api.Server
	progressHub  *progress.Hub

	renderer  *headlessfetcher.Renderer
	publisher *gcppublisher.Publisher
	gcsBlobs  *gcsstorage.BlobStore
	pgStore   *pgstore.ArticleStore
	mongo     *mongostore.ArticleStore
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
}

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) {
		o.logger = logger
	}
}

// WithRegisterer registers the progress collectors against reg instead of
// the default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// Build creates every service described by cfg. On error the services
// built so far are closed.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	a := &App{cfg: cfg, logger: logger, clock: system.New()}
	a.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("cache_blob", cfg.Cache.Blob),
		zap.Strings("sources", cfg.Crawler.Sources),
	)
	if err := a.build(ctx, o.registerer); err != nil {
		if closeErr := a.Close(ctx); closeErr != nil {
			a.logger.Warn("close after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, reg prometheus.Registerer) error {
	srcs, err := a.setupSources()
	if err != nil {
		return err
	}
	if err := a.setupStore(ctx); err != nil {
		return err
	}
	blobs, err := a.setupBlobStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	if err := a.setupProgress(reg); err != nil {
		return err
	}

	gateway := a.setupFetcher()
	translator := a.setupTranslator()
	engine := discovery.New(gateway, discovery.Config{
		MaxSections:   a.cfg.Crawler.MaxSections,
		MaxItems:      a.cfg.Crawler.MaxItems,
		FailureCutoff: a.cfg.Crawler.FailureCutoff,
		MinTitleLen:   a.cfg.Crawler.MinTitleLen,
	}, a.logger.Named("discovery"))

	a.queue = queuememory.NewQueue(a.cfg.Crawler.QueueDepth)
	a.orchestrator, err = orchestrator.New(orchestrator.Deps{
		Sources:    srcs,
		Registry:   a.registry,
		Engine:     engine,
		Store:      a.store,
		Translator: translator,
		Publisher:  publisher,
		Events:     a.progressHub,
		IDs:        uuid.New(),
		Clock:      a.clock,
		Queue:      a.queue,
	}, orchestrator.Config{
		PoolWidth: a.cfg.Crawler.PoolWidth,
		Topic:     a.cfg.PubSub.TopicName,
		Location:  a.clock.Location(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}
	a.dispatch = dispatcher.New(a.queue, a.orchestrator, a.cfg.Crawler.Workers, a.logger)

	resolver := sources.NewBodyResolver(gateway, translator, a.clock, a.logger.Named("body"))
	cacheOpts := []cache.Option{cache.WithLogger(a.logger)}
	if blobs != nil {
		hasher := sha256.New()
		prefix := a.cfg.Cache.Prefix
		cacheOpts = append(cacheOpts, cache.WithBlobStore(blobs, func(link string) string {
			return hasher.ObjectPath(prefix, link)
		}))
	}
	a.cache = cache.New(resolver, cacheOpts...)
	a.selection = cache.NewSelection(a.cache, a.cfg.Crawler.PoolWidth, a.clock, a.logger)

	if err := a.setupScheduler(srcs); err != nil {
		return err
	}

	deps := api.Deps{
		Crawler:   a.orchestrator,
		Registry:  a.registry,
		Store:     a.store,
		Bodies:    a.cache,
		Selection: a.selection,
	}
	if a.scheduler != nil {
		deps.Jobs = a.scheduler
	}
	a.apiServer = api.NewServer(deps, a.cfg, a.logger)
	return nil
}

func (a *App) setupSources() ([]crawler.Source, error) {
	srcs := sources.All()
	if len(a.cfg.Crawler.Sources) > 0 {
		var err error
		srcs, err = sources.Select(a.cfg.Crawler.Sources)
		if err != nil {
			return nil, fmt.Errorf("crawler.sources: %w", err)
		}
	}
	keys := make([]string, 0, len(srcs))
	for _, src := range srcs {
		keys = append(keys, src.Key())
	}
	a.registry = status.NewRegistry(keys,
		status.WithClock(a.clock),
		status.WithLogger(a.logger.Named("status")),
	)
	return srcs, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Driver {
	case config.DriverPostgres:
		store, err := pgstore.NewArticleStore(ctx, pgstore.Config{
			DSN:      a.cfg.Store.DSN,
			Table:    a.cfg.Store.Table,
			MaxConns: int32(a.cfg.Store.MaxConns), //nolint:gosec // bounded by config validation
		}, a.clock, a.logger)
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.pgStore, a.store = store, store
		a.logger.Info("using postgres article store", zap.String("table", a.cfg.Store.Table))
	case config.DriverMongo:
		store, err := mongostore.Open(ctx, mongostore.Config{
			URI:        a.cfg.Store.DSN,
			Database:   a.cfg.Store.Database,
			Collection: a.cfg.Store.Collection,
		}, a.clock, a.logger)
		if err != nil {
			return fmt.Errorf("mongo store init failed: %w", err)
		}
		a.mongo, a.store = store, store
		a.logger.Info("using mongo article store",
			zap.String("database", a.cfg.Store.Database), zap.String("collection", a.cfg.Store.Collection))
	default:
		a.store = memorystorage.NewArticleStore(a.clock)
		a.logger.Info("using in-memory article store")
	}
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Cache.Blob {
	case "gcs":
		blobs, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Cache.GCSBucket}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.gcsBlobs = blobs
		a.logger.Info("caching bodies in GCS", zap.String("bucket", a.cfg.Cache.GCSBucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Cache.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("caching bodies on disk", zap.String("path", a.cfg.Cache.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("caching bodies in memory blob store")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Debug("body write-through disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, err
	}
	a.publisher = publisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	a.progressHub = progress.NewHub(progress.Config{Logger: a.logger.Named("progress_hub")},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	return nil
}

func (a *App) setupFetcher() *fetcher.Gateway {
	plain := collyfetcher.New(collyfetcher.Config{
		UserAgent:      a.cfg.Crawler.UserAgent,
		Timeout:        a.cfg.FetchTimeout(),
		MaxJSRedirects: a.cfg.HTTP.MaxJSRedirects,
		Politeness:     ratelimit.New(a.cfg.PolitenessDelay()),
	})
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", a.cfg.Crawler.UserAgent),
		zap.Duration("politeness", a.cfg.PolitenessDelay()),
	)

	navTimeout := time.Duration(a.cfg.Headless.NavTimeoutSeconds) * time.Second
	settle := time.Duration(a.cfg.Headless.SettleMs) * time.Millisecond
	var headless crawler.Fetcher = headlessfetcher.Disabled{}
	if a.cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: navTimeout,
			Settle:            settle,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, headless sources will fail their runs", zap.Error(err))
		} else {
			a.renderer, headless = renderer, renderer
			a.logger.Info("using headless fetcher", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}

	return fetcher.NewGateway(fetcher.Config{
		PlainTimeout:    a.cfg.FetchTimeout(),
		HeadlessTimeout: navTimeout + settle + headlessMargin,
	}, plain, headless, detector.NewHeuristic(a.cfg.Headless.PromotionThreshold, 0), a.logger.Named("gateway"))
}

func (a *App) setupTranslator() crawler.Translator {
	if a.cfg.Translate.Marker == "" {
		return translate.Identity{}
	}
	return translate.Prefix{Marker: a.cfg.Translate.Marker}
}

func (a *App) setupScheduler(srcs []crawler.Source) error {
	if !a.cfg.Schedule.Enabled {
		a.logger.Info("scheduler disabled")
		return nil
	}
	sched := scheduler.New(a.logger, scheduler.WithLocation(a.clock.Location()))
	for _, jc := range a.cfg.Schedule.Jobs {
		job := scheduler.Job{ID: jc.ID, Name: jc.Name, Spec: jc.Cron}
		switch jc.Action {
		case config.ActionCleanup:
			job.Run = scheduler.Cleanup(a.store, a.cfg.Retention.Days, a.logger.Named("cleanup"))
		default:
			keys := jc.Sources
			if len(keys) == 0 {
				for _, src := range srcs {
					keys = append(keys, src.Key())
				}
			}
			job.Run = scheduler.CrawlSources(a.orchestrator, keys, a.logger.Named("scheduled_crawl"))
		}
		if err := sched.Add(job); err != nil {
			return fmt.Errorf("schedule init failed: %w", err)
		}
	}
	a.scheduler = sched
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Crawl runs one source synchronously. An empty date means today's edition.
func (a *App) Crawl(ctx context.Context, key, date string) (crawler.RunResult, error) {
	res, err := a.orchestrator.Run(ctx, key, date)
	if err != nil {
		return res, fmt.Errorf("crawl %s: %w", key, err)
	}
	return res, nil
}

// Sweep deletes articles older than the configured retention.
func (a *App) Sweep(ctx context.Context) (int64, error) {
	deleted, err := a.store.RetentionSweep(ctx, a.cfg.Retention.Days)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	return deleted, nil
}

// Run serves HTTP, the worker pool and the schedule until ctx ends, then
// drains them. Infrastructure is released by Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Crawler.Workers))
		a.dispatch.Run(runCtx)
	}()

	if a.scheduler != nil {
		a.scheduler.Start()
		for id, next := range a.scheduler.NextRunTimes() {
			a.logger.Info("job scheduled", zap.String("job", id), zap.Time("next_run", next))
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-runCtx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		errs = append(errs, fmt.Errorf("dispatcher drain: %w", shutdownCtx.Err()))
	}
	select {
	case err := <-serveErr:
		errs = append(errs, fmt.Errorf("http serve: %w", err))
	default:
	}
	return errors.Join(errs...)
}

// Close releases infrastructure in reverse build order. It is safe on a
// partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.selection != nil {
		if err := a.selection.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsBlobs != nil {
		if err := a.gcsBlobs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			a.logger.Warn("mongo client close failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
