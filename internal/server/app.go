// Package server provides the composition root that builds and runs the service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/adsnap/internal/ads"
	"github.com/JakeFAU/adsnap/internal/api"
	"github.com/JakeFAU/adsnap/internal/archive"
	"github.com/JakeFAU/adsnap/internal/assembler"
	"github.com/JakeFAU/adsnap/internal/clock/system"
	"github.com/JakeFAU/adsnap/internal/config"
	"github.com/JakeFAU/adsnap/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/adsnap/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/adsnap/internal/fetcher/headless"
	"github.com/JakeFAU/adsnap/internal/hash/sha256"
	"github.com/JakeFAU/adsnap/internal/id/uuid"
	"github.com/JakeFAU/adsnap/internal/logging"
	"github.com/JakeFAU/adsnap/internal/metrics"
	"github.com/JakeFAU/adsnap/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/adsnap/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/adsnap/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/adsnap/internal/queue/memory"
	"github.com/JakeFAU/adsnap/internal/service"
	boltstore "github.com/JakeFAU/adsnap/internal/storage/bolt"
	gcsstorage "github.com/JakeFAU/adsnap/internal/storage/gcs"
	localstorage "github.com/JakeFAU/adsnap/internal/storage/local"
	memoryStorage "github.com/JakeFAU/adsnap/internal/storage/memory"
	pgstore "github.com/JakeFAU/adsnap/internal/storage/postgres"
	redisstore "github.com/JakeFAU/adsnap/internal/storage/redis"
	"github.com/JakeFAU/adsnap/internal/telemetry"
	"github.com/JakeFAU/adsnap/internal/warmer"
	"github.com/JakeFAU/adsnap/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           ads.Clock
	apiServer       *api.Server
	svc             *service.Service
	dispatch        *dispatcher.Dispatcher
	queue           *queueMemory.Queue
	warmer          *warmer.Warmer
	cacheStore      ads.CacheStore
	assembler       *assembler.Assembler
	filler          *worker.Worker
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	pgStore         *pgstore.CacheStore
	boltStore       *boltstore.CacheStore
	redisClient     *goredis.Client
	tracerShutdown  func(context.Context) error
}

// WarmReport summarises a synchronous warm of one week.
type WarmReport struct {
	WeekEnd string
	State   ads.CacheState
	Fill    *worker.FillResult
	Done    int
	Total   int
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		CacheBackend   string `json:"cache_backend"`
		Retailers      int    `json:"retailers"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		CacheBackend:   cfg.Cache.Backend,
		Retailers:      len(cfg.Retailers),
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Handler returns the HTTP handler tree.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Fill.Workers))
		a.dispatch.Run(ctx)
	}()

	if a.warmer != nil {
		a.warmer.Start()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.warmer != nil {
		if err := a.warmer.Stop(shutdownCtx); err != nil {
			a.logger.Warn("warmer stop failed", zap.Error(err))
		}
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("fill workers still running at shutdown deadline")
	}

	return a.Close(shutdownCtx)
}

// Warm resolves and fills one week synchronously, bypassing the background pool.
// An empty week means the most recent Saturday.
func (a *App) Warm(ctx context.Context, rawWeek string) (WarmReport, error) {
	syncSvc, err := service.New(a.cacheStore, a.assembler, nil, a.clock, a.logger)
	if err != nil {
		return WarmReport{}, fmt.Errorf("warm service init failed: %w", err)
	}
	weekEnd, err := syncSvc.ResolveWeekKey(rawWeek)
	if err != nil {
		return WarmReport{}, err
	}
	key := ads.WeekKey(weekEnd)

	result, err := syncSvc.WeeklyAds(ctx, weekEnd)
	if err != nil {
		return WarmReport{}, err
	}
	report := WarmReport{WeekEnd: key, State: result.State}
	if result.Complete() {
		report.Done, report.Total = ads.Progress(result.Data)
		return report, nil
	}

	rec, err := a.cacheStore.Get(ctx, key)
	if err != nil {
		return report, fmt.Errorf("reload weekly record %s: %w", key, err)
	}
	fill := a.filler.Fill(ctx, key, rec.Data)
	report.Fill = &fill

	rec, err = a.cacheStore.Get(ctx, key)
	if err != nil {
		return report, fmt.Errorf("reload weekly record %s: %w", key, err)
	}
	report.Done, report.Total = ads.Progress(rec.Data)
	return report, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.boltStore != nil {
		if err := a.boltStore.Close(); err != nil {
			a.logger.Warn("bolt store close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := logging.Sync(a.logger); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger creates the application's dependencies around an existing logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	metrics.Init()
	if cfg.Tracing.Enabled {
		tp, tpErr := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName)
		if tpErr != nil {
			return nil, fmt.Errorf("tracer init failed: %w", tpErr)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.cacheStore, err = setupCache(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	resolver, err := setupResolver(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.assembler, err = assembler.New(assembler.Config{
		Retailers:  cfg.Retailers,
		WindowDays: cfg.Archive.WindowDays,
	}, resolver, app.clock, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("assembler init failed: %w", err)
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	renderer, err := setupRenderer(app)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Fill.QueueDepth)
	app.dispatch, app.filler = setupDispatcher(app, blobStore, renderer, publisher)

	app.svc, err = service.New(app.cacheStore, app.assembler, app.dispatch, app.clock, logger)
	if err != nil {
		app.closeInfrastructure()
		return nil, fmt.Errorf("service init failed: %w", err)
	}

	if cfg.Warmer.Enabled {
		app.warmer, err = warmer.New(warmer.Config{
			Schedule: cfg.Warmer.Schedule,
			Timeout:  cfg.RequestTimeout(),
		}, app.svc, app.clock, logger)
		if err != nil {
			app.closeInfrastructure()
			return nil, fmt.Errorf("warmer init failed: %w", err)
		}
	}

	app.apiServer = api.NewServer(app.svc, sha256.New(), *cfg, logger)
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (ads.BlobStore, error) {
	var blobStore ads.BlobStore
	var err error
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend")
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:        app.cfg.Storage.Bucket,
			PublicBaseURL: app.cfg.Storage.PublicBaseURL,
			CacheControl:  app.cfg.Storage.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
	case config.BackendLocal:
		app.logger.Info("using local storage backend")
		blobStore, err = localstorage.New(localstorage.Config{
			BaseDir:       app.cfg.Storage.Local.BaseDir,
			PublicBaseURL: app.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore = memoryStorage.NewBlobStore(app.cfg.Storage.PublicBaseURL)
	}
	return blobStore, nil
}

func setupCache(ctx context.Context, app *App) (ads.CacheStore, error) {
	switch app.cfg.Cache.Backend {
	case config.BackendPostgres:
		store, err := pgstore.NewCacheStore(ctx, pgstore.Config{
			DSN:      app.cfg.Cache.Postgres.DSN,
			Table:    app.cfg.Cache.Postgres.Table,
			MaxConns: app.cfg.Cache.Postgres.MaxConns,
			MinConns: app.cfg.Cache.Postgres.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres cache store init failed: %w", err)
		}
		app.pgStore = store
		app.logger.Info("using postgres cache backend", zap.String("table", app.cfg.Cache.Postgres.Table))
		return store, nil
	case config.BackendBolt:
		store, err := boltstore.NewCacheStore(boltstore.Config{Path: app.cfg.Cache.Bolt.Path})
		if err != nil {
			return nil, fmt.Errorf("bolt cache store init failed: %w", err)
		}
		app.boltStore = store
		app.logger.Info("using bolt cache backend", zap.String("path", app.cfg.Cache.Bolt.Path))
		return store, nil
	default:
		app.logger.Warn("using in-memory cache backend, weekly records are lost on restart")
		return memoryStorage.NewCacheStore(), nil
	}
}

func setupResolver(app *App) (ads.Resolver, error) {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: app.cfg.Archive.UserAgent,
		Timeout:   app.cfg.ArchiveTimeout(),
	})
	limiter := ratelimit.New(ratelimit.Config{
		RatePerSecond: app.cfg.Archive.RatePerSecond,
		Burst:         app.cfg.Archive.Burst,
	})
	app.logger.Info("archive resolver configured",
		zap.String("index_url", app.cfg.Archive.IndexURL),
		zap.Float64("rate_per_second", app.cfg.Archive.RatePerSecond),
		zap.Int("burst", app.cfg.Archive.Burst),
	)
	resolver, err := archive.NewResolver(archive.Config{
		IndexURL:       app.cfg.Archive.IndexURL,
		CaptureHost:    app.cfg.Archive.CaptureHost,
		ResultLimit:    app.cfg.Archive.ResultLimit,
		WideWindowDays: app.cfg.Archive.WideWindowDays,
	}, fetcher, limiter, app.logger)
	if err != nil {
		return nil, fmt.Errorf("archive resolver init failed: %w", err)
	}

	memo, err := setupMemo(app)
	if err != nil {
		return nil, err
	}
	return archive.NewMemoized(resolver, memo, app.logger), nil
}

func setupMemo(app *App) (ads.Memo, error) {
	if !app.cfg.Memo.Enabled {
		return nil, nil
	}
	if app.cfg.Memo.Backend != config.BackendRedis {
		app.logger.Info("using in-memory resolver memo", zap.Duration("ttl", app.cfg.MemoTTL()))
		return memoryStorage.NewMemo(app.cfg.MemoTTL()), nil
	}
	client, err := redisstore.NewClient(redisstore.Config{
		Address:  app.cfg.Memo.Redis.Address,
		Password: app.cfg.Memo.Redis.Password,
		DB:       app.cfg.Memo.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis client init failed: %w", err)
	}
	app.redisClient = client
	memo, err := redisstore.NewMemo(client, app.cfg.MemoTTL())
	if err != nil {
		return nil, fmt.Errorf("redis memo init failed: %w", err)
	}
	app.logger.Info("using redis resolver memo",
		zap.String("address", app.cfg.Memo.Redis.Address),
		zap.Duration("ttl", app.cfg.MemoTTL()),
	)
	return memo, nil
}

func setupPublisher(ctx context.Context, app *App) (ads.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	if err = gcppublisher.VerifyTopic(ctx, app.pubsubClient, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName); err != nil {
		return nil, err
	}
	app.pubsubPublisher, err = gcppublisher.NewForTopic(app.pubsubClient, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupRenderer(app *App) (ads.Renderer, error) {
	if !app.cfg.Headless.Enabled {
		app.logger.Warn("headless rendering disabled, screenshots will stay unfilled")
		return headlessfetcher.NewNoop(), nil
	}
	renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		ExecPath:          app.cfg.Headless.ExecPath,
		NoSandbox:         app.cfg.Headless.NoSandbox,
		UserAgent:         app.cfg.Headless.UserAgent,
		MaxParallel:       app.cfg.Headless.BatchSize,
		NavigationTimeout: app.cfg.NavigationTimeout(),
		Settle:            app.cfg.Settle(),
		ViewportWidth:     app.cfg.Headless.ViewportWidth,
		ViewportHeight:    app.cfg.Headless.ViewportHeight,
		ClipWidth:         app.cfg.Headless.ClipWidth,
		ClipHeight:        app.cfg.Headless.ClipHeight,
	}, app.logger)
	if err != nil {
		return nil, fmt.Errorf("headless renderer init failed: %w", err)
	}
	app.logger.Info("using headless renderer", zap.Int("batch_size", app.cfg.Headless.BatchSize))
	return renderer, nil
}

func setupDispatcher(
	app *App,
	blobStore ads.BlobStore,
	renderer ads.Renderer,
	publisher ads.Publisher,
) (*dispatcher.Dispatcher, *worker.Worker) {
	idGen := uuid.NewUUIDGenerator()
	workerCfg := worker.Config{
		BatchSize:   app.cfg.Headless.BatchSize,
		BlobPrefix:  app.cfg.Storage.Prefix,
		Topic:       app.cfg.PubSub.TopicName,
		FillTimeout: app.cfg.FillTimeout(),
	}
	app.logger.Info("worker config",
		zap.Int("batch_size", workerCfg.BatchSize),
		zap.String("blob_prefix", workerCfg.BlobPrefix),
		zap.String("topic", workerCfg.Topic),
		zap.Duration("fill_timeout", workerCfg.FillTimeout),
	)

	runners := make([]dispatcher.Runner, 0, app.cfg.Fill.Workers)
	for i := 0; i < app.cfg.Fill.Workers; i++ {
		runners = append(runners, worker.New(
			app.queue,
			app.cacheStore,
			blobStore,
			renderer,
			publisher,
			idGen,
			app.clock,
			workerCfg,
			app.logger.With(zap.Int("index", i)),
		))
	}
	filler := worker.New(nil, app.cacheStore, blobStore, renderer, publisher, idGen, app.clock, workerCfg, app.logger)
	return dispatcher.New(app.queue, runners, app.logger), filler
}
