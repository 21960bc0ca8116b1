// Package server wires the application's dependencies and runs the process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/StamperDavid/prospect-intel/internal/api"
	"github.com/StamperDavid/prospect-intel/internal/clock/system"
	"github.com/StamperDavid/prospect-intel/internal/confidence"
	"github.com/StamperDavid/prospect-intel/internal/config"
	"github.com/StamperDavid/prospect-intel/internal/dispatcher"
	"github.com/StamperDavid/prospect-intel/internal/distill"
	collyfetcher "github.com/StamperDavid/prospect-intel/internal/fetcher/colly"
	headlessfetcher "github.com/StamperDavid/prospect-intel/internal/fetcher/headless"
	"github.com/StamperDavid/prospect-intel/internal/hash/sha256"
	"github.com/StamperDavid/prospect-intel/internal/id/uuid"
	"github.com/StamperDavid/prospect-intel/internal/logging"
	"github.com/StamperDavid/prospect-intel/internal/patterns"
	"github.com/StamperDavid/prospect-intel/internal/progress"
	progresssinks "github.com/StamperDavid/prospect-intel/internal/progress/sinks"
	memorypublisher "github.com/StamperDavid/prospect-intel/internal/publisher/memory"
	gcppublisher "github.com/StamperDavid/prospect-intel/internal/publisher/pubsub"
	"github.com/StamperDavid/prospect-intel/internal/queue"
	"github.com/StamperDavid/prospect-intel/internal/ratelimit"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
	gcsstorage "github.com/StamperDavid/prospect-intel/internal/storage/gcs"
	localstorage "github.com/StamperDavid/prospect-intel/internal/storage/local"
	memstore "github.com/StamperDavid/prospect-intel/internal/storage/memory"
	pgstore "github.com/StamperDavid/prospect-intel/internal/storage/postgres"
	"github.com/StamperDavid/prospect-intel/internal/training"
	"github.com/StamperDavid/prospect-intel/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	dispatch  *dispatcher.Dispatcher
	queue     *queue.Queue
	tracker   *progress.Tracker

	pubsubClient *pubsub.Client
	pubsubTopic  *pubsub.Topic
	gcsClient    *gcs.Client
	pgScrapes    *pgstore.ScrapeStore
	pgTraining   *pgstore.TrainingStore
	detachSinks  []func()
}

// BuildOptions overrides process-wide defaults, mainly for tests.
type BuildOptions struct {
	// Logger replaces the logger Build would otherwise construct from config.
	Logger *zap.Logger
	// Metrics replaces the default Prometheus registerer.
	Metrics prometheus.Registerer
}

// Build creates the application's dependencies from configuration.
func Build(ctx context.Context, cfg config.Config, opts BuildOptions) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New("prospect-intel", cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	app.queue = queue.New(cfg.Scraper.QueueDepth, clock)
	app.tracker = progress.NewTracker(logger.Named("progress"))
	app.detachSinks = append(
		app.detachSinks,
		progresssinks.NewLogSink(logger.Named("progress_log")).Attach(app.tracker),
	)
	promSink, err := progresssinks.NewPrometheusSink(opts.Metrics)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	app.detachSinks = append(app.detachSinks, promSink.Attach(app.tracker))

	blobs, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}

	scrapes, trainingStore, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	catalog, err := setupPatterns(app)
	if err != nil {
		return nil, err
	}

	trainingManager := training.NewManager(trainingStore, scrapes, ids, clock, training.ManagerConfig{
		FeedbackQuota:    cfg.Training.FeedbackQuota,
		QuotaWindow:      cfg.QuotaWindow(),
		MaxSourceTextLen: cfg.Training.MaxSourceTextLen,
		Clamp:            confidence.Clamp{Min: cfg.Training.ClampMin, Max: cfg.Training.ClampMax},
	}, logger.Named("training"))

	runner, err := setupRunner(app, runnerDeps{
		blobs:     blobs,
		scrapes:   scrapes,
		publisher: publisher,
		patterns:  catalog,
		hasher:    hasher,
		clock:     clock,
		ids:       ids,
	})
	if err != nil {
		return nil, err
	}

	app.dispatch = dispatcher.New(app.queue, runner, dispatcher.Config{
		Workers:       cfg.Scraper.Workers,
		MaxConcurrent: cfg.Scraper.MaxConcurrent,
	}, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(
		app.queue,
		app.tracker,
		trainingManager,
		ids,
		clock,
		cfg,
		logger.Named("api"),
	)
	return app, nil
}

// Run starts the dispatcher and HTTP server, blocking until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Scraper.Workers))
		a.dispatch.Run(ctx)
	}()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close()
}

// Close releases external clients and drains the queue.
func (a *App) Close() error {
	a.queue.Close()
	for _, detach := range a.detachSinks {
		detach()
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgScrapes != nil {
		a.pgScrapes.Close()
	}
	if a.pgTraining != nil {
		a.pgTraining.Close()
	}
	_ = a.logger.Sync()
	a.logger.Info("shutdown complete")
	return nil
}

type runnerDeps struct {
	blobs     scrape.BlobStore
	scrapes   scrape.ScrapeStore
	publisher scrape.Publisher
	patterns  worker.PatternSource
	hasher    scrape.Hasher
	clock     scrape.Clock
	ids       scrape.IDGenerator
}

func setupRunner(app *App, deps runnerDeps) (*worker.Runner, error) {
	cfg := app.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		RespectRobots: cfg.Fetch.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
	})
	app.logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.Fetch.UserAgent))

	var headless scrape.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		headless = f
		app.logger.Info("headless fetcher enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimitWindow(),
		MinDelay:    cfg.MinDelay(),
	}, deps.clock)
	handler := scrape.NewErrorHandler(cfg.Retry.MaxAttempts, cfg.RetryBaseDelay(), cfg.RetryMaxDelay())
	engine := distill.NewEngine(deps.clock, app.logger.Named("distill"))

	return worker.New(worker.Deps{
		Queue:           app.queue,
		Cache:           scrape.NewCache(cfg.CacheTTL(), deps.clock),
		Limiter:         limiter,
		ErrorHandler:    handler,
		Tracker:         app.tracker,
		Engine:          engine,
		Patterns:        deps.patterns,
		ProbeFetcher:    probe,
		HeadlessFetcher: headless,
		Scrapes:         deps.scrapes,
		Blobs:           deps.blobs,
		Publisher:       deps.publisher,
		Hasher:          deps.hasher,
		Clock:           deps.clock,
		IDs:             deps.ids,
	}, worker.Config{
		OrganizationID:  cfg.Scraper.OrganizationID,
		ContentType:     cfg.Storage.ContentType,
		BlobPrefix:      cfg.Storage.Prefix,
		Topic:           cfg.PubSub.TopicName,
		CacheTTL:        cfg.CacheTTL(),
		RetentionTTL:    cfg.RetentionTTL(),
		LeadScoreCap:    cfg.Scraper.LeadScoreCap,
		MinContentBytes: cfg.Scraper.MinContentBytes,
	}, app.logger.Named("worker"))
}

func setupStorage(ctx context.Context, app *App) (scrape.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return store, nil
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memstore.NewBlobStore(), nil
	}
}

func setupStores(ctx context.Context, app *App) (scrape.ScrapeStore, training.Store, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no database DSN configured, using in-memory stores")
		return memstore.NewScrapeStore(app.cfg.DedupHorizon()), memstore.NewTrainingStore(), nil
	}
	scrapes, err := pgstore.NewScrapeStore(ctx, pgstore.ScrapeStoreConfig{
		DSN:             app.cfg.DB.DSN,
		DedupHorizon:    app.cfg.DedupHorizon(),
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: app.cfg.MaxConnLifetime(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scrape store init failed: %w", err)
	}
	app.pgScrapes = scrapes
	trainingStore, err := pgstore.NewTrainingStore(ctx, pgstore.TrainingStoreConfig{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        int32(app.cfg.DB.MaxConns),
		MinConns:        int32(app.cfg.DB.MinConns),
		MaxConnLifetime: app.cfg.MaxConnLifetime(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("training store init failed: %w", err)
	}
	app.pgTraining = trainingStore
	app.logger.Info("postgres stores initialized")
	return scrapes, trainingStore, nil
}

func setupPublisher(ctx context.Context, app *App) (scrape.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubTopic = client.Topic(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubTopic), nil
}

func setupPatterns(app *App) (*patterns.Catalog, error) {
	if app.cfg.Patterns.Path == "" {
		app.logger.Info("using built-in pattern catalog")
		return patterns.DefaultCatalog(), nil
	}
	catalog, err := patterns.LoadCatalog(app.cfg.Patterns.Path)
	if err != nil {
		return nil, fmt.Errorf("pattern catalog load failed: %w", err)
	}
	app.logger.Info("pattern catalog loaded",
		zap.String("path", app.cfg.Patterns.Path),
		zap.Strings("industries", catalog.Industries()),
	)
	return catalog, nil
}
