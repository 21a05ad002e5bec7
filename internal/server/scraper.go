package server

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-gateway/internal/clock/system"
	"github.com/JakeFAU/catalog-gateway/internal/config"
	"github.com/JakeFAU/catalog-gateway/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/catalog-gateway/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-gateway/internal/hash/sha256"
	"github.com/JakeFAU/catalog-gateway/internal/id/uuid"
	"github.com/JakeFAU/catalog-gateway/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/catalog-gateway/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-gateway/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/catalog-gateway/internal/queue/memory"
	replaymemory "github.com/JakeFAU/catalog-gateway/internal/replay/memory"
	replayredis "github.com/JakeFAU/catalog-gateway/internal/replay/redis"
	"github.com/JakeFAU/catalog-gateway/internal/scrape"
	"github.com/JakeFAU/catalog-gateway/internal/scraperapi"
	"github.com/JakeFAU/catalog-gateway/internal/signing"
	gcsstorage "github.com/JakeFAU/catalog-gateway/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-gateway/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-gateway/internal/storage/memory"
	pgstore "github.com/JakeFAU/catalog-gateway/internal/storage/postgres"
	"github.com/JakeFAU/catalog-gateway/internal/worker"
)

// BuildScraper wires the internal scraper service.
func BuildScraper(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := newApp("scraper", cfg, logger)
	clock := system.New()

	blobStore, err := setupStorage(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	sink, err := setupPageSink(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	replay, ready, err := setupReplayGuard(ctx, app, clock)
	if err != nil {
		app.Close()
		return nil, err
	}

	jobStore := memorystorage.NewJobStore(clock)
	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	app.onClose("queue", func() error {
		queue.Close()
		return nil
	})
	dispatch := setupDispatcher(app, queue, jobStore, blobStore, sink, publisher, clock)
	app.background = append(app.background, dispatch.Run)

	verifier := signing.NewVerifier(signing.VerifierConfig{
		Secret:        cfg.Signing.Secret,
		Window:        cfg.SigningWindow(),
		BaseURL:       cfg.Scraper.BaseURL,
		MaxBodyBytes:  cfg.Signing.MaxBodyBytes,
		RequireBearer: cfg.Signing.RequireBearer,
	}, replay, logger.Named("signing"), signing.WithClock(clock))

	app.handler = scraperapi.NewServer(
		dispatch,
		jobStore,
		verifier,
		scraperapi.Options{RequestTimeout: cfg.RequestTimeout(), Ready: ready},
		logger.Named("scraperapi"),
	).Handler()
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (scrape.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose("gcs client", client.Close)
		blobStore, err := gcsstorage.New(ctx, client, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket, CheckBucket: true})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(app.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupPageSink(ctx context.Context, app *App) (scrape.PageSink, error) {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, page rows stay in the job store only")
		return nil, nil
	}
	pool, err := pgstore.NewPool(ctx, poolConfig(app.cfg))
	if err != nil {
		return nil, fmt.Errorf("page store init failed: %w", err)
	}
	app.onClose("postgres pool", func() error {
		pool.Close()
		return nil
	})
	sink, err := pgstore.NewPageStore(pool, app.cfg.DB.PageTable)
	if err != nil {
		return nil, fmt.Errorf("page store init failed: %w", err)
	}
	app.logger.Info("page store initialized", zap.String("table", app.cfg.DB.PageTable))
	return sink, nil
}

func setupPublisher(ctx context.Context, app *App) (scrape.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.NewLogging(app.logger), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.onClose("pubsub client", client.Close)
	publisher := gcppublisher.New(client)
	app.onClose("pubsub topics", func() error {
		publisher.Close()
		return nil
	})
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return publisher, nil
}

func setupReplayGuard(
	ctx context.Context,
	app *App,
	clock scrape.Clock,
) (signing.ReplayGuard, scraperapi.HealthChecker, error) {
	if app.cfg.Redis.Address == "" {
		app.logger.Warn("no Redis address configured, nonces are tracked per process")
		return replaymemory.NewGuard(clock), nil, nil
	}
	guard, err := replayredis.NewGuard(ctx, replayredis.Config{
		Address:   app.cfg.Redis.Address,
		Password:  app.cfg.Redis.Password,
		DB:        app.cfg.Redis.DB,
		PoolSize:  app.cfg.Redis.PoolSize,
		KeyPrefix: app.cfg.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("replay guard init failed: %w", err)
	}
	app.onClose("redis", guard.Close)
	app.logger.Info("redis replay guard initialized", zap.String("address", app.cfg.Redis.Address))
	return guard, guard, nil
}

func setupDispatcher(
	app *App,
	queue *queuememory.Queue,
	jobStore scrape.JobStore,
	blobStore scrape.BlobStore,
	sink scrape.PageSink,
	publisher scrape.Publisher,
	clock scrape.Clock,
) *dispatcher.Dispatcher {
	crawler := app.cfg.Crawler
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     crawler.UserAgent,
		RespectRobots: crawler.RespectRobots,
		Timeout:       app.cfg.FetchTimeout(),
		MaxBodyBytes:  int(crawler.MaxBodyBytes),
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   crawler.RateLimitRPS,
		DefaultBurst: crawler.RateLimitBurst,
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", crawler.UserAgent),
		zap.Float64("rate_limit_rps", crawler.RateLimitRPS),
		zap.Int("rate_limit_burst", crawler.RateLimitBurst),
	)

	workerCfg := worker.Config{
		ContentType:  app.cfg.Storage.ContentType,
		BlobPrefix:   app.cfg.Storage.Prefix,
		Topic:        app.cfg.PubSub.TopicName,
		MaxRetries:   crawler.MaxRetries,
		RetryBackoff: time.Duration(crawler.BackoffMs) * time.Millisecond,
		PageTimeout:  app.cfg.FetchTimeout(),
	}
	deps := worker.Deps{
		Queue:     queue,
		JobStore:  jobStore,
		BlobStore: blobStore,
		Publisher: publisher,
		Fetcher:   fetcher,
		Hasher:    sha256.New(),
		Clock:     clock,
		Limiter:   limiter,
		PageSink:  sink,
	}
	var workers []*worker.Worker
	for i := 0; i < crawler.Concurrency; i++ {
		workers = append(workers, worker.New(deps, workerCfg, app.logger.Named("worker").With(zap.Int("index", i))))
	}
	return dispatcher.New(queue, jobStore, uuid.New(), clock, workers, app.logger.Named("dispatcher"))
}

func poolConfig(cfg config.Config) pgstore.Config {
	return pgstore.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
	}
}
