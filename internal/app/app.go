// Package app initializes and holds the long-lived services of the harvester,
// acting as the dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/api"
	"github.com/mpharvest/mpharvest/internal/clock/system"
	"github.com/mpharvest/mpharvest/internal/config"
	"github.com/mpharvest/mpharvest/internal/content"
	"github.com/mpharvest/mpharvest/internal/coordinator"
	"github.com/mpharvest/mpharvest/internal/crawl"
	mongostore "github.com/mpharvest/mpharvest/internal/docstore/mongo"
	collyfetcher "github.com/mpharvest/mpharvest/internal/fetcher/colly"
	"github.com/mpharvest/mpharvest/internal/fetcher/headless"
	"github.com/mpharvest/mpharvest/internal/hash/sha256"
	"github.com/mpharvest/mpharvest/internal/headless/detector"
	uuidgen "github.com/mpharvest/mpharvest/internal/id/uuid"
	"github.com/mpharvest/mpharvest/internal/listing"
	"github.com/mpharvest/mpharvest/internal/logging"
	"github.com/mpharvest/mpharvest/internal/pipeline"
	"github.com/mpharvest/mpharvest/internal/policy/ratelimit"
	"github.com/mpharvest/mpharvest/internal/progress"
	"github.com/mpharvest/mpharvest/internal/progress/sinks"
	pubsubpublisher "github.com/mpharvest/mpharvest/internal/publisher/pubsub"
	"github.com/mpharvest/mpharvest/internal/searchindex/elastic"
	"github.com/mpharvest/mpharvest/internal/storage/gcs"
	"github.com/mpharvest/mpharvest/internal/storage/local"
	"github.com/mpharvest/mpharvest/internal/storage/memory"
	"github.com/mpharvest/mpharvest/internal/storage/postgres"
	"github.com/mpharvest/mpharvest/internal/store"
)

// App owns every long-lived service: stores, fetchers, the progress hub, the
// coordinator, and the HTTP server. Build it once at startup and tear it down
// with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	docs      *mongostore.Store
	search    *elastic.Index
	runStore  *postgres.RunStore
	publisher *pubsubpublisher.Publisher
	psClient  *pubsub.Client
	gcsClient *gcsclient.Client
	browser   *headless.Fetcher

	hub    *progress.Hub
	coord  *coordinator.Coordinator
	server *api.Server
}

// Build wires every service from configuration, failing fast when a required
// backend cannot be reached.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	a := &App{cfg: cfg, logger: logger}
	if err := a.initServices(ctx); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) initServices(ctx context.Context) error {
	cfg := a.cfg
	logger := a.logger

	if cfg.Mongo.URI == "" {
		return fmt.Errorf("mongo.uri is required")
	}
	docs, err := mongostore.NewStore(ctx, mongostore.Config{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	}, logger)
	if err != nil {
		return fmt.Errorf("init document store: %w", err)
	}
	a.docs = docs

	var searchIndex crawl.SearchIndex
	if len(cfg.Elasticsearch.Addresses) > 0 {
		index, err := elastic.NewIndex(ctx, elastic.Config{
			Addresses: cfg.Elasticsearch.Addresses,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
			Index:     cfg.Elasticsearch.Index,
		}, logger)
		if err != nil {
			return fmt.Errorf("init search index: %w", err)
		}
		a.search = index
		searchIndex = index
	} else {
		logger.Info("elasticsearch not configured, search disabled")
	}

	var runRepo store.RunRepository
	if cfg.Database.DSN != "" {
		runStore, err := newRunStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("init run store: %w", err)
		}
		a.runStore = runStore
		runRepo = runStore
	} else {
		logger.Info("database not configured, run history disabled")
	}

	snapshots, err := a.initSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("init snapshot store: %w", err)
	}

	var publisher crawl.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub client: %w", err)
		}
		a.psClient = client
		a.publisher = pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
		publisher = a.publisher
	} else {
		logger.Info("pubsub not configured, article announcements disabled")
	}

	events := api.NewEventStream(logger)

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{sinks.NewLogSink(logger), promSink, events}
	if runRepo != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(runRepo, logger))
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, hubSinks...)

	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.WeChat.UserAgent,
		Timeout:   cfg.FetchBudget(),
	})

	var browserFetcher crawl.Fetcher
	if cfg.Headless.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.WeChat.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.browser = browser
		browserFetcher = browser
	} else {
		browserFetcher = headless.NewNoop()
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.RPS,
		DefaultBurst: cfg.RateLimit.Burst,
	}, logger)

	listClient := listing.NewClient(listing.Config{
		BaseURL: cfg.WeChat.BaseURL,
		Token:   cfg.WeChat.Token,
		Cookie:  cfg.WeChat.Cookie,
	}, probe, logger)

	completer := content.New(content.Config{
		SnapshotPrefix:      cfg.Storage.Prefix,
		SnapshotContentType: cfg.Storage.ContentType,
		RequestTimeout:      cfg.FetchBudget(),
	}, probe, browserFetcher, detector.NewHeuristic(cfg.Headless.PromotionThresh),
		snapshots, sha256.New(), system.New(), logger)

	stages := []pipeline.Stage{
		pipeline.NewValidate(),
		pipeline.NewClean(),
		pipeline.NewStore(docs),
	}
	if searchIndex != nil {
		stages = append(stages, pipeline.NewIndex(searchIndex, logger))
	}
	stages = append(stages, pipeline.NewAnnounce(publisher, cfg.PubSub.TopicName, logger))
	pipe := pipeline.New(logger, stages...)

	a.coord = coordinator.New(coordinator.Config{
		SourceURL: cfg.WeChat.BaseURL,
		Workers:   cfg.Crawler.Workers,
	}, listClient, completer, pipe, a.hub, limiter, uuidgen.New(), system.New(), logger)

	var runs *api.RunHandler
	if runRepo != nil {
		runs = api.NewRunHandler(runRepo, logger)
	}
	a.server = api.NewServer(cfg, a.coord, docs, searchIndex, runs, events, logger)

	return nil
}

func newRunStore(ctx context.Context, cfg config.Config) (*postgres.RunStore, error) {
	return postgres.NewRunStore(ctx, postgres.RunStoreConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: int32(cfg.Database.MaxOpenConns),
		MinConns: int32(cfg.Database.MinConns),
	})
}

func (a *App) initSnapshots(ctx context.Context) (crawl.SnapshotStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		return gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
	case "memory", "":
		return memory.NewSnapshotStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// Run serves HTTP until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("harvester started",
		zap.Int("port", a.cfg.Server.Port),
		zap.String("storage_backend", a.cfg.Storage.Backend),
		zap.Bool("headless", a.cfg.Headless.Enabled),
	)
	return a.server.ListenAndServe(ctx)
}

// Coordinator exposes the crawl coordinator, mainly for tests.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Close tears down services in reverse dependency order. Safe on a partially
// built App.
func (a *App) Close(ctx context.Context) {
	if a.coord != nil {
		a.coord.Cancel()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.psClient != nil {
		if err := a.psClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.browser != nil {
		a.browser.Close()
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(ctx); err != nil {
			a.logger.Warn("document store close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
