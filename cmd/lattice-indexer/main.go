// Command lattice-indexer runs full and scheduled reindexes of the entity
// search index and serves Prometheus metrics while doing so.
package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/calderas/lattice/pkg/async"
	"github.com/calderas/lattice/pkg/config"
	"github.com/calderas/lattice/pkg/datastore"
	"github.com/calderas/lattice/pkg/engine"
	"github.com/calderas/lattice/pkg/fulltext"
	"github.com/calderas/lattice/pkg/indexer"
	"github.com/calderas/lattice/pkg/model"
	"github.com/calderas/lattice/pkg/observability"
	"github.com/calderas/lattice/pkg/propagate"
	"github.com/calderas/lattice/pkg/settings"
)

func main() {
	once := flag.Bool("once", false, "run a single full reindex and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observability.WithLogger(ctx, logger)

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.TracingEnabled,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		Insecure:       cfg.Observability.OTLPInsecure,
	}, logger)
	if err != nil {
		logrus.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = observability.ShutdownTracing(shutdownCtx, tp, logger)
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	if cfg.Observability.MetricsEnabled {
		async.SafeGo(ctx, logger, 0, "metrics-server", func(context.Context) error {
			return serveMetrics(cfg.Observability.MetricsPort, metrics, logger)
		})
	}

	store, cleanup, err := buildStore(cfg, metrics)
	if err != nil {
		logrus.Fatalf("Failed to initialize datastore: %v", err)
	}
	defer cleanup()

	provider, err := buildSettings(cfg, logger)
	if err != nil {
		logrus.Fatalf("Failed to initialize settings: %v", err)
	}

	rev, err := buildReverseIndex(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize reverse index: %v", err)
	}
	propagator := propagate.New(store, rev)

	text, err := buildTextSource(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize text source: %v", err)
	}

	// The embedded engine keeps the whole pipeline runnable without external
	// search infrastructure; a remote engine client plugs in behind the same
	// interface.
	orchestrator := indexer.New(store, engine.NewMemory(), text, propagator, provider,
		cfg.Index.Name, logger, metrics, indexer.Config{
			BatchSize:  cfg.Index.BatchSize,
			MaxRetries: cfg.Index.MaxRetries,
			Workers:    cfg.Index.Workers,
		})

	runReindex := func(ctx context.Context) error {
		start := time.Now()
		if err := orchestrator.ReindexAll(ctx); err != nil {
			return err
		}
		logger.WithField("took", time.Since(start).String()).Info("full reindex complete")
		return nil
	}

	if err := runReindex(ctx); err != nil {
		logger.WithError(err).Error("full reindex finished with errors")
	}
	if *once || cfg.Index.ReindexSchedule == "" {
		return
	}

	// A single worker serializes scheduled runs: a tick firing while a
	// reindex is still in flight queues instead of racing it.
	pool := async.NewWorkerPool(ctx, logger, 1, "scheduled-reindex", 0)
	schedule := cron.New()
	_, err = schedule.AddFunc(cfg.Index.ReindexSchedule, func() {
		if err := pool.Submit(runReindex); err != nil {
			logger.WithError(err).Warn("skipping scheduled reindex")
		}
	})
	if err != nil {
		logrus.Fatalf("Invalid reindex schedule %q: %v", cfg.Index.ReindexSchedule, err)
	}
	schedule.Start()
	logger.WithField("schedule", cfg.Index.ReindexSchedule).Info("scheduled reindex active")

	<-ctx.Done()
	schedule.Stop()
	if err := pool.Shutdown(30 * time.Second); err != nil {
		logger.WithError(err).Warn("reindex worker did not drain")
	}
	logger.Info("shutting down")
}

func serveMetrics(port string, metrics *observability.Metrics, logger *observability.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	logger.WithField("port", port).Info("metrics server listening")
	return http.ListenAndServe(":"+port, mux)
}

func buildStore(cfg *config.Config, metrics *observability.Metrics) (datastore.Store, func(), error) {
	var store datastore.Store
	cleanup := func() {}

	switch cfg.Datastore.Type {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Datastore.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(cfg.Datastore.MaxConns)
		store = datastore.NewPostgres(db)
		cleanup = func() { db.Close() }
	default:
		store = datastore.NewMemory()
	}

	if cfg.Datastore.CacheEnabled {
		cached, err := datastore.NewCached(store, cfg.Datastore.CacheSize, metrics)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		store = cached
	}
	return store, cleanup, nil
}

func buildSettings(cfg *config.Config, logger *observability.Logger) (settings.Provider, error) {
	if cfg.SettingsFile != "" {
		return settings.NewFile(cfg.SettingsFile, logger)
	}
	languages := make([]model.Language, 0, len(cfg.Languages))
	for _, key := range cfg.Languages {
		languages = append(languages, model.Language{Key: key, Default: key == cfg.DefaultLanguage})
	}
	return settings.Static{Value: model.Settings{Languages: languages}}, nil
}

func buildReverseIndex(ctx context.Context, cfg *config.Config) (propagate.ReverseIndex, error) {
	if cfg.Redis.URL == "" {
		return propagate.NewMemoryIndex(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return propagate.NewRedisIndex(client, ""), nil
}

func buildTextSource(ctx context.Context, cfg *config.Config) (fulltext.Source, error) {
	if cfg.Text.S3Bucket == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Text.S3Region))
	if err != nil {
		return nil, err
	}
	return fulltext.NewS3(s3.NewFromConfig(awsCfg), cfg.Text.S3Bucket, cfg.Text.S3Prefix), nil
}
