// Package server builds and runs the crawl service: the HTTP API, the run
// executor, and the storage, notification, and progress backends behind them.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcrawler/internal/api"
	"github.com/JakeFAU/linkcrawler/internal/clock/system"
	"github.com/JakeFAU/linkcrawler/internal/config"
	"github.com/JakeFAU/linkcrawler/internal/crawler"
	"github.com/JakeFAU/linkcrawler/internal/hash/sha256"
	"github.com/JakeFAU/linkcrawler/internal/id/uuid"
	"github.com/JakeFAU/linkcrawler/internal/progress"
	progresssinks "github.com/JakeFAU/linkcrawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/linkcrawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/linkcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/linkcrawler/internal/runs"
	gcsstorage "github.com/JakeFAU/linkcrawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/linkcrawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/linkcrawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkcrawler/internal/storage/postgres"
	"github.com/JakeFAU/linkcrawler/internal/store"
	"github.com/JakeFAU/linkcrawler/internal/telemetry"
)

// Version is stamped into traces.
var Version = "dev"

// App contains the service's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	apiServer *api.Server
	manager   *runs.Manager

	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	resultStore     *pgstore.ResultStore
	tracer          *sdktrace.TracerProvider
}

// Build creates the service's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.ValidateServe(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Int("executors", cfg.Service.Executors),
		zap.String("report_store", cfg.Report.Store),
	)

	var err error
	app.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.TracingConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	archiver, err := app.setupDatabase(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	runStore := memorystorage.NewRunStore()
	emitter := app.setupProgress(runStore)

	hasher := sha256.New()
	app.manager, err = runs.New(runs.Deps{
		Store:     runStore,
		Blobs:     blobStore,
		Publisher: publisher,
		Archiver:  archiver,
		Progress:  emitter,
		IDs:       uuid.New(),
		Clock:     system.New(),
		Hasher:    hasher,
	}, runs.Config{
		Defaults:     cfg.CheckerConfig(),
		Executors:    cfg.Service.Executors,
		QueueDepth:   cfg.Service.QueueDepth,
		ReportFormat: cfg.ReportFormat(),
		ReportPrefix: cfg.Report.Prefix,
		Topic:        cfg.PubSub.TopicName,
	}, logger.Named("runs"))
	if err != nil {
		app.closeInfrastructure(ctx)
		return nil, fmt.Errorf("run manager init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.manager, hasher, api.Config{
		APIKey: cfg.Server.APIKey,
		Defaults: api.Defaults{
			MaxDepth:            cfg.Crawler.MaxDepth,
			MaxWorkers:          cfg.Crawler.MaxWorkers,
			TimeoutSeconds:      cfg.Crawler.TimeoutSeconds,
			CrawlTimeoutSeconds: cfg.Crawler.CrawlTimeoutSeconds,
			IncludeSubdomains:   cfg.Crawler.IncludeSubdomains,
		},
	}, logger.Named("api"))
	return app, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run serves the API and executes crawls until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		a.logger.Info("run executor started", zap.Int("executors", a.cfg.Service.Executors))
		a.manager.Run(ctx)
	}()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
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
	a.manager.Close()
	<-managerDone

	a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}

// Close releases backends. It is safe to call after a failed Run.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
		a.tracer = nil
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.storage = nil
	}
	if a.resultStore != nil {
		a.resultStore.Close()
		a.resultStore = nil
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Report.Store {
	case "gcs":
		a.logger.Info("using GCS report storage", zap.String("bucket", a.cfg.Report.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Report.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case "local":
		a.logger.Info("using local report storage", zap.String("path", a.cfg.Report.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Report.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory report storage")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) (store.ResultArchiver, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN configured; crawl results will not be archived to Postgres")
		return nil, nil
	}
	resultStore, err := pgstore.NewResultStore(ctx, pgstore.ResultStoreConfig{
		DSN:             a.cfg.DB.DSN,
		RunsTable:       a.cfg.DB.RunsTable,
		BrokenTable:     a.cfg.DB.BrokenTable,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("result store init failed: %w", err)
	}
	a.resultStore = resultStore
	if err := resultStore.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("result store schema: %w", err)
	}
	a.logger.Info("result store initialized",
		zap.String("runs_table", a.cfg.DB.RunsTable),
		zap.String("broken_table", a.cfg.DB.BrokenTable),
	)
	return resultStore, nil
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client, a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(recorder store.ProgressRecorder) progress.Emitter {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return progress.Discard
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(recorder, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		a.logger.Warn("progress prometheus sink unavailable", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := a.cfg.HubConfig()
	hubCfg.Logger = a.logger.Named("progress_hub")
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return a.progressHub
}
