// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/docs-archiver/internal/api"
	"github.com/JakeFAU/docs-archiver/internal/clock/system"
	"github.com/JakeFAU/docs-archiver/internal/config"
	"github.com/JakeFAU/docs-archiver/internal/crawl"
	"github.com/JakeFAU/docs-archiver/internal/discover"
	"github.com/JakeFAU/docs-archiver/internal/docstore"
	"github.com/JakeFAU/docs-archiver/internal/events"
	"github.com/JakeFAU/docs-archiver/internal/logging"
	"github.com/JakeFAU/docs-archiver/internal/policy"
	"github.com/JakeFAU/docs-archiver/internal/progress"
	"github.com/JakeFAU/docs-archiver/internal/progress/sinks"
	"github.com/JakeFAU/docs-archiver/internal/publisher"
	memorypub "github.com/JakeFAU/docs-archiver/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/docs-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/docs-archiver/internal/render"
	"github.com/JakeFAU/docs-archiver/internal/state"
	"github.com/JakeFAU/docs-archiver/internal/storage"
	"github.com/JakeFAU/docs-archiver/internal/storage/gcs"
	"github.com/JakeFAU/docs-archiver/internal/storage/local"
	memstore "github.com/JakeFAU/docs-archiver/internal/storage/memory"
	"github.com/JakeFAU/docs-archiver/internal/storage/postgres"
	"github.com/JakeFAU/docs-archiver/internal/store"
	"github.com/JakeFAU/docs-archiver/internal/taskq"
)

// closeTimeout bounds the shutdown work in Close: draining the telemetry
// hub and tearing down the browser.
const closeTimeout = 10 * time.Second

// App holds all the shared, long-lived services for the application.
// It is initialized once at startup and passed to the commands that need it.
// Engine and Server are optional: the engine exists only when headless
// rendering is enabled, the server only when the status API is enabled.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	bus       *events.Bus
	docs      *docstore.Store
	state     *state.State
	queue     *taskq.Queue
	renderer  render.Renderer
	collector *discover.Collector
	admission *policy.Admission
	artifacts storage.Provider
	metadata  store.MetadataRepository
	publisher publisher.Publisher
	hub       *progress.Hub
	engine    *crawl.Engine
	server    *api.Server

	// Concrete handles for backends that need an explicit close.
	gcsStore *gcs.Store
	pgStore  *postgres.MetadataStore
}

// GetConfig returns the configuration the container was built from.
func (a *App) GetConfig() config.Config {
	return a.cfg
}

// GetLogger returns the shared zap logger instance.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetEngine returns the archiving engine, or nil when headless rendering
// is disabled.
func (a *App) GetEngine() *crawl.Engine {
	return a.engine
}

// GetServer returns the status API server, or nil when it is disabled.
func (a *App) GetServer() *api.Server {
	return a.server
}

// GetState exposes the persisted crawl state.
func (a *App) GetState() *state.State {
	return a.state
}

// GetQueue exposes the task queue.
func (a *App) GetQueue() *taskq.Queue {
	return a.queue
}

// GetStorage exposes the configured artifact storage provider.
func (a *App) GetStorage() storage.Provider {
	return a.artifacts
}

// GetMetadata exposes the configured metadata repository.
func (a *App) GetMetadata() store.MetadataRepository {
	return a.metadata
}

// GetPublisher returns the notification publisher.
func (a *App) GetPublisher() publisher.Publisher {
	return a.publisher
}

// New creates and initializes an App from the loaded configuration. It is
// the central point for service initialization and fails fast when any
// critical service cannot be built. The context parents the task queue and
// the telemetry hub, so canceling it stops in-flight work.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger.Info("initializing application services")

	a := &App{cfg: cfg, logger: logger}
	a.bus = events.NewBus(logger)

	// Crawl state and the file-backed metadata documents share one docstore.
	a.docs, err = docstore.New(cfg.State.Dir, logger)
	if err != nil {
		return nil, fmt.Errorf("init state dir: %w", err)
	}
	a.state = state.New(a.docs, a.bus, system.New(), logger, state.Config{
		SaveDebounce:     cfg.State.SaveDebounce,
		AutosaveInterval: cfg.State.AutosaveInterval,
	})
	a.queue = taskq.New(taskq.Config{
		Concurrency: cfg.Crawler.Concurrency,
		Interval:    cfg.Crawler.Interval,
		IntervalCap: cfg.Crawler.IntervalCap,
		MaxHistory:  cfg.Crawler.MaxTaskHistory,
		BaseContext: ctx,
	}, a.bus, logger)

	a.admission, err = policy.New(policy.Config{
		AllowedDomains:     cfg.Admission.AllowedDomains,
		IncludeSubdomains:  cfg.Admission.IncludeSubdomains,
		BasePath:           cfg.Admission.BasePath,
		IgnoredURLs:        cfg.Admission.IgnoredURLs,
		IgnoredURLPatterns: cfg.Admission.IgnoredURLPatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("init admission rules: %w", err)
	}

	a.collector, err = discover.New(discover.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Discover.Timeout,
		Delay:     cfg.Discover.Delay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init link collector: %w", err)
	}

	if err := a.initArtifacts(ctx); err != nil {
		return nil, err
	}
	if err := a.initMetadata(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := a.initEngine(); err != nil {
		return nil, err
	}

	if cfg.Server.Enabled {
		a.server = api.NewServer(a.state, a.queue, a.metadata, logger)
		logger.Info("status api enabled", zap.Int("port", cfg.Server.Port))
	}

	logger.Info("application services initialized")
	return a, nil
}

// initArtifacts selects the blob backend that receives rendered artifacts.
func (a *App) initArtifacts(ctx context.Context) error {
	switch a.cfg.Output.Provider {
	case "local":
		s, err := local.New(local.Config{BaseDir: a.cfg.Output.Dir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.logger.Info("using local artifact storage", zap.String("dir", a.cfg.Output.Dir))
		a.artifacts = s
	case "gcs":
		s, err := gcs.New(ctx, gcs.Config{
			Bucket: a.cfg.Output.GCSBucket,
			Prefix: a.cfg.Output.GCSPrefix,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("using gcs artifact storage", zap.String("bucket", a.cfg.Output.GCSBucket))
		a.gcsStore = s
		a.artifacts = s
	case "memory":
		a.logger.Info("using in-memory artifact storage")
		a.artifacts = memstore.New()
	case "noop":
		a.logger.Info("using no-op artifact storage; rendered content will be discarded")
		a.artifacts = storage.NoOp{}
	default:
		return fmt.Errorf("unknown output provider: %s", a.cfg.Output.Provider)
	}
	return nil
}

// initMetadata selects the repository for titles, sections, and run history.
func (a *App) initMetadata(ctx context.Context) error {
	switch a.cfg.Metadata.Backend {
	case "file":
		a.logger.Info("using file metadata store", zap.String("dir", a.docs.Dir()))
		a.metadata = store.NewFileStore(a.docs, a.logger)
	case "postgres":
		a.logger.Info("connecting to postgres metadata store")
		pg, err := postgres.NewMetadataStore(ctx, postgres.MetadataStoreConfig{
			DSN:      a.cfg.Metadata.DSN,
			MaxConns: int32(a.cfg.Metadata.MaxOpenConns),
		})
		if err != nil {
			return fmt.Errorf("init postgres metadata store: %w", err)
		}
		a.pgStore = pg
		a.metadata = pg
	case "noop":
		a.logger.Info("using no-op metadata store; metadata will be discarded")
		a.metadata = store.NoOp{}
	default:
		return fmt.Errorf("unknown metadata backend: %s", a.cfg.Metadata.Backend)
	}
	return nil
}

// initPublisher selects the notification transport.
func (a *App) initPublisher(ctx context.Context) error {
	switch a.cfg.Publisher.Provider {
	case "noop":
		a.publisher = publisher.NoOp{}
	case "memory":
		a.logger.Info("using in-memory publisher")
		a.publisher = memorypub.New()
	case "pubsub":
		a.logger.Info("connecting to pub/sub",
			zap.String("project", a.cfg.Publisher.ProjectID),
			zap.String("topic", a.cfg.Publisher.TopicName))
		p, err := pubsubpub.New(ctx, pubsubpub.Config{
			ProjectID: a.cfg.Publisher.ProjectID,
			TopicID:   a.cfg.Publisher.TopicName,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("init pub/sub publisher: %w", err)
		}
		a.publisher = p
	default:
		return fmt.Errorf("unknown publisher provider: %s", a.cfg.Publisher.Provider)
	}
	return nil
}

// initTelemetry assembles the progress hub and its sinks. The log and
// prometheus sinks are always on; run history lands in the metadata store
// unless that is a no-op.
func (a *App) initTelemetry(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init prometheus sink: %w", err)
	}
	sinkList := []progress.Sink{sinks.NewLogSink(a.logger), promSink}
	if a.cfg.Metadata.Backend != "noop" {
		sinkList = append(sinkList, sinks.NewStoreSink(a.metadata, a.logger))
	}
	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger,
	}, sinkList...)
	return nil
}

// initEngine builds the renderer and the archiving engine. When headless
// rendering is disabled the engine stays nil and only the status API is
// usable.
func (a *App) initEngine() error {
	renderer, err := a.buildRenderer()
	if err != nil {
		return err
	}
	if renderer == nil {
		a.logger.Info("headless rendering disabled; archiving commands are unavailable")
		return nil
	}
	a.renderer = renderer

	entries := make([]crawl.EntryPoint, 0, len(a.cfg.Crawler.EntryPoints))
	for _, ep := range a.cfg.Crawler.EntryPoints {
		entries = append(entries, crawl.EntryPoint{URL: ep.URL, Section: ep.Section})
	}

	engine, err := crawl.New(crawl.Config{
		EntryPoints:       entries,
		NavTimeout:        a.cfg.Crawler.NavTimeout,
		RetryFailed:       a.cfg.Crawler.RetryFailed,
		TranslateScript:   a.cfg.Crawler.TranslateScript,
		MarkdownArtifacts: a.cfg.Output.WantsFormat("markdown"),
		PDFArtifacts:      a.cfg.Output.WantsFormat("pdf"),
		ObjectPrefix:      a.cfg.Output.ObjectPrefix,
		PDFOptions: render.PDFOptions{
			Landscape:       a.cfg.Headless.PDF.Landscape,
			PrintBackground: a.cfg.Headless.PDF.PrintBackground,
			Scale:           a.cfg.Headless.PDF.Scale,
		},
	}, crawl.Deps{
		Renderer:  a.renderer,
		Collector: a.collector,
		Admission: a.admission,
		Queue:     a.queue,
		State:     a.state,
		Metadata:  a.metadata,
		Artifacts: a.artifacts,
		Publisher: a.publisher,
		Bus:       a.bus,
		Progress:  a.hub,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	a.engine = engine
	return nil
}

func (a *App) buildRenderer() (render.Renderer, error) {
	if !a.cfg.Headless.Enabled {
		return nil, nil
	}
	r, err := render.NewChromedp(render.Config{
		MaxTabs:   a.cfg.Headless.MaxTabs,
		UserAgent: a.cfg.Crawler.UserAgent,
		DomainQPS: a.cfg.Headless.DomainQPS,
		ExecPath:  a.cfg.Headless.ExecPath,
	}, a.logger)
	switch {
	case err == nil:
		return r, nil
	case errors.Is(err, render.ErrRendererDisabled):
		a.logger.Warn("renderer reported disabled despite headless.enabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("init renderer: %w", err)
	}
}

// Close gracefully shuts down all services in the container. It is called
// by a Cobra hook after the command finishes execution.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	a.state.StopAutosave()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("telemetry hub close failed", zap.Error(err))
	}
	if a.renderer != nil {
		if err := a.renderer.Close(ctx); err != nil {
			a.logger.Warn("renderer close failed", zap.Error(err))
		}
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Warn("publisher close failed", zap.Error(err))
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}

	// Flush buffered log entries; stderr may not support sync.
	_ = a.logger.Sync()
}
