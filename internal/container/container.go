package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/anime-shed/image-classifier-go/internal/config"
	"github.com/anime-shed/image-classifier-go/internal/logger"
	"github.com/anime-shed/image-classifier-go/internal/model"
	"github.com/anime-shed/image-classifier-go/internal/observer"
	"github.com/anime-shed/image-classifier-go/internal/session"
	"github.com/anime-shed/image-classifier-go/internal/storage"
	"github.com/anime-shed/image-classifier-go/internal/transport"
	"github.com/anime-shed/image-classifier-go/internal/worker"
	"github.com/anime-shed/image-classifier-go/pkg/validation"
)

// Container holds all application dependencies
type Container struct {
	config   *config.Config
	events   *observer.EventPublisher
	metrics  *observer.MetricsObserver
	sentry   *observer.SentryObserver
	loader   *model.Loader
	sessions *session.Store
	pool     *worker.Pool
	handler  http.Handler
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, version string) (*Container, error) {
	events, metrics, sentry, err := newEvents(cfg, version)
	if err != nil {
		return nil, err
	}

	resolver, err := NewResolver(cfg)
	if err != nil {
		return nil, err
	}

	hub := model.NewHub(cfg.ModelHubURL, cfg.ModelCacheDir, &http.Client{Timeout: cfg.ModelLoadTimeout})
	provider := model.NewONNXProvider(hub, resolver, cfg.ONNXLibraryPath)
	loader := model.NewLoader(provider, cfg.ModelID, model.Options{Quantized: cfg.Quantized}, cfg.ModelLoadTimeout, events)

	sessions := session.NewStore(loader, events, session.Options{
		TopK:            cfg.TopK,
		AnalysisTimeout: cfg.AnalysisTimeout,
	}, cfg.WarmupModel)

	pool := worker.NewPool(cfg.Workers, cfg.QueueSize)

	handler := transport.NewHandler(transport.Dependencies{
		Config:   cfg,
		Sessions: sessions,
		Model:    loader,
		Pool:     pool,
		Metrics:  metrics,
		Version:  version,
	})

	return &Container{
		config:   cfg,
		events:   events,
		metrics:  metrics,
		sentry:   sentry,
		loader:   loader,
		sessions: sessions,
		pool:     pool,
		handler:  handler,
	}, nil
}

func newEvents(cfg *config.Config, version string) (*observer.EventPublisher, *observer.MetricsObserver, *observer.SentryObserver, error) {
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))

	metrics := observer.NewMetricsObserver()
	events.Subscribe(metrics)

	if cfg.SentryDSN == "" {
		return events, metrics, nil, nil
	}
	sentry, err := observer.NewSentryObserver(cfg.SentryDSN, version)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize error reporting: %w", err)
	}
	events.Subscribe(sentry)
	return events, metrics, sentry, nil
}

// NewResolver wires the image sources described by cfg
func NewResolver(cfg *config.Config) (*storage.Resolver, error) {
	fetcher := storage.NewHTTPImageFetcher(cfg.ImageFetchTimeout, cfg.MaxImageBytes)

	var blob storage.BlobStorage
	if cfg.AzureEnabled() {
		var err error
		blob, err = storage.NewAzureStorage(cfg.AzureAccountName, cfg.AzureAccountKey, cfg.MaxImageBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize blob storage: %w", err)
		}
	}

	validator := validation.NewURLValidatorWithOptions(validation.Options{
		AllowedHosts: cfg.ImageHostAllowlist,
		BlockPrivate: cfg.BlockPrivateHosts,
	})
	return storage.NewResolver(fetcher, blob, validator), nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Sessions returns the session store
func (c *Container) Sessions() *session.Store {
	return c.sessions
}

// Loader returns the shared model slot
func (c *Container) Loader() *model.Loader {
	return c.loader
}

// Pool returns the analysis worker pool
func (c *Container) Pool() *worker.Pool {
	return c.pool
}

// Start launches the worker pool and the session sweeper. The sweeper
// stops when ctx is done.
func (c *Container) Start(ctx context.Context) {
	c.pool.Start()
	interval := max(c.config.SessionTTL/4, time.Second)
	go c.sessions.RunSweeper(ctx, c.config.SessionTTL, interval)
}

// Warmup loads the model in the background so the first analysis does not
// pay for it.
func (c *Container) Warmup(ctx context.Context) {
	go func() {
		if _, err := c.loader.Get(ctx); err != nil {
			logger.WithError(err).WithField("model_id", c.loader.ModelID()).Warn("Model warmup failed")
		}
	}()
}

// Close stops taking analyses, waits for queued ones until ctx is done, then
// releases the model.
func (c *Container) Close(ctx context.Context) {
	c.pool.Close()
	if err := c.pool.WaitContext(ctx); err != nil {
		logger.WithError(err).WithField("workers", c.pool.GetStats()).Warn("Analyses still running at shutdown")
	}
	if err := c.loader.Close(); err != nil {
		logger.WithError(err).Warn("Failed to release model")
	}
	if c.sentry != nil && !c.sentry.Flush(2*time.Second) {
		logger.Warn("Timed out flushing error reports")
	}
}
