// Package bootstrap assembles the runtime components shared by the API
// server and the command line tool.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	"imagepump/internal/clock"
	"imagepump/internal/delivery"
	"imagepump/internal/http/handlers"
	"imagepump/internal/infra"
	"imagepump/internal/metrics"
	"imagepump/internal/pipeline"
	"imagepump/internal/providers/image"
	"imagepump/internal/retry"
	"imagepump/internal/settings"
	"imagepump/internal/storage"
)

// Options tweaks what Build wires.
type Options struct {
	Clock clock.Clock
	// Packager overrides the local zip packager, e.g. with a remote one.
	Packager delivery.Packager
	// DeliveryPath overrides cfg.StoragePath as the archive root.
	DeliveryPath string
	// Threshold overrides cfg.BatchMaxBytes when positive.
	Threshold int
}

// Components is everything a process needs to queue, run and deliver jobs.
type Components struct {
	Config       *infra.Config
	Logger       *infra.Logger
	Clock        clock.Clock
	Pool         *pgxpool.Pool
	Queue        *pipeline.Queue
	Generators   *image.Registry
	Orchestrator *pipeline.Orchestrator
	Events       *pipeline.Broadcaster
	Metrics      *metrics.Collector
	Settings     *settings.Service
	Store        *storage.FileStore
	Deliverer    *delivery.Deliverer
}

// Build wires the components described by cfg. Settings go to Postgres when
// DATABASE_URL is set and to a JSON file under the storage path otherwise.
func Build(ctx context.Context, cfg *infra.Config, logger *infra.Logger, opts Options) (*Components, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = infra.NopLogger()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	c := &Components{
		Config:  cfg,
		Logger:  logger,
		Clock:   clk,
		Events:  pipeline.NewBroadcaster(),
		Metrics: metrics.NewCollector(),
	}

	store, err := c.settingsStore(ctx)
	if err != nil {
		return nil, err
	}
	c.Settings, err = settings.Open(ctx, store)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("bootstrap: open settings: %w", err)
	}

	c.Queue = pipeline.NewQueue(clk)
	c.Generators = image.NewRegistry(image.RegistryOptions{
		HTTPClient: &http.Client{Timeout: cfg.ProviderTimeout},
		Logger:     logger,
		Clock:      clk,
		BaseURLs:   cfg.ProviderBaseURLs,
	})
	c.Orchestrator = pipeline.NewOrchestrator(pipeline.Options{
		Queue:      c.Queue,
		Generators: c.Generators,
		Retry: retry.Controller{
			Attempts: cfg.RetryAttempts,
			Delay:    cfg.RetryDelay,
		},
		ItemDelay: cfg.ItemDelay,
		Clock:     clk,
		Logger:    logger,
		Metrics:   c.Metrics,
	})
	c.Orchestrator.Observe(c.Events.Publish)

	root := opts.DeliveryPath
	if root == "" {
		root = cfg.StoragePath
	}
	c.Store, err = storage.NewFileStore(root)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("bootstrap: storage: %w", err)
	}
	threshold := cfg.BatchMaxBytes
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}
	c.Deliverer = delivery.NewDeliverer(delivery.Options{
		Packager:  opts.Packager,
		Sink:      c.Store,
		Clock:     clk,
		Logger:    logger,
		Threshold: threshold,
		Delay:     cfg.BatchDelay,
	})
	return c, nil
}

func (c *Components) settingsStore(ctx context.Context) (settings.Store, error) {
	pool, err := infra.NewDBPool(ctx, c.Config)
	switch {
	case errors.Is(err, infra.ErrNoDatabase):
		path := filepath.Join(c.Config.StoragePath, "settings.json")
		c.Logger.Debug().Str("path", path).Msg("settings stored on disk")
		return settings.NewFileStore(path)
	case err != nil:
		return nil, err
	}
	c.Pool = pool
	pg := settings.NewPGStore(infra.NewSQLRunner(pool, *c.Logger))
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		c.Pool = nil
		return nil, err
	}
	c.Logger.Debug().Msg("settings stored in postgres")
	return pg, nil
}

// App exposes the components to the HTTP handlers.
func (c *Components) App() *handlers.App {
	return &handlers.App{
		Config:       *c.Config,
		Logger:       c.Logger,
		Clock:        c.Clock,
		Queue:        c.Queue,
		Orchestrator: c.Orchestrator,
		Generators:   c.Generators,
		Settings:     c.Settings,
		Deliverer:    c.Deliverer,
		Store:        c.Store,
		Events:       c.Events,
		Metrics:      c.Metrics,
	}
}

// Close cancels any active run and releases the database pool.
func (c *Components) Close() {
	if c.Orchestrator != nil && c.Orchestrator.Cancel() {
		c.Orchestrator.Wait()
	}
	if c.Pool != nil {
		c.Pool.Close()
		c.Pool = nil
	}
}
