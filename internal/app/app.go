// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-cache-warmer/internal/config"
	collyfetcher "github.com/JakeFAU/edge-cache-warmer/internal/fetcher/colly"
	"github.com/JakeFAU/edge-cache-warmer/internal/id/uuid"
	"github.com/JakeFAU/edge-cache-warmer/internal/metrics"
	"github.com/JakeFAU/edge-cache-warmer/internal/orchestrator"
	"github.com/JakeFAU/edge-cache-warmer/internal/policy/ratelimit"
	pubsubpublisher "github.com/JakeFAU/edge-cache-warmer/internal/publisher/pubsub"
	"github.com/JakeFAU/edge-cache-warmer/internal/purge"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog/sinks"
	"github.com/JakeFAU/edge-cache-warmer/internal/sitemap"
	"github.com/JakeFAU/edge-cache-warmer/internal/storage/gcs"
	"github.com/JakeFAU/edge-cache-warmer/internal/storage/local"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
	"github.com/JakeFAU/edge-cache-warmer/internal/worker"
)

// Options are per-invocation overrides from the command line.
type Options struct {
	DryRun      bool
	Concurrency int
}

// App holds the shared services for one warmer invocation. It is built once
// at startup and released by Close.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     *system.Clock
	sink      runlog.Sink
	purger    purge.Purger
	publisher orchestrator.Publisher
	status    *metrics.Server
	closers   []func() error
	lookup    func(string) (string, bool)
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// NewApp builds every service the config asks for and fails fast when one
// cannot be initialized.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Concurrency > 0 {
		cfg.Warmer.Concurrency = opts.Concurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger.Info("initializing application services")

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		lookup: config.EnvLookup,
	}

	sink, err := a.buildSink(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init run log sink: %w", err)
	}
	a.sink = sink

	purger, err := a.buildPurger(opts.DryRun)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init purger: %w", err)
	}
	a.purger = purger

	if cfg.Notify.PubSub.Enabled() {
		logger.Info("using pubsub notifications", zap.String("topic", cfg.Notify.PubSub.Topic))
		pub, err := pubsubpublisher.Dial(ctx, cfg.Notify.PubSub.ProjectID, cfg.Notify.PubSub.Topic)
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}

	if cfg.Metrics.Addr != "" {
		a.status = metrics.StartServer(cfg.Metrics.Addr, logger.Named("status"))
	}

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) buildSink(ctx context.Context) (runlog.Sink, error) {
	rl := a.cfg.RunLog
	switch rl.Sink {
	case config.SinkWebhook:
		a.logger.Info("using webhook run log sink")
		return sinks.NewWebhook(rl.Webhook.URL, &http.Client{Timeout: rl.Webhook.Timeout})
	case config.SinkPostgres:
		a.logger.Info("using postgres run log sink", zap.String("table", rl.Postgres.Table))
		sink, err := sinks.NewPostgres(ctx, sinks.PostgresConfig{
			DSN:             rl.Postgres.DSN,
			Table:           rl.Postgres.Table,
			MaxConns:        rl.Postgres.MaxConns,
			MaxConnLifetime: rl.Postgres.MaxConnLifetime,
			CreateTable:     rl.Postgres.CreateTable,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { sink.Close(); return nil })
		return sink, nil
	case config.SinkGCS:
		a.logger.Info("using gcs run log sink", zap.String("bucket", rl.GCS.Bucket))
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: rl.GCS.Bucket})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		return sinks.NewArchive("gcs", store, rl.GCS.Prefix)
	case config.SinkFile:
		a.logger.Info("using file run log sink", zap.String("dir", rl.File.Dir))
		store, err := local.New(local.Config{BaseDir: rl.File.Dir})
		if err != nil {
			return nil, err
		}
		return sinks.NewArchive("file", store, rl.File.Prefix)
	case config.SinkLog:
		return sinks.NewLog(a.logger), nil
	default:
		a.logger.Warn("no run log sink configured; rows will not be persisted")
		return nil, nil
	}
}

func (a *App) buildPurger(dryRun bool) (purge.Purger, error) {
	if dryRun {
		a.logger.Info("dry run: purge batches will only be logged")
		return purge.NewDryRun(a.logger), nil
	}
	if !a.cfg.Purge.Configured() {
		a.logger.Warn("purge not configured; non-hit urls will not be purged")
		return nil, nil
	}
	cf, err := purge.NewCloudflare(purge.CloudflareConfig{
		BaseURL:  a.cfg.Purge.BaseURL,
		ZoneID:   a.cfg.Purge.ZoneID,
		APIToken: a.cfg.Purge.APIToken,
		Timeout:  a.cfg.Purge.Timeout,
	}, nil)
	if errors.Is(err, purge.ErrNotConfigured) {
		return nil, nil
	}
	return cf, err
}

// Targets resolves the selected countries into egress routes. Countries
// without a proxy are kept with an empty Proxy so the run can report them as
// skipped.
func (a *App) Targets(codes []string) ([]orchestrator.Target, error) {
	countries, err := a.cfg.Select(codes)
	if err != nil {
		return nil, err
	}
	targets := make([]orchestrator.Target, 0, len(countries))
	for _, c := range countries {
		ua := c.UserAgent
		if ua == "" {
			ua = a.cfg.Warmer.UserAgent
		}
		targets = append(targets, orchestrator.Target{
			Code:      c.Code,
			Domain:    c.Domain,
			Proxy:     c.ResolveProxy(a.lookup),
			UserAgent: ua,
		})
	}
	return targets, nil
}

// NewFetcher builds the Colly fetcher for one route.
func (a *App) NewFetcher(target orchestrator.Target) (warmer.Fetcher, error) {
	return collyfetcher.New(collyfetcher.Config{
		UserAgent: target.UserAgent,
		ProxyURL:  target.Proxy,
		Timeout:   a.cfg.Warmer.RequestTimeout,
	})
}

// NewRunLog starts a run log bound to the configured sink.
func (a *App) NewRunLog() (*runlog.Logger, error) {
	return runlog.New(a.sink, a.clock, uuid.New(), runlog.Config{
		ZoneName:   a.cfg.RunLog.ZoneName,
		ZoneOffset: a.cfg.RunLog.ZoneOffset,
	}, a.logger)
}

// NewOrchestrator wires a run around log.
func (a *App) NewOrchestrator(log orchestrator.RunLog) (*orchestrator.Orchestrator, error) {
	w := a.cfg.Warmer
	policy := warmer.NewRetryPolicy(
		warmer.WithMaxRetries(w.MaxRetries),
		warmer.WithBackoff(w.BackoffBase, w.BackoffMax, w.Jitter),
	)
	batcher := purge.NewBatcher(a.purger, a.clock, purge.Config{
		BatchSize: a.cfg.Purge.BatchSize,
		Pause:     a.cfg.Purge.Pause,
	}, a.logger)
	return orchestrator.New(orchestrator.Deps{
		NewFetcher: a.NewFetcher,
		Source: sitemap.New(sitemap.Config{
			IndexPath:   a.cfg.Sitemap.IndexPath,
			MaxURLs:     a.cfg.Sitemap.MaxURLs,
			Parallelism: a.cfg.Sitemap.Parallelism,
			NoShuffle:   !a.cfg.Sitemap.Shuffle,
		}, a.logger),
		Policy:    policy,
		Limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: w.RateLimitPerHost, DefaultBurst: w.RateLimitBurst}),
		Clock:     a.clock,
		Sleeper:   a.clock,
		Pool:      worker.Config{Concurrency: w.Concurrency, Pause: w.Pause},
		Purger:    batcher,
		Log:       log,
		Publisher: a.publisher,
		Logger:    a.logger,
	})
}

// PushMetrics sends the run's metrics to the configured Pushgateway.
func (a *App) PushMetrics(ctx context.Context, runID string) error {
	return metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, runID)
}

// Close releases every service in reverse order of construction.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	if err := a.status.Shutdown(ctx); err != nil {
		a.logger.Warn("status server shutdown failed", zap.Error(err))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}
