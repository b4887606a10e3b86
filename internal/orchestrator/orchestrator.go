// Package orchestrator runs the warm-then-purge sequence one country at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-cache-warmer/internal/purge"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
	"github.com/JakeFAU/edge-cache-warmer/internal/worker"
)

// ErrNoCountries is returned when there is nothing to run.
var ErrNoCountries = errors.New("no countries configured")

// EventRunFinished tags the run summary notification.
const EventRunFinished = "cachewarmer.run.finished"

// Target is one country's egress route.
type Target struct {
	Code      string
	Domain    string
	Proxy     string
	UserAgent string
}

// FetcherFactory builds the single-attempt fetcher for a target.
type FetcherFactory func(Target) (warmer.Fetcher, error)

// URLSource lists the pages to warm for a domain.
type URLSource interface {
	URLs(ctx context.Context, fetcher warmer.Fetcher, domain, country string) ([]string, error)
}

// RunLog receives per-URL results and free-form rows.
type RunLog interface {
	warmer.Recorder
	Log(row runlog.Row)
	Message(country, message string)
	RunID() string
	Label() string
}

// Purger submits a purge set.
type Purger interface {
	Purge(ctx context.Context, urls []string) purge.Report
}

// Publisher announces the finished run.
type Publisher interface {
	Publish(ctx context.Context, event string, payload any) (string, error)
}

// Deps wires the orchestrator's collaborators. Publisher and Limiter are
// optional.
type Deps struct {
	NewFetcher FetcherFactory
	Source     URLSource
	Policy     *warmer.RetryPolicy
	Limiter    warmer.Limiter
	Clock      warmer.Clock
	Sleeper    warmer.Sleeper
	Pool       worker.Config
	Purger     Purger
	Log        RunLog
	Publisher  Publisher
	Logger     *zap.Logger
}

// CountryResult summarizes one country.
type CountryResult struct {
	Country       string        `json:"country"`
	Domain        string        `json:"domain"`
	Skipped       bool          `json:"skipped,omitempty"`
	SkipReason    string        `json:"skip_reason,omitempty"`
	URLs          int           `json:"urls"`
	Processed     int           `json:"processed"`
	Hits          int           `json:"hits"`
	NonHits       int           `json:"non_hits"`
	Errored       int           `json:"errored"`
	PurgeQueued   int           `json:"purge_queued"`
	Purged        int           `json:"purged"`
	PurgeBatches  int           `json:"purge_batches"`
	PurgeFailures int           `json:"purge_failures"`
	Duration      time.Duration `json:"duration_ns"`
}

// RunSummary is the outcome of a whole run.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Label     string          `json:"label"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration_ns"`
	Canceled  bool            `json:"canceled"`
	Countries []CountryResult `json:"countries"`
}

// Orchestrator drives the run.
type Orchestrator struct {
	deps   Deps
	logger *zap.Logger
}

// New validates deps and returns an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	if deps.NewFetcher == nil {
		return nil, errors.New("fetcher factory is required")
	}
	if deps.Source == nil {
		return nil, errors.New("url source is required")
	}
	if deps.Purger == nil {
		return nil, errors.New("purger is required")
	}
	if deps.Log == nil {
		return nil, errors.New("run log is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if deps.Policy == nil {
		deps.Policy = warmer.NewRetryPolicy()
	}
	if deps.Sleeper == nil {
		deps.Sleeper = system.Clock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{deps: deps, logger: deps.Logger.Named("orchestrator")}, nil
}

// Run processes targets in order. It stops early when ctx is canceled; the
// caller owns finalizing and flushing the run log.
func (o *Orchestrator) Run(ctx context.Context, targets []Target) (RunSummary, error) {
	if len(targets) == 0 {
		return RunSummary{}, ErrNoCountries
	}
	start := o.deps.Clock.Now()
	summary := RunSummary{
		RunID:     o.deps.Log.RunID(),
		Label:     o.deps.Log.Label(),
		StartedAt: start,
	}
	o.logger.Info("run started",
		zap.String("run_id", summary.RunID),
		zap.String("label", summary.Label),
		zap.Int("countries", len(targets)),
	)

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		result := o.runCountry(ctx, target)
		summary.Countries = append(summary.Countries, result)
	}
	summary.Canceled = ctx.Err() != nil
	summary.Duration = o.deps.Clock.Now().Sub(start)

	if summary.Canceled {
		o.logger.Warn("run interrupted", zap.Int("countries_done", len(summary.Countries)))
	} else {
		o.logger.Info("run finished", zap.Duration("duration", summary.Duration))
	}
	o.publish(ctx, summary)
	return summary, nil
}

func (o *Orchestrator) runCountry(ctx context.Context, target Target) CountryResult {
	started := o.deps.Clock.Now()
	result := CountryResult{Country: target.Code, Domain: target.Domain}
	logger := o.logger.With(zap.String("country", target.Code))

	if target.Proxy == "" {
		logger.Warn("skipping country: no proxy defined")
		return o.skip(result, "no proxy defined")
	}
	fetcher, err := o.deps.NewFetcher(target)
	if err != nil {
		logger.Warn("skipping country: fetcher unavailable", zap.Error(err))
		return o.skip(result, err.Error())
	}

	logger.Info("processing domain", zap.String("domain", target.Domain))
	urls, err := o.deps.Source.URLs(ctx, fetcher, target.Domain, target.Code)
	if err != nil {
		logger.Warn("url discovery interrupted", zap.Error(err))
		result.Skipped, result.SkipReason = true, err.Error()
		return result
	}
	result.URLs = len(urls)
	o.deps.Log.Log(runlog.Row{
		Country: target.Code,
		URL:     target.Domain,
		Message: fmt.Sprintf("Found %d URLs", len(urls)),
	})

	client := warmer.NewClient(fetcher, o.deps.Policy, o.deps.Limiter, o.deps.Sleeper, logger)
	pool := worker.New(client, o.deps.Clock, o.deps.Sleeper, o.deps.Pool, logger)
	warm := pool.Run(ctx, target.Code, urls, o.deps.Log)
	result.Processed = warm.Processed
	result.Hits = warm.Hits
	result.NonHits = warm.NonHits
	result.Errored = warm.Errored
	result.PurgeQueued = warm.Purge.Len()

	if ctx.Err() != nil {
		result.Duration = o.deps.Clock.Now().Sub(started)
		return result
	}

	pending := warm.Purge.Drain()
	if len(pending) == 0 {
		logger.Info("purge skipped: every url was a hit")
	} else {
		logger.Info("purging non-hit urls", zap.Int("urls", len(pending)))
	}
	report := o.deps.Purger.Purge(ctx, pending)
	result.Purged = report.Purged
	result.PurgeBatches = report.Batches
	result.PurgeFailures = report.FailedBatches
	o.deps.Log.Log(runlog.Row{
		Country: target.Code,
		URL:     target.Domain,
		Errored: report.Failed(),
		Message: purgeMessage(report, result.Processed),
	})

	result.Duration = o.deps.Clock.Now().Sub(started)
	logger.Info("country finished",
		zap.Int("processed", result.Processed),
		zap.Int("hits", result.Hits),
		zap.Int("purged", result.Purged),
		zap.Duration("duration", result.Duration),
	)
	return result
}

func (o *Orchestrator) skip(result CountryResult, reason string) CountryResult {
	result.Skipped, result.SkipReason = true, reason
	o.deps.Log.Message(result.Country, "Skipped: "+reason)
	return result
}

// purgeMessage renders the closing row of a country; processed is the number
// of URLs the pool fetched.
func purgeMessage(r purge.Report, processed int) string {
	switch {
	case r.Requested == 0:
		return fmt.Sprintf("Purge skipped: all %d URLs hit", processed)
	case r.Skipped:
		return fmt.Sprintf("Purge skipped for %d URLs (purge not configured)", r.Requested)
	case r.Failed():
		return fmt.Sprintf("Purged %d/%d URLs, %d of %d batches failed", r.Purged, r.Requested, r.FailedBatches, r.Batches)
	default:
		return fmt.Sprintf("Purged %d URLs in %d batches", r.Purged, r.Batches)
	}
}

func (o *Orchestrator) publish(ctx context.Context, summary RunSummary) {
	if o.deps.Publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := o.deps.Publisher.Publish(pubCtx, EventRunFinished, summary)
	if err != nil {
		o.logger.Warn("run summary not published", zap.Error(err))
		return
	}
	o.logger.Info("run summary published", zap.String("message_id", id))
}
