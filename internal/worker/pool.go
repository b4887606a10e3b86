// Package worker implements the bounded warming pool for one country.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-cache-warmer/internal/metrics"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
)

// Pool defaults.
const (
	DefaultConcurrency = 6
	DefaultPause       = 100 * time.Millisecond
)

// Client runs the full attempt sequence for one URL.
type Client interface {
	Fetch(ctx context.Context, request warmer.FetchRequest) warmer.FetchOutcome
}

// Config controls Pool behavior.
type Config struct {
	Concurrency int
	Pause       time.Duration
}

// Summary totals one pool run.
type Summary struct {
	Country   string
	Total     int
	Processed int
	Hits      int
	NonHits   int
	Errored   int
	Purge     *warmer.PurgeSet
	Duration  time.Duration
	Canceled  bool
}

// Pool fans a URL list out to a fixed number of workers.
type Pool struct {
	client  Client
	clock   warmer.Clock
	sleeper warmer.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Pool.
func New(client Client, clock warmer.Clock, sleeper warmer.Sleeper, cfg Config, logger *zap.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if clock == nil {
		clock = system.Clock{}
	}
	if sleeper == nil {
		sleeper = system.Clock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		client:  client,
		clock:   clock,
		sleeper: sleeper,
		cfg:     cfg,
		logger:  logger.Named("worker"),
	}
}

type tally struct {
	mu        sync.Mutex
	processed int
	hits      int
	nonHits   int
	errored   int
}

func (t *tally) add(result warmer.WarmResult) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.processed++
	if result.CacheStatus == warmer.CacheHit {
		t.hits++
	} else {
		t.nonHits++
	}
	if result.Errored {
		t.errored++
	}
}

// Run warms urls for country and blocks until every URL has been claimed and
// processed, or until ctx is canceled. Each processed URL yields exactly one
// result to recorder; non-hit URLs are collected in the returned Summary's
// purge set.
func (p *Pool) Run(ctx context.Context, country string, urls []string, recorder warmer.Recorder) Summary {
	start := p.clock.Now()
	purge := warmer.NewPurgeSet()
	counts := &tally{}

	workers := p.cfg.Concurrency
	if workers > len(urls) {
		workers = len(urls)
	}

	var (
		cursor atomic.Int64
		wg     sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			p.work(ctx, id, country, urls, &cursor, purge, counts, recorder)
		}(i)
	}
	wg.Wait()

	summary := Summary{
		Country:   country,
		Total:     len(urls),
		Processed: counts.processed,
		Hits:      counts.hits,
		NonHits:   counts.nonHits,
		Errored:   counts.errored,
		Purge:     purge,
		Duration:  p.clock.Now().Sub(start),
		Canceled:  ctx.Err() != nil,
	}
	p.logger.Info("warming pass finished",
		zap.String("country", country),
		zap.Int("total", summary.Total),
		zap.Int("processed", summary.Processed),
		zap.Int("hits", summary.Hits),
		zap.Int("non_hits", summary.NonHits),
		zap.Int("errored", summary.Errored),
		zap.Int("purge_queued", purge.Len()),
		zap.Duration("duration", summary.Duration),
		zap.Bool("canceled", summary.Canceled),
	)
	return summary
}

func (p *Pool) work(
	ctx context.Context,
	id int,
	country string,
	urls []string,
	cursor *atomic.Int64,
	purge *warmer.PurgeSet,
	counts *tally,
	recorder warmer.Recorder,
) {
	for {
		if ctx.Err() != nil {
			return
		}
		idx := int(cursor.Add(1) - 1)
		if idx >= len(urls) {
			return
		}

		result, ok := p.warm(ctx, country, urls[idx])
		if !ok {
			p.logger.Debug("abandoned in-flight url", zap.Int("worker", id), zap.String("url", urls[idx]))
			return
		}
		if result.NeedsPurge() {
			purge.Add(result.URL)
		}
		counts.add(result)
		if recorder != nil {
			recorder.Record(result)
		}

		if err := p.sleeper.Sleep(ctx, p.cfg.Pause); err != nil {
			return
		}
	}
}

// warm fetches one URL and converts the outcome into a WarmResult. It reports
// false when the fetch was cut short by cancellation.
func (p *Pool) warm(ctx context.Context, country, url string) (warmer.WarmResult, bool) {
	started := p.clock.Now()
	outcome := p.client.Fetch(ctx, warmer.FetchRequest{URL: url, Country: country})
	latency := p.clock.Now().Sub(started)
	if outcome.Errored && ctx.Err() != nil {
		return warmer.WarmResult{}, false
	}

	result := warmer.WarmResult{
		URL:         url,
		Country:     country,
		Latency:     latency,
		Attempts:    outcome.Attempts,
		Errored:     outcome.Errored,
		ErrorClass:  outcome.ErrorClass,
		CacheStatus: warmer.CacheUnknown,
	}
	if outcome.Errored {
		result.OriginCache = warmer.UnknownSignal
		result.EdgeCacheStatus = warmer.UnknownSignal
		result.EdgeRayID = warmer.UnknownSignal
		result.EdgeLocation = warmer.UnknownSignal
		result.ErrorMessage = outcome.ErrorMessage
		metrics.ObserveFetchError(country, string(outcome.ErrorClass))
		p.logger.Warn("fetch failed",
			zap.String("country", country),
			zap.String("url", url),
			zap.Int("attempts", outcome.Attempts),
			zap.String("class", string(outcome.ErrorClass)),
			zap.String("error", outcome.ErrorMessage),
		)
	} else {
		signals := warmer.ExtractSignals(outcome.Response.Headers)
		result.HTTPStatus = outcome.Response.StatusCode
		result.OriginCache = signals.OriginCache
		result.EdgeCacheStatus = signals.EdgeCache
		result.EdgeRayID = signals.RayID
		result.EdgeLocation = signals.EdgeLocation
		result.CacheStatus = warmer.ClassifyCache(signals.OriginCache)
	}
	metrics.ObserveFetch(country, string(result.CacheStatus), latency)
	p.logger.Debug("warmed url",
		zap.String("country", country),
		zap.String("url", url),
		zap.Int("status", result.HTTPStatus),
		zap.String("cache", string(result.CacheStatus)),
		zap.String("edge", result.EdgeCacheStatus),
		zap.String("pop", result.EdgeLocation),
		zap.Duration("latency", latency),
	)
	return result, true
}
