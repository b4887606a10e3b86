// Package purge submits accumulated purge sets to a CDN purge API in
// sequential, rate-limited batches.
package purge

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/clock/system"
	"github.com/JakeFAU/edge-cache-warmer/internal/metrics"
	"github.com/JakeFAU/edge-cache-warmer/internal/warmer"
)

// Batcher defaults.
const (
	DefaultBatchSize = 30
	DefaultPause     = 500 * time.Millisecond
)

// ErrNotConfigured is returned by purgers that lack credentials.
var ErrNotConfigured = errors.New("purge: not configured")

// Purger invalidates one batch of URLs at the CDN.
type Purger interface {
	Purge(ctx context.Context, urls []string) error
}

// Report summarizes one Batcher run.
type Report struct {
	Requested     int
	Batches       int
	FailedBatches int
	Purged        int
	Skipped       bool
}

// Failed reports whether any batch was rejected.
func (r Report) Failed() bool {
	return r.FailedBatches > 0
}

// Config controls Batcher behavior.
type Config struct {
	BatchSize int
	Pause     time.Duration
}

// Batcher splits a URL list into batches and submits them one at a time.
type Batcher struct {
	purger  Purger
	sleeper warmer.Sleeper
	cfg     Config
	logger  *zap.Logger
}

// NewBatcher constructs a Batcher. A nil purger turns every Purge call into a
// skipped no-op.
func NewBatcher(purger Purger, sleeper warmer.Sleeper, cfg Config, logger *zap.Logger) *Batcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Pause < 0 {
		cfg.Pause = 0
	}
	if sleeper == nil {
		sleeper = system.Clock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Batcher{purger: purger, sleeper: sleeper, cfg: cfg, logger: logger.Named("purge")}
}

// Purge submits urls in batches. Failures are logged and counted; they never
// stop the remaining batches and never surface as an error.
func (b *Batcher) Purge(ctx context.Context, urls []string) Report {
	report := Report{Requested: len(urls)}
	if b.purger == nil || len(urls) == 0 {
		report.Skipped = true
		return report
	}

	batches := Split(urls, b.cfg.BatchSize)
	for i, batch := range batches {
		if ctx.Err() != nil {
			b.logger.Warn("purge interrupted", zap.Int("remaining_batches", len(batches)-i))
			break
		}
		report.Batches++
		if err := b.purger.Purge(ctx, batch); err != nil {
			report.FailedBatches++
			metrics.ObservePurgeBatch(false, len(batch))
			b.logger.Warn("purge batch failed",
				zap.Int("batch", i+1),
				zap.Int("size", len(batch)),
				zap.Error(err),
			)
		} else {
			report.Purged += len(batch)
			metrics.ObservePurgeBatch(true, len(batch))
			b.logger.Info("purge batch accepted", zap.Int("batch", i+1), zap.Int("size", len(batch)))
		}
		if i < len(batches)-1 {
			if err := b.sleeper.Sleep(ctx, b.cfg.Pause); err != nil {
				b.logger.Warn("purge interrupted", zap.Int("remaining_batches", len(batches)-i-1))
				break
			}
		}
	}
	return report
}

// Split partitions urls into consecutive chunks of at most size elements.
func Split(urls []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		out = append(out, urls[start:end:end])
	}
	return out
}
