package purge

import (
	"context"

	"go.uber.org/zap"
)

// DryRun logs the batches it would have purged.
type DryRun struct {
	logger *zap.Logger
}

// NewDryRun returns a purger that only logs.
func NewDryRun(logger *zap.Logger) *DryRun {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DryRun{logger: logger.Named("purge")}
}

// Purge logs urls and returns nil.
func (d *DryRun) Purge(_ context.Context, urls []string) error {
	d.logger.Info("dry-run purge", zap.Int("size", len(urls)), zap.Strings("urls", urls))
	return nil
}
