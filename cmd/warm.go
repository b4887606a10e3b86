package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/orchestrator"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

const flushTimeout = 30 * time.Second

// newWarmCmd creates the 'warm' subcommand.
func newWarmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Warms edge caches for the configured countries",
		Long: `Processes each selected country in config order: discovers URLs from the
sitemap, fetches them through the country's proxy, then purges every URL the
origin did not report as a cache hit.`,
		RunE: runWarmCommand,
	}
	cmd.Flags().StringSlice("country", nil, "country codes to process (default: all configured)")
	cmd.Flags().Bool("dry-run", false, "log purge batches instead of sending them")
	cmd.Flags().Int("concurrency", 0, "override warmer.concurrency")
	return cmd
}

func runWarmCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	logger := appInstance.GetLogger()
	// Cobra skips post-run hooks when RunE fails, so services are released here.
	defer func() {
		appInstance.Close(context.WithoutCancel(ctx))
		_ = logger.Sync()
	}()

	codes, err := cmd.Flags().GetStringSlice("country")
	if err != nil {
		return err
	}
	targets, err := appInstance.Targets(codes)
	if err != nil {
		return fmt.Errorf("select countries: %w", err)
	}
	log, err := appInstance.NewRunLog()
	if err != nil {
		return fmt.Errorf("start run log: %w", err)
	}
	orch, err := appInstance.NewOrchestrator(log)
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}

	summary, runErr := orch.Run(ctx, targets)

	// The run context may already be canceled; persisting the log gets its own.
	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	flushErr := log.Close(flushCtx)
	if errors.Is(flushErr, runlog.ErrNoSink) {
		flushErr = nil
	}
	if flushErr != nil {
		logger.Error("run log flush failed", zap.String("run_id", log.RunID()), zap.Error(flushErr))
	}
	if err := appInstance.PushMetrics(flushCtx, log.RunID()); err != nil {
		logger.Warn("metrics push failed", zap.Error(err))
	}

	writeSummary(cmd.OutOrStdout(), summary)

	switch {
	case runErr != nil:
		return runErr
	case summary.Canceled:
		return errInterrupted
	case flushErr != nil:
		return fmt.Errorf("flush run log: %w", flushErr)
	}
	return nil
}

func writeSummary(w io.Writer, s orchestrator.RunSummary) {
	fmt.Fprintf(w, "run %s (%s)\n", s.RunID, s.Label)
	for _, c := range s.Countries {
		if c.Skipped {
			fmt.Fprintf(w, "  %-4s skipped: %s\n", c.Country, c.SkipReason)
			continue
		}
		fmt.Fprintf(w, "  %-4s urls=%d hits=%d non_hits=%d errored=%d purged=%d/%d\n",
			c.Country, c.URLs, c.Hits, c.NonHits, c.Errored, c.Purged, c.PurgeQueued)
	}
	if s.Canceled {
		fmt.Fprintln(w, "  interrupted")
	}
}
