// Package cmd defines and implements the CLI commands for the cachewarmer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/edge-cache-warmer/internal/app"
	"github.com/JakeFAU/edge-cache-warmer/internal/config"
	"github.com/JakeFAU/edge-cache-warmer/internal/logging"
	"github.com/JakeFAU/edge-cache-warmer/internal/orchestrator"
	"github.com/JakeFAU/edge-cache-warmer/internal/runlog"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitInterrupted = 130
)

var errInterrupted = errors.New("run interrupted")

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close(ctx context.Context)
	GetLogger() *zap.Logger
	Targets(codes []string) ([]orchestrator.Target, error)
	NewRunLog() (*runlog.Logger, error)
	NewOrchestrator(log orchestrator.RunLog) (*orchestrator.Orchestrator, error)
	PushMetrics(ctx context.Context, runID string) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string, opts app.Options) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return app.NewApp(ctx, cfg, logger, opts)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "cachewarmer",
		Short: "Warms CDN edge caches country by country and purges stale pages.",
		Long: `cachewarmer walks each configured country's sitemap through that
country's proxy, requests every page so the nearest edge caches it, and purges
pages the origin did not serve from its own cache.`,
		SilenceUsage: true,

		// Build the application before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile, optionsFromFlags(cmd))
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file; environment variables prefixed CACHEWARMER_ override it")
	cmd.AddCommand(newWarmCmd())
	return cmd
}

func optionsFromFlags(cmd *cobra.Command) app.Options {
	var opts app.Options
	if f := cmd.Flags().Lookup("dry-run"); f != nil {
		opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	}
	if f := cmd.Flags().Lookup("concurrency"); f != nil {
		opts.Concurrency, _ = cmd.Flags().GetInt("concurrency")
	}
	return opts
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the CLI and returns the process exit code. SIGINT and SIGTERM
// cancel the run; the run log is still flushed before exit.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted):
		fmt.Fprintln(os.Stderr, "cachewarmer: interrupted")
		return exitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "cachewarmer: %v\n", err)
		return exitFailure
	}
}
