package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/app"
	"github.com/kapu/dealsync-go/internal/config"
	"github.com/kapu/dealsync-go/internal/ingest"
	"github.com/kapu/dealsync-go/internal/util"
)

type runFlags struct {
	dryRun         bool
	once           bool
	limit          int
	maxPages       int
	stopAfterPages int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags runFlags

	root := &cobra.Command{
		Use:   "dealsync",
		Short: "dealsync keeps the local deal database in step with the fundraising listing.",
		Long: "dealsync scans the fundraising listing from the newest page until it reaches the\n" +
			"latest round already stored, then writes the new deals oldest first.\n" +
			"Without --once it repeats on SYNC_INTERVAL.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flags)
		},
	}

	root.Flags().BoolVar(&flags.dryRun, "dry-run", false, "print the deals that would be written and write nothing")
	root.Flags().BoolVar(&flags.once, "once", false, "run a single cycle and exit")
	root.Flags().IntVar(&flags.limit, "limit", 0, "write only the N oldest new deals")
	root.Flags().IntVar(&flags.maxPages, "max-pages", 0, "scan at most N listing pages (overrides MAX_PAGES)")
	root.Flags().IntVar(&flags.stopAfterPages, "stop-after-pages", 0, "stop scanning after N pages (overrides STOP_AFTER_PAGES)")

	root.AddCommand(newCheckCmd())
	return root
}

// loadRuntime reads configuration and builds the logger shared by all commands.
func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := util.NewLogger(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

func runSync(cmd *cobra.Command, flags runFlags) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if flags.maxPages > 0 {
		cfg.Sync.MaxPages = flags.maxPages
	}
	if flags.stopAfterPages > 0 {
		cfg.Sync.StopAfterPages = flags.stopAfterPages
	}
	if flags.limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}

	logger.Info("dealsync starting",
		zap.Bool("dry_run", flags.dryRun),
		zap.Bool("once", flags.once),
		zap.Int("limit", flags.limit),
		zap.Int("max_pages", cfg.Sync.MaxPages),
		zap.Int("stop_after_pages", cfg.Sync.StopAfterPages),
		zap.String("log_level", cfg.Logging.Level),
	)

	ctx := cmd.Context()
	buildCtx, buildCancel := context.WithTimeout(ctx, 30*time.Second)
	container, err := app.Build(buildCtx, cfg, logger)
	buildCancel()
	if err != nil {
		logger.Error("Failed to assemble application services", zap.Error(err))
		return err
	}
	defer container.Close()

	opts := ingest.CycleOptions{
		DryRun:   flags.dryRun,
		Limit:    flags.limit,
		MaxPages: cfg.Sync.MaxPages,
	}
	sched := container.NewScheduler(opts)

	if flags.once || flags.dryRun {
		if _, err := sched.RunOnce(ctx); err != nil {
			logger.Error("Sync cycle failed", zap.Error(err))
			return err
		}
		return nil
	}

	sched.Start(ctx)
	logger.Info("Scheduler started, waiting for signals...")

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	sched.Stop()
	logger.Info("Shutdown complete")
	return nil
}
