package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/pilotgate/pkg/bootstrap"
	"github.com/platinummonkey/pilotgate/pkg/config"
	"github.com/platinummonkey/pilotgate/pkg/observability"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "usage-janitor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "usage-janitor",
		Short:         "Deletes expired daily usage counters",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var schedule string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Prune on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJanitor(cmd.Context(), func(ctx context.Context, j *janitor, cfg *config.Config) error {
				if schedule == "" {
					schedule = cfg.Gate.JanitorSchedule
				}
				return j.schedule(ctx, schedule)
			})
		},
	}
	runCmd.Flags().StringVar(&schedule, "schedule", "", "cron schedule, overrides PILOTGATE_JANITOR_SCHEDULE")

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Prune a single time and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJanitor(cmd.Context(), func(ctx context.Context, j *janitor, _ *config.Config) error {
				_, err := j.prune(ctx)
				return err
			})
		},
	}

	root.AddCommand(runCmd, onceCmd)
	return root
}

// withJanitor loads configuration, opens the counter store and hands a
// janitor to fn. It returns early when the backend expires keys itself.
func withJanitor(parent context.Context, fn func(context.Context, *janitor, *config.Config) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).
		WithField("service", "usage-janitor").
		WithField("version", Version)

	loc, err := cfg.Gate.Location()
	if err != nil {
		return err
	}

	stores, err := bootstrap.Open(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close stores")
		}
	}()

	pruner, ok := stores.Pruner()
	if !ok {
		logger.WithField("counter_backend", cfg.Storage.CounterBackend).
			Info("Counter backend expires buckets on its own, nothing to prune")
		return nil
	}

	return fn(ctx, newJanitor(pruner, cfg.Gate.CounterRetention, loc, quartz.NewReal(), logger), cfg)
}

func (j *janitor) schedule(ctx context.Context, expr string) error {
	c := cron.New(cron.WithLocation(j.loc))
	_, err := c.AddFunc(expr, func() {
		defer observability.RecoverPanic(j.logger, "usage janitor")
		if _, err := j.prune(ctx); err != nil {
			j.logger.WithError(err).Error("Prune failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", expr, err)
	}

	c.Start()
	j.logger.WithField("schedule", expr).Info("Usage janitor started")

	<-ctx.Done()
	j.logger.Info("Shutting down gracefully")
	<-c.Stop().Done()
	return nil
}
