package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start background workers",
	Long:  `Run the outbox relay or the SLA sweep outside the HTTP server.`,
}

var sweepWorkerCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Evaluate SLA timers and expired approval tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(func(ctx context.Context, app *App) error {
			if runOnce {
				report, err := app.Sweeper.SweepOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("visited %d applications, %d failed\n", report.Visited, report.Failed)
				return nil
			}
			return app.Sweeper.Run(ctx, getDurationFlag(cmd, "interval", app.Config.SLA.SweepInterval))
		})
	},
}

var outboxWorkerCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Relay committed outbox events to subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(func(ctx context.Context, app *App) error {
			if runOnce {
				report, err := app.Relay.DispatchOnce(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("dispatched %d events, %d failed\n", report.Dispatched, report.Failed)
				return nil
			}
			return app.Relay.Run(ctx, getDurationFlag(cmd, "interval", app.Config.Outbox.PollInterval))
		})
	},
}

var (
	runOnce      bool
	maxWorkers   int
	jobQueueSize int
)

func runWorker(fn func(ctx context.Context, app *App) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Helpdesk.MaxWorkers = getIntFlag(maxWorkers, cfg.Helpdesk.MaxWorkers)
	cfg.Helpdesk.JobQueueSize = getIntFlag(jobQueueSize, cfg.Helpdesk.JobQueueSize)

	app, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return fn(ctx, app)
}

func getDurationFlag(cmd *cobra.Command, name string, configValue time.Duration) time.Duration {
	if v, err := cmd.Flags().GetDuration(name); err == nil && v > 0 {
		return v
	}
	return configValue
}

func getIntFlag(flagValue, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return configValue
}

func init() {
	for _, c := range []*cobra.Command{sweepWorkerCmd, outboxWorkerCmd} {
		c.Flags().BoolVar(&runOnce, "once", false, "run a single pass and exit")
		c.Flags().Duration("interval", 0, "pass interval (overrides config)")
	}
	outboxWorkerCmd.Flags().IntVar(&maxWorkers, "helpdesk-workers", 0, "Helpdesk ticket workers (overrides config)")
	outboxWorkerCmd.Flags().IntVar(&jobQueueSize, "helpdesk-queue-size", 0, "Helpdesk job queue buffer size (overrides config)")

	workerCmd.AddCommand(sweepWorkerCmd)
	workerCmd.AddCommand(outboxWorkerCmd)

	rootCmd.AddCommand(workerCmd)
}
