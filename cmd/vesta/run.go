package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"meridian-hq/vesta/pkg/cli"
	"meridian-hq/vesta/pkg/config"
	"meridian-hq/vesta/pkg/secrets"
	"meridian-hq/vesta/pkg/telemetry/logging"
)

var runFlags struct {
	metricsAddress string
	logLevel       string
	dryRun         bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Vesta engine",
	Long: `Start the long-running Vesta engine: the rotation scheduler, the
environments file watcher, and the metrics endpoint.

Examples:
  # Start with default config
  vesta run

  # Start with custom config
  vesta run --config /etc/vesta/vesta.yaml

  # Validate config without starting
  vesta run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.metricsAddress, "metrics-listen", "", "override metrics listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	if runFlags.dryRun {
		if _, err := config.LoadConfigWithEnvOverrides(cfgFile); err != nil {
			return cli.NewConfigError("", err.Error())
		}
		fmt.Println("configuration valid")
		return nil
	}

	e, err := buildEngine(cfgFile)
	if err != nil {
		return err
	}
	defer e.Close()

	if runFlags.logLevel != "" {
		e.cfg.Telemetry.Logging.Level = runFlags.logLevel
		if _, err := logging.Setup(logging.Config{
			Level:  runFlags.logLevel,
			Format: e.cfg.Telemetry.Logging.Format,
		}); err != nil {
			return cli.NewConfigError("telemetry.logging", err.Error())
		}
	}
	if runFlags.metricsAddress != "" {
		e.cfg.Telemetry.Metrics.ListenAddress = runFlags.metricsAddress
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	var metricsServer *http.Server
	if e.cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.collector.Handler())
		metricsServer = &http.Server{
			Addr:         e.cfg.Telemetry.Metrics.ListenAddress,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("metrics endpoint listening", "address", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics endpoint failed", "error", err)
			}
		}()
	}

	var scheduler *secrets.Scheduler
	if e.cfg.Rotation.Enabled {
		scheduler = secrets.NewScheduler(e.rotator, e.rotStore, secrets.SchedulerConfig{
			Schedule: e.cfg.Rotation.Schedule,
			Poll:     e.cfg.Rotation.Poll,
		})
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer scheduler.Stop()
	}

	var watcher *config.EnvironmentsWatcher
	if e.cfg.Environments.Watch {
		watcher, err = config.NewEnvironmentsWatcher(e.cfg.Environments.File, 0)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		go func() {
			err := watcher.Watch(ctx, func(decls []config.EnvironmentConfig) error {
				return e.applyEnvironments(decls)
			})
			if err != nil {
				slog.Error("environments watcher exited", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	slog.Info("vesta engine running",
		"environments", e.envs.Names(),
		"rotation", e.cfg.Rotation.Enabled,
	)

	<-ctx.Done()
	slog.Info("shutting down")

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics endpoint shutdown failed", "error", err)
		}
	}
	return nil
}
