package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"solarpi/internal/acquire"
	"solarpi/internal/config"
	"solarpi/internal/store"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the acquisition daemon",
	Long: `Run the telemetry daemon: discover both devices, keep them streaming
and record snapshots to the database until interrupted.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := configPath(cmd)
	cfg := config.Load(path, logger)

	db, err := store.Open(cfg.DatabasePath, cfg.RetentionDays, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	monitor, err := acquire.New(acquire.Options{
		ConfigPath: path,
		Logger:     logger,
		Sink:       db,
	})
	if err != nil {
		return fmt.Errorf("failed to start acquisition: %w", err)
	}

	logger.WithField("config", path).Info("Daemon starting")
	monitor.Run(ctx)
	logger.Info("Daemon stopped")
	return nil
}
