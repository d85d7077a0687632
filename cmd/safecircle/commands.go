package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SafeCircle/internal/app"
	"SafeCircle/internal/models"
	"SafeCircle/pkg/backup"
	"SafeCircle/pkg/config"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/util"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	addr string

	rootCmd = &cobra.Command{
		Use:           "safecircle",
		Short:         "Real-time safety coordination service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			return logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Mode)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the websocket channel and the sweeps",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE:  runMigrate,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Run the escalation and overdue sweeps once",
		RunE:  runSweep,
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a database snapshot to BACKUP_PATH",
		RunE:  runBackup,
	}
)

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides ADDR")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, backupCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.GlobalConfig
	if addr != "" {
		cfg.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(ctx); err != nil {
		return err
	}
	err = a.Serve(ctx)
	logger.Info("shutting down")
	return err
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.GlobalConfig
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, nil)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("schema migrated", zap.String("driver", cfg.DBDriver))
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, config.GlobalConfig)
	if err != nil {
		return err
	}
	// Close 会等待扫描触发的推送发送完
	defer a.Close()

	escalated, overdue, err := a.Services.RunSweeps(ctx)
	if err != nil {
		return err
	}
	logger.Info("sweeps finished", zap.Int("escalated", escalated), zap.Int("overdue", overdue))
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg := config.GlobalConfig
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, nil)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	bcfg, err := cfg.BackupConfig()
	if err != nil {
		return err
	}
	path, err := backup.Run(context.Background(), db, bcfg, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
