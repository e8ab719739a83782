package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/spf13/cobra"

	"github.com/GreedyKomodoDragon/backup-manager/internal/backup"
	"github.com/GreedyKomodoDragon/backup-manager/internal/config"
	"github.com/GreedyKomodoDragon/backup-manager/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "backup-manager",
		Short: "Archive configured directories and upload them to an S3-compatible bucket",
		Long: `Runs one backup: zips the configured directories, uploads the archive with a
multipart transfer and deletes bucket objects older than DaysAfterDelete.
Schedule it with cron or a systemd timer.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			return run(cmd.Context(), configPath, cmd, cmd.OutOrStdout(), clock.WallClock, level)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to the config file")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().String("work-dir", config.DefaultWorkDir, "directory the archive is written to")
	cmd.Flags().String("log-dir", config.DefaultLogDir, "directory run logs are written to")
	cmd.Flags().Int("compression-level", config.DefaultCompressionLevel, "zip compression level 1-9")

	return cmd
}

// run performs one backup. Stage failures are logged and do not make run fail;
// only bootstrap problems (unreadable config, log directory) are returned.
func run(ctx context.Context, configPath string, cmd *cobra.Command, console io.Writer, clk clock.Clock, level slog.Level) error {
	startedAt := clk.Now()
	stamp := startedAt.Format(backup.TimestampLayout)

	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := logging.New(console, cfg.RunConfig.LogDir, stamp, level)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer closer.Close()

	if cfg.ConfigPath != "" {
		logger.Info("Found and bound config.", "path", cfg.ConfigPath)
	} else {
		logger.Warn("No config file found, using defaults and environment", "path", configPath)
	}

	store := newObjectStore(ctx, cfg.S3Config, clk, logger)

	runner := backup.NewRunner(store, clk, logger, backup.RunOptions{
		Directories:                  cfg.GeneralConfig.Directories,
		Ignores:                      cfg.GeneralConfig.Ignores,
		RetentionDays:                cfg.GeneralConfig.DaysAfterDelete,
		Bucket:                       cfg.S3Config.BucketName,
		WorkDir:                      cfg.RunConfig.WorkDir,
		CompressionLevel:             cfg.RunConfig.CompressionLevel,
		SkipUploadOnArchiveFailure:   cfg.RunConfig.SkipUploadOnArchiveFailure,
		SkipRetentionOnUploadFailure: cfg.RunConfig.SkipRetentionOnUploadFailure,
	})
	runner.Run(ctx, startedAt)

	return nil
}

// newObjectStore builds the S3 store. Incomplete settings do not stop the run: the returned
// store reports the problem from the upload and retention stages.
func newObjectStore(ctx context.Context, s3Config config.S3Config, clk clock.Clock, logger *slog.Logger) backup.ObjectStore {
	if err := s3Config.Validate(); err != nil {
		logger.Warn("Object storage is not configured", "error", err)
		return backup.NewUnavailableStore(err)
	}

	client, err := backup.NewS3Client(ctx, backup.S3Config{
		Endpoint:        s3Config.ServiceURL,
		Region:          s3Config.RegionEndpoint,
		AccessKeyID:     s3Config.AccessKeyID,
		SecretAccessKey: s3Config.AccessKey,
	})
	if err != nil {
		logger.Error("Failed to create S3 client", "error", err)
		return backup.NewUnavailableStore(err)
	}

	logger.Info("S3 client initialized",
		"bucket", s3Config.BucketName,
		"region", s3Config.RegionEndpoint,
		"endpoint", s3Config.ServiceURL,
	)

	return backup.NewS3Store(client, clk, logger)
}
