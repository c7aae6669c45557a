package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cabofitpass/backend/internal/app"
	"github.com/cabofitpass/backend/internal/config"
	"github.com/cabofitpass/backend/internal/logger"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "fitpassctl",
	Short: "Operate the FitPass credit engine",
	Long: `fitpassctl runs maintenance against the credit engine database:
schema migrations, the monthly credit rollover and ledger analytics.
Configuration comes from the same environment variables as the server.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file to load before the environment")
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	zl, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, zl, nil
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, zl, err := loadConfig()
	if err != nil {
		return nil, err
	}
	// migrations only run through the migrate command
	cfg.Database.AutoMigrate = false
	return app.New(ctx, cfg, zl)
}
