// Package cli implements certctl, the operator command line for the
// certificate issuance service.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/app"
	"certificate-portal/certificate-backend/internal/config"
)

// RootOptions are the flags shared by every subcommand
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// New builds the certctl command tree
func New() *cobra.Command {
	ro := &RootOptions{}

	cmd := &cobra.Command{
		Use:          "certctl",
		Short:        "Operate the certificate issuance service",
		SilenceUsage: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.json"
	}
	cmd.PersistentFlags().StringVar(&ro.ConfigPath, "config", defaultConfig, "path to the JSON configuration file")
	cmd.PersistentFlags().StringVar(&ro.LogLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(
		newIssue(ro),
		newBatch(ro),
		newTemplates(ro),
		newFonts(ro),
		newVerify(ro),
		newReconcile(ro),
	)
	return cmd
}

func (o *RootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// open wires the full service; callers must Close the app
func (o *RootOptions) open(ctx context.Context) (*app.App, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, logger)
}

// logger builds a logger without requiring a complete configuration
func (o *RootOptions) logger() *zap.Logger {
	level := o.LogLevel
	if level == "" {
		level = "warn"
	}
	logger, err := app.NewLogger(config.LoggingConfig{Level: level, Format: "console"})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
