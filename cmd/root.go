// Package cmd defines the danfs-crawler command line.
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

	"github.com/JakeFAU/danfs-crawler/internal/config"
	"github.com/JakeFAU/danfs-crawler/internal/logging"
	"github.com/JakeFAU/danfs-crawler/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X ...cmd.version=...".
var version = "dev"

type appKeyType string

const appKey appKeyType = "app"

// app holds the services shared by every subcommand.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	shutdown telemetry.ShutdownFunc
}

func (a *app) close(ctx context.Context) {
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// loadApp is a variable so tests can inject their own services.
var loadApp = func(ctx context.Context, cfgFile string) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return &app{cfg: cfg, logger: logger, shutdown: shutdown}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "danfs-crawler",
		Short: "Crawls the DANFS ship histories into a local store.",
		Long: `danfs-crawler walks the ship-history index APIs of the Naval History
and Heritage Command site, fetches every detail page, extracts the history
text and upserts one record per ship into the configured sink.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app, error) {
	a, ok := ctx.Value(appKey).(*app)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "danfs-crawler: %v\n", err)
		os.Exit(1)
	}
}
