// Package cmd defines the CLI commands of the epaper crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/app"
	"github.com/JakeFAU/epaper-crawler/internal/config"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
)

const closeTimeout = 30 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the service surface the commands use. It lets tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context, key, date string) (crawler.RunResult, error)
	Sweep(ctx context.Context) (int64, error)
	Logger() *zap.Logger
	Close(ctx context.Context) error
}

// newApp is the application factory. Tests replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "epaper",
		Short: "Crawls daily e-paper editions of regional Chinese newspapers.",
		Long: `epaper discovers the articles of each configured newspaper edition,
stores their listings and serves them, with cached full bodies, over HTTP.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); EPAPER_* env vars override it")
	cmd.AddCommand(newServeCmd(), newCrawlCmd(), newSweepCmd())
	return cmd
}

// withApp runs fn against the App built by PersistentPreRunE and closes the
// App afterwards, whether or not fn failed.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a App) error) error {
	appInstance, ok := cmd.Context().Value(appKey).(App)
	if !ok || appInstance == nil {
		return errors.New("application services not initialized")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
		defer cancel()
		if err := appInstance.Close(ctx); err != nil {
			appInstance.Logger().Warn("close application services", zap.Error(err))
		}
	}()
	return fn(cmd.Context(), appInstance)
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
