// Package cmd defines and implements the CLI commands for the crawld
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/config"
	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/logging"
	"github.com/newsharvest/crawld/internal/store/memory"
	"github.com/newsharvest/crawld/internal/store/postgres"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawld",
		Short: "A distributed news crawler",
		Long: `crawld continuously fetches article pages from registered news sites,
extracts their content, and discovers new pages to crawl. Multiple instances
share one Postgres-backed queue; work is claimed atomically so instances can
be added or removed at any time.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAddCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRequeueCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by all commands.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, nil
}

// dataStore is the full persistence surface a command may need.
type dataStore interface {
	crawler.JobStore
	crawler.ArticleStore
	crawler.SourceStore
}

// openStore connects to Postgres when a DSN is configured, otherwise falls
// back to the in-memory store for local experiments. The returned closer is
// safe to call once.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (dataStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("no db.dsn configured, using in-memory store; state is lost on exit")
		return memory.New(), func() {}, nil
	}

	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, store.Close, nil
}
