package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/imagearena/api/internal/catalog"
	"github.com/imagearena/api/internal/config"
	"github.com/imagearena/api/internal/database"
)

var Version = "dev"

var verbose bool

func main() {
	rootCmd := &cobra.Command{
		Use:           "arenactl",
		Short:         "Maintenance tool for the image arena",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(resetVotesCmd())
	rootCmd.AddCommand(resetCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(smokeCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what most commands need: configuration, a logger and, once
// asked for, the Postgres catalog
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.Postgres
}

func newEnv() (*env, error) {
	zapConfig := zap.NewDevelopmentConfig()
	zapConfig.DisableStacktrace = true
	if !verbose {
		zapConfig.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &env{cfg: config.Load(), logger: logger}, nil
}

// store connects to Postgres after applying pending migrations
func (e *env) store() (*catalog.Postgres, error) {
	if err := database.RunMigrations(e.cfg.DatabaseURL, e.logger); err != nil {
		return nil, err
	}
	db, err := database.NewPostgres(e.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	e.db = db
	return catalog.NewPostgres(db), nil
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
	_ = e.logger.Sync()
}

// withStore runs fn against the Postgres catalog
func withStore(fn func(ctx context.Context, e *env, store *catalog.Postgres) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		store, err := e.store()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), e, store)
	}
}
