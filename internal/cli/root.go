// Package cli implements the shopsheet command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shopsheet/internal/config"
	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/logging"
	"github.com/JonMunkholm/shopsheet/internal/store/memory"
	"github.com/JonMunkholm/shopsheet/internal/store/postgres"
)

// OpenFunc connects to the backing store described by cfg. The returned
// close function releases it.
type OpenFunc func(ctx context.Context, cfg *config.Config) (core.Store, func(), error)

// app holds state shared by all subcommands.
type app struct {
	envFile   string
	logLevel  string
	logFormat string

	open OpenFunc
}

// NewRootCmd builds the command tree. open is used by every command that
// needs the database; nil means PostgreSQL.
func NewRootCmd(open OpenFunc) *cobra.Command {
	if open == nil {
		open = OpenPostgres
	}
	a := &app{open: open}

	root := &cobra.Command{
		Use:   "shopsheet",
		Short: "Import and export Shopify product sheets",
		Long: `shopsheet moves Shopify product listings between spreadsheet files
(CSV, XLSX, XLS) and PostgreSQL.

Configuration comes from the environment, optionally seeded from a .env file.
DATABASE_URL is required by every command that touches the database.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadEnv()
		},
	}

	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "environment file to load before reading configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format override: text, json")

	root.AddCommand(
		a.newImportCmd(),
		a.newExportCmd(),
		a.newPurgeCmd(),
		a.newHeadersCmd(),
		a.newServeCmd(),
	)
	return root
}

// Execute runs the CLI until completion or SIGINT/SIGTERM.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(nil).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (a *app) loadEnv() error {
	if a.envFile == "" {
		return nil
	}
	if err := godotenv.Load(a.envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", a.envFile, err)
	}
	return nil
}

// config loads configuration and installs the logger. offline skips the
// database requirements for commands that never connect.
func (a *app) config(offline bool) (*config.Config, error) {
	load := config.Load
	if offline {
		load = config.LoadOffline
	}
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Logging.Format = a.logFormat
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// service builds a Service over the configured store, or over an empty
// memory store when dryRun is set.
func (a *app) service(ctx context.Context, dryRun bool) (*core.Service, *config.Config, func(), error) {
	cfg, err := a.config(dryRun)
	if err != nil {
		return nil, nil, nil, err
	}

	if dryRun {
		return core.NewService(memory.New(), CoreOptions(cfg)), cfg, func() {}, nil
	}

	store, closeFn, err := a.open(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return core.NewService(store, CoreOptions(cfg)), cfg, closeFn, nil
}

// CoreOptions maps configuration onto service options. Without
// IMPORT_TEMPLATE_PATH the header template is looked up in the working
// directory and its parent.
func CoreOptions(cfg *config.Config) core.Options {
	// An explicit path is kept even when missing so the schema logs it
	templatePath := cfg.Import.TemplatePath
	if templatePath == "" {
		templatePath = core.FindTemplate("")
	}

	return core.Options{
		TemplatePath:   templatePath,
		BatchSize:      cfg.Import.BatchSize,
		MaxConcurrent:  cfg.Import.MaxConcurrent,
		MaxWait:        cfg.Import.MaxWait,
		ImportTimeout:  cfg.Import.Timeout,
		FilenamePrefix: cfg.Export.FilenamePrefix,
		FlushEvery:     cfg.Export.FlushInterval,
		PurgeChunkSize: cfg.Purge.ChunkSize,
	}
}

// OpenPostgres connects the pool, applies the schema when configured, and
// returns the PostgreSQL store.
func OpenPostgres(ctx context.Context, cfg *config.Config) (core.Store, func(), error) {
	pool, err := postgres.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		slog.Debug("schema applied")
	}

	return postgres.New(pool), pool.Close, nil
}

// userError turns a pipeline failure into the message shown on the
// terminal. The technical error is logged.
func userError(op string, err error) error {
	slog.Error(op+" failed", "error", err)
	if msg := core.FormatUserError(err); msg != "" && core.IsUserFacing(err) {
		return fmt.Errorf("%s: %s", op, msg)
	}
	return fmt.Errorf("%s: %w", op, err)
}
