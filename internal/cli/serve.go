package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shopsheet/internal/config"
	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/web"
)

func (a *app) newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve starts the HTTP API on SERVER_HOST:SERVER_PORT and runs until
interrupted. Running imports get SERVER_SHUTDOWN_TIMEOUT to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config(false)
			if err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg, a.open)
		},
	}
}

// Serve opens the store and runs the HTTP server until ctx is cancelled.
func Serve(ctx context.Context, cfg *config.Config, open OpenFunc) error {
	if open == nil {
		open = OpenPostgres
	}

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"db_max_conns", cfg.Database.MaxConns,
		"import_max_concurrent", cfg.Import.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"require_api_key", cfg.Security.RequireAPIKey,
	)

	store, closeFn, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	svc := core.NewService(store, CoreOptions(cfg))

	var pinger web.Pinger
	if p, ok := store.(web.Pinger); ok {
		pinger = p
	}

	return web.NewServer(svc, cfg, pinger).Run(ctx)
}
