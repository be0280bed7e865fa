package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newPurgeCmd() *cobra.Command {
	var (
		chunkSize int
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every stored product",
		Long: `Purge deletes all products in chunks of --chunk-size rows, one statement
per chunk, so a large table never holds one long lock. Product images are
removed with their products; vendors are kept.

Purge cannot be undone and requires --yes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("purge deletes every product; pass --yes to confirm")
			}

			svc, cfg, closeFn, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			if chunkSize <= 0 {
				chunkSize = cfg.Purge.ChunkSize
			}

			ctx := cmd.Context()
			if cfg.Purge.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.Purge.Timeout)
				defer cancel()
			}

			result, err := svc.Purge(ctx, chunkSize)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Deleted %d products before the failure\n", result.Deleted)
				return userError("purge", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d products in %d batches\n", result.Deleted, result.Batches)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "rows deleted per statement (default: PURGE_CHUNK_SIZE)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")
	return cmd
}
