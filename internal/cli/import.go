package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

func (a *app) newImportCmd() *cobra.Command {
	var (
		format string
		sheet  string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a product sheet",
		Long: `Import reads a CSV, XLSX or XLS product sheet and inserts every row in a
single transaction. Any failure rolls the whole file back.

The format is taken from the file extension unless --format is given.
With --dry-run the file is parsed and mapped against an in-memory store and
nothing is written to the database.

Examples:
  shopsheet import products.csv
  shopsheet import catalog.xlsx --sheet Furniture
  shopsheet import legacy.dat --format xls --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer f.Close()

			stat, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			fmtValue := formats.ParseFormat(format)
			if fmtValue == "" {
				fmtValue = formats.FromFilename(path)
			}

			svc, _, closeFn, err := a.service(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			defer closeFn()

			result, err := svc.ImportFile(cmd.Context(), f, core.ImportRequest{
				Format: fmtValue,
				Sheet:  sheet,
				Size:   stat.Size(),
				Source: filepath.Base(path),
				OnProgress: func(p core.ImportProgress) {
					slog.Info("import progress",
						"run_id", p.RunID,
						"rows", p.Rows,
						"created", p.Created,
						"percent", p.Percent,
					)
				},
			})
			if err != nil {
				return userError("import", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Imported %d products from %s (%d image rows, %d skipped) in %s\n",
				result.Created, result.Source, result.Attachments, result.Skipped,
				result.Duration.Round(time.Millisecond))
			if dryRun {
				fmt.Fprintln(out, "Dry run: nothing was written to the database.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "", "source format: csv, xlsx or xls (default: from extension)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet name or zero-based index (default: first sheet)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "parse and map the file without writing to the database")
	return cmd
}
