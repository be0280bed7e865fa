package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shopsheet/internal/core"
	"github.com/JonMunkholm/shopsheet/internal/core/formats"
)

func (a *app) newExportCmd() *cobra.Command {
	var (
		format  string
		outPath string
		search  string
		filters []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export products to a CSV or XLSX file",
		Long: `Export streams stored products into a spreadsheet, one row per product
plus one row per extra product image, with headers in canonical order.

Filters use the same syntax as the HTTP API: Column=op:value, where op is
one of contains, eq, starts, ends, gt, gte, lt, lte, in. Repeat --filter to
combine filters.

Examples:
  shopsheet export
  shopsheet export --format xlsx --out catalog.xlsx
  shopsheet export --search oak --filter "Price=gt:100" --out -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, closeFn, err := a.service(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer closeFn()

			fmtValue := formats.ParseFormat(format)
			file, err := svc.PrepareExport(fmtValue)
			if err != nil {
				return userError("export", err)
			}

			filter, err := buildFilter(svc.Schema(), search, filters)
			if err != nil {
				return err
			}

			if outPath == "" {
				outPath = file.Filename
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}

			result, err := svc.Export(cmd.Context(), w, fmtValue, filter)
			if err != nil {
				if outPath != "-" {
					os.Remove(outPath)
				}
				return userError("export", err)
			}

			if outPath != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d products (%d rows) to %s in %s\n",
					result.Records, result.Rows, outPath, result.Duration.Round(time.Millisecond))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format: csv or xlsx")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", `output file, "-" for stdout (default: generated name)`)
	cmd.Flags().StringVarP(&search, "search", "s", "", "case-insensitive search across text columns")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "column filter as Column=op:value (repeatable)")
	return cmd
}

// buildFilter parses --filter values. Unlike the HTTP API, an invalid
// filter is an error rather than silently ignored.
func buildFilter(schema *core.Schema, search string, exprs []string) (core.RecordFilter, error) {
	filter := core.RecordFilter{Search: strings.TrimSpace(search)}
	for _, raw := range exprs {
		column, expr, ok := strings.Cut(raw, "=")
		if !ok {
			return filter, fmt.Errorf("invalid filter %q: want Column=op:value", raw)
		}
		cf, ok := schema.ParseColumnFilter(column, expr)
		if !ok {
			return filter, fmt.Errorf("invalid filter %q: unknown column or unsupported operator", raw)
		}
		filter.Filters = append(filter.Filters, cf)
	}
	return filter, nil
}
