package cli

import (
	"encoding/csv"
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newHeadersCmd() *cobra.Command {
	var asCSV bool

	cmd := &cobra.Command{
		Use:   "headers",
		Short: "Print the export column headers",
		Long: `Headers prints the columns in export order. The order comes from the
canonical template file when one is found (IMPORT_TEMPLATE_PATH, then
product_upload_template.csv in the working directory or its parent) and
from the built-in field table otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, closeFn, err := a.service(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer closeFn()

			schema := svc.Schema()
			headers := schema.Headers()
			out := cmd.OutOrStdout()

			if asCSV {
				w := csv.NewWriter(out)
				w.Write(headers)
				w.Flush()
				return w.Error()
			}

			source := "built-in field table"
			if schema.FromTemplate() {
				source = "template"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d columns from %s\n", len(headers), source)
			for _, h := range headers {
				fmt.Fprintln(out, h)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asCSV, "csv", false, "print the headers as a single CSV row")
	return cmd
}
