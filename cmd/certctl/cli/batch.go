package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/batch"
)

func newBatch(ro *RootOptions) *cobra.Command {
	var (
		templateID  string
		sheet       string
		report      string
		concurrency int
	)

	long := `Issue one certificate per roster row.

ROSTER is an .xlsx or .csv file whose first row names the columns. The
issuance_id and template_id columns are optional; every other column is a
placeholder value. Rows without template_id use --template. Rows without
issuance_id get an id derived from their template and values, so re-running
the same roster does not issue twice.`

	cmd := &cobra.Command{
		Use:   "batch [OPTIONS] ROSTER",
		Short: "Issue certificates from a spreadsheet roster",
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roster, err := batch.ReadRoster(args[0], sheet)
			if err != nil {
				return err
			}

			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			runner := batch.NewRunner(a.Service, templateID, concurrency, a.Logger)
			results, summary, runErr := runner.Run(cmd.Context(), roster)

			if report != "" {
				if err := batch.WriteReport(report, results); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rows: %d completed, %d failed\n", summary.Total, summary.Completed, summary.Failed)

			if runErr != nil {
				return runErr
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d rows failed", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id for rows without a template_id column")
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet to read (default: first sheet)")
	cmd.Flags().StringVarP(&report, "report", "r", "", "write per-row results to this .xlsx or .csv file")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "rows issued in parallel")
	return cmd
}
