package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/issuance"
)

func newReconcile(ro *RootOptions) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resume issuances left pending by an interrupted attempt",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			size := batchSize
			if size <= 0 {
				size = a.Config.Reconcile.BatchSize
			}
			summary, err := issuance.NewReconciler(a.Service, a.Ledger, size, a.Logger).RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale: %d completed, %d failed, %d skipped\n",
				summary.Scanned, summary.Completed, summary.Failed, summary.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per pass (default: reconcile.batch_size)")
	return cmd
}
