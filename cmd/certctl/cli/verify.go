package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/ledger"
)

func newVerify(ro *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify CODE",
		Short: "Look up the certificate a verification code belongs to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := a.Service.Verify(cmd.Context(), args[0])
			if errors.Is(err, ledger.ErrRecordNotFound) {
				return fmt.Errorf("no certificate carries code %s", args[0])
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"valid":       true,
				"issuance_id": record.IssuanceID,
				"template_id": record.TemplateID,
				"content_id":  record.ContentID,
				"issued_at":   record.UpdatedAt,
				"fields":      record.Fields,
			})
		},
	}
}
