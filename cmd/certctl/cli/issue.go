package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/issuance"
)

func newIssue(ro *RootOptions) *cobra.Command {
	var (
		templateID string
		issuanceID string
		fields     []string
		out        string
	)

	cmd := &cobra.Command{
		Use:   "issue --template ID --field name=value...",
		Short: "Issue a single certificate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]any, len(fields))
			for _, f := range fields {
				name, value, ok := strings.Cut(f, "=")
				if !ok || name == "" {
					return fmt.Errorf("field %q must be name=value", f)
				}
				values[name] = value
			}

			a, err := ro.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := a.Service.Issue(cmd.Context(), issuance.Request{
				IssuanceID: issuanceID,
				TemplateID: templateID,
				Fields:     values,
			})
			if err != nil {
				return err
			}

			if out != "" {
				artifact, err := a.Service.Download(cmd.Context(), record.IssuanceID)
				if err != nil {
					return err
				}
				if artifact.URL != "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "artifact available at", artifact.URL)
				} else if err := os.WriteFile(out, artifact.Data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}

	cmd.Flags().StringVarP(&templateID, "template", "t", "", "template id")
	cmd.Flags().StringVar(&issuanceID, "id", "", "issuance id (idempotency key); derived from the input when empty")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "placeholder value as name=value, repeatable")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the PDF to this path")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}
