package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/fonts"
)

func newFonts(ro *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fonts",
		Short: "Inspect the font registry",
	}
	cmd.AddCommand(newFontsList(ro))
	return cmd
}

func newFontsList(ro *RootOptions) *cobra.Command {
	dirs := &dirOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the fonts available to templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dirs.resolve(ro, false, true); err != nil {
				return err
			}
			registry, err := fonts.NewRegistry(dirs.fontsDir, dirs.fallback, ro.logger())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FAMILY\tSTYLE\tSOURCE")
			for _, res := range registry.List() {
				source := res.Path
				if res.Core {
					source = "(core)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", res.Family, res.Style, source)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&dirs.fontsDir, "fonts-dir", "", "font directory (default: paths.fonts)")
	return cmd
}
