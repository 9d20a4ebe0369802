package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"certificate-portal/certificate-backend/internal/fonts"
	"certificate-portal/certificate-backend/internal/templates"
)

type dirOptions struct {
	templatesDir string
	fontsDir     string
	fallback     fonts.Fallback
}

// resolve fills directories left unset from the configuration file
func (d *dirOptions) resolve(ro *RootOptions, needTemplates, needFonts bool) error {
	if (!needTemplates || d.templatesDir != "") && (!needFonts || d.fontsDir != "") {
		return nil
	}
	cfg, _, err := ro.load()
	if err != nil {
		return fmt.Errorf("set --templates-dir/--fonts-dir or provide a valid config: %w", err)
	}
	if d.templatesDir == "" {
		d.templatesDir = cfg.Paths.Templates
	}
	if d.fontsDir == "" {
		d.fontsDir = cfg.Paths.Fonts
		d.fallback = fonts.Fallback{Family: cfg.Fonts.FallbackFamily, Style: cfg.Fonts.FallbackStyle}
	}
	return nil
}

func newTemplates(ro *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect certificate templates",
	}
	cmd.AddCommand(newTemplatesList(ro), newTemplatesValidate(ro))
	return cmd
}

func newTemplatesList(ro *RootOptions) *cobra.Command {
	dirs := &dirOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List template ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dirs.resolve(ro, true, false); err != nil {
				return err
			}
			store, err := templates.NewStore(dirs.templatesDir, ro.logger())
			if err != nil {
				return err
			}
			ids, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirs.templatesDir, "templates-dir", "", "template directory (default: paths.certificate_templates)")
	return cmd
}

func newTemplatesValidate(ro *RootOptions) *cobra.Command {
	dirs := &dirOptions{}

	cmd := &cobra.Command{
		Use:   "validate [ID...]",
		Short: "Validate templates and check that their fonts and assets resolve",
		Long: `Validate parses each template, checks its structure and confirms that every
referenced font is available. With no ids every template in the directory is
checked. The command fails when any template is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dirs.resolve(ro, true, true); err != nil {
				return err
			}
			logger := ro.logger()
			store, err := templates.NewStore(dirs.templatesDir, logger)
			if err != nil {
				return err
			}
			registry, err := fonts.NewRegistry(dirs.fontsDir, dirs.fallback, logger)
			if err != nil {
				return err
			}

			ids := args
			if len(ids) == 0 {
				if ids, err = store.List(cmd.Context()); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			invalid := 0
			for _, id := range ids {
				problems := validateTemplate(cmd, store, registry, id)
				if len(problems) == 0 {
					fmt.Fprintf(out, "ok      %s\n", id)
					continue
				}
				invalid++
				fmt.Fprintf(out, "invalid %s\n", id)
				for _, p := range problems {
					fmt.Fprintf(out, "        - %s\n", p)
				}
			}

			if invalid > 0 {
				return fmt.Errorf("%d of %d templates invalid", invalid, len(ids))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dirs.templatesDir, "templates-dir", "", "template directory (default: paths.certificate_templates)")
	cmd.Flags().StringVar(&dirs.fontsDir, "fonts-dir", "", "font directory (default: paths.fonts)")
	return cmd
}

func validateTemplate(cmd *cobra.Command, store *templates.Store, registry *fonts.Registry, id string) []string {
	tmpl, err := store.Resolve(cmd.Context(), id)
	if err != nil {
		var verr *templates.ValidationError
		if errors.As(err, &verr) {
			return verr.Problems
		}
		return []string{err.Error()}
	}

	var problems []string
	for _, spec := range tmpl.FontRequests() {
		if _, err := registry.Resolve(spec.Family, spec.Style); err != nil {
			problems = append(problems, err.Error())
		}
	}
	return problems
}
