package commands

import (
	"github.com/openfroyo/nixser/pkg/config"
	"github.com/spf13/cobra"
)

func newInspectCommand(a *app) *cobra.Command {
	var lf loadFlags

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show a decoded document as JSON",
		Long: `Decode a document and print the value tree it produces as JSON.

This is the data policies see as input.data. Paths and literal Nix
expressions appear as their text. With --json the document name and
detected format are included.`,
		Example: `  # See what a Starlark script evaluates to
  nixser inspect host.star

  # Inspect one attribute of a CUE package
  nixser inspect ./hosts --expr services.nginx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reqs, err := buildRequests(cmd.InOrStdin(), args, "", lf.format)
			if err != nil {
				return err
			}
			req := reqs[0]

			loader, err := config.NewLoader(lf.options(), a.logger)
			if err != nil {
				return err
			}

			var doc *config.Document
			if req.Data != nil {
				doc, err = loader.LoadSource(ctx, config.Source{Name: req.Source, Data: req.Data})
			} else {
				doc, err = loader.Load(ctx, req.Source)
			}
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"name":      doc.Name,
					"format":    doc.Format,
					"loaded_at": doc.LoadedAt,
					"data":      doc.Data(),
				})
			}
			return writeJSON(cmd.OutOrStdout(), doc.Data())
		},
	}

	lf.register(cmd)

	return cmd
}
