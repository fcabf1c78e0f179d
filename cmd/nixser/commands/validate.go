package commands

import (
	"errors"
	"fmt"

	"github.com/openfroyo/nixser/pkg/engine"
	"github.com/spf13/cobra"
)

func newValidateCommand(a *app) *cobra.Command {
	var (
		lf       loadFlags
		pf       policyFlags
		parallel int
	)

	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Check that documents load, pass policies and encode",
		Long: `Validate documents without writing anything.

Each document is loaded, checked against its schema and policies and
encoded. Nothing is written and nothing is recorded in the history.`,
		Example: `  # Validate every host definition
  nixser validate hosts/*.cue

  # Validate against the built-in policies and a custom set
  nixser validate host.yaml --builtin-policies --policy ./policies`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reqs, err := buildRequests(cmd.InOrStdin(), args, "", lf.format)
			if err != nil {
				return err
			}
			for i := range reqs {
				reqs[i].DryRun = true
			}

			opts := engine.Options{Load: lf.options(), MaxParallel: parallel}
			eng, closeStore, err := a.newEngine(ctx, opts, pf, false)
			if err != nil {
				return err
			}
			defer closeStore()

			results, renderErr := eng.RenderAll(ctx, reqs)
			if a.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), renderViews(reqs, results, renderErr)); err != nil {
					return err
				}
			} else {
				printValidation(cmd, reqs, results, renderErr)
			}

			if renderErr == nil {
				return nil
			}
			failed := 0
			for _, r := range results {
				if r == nil {
					failed++
				}
			}
			return fmt.Errorf("%d of %d documents failed validation", failed, len(reqs))
		},
	}

	lf.register(cmd)
	pf.register(cmd)
	cmd.Flags().IntVarP(&parallel, "parallel", "j", engine.DefaultOptions().MaxParallel, "maximum concurrent validations")

	return cmd
}

func printValidation(cmd *cobra.Command, reqs []engine.RenderRequest, results []*engine.RenderResult, renderErr error) {
	out := cmd.OutOrStdout()
	st := newStyles(out)
	errs := errorsBySource(renderErr)

	for i, req := range reqs {
		if err := errs[req.Source]; err != nil {
			var pe *engine.PipelineError
			msg := err.Error()
			if errors.As(err, &pe) {
				msg = pe.Message
				if pe.Err != nil {
					msg += ": " + pe.Err.Error()
				}
			}
			fmt.Fprintf(out, "%s %s %s\n", st.fail.Render("FAIL"), req.Source, st.muted.Render(msg))
			continue
		}

		r := results[i]
		if r == nil {
			continue
		}
		if len(r.Warnings) == 0 {
			fmt.Fprintf(out, "%s   %s\n", st.ok.Render("ok"), req.Source)
			continue
		}
		for _, w := range r.Warnings {
			fmt.Fprintf(out, "%s %s %s\n", st.warn.Render("WARN"), req.Source, st.muted.Render(w.Policy+": "+w.Message))
		}
	}
}
