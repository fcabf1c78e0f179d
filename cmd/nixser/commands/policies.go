package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newPoliciesCommand(a *app) *cobra.Command {
	var pf policyFlags

	cmd := &cobra.Command{
		Use:   "policies",
		Short: "List the policies a render would be checked against",
		Long: `Load policies and list them with their severity.

Without --policy the built-in policies are listed. Loading compiles every
policy, so this also checks policy files for errors.`,
		Example: `  # Show the built-in policies
  nixser policies

  # Check a policy directory compiles
  nixser policies --policy ./policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(pf.paths) == 0 {
				pf.builtins = true
			}

			policies, err := a.newPolicyEngine(cmd.Context(), pf)
			if err != nil {
				return err
			}
			list := policies.ListPolicies()

			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), list)
			}

			out := cmd.OutOrStdout()
			st := newStyles(out)
			t := st.newTable("NAME", "SEVERITY", "ENABLED", "DESCRIPTION")
			for _, p := range list {
				t.Row(p.Name, string(p.Severity), strconv.FormatBool(p.Enabled), p.Description)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	pf.register(cmd)

	return cmd
}
