package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/nixser/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the render history",
		Long: `Inspect and maintain the render history.

The history is a SQLite database named by --history or NIXSER_HISTORY.
Every render run against it records its outcome, policy
events and the hash of what it wrote.`,
	}

	cmd.AddCommand(newHistoryListCommand(a))
	cmd.AddCommand(newHistoryShowCommand(a))
	cmd.AddCommand(newHistoryPruneCommand(a))

	return cmd
}

// requireStore opens the history or explains how to configure one.
func (a *app) requireStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("no history database configured; set --history or NIXSER_HISTORY")
	}
	return store, nil
}

func newHistoryListCommand(a *app) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent renders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := a.requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			renders, err := store.ListRenders(ctx, limit, offset)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), renders)
			}

			out := cmd.OutOrStdout()
			st := newStyles(out)
			if len(renders) == 0 {
				fmt.Fprintln(out, st.muted.Render("no renders recorded"))
				return nil
			}

			t := st.newTable("ID", "STARTED", "STATUS", "FORMAT", "SOURCES", "OUTPUT", "DURATION")
			for _, r := range renders {
				output := r.Output
				if output == "" {
					output = "-"
				}
				t.Row(
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					st.status(r.Status),
					r.Format,
					strings.Join(r.Sources, ","),
					output,
					r.Duration.String(),
				)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum renders to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "renders to skip")

	return cmd
}

func newHistoryShowCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <render-id>",
		Short: "Show one render and its events",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := a.requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			render, err := store.GetRender(ctx, args[0])
			if err != nil {
				return err
			}
			events, err := store.GetEvents(ctx, render.ID, nil)
			if err != nil {
				return err
			}

			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"render": render,
					"events": events,
				})
			}

			out := cmd.OutOrStdout()
			st := newStyles(out)
			fmt.Fprintf(out, "Render:   %s\n", render.ID)
			fmt.Fprintf(out, "Status:   %s\n", st.status(render.Status))
			fmt.Fprintf(out, "Sources:  %s\n", strings.Join(render.Sources, ", "))
			fmt.Fprintf(out, "Format:   %s\n", render.Format)
			if render.Output != "" {
				fmt.Fprintf(out, "Output:   %s\n", render.Output)
			}
			if render.OutputHash != "" {
				fmt.Fprintf(out, "Hash:     %s (%d bytes)\n", render.OutputHash, render.OutputBytes)
			}
			fmt.Fprintf(out, "Started:  %s\n", render.StartedAt.Local().Format(time.RFC3339))
			fmt.Fprintf(out, "Duration: %s\n", render.Duration)
			if render.Error != nil {
				class := ""
				if render.ErrorClass != nil {
					class = "[" + *render.ErrorClass + "] "
				}
				fmt.Fprintf(out, "Error:    %s%s\n", class, *render.Error)
			}

			if len(events) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			t := st.newTable("#", "LEVEL", "MESSAGE")
			for _, e := range events {
				t.Row(strconv.FormatInt(e.ID, 10), string(e.Level), e.Message)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}

	return cmd
}

func newHistoryPruneCommand(a *app) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old renders and their events",
		Example: `  # Keep one week of history
  nixser history prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}

			store, err := a.requireStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.PruneRenders(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}

			a.logger.Info().Int64("pruned", n).Dur("older_than", olderThan).Msg("Pruned render history")
			if a.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]int64{"pruned": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d renders\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete renders started longer ago than this")

	return cmd
}
