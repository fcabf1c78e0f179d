package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openfroyo/nixser/pkg/engine"
	"github.com/openfroyo/nixser/pkg/policy"
	"github.com/openfroyo/nixser/pkg/transports/ssh"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// stdinSource is the argument that reads the document from standard input.
const stdinSource = "-"

func newRenderCommand(a *app) *cobra.Command {
	var (
		lf          loadFlags
		pf          policyFlags
		sf          sshFlags
		output      string
		dryRun      bool
		force       bool
		watch       bool
		parallel    int
		failFast    bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "render [files...]",
		Short: "Render documents as Nix",
		Long: `Render configuration documents as Nix expressions.

With a single input, --output names the file to write. With several inputs,
--output is a directory and each document is written to <name>.nix inside it.
Without --output the Nix text is printed. An output of the form
ssh://[user@]host[:port]/path is written to the remote host over SFTP.

An output that already holds the rendered text is left untouched.`,
		Example: `  # Print a NixOS module rendered from YAML
  nixser render host.yaml

  # Render a CUE package directory to a file, gated by policies
  nixser render ./hosts/web -o web.nix --policy ./policies

  # Render several hosts and keep re-rendering while they change
  nixser render hosts/*.cue -o out/ --watch --history .nixser/history.db

  # Install a rendered configuration on a host
  nixser render web.cue -o ssh://root@web/etc/nixos/configuration.nix

  # Read JSON from stdin
  terraform output -json | nixser render - --format json --expr web`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			reqs, err := buildRequests(cmd.InOrStdin(), args, output, lf.format)
			if err != nil {
				return err
			}
			for i := range reqs {
				reqs[i].DryRun = dryRun
				reqs[i].Force = force
			}

			opts := engine.Options{
				Load:        lf.options(),
				MaxParallel: parallel,
				FailFast:    failFast,
			}
			pool := a.sshPool(sf)
			defer pool.Close()

			eng, closeStore, err := a.newEngine(ctx, opts, pf, true, engine.WithRemotes(pool))
			if err != nil {
				return err
			}
			defer closeStore()

			if watch {
				return a.watch(ctx, cmd, eng, reqs, pf, metricsAddr)
			}

			results, renderErr := eng.RenderAll(ctx, reqs)
			if a.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), renderViews(reqs, results, renderErr)); err != nil {
					return err
				}
				return renderErr
			}

			printResults(cmd.OutOrStdout(), results)
			return renderErr
		},
	}

	lf.register(cmd)
	pf.register(cmd)
	sf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, or directory for several inputs")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "render without writing or recording")
	cmd.Flags().BoolVar(&force, "force", false, "write outputs even when unchanged")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when inputs or policies change")
	cmd.Flags().IntVarP(&parallel, "parallel", "j", engine.DefaultOptions().MaxParallel, "maximum concurrent renders")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "stop at the first failed render")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while watching")

	return cmd
}

// buildRequests maps arguments to render requests. A single input writes to
// output directly; several inputs treat output as a directory.
func buildRequests(stdin io.Reader, args []string, output, format string) ([]engine.RenderRequest, error) {
	reqs := make([]engine.RenderRequest, 0, len(args))
	multi := len(args) > 1

	for _, arg := range args {
		req := engine.RenderRequest{Source: arg}

		if arg == stdinSource {
			if multi {
				return nil, fmt.Errorf("stdin can only be rendered on its own")
			}
			data, err := readStdin(stdin, format)
			if err != nil {
				return nil, err
			}
			req.Source = "<stdin>"
			req.Data = data
		}

		switch {
		case output == "":
		case multi && ssh.IsTarget(output):
			if _, err := ssh.ParseTarget(output); err != nil {
				return nil, err
			}
			req.Output = strings.TrimSuffix(output, "/") + "/" + outputName(arg)
		case multi:
			req.Output = filepath.Join(output, outputName(arg))
		default:
			req.Output = output
		}

		reqs = append(reqs, req)
	}

	return reqs, nil
}

func readStdin(stdin io.Reader, format string) ([]byte, error) {
	if format == "" || format == "auto" {
		return nil, fmt.Errorf("reading from stdin requires --format")
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, fmt.Errorf("refusing to read a document from a terminal; pipe one in")
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return data, nil
}

// outputName derives <name>.nix from a source file or package directory.
func outputName(source string) string {
	base := filepath.Base(filepath.Clean(source))
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".nix"
}

// printResults prints the text of renders that were not written to a file.
func printResults(w io.Writer, results []*engine.RenderResult) {
	var printed []*engine.RenderResult
	for _, r := range results {
		if r != nil && r.Output == "" {
			printed = append(printed, r)
		}
	}

	for i, r := range printed {
		if len(printed) > 1 {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "# %s\n", r.Source)
		}
		fmt.Fprintln(w, r.Text)
	}
}

// renderView is the JSON form of one render outcome.
type renderView struct {
	ID        string                `json:"id,omitempty"`
	Source    string                `json:"source"`
	Format    string                `json:"format,omitempty"`
	Output    string                `json:"output,omitempty"`
	Text      string                `json:"text,omitempty"`
	Hash      string                `json:"hash,omitempty"`
	Written   bool                  `json:"written"`
	Unchanged bool                  `json:"unchanged"`
	Warnings  []policy.Violation    `json:"warnings,omitempty"`
	Duration  string                `json:"duration,omitempty"`
	Error     *engine.PipelineError `json:"error,omitempty"`
}

func newRenderView(req engine.RenderRequest, r *engine.RenderResult, err error) renderView {
	v := renderView{Source: req.Source, Output: req.Output}
	if r != nil {
		v.ID = r.ID
		v.Format = string(r.Format)
		v.Hash = r.Hash
		v.Written = r.Written
		v.Unchanged = r.Unchanged
		v.Warnings = r.Warnings
		v.Duration = r.Duration.Round(time.Microsecond).String()
		if r.Output == "" {
			v.Text = r.Text
		}
	}
	var pe *engine.PipelineError
	if errors.As(err, &pe) {
		v.Error = pe
	}
	return v
}

// renderViews pairs each request with its result and its share of the
// joined error.
func renderViews(reqs []engine.RenderRequest, results []*engine.RenderResult, err error) []renderView {
	errs := errorsBySource(err)
	views := make([]renderView, len(reqs))
	for i, req := range reqs {
		views[i] = newRenderView(req, results[i], errs[req.Source])
	}
	return views
}

func errorsBySource(err error) map[string]error {
	out := make(map[string]error)
	if err == nil {
		return out
	}

	var all []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		all = joined.Unwrap()
	} else {
		all = []error{err}
	}
	for _, e := range all {
		var pe *engine.PipelineError
		if errors.As(e, &pe) {
			out[pe.Source] = e
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// watch renders until interrupted, printing each outcome.
func (a *app) watch(ctx context.Context, cmd *cobra.Command, eng *engine.Engine, reqs []engine.RenderRequest, pf policyFlags, metricsAddr string) error {
	for _, req := range reqs {
		if req.Data != nil {
			return fmt.Errorf("stdin cannot be watched")
		}
	}

	if metricsAddr != "" {
		metrics := a.tel.Metrics
		go func() {
			if err := metrics.ServeOn(ctx, metricsAddr); err != nil {
				a.logger.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed")
			}
		}()
	}

	a.logger.Info().Int("sources", len(reqs)).Msg("Watching for changes, press Ctrl+C to stop")

	out := cmd.OutOrStdout()
	return eng.Watch(ctx, reqs, engine.WatchOptions{
		PolicyPaths: pf.paths,
		OnResult: func(req engine.RenderRequest, result *engine.RenderResult, err error) {
			if err != nil {
				a.logger.Error().Err(err).Str("source", req.Source).Msg("Render failed")
				return
			}
			if a.jsonOutput {
				_ = writeJSON(out, newRenderView(req, result, nil))
				return
			}
			printResults(out, []*engine.RenderResult{result})
		},
	})
}
