package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/nixser/pkg/config"
	"github.com/openfroyo/nixser/pkg/engine"
	"github.com/openfroyo/nixser/pkg/policy"
	"github.com/openfroyo/nixser/pkg/stores"
	"github.com/openfroyo/nixser/pkg/telemetry"
	"github.com/openfroyo/nixser/pkg/transports/ssh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app holds the global flags and the state built from them.
type app struct {
	version string

	verbose       bool
	logFormat     string
	jsonOutput    bool
	historyPath   string
	traceExporter string
	traceEndpoint string

	tel    *telemetry.Telemetry
	logger zerolog.Logger
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	return newRootCommand(version, commit, buildDate).ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	a := &app{version: version}

	rootCmd := &cobra.Command{
		Use:   "nixser",
		Short: "nixser - render configuration documents as Nix",
		Long: `nixser converts configuration documents into Nix expressions.

Inputs:
  - CUE files and CUE package directories
  - Starlark scripts (top-level globals form the document)
  - YAML (with !path and !nix tags) and JSON
  - WASI generator modules (.wasm) that print a JSON document

Documents can be checked against CUE schemas and Rego policies before they
are written, and every render can be recorded in a SQLite history.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.tel == nil {
				return nil
			}
			return a.tel.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format (console, json)")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&a.historyPath, "history", os.Getenv("NIXSER_HISTORY"), "render history database (SQLite)")
	rootCmd.PersistentFlags().StringVar(&a.traceExporter, "trace-exporter", "", "trace exporter (stdout, otlp); tracing is off when empty")
	rootCmd.PersistentFlags().StringVar(&a.traceEndpoint, "trace-endpoint", "", "OTLP collector endpoint")

	rootCmd.AddCommand(newRenderCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newInspectCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newPoliciesCommand(a))

	return rootCmd
}

// setup builds telemetry from the global flags and LOG_LEVEL.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := telemetry.DefaultConfig()
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}
	cfg.Logging.Format = a.logFormat
	if a.traceExporter != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = a.traceExporter
		cfg.Tracing.Endpoint = a.traceEndpoint
	}
	if a.version != "" {
		cfg.ServiceVersion = a.version
	}

	tel, err := telemetry.NewTelemetryWithWriter(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	a.tel = tel
	a.logger = tel.Logger.Zerolog()
	log.Logger = a.logger
	return nil
}

// loadFlags are the decoding flags shared by render, validate and inspect.
type loadFlags struct {
	format      string
	expr        string
	schema      string
	evalTimeout time.Duration
	wasmMemory  uint32
}

func (f *loadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.format, "format", "f", "auto", "input format (auto, cue, star, yaml, json, wasm)")
	cmd.Flags().StringVarP(&f.expr, "expr", "e", "", "render only this dotted attribute path")
	cmd.Flags().StringVar(&f.schema, "schema", "", "validate against a built-in schema (module, package, flake)")
	cmd.Flags().DurationVar(&f.evalTimeout, "eval-timeout", config.DefaultOptions().EvalTimeout, "time limit for Starlark scripts and WASM generators")
	cmd.Flags().Uint32Var(&f.wasmMemory, "wasm-memory-pages", 0, "memory cap for WASM generators in 64 KiB pages (0 for 16 MiB)")
}

func (f *loadFlags) options() config.Options {
	return config.Options{
		Format:          config.Format(f.format),
		Expr:            f.expr,
		Schema:          f.schema,
		EvalTimeout:     f.evalTimeout,
		WASMMemoryPages: f.wasmMemory,
	}
}

// policyFlags select the policies renders are gated by.
type policyFlags struct {
	paths    []string
	builtins bool
}

func (f *policyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.paths, "policy", "p", nil, "Rego policy files or directories")
	cmd.Flags().BoolVar(&f.builtins, "builtin-policies", false, "enable the built-in policies")
}

// newPolicyEngine returns nil when no policies were requested.
func (a *app) newPolicyEngine(ctx context.Context, f policyFlags) (*policy.Engine, error) {
	if len(f.paths) == 0 && !f.builtins {
		return nil, nil
	}

	var opts []policy.EngineOption
	if f.builtins {
		opts = append(opts, policy.WithBuiltins())
	}
	policies, err := policy.NewEngine(a.logger, opts...)
	if err != nil {
		return nil, err
	}
	if len(f.paths) > 0 {
		if err := policies.LoadPolicies(ctx, f.paths); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// sshFlags configure connections for ssh:// outputs.
type sshFlags struct {
	user       string
	keyPath    string
	knownHosts string
	insecure   bool
	timeout    time.Duration
}

func (f *sshFlags) register(cmd *cobra.Command) {
	defaults := ssh.DefaultConfig("", "")
	cmd.Flags().StringVar(&f.user, "ssh-user", os.Getenv("USER"), "user for ssh:// outputs without one")
	cmd.Flags().StringVar(&f.keyPath, "ssh-key", "", "private key for ssh:// outputs (default: SSH agent)")
	cmd.Flags().StringVar(&f.knownHosts, "ssh-known-hosts", defaults.KnownHostsPath, "known_hosts file for ssh:// outputs")
	cmd.Flags().BoolVar(&f.insecure, "ssh-insecure", false, "accept any host key for ssh:// outputs")
	cmd.Flags().DurationVar(&f.timeout, "ssh-timeout", defaults.ConnectionTimeout, "connection timeout for ssh:// outputs")
}

// sshPool returns a connection pool for ssh:// outputs. Nothing is dialled
// until an output needs it.
func (a *app) sshPool(f sshFlags) *ssh.Pool {
	base := ssh.DefaultConfig("", f.user)
	base.KnownHostsPath = f.knownHosts
	base.StrictHostKeyChecking = !f.insecure
	base.ConnectionTimeout = f.timeout
	if f.keyPath != "" {
		base.AuthMethod = ssh.AuthMethodKey
		base.PrivateKeyPath = f.keyPath
	}
	return ssh.NewPool(*base, a.logger)
}

// openStore opens the history database, or returns nil when none is set.
func (a *app) openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.historyPath == "" {
		return nil, nil
	}
	if a.historyPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.historyPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, a.historyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

// newEngine wires loader options, policies and history into an engine. The
// returned close function releases the history store.
func (a *app) newEngine(ctx context.Context, opts engine.Options, pf policyFlags, record bool, extra ...engine.Option) (*engine.Engine, func(), error) {
	options := append([]engine.Option{engine.WithTelemetry(a.tel)}, extra...)
	closeFn := func() {}

	policies, err := a.newPolicyEngine(ctx, pf)
	if err != nil {
		return nil, closeFn, err
	}
	if policies != nil {
		options = append(options, engine.WithPolicies(policies))
	}

	if record {
		store, err := a.openStore(ctx)
		if err != nil {
			return nil, closeFn, err
		}
		if store != nil {
			options = append(options, engine.WithStore(store))
			closeFn = func() { _ = store.Close() }
		}
	}

	eng, err := engine.NewEngine(opts, a.logger, options...)
	if err != nil {
		closeFn()
		return nil, func() {}, err
	}
	return eng, closeFn, nil
}
