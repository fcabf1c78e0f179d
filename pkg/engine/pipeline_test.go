package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/nixser/pkg/config"
	"github.com/openfroyo/nixser/pkg/policy"
	"github.com/openfroyo/nixser/pkg/stores"
	"github.com/openfroyo/nixser/pkg/telemetry"
	"github.com/rs/zerolog"
)

const hostJSON = `{"hostName": "web", "port": 80}`

const hostNix = "{\n  hostName = \"web\";\n  port = 80;\n}"

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func newTestEngine(t *testing.T, options ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(DefaultOptions(), zerolog.Nop(), options...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return eng
}

func newTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestPolicies(t *testing.T, rego string) *policy.Engine {
	t.Helper()
	p, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	if rego != "" {
		err := p.AddPolicy(context.Background(), policy.Policy{
			Name:     "hosts",
			Rego:     rego,
			Severity: policy.SeverityError,
			Enabled:  true,
		})
		if err != nil {
			t.Fatalf("failed to add policy: %v", err)
		}
	}
	return p
}

func TestNewEngine_Options(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxParallel = -1
	if _, err := NewEngine(opts, zerolog.Nop()); err == nil {
		t.Error("expected error for negative parallelism")
	}

	opts = DefaultOptions()
	opts.Load.Format = "toml"
	if _, err := NewEngine(opts, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown format")
	}

	opts = Options{}
	eng, err := NewEngine(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("zero options should be valid: %v", err)
	}
	if eng.opts.MaxParallel != DefaultOptions().MaxParallel {
		t.Errorf("expected default parallelism, got %d", eng.opts.MaxParallel)
	}
}

func TestRender_Stdout(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)

	result, err := newTestEngine(t).Render(context.Background(), RenderRequest{Source: src})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	if result.Text != hostNix {
		t.Errorf("unexpected text:\n%s", result.Text)
	}
	if result.Format != config.FormatJSON {
		t.Errorf("expected json format, got %s", result.Format)
	}
	if result.ID == "" || len(result.Hash) != 64 {
		t.Errorf("expected an ID and a sha256 hash, got %q %q", result.ID, result.Hash)
	}
	if result.Written {
		t.Error("nothing should be written without an output")
	}
}

func TestRender_InlineData(t *testing.T) {
	result, err := newTestEngine(t).Render(context.Background(), RenderRequest{
		Source: "stdin.yaml",
		Data:   []byte("hostName: web\nport: 80\n"),
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.Text != hostNix {
		t.Errorf("unexpected text:\n%s", result.Text)
	}
}

func TestRender_WriteAndSkipUnchanged(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)
	out := filepath.Join(dir, "out", "host.nix")

	store := newTestStore(t)
	tel := telemetry.NewDiscard()
	eng := newTestEngine(t, WithStore(store), WithTelemetry(tel))
	ctx := context.Background()

	first, err := eng.Render(ctx, RenderRequest{Source: src, Output: out})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !first.Written {
		t.Error("expected first render to write")
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if string(data) != hostNix {
		t.Errorf("unexpected file content:\n%s", data)
	}

	second, err := eng.Render(ctx, RenderRequest{Source: src, Output: out})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if second.Written || !second.Unchanged {
		t.Errorf("expected unchanged output to be skipped: %+v", second)
	}

	forced, err := eng.Render(ctx, RenderRequest{Source: src, Output: out, Force: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !forced.Written {
		t.Error("expected forced render to write")
	}

	abs, _ := filepath.Abs(out)
	state, err := store.GetOutput(ctx, abs)
	if err != nil {
		t.Fatalf("output state missing: %v", err)
	}
	if state.Hash != first.Hash || state.LastRenderID != forced.ID {
		t.Errorf("unexpected output state: %+v", state)
	}

	renders, err := store.ListRenders(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRenders failed: %v", err)
	}
	if len(renders) != 3 {
		t.Fatalf("expected 3 recorded renders, got %d", len(renders))
	}
	if renders[0].Status != stores.RenderStatusSucceeded || renders[0].Sources[0] != src {
		t.Errorf("unexpected render record: %+v", renders[0])
	}
}

func TestRender_Drift(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)
	out := filepath.Join(dir, "host.nix")

	store := newTestStore(t)
	eng := newTestEngine(t, WithStore(store))
	ctx := context.Background()

	if _, err := eng.Render(ctx, RenderRequest{Source: src, Output: out}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	writeFile(t, dir, "host.nix", "# edited by hand\n")

	result, err := eng.Render(ctx, RenderRequest{Source: src, Output: out})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !result.Written {
		t.Error("expected drifted output to be rewritten")
	}

	level := stores.EventLevelWarning
	events, err := store.GetEvents(ctx, result.ID, &level)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 || !strings.Contains(events[0].Message, "modified") {
		t.Errorf("expected a drift warning, got %+v", events)
	}
}

func TestRender_DryRun(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)
	out := filepath.Join(dir, "host.nix")

	store := newTestStore(t)
	eng := newTestEngine(t, WithStore(store))

	result, err := eng.Render(context.Background(), RenderRequest{Source: src, Output: out, DryRun: true})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.Text != hostNix || result.Written {
		t.Errorf("unexpected dry run result: %+v", result)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("dry run should not write")
	}

	renders, err := store.ListRenders(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListRenders failed: %v", err)
	}
	if len(renders) != 0 {
		t.Errorf("dry run should not be recorded, got %d renders", len(renders))
	}
}

func TestRender_Errors(t *testing.T) {
	dir := t.TempDir()
	blocker := writeFile(t, dir, "blocker", "")

	tests := []struct {
		name  string
		req   RenderRequest
		class ErrorClass
		stage Stage
	}{
		{
			name:  "missing source name",
			req:   RenderRequest{},
			class: ErrorClassInvalidInput,
			stage: StageValidate,
		},
		{
			name:  "missing file",
			req:   RenderRequest{Source: filepath.Join(dir, "absent.json")},
			class: ErrorClassInvalidInput,
			stage: StageLoad,
		},
		{
			name:  "malformed json",
			req:   RenderRequest{Source: writeFile(t, dir, "bad.json", `{"a": `)},
			class: ErrorClassInvalidInput,
			stage: StageLoad,
		},
		{
			name:  "unknown format",
			req:   RenderRequest{Source: writeFile(t, dir, "host.toml", "a = 1")},
			class: ErrorClassInvalidInput,
			stage: StageLoad,
		},
		{
			name: "output under a file",
			req: RenderRequest{
				Source: writeFile(t, dir, "ok.json", hostJSON),
				Output: filepath.Join(blocker, "host.nix"),
			},
			class: ErrorClassIO,
			stage: StageWrite,
		},
		{
			name: "remote output without remotes",
			req: RenderRequest{
				Source: writeFile(t, dir, "ok.json", hostJSON),
				Output: "ssh://root@web/etc/nixos/host.nix",
			},
			class: ErrorClassIO,
			stage: StageWrite,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Render(context.Background(), tt.req)
			if err == nil {
				t.Fatal("expected error")
			}
			var pe *PipelineError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *PipelineError, got %T: %v", err, err)
			}
			if pe.Class != tt.class || pe.Stage != tt.stage {
				t.Errorf("expected %s/%s, got %s/%s (%v)", tt.class, tt.stage, pe.Class, pe.Stage, err)
			}
		})
	}
}

func TestRender_PolicyDenied(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", `{"hostName": "web", "users": {"root": {"password": "hunter2"}}}`)
	out := filepath.Join(dir, "host.nix")

	policies, err := policy.NewEngine(zerolog.Nop(), policy.WithBuiltins())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	store := newTestStore(t)
	eng := newTestEngine(t, WithPolicies(policies), WithStore(store))
	ctx := context.Background()

	_, err = eng.Render(ctx, RenderRequest{Source: src, Output: out})
	if !IsPolicyDenied(err) {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if !strings.Contains(err.Error(), "plaintext-secrets") {
		t.Errorf("expected error to name the policy, got %v", err)
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		violations, ok := pe.Details["violations"].([]policy.Violation)
		if !ok || len(violations) != 1 || violations[0].Path != "users.root.password" {
			t.Errorf("unexpected violation details: %+v", pe.Details)
		}
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("denied render should not write")
	}

	renders, err := store.ListRenders(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListRenders failed: %v", err)
	}
	if len(renders) != 1 || renders[0].Status != stores.RenderStatusDenied {
		t.Fatalf("expected one denied render, got %+v", renders)
	}
	if renders[0].ErrorClass == nil || *renders[0].ErrorClass != string(ErrorClassPolicyDenied) {
		t.Errorf("expected error class policy_denied, got %v", renders[0].ErrorClass)
	}

	level := stores.EventLevelError
	events, err := store.GetEvents(ctx, renders[0].ID, &level)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected one violation event, got %+v", events)
	}
}

func TestRender_PolicyWarning(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)

	policies := newTestPolicies(t, `package hosts

deny contains v if {
	input.data.port == 80
	v := {"message": "port 80 is unencrypted", "severity": "warning", "path": "port"}
}
`)
	eng := newTestEngine(t, WithPolicies(policies))

	result, err := eng.Render(context.Background(), RenderRequest{Source: src})
	if err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Path != "port" {
		t.Errorf("expected one warning on port, got %+v", result.Warnings)
	}
}

func TestRender_PolicyContext(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)

	policies := newTestPolicies(t, `package hosts

deny contains "real renders are frozen" if {
	not input.context.dry_run
	input.context.operation == "render"
	input.format == "json"
}
`)
	eng := newTestEngine(t, WithPolicies(policies))
	ctx := context.Background()

	if _, err := eng.Render(ctx, RenderRequest{Source: src, DryRun: true}); err != nil {
		t.Errorf("dry run should pass: %v", err)
	}
	if _, err := eng.Render(ctx, RenderRequest{Source: src}); !IsPolicyDenied(err) {
		t.Errorf("expected denial, got %v", err)
	}
}

func TestRender_Expr(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", `{"hosts": {"web": {"port": 80}}}`)

	opts := DefaultOptions()
	opts.Load.Expr = "hosts.web"
	eng, err := NewEngine(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	result, err := eng.Render(context.Background(), RenderRequest{Source: src})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if result.Text != "{\n  port = 80;\n}" {
		t.Errorf("unexpected text:\n%s", result.Text)
	}
}

func TestRenderAll(t *testing.T) {
	dir := t.TempDir()
	var reqs []RenderRequest
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		reqs = append(reqs, RenderRequest{
			Source: writeFile(t, dir, name+".json", hostJSON),
			Output: filepath.Join(dir, "out", name+".nix"),
		})
	}
	reqs = append(reqs, RenderRequest{Source: writeFile(t, dir, "broken.json", "{")})

	results, err := newTestEngine(t).RenderAll(context.Background(), reqs)
	if err == nil {
		t.Fatal("expected the broken source to fail")
	}
	if !IsInvalidInput(err) {
		t.Errorf("expected joined invalid_input error, got %v", err)
	}

	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	for i, result := range results[:5] {
		if result == nil || result.Source != reqs[i].Source || !result.Written {
			t.Errorf("result %d: unexpected %+v", i, result)
		}
	}
	if results[5] != nil {
		t.Error("failed render should have a nil result")
	}
}

func TestRenderAll_FailFast(t *testing.T) {
	dir := t.TempDir()
	reqs := []RenderRequest{{Source: writeFile(t, dir, "broken.json", "{")}}
	for i := range 20 {
		reqs = append(reqs, RenderRequest{Source: writeFile(t, dir, string(rune('a'+i))+".json", hostJSON)})
	}

	opts := DefaultOptions()
	opts.MaxParallel = 1
	opts.FailFast = true
	eng, err := NewEngine(opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	results, err := eng.RenderAll(context.Background(), reqs)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected skipped renders after the failure, got %v", err)
	}
	for i, r := range results[1:] {
		if r != nil {
			t.Errorf("request %d should have been skipped", i+1)
		}
	}
}

func TestRenderAll_Empty(t *testing.T) {
	results, err := newTestEngine(t).RenderAll(context.Background(), nil)
	if err != nil || len(results) != 0 {
		t.Errorf("expected empty result, got %v, %v", results, err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "host.json", hostJSON)
	eng := newTestEngine(t)

	doc, err := eng.Load(context.Background(), src)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	data, ok := doc.Data().(map[string]any)
	if !ok || data["hostName"] != "web" {
		t.Errorf("unexpected document data: %#v", doc.Data())
	}

	if _, err := eng.Load(context.Background(), filepath.Join(dir, "absent.json")); !IsInvalidInput(err) {
		t.Errorf("expected invalid_input, got %v", err)
	}
}
