package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop(), opts...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	if got := len(newTestEngine(t).ListPolicies()); got != 0 {
		t.Errorf("expected no policies without builtins, got %d", got)
	}

	policies := newTestEngine(t, WithBuiltins()).ListPolicies()
	want := []string{"empty-document", "insecure-urls", "plaintext-secrets"}
	if len(policies) != len(want) {
		t.Fatalf("expected %d built-in policies, got %d", len(want), len(policies))
	}
	for i, name := range want {
		if policies[i].Name != name {
			t.Errorf("policy %d: expected %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t, WithBuiltins())
	ctx := context.Background()

	tests := []struct {
		name          string
		data          any
		expectAllowed bool
		violations    int
		warnings      int
		wantPath      string
	}{
		{
			name: "clean document",
			data: map[string]any{
				"networking": map[string]any{"hostName": "web"},
			},
			expectAllowed: true,
		},
		{
			name: "plaintext password",
			data: map[string]any{
				"users": map[string]any{
					"alice": map[string]any{"password": "hunter2"},
				},
			},
			expectAllowed: false,
			violations:    1,
			wantPath:      "users.alice.password",
		},
		{
			name: "password file is fine",
			data: map[string]any{
				"users": map[string]any{
					"alice": map[string]any{"passwordFile": "/run/secrets/alice"},
				},
			},
			expectAllowed: true,
		},
		{
			name: "http url is a warning",
			data: map[string]any{
				"src": map[string]any{"url": "http://example.org/src.tar.gz"},
			},
			expectAllowed: true,
			warnings:      1,
		},
		{
			name:          "empty document is informational",
			data:          map[string]any{},
			expectAllowed: true,
			warnings:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(ctx, &Input{Document: "host.json", Format: "json", Data: tt.data})
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if result.Allowed != tt.expectAllowed {
				t.Errorf("expected allowed=%v, got %v (%+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}
			if len(result.Violations) != tt.violations {
				t.Errorf("expected %d violations, got %d: %+v", tt.violations, len(result.Violations), result.Violations)
			}
			if len(result.Warnings) != tt.warnings {
				t.Errorf("expected %d warnings, got %d: %+v", tt.warnings, len(result.Warnings), result.Warnings)
			}
			if tt.wantPath != "" && len(result.Violations) > 0 && result.Violations[0].Path != tt.wantPath {
				t.Errorf("expected path %s, got %s", tt.wantPath, result.Violations[0].Path)
			}
			if len(result.EvaluatedPolicies) != 3 {
				t.Errorf("expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
			}
		})
	}
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:     "firewall",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package hosts.firewall

deny contains msg if {
	input.data.networking.firewall.enable == false
	msg := sprintf("%s disables the firewall", [input.document])
}

deny contains v if {
	input.context.operation == "render"
	not input.data.networking.hostName
	v := {"message": "hostName is not set", "severity": "warning", "owner": "ops"}
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	result, err := eng.Evaluate(ctx, &Input{
		Document: "web.cue",
		Data: map[string]any{
			"networking": map[string]any{
				"firewall": map[string]any{"enable": false},
			},
		},
		Context: &Context{Operation: "render"},
	})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected render to be denied")
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "web.cue disables the firewall" {
		t.Errorf("unexpected violations: %+v", result.Violations)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected 1 warning, got %+v", result.Warnings)
	}
	w := result.Warnings[0]
	if w.Severity != SeverityWarning || w.Details["owner"] != "ops" {
		t.Errorf("unexpected warning: %+v", w)
	}

	if err := eng.DisablePolicy("firewall"); err != nil {
		t.Fatalf("DisablePolicy failed: %v", err)
	}
	result, err = eng.Evaluate(ctx, &Input{Document: "web.cue", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed || len(result.EvaluatedPolicies) != 0 {
		t.Errorf("disabled policy should not be evaluated: %+v", result)
	}
}

func TestAddPolicy_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{
		Name: "broken",
		Rego: "package broken\n\ndeny contains msg if {\n",
	})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("broken policy should not be registered")
	}
}

func TestEvaluate_RuntimeError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	err := eng.AddPolicy(ctx, Policy{
		Name:    "conflict",
		Enabled: true,
		Rego: `package conflict

deny = "a" if { input.document }
deny = "b" if { input.document }
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy failed: %v", err)
	}

	_, err = eng.Evaluate(ctx, &Input{Document: "x.json", Data: map[string]any{}})
	if err == nil {
		t.Fatal("expected evaluation error")
	}
	if !strings.Contains(err.Error(), "conflict") {
		t.Errorf("expected error to name the policy, got %v", err)
	}
}

func TestEnableDisable_Unknown(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.EnablePolicy("missing"); err == nil {
		t.Error("expected error enabling unknown policy")
	}
	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error disabling unknown policy")
	}
}

func TestReloadPolicies(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "hosts.rego", `package hosts

deny contains "always" if { true }
`)

	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies failed: %v", err)
	}
	result, err := eng.Evaluate(ctx, &Input{Document: "a.json", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Fatal("expected deny before reload")
	}

	writePolicyFile(t, dir, "hosts.rego", `package hosts

deny contains "never" if { false }
`)
	if err := eng.ReloadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("ReloadPolicies failed: %v", err)
	}
	result, err = eng.Evaluate(ctx, &Input{Document: "a.json", Data: map[string]any{}})
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected allow after reload, got %+v", result.Violations)
	}

	writePolicyFile(t, dir, "hosts.rego", "package hosts\n\ndeny contains {\n")
	if err := eng.ReloadPolicies(ctx, []string{path}); err == nil {
		t.Fatal("expected reload of a broken policy to fail")
	}
	if _, err := eng.GetPolicy("hosts"); err != nil {
		t.Errorf("previous policies should survive a failed reload: %v", err)
	}
}
