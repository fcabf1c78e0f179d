package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func writePolicyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	regoContent := `# Hosts must keep the firewall on.
# severity: critical
#
# Checked on every render.
package hosts.firewall

# not part of the description
deny contains "off" if {
	input.data.networking.firewall.enable == false
}`
	policyFile := writePolicyFile(t, t.TempDir(), "firewall.rego", regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "firewall" {
		t.Errorf("Expected name 'firewall', got '%s'", policy.Name)
	}
	if policy.Description != "Hosts must keep the firewall on. Checked on every render." {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Severity != SeverityCritical {
		t.Errorf("Expected severity critical, got %s", policy.Severity)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata %s, got %v", policyFile, policy.Metadata["source"])
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	policyFile := writePolicyFile(t, dir, "urls.json", `{
	"name": "urls",
	"description": "No plain http",
	"rego": "package urls\n\ndeny contains \"x\" if { false }\n",
	"enabled": true
}`)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "urls" || policy.Description != "No plain http" {
		t.Errorf("Unexpected policy: %+v", policy)
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected default severity error, got %s", policy.Severity)
	}
	if policy.CreatedAt.IsZero() {
		t.Error("CreatedAt should be defaulted")
	}

	nameless := writePolicyFile(t, dir, "nameless.json", `{"rego": "package x"}`)
	if _, err := loader.loadFromFile(context.Background(), nameless); err == nil {
		t.Error("Expected error for policy without a name")
	}

	broken := writePolicyFile(t, dir, "broken.json", `{"name": `)
	if _, err := loader.loadFromFile(context.Background(), broken); err == nil {
		t.Error("Expected error for malformed JSON")
	}
}

func TestLoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	writePolicyFile(t, dir, "a.rego", "package a\n")
	writePolicyFile(t, dir, "nested/b.rego", "package b\n")
	writePolicyFile(t, dir, "a_test.rego", "package a_test\n")
	writePolicyFile(t, dir, "README.md", "# policies\n")
	writePolicyFile(t, dir, "team.bundle.json", `{
	"name": "team",
	"version": "1.0.0",
	"policies": [
		{"name": "c", "rego": "package c\n", "enabled": true},
		{"name": "d", "rego": "package d\n", "enabled": true, "severity": "warning"}
	]
}`)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	got := make(map[string]Severity)
	for _, p := range policies {
		got[p.Name] = p.Severity
	}
	want := map[string]Severity{
		"a": SeverityError,
		"b": SeverityError,
		"c": SeverityError,
		"d": SeverityWarning,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected policies %v, got %v", want, got)
	}
	for name, sev := range want {
		if got[name] != sev {
			t.Errorf("Policy %s: expected severity %s, got %s", name, sev, got[name])
		}
	}
}

func TestLoadFromPaths_Errors(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	ctx := context.Background()
	dir := t.TempDir()

	if _, err := loader.LoadFromPaths(ctx, []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}

	other := writePolicyFile(t, dir, "notes.txt", "hello")
	if _, err := loader.LoadFromPaths(ctx, []string{other}); err == nil {
		t.Error("Expected error for unsupported file type")
	}

	bad := t.TempDir()
	writePolicyFile(t, bad, "bad.json", "{")
	if _, err := loader.LoadFromPaths(ctx, []string{bad}); err == nil {
		t.Error("Expected a broken file to fail its directory")
	}
}

func TestLoadBundle(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	path := writePolicyFile(t, dir, "ops.bundle.json", `{
	"name": "ops",
	"version": "2.1.0",
	"description": "Operations policies",
	"policies": [{"name": "one", "rego": "package one\n"}]
}`)

	bundle, err := loader.LoadBundle(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadBundle failed: %v", err)
	}
	if bundle.Name != "ops" || bundle.Version != "2.1.0" || len(bundle.Policies) != 1 {
		t.Errorf("Unexpected bundle: %+v", bundle)
	}

	unnamed := writePolicyFile(t, dir, "bad.bundle.json", `{"name": "bad", "policies": [{"rego": "package x"}]}`)
	if _, err := loader.LoadBundle(context.Background(), unnamed); err == nil {
		t.Error("Expected error for unnamed bundle policy")
	}
}

func TestLoaderCache(t *testing.T) {
	dir := t.TempDir()
	path := writePolicyFile(t, dir, "p.rego", "# first\npackage p\n")

	loader := NewLoader(zerolog.Nop())
	ctx := context.Background()

	first, err := loader.loadFromFile(ctx, path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	writePolicyFile(t, dir, "p.rego", "# second\npackage p\n")
	cached, err := loader.loadFromFile(ctx, path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if cached != first {
		t.Error("Expected cached policy")
	}

	loader.ClearCache()
	fresh, err := loader.loadFromFile(ctx, path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if fresh.Description != "second" {
		t.Errorf("Expected reloaded description, got %q", fresh.Description)
	}
}
