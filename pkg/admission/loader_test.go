package admission

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const ownerRego = `# Bundles must come from a known vendor.
# Checked against the edition.
package stackmgr.admission.owner

import rego.v1

deny contains "unknown edition" if {
	not input.edition in {"community", "enterprise"}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestLoader_LoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "owner.rego"), ownerRego)
	writeFile(t, filepath.Join(dir, "venv.json"), `{
		"description": "no custom venvs",
		"severity": "critical",
		"rego": "package stackmgr.admission.novenv\nimport rego.v1\ndeny contains \"x\" if { false }\n"
	}`)
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("loaded %d policies, want 2: %+v", len(policies), policies)
	}

	owner, venv := policies[0], policies[1]
	if owner.Name != "owner" || venv.Name != "venv" {
		t.Fatalf("names = %s, %s", owner.Name, venv.Name)
	}
	if owner.Description != "Bundles must come from a known vendor. Checked against the edition." {
		t.Errorf("Description = %q", owner.Description)
	}
	if owner.Severity != SeverityError || !owner.Enabled {
		t.Errorf("rego defaults = %s/%v, want error/true", owner.Severity, owner.Enabled)
	}
	if owner.Source != filepath.Join(dir, "owner.rego") {
		t.Errorf("Source = %q", owner.Source)
	}
	if venv.Severity != SeverityCritical || !venv.Enabled {
		t.Errorf("json policy = %s/%v, want critical/true", venv.Severity, venv.Enabled)
	}
}

func TestLoader_LoadFromPathsMissing(t *testing.T) {
	_, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Fatal("LoadFromPaths() should fail for a missing path")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "owner.rego"), ownerRego)

	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	m := sampleManifest()
	m.Edition = "pirate"
	result, err := e.Evaluate(ctx, m)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed {
		t.Fatal("unknown edition should be rejected")
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "unknown edition" {
		t.Errorf("Violations = %+v", result.Violations)
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "owner.rego"), ownerRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var reloaded []Policy
	done := make(chan struct{}, 1)
	reload := func(policies []Policy) error {
		mu.Lock()
		reloaded = policies
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}

	watchErr := make(chan error, 1)
	go func() {
		watchErr <- NewLoader(zerolog.Nop()).Watch(ctx, []string{dir}, reload)
	}()

	// Give the watcher time to register the directory.
	time.Sleep(200 * time.Millisecond)
	writeFile(t, filepath.Join(dir, "second.rego"), "package stackmgr.admission.second\n")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("policies were not reloaded")
	}

	mu.Lock()
	count := len(reloaded)
	mu.Unlock()
	if count != 2 {
		t.Errorf("reloaded %d policies, want 2", count)
	}

	cancel()
	select {
	case err := <-watchErr:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch() did not stop after cancel")
	}
}
