package admission

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/bundle"
	"github.com/openfroyo/stackmgr/pkg/engine"
)

func sampleManifest() *bundle.Manifest {
	return &bundle.Manifest{
		File:    "zookeeper.tgz",
		Hash:    "abc123",
		Type:    engine.ObjectTypeCluster,
		Name:    "zookeeper",
		Version: "3.5",
		Edition: "community",
		Prototypes: []bundle.ManifestPrototype{
			{
				Type:    engine.ObjectTypeCluster,
				Name:    "zookeeper",
				Version: "3.5",
				License: engine.LicenseAbsent,
				Venv:    "default",
				Actions: []bundle.ManifestAction{
					{
						Name: "install",
						Type: engine.ActionTypeJob,
						Scripts: []bundle.ManifestScript{
							{Type: engine.ScriptTypeAnsible, Script: "ansible/install.yaml"},
						},
					},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngine_Builtins(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != len(BuiltinPolicies()) {
		t.Fatalf("ListPolicies() = %d policies, want %d", len(policies), len(BuiltinPolicies()))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Errorf("policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
}

func TestEngine_AdmitCleanBundle(t *testing.T) {
	e := newTestEngine(t)

	if err := e.Admit(context.Background(), sampleManifest()); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
}

func TestEngine_BuiltinViolations(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(m *bundle.Manifest)
		wantAllowed bool
		wantPolicy  string
	}{
		{
			name: "absolute script path",
			mutate: func(m *bundle.Manifest) {
				m.Prototypes[0].Actions[0].Scripts[0].Script = "/etc/passwd"
			},
			wantAllowed: false,
			wantPolicy:  "script-path",
		},
		{
			name: "script outside bundle",
			mutate: func(m *bundle.Manifest) {
				m.Prototypes[0].Actions[0].Scripts[0].Script = "../other/install.yaml"
			},
			wantAllowed: false,
			wantPolicy:  "script-path",
		},
		{
			name: "internal scripts are not paths",
			mutate: func(m *bundle.Manifest) {
				m.Prototypes[0].Actions[0].Scripts[0] = bundle.ManifestScript{
					Type:   engine.ScriptTypeInternal,
					Script: "bundle_switch",
				}
			},
			wantAllowed: true,
		},
		{
			name: "custom venv warns",
			mutate: func(m *bundle.Manifest) {
				m.Prototypes[0].Venv = "2.9"
			},
			wantAllowed: true,
			wantPolicy:  "custom-venv",
		},
		{
			name: "host action on provider warns",
			mutate: func(m *bundle.Manifest) {
				m.Prototypes[0].Type = engine.ObjectTypeProvider
				m.Prototypes[0].Actions[0].HostAction = true
			},
			wantAllowed: true,
			wantPolicy:  "host-action-owner",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t)
			m := sampleManifest()
			tt.mutate(m)

			result, err := e.Evaluate(context.Background(), m)
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations %+v)", result.Allowed, tt.wantAllowed, result.Violations)
			}
			if tt.wantPolicy == "" {
				if len(result.Violations) != 0 {
					t.Errorf("unexpected violations: %+v", result.Violations)
				}
				return
			}
			found := false
			for _, v := range result.Violations {
				if v.Policy == tt.wantPolicy {
					found = true
					if v.Prototype != m.Prototypes[0].Name {
						t.Errorf("Prototype = %q, want %q", v.Prototype, m.Prototypes[0].Name)
					}
				}
			}
			if !found {
				t.Errorf("no violation from %s in %+v", tt.wantPolicy, result.Violations)
			}
		})
	}
}

func TestEngine_AdmitRejects(t *testing.T) {
	e := newTestEngine(t)
	m := sampleManifest()
	m.Prototypes[0].Actions[0].Scripts[0].Script = "/bin/sh"

	err := e.Admit(context.Background(), m)
	if err == nil {
		t.Fatal("Admit() should reject absolute script paths")
	}
	if !engine.HasCode(err, engine.ErrCodeBundlePolicy) {
		t.Errorf("error code = %s, want %s", engine.CodeOf(err), engine.ErrCodeBundlePolicy)
	}
	if !strings.Contains(err.Error(), "/bin/sh") {
		t.Errorf("error %q should name the script", err)
	}
}

func TestEngine_Replace(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "enterprise-license",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package stackmgr.admission.license

import rego.v1

deny contains msg if {
	input.edition == "enterprise"
	some proto in input.prototypes
	proto.license == "absent"
	msg := sprintf("%s has no license", [proto.name])
}
`,
	}
	if err := e.Replace(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	m := sampleManifest()
	if err := e.Admit(ctx, m); err != nil {
		t.Fatalf("community bundle should pass: %v", err)
	}

	m.Edition = "enterprise"
	err := e.Admit(ctx, m)
	if !engine.HasCode(err, engine.ErrCodeBundlePolicy) {
		t.Fatalf("Admit() error = %v, want policy violation", err)
	}

	// A broken policy leaves the installed set untouched.
	broken := Policy{Name: "broken", Enabled: true, Severity: SeverityError, Rego: "package x\ndeny contains"}
	if err := e.Replace(ctx, []Policy{broken}); err == nil {
		t.Fatal("Replace() should fail on invalid Rego")
	}
	if len(e.ListPolicies()) != len(BuiltinPolicies())+1 {
		t.Errorf("policy set changed after failed Replace: %d", len(e.ListPolicies()))
	}
}

func TestEngine_SetEnabled(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	m := sampleManifest()
	m.Prototypes[0].Actions[0].Scripts[0].Script = "/bin/sh"

	if err := e.SetEnabled("script-path", false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if err := e.Admit(ctx, m); err != nil {
		t.Errorf("disabled policy still rejects: %v", err)
	}

	if err := e.SetEnabled("missing", true); err == nil {
		t.Error("SetEnabled() should fail for unknown policies")
	}
}

func TestSeverity_Blocking(t *testing.T) {
	tests := []struct {
		severity Severity
		want     bool
	}{
		{SeverityInfo, false},
		{SeverityWarning, false},
		{SeverityError, true},
		{SeverityCritical, true},
	}
	for _, tt := range tests {
		if got := tt.severity.Blocking(); got != tt.want {
			t.Errorf("%s.Blocking() = %v, want %v", tt.severity, got, tt.want)
		}
	}
}
