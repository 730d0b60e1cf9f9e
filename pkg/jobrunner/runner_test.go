package jobrunner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeInterpreter prints its arguments and the variables a script relies on.
const fakeInterpreter = `#!/bin/sh
echo "args: $*"
echo "ansible_config: $ANSIBLE_CONFIG"
echo "pythonpath: $PYTHONPATH"
case "$*" in
	*hang*) exec sleep 30 ;;
	*fail*) exit 3 ;;
esac
`

func writeJob(t *testing.T, runDir string, id, body string) {
	t.Helper()
	dir := filepath.Join(runDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestRunner(t *testing.T, internal InternalFunc) (*Runner, string, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	interp := filepath.Join(dir, "interp")
	if err := os.WriteFile(interp, []byte(fakeInterpreter), 0o755); err != nil {
		t.Fatal(err)
	}
	runDir := filepath.Join(dir, "run")

	var out bytes.Buffer
	r, err := New(Options{
		RunDir:          runDir,
		AnsiblePlaybook: interp,
		Python:          interp,
		Stdout:          &out,
		Stderr:          &out,
		Internal:        internal,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, runDir, &out
}

func TestNew_RequiresRunDir(t *testing.T) {
	if _, err := New(Options{}, zerolog.Nop()); err == nil {
		t.Fatal("New() should fail without a run dir")
	}
}

func TestRunner_Ansible(t *testing.T) {
	r, runDir, out := newTestRunner(t, nil)
	t.Setenv("PYTHONPATH", "/opt/lib")
	writeJob(t, runDir, "7", `{
		"env": {"stack_dir": "/bundles/abc"},
		"job": {
			"id": 7, "script_type": "ansible", "playbook": "/bundles/abc/install.yaml",
			"verbose": true, "params": {"ansible_tags": "config"}
		}
	}`)

	code, err := r.Run(context.Background(), 7)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d\n%s", code, out)
	}

	jobDir := filepath.Join(runDir, "7")
	for _, want := range []string{
		"args: -e @" + filepath.Join(jobDir, "config.json") + " -i " + filepath.Join(jobDir, "inventory.json") +
			" /bundles/abc/install.yaml --tags config -vvvv",
		"ansible_config: " + filepath.Join(jobDir, "ansible.cfg"),
		"pythonpath: ./pmod:/bundles/abc/pmod:/opt/lib",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunner_PythonExitCode(t *testing.T) {
	r, runDir, out := newTestRunner(t, nil)
	writeJob(t, runDir, "8", `{"env": {}, "job": {"id": 8, "script_type": "python", "playbook": "fail.py"}}`)

	code, err := r.Run(context.Background(), 8)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3\n%s", code, out)
	}
}

func TestRunner_CancelTerminatesScript(t *testing.T) {
	r, runDir, _ := newTestRunner(t, nil)
	writeJob(t, runDir, "9", `{"env": {}, "job": {"id": 9, "script_type": "python", "playbook": "hang.py"}}`)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	code, err := r.Run(ctx, 9)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != -15 {
		t.Errorf("exit code = %d, want -15", code)
	}
}

func TestRunner_Internal(t *testing.T) {
	var called int64
	r, runDir, out := newTestRunner(t, func(_ context.Context, jobID int64) error {
		called = jobID
		if jobID == 11 {
			return errors.New("switch failed")
		}
		return nil
	})
	writeJob(t, runDir, "10", `{"env": {}, "job": {"id": 10, "script_type": "internal", "script": "bundle_switch"}}`)
	writeJob(t, runDir, "11", `{"env": {}, "job": {"id": 11, "script_type": "internal", "script": "bundle_switch"}}`)

	if code, err := r.Run(context.Background(), 10); err != nil || code != 0 || called != 10 {
		t.Errorf("Run(10) = %d, %v (called %d)", code, err, called)
	}
	if code, err := r.Run(context.Background(), 11); err != nil || code != 1 {
		t.Errorf("Run(11) = %d, %v", code, err)
	}
	if !strings.Contains(out.String(), "switch failed") {
		t.Errorf("stderr = %q", out)
	}

	plain, plainRunDir, _ := newTestRunner(t, nil)
	writeJob(t, plainRunDir, "10", `{"env": {}, "job": {"id": 10, "script_type": "internal", "script": "bundle_switch"}}`)
	if _, err := plain.Run(context.Background(), 10); err == nil {
		t.Error("Run() should reject internal scripts without a handler")
	}
}

func TestRunner_Errors(t *testing.T) {
	r, runDir, _ := newTestRunner(t, nil)
	writeJob(t, runDir, "12", `{"env": {}, "job": {"id": 12, "script_type": "perl"}}`)
	writeJob(t, runDir, "13", `not json`)

	for _, id := range []int64{12, 13, 14} {
		if code, err := r.Run(context.Background(), id); err == nil || code != 1 {
			t.Errorf("Run(%d) = %d, %v; want failure", id, code, err)
		}
	}
}
