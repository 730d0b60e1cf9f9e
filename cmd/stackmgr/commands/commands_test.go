package commands

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stores"
)

const definition = `
- type: cluster
  name: kafka
  version: "2.8"
  actions:
    install:
      type: job
      script: install.yaml
      script_type: ansible
      states:
        available: [created]
        on_success: installed
`

// setupWorkspace writes a settings file rooted in a temp dir and returns
// its path for the --config flag. extra lines are appended to the file.
func setupWorkspace(t *testing.T, extra ...string) string {
	t.Helper()
	dir := t.TempDir()
	settings := fmt.Sprintf(`
data_dir: %q
metrics: enabled: false
logging: output: "stderr"
`, dir) + strings.Join(extra, "\n")
	path := filepath.Join(dir, "settings.cue")
	if err := os.WriteFile(path, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand("test", "none", "today")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBundleCommands(t *testing.T) {
	settings := setupWorkspace(t)
	if _, err := run(t, "--config", settings, "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}

	archive := filepath.Join(filepath.Dir(settings), "download", "kafka.tgz")
	writeArchive(t, archive, map[string]string{
		"config.yaml":  definition,
		"install.yaml": "- hosts: all\n",
	})

	out, err := run(t, "--config", settings, "bundle", "check", archive, "--json")
	if err != nil {
		t.Fatalf("bundle check error = %v", err)
	}
	var manifest struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(out), &manifest); err != nil {
		t.Fatalf("bundle check output is not JSON: %v\n%s", err, out)
	}
	if manifest.Name != "kafka" || manifest.Version != "2.8" {
		t.Errorf("manifest = %+v", manifest)
	}

	out, err = run(t, "--config", settings, "bundle", "load", "kafka.tgz")
	if err != nil {
		t.Fatalf("bundle load error = %v", err)
	}
	if !strings.Contains(out, "kafka 2.8") {
		t.Errorf("bundle load output = %q", out)
	}

	out, err = run(t, "--config", settings, "bundle", "list", "--json")
	if err != nil {
		t.Fatalf("bundle list error = %v", err)
	}
	var bundles []struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &bundles); err != nil {
		t.Fatalf("bundle list output is not JSON: %v\n%s", err, out)
	}
	if len(bundles) != 1 || bundles[0].Name != "kafka" {
		t.Fatalf("bundles = %+v", bundles)
	}

	id := fmt.Sprint(bundles[0].ID)
	if _, err := run(t, "--config", settings, "bundle", "delete", id); err != nil {
		t.Fatalf("bundle delete error = %v", err)
	}
	if _, err := run(t, "--config", settings, "bundle", "delete", id); err == nil {
		t.Error("deleting a missing bundle should fail")
	}
}

func TestTaskCommands(t *testing.T) {
	settings := setupWorkspace(t)

	out, err := run(t, "--config", settings, "task", "abort-all", "--json")
	if err != nil {
		t.Fatalf("task abort-all error = %v", err)
	}
	if strings.TrimSpace(out) != `{
  "aborted": 0
}` {
		t.Errorf("task abort-all output = %q", out)
	}

	if _, err := run(t, "--config", settings, "task", "cancel", "42"); err == nil {
		t.Error("cancelling a missing task should fail")
	}
	if _, err := run(t, "--config", settings, "task", "show", "abc"); err == nil {
		t.Error("a non-numeric task id should fail")
	}

	if _, err := run(t, "--config", settings, "task", "run", "42"); err != nil {
		t.Errorf("task run of a missing task = %v, want exit status 0", err)
	}
}

// openCatalog opens the database of a workspace created by setupWorkspace.
func openCatalog(t *testing.T, settings string) *stores.SQLiteStore {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(filepath.Dir(settings), "stackmgr.db")})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestTaskRun_FailedTaskExitsZero(t *testing.T) {
	dir := t.TempDir()
	wrapper := filepath.Join(dir, "venv.sh")
	if err := os.WriteFile(wrapper, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	settings := setupWorkspace(t, fmt.Sprintf("venv_wrapper: %q", wrapper))
	if _, err := run(t, "--config", settings, "init"); err != nil {
		t.Fatalf("init error = %v", err)
	}
	writeArchive(t, filepath.Join(filepath.Dir(settings), "download", "kafka.tgz"), map[string]string{
		"config.yaml":  definition,
		"install.yaml": "- hosts: all\n",
	})
	if _, err := run(t, "--config", settings, "bundle", "load", "kafka.tgz"); err != nil {
		t.Fatalf("bundle load error = %v", err)
	}

	ctx := context.Background()
	store := openCatalog(t, settings)
	protos, err := store.ListPrototypes(ctx, engine.PrototypeFilter{Type: engine.ObjectTypeCluster, Name: "kafka"})
	if err != nil || len(protos) != 1 {
		t.Fatalf("ListPrototypes() = %v, %v", protos, err)
	}
	install, err := store.FindAction(ctx, protos[0].ID, "install")
	if err != nil {
		t.Fatalf("FindAction() error = %v", err)
	}
	cluster := &engine.Object{
		Type:        engine.ObjectTypeCluster,
		PrototypeID: protos[0].ID,
		Name:        "kafka-prod",
		State:       engine.DefaultObjectState,
	}
	if err := store.CreateObject(ctx, cluster); err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}
	store.Close()

	out, err := run(t, "--config", settings, "task", "create", "--json",
		"--action", fmt.Sprint(install.ID), "--object-type", "cluster", "--object-id", fmt.Sprint(cluster.ID))
	if err != nil {
		t.Fatalf("task create error = %v", err)
	}
	var task struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &task); err != nil {
		t.Fatalf("task create output is not JSON: %v\n%s", err, out)
	}

	if _, err := run(t, "--config", settings, "task", "run", fmt.Sprint(task.ID)); err != nil {
		t.Fatalf("task run of a failing task = %v, want exit status 0", err)
	}

	store = openCatalog(t, settings)
	defer store.Close()
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	if got.Status != engine.JobStatusFailed {
		t.Errorf("task status = %s, want failed", got.Status)
	}
}

func TestPolicyList(t *testing.T) {
	settings := setupWorkspace(t)
	out, err := run(t, "--config", settings, "policy", "list", "--json")
	if err != nil {
		t.Fatalf("policy list error = %v", err)
	}
	var policies []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &policies); err != nil {
		t.Fatalf("policy list output is not JSON: %v\n%s", err, out)
	}
	if len(policies) == 0 {
		t.Error("expected the built-in policies")
	}
}

func TestPluginArgs(t *testing.T) {
	jobID, objType, objID, value, err := pluginArgs([]string{"7", "cluster", "3", "installed"})
	if err != nil {
		t.Fatalf("pluginArgs() error = %v", err)
	}
	if jobID != 7 || objType != "cluster" || objID != 3 || value != "installed" {
		t.Errorf("pluginArgs() = %d %s %d %s", jobID, objType, objID, value)
	}
	if _, _, _, _, err := pluginArgs([]string{"x", "cluster", "3", "v"}); err == nil {
		t.Error("pluginArgs() should reject a bad job id")
	}
}
