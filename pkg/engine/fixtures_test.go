package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stores"
)

// venvWrapper stands in for the virtualenv activation script.
const venvWrapper = `#!/bin/sh
exec "$@"
`

// jobRunner records every run and fails or hangs when a marker file for
// the job exists in the run directory.
const jobRunner = `#!/bin/sh
echo "$1" >> "$STACKMGR_RUN_DIR/runs"
echo "job $1 in $STACKMGR_VENV"
if [ -f "$STACKMGR_RUN_DIR/fail-$1" ]; then
	echo "boom" >&2
	exit 2
fi
if [ -f "$STACKMGR_RUN_DIR/hang-$1" ]; then
	exec sleep 30
fi
exit 0
`

type recordedEvent struct {
	kind       string
	objectType string
	objectID   int64
	details    map[string]interface{}
}

// eventRecorder is an in-memory EventPoster.
type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) PostEvent(_ context.Context, kind, objectType string, objectID int64, details map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{kind, objectType, objectID, details})
}

func (r *eventRecorder) count(kind, objectType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.kind == kind && e.objectType == objectType {
			n++
		}
	}
	return n
}

func (r *eventRecorder) has(kind, objectType string, id int64, value string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.kind == kind && e.objectType == objectType && e.objectID == id && e.details["value"] == value {
			return true
		}
	}
	return false
}

// env is a catalog with one cluster bundle, a live cluster and fake job
// runner scripts.
type env struct {
	store  *stores.SQLiteStore
	cfg    engine.TaskConfig
	events *eventRecorder

	bundle    *engine.Bundle
	proto     *engine.Prototype
	install   *engine.Action
	configure *engine.Action
	subs      []*engine.SubAction
	cluster   *engine.Object
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	e := &env{
		store:  store,
		events: &eventRecorder{},
		cfg: engine.TaskConfig{
			RunDir:       filepath.Join(dir, "run"),
			LogDir:       filepath.Join(dir, "log"),
			BundleDir:    filepath.Join(dir, "bundle"),
			VenvWrapper:  writeScript(t, dir, "venv.sh", venvWrapper),
			JobRunner:    writeScript(t, dir, "job-runner", jobRunner),
			AnsibleForks: 7,
			StatusToken:  "token",
			PollAttempts: 2,
			PollInterval: 10 * time.Millisecond,
		},
	}
	for _, d := range []string{e.cfg.RunDir, e.cfg.LogDir, e.cfg.BundleDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("failed to create %s: %v", d, err)
		}
	}

	e.bundle = &engine.Bundle{Hash: "c0ffee", Name: "zookeeper", Version: "3.8", Edition: "community"}
	e.proto = &engine.Prototype{
		Type:       engine.ObjectTypeCluster,
		Name:       "zookeeper",
		Version:    "3.8",
		Path:       "cluster",
		License:    engine.LicenseAbsent,
		Constraint: []interface{}{0, "+"},
		VenvName:   "default",
	}
	e.install = &engine.Action{
		Name:                  "install",
		Type:                  engine.ActionTypeTask,
		StateAvailable:        engine.StateSet{Items: []string{"created"}},
		StateUnavailable:      engine.StateSet{},
		MultiStateAvailable:   engine.AnyState,
		MultiStateUnavailable: engine.StateSet{},
		StateOnSuccess:        "installed",
		StateOnFail:           "install_failed",
		MultiStateOnFailSet:   []string{"needs_attention"},
		Venv:                  "2.9",
	}
	e.configure = &engine.Action{
		Name:                  "configure",
		Type:                  engine.ActionTypeJob,
		ScriptType:            engine.ScriptTypeAnsible,
		Script:                "./configure.yaml",
		StateAvailable:        engine.AnyState,
		StateUnavailable:      engine.StateSet{},
		MultiStateAvailable:   engine.AnyState,
		MultiStateUnavailable: engine.StateSet{},
		Params:                map[string]interface{}{"jinja2_native": true},
		Venv:                  "default",
	}
	e.subs = []*engine.SubAction{
		{Name: "prepare", ScriptType: engine.ScriptTypeAnsible, Script: "prepare.yaml"},
		{Name: "deploy", ScriptType: engine.ScriptTypeAnsible, Script: "deploy.yaml", StateOnFail: "deploy_failed"},
		{Name: "check", ScriptType: engine.ScriptTypePython, Script: "check.py"},
	}

	err = store.InTx(ctx, func(tx engine.CatalogTx) error {
		if err := tx.CreateBundle(ctx, e.bundle); err != nil {
			return err
		}
		e.proto.BundleID = e.bundle.ID
		if err := tx.CreatePrototype(ctx, e.proto); err != nil {
			return err
		}
		for _, a := range []*engine.Action{e.install, e.configure} {
			a.PrototypeID = e.proto.ID
			if err := tx.CreateAction(ctx, a); err != nil {
				return err
			}
		}
		for _, s := range e.subs {
			s.ActionID = e.install.ID
			if err := tx.CreateSubAction(ctx, s); err != nil {
				return err
			}
		}
		actionID := e.configure.ID
		for _, c := range []*engine.PrototypeConfig{
			{Name: "name", Type: "string", Required: true},
			{Name: "port", Type: "integer", Default: 2181, Required: true},
			{Name: "tls", Type: "group"},
			{Name: "tls", Subname: "enabled", Type: "boolean", Default: false},
		} {
			c.PrototypeID = e.proto.ID
			c.ActionID = &actionID
			if err := tx.CreateConfig(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed catalog: %v", err)
	}

	e.cluster = &engine.Object{
		Type:        engine.ObjectTypeCluster,
		PrototypeID: e.proto.ID,
		Name:        "zk-prod",
		State:       engine.DefaultObjectState,
	}
	if err := store.CreateObject(ctx, e.cluster); err != nil {
		t.Fatalf("failed to create cluster: %v", err)
	}
	return e
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func (e *env) tasks(t *testing.T, spawner engine.Spawner) *engine.Tasks {
	t.Helper()
	tasks, err := engine.NewTasks(e.store, e.events, spawner, e.cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewTasks() error = %v", err)
	}
	return tasks
}

func (e *env) supervisor(t *testing.T) *engine.Supervisor {
	t.Helper()
	s, err := engine.NewSupervisor(e.store, e.events, e.cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSupervisor() error = %v", err)
	}
	return s
}

// createInstall creates a task running the three-step install action.
func (e *env) createInstall(t *testing.T) (*engine.Task, []*engine.Job) {
	t.Helper()
	ctx := context.Background()
	task, err := e.tasks(t, nil).Create(ctx, engine.CreateTaskRequest{
		ActionID:   e.install.ID,
		ObjectType: engine.ObjectTypeCluster,
		ObjectID:   e.cluster.ID,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return task, e.jobs(t, task.ID)
}

func (e *env) jobs(t *testing.T, taskID int64) []*engine.Job {
	t.Helper()
	jobs, err := e.store.ListJobs(context.Background(), taskID)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	return jobs
}

func (e *env) marker(t *testing.T, kind string, jobID int64) string {
	t.Helper()
	path := filepath.Join(e.cfg.RunDir, kind+"-"+itoa(jobID))
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write marker: %v", err)
	}
	return path
}

func (e *env) object(t *testing.T) *engine.Object {
	t.Helper()
	obj, err := e.store.GetObject(context.Background(), engine.ObjectTypeCluster, e.cluster.ID)
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	return obj
}

func (e *env) task(t *testing.T, id int64) *engine.Task {
	t.Helper()
	task, err := e.store.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	return task
}
