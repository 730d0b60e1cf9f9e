package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

// recordingSpawner remembers the supervisor command lines it was asked to start.
type recordingSpawner struct {
	calls [][]string
	err   error
	// started runs in place of the supervisor before Spawn returns.
	started func()
}

func (s *recordingSpawner) Spawn(name string, args []string, _ string) (int, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if s.started != nil && s.err == nil {
		s.started()
	}
	return 4242, s.err
}

func TestNewTasks_RequiresPaths(t *testing.T) {
	if _, err := engine.NewTasks(nil, nil, nil, engine.TaskConfig{RunDir: "/tmp"}, zerolog.Nop()); err == nil {
		t.Fatal("NewTasks() should reject an incomplete config")
	}
}

func TestTasks_CreateTaskAction(t *testing.T) {
	e := newEnv(t)
	task, jobs := e.createInstall(t)

	if task.Status != engine.JobStatusCreated {
		t.Errorf("Status = %s, want created", task.Status)
	}
	if task.ObjectID == nil || *task.ObjectID != e.cluster.ID {
		t.Errorf("ObjectID = %v", task.ObjectID)
	}
	if len(jobs) != len(e.subs) {
		t.Fatalf("got %d jobs, want %d", len(jobs), len(e.subs))
	}

	for i, job := range jobs {
		if job.SubActionID == nil || *job.SubActionID != e.subs[i].ID {
			t.Errorf("job %d sub-action = %v, want %d", i, job.SubActionID, e.subs[i].ID)
		}
		logs, err := e.store.ListLogs(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("ListLogs() error = %v", err)
		}
		if len(logs) != 2 {
			t.Fatalf("job %d has %d logs, want 2", job.ID, len(logs))
		}
		want := string(e.subs[i].ScriptType) + "-stdout.txt"
		if logs[0].FileName() != want && logs[1].FileName() != want {
			t.Errorf("job %d logs %s, %s: missing %s", job.ID, logs[0].FileName(), logs[1].FileName(), want)
		}
		if _, err := os.Stat(filepath.Join(e.cfg.JobDir(job.ID), "tmp")); err != nil {
			t.Errorf("job directory missing: %v", err)
		}
	}

	if got := e.events.count("change_job_status", "job"); got != 3 {
		t.Errorf("got %d job status events, want 3", got)
	}
	if !e.events.has("change_job_status", "task", task.ID, "created") {
		t.Error("missing task created event")
	}
}

func TestTasks_CreateConfig(t *testing.T) {
	e := newEnv(t)
	tasks := e.tasks(t, nil)

	task, err := tasks.Create(context.Background(), engine.CreateTaskRequest{
		ActionID:   e.configure.ID,
		ObjectType: engine.ObjectTypeCluster,
		ObjectID:   e.cluster.ID,
		Config:     map[string]interface{}{"name": "zk"},
		Verbose:    true,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if task.Config["name"] != "zk" {
		t.Errorf("name = %v", task.Config["name"])
	}
	if task.Config["port"] != float64(2181) {
		t.Errorf("port = %#v, want default 2181", task.Config["port"])
	}
	tls, ok := task.Config["tls"].(map[string]interface{})
	if !ok || tls["enabled"] != false {
		t.Errorf("tls = %#v", task.Config["tls"])
	}
	if jobs := e.jobs(t, task.ID); len(jobs) != 1 || jobs[0].SubActionID != nil {
		t.Errorf("job action should have a single job, got %d", len(jobs))
	}
}

func TestTasks_CreateErrors(t *testing.T) {
	e := newEnv(t)
	tasks := e.tasks(t, nil)

	installed := &engine.Object{Type: engine.ObjectTypeCluster, PrototypeID: e.proto.ID, Name: "done", State: "installed"}
	if err := e.store.CreateObject(context.Background(), installed); err != nil {
		t.Fatalf("CreateObject() error = %v", err)
	}

	tests := []struct {
		name string
		req  engine.CreateTaskRequest
		code string
	}{
		{
			name: "invalid object type",
			req:  engine.CreateTaskRequest{ActionID: e.install.ID, ObjectType: "rack", ObjectID: e.cluster.ID},
			code: engine.ErrCodeTask,
		},
		{
			name: "unknown action",
			req:  engine.CreateTaskRequest{ActionID: 999, ObjectType: engine.ObjectTypeCluster, ObjectID: e.cluster.ID},
			code: engine.ErrCodeActionNotFound,
		},
		{
			name: "unknown object",
			req:  engine.CreateTaskRequest{ActionID: e.install.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: 999},
			code: engine.ErrCodeObjectNotFound,
		},
		{
			name: "state not available",
			req:  engine.CreateTaskRequest{ActionID: e.install.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: installed.ID},
			code: engine.ErrCodeTask,
		},
		{
			name: "config for action without config",
			req: engine.CreateTaskRequest{
				ActionID: e.install.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: e.cluster.ID,
				Config: map[string]interface{}{"x": 1},
			},
			code: engine.ErrCodeConfigValue,
		},
		{
			name: "missing config",
			req:  engine.CreateTaskRequest{ActionID: e.configure.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: e.cluster.ID},
			code: engine.ErrCodeTask,
		},
		{
			name: "missing required key",
			req: engine.CreateTaskRequest{
				ActionID: e.configure.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: e.cluster.ID,
				Config: map[string]interface{}{"port": 1},
			},
			code: engine.ErrCodeConfigValue,
		},
		{
			name: "unknown key",
			req: engine.CreateTaskRequest{
				ActionID: e.configure.ID, ObjectType: engine.ObjectTypeCluster, ObjectID: e.cluster.ID,
				Config: map[string]interface{}{"name": "zk", "color": "red"},
			},
			code: engine.ErrCodeConfigValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tasks.Create(context.Background(), tt.req)
			if err == nil {
				t.Fatal("Create() should fail")
			}
			if got := engine.CodeOf(err); got != tt.code {
				t.Errorf("code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}

func TestTasks_StartAndRestart(t *testing.T) {
	e := newEnv(t)
	e.cfg.Executable = "/usr/bin/stackmgr"
	spawner := &recordingSpawner{}
	tasks := e.tasks(t, spawner)
	ctx := context.Background()
	task, _ := e.createInstall(t)

	if err := tasks.Restart(ctx, task.ID); engine.CodeOf(err) != engine.ErrCodeTask {
		t.Errorf("Restart() of a created task error = %v, want TASK_ERROR", err)
	}

	tests := []struct {
		status  engine.JobStatus
		restart bool
	}{
		{engine.JobStatusSuccess, false},
		{engine.JobStatusFailed, true},
		{engine.JobStatusAborted, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			spawner.calls = nil
			current := e.task(t, task.ID)
			current.Status = tt.status
			if err := e.store.UpdateTask(ctx, current); err != nil {
				t.Fatalf("UpdateTask() error = %v", err)
			}

			if err := tasks.Restart(ctx, task.ID); err != nil {
				t.Fatalf("Restart() error = %v", err)
			}
			if len(spawner.calls) != 1 {
				t.Fatalf("got %d spawns, want 1", len(spawner.calls))
			}
			call := spawner.calls[0]
			hasRestart := call[len(call)-1] == "restart"
			if hasRestart != tt.restart || call[3] != itoa(task.ID) {
				t.Errorf("spawned %v", call)
			}
			if got := e.task(t, task.ID).Status; got != engine.JobStatusRunning {
				t.Errorf("Status = %s, want running", got)
			}
		})
	}

	if err := tasks.Start(ctx, 999, false); engine.CodeOf(err) != engine.ErrCodeTaskNotFound {
		t.Errorf("Start() of unknown task error = %v", err)
	}
}

func TestTasks_StartKeepsSupervisorUpdates(t *testing.T) {
	e := newEnv(t)
	e.cfg.Executable = "/usr/bin/stackmgr"
	ctx := context.Background()
	task, _ := e.createInstall(t)

	spawner := &recordingSpawner{started: func() {
		running := e.task(t, task.ID)
		running.PID = 4242
		running.Status = engine.JobStatusFailed
		if err := e.store.UpdateTask(ctx, running); err != nil {
			t.Fatalf("UpdateTask() error = %v", err)
		}
	}}
	if err := e.tasks(t, spawner).Start(ctx, task.ID, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	got := e.task(t, task.ID)
	if got.PID != 4242 || got.Status != engine.JobStatusFailed {
		t.Errorf("task pid = %d status = %s, want the supervisor's 4242 failed", got.PID, got.Status)
	}
}

func TestTasks_StartSpawnFailure(t *testing.T) {
	e := newEnv(t)
	e.cfg.Executable = "/usr/bin/stackmgr"
	task, _ := e.createInstall(t)

	spawner := &recordingSpawner{err: os.ErrPermission}
	err := e.tasks(t, spawner).Start(context.Background(), task.ID, false)
	if engine.CodeOf(err) != engine.ErrCodeTask {
		t.Fatalf("Start() error = %v, want TASK_ERROR", err)
	}
	if got := e.task(t, task.ID).Status; got != engine.JobStatusCreated {
		t.Errorf("Status = %s, want created after a failed spawn", got)
	}
}

func TestTasks_Cancel(t *testing.T) {
	e := newEnv(t)
	tasks := e.tasks(t, nil)
	task, _ := e.createInstall(t)

	if err := tasks.Cancel(context.Background(), task.ID); engine.CodeOf(err) != engine.ErrCodeTask {
		t.Errorf("Cancel() of a created task error = %v, want TASK_ERROR", err)
	}
}

func TestTasks_AbortAll(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	task, jobs := e.createInstall(t)

	task.Status = engine.JobStatusRunning
	if err := e.store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	jobs[0].Status = engine.JobStatusSuccess
	jobs[1].Status = engine.JobStatusRunning
	for _, j := range jobs[:2] {
		if err := e.store.UpdateJob(ctx, j); err != nil {
			t.Fatalf("UpdateJob() error = %v", err)
		}
	}

	n, err := e.tasks(t, nil).AbortAll(ctx)
	if err != nil {
		t.Fatalf("AbortAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("aborted %d tasks, want 1", n)
	}

	if got := e.task(t, task.ID).Status; got != engine.JobStatusAborted {
		t.Errorf("task status = %s", got)
	}
	want := []engine.JobStatus{engine.JobStatusSuccess, engine.JobStatusAborted, engine.JobStatusCreated}
	for i, j := range e.jobs(t, task.ID) {
		if j.Status != want[i] {
			t.Errorf("job %d status = %s, want %s", i, j.Status, want[i])
		}
	}
}
