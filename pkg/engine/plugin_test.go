package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

// preparedJob creates an install task and materializes its first job.
func preparedJob(t *testing.T, e *env) *engine.Job {
	t.Helper()
	task, jobs := e.createInstall(t)
	if err := engine.PrepareJob(context.Background(), e.store, e.cfg, task, jobs[0]); err != nil {
		t.Fatalf("PrepareJob() error = %v", err)
	}
	return jobs[0]
}

func TestPlugin_States(t *testing.T) {
	e := newEnv(t)
	job := preparedJob(t, e)
	p := engine.NewPlugin(e.store, e.events, e.cfg.RunDir, zerolog.Nop())
	ctx := context.Background()
	id := e.cluster.ID

	if _, err := p.SetState(ctx, job.ID, engine.ObjectTypeCluster, id, "running"); err != nil {
		t.Fatalf("SetState() error = %v", err)
	}
	if _, err := p.SetMultiState(ctx, job.ID, engine.ObjectTypeCluster, id, "upgrading"); err != nil {
		t.Fatalf("SetMultiState() error = %v", err)
	}
	obj, err := p.SetMultiState(ctx, job.ID, engine.ObjectTypeCluster, id, "upgrading")
	if err != nil {
		t.Fatalf("SetMultiState() error = %v", err)
	}
	if obj.State != "running" || len(obj.MultiState) != 1 {
		t.Errorf("object = %+v", obj)
	}
	if !e.events.has("change_state", "cluster", id, "upgrading") {
		t.Error("missing multi_state event")
	}

	if obj, err = p.UnsetMultiState(ctx, job.ID, engine.ObjectTypeCluster, id, "upgrading", false); err != nil {
		t.Fatalf("UnsetMultiState() error = %v", err)
	}
	if len(obj.MultiState) != 0 {
		t.Errorf("multi_state = %v", obj.MultiState)
	}

	if _, err := p.UnsetMultiState(ctx, job.ID, engine.ObjectTypeCluster, id, "upgrading", false); engine.CodeOf(err) != engine.ErrCodeTask {
		t.Errorf("UnsetMultiState() of a missing flag error = %v, want TASK_ERROR", err)
	}
	if _, err := p.UnsetMultiState(ctx, job.ID, engine.ObjectTypeCluster, id, "upgrading", true); err != nil {
		t.Errorf("UnsetMultiState() with missing_ok error = %v", err)
	}

	stored := e.object(t)
	if stored.State != "running" || len(stored.MultiState) != 0 {
		t.Errorf("stored object = %+v", stored)
	}
}

func TestPlugin_Errors(t *testing.T) {
	e := newEnv(t)
	job := preparedJob(t, e)
	p := engine.NewPlugin(e.store, nil, e.cfg.RunDir, zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
		code string
	}{
		{
			name: "empty state",
			run: func() error {
				_, err := p.SetState(ctx, job.ID, engine.ObjectTypeCluster, e.cluster.ID, "")
				return err
			},
			code: engine.ErrCodeTask,
		},
		{
			name: "unknown object",
			run: func() error {
				_, err := p.SetState(ctx, job.ID, engine.ObjectTypeService, e.cluster.ID, "x")
				return err
			},
			code: engine.ErrCodeObjectNotFound,
		},
		{
			name: "job without config",
			run: func() error {
				_, err := p.SetMultiState(ctx, 999, engine.ObjectTypeCluster, e.cluster.ID, "x")
				return err
			},
			code: engine.ErrCodeLock,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.run(); engine.CodeOf(err) != tt.code {
				t.Errorf("error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestLockJob_Exclusive(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "5"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "5", "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	first, err := engine.LockJob(dir, 5)
	if err != nil {
		t.Fatalf("LockJob() error = %v", err)
	}

	acquired := make(chan *engine.JobLock, 1)
	go func() {
		second, err := engine.LockJob(dir, 5)
		if err != nil {
			t.Errorf("LockJob() error = %v", err)
			close(acquired)
			return
		}
		acquired <- second
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first is held")
	case <-time.After(100 * time.Millisecond):
	}

	if err := first.Unlock(); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	select {
	case second := <-acquired:
		if second != nil {
			second.Unlock()
		}
	case <-time.After(5 * time.Second):
		t.Fatal("second lock never acquired")
	}
}
