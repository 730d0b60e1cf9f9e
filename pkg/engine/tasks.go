package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// TaskConfig holds the paths and commands used to run tasks.
type TaskConfig struct {
	RunDir    string `validate:"required"`
	LogDir    string `validate:"required"`
	BundleDir string `validate:"required"`

	// Executable is the stackmgr binary started as `task run <id>`.
	Executable string

	// VenvWrapper and JobRunner form the command line of every job:
	// <VenvWrapper> <JobRunner> <job id>.
	VenvWrapper string `validate:"required"`
	JobRunner   string `validate:"required"`

	AnsibleForks int `validate:"min=1"`

	// StatusToken is passed to job scripts for status API calls.
	StatusToken string

	// SettingsFile is handed to job runners that need the store.
	SettingsFile string

	// PollAttempts and PollInterval bound the search for a running job
	// when a task is cancelled.
	PollAttempts int
	PollInterval time.Duration
}

func (c *TaskConfig) setDefaults() {
	if c.AnsibleForks == 0 {
		c.AnsibleForks = 5
	}
	if c.PollAttempts == 0 {
		c.PollAttempts = 10
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
}

// JobDir returns the working directory of a job.
func (c *TaskConfig) JobDir(jobID int64) string {
	return filepath.Join(c.RunDir, strconv.FormatInt(jobID, 10))
}

// CreateTaskRequest asks for an action to be run on an object.
type CreateTaskRequest struct {
	ActionID   int64                  `json:"action_id" validate:"required,gt=0"`
	ObjectType ObjectType             `json:"object_type" validate:"required,oneof=adcm cluster service component provider host"`
	ObjectID   int64                  `json:"object_id" validate:"required,gt=0"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Verbose    bool                   `json:"verbose"`
}

// Spawner starts a detached supervisor process and returns its pid.
type Spawner interface {
	Spawn(name string, args []string, stderr string) (int, error)
}

// ProcessSpawner starts processes in their own session.
type ProcessSpawner struct{}

// Spawn implements Spawner.
func (ProcessSpawner) Spawn(name string, args []string, stderr string) (int, error) {
	errFile, err := os.OpenFile(stderr, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", stderr, err)
	}
	defer errFile.Close()

	cmd := exec.Command(name, args...)
	cmd.Stderr = errFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("failed to release process %d: %w", pid, err)
	}
	return pid, nil
}

// Tasks creates tasks and controls their supervisor processes.
type Tasks struct {
	store    Store
	events   EventPoster
	spawner  Spawner
	cfg      TaskConfig
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewTasks creates a task manager. events and spawner may be nil.
func NewTasks(store Store, events EventPoster, spawner Spawner, cfg TaskConfig, logger zerolog.Logger) (*Tasks, error) {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid task config: %w", err)
	}
	cfg.setDefaults()
	if events == nil {
		events = NopEventPoster{}
	}
	if spawner == nil {
		spawner = ProcessSpawner{}
	}
	return &Tasks{
		store:    store,
		events:   events,
		spawner:  spawner,
		cfg:      cfg,
		validate: v,
		logger:   logger.With().Str("component", "tasks").Logger(),
	}, nil
}

// Create records a task with its jobs and log rows. Task actions get one
// job per sub-action, job actions a single job.
func (t *Tasks) Create(ctx context.Context, req CreateTaskRequest) (*Task, error) {
	if err := t.validate.Struct(req); err != nil {
		return nil, Errorf(ErrCodeTask, "invalid task request").Wrap(err)
	}

	action, err := t.store.GetAction(ctx, req.ActionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Errorf(ErrCodeActionNotFound, "action #%d does not exist", req.ActionID)
		}
		return nil, err
	}
	obj, err := t.store.GetObject(ctx, req.ObjectType, req.ObjectID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Errorf(ErrCodeObjectNotFound, "%s #%d does not exist", req.ObjectType, req.ObjectID)
		}
		return nil, err
	}

	if err := t.checkTarget(ctx, action, obj); err != nil {
		return nil, err
	}
	if !action.Allowed(obj) {
		return nil, Errorf(ErrCodeTask, "action %q is disabled for %s #%d in state %q", action.Name, obj.Type, obj.ID, obj.State)
	}

	conf, err := t.checkConfig(ctx, action, req.Config)
	if err != nil {
		return nil, err
	}

	var subs []*SubAction
	if action.Type == ActionTypeTask {
		if subs, err = t.store.ListSubActions(ctx, action.ID); err != nil {
			return nil, err
		}
	} else {
		subs = []*SubAction{nil}
	}

	now := time.Now().UTC()
	objID := obj.ID
	task := &Task{
		ActionID:   action.ID,
		ObjectType: obj.Type,
		ObjectID:   &objID,
		Status:     JobStatusCreated,
		Config:     conf,
		Verbose:    req.Verbose,
		StartDate:  now,
		FinishDate: now,
	}
	if err := t.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	t.postStatus(ctx, "task", task.ID, JobStatusCreated)

	for _, sub := range subs {
		job := &Job{
			TaskID:     task.ID,
			ActionID:   action.ID,
			Status:     JobStatusCreated,
			StartDate:  now,
			FinishDate: now,
		}
		scriptType := action.ScriptType
		if sub != nil {
			subID := sub.ID
			job.SubActionID = &subID
			scriptType = sub.ScriptType
		}
		if err := t.store.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to create job: %w", err)
		}
		for _, logType := range []LogType{LogTypeStdout, LogTypeStderr} {
			ls := &LogStorage{JobID: job.ID, Name: string(scriptType), Type: logType, Format: "txt"}
			if err := t.store.CreateLog(ctx, ls); err != nil {
				return nil, fmt.Errorf("failed to create job log: %w", err)
			}
		}
		if err := os.MkdirAll(filepath.Join(t.cfg.JobDir(job.ID), "tmp"), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create job directory: %w", err)
		}
		t.postStatus(ctx, "job", job.ID, JobStatusCreated)
	}

	t.logger.Info().
		Int64("task_id", task.ID).
		Str("action", action.Name).
		Str("object_type", string(obj.Type)).
		Int64("object_id", obj.ID).
		Int("jobs", len(subs)).
		Msg("Task created")
	return task, nil
}

// checkTarget verifies the action is declared for the object. Upgrade
// actions live in the new bundle and match by prototype type and name.
func (t *Tasks) checkTarget(ctx context.Context, action *Action, obj *Object) error {
	switch {
	case action.HostAction:
		if obj.Type != ObjectTypeHost {
			return Errorf(ErrCodeTask, "host action %q can only run on a host", action.Name)
		}
		return nil
	case obj.PrototypeID == action.PrototypeID:
		return nil
	case action.IsUpgrade:
		from, err := t.store.GetPrototype(ctx, obj.PrototypeID)
		if err != nil {
			return err
		}
		to, err := t.store.GetPrototype(ctx, action.PrototypeID)
		if err != nil {
			return err
		}
		if from.Type == to.Type && from.Name == to.Name {
			return nil
		}
	}
	return Errorf(ErrCodeTask, "action %q does not belong to %s #%d", action.Name, obj.Type, obj.ID)
}

// checkConfig validates a task config against the action's config keys
// and fills in defaults.
func (t *Tasks) checkConfig(ctx context.Context, action *Action, conf map[string]interface{}) (map[string]interface{}, error) {
	actionID := action.ID
	spec, err := t.store.ListConfigs(ctx, action.PrototypeID, &actionID)
	if err != nil {
		return nil, err
	}
	if len(spec) == 0 {
		if len(conf) > 0 {
			return nil, Errorf(ErrCodeConfigValue, "absent config in action %q", action.Name)
		}
		return nil, nil
	}
	if conf == nil {
		return nil, Errorf(ErrCodeTask, "action %q config is required", action.Name)
	}

	known := make(map[string]bool)
	out := make(map[string]interface{}, len(conf))
	for k, v := range conf {
		out[k] = v
	}
	for _, c := range spec {
		known[c.Name] = true
		if c.Type == "group" {
			if _, ok := out[c.Name]; !ok {
				out[c.Name] = map[string]interface{}{}
			}
			continue
		}

		container := out
		if c.Subname != "" {
			if _, ok := out[c.Name]; !ok {
				out[c.Name] = map[string]interface{}{}
			}
			group, ok := out[c.Name].(map[string]interface{})
			if !ok {
				return nil, Errorf(ErrCodeConfigValue, "config key %q should be a map", c.Name)
			}
			container = group
		}
		key := c.Name
		if c.Subname != "" {
			key = c.Subname
		}
		if _, ok := container[key]; ok {
			continue
		}
		if c.Default != nil {
			container[key] = c.Default
			continue
		}
		if c.Required {
			return nil, Errorf(ErrCodeConfigValue, "config key %q is required", configPath(c))
		}
		container[key] = nil
	}
	for k := range conf {
		if !known[k] {
			return nil, Errorf(ErrCodeConfigValue, "config key %q is not defined in action %q", k, action.Name)
		}
	}
	return out, nil
}

func configPath(c *PrototypeConfig) string {
	if c.Subname == "" {
		return c.Name
	}
	return c.Name + "/" + c.Subname
}

// Start launches the supervisor of a task and marks it running.
func (t *Tasks) Start(ctx context.Context, id int64, restart bool) error {
	task, err := t.getTask(ctx, id)
	if err != nil {
		return err
	}
	if t.cfg.Executable == "" {
		return Errorf(ErrCodeInternal, "no supervisor executable configured")
	}

	args := []string{"task", "run", strconv.FormatInt(id, 10)}
	if restart {
		args = append(args, "restart")
	}

	// The row is written before the supervisor exists so that none of its
	// own updates can be overwritten.
	prev := *task
	task.Status = JobStatusRunning
	task.FinishDate = time.Now().UTC()
	if err := t.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	pid, err := t.spawner.Spawn(t.cfg.Executable, args, filepath.Join(t.cfg.LogDir, "task_runner.err"))
	if err != nil {
		if uerr := t.store.UpdateTask(ctx, &prev); uerr != nil {
			t.logger.Error().Err(uerr).Int64("task_id", id).Msg("Failed to restore task status")
		}
		return Errorf(ErrCodeTask, "failed to start task #%d", id).Wrap(err)
	}
	t.postStatus(ctx, "task", id, JobStatusRunning)

	t.logger.Info().Int64("task_id", id).Int("pid", pid).Bool("restart", restart).Msg("Task started")
	return nil
}

// Restart runs a finished task again. Failed and aborted tasks skip the
// jobs that already succeeded.
func (t *Tasks) Restart(ctx context.Context, id int64) error {
	task, err := t.getTask(ctx, id)
	if err != nil {
		return err
	}
	switch task.Status {
	case JobStatusCreated, JobStatusRunning:
		return Errorf(ErrCodeTask, "task #%d is running", id)
	case JobStatusSuccess:
		return t.Start(ctx, id, false)
	case JobStatusFailed, JobStatusAborted:
		return t.Start(ctx, id, true)
	default:
		return Errorf(ErrCodeTask, "task #%d has unexpected status: %s", id, task.Status)
	}
}

// Cancel sends SIGTERM to the supervisor of a running task.
func (t *Tasks) Cancel(ctx context.Context, id int64) error {
	task, err := t.getTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status != JobStatusRunning {
		return Errorf(ErrCodeTask, "task #%d is not running", id)
	}
	if task.PID <= 0 {
		return Errorf(ErrCodeTask, "task #%d has no supervisor process", id)
	}
	if err := unix.Kill(task.PID, unix.SIGTERM); err != nil {
		return Errorf(ErrCodeTask, "failed to signal task #%d (pid %d)", id, task.PID).Wrap(err)
	}
	t.logger.Info().Int64("task_id", id).Int("pid", task.PID).Msg("Task cancelled")
	return nil
}

// AbortAll marks every running task and job aborted. It is called on
// startup, when no supervisor can still be alive.
func (t *Tasks) AbortAll(ctx context.Context) (int, error) {
	tasks, err := t.store.ListTasks(ctx, JobStatusRunning)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, task := range tasks {
		task.Status = JobStatusAborted
		task.FinishDate = now
		if err := t.store.UpdateTask(ctx, task); err != nil {
			return 0, fmt.Errorf("failed to abort task %d: %w", task.ID, err)
		}
		t.postStatus(ctx, "task", task.ID, JobStatusAborted)

		jobs, err := t.store.ListJobs(ctx, task.ID)
		if err != nil {
			return 0, err
		}
		for _, job := range jobs {
			if job.Status != JobStatusRunning {
				continue
			}
			job.Status = JobStatusAborted
			job.FinishDate = now
			if err := t.store.UpdateJob(ctx, job); err != nil {
				return 0, fmt.Errorf("failed to abort job %d: %w", job.ID, err)
			}
			t.postStatus(ctx, "job", job.ID, JobStatusAborted)
		}
	}
	if len(tasks) > 0 {
		t.logger.Warn().Int("tasks", len(tasks)).Msg("Aborted running tasks")
	}
	return len(tasks), nil
}

func (t *Tasks) getTask(ctx context.Context, id int64) (*Task, error) {
	task, err := t.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Errorf(ErrCodeTaskNotFound, "task #%d does not exist", id)
		}
		return nil, err
	}
	return task, nil
}

func (t *Tasks) postStatus(ctx context.Context, objectType string, id int64, status JobStatus) {
	postJobStatus(ctx, t.events, objectType, id, status)
}
