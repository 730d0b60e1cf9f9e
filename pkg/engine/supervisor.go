package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// Supervisor runs the jobs of one task in order. It is the body of the
// `task run` process started by Tasks.Start.
type Supervisor struct {
	store  Store
	events EventPoster
	cfg    TaskConfig
	logger zerolog.Logger
}

// NewSupervisor creates a supervisor. events may be nil.
func NewSupervisor(store Store, events EventPoster, cfg TaskConfig, logger zerolog.Logger) (*Supervisor, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid task config: %w", err)
	}
	cfg.setDefaults()
	if events == nil {
		events = NopEventPoster{}
	}
	return &Supervisor{
		store:  store,
		events: events,
		cfg:    cfg,
		logger: logger.With().Str("component", "supervisor").Logger(),
	}, nil
}

// Run executes the task until a job fails, every job succeeds or ctx is
// cancelled. Cancelling ctx aborts the task: the running job receives
// SIGTERM and both are marked aborted. With restart set, jobs that already
// succeeded are skipped.
func (s *Supervisor) Run(ctx context.Context, taskID int64, restart bool) (Result, error) {
	// Bookkeeping must survive the cancellation that triggers an abort.
	dbCtx := context.WithoutCancel(ctx)
	logger := s.logger.With().Int64("task_id", taskID).Logger()

	task, err := s.store.GetTask(dbCtx, taskID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.Error().Msg("Task does not exist")
			return ResultFailed, Errorf(ErrCodeTaskNotFound, "task #%d does not exist", taskID)
		}
		return ResultFailed, err
	}
	action, err := s.store.GetAction(dbCtx, task.ActionID)
	if err != nil {
		return ResultFailed, fmt.Errorf("failed to get action of task %d: %w", taskID, err)
	}

	dbCtx = telemetry.StartTask(dbCtx, taskID, action.Name)
	result, err := s.run(ctx, dbCtx, task, restart, logger)
	telemetry.EndTask(dbCtx, string(result), err)

	logger.Info().Str("result", string(result)).Msg("Task finished")
	return result, err
}

func (s *Supervisor) run(ctx, dbCtx context.Context, task *Task, restart bool, logger zerolog.Logger) (Result, error) {
	task.PID = os.Getpid()
	task.Status = JobStatusRunning
	if err := s.store.UpdateTask(dbCtx, task); err != nil {
		return ResultFailed, fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}

	jobs, err := s.store.ListJobs(dbCtx, task.ID)
	if err != nil {
		return ResultFailed, fmt.Errorf("failed to list jobs of task %d: %w", task.ID, err)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	if len(jobs) == 0 {
		logger.Error().Msg("Task has no jobs")
		return ResultFailed, finishTask(dbCtx, s.store, s.events, task, nil, JobStatusFailed)
	}

	var (
		last *Job
		code int
	)
	for _, job := range jobs {
		if restart && job.Status == JobStatusSuccess {
			logger.Debug().Int64("job_id", job.ID).Msg("Skipping successful job")
			continue
		}
		if ctx.Err() != nil {
			return s.abort(dbCtx, task, nil, logger)
		}

		fresh, err := s.store.GetTask(dbCtx, task.ID)
		if err != nil {
			return ResultFailed, fmt.Errorf("failed to refresh task %d: %w", task.ID, err)
		}
		task = fresh
		last = job

		var aborted bool
		code, aborted, err = s.runJob(ctx, dbCtx, task, job, logger)
		if aborted {
			return s.abort(dbCtx, task, job, logger)
		}
		if err != nil {
			logger.Error().Err(err).Int64("job_id", job.ID).Msg("Job failed to run")
			if ferr := finishJob(dbCtx, s.store, s.events, job, JobStatusFailed); ferr != nil {
				return ResultFailed, ferr
			}
			if ferr := finishTask(dbCtx, s.store, s.events, task, job, JobStatusFailed); ferr != nil {
				return ResultFailed, ferr
			}
			return ResultFailed, err
		}

		if err := s.refreshObject(dbCtx, task); err != nil {
			return ResultFailed, err
		}
		if code != 0 {
			break
		}
	}

	if last == nil {
		// every job succeeded on a previous run
		return ResultSuccess, finishTask(dbCtx, s.store, s.events, task, nil, JobStatusSuccess)
	}
	if code == 0 {
		return ResultSuccess, finishTask(dbCtx, s.store, s.events, task, last, JobStatusSuccess)
	}
	return ResultFailed, finishTask(dbCtx, s.store, s.events, task, last, JobStatusFailed)
}

// runJob prepares and executes one job and stores its outcome. aborted is
// set when ctx was cancelled while the job process was alive; the job is
// then left running for abort to terminate.
func (s *Supervisor) runJob(ctx, dbCtx context.Context, task *Task, job *Job, logger zerolog.Logger) (code int, aborted bool, err error) {
	logger = logger.With().Int64("job_id", job.ID).Logger()

	jc, err := loadJobContext(dbCtx, s.store, task, job)
	if err != nil {
		return 0, false, err
	}
	if err := prepareJob(dbCtx, s.store, s.cfg, jc); err != nil {
		return 0, false, err
	}
	scriptType := jc.scriptType()

	_, err = telemetry.RecordJob(dbCtx, job.ID, string(scriptType), func(jobCtx context.Context) (string, error) {
		cmd, done, startErr := s.startJob(jc)
		if startErr != nil {
			return string(JobStatusFailed), startErr
		}

		job.Status = JobStatusRunning
		job.PID = cmd.Process.Pid
		job.StartDate = time.Now().UTC()
		if uerr := s.store.UpdateJob(jobCtx, job); uerr != nil {
			return string(JobStatusFailed), fmt.Errorf("failed to update job %d: %w", job.ID, uerr)
		}
		postJobStatus(jobCtx, s.events, "job", job.ID, JobStatusRunning)
		logger.Info().Int("pid", job.PID).Str("script_type", string(scriptType)).Msg("Job started")

		select {
		case waitErr := <-done:
			code = ExitCode(waitErr)
		case <-ctx.Done():
			aborted = true
			return string(JobStatusAborted), nil
		}

		status := StatusFromExitCode(code)
		logger.Info().Int("exit_code", code).Str("status", string(status)).Msg("Job finished")
		if ferr := finishJob(jobCtx, s.store, s.events, job, status); ferr != nil {
			return string(status), ferr
		}
		if lerr := s.copyLogs(jobCtx, job, scriptType); lerr != nil {
			logger.Warn().Err(lerr).Msg("Failed to store job logs")
		}
		return string(status), nil
	})
	return code, aborted, err
}

// startJob launches `<venv wrapper> <job runner> <job id>` with its output
// captured in the job directory.
func (s *Supervisor) startJob(jc *jobContext) (*exec.Cmd, <-chan error, error) {
	dir := s.cfg.JobDir(jc.job.ID)
	prefix := string(jc.scriptType())

	stdout, err := os.Create(filepath.Join(dir, prefix+"-stdout.txt"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout log: %w", err)
	}
	stderr, err := os.Create(filepath.Join(dir, prefix+"-stderr.txt"))
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("failed to create stderr log: %w", err)
	}

	cmd := exec.Command(s.cfg.VenvWrapper, s.cfg.JobRunner, strconv.FormatInt(jc.job.ID, 10))
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(),
		"STACKMGR_VENV="+jc.action.Venv,
		"STACKMGR_RUN_DIR="+s.cfg.RunDir,
	)
	if s.cfg.SettingsFile != "" {
		cmd.Env = append(cmd.Env, "STACKMGR_CONFIG="+s.cfg.SettingsFile)
	}
	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, nil, fmt.Errorf("failed to start job %d: %w", jc.job.ID, err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		stdout.Close()
		stderr.Close()
		done <- err
	}()
	return cmd, done, nil
}

// ExitCode converts a Wait error into an exit code. A process killed by a
// signal yields the negated signal number.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return 1
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// copyLogs stores the captured stdout and stderr of a job in its log rows.
func (s *Supervisor) copyLogs(ctx context.Context, job *Job, scriptType ScriptType) error {
	logs, err := s.store.ListLogs(ctx, job.ID)
	if err != nil {
		return err
	}
	for _, l := range logs {
		if l.Name != string(scriptType) || (l.Type != LogTypeStdout && l.Type != LogTypeStderr) {
			continue
		}
		body, err := os.ReadFile(filepath.Join(s.cfg.JobDir(job.ID), l.FileName()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("failed to read %s: %w", l.FileName(), err)
		}
		if err := s.store.UpdateLogBody(ctx, l.ID, string(body)); err != nil {
			return err
		}
		s.events.PostEvent(ctx, "add_job_log", "job", job.ID, map[string]interface{}{
			"id":     l.ID,
			"type":   string(l.Type),
			"name":   l.Name,
			"format": l.Format,
		})
	}
	return nil
}

// refreshObject drops the task's reference to an object deleted by a job.
func (s *Supervisor) refreshObject(ctx context.Context, task *Task) error {
	if task.ObjectID == nil {
		return nil
	}
	_, err := s.store.GetObject(ctx, task.ObjectType, *task.ObjectID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to refresh object of task %d: %w", task.ID, err)
	}
	task.dropObject()
	if err := s.store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}
	return nil
}

// abort terminates the running job of a cancelled task. When the caller
// does not know it, the running job is looked up for a bounded time.
func (s *Supervisor) abort(ctx context.Context, task *Task, running *Job, logger zerolog.Logger) (Result, error) {
	if running == nil {
		running = s.findRunningJob(ctx, task.ID)
	}
	if running == nil {
		logger.Warn().Msg("Task aborted without a running job")
		return ResultAborted, finishTask(ctx, s.store, s.events, task, nil, JobStatusAborted)
	}

	if running.PID > 0 {
		if err := unix.Kill(running.PID, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Error().Err(err).Int("pid", running.PID).Msg("Failed to terminate job")
		}
	}
	logger.Warn().Int64("job_id", running.ID).Int("pid", running.PID).Msg("Task aborted")

	if err := finishJob(ctx, s.store, s.events, running, JobStatusAborted); err != nil {
		return ResultAborted, err
	}
	return ResultAborted, finishTask(ctx, s.store, s.events, task, running, JobStatusAborted)
}

func (s *Supervisor) findRunningJob(ctx context.Context, taskID int64) *Job {
	for i := 0; i < s.cfg.PollAttempts; i++ {
		jobs, err := s.store.ListJobs(ctx, taskID)
		if err == nil {
			for _, job := range jobs {
				if job.Status == JobStatusRunning {
					return job
				}
			}
		}
		time.Sleep(s.cfg.PollInterval)
	}
	return nil
}
