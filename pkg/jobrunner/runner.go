// Package jobrunner executes the script of one prepared job. It is the
// body of the job-runner binary started by the task supervisor inside the
// job's virtualenv.
package jobrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

// JobConfig is the part of a job's config.json the runner reads.
type JobConfig struct {
	Env struct {
		RunDir   string `json:"run_dir"`
		LogDir   string `json:"log_dir"`
		TmpDir   string `json:"tmp_dir"`
		StackDir string `json:"stack_dir"`
	} `json:"env"`
	Job struct {
		ID         int64                  `json:"id"`
		Command    string                 `json:"command"`
		Script     string                 `json:"script"`
		ScriptType engine.ScriptType      `json:"script_type"`
		Playbook   string                 `json:"playbook"`
		Verbose    bool                   `json:"verbose"`
		Params     map[string]interface{} `json:"params"`
	} `json:"job"`
}

// LoadJobConfig reads <runDir>/<jobID>/config.json.
func LoadJobConfig(runDir string, jobID int64) (*JobConfig, error) {
	path := filepath.Join(runDir, strconv.FormatInt(jobID, 10), "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job config: %w", err)
	}
	var conf JobConfig
	if err := json.Unmarshal(data, &conf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &conf, nil
}

// InternalFunc runs an internal script of a job in-process.
type InternalFunc func(ctx context.Context, jobID int64) error

// Options configures a Runner.
type Options struct {
	RunDir string `validate:"required"`

	// AnsiblePlaybook and Python are the interpreters of ansible and
	// python scripts.
	AnsiblePlaybook string
	Python          string

	Stdout io.Writer
	Stderr io.Writer

	// Internal handles internal scripts. Nil rejects them.
	Internal InternalFunc
}

// Runner executes job scripts.
type Runner struct {
	opts   Options
	logger zerolog.Logger
}

// New creates a Runner.
func New(opts Options, logger zerolog.Logger) (*Runner, error) {
	if err := validator.New().Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid runner options: %w", err)
	}
	if opts.AnsiblePlaybook == "" {
		opts.AnsiblePlaybook = "ansible-playbook"
	}
	if opts.Python == "" {
		opts.Python = "python3"
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	return &Runner{
		opts:   opts,
		logger: logger.With().Str("component", "job-runner").Logger(),
	}, nil
}

// Run executes the job and returns the exit code of its script. A script
// killed by a signal yields the negated signal number. Cancelling ctx
// sends SIGTERM to the script.
func (r *Runner) Run(ctx context.Context, jobID int64) (int, error) {
	conf, err := LoadJobConfig(r.opts.RunDir, jobID)
	if err != nil {
		return 1, err
	}
	logger := r.logger.With().Int64("job_id", jobID).Str("script_type", string(conf.Job.ScriptType)).Logger()

	if conf.Job.ScriptType == engine.ScriptTypeInternal {
		if r.opts.Internal == nil {
			return 1, fmt.Errorf("internal script %q is not supported", conf.Job.Script)
		}
		if err := r.opts.Internal(ctx, jobID); err != nil {
			fmt.Fprintln(r.opts.Stderr, err)
			logger.Error().Err(err).Msg("Internal script failed")
			return 1, nil
		}
		return 0, nil
	}

	cmd, err := r.Command(ctx, jobID, conf)
	if err != nil {
		return 1, err
	}
	logger.Info().Str("command", strings.Join(cmd.Args, " ")).Msg("Running job script")

	if err := cmd.Run(); err != nil && cmd.ProcessState == nil {
		return 1, fmt.Errorf("failed to execute %s: %w", cmd.Path, err)
	}
	code := cmd.ProcessState.ExitCode()
	if ws, ok := cmd.ProcessState.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		code = -int(ws.Signal())
	}
	logger.Info().Int("exit_code", code).Msg("Job script finished")
	return code, nil
}

// Command builds the process that runs the job script.
func (r *Runner) Command(ctx context.Context, jobID int64, conf *JobConfig) (*exec.Cmd, error) {
	jobDir := filepath.Join(r.opts.RunDir, strconv.FormatInt(jobID, 10))

	var cmd *exec.Cmd
	switch conf.Job.ScriptType {
	case engine.ScriptTypeAnsible:
		args := []string{
			"-e", "@" + filepath.Join(jobDir, "config.json"),
			"-i", filepath.Join(jobDir, "inventory.json"),
			conf.Job.Playbook,
		}
		if tags, ok := conf.Job.Params["ansible_tags"].(string); ok && tags != "" {
			args = append(args, "--tags", tags)
		}
		if conf.Job.Verbose {
			args = append(args, "-vvvv")
		}
		cmd = exec.CommandContext(ctx, r.opts.AnsiblePlaybook, args...)
	case engine.ScriptTypePython:
		cmd = exec.CommandContext(ctx, r.opts.Python, conf.Job.Playbook)
	default:
		return nil, fmt.Errorf("unknown script type %q", conf.Job.ScriptType)
	}

	cmd.Dir = jobDir
	cmd.Stdout = r.opts.Stdout
	cmd.Stderr = r.opts.Stderr
	cmd.Env = scriptEnv(os.Environ(), jobDir, conf.Env.StackDir)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	return cmd, nil
}

// scriptEnv points ansible at the job's config and puts the bundle's
// python modules on the path.
func scriptEnv(environ []string, jobDir, stackDir string) []string {
	pythonPath := "./pmod:" + filepath.Join(stackDir, "pmod")
	env := make([]string, 0, len(environ)+2)
	for _, kv := range environ {
		switch {
		case strings.HasPrefix(kv, "PYTHONPATH="):
			if existing := strings.TrimPrefix(kv, "PYTHONPATH="); existing != "" {
				pythonPath += ":" + existing
			}
		case strings.HasPrefix(kv, "ANSIBLE_CONFIG="):
		default:
			env = append(env, kv)
		}
	}
	return append(env,
		"ANSIBLE_CONFIG="+filepath.Join(jobDir, "ansible.cfg"),
		"PYTHONPATH="+pythonPath,
	)
}
