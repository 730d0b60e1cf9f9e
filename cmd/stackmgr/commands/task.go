package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

func newTaskCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  `Create, start, cancel and supervise action runs.`,
	}

	cmd.AddCommand(newTaskCreateCommand())
	cmd.AddCommand(newTaskStartCommand())
	cmd.AddCommand(newTaskRestartCommand())
	cmd.AddCommand(newTaskCancelCommand())
	cmd.AddCommand(newTaskAbortAllCommand())
	cmd.AddCommand(newTaskShowCommand())
	cmd.AddCommand(newTaskRunCommand())

	return cmd
}

func newTaskCreateCommand() *cobra.Command {
	var (
		actionID   int64
		objectType string
		objectID   int64
		configJSON string
		start      bool
		taskDebug  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task for an action",
		Long: `Check that the action may run on the object, record the task with one
job per script and, with --start, launch its supervisor.`,
		Example: `  # Install a cluster
  stackmgr task create --action 12 --object-type cluster --object-id 3 --start

  # Run an action that takes a config
  stackmgr task create --action 14 --object-type service --object-id 8 \
    --config '{"restart": true}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.CreateTaskRequest{
				ActionID:   actionID,
				ObjectType: engine.ObjectType(objectType),
				ObjectID:   objectID,
				Verbose:    taskDebug,
			}
			if configJSON != "" {
				if err := json.Unmarshal([]byte(configJSON), &req.Config); err != nil {
					return fmt.Errorf("invalid --config: %w", err)
				}
			}

			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			tasks, err := a.tasks()
			if err != nil {
				return err
			}
			task, err := tasks.Create(ctx, req)
			if err != nil {
				return err
			}
			if start {
				if err := tasks.Start(ctx, task.ID, false); err != nil {
					return err
				}
				task.Status = engine.JobStatusRunning
			}
			return printResult(cmd.OutOrStdout(), task, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Task #%d created (%s)\n", task.ID, task.Status)
			})
		},
	}

	cmd.Flags().Int64Var(&actionID, "action", 0, "action id")
	cmd.Flags().StringVar(&objectType, "object-type", "", "target object type (cluster, service, component, provider, host, adcm)")
	cmd.Flags().Int64Var(&objectID, "object-id", 0, "target object id")
	cmd.Flags().StringVar(&configJSON, "config", "", "action config as a JSON object")
	cmd.Flags().BoolVar(&start, "start", false, "start the task right away")
	cmd.Flags().BoolVar(&taskDebug, "debug", false, "run the job scripts verbosely")
	_ = cmd.MarkFlagRequired("action")
	_ = cmd.MarkFlagRequired("object-type")
	_ = cmd.MarkFlagRequired("object-id")

	return cmd
}

// taskIDCommand builds a command that acts on one task id.
func taskIDCommand(use, short, long, done string, fn func(tasks *engine.Tasks, cmd *cobra.Command, id int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			tasks, err := a.tasks()
			if err != nil {
				return err
			}
			cmd.SetContext(ctx)
			if err := fn(tasks, cmd, id); err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), map[string]interface{}{"task_id": id, "result": done}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Task #%d %s\n", id, done)
			})
		},
	}
}

func newTaskStartCommand() *cobra.Command {
	return taskIDCommand("start", "Start a created task",
		`Launch a detached supervisor process for the task.`,
		"started",
		func(tasks *engine.Tasks, cmd *cobra.Command, id int64) error {
			return tasks.Start(cmd.Context(), id, false)
		})
}

func newTaskRestartCommand() *cobra.Command {
	return taskIDCommand("restart", "Run a finished task again",
		`Start the task again. Failed and aborted tasks skip the jobs that already
succeeded; successful tasks run every job.`,
		"restarted",
		func(tasks *engine.Tasks, cmd *cobra.Command, id int64) error {
			return tasks.Restart(cmd.Context(), id)
		})
}

func newTaskCancelCommand() *cobra.Command {
	return taskIDCommand("cancel", "Cancel a running task",
		`Send SIGTERM to the supervisor of the task. The supervisor stops the
running job and marks the task aborted.`,
		"cancelled",
		func(tasks *engine.Tasks, cmd *cobra.Command, id int64) error {
			return tasks.Cancel(cmd.Context(), id)
		})
}

func newTaskAbortAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort-all",
		Short: "Mark every running task aborted",
		Long: `Mark every running task and job aborted. Use it after a restart, when no
supervisor can still be alive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			tasks, err := a.tasks()
			if err != nil {
				return err
			}
			n, err := tasks.AbortAll(ctx)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), map[string]int{"aborted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Aborted %d task(s)\n", n)
			})
		},
	}
}

func newTaskShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			task, err := a.store.GetTask(ctx, id)
			if err != nil {
				return err
			}
			jobs, err := a.store.ListJobs(ctx, id)
			if err != nil {
				return err
			}
			out := struct {
				*engine.Task
				Jobs []*engine.Job `json:"jobs"`
			}{task, jobs}
			return printResult(cmd.OutOrStdout(), out, func(w io.Writer) {
				fmt.Fprintf(w, "Task #%d: %s (action %d, pid %d)\n", task.ID, task.Status, task.ActionID, task.PID)
				for _, job := range jobs {
					fmt.Fprintf(w, "  job #%-6d %-10s pid %d\n", job.ID, job.Status, job.PID)
				}
			})
		},
	}
}

func newTaskRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:    "run <task-id> [restart]",
		Short:  "Supervise a task (started by task start)",
		Hidden: true,
		Long: `Run the jobs of a task one after another in the foreground. SIGTERM
aborts the running job. The outcome is recorded in the task status; the
exit code is 15 when the task was aborted and 0 otherwise.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "task")
			if err != nil {
				return err
			}
			restart := len(args) == 2 && args[1] == "restart"

			a, ctx, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close(ctx)

			cfg, err := a.taskConfig()
			if err != nil {
				return err
			}
			sup, err := engine.NewSupervisor(a.store, a.tel.Events, cfg, a.logger)
			if err != nil {
				return err
			}
			result, err := sup.Run(ctx, id, restart)
			if err != nil {
				a.logger.Error().Err(err).Int64("task_id", id).Msg("Task supervisor failed")
			}
			if code := result.ExitCode(); code != 0 {
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}
