// Package main implements the job-runner binary. The task supervisor
// starts it inside the job's virtualenv as `job-runner <job id>`; it runs
// the job script and exits with the script's exit code.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/openfroyo/stackmgr/pkg/config"
	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/jobrunner"
	"github.com/openfroyo/stackmgr/pkg/stores"
)

// Version information (set via ldflags during build)
var Version = "dev"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("LOG_LEVEL") == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	code := 0
	cmd := &cobra.Command{
		Use:           "job-runner <job-id>",
		Short:         "Run the script of a prepared job",
		Version:       Version,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			code, err = runJob(cmd.Context(), jobID)
			return err
		},
	}

	if err := cmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Job runner failed")
		os.Exit(1)
	}
	stop()
	exit(code)
}

func runJob(ctx context.Context, jobID int64) (int, error) {
	settingsFile := os.Getenv("STACKMGR_CONFIG")
	runDir := os.Getenv("STACKMGR_RUN_DIR")
	if runDir == "" {
		settings, err := loadSettings(settingsFile)
		if err != nil {
			return 1, err
		}
		runDir = settings.RunDir
	}

	runner, err := jobrunner.New(jobrunner.Options{
		RunDir: runDir,
		Internal: func(ctx context.Context, jobID int64) error {
			return runInternal(ctx, settingsFile, jobID)
		},
	}, log.Logger)
	if err != nil {
		return 1, err
	}
	return runner.Run(ctx, jobID)
}

// runInternal opens the store to run an internal script in-process.
func runInternal(ctx context.Context, settingsFile string, jobID int64) error {
	settings, err := loadSettings(settingsFile)
	if err != nil {
		return err
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Database})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	return engine.RunInternal(ctx, store, nil, jobID, log.Logger)
}

func loadSettings(path string) (*config.Settings, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

// exit ends the process with code. A script killed by a signal is
// reported by dying from the same signal, so the supervisor sees it.
func exit(code int) {
	if code >= 0 {
		os.Exit(code)
	}
	sig := syscall.Signal(-code)
	signal.Reset(sig)
	if err := unix.Kill(os.Getpid(), sig); err == nil {
		time.Sleep(time.Second)
	}
	os.Exit(128 + int(sig))
}
