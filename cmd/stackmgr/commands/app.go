package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/stackmgr/pkg/admission"
	"github.com/openfroyo/stackmgr/pkg/bundle"
	"github.com/openfroyo/stackmgr/pkg/config"
	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stores"
	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// app holds what every command needs once the settings are read.
type app struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	logger   zerolog.Logger
}

// openApp loads the settings, starts telemetry and opens the database.
func openApp(ctx context.Context) (*app, context.Context, error) {
	return openWith(ctx, false)
}

// openDaemonApp is openApp for commands that keep running until cancelled.
func openDaemonApp(ctx context.Context) (*app, context.Context, error) {
	return openWith(ctx, true)
}

func openWith(ctx context.Context, daemon bool) (*app, context.Context, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, ctx, err
	}
	settings, err := loader.Load(configPath)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to load settings: %w", err)
	}

	telCfg := settings.Telemetry(buildVersion)
	if daemon {
		telCfg = settings.DaemonTelemetry(buildVersion)
	}
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = tel.WithContext(ctx)

	store, err := openStore(ctx, settings)
	if err != nil {
		_ = tel.Shutdown(context.WithoutCancel(ctx))
		return nil, ctx, err
	}

	return &app{
		settings: settings,
		tel:      tel,
		store:    store,
		logger:   tel.Logger.Zerolog(),
	}, ctx, nil
}

func openStore(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(settings.Database), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Database})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// close flushes telemetry even when ctx was cancelled by a signal.
func (a *app) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to close store")
	}
	if err := a.tel.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to shut down telemetry: %v\n", err)
	}
}

// admission builds the policy engine with the policies of PolicyDir.
func (a *app) admission(ctx context.Context) (*admission.Engine, error) {
	eng, err := admission.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if dir := a.settings.PolicyDir; dir != "" {
		if _, err := os.Stat(dir); err != nil {
			a.logger.Warn().Err(err).Str("dir", dir).Msg("Policy directory not available")
			return eng, nil
		}
		if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

func (a *app) bundleLoader(ctx context.Context) (*bundle.Loader, *admission.Engine, error) {
	admitter, err := a.admission(ctx)
	if err != nil {
		return nil, nil, err
	}
	return bundle.NewLoader(a.store, a.tel.Events, admitter, bundle.Config{
		BundleDir:          a.settings.BundleDir,
		DownloadDir:        a.settings.DownloadDir,
		ServerVersion:      a.settings.ServerVersion,
		AllowDuplicateKeys: a.settings.AllowDuplicateKeys,
	}, a.logger), admitter, nil
}

func (a *app) taskConfig() (engine.TaskConfig, error) {
	exe, err := os.Executable()
	if err != nil {
		return engine.TaskConfig{}, fmt.Errorf("failed to locate executable: %w", err)
	}
	settingsFile := configPath
	if settingsFile != "" {
		if settingsFile, err = filepath.Abs(settingsFile); err != nil {
			return engine.TaskConfig{}, err
		}
	}
	return engine.TaskConfig{
		RunDir:       a.settings.RunDir,
		LogDir:       a.settings.LogDir,
		BundleDir:    a.settings.BundleDir,
		Executable:   exe,
		VenvWrapper:  a.settings.VenvWrapper,
		JobRunner:    a.settings.JobRunner,
		AnsibleForks: a.settings.AnsibleForks,
		StatusToken:  a.settings.StatusAPI.Token,
		SettingsFile: settingsFile,
	}, nil
}

func (a *app) tasks() (*engine.Tasks, error) {
	cfg, err := a.taskConfig()
	if err != nil {
		return nil, err
	}
	return engine.NewTasks(a.store, a.tel.Events, nil, cfg, a.logger)
}

// printResult writes v as JSON with --json, or the text form otherwise.
func printResult(w io.Writer, v interface{}, text func(w io.Writer)) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
