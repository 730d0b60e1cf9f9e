package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// DefaultDataDir roots every path that is not configured explicitly.
const DefaultDataDir = "/var/lib/stackmgr"

// Settings is the runtime configuration shared by the stackmgr binaries.
type Settings struct {
	// DataDir is the base of all derived paths.
	DataDir string `json:"data_dir" validate:"required"`

	// BundleDir is the content-addressed store of extracted bundles.
	BundleDir string `json:"bundle_dir" validate:"required"`

	// DownloadDir holds uploaded bundle archives.
	DownloadDir string `json:"download_dir" validate:"required"`

	// RunDir holds one working directory per job.
	RunDir string `json:"run_dir" validate:"required"`

	LogDir string `json:"log_dir" validate:"required"`

	// Database is the SQLite file path.
	Database string `json:"database" validate:"required"`

	// VenvWrapper activates the python venv named by STACKMGR_VENV and
	// executes its arguments.
	VenvWrapper string `json:"venv_wrapper" validate:"required"`

	// JobRunner is the executable started for every job.
	JobRunner string `json:"job_runner" validate:"required"`

	// ServerVersion is compared with adcm_min_version of bundles.
	ServerVersion string `json:"server_version" validate:"required"`

	AllowDuplicateKeys bool `json:"allow_duplicate_keys"`

	AnsibleForks int `json:"ansible_forks" validate:"min=1,max=500"`

	// PolicyDir holds admission policies. Empty disables loading.
	PolicyDir string `json:"policy_dir"`

	StatusAPI StatusAPI `json:"status_api"`

	Logging LoggingSettings `json:"logging"`
	Metrics MetricsSettings `json:"metrics"`
	Tracing TracingSettings `json:"tracing"`
	Events  EventsSettings  `json:"events"`
}

// StatusAPI is the HTTP endpoint that receives events.
type StatusAPI struct {
	URL     string   `json:"url" validate:"omitempty,url"`
	Token   string   `json:"token"`
	Timeout Duration `json:"timeout"`
}

type LoggingSettings struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `json:"format" validate:"oneof=console json"`
	Output string `json:"output" validate:"required"`
}

type MetricsSettings struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address" validate:"required_if=Enabled true"`
	Path          string `json:"path" validate:"omitempty,startswith=/"`
}

type TracingSettings struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `json:"insecure"`
}

type EventsSettings struct {
	Enabled    bool `json:"enabled"`
	Async      bool `json:"async"`
	BufferSize int  `json:"buffer_size" validate:"min=1"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// MarshalJSON writes the duration string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns the settings used when no file is given.
func Default() *Settings {
	s := &Settings{
		DataDir:       DefaultDataDir,
		VenvWrapper:   "/venv.sh",
		ServerVersion: "2023.10.10",
		AnsibleForks:  5,
		StatusAPI:     StatusAPI{Timeout: Duration(5 * time.Second)},
		Logging: LoggingSettings{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsSettings{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
		},
		Tracing: TracingSettings{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
		Events: EventsSettings{
			Enabled:    true,
			BufferSize: 1000,
		},
	}
	s.applyDerived()
	return s
}

// applyDerived fills the paths left empty from DataDir.
func (s *Settings) applyDerived() {
	derive := func(field *string, rel ...string) {
		if *field == "" {
			*field = filepath.Join(append([]string{s.DataDir}, rel...)...)
		}
	}
	derive(&s.BundleDir, "bundle")
	derive(&s.DownloadDir, "download")
	derive(&s.RunDir, "run")
	derive(&s.LogDir, "log")
	derive(&s.Database, "stackmgr.db")
	derive(&s.JobRunner, "bin", "job-runner")
}

// Telemetry converts the settings into a telemetry configuration for a
// single command.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	return s.applyTelemetry(telemetry.DefaultConfig(), version)
}

// DaemonTelemetry is Telemetry for long-running commands. Logs are sampled
// and events are delivered in the background.
func (s *Settings) DaemonTelemetry(version string) *telemetry.Config {
	cfg := s.applyTelemetry(telemetry.DaemonConfig(), version)
	cfg.Events.EnableAsync = true
	return cfg
}

func (s *Settings) applyTelemetry(cfg *telemetry.Config, version string) *telemetry.Config {
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.ListenAddress
	if s.Metrics.Path != "" {
		cfg.Metrics.Path = s.Metrics.Path
	}

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate
	cfg.Tracing.Insecure = s.Tracing.Insecure

	cfg.Events.Enabled = s.Events.Enabled
	cfg.Events.EnableAsync = s.Events.Async
	cfg.Events.BufferSize = s.Events.BufferSize
	cfg.Events.StatusURL = s.StatusAPI.URL
	cfg.Events.StatusToken = s.StatusAPI.Token
	if s.StatusAPI.Timeout > 0 {
		cfg.Events.StatusTimeout = time.Duration(s.StatusAPI.Timeout)
	}
	return cfg
}
