package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is what NewTelemetry needs to build the logger, tracer, metrics
// registry and event publisher of one stackmgr process. config.Settings
// fills it from the settings file.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`
	Environment    string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`
	// Output is stdout, stderr or a file path opened for append.
	Output       string
	EnableCaller bool

	// Sampling lets SamplingBurst messages through per second, then one
	// in SamplingEvery. Task supervisors of long jobs turn it on.
	EnableSampling bool
	SamplingBurst  int `validate:"required_if=EnableSampling true,gte=0"`
	SamplingEvery  int `validate:"required_if=EnableSampling true,gte=0"`

	// TimeFormat is rfc3339, unix or unixms.
	TimeFormat string `validate:"omitempty,oneof=rfc3339 unix unixms"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled  bool
	Exporter string `validate:"required_if=Enabled true,omitempty,oneof=otlp stdout none"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint     string  `validate:"required_if=Exporter otlp"`
	SamplingRate float64 `validate:"gte=0,lte=1"`
	Insecure     bool
	Headers      map[string]string

	BatchSize     int
	ExportTimeout time.Duration
}

// MetricsConfig configures the Prometheus endpoint served by bundle watch.
type MetricsConfig struct {
	Enabled       bool
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string
	Namespace     string
	// DurationBuckets are the histogram buckets in seconds. Jobs run from
	// seconds to hours, so they span that range.
	DurationBuckets []float64
}

// EventsConfig configures object events and the status API sink.
type EventsConfig struct {
	Enabled     bool
	EnableAsync bool
	BufferSize  int `validate:"required_if=EnableAsync true,gte=0"`
	BatchSize   int

	// StatusURL receives each event as a JSON POST when set.
	StatusURL     string `validate:"omitempty,url"`
	StatusToken   string
	StatusTimeout time.Duration
}

// DefaultConfig returns the configuration used by a CLI invocation: console
// logs on stderr, no tracing, synchronous events.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "stackmgr",
		ServiceVersion: "dev",
		Environment:    "local",
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "console",
			Output:        "stderr",
			SamplingBurst: 100,
			SamplingEvery: 100,
			TimeFormat:    "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			Insecure:      true,
			Headers:       map[string]string{},
			BatchSize:     512,
			ExportTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			ListenAddress:   ":9090",
			Path:            "/metrics",
			Namespace:       "stackmgr",
			DurationBuckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			BatchSize:     100,
			StatusTimeout: 5 * time.Second,
		},
	}
}

// DaemonConfig returns the configuration for long-running processes such
// as bundle watch: JSON logs, sampled, and events delivered in the
// background.
func DaemonConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "daemon"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Events.EnableAsync = true
	return cfg
}

var configValidator = validator.New()

// Validate reports every invalid field of c.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	errs := make([]error, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, fmt.Errorf("telemetry: %s fails %q (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.Join(errs...)
}
