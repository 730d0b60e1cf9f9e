package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for bundles, tasks and jobs.
type Metrics struct {
	config MetricsConfig

	// Bundle metrics
	bundleOperations *prometheus.CounterVec
	bundleDuration   *prometheus.HistogramVec

	// Task metrics
	tasksStarted   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	taskDuration   *prometheus.HistogramVec

	// Job metrics
	jobsExecuted *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeTasks prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		bundleOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bundle_operations_total",
				Help:      "Total number of bundle load, update and delete operations",
			},
			[]string{"operation", "status"},
		),
		bundleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bundle_operation_duration_seconds",
				Help:      "Duration of bundle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		tasksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_started_total",
				Help:      "Total number of tasks started",
			},
			[]string{"action"},
		),
		tasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_completed_total",
				Help:      "Total number of tasks finished",
			},
			[]string{"status"},
		),
		taskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Duration of task execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		jobsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_executed_total",
				Help:      "Total number of jobs executed",
			},
			[]string{"script_type", "status"},
		),
		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "Duration of job execution in seconds",
				Buckets:   buckets,
			},
			[]string{"script_type"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		activeTasks: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_tasks",
				Help:      "Current number of running tasks",
			},
		),
	}

	registry.MustRegister(
		m.bundleOperations,
		m.bundleDuration,
		m.tasksStarted,
		m.tasksCompleted,
		m.taskDuration,
		m.jobsExecuted,
		m.jobDuration,
		m.errorsByClass,
		m.errorsByCode,
		m.activeTasks,
	)

	return m, nil
}

// Bundle Metrics

// RecordBundleOperation records one bundle operation with its outcome.
func (m *Metrics) RecordBundleOperation(operation, status string, duration time.Duration) {
	if m.bundleOperations == nil {
		return
	}
	m.bundleOperations.WithLabelValues(operation, status).Inc()
	m.bundleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Task Metrics

// RecordTaskStarted increments the counter for started tasks.
func (m *Metrics) RecordTaskStarted(action string) {
	if m.tasksStarted == nil {
		return
	}
	m.tasksStarted.WithLabelValues(action).Inc()
	m.activeTasks.Inc()
}

// RecordTaskCompleted records a finished task with its status and duration.
func (m *Metrics) RecordTaskCompleted(status string, duration time.Duration) {
	if m.tasksCompleted == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(status).Inc()
	m.taskDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeTasks.Dec()
}

// Job Metrics

// RecordJobExecution records one finished job.
func (m *Metrics) RecordJobExecution(scriptType, status string, duration time.Duration) {
	if m.jobsExecuted == nil {
		return
	}
	m.jobsExecuted.WithLabelValues(scriptType, status).Inc()
	m.jobDuration.WithLabelValues(scriptType).Observe(duration.Seconds())
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// System Metrics

// SetActiveTasks sets the current number of running tasks.
func (m *Metrics) SetActiveTasks(count float64) {
	if m.activeTasks == nil {
		return
	}
	m.activeTasks.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics endpoint until ctx is done. It returns nil
// right away when metrics are disabled.
func (m *Metrics) Serve(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
