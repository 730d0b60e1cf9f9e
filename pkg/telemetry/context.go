package telemetry

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry combines logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// telemetryContextKey is the context key for telemetry instances.
type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration. Events
// are also written to the log.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, err
	}
	events.SetLogger(logger.Zerolog())
	events.Subscribe(NewLogSink(logger.Component("events")), nil)

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context,
// or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown drains events, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}

// classifier is implemented by coded engine errors.
type classifier interface {
	Classify() (class, code string)
}

// errorLabels returns the class and code of err for metrics.
func errorLabels(err error) (class, code string) {
	var c classifier
	if errors.As(err, &c) {
		return c.Classify()
	}
	return "internal", ""
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

// RecordBundleOperation runs fn inside a bundle span and records its
// duration and outcome. Without telemetry in ctx it just runs fn.
func RecordBundleOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartBundleSpan(ctx, operation)
	timer := NewTimer()

	err := fn(ctx)

	tel.Metrics.RecordBundleOperation(operation, outcome(err), timer.Duration())
	if err != nil {
		class, code := errorLabels(err)
		tel.Metrics.RecordError(class, code)
		span.SetAttributes(AttrErrorClass.String(class), AttrErrorCode.String(code))
	}
	finishSpan(span, err)
	return err
}

// taskRunKey is the context key for the running task's span and timer.
type taskRunKey struct{}

type taskRun struct {
	span  trace.Span
	timer *Timer
}

// StartTask opens the span of a task run and counts it as active.
func StartTask(ctx context.Context, taskID int64, action string) context.Context {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return ctx
	}

	ctx, span := tel.Tracer.StartTaskSpan(ctx, taskID, action)
	logger := tel.Logger.Component("supervisor").With().Int64("task_id", taskID).Logger()
	ctx = logger.WithContext(ctx)
	tel.Metrics.RecordTaskStarted(action)
	return context.WithValue(ctx, taskRunKey{}, &taskRun{span: span, timer: NewTimer()})
}

// EndTask closes the span opened by StartTask and records the final status.
func EndTask(ctx context.Context, status string, err error) {
	tel := FromTelemetryContext(ctx)
	run, ok := ctx.Value(taskRunKey{}).(*taskRun)
	if tel == nil || !ok {
		return
	}

	tel.Metrics.RecordTaskCompleted(status, run.timer.Duration())
	run.span.SetAttributes(AttrTaskStatus.String(status))
	finishSpan(run.span, err)
}

// RecordJob runs fn inside a job span and records the job status it returns.
func RecordJob(ctx context.Context, jobID int64, scriptType string, fn func(ctx context.Context) (string, error)) (string, error) {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartJobSpan(ctx, jobID, scriptType)
	timer := NewTimer()

	status, err := fn(ctx)

	tel.Metrics.RecordJobExecution(scriptType, status, timer.Duration())
	finishSpan(span, err)
	return status, err
}
