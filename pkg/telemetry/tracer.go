package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

// Span attribute keys shared by bundle, task and job spans.
var (
	AttrBundleOperation = attribute.Key("stackmgr.bundle.operation")
	AttrTaskID          = attribute.Key("stackmgr.task.id")
	AttrTaskStatus      = attribute.Key("stackmgr.task.status")
	AttrActionName      = attribute.Key("stackmgr.action.name")
	AttrJobID           = attribute.Key("stackmgr.job.id")
	AttrScriptType      = attribute.Key("stackmgr.job.script_type")
	AttrErrorClass      = attribute.Key("stackmgr.error.class")
	AttrErrorCode       = attribute.Key("stackmgr.error.code")
)

// Tracer opens the spans of bundle operations, task runs and jobs. A task
// span is the parent of its job spans.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// exporters builds the span exporter named by TracingConfig.Exporter. A
// nil exporter keeps spans in-process only.
var exporters = map[string]func(cfg TracingConfig) (sdktrace.SpanExporter, error){
	"none": func(TracingConfig) (sdktrace.SpanExporter, error) { return nil, nil },
	"stdout": func(TracingConfig) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
	"otlp": func(cfg TracingConfig) (sdktrace.SpanExporter, error) {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	},
}

// NewTracer builds the tracer. With tracing disabled spans are still
// created so callers need no nil checks, but nothing is exported and the
// global provider is left alone.
func NewTracer(cfg TracingConfig, service, version, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		provider := sdktrace.NewTracerProvider()
		return &Tracer{provider: provider, tracer: provider.Tracer(service)}, nil
	}

	newExporter, ok := exporters[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("unsupported trace exporter: %s", cfg.Exporter)
	}
	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(service),
		semconv.ServiceVersionKey.String(version),
		attribute.String("deployment.environment", environment),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.BatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}
	provider := sdktrace.NewTracerProvider(opts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return &Tracer{provider: provider, tracer: provider.Tracer(service)}, nil
}

// StartSpan opens an internal span named operation.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartBundleSpan opens the span of a load, update, delete or check.
func (t *Tracer) StartBundleSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "bundle."+operation, AttrBundleOperation.String(operation))
}

// StartTaskSpan opens the span of one supervisor run of a task.
func (t *Tracer) StartTaskSpan(ctx context.Context, taskID int64, action string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "task.run", AttrTaskID.Int64(taskID), AttrActionName.String(action))
}

// StartJobSpan opens the span of one job process.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID int64, scriptType string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "job.run",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrJobID.Int64(jobID), AttrScriptType.String(scriptType)),
	)
}

// finishSpan sets the span status from err and ends it.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
