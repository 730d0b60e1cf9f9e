// Package telemetry provides logging, tracing, metrics and lifecycle events
// for the bundle loader and the task engine.
//
// # Usage
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//	ctx = tel.WithContext(ctx)
//
// Library packages take a zerolog.Logger; pass tel.Logger.Zerolog().
//
// # Instrumentation
//
// Bundle operations are wrapped with RecordBundleOperation, which opens a
// "bundle.<op>" span and feeds the bundle_operations_total and
// bundle_operation_duration_seconds metrics. Task runs open a span with
// StartTask and close it with EndTask; each job runs inside RecordJob.
// Without a Telemetry in the context all helpers only run the wrapped
// function.
//
// # Events
//
// EventPublisher.PostEvent satisfies the engine's event poster. Every
// event is written to the log; when Events.StatusURL is set it is also
// POSTed as JSON to the status endpoint.
//
// # Metrics
//
//   - stackmgr_bundle_operations_total{operation,status}
//   - stackmgr_tasks_started_total{action}, stackmgr_tasks_completed_total{status}
//   - stackmgr_jobs_executed_total{script_type,status}
//   - stackmgr_errors_by_class_total{class}, stackmgr_errors_by_code_total{code}
//   - stackmgr_active_tasks
package telemetry
