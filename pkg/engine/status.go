package engine

import (
	"fmt"
)

// JobStatus is the lifecycle status shared by tasks and jobs.
type JobStatus string

const (
	// JobStatusCreated indicates the task or job has not started.
	JobStatusCreated JobStatus = "created"

	// JobStatusRunning indicates the process is executing.
	JobStatusRunning JobStatus = "running"

	// JobStatusSuccess indicates the process exited with status 0.
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailed indicates a non-zero exit or an engine failure.
	JobStatusFailed JobStatus = "failed"

	// JobStatusAborted indicates the work was cancelled.
	JobStatusAborted JobStatus = "aborted"
)

// IsTerminal returns true if the status represents a final state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed || s == JobStatusAborted
}

// IsActive returns true if the work has not finished yet.
func (s JobStatus) IsActive() bool {
	return s == JobStatusCreated || s == JobStatusRunning
}

// Validate checks if the status is valid.
func (s JobStatus) Validate() error {
	switch s {
	case JobStatusCreated, JobStatusRunning, JobStatusSuccess, JobStatusFailed, JobStatusAborted:
		return nil
	default:
		return fmt.Errorf("invalid job status: %s", s)
	}
}

// StatusFromExitCode maps a child exit code to a job status. Negative codes
// carry the terminating signal number.
func StatusFromExitCode(code int) JobStatus {
	switch code {
	case 0:
		return JobStatusSuccess
	case -15:
		return JobStatusAborted
	default:
		return JobStatusFailed
	}
}

// DefaultObjectState is the state of a freshly created object.
const DefaultObjectState = "created"

// ObjectType names the kind of a prototype or live object.
type ObjectType string

const (
	ObjectTypeADCM      ObjectType = "adcm"
	ObjectTypeCluster   ObjectType = "cluster"
	ObjectTypeService   ObjectType = "service"
	ObjectTypeComponent ObjectType = "component"
	ObjectTypeProvider  ObjectType = "provider"
	ObjectTypeHost      ObjectType = "host"
)

// Validate checks if the object type is valid.
func (t ObjectType) Validate() error {
	switch t {
	case ObjectTypeADCM, ObjectTypeCluster, ObjectTypeService,
		ObjectTypeComponent, ObjectTypeProvider, ObjectTypeHost:
		return nil
	default:
		return fmt.Errorf("invalid object type: %s", t)
	}
}

// LicenseState tracks acceptance of a prototype license.
type LicenseState string

const (
	LicenseAbsent     LicenseState = "absent"
	LicenseAccepted   LicenseState = "accepted"
	LicenseUnaccepted LicenseState = "unaccepted"
)

// ActionType distinguishes single-script jobs from multi-step tasks.
type ActionType string

const (
	ActionTypeJob  ActionType = "job"
	ActionTypeTask ActionType = "task"
)

// ScriptType is the runtime used to execute a job script.
type ScriptType string

const (
	ScriptTypeAnsible  ScriptType = "ansible"
	ScriptTypeInternal ScriptType = "internal"
	ScriptTypePython   ScriptType = "python"
)

// LogType classifies job log records.
type LogType string

const (
	LogTypeStdout LogType = "stdout"
	LogTypeStderr LogType = "stderr"
	LogTypeCheck  LogType = "check"
	LogTypeCustom LogType = "custom"
)

// Result is the outcome returned by the process supervisor.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailed  Result = "failed"
	ResultAborted Result = "aborted"
)

// ExitCode returns the process exit code for the supervisor result. Only
// an aborted run ends with a non-zero code; a failed task is reported
// through its status.
func (r Result) ExitCode() int {
	if r == ResultAborted {
		return 15
	}
	return 0
}
