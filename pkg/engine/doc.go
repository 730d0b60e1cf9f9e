// Package engine provides the catalog and task types of stackmgr and the
// engine that runs actions as tasks.
//
// # Overview
//
// A bundle loaded by package bundle becomes a set of prototypes with their
// actions, sub-actions and config definitions. Objects (clusters, services,
// components, providers, hosts and the ADCM singleton) are instances of
// prototypes. Running an action on an object goes through four steps:
//
//  1. Create - Tasks.Create checks the action against the object state and
//     records a task with one job per script
//  2. Start - Tasks.Start launches a detached `stackmgr task run <id>`
//  3. Supervise - Supervisor.Run prepares and runs the jobs in order
//  4. Finish - the task status is derived from the last job and the
//     object state is changed by the action's on-success or on-fail rules
//
// # Job Execution
//
// Every job gets a working directory under the run dir holding config.json,
// inventory.json and ansible.cfg. The supervisor starts
//
//	<venv wrapper> <job runner> <job id>
//
// and records stdout and stderr as log rows once the process exits. A job
// killed by SIGTERM is aborted; any other non-zero exit fails it.
//
// # Job Plugins
//
// Scripts change object state through Plugin. Each mutation holds the
// flock of the job's config.json (see LockJob).
//
// # Error Classification
//
// Errors carry a code and a class:
//
//	if HasCode(err, ErrCodeTaskNotFound) {
//	    // 404
//	}
//
// Stores return ErrNotFound and ErrAlreadyExists wrapped; test them with
// errors.Is.
//
// # Status Tracking
//
//   - JobStatus: created, running, success, failed, aborted
//   - Result: the outcome of one supervisor run; only ResultAborted gives
//     the process a non-zero exit code
package engine
