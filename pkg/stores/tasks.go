package stores

import (
	"context"
	"strings"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

const objectColumns = `id, type, prototype_id, name, state, multi_state`

func scanObject(row rowScanner) (*engine.Object, error) {
	o := &engine.Object{}
	err := row.Scan(&o.ID, &o.Type, &o.PrototypeID, &o.Name, &o.State, asJSON(&o.MultiState))
	return o, err
}

// GetObject retrieves a live object by type and ID.
func (s *queries) GetObject(ctx context.Context, objType engine.ObjectType, id int64) (*engine.Object, error) {
	o, err := scanObject(s.q.QueryRowContext(ctx, `
		SELECT `+objectColumns+` FROM objects WHERE type = ? AND id = ?
	`, objType, id))
	if err != nil {
		return nil, notFound(err, string(objType), id)
	}
	return o, nil
}

// ListObjects lists live objects matching filter.
func (s *queries) ListObjects(ctx context.Context, filter engine.ObjectFilter) ([]*engine.Object, error) {
	var where []string
	var args []interface{}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.PrototypeIDs != nil {
		if len(filter.PrototypeIDs) == 0 {
			return []*engine.Object{}, nil
		}
		marks := make([]string, len(filter.PrototypeIDs))
		for i, id := range filter.PrototypeIDs {
			marks[i] = "?"
			args = append(args, id)
		}
		where = append(where, "prototype_id IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + objectColumns + ` FROM objects`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	return queryAll(ctx, s.q, "objects", scanObject, query, args...)
}

// CreateObject inserts a live object.
func (s *queries) CreateObject(ctx context.Context, o *engine.Object) error {
	if o.MultiState == nil {
		o.MultiState = []string{}
	}
	id, err := s.insert(ctx, "object", `
		INSERT INTO objects (type, prototype_id, name, state, multi_state)
		VALUES (?, ?, ?, ?, ?)
	`, o.Type, o.PrototypeID, o.Name, o.State, asJSON(o.MultiState))
	if err != nil {
		return err
	}

	o.ID = id
	return nil
}

// UpdateObject stores the prototype, state and multi-state of an object.
func (s *queries) UpdateObject(ctx context.Context, o *engine.Object) error {
	if o.MultiState == nil {
		o.MultiState = []string{}
	}
	return s.exec(ctx, string(o.Type), o.ID, `
		UPDATE objects SET prototype_id = ?, name = ?, state = ?, multi_state = ?
		WHERE type = ? AND id = ?
	`, o.PrototypeID, o.Name, o.State, asJSON(o.MultiState), o.Type, o.ID)
}

const taskColumns = `id, action_id, object_type, object_id, status, pid, config, verbose, start_date, finish_date`

func scanTask(row rowScanner) (*engine.Task, error) {
	t := &engine.Task{}
	err := row.Scan(
		&t.ID,
		&t.ActionID,
		&t.ObjectType,
		&t.ObjectID,
		&t.Status,
		&t.PID,
		asJSON(&t.Config),
		&t.Verbose,
		&t.StartDate,
		&t.FinishDate,
	)
	return t, err
}

// CreateTask creates a new task record
func (s *queries) CreateTask(ctx context.Context, t *engine.Task) error {
	id, err := s.insert(ctx, "task", `
		INSERT INTO tasks (action_id, object_type, object_id, status, pid, config, verbose, start_date, finish_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ActionID,
		t.ObjectType,
		t.ObjectID,
		t.Status,
		t.PID,
		asJSON(t.Config),
		t.Verbose,
		t.StartDate,
		t.FinishDate,
	)
	if err != nil {
		return err
	}

	t.ID = id
	return nil
}

// GetTask retrieves a task by ID
func (s *queries) GetTask(ctx context.Context, id int64) (*engine.Task, error) {
	t, err := scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return t, nil
}

// UpdateTask stores the mutable columns of a task.
func (s *queries) UpdateTask(ctx context.Context, t *engine.Task) error {
	return s.exec(ctx, "task", t.ID, `
		UPDATE tasks SET object_id = ?, status = ?, pid = ?, config = ?, start_date = ?, finish_date = ?
		WHERE id = ?
	`, t.ObjectID, t.Status, t.PID, asJSON(t.Config), t.StartDate, t.FinishDate, t.ID)
}

// ListTasks lists tasks, optionally restricted to the given statuses.
func (s *queries) ListTasks(ctx context.Context, statuses ...engine.JobStatus) ([]*engine.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []interface{}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY id`

	return queryAll(ctx, s.q, "tasks", scanTask, query, args...)
}

const jobColumns = `id, task_id, action_id, sub_action_id, status, pid, start_date, finish_date`

func scanJob(row rowScanner) (*engine.Job, error) {
	j := &engine.Job{}
	err := row.Scan(
		&j.ID,
		&j.TaskID,
		&j.ActionID,
		&j.SubActionID,
		&j.Status,
		&j.PID,
		&j.StartDate,
		&j.FinishDate,
	)
	return j, err
}

// CreateJob creates a new job record
func (s *queries) CreateJob(ctx context.Context, j *engine.Job) error {
	id, err := s.insert(ctx, "job", `
		INSERT INTO jobs (task_id, action_id, sub_action_id, status, pid, start_date, finish_date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, j.TaskID, j.ActionID, j.SubActionID, j.Status, j.PID, j.StartDate, j.FinishDate)
	if err != nil {
		return err
	}

	j.ID = id
	return nil
}

// GetJob retrieves a job by ID
func (s *queries) GetJob(ctx context.Context, id int64) (*engine.Job, error) {
	j, err := scanJob(s.q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return j, nil
}

// UpdateJob stores the status, pid and dates of a job.
func (s *queries) UpdateJob(ctx context.Context, j *engine.Job) error {
	return s.exec(ctx, "job", j.ID, `
		UPDATE jobs SET status = ?, pid = ?, start_date = ?, finish_date = ?
		WHERE id = ?
	`, j.Status, j.PID, j.StartDate, j.FinishDate, j.ID)
}

// ListJobs lists the jobs of a task in execution order.
func (s *queries) ListJobs(ctx context.Context, taskID int64) ([]*engine.Job, error) {
	return queryAll(ctx, s.q, "jobs", scanJob, `SELECT `+jobColumns+` FROM jobs WHERE task_id = ? ORDER BY id`, taskID)
}

// CreateLog creates a log storage record
func (s *queries) CreateLog(ctx context.Context, l *engine.LogStorage) error {
	id, err := s.insert(ctx, "log storage", `
		INSERT INTO log_storage (job_id, name, type, format, body) VALUES (?, ?, ?, ?, ?)
	`, l.JobID, l.Name, l.Type, l.Format, l.Body)
	if err != nil {
		return err
	}

	l.ID = id
	return nil
}

// ListLogs lists the logs of a job.
func (s *queries) ListLogs(ctx context.Context, jobID int64) ([]*engine.LogStorage, error) {
	return queryAll(ctx, s.q, "log storage", func(row rowScanner) (*engine.LogStorage, error) {
		l := &engine.LogStorage{}
		return l, row.Scan(&l.ID, &l.JobID, &l.Name, &l.Type, &l.Format, &l.Body)
	}, `SELECT id, job_id, name, type, format, body FROM log_storage WHERE job_id = ? ORDER BY id`, jobID)
}

// UpdateLogBody replaces the captured body of a log.
func (s *queries) UpdateLogBody(ctx context.Context, id int64, body string) error {
	return s.exec(ctx, "log storage", id, `UPDATE log_storage SET body = ? WHERE id = ?`, body, id)
}
