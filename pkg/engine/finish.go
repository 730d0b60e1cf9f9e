package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// finalStateChange returns the object change an action applies when its
// task ends with status. Failures of a sub-action prefer the sub-action's
// own settings.
func finalStateChange(action *Action, sub *SubAction, status JobStatus) objectStateChange {
	switch status {
	case JobStatusSuccess:
		return objectStateChange{
			state: action.StateOnSuccess,
			set:   action.MultiStateOnSuccessSet,
			unset: action.MultiStateOnSuccessUnset,
		}
	case JobStatusFailed:
		c := objectStateChange{
			state: action.StateOnFail,
			set:   action.MultiStateOnFailSet,
			unset: action.MultiStateOnFailUnset,
		}
		if sub != nil {
			if sub.StateOnFail != "" {
				c.state = sub.StateOnFail
			}
			if len(sub.MultiStateOnFailSet) > 0 {
				c.set = sub.MultiStateOnFailSet
			}
			if len(sub.MultiStateOnFailUnset) > 0 {
				c.unset = sub.MultiStateOnFailUnset
			}
		}
		return c
	default:
		return objectStateChange{}
	}
}

// finishTask applies the final object state of the task's action and
// stores the task status. job is the last job run and may be nil.
func finishTask(ctx context.Context, store Store, events EventPoster, task *Task, job *Job, status JobStatus) error {
	action, err := store.GetAction(ctx, task.ActionID)
	if err != nil {
		return fmt.Errorf("failed to get action of task %d: %w", task.ID, err)
	}
	var sub *SubAction
	if job != nil && job.SubActionID != nil {
		if sub, err = store.GetSubAction(ctx, *job.SubActionID); err != nil {
			return fmt.Errorf("failed to get sub-action of job %d: %w", job.ID, err)
		}
	}

	if change := finalStateChange(action, sub, status); !change.empty() && task.ObjectID != nil {
		obj, err := store.GetObject(ctx, task.ObjectType, *task.ObjectID)
		switch {
		case errors.Is(err, ErrNotFound):
			task.dropObject()
		case err != nil:
			return fmt.Errorf("failed to get object of task %d: %w", task.ID, err)
		default:
			if err := applyStateChange(ctx, store, events, obj, change); err != nil {
				return err
			}
		}
	}

	task.Status = status
	task.FinishDate = time.Now().UTC()
	if err := store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to update task %d: %w", task.ID, err)
	}
	postJobStatus(ctx, events, "task", task.ID, status)
	return nil
}

// finishJob stores the final status of a job.
func finishJob(ctx context.Context, store Store, events EventPoster, job *Job, status JobStatus) error {
	job.Status = status
	job.FinishDate = time.Now().UTC()
	if err := store.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("failed to update job %d: %w", job.ID, err)
	}
	postJobStatus(ctx, events, "job", job.ID, status)
	return nil
}

func postJobStatus(ctx context.Context, events EventPoster, objectType string, id int64, status JobStatus) {
	events.PostEvent(ctx, "change_job_status", objectType, id, map[string]interface{}{
		"type":  "status",
		"value": string(status),
	})
}
