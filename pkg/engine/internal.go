package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// InternalScriptBundleSwitch moves the object of an upgrade task onto the
// prototype of the new bundle.
const InternalScriptBundleSwitch = "bundle_switch"

// RunInternal executes an internal job script in-process.
func RunInternal(ctx context.Context, store Store, events EventPoster, jobID int64, logger zerolog.Logger) error {
	if events == nil {
		events = NopEventPoster{}
	}
	job, err := store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Errorf(ErrCodeJobNotFound, "job #%d does not exist", jobID)
		}
		return err
	}
	task, err := store.GetTask(ctx, job.TaskID)
	if err != nil {
		return fmt.Errorf("failed to get task of job %d: %w", jobID, err)
	}
	jc, err := loadJobContext(ctx, store, task, job)
	if err != nil {
		return err
	}
	if jc.scriptType() != ScriptTypeInternal {
		return Errorf(ErrCodeTask, "job #%d is not an internal script", jobID)
	}

	script := jc.action.Script
	if jc.sub != nil {
		script = jc.sub.Script
	}
	switch script {
	case InternalScriptBundleSwitch:
		return switchBundle(ctx, store, events, jc, logger)
	default:
		return Errorf(ErrCodeTask, "unknown internal script %q", script)
	}
}

func switchBundle(ctx context.Context, store Store, events EventPoster, jc *jobContext, logger zerolog.Logger) error {
	if jc.obj == nil {
		return Errorf(ErrCodeObjectNotFound, "task #%d has no object", jc.task.ID)
	}
	if jc.obj.PrototypeID == jc.proto.ID {
		return nil
	}
	from, err := store.GetPrototype(ctx, jc.obj.PrototypeID)
	if err != nil {
		return fmt.Errorf("failed to get prototype of %s %d: %w", jc.obj.Type, jc.obj.ID, err)
	}
	if from.Type != jc.proto.Type || from.Name != jc.proto.Name {
		return Errorf(ErrCodeUpgrade, "can not switch %s #%d from %s to %s", jc.obj.Type, jc.obj.ID, from.Key(), jc.proto.Key())
	}

	jc.obj.PrototypeID = jc.proto.ID
	if err := store.UpdateObject(ctx, jc.obj); err != nil {
		return fmt.Errorf("failed to switch %s %d: %w", jc.obj.Type, jc.obj.ID, err)
	}
	events.PostEvent(ctx, "upgrade", string(jc.obj.Type), jc.obj.ID, map[string]interface{}{
		"type":  "version",
		"value": jc.proto.Version,
	})
	logger.Info().
		Str("object_type", string(jc.obj.Type)).
		Int64("object_id", jc.obj.ID).
		Str("from", from.Version).
		Str("to", jc.proto.Version).
		Msg("Bundle switched")
	return nil
}
