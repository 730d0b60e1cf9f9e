package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// objectStateChange is one mutation of an object's state and multi-state.
type objectStateChange struct {
	state string
	set   []string
	unset []string
}

func (c objectStateChange) empty() bool {
	return c.state == "" && len(c.set) == 0 && len(c.unset) == 0
}

// applyStateChange stores the change and posts a change_state event per
// modified attribute. adcm objects change silently.
func applyStateChange(ctx context.Context, store ObjectStore, events EventPoster, obj *Object, change objectStateChange) error {
	if change.state != "" {
		obj.State = change.state
	}
	for _, flag := range change.set {
		obj.SetMultiState(flag)
	}
	for _, flag := range change.unset {
		obj.UnsetMultiState(flag)
	}
	if err := store.UpdateObject(ctx, obj); err != nil {
		return fmt.Errorf("failed to update %s %d: %w", obj.Type, obj.ID, err)
	}

	if obj.Type == ObjectTypeADCM {
		return nil
	}
	if change.state != "" {
		events.PostEvent(ctx, "change_state", string(obj.Type), obj.ID, map[string]interface{}{
			"type":  "state",
			"value": change.state,
		})
	}
	for _, flag := range append(append([]string{}, change.set...), change.unset...) {
		events.PostEvent(ctx, "change_state", string(obj.Type), obj.ID, map[string]interface{}{
			"type":  "multi_state",
			"value": flag,
		})
	}
	return nil
}

// Plugin applies the object mutations job scripts request while a job
// runs. Every call holds the job lock for the duration of the mutation.
type Plugin struct {
	store  ObjectStore
	events EventPoster
	runDir string
	logger zerolog.Logger
}

// NewPlugin creates a plugin backend. events may be nil.
func NewPlugin(store ObjectStore, events EventPoster, runDir string, logger zerolog.Logger) *Plugin {
	if events == nil {
		events = NopEventPoster{}
	}
	return &Plugin{
		store:  store,
		events: events,
		runDir: runDir,
		logger: logger.With().Str("component", "plugin").Logger(),
	}
}

// SetState changes the state of an object.
func (p *Plugin) SetState(ctx context.Context, jobID int64, objType ObjectType, objID int64, state string) (*Object, error) {
	if state == "" {
		return nil, Errorf(ErrCodeTask, "state is required")
	}
	return p.mutate(ctx, jobID, objType, objID, func(*Object) (objectStateChange, error) {
		return objectStateChange{state: state}, nil
	})
}

// SetMultiState adds a multi-state flag to an object.
func (p *Plugin) SetMultiState(ctx context.Context, jobID int64, objType ObjectType, objID int64, flag string) (*Object, error) {
	if flag == "" {
		return nil, Errorf(ErrCodeTask, "multi_state is required")
	}
	return p.mutate(ctx, jobID, objType, objID, func(*Object) (objectStateChange, error) {
		return objectStateChange{set: []string{flag}}, nil
	})
}

// UnsetMultiState removes a multi-state flag. Unless missingOK is set,
// removing an absent flag fails.
func (p *Plugin) UnsetMultiState(ctx context.Context, jobID int64, objType ObjectType, objID int64, flag string, missingOK bool) (*Object, error) {
	if flag == "" {
		return nil, Errorf(ErrCodeTask, "multi_state is required")
	}
	return p.mutate(ctx, jobID, objType, objID, func(obj *Object) (objectStateChange, error) {
		for _, s := range obj.MultiState {
			if s == flag {
				return objectStateChange{unset: []string{flag}}, nil
			}
		}
		if missingOK {
			return objectStateChange{}, nil
		}
		return objectStateChange{}, Errorf(ErrCodeTask, "%s #%d has no multi_state %q", obj.Type, obj.ID, flag)
	})
}

func (p *Plugin) mutate(ctx context.Context, jobID int64, objType ObjectType, objID int64, change func(*Object) (objectStateChange, error)) (*Object, error) {
	lock, err := LockJob(p.runDir, jobID)
	if err != nil {
		return nil, err
	}
	defer lock.Unlock()

	obj, err := p.store.GetObject(ctx, objType, objID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Errorf(ErrCodeObjectNotFound, "%s #%d does not exist", objType, objID)
		}
		return nil, err
	}

	c, err := change(obj)
	if err != nil {
		return nil, err
	}
	if c.empty() {
		return obj, nil
	}
	if err := applyStateChange(ctx, p.store, p.events, obj, c); err != nil {
		return nil, err
	}

	p.logger.Info().
		Int64("job_id", jobID).
		Str("object_type", string(objType)).
		Int64("object_id", objID).
		Str("state", obj.State).
		Strs("multi_state", obj.MultiState).
		Msg("Object state changed")
	return obj, nil
}
