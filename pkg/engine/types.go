package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle is an installed, content-addressed definition package.
type Bundle struct {
	ID int64 `json:"id"`

	// Hash is the SHA-1 hex digest of the uploaded archive; it names the
	// bundle directory on disk.
	Hash string `json:"hash"`

	Name        string `json:"name"`
	Version     string `json:"version"`
	Edition     string `json:"edition"`
	Description string `json:"description,omitempty"`

	// VersionOrder is the dense rank of Version among all bundles.
	VersionOrder int `json:"version_order"`

	Date time.Time `json:"date"`
}

// Prototype is a cluster, service, component, provider, host or adcm definition.
type Prototype struct {
	ID       int64      `json:"id"`
	BundleID int64      `json:"bundle_id"`
	Type     ObjectType `json:"type"`

	// ParentID links a component to its service prototype.
	ParentID *int64 `json:"parent_id,omitempty"`

	// Path is the directory of the defining file, relative to the bundle root.
	Path string `json:"path"`

	Name         string `json:"name"`
	DisplayName  string `json:"display_name"`
	Version      string `json:"version"`
	VersionOrder int    `json:"version_order"`
	Description  string `json:"description,omitempty"`

	Edition string `json:"edition,omitempty"`

	License     LicenseState `json:"license"`
	LicensePath string       `json:"license_path,omitempty"`
	LicenseHash string       `json:"license_hash,omitempty"`

	Required bool `json:"required"`
	Shared   bool `json:"shared"`

	// Constraint is the component cardinality, e.g. [0, "+"].
	Constraint []interface{} `json:"constraint,omitempty"`

	Requires []ComponentRef `json:"requires,omitempty"`
	BoundTo  *ComponentRef  `json:"bound_to,omitempty"`

	AdcmMinVersion           string `json:"adcm_min_version,omitempty"`
	ConfigGroupCustomization bool   `json:"config_group_customization"`
	AllowMaintenanceMode     bool   `json:"allow_maintenance_mode"`
	VenvName                 string `json:"venv"`
}

// Key returns the identity of the prototype inside one bundle.
func (p *Prototype) Key() string {
	return fmt.Sprintf("%s %q %s", p.Type, p.Name, p.Version)
}

// ComponentRef names a component, optionally qualified by its service.
type ComponentRef struct {
	Service   string `json:"service,omitempty" yaml:"service"`
	Component string `json:"component,omitempty" yaml:"component"`
}

// HostComponentACL allows an action to add or remove a component on hosts.
type HostComponentACL struct {
	Action    string `json:"action"`
	Service   string `json:"service"`
	Component string `json:"component"`
}

// StateSet is either the wildcard "any" or an explicit list of states.
type StateSet struct {
	Any   bool
	Items []string
}

// AnyState is the wildcard state set.
var AnyState = StateSet{Any: true}

// Contains reports whether the set admits the state.
func (s StateSet) Contains(state string) bool {
	if s.Any {
		return true
	}
	for _, item := range s.Items {
		if item == state {
			return true
		}
	}
	return false
}

func (s StateSet) intersects(states []string) bool {
	for _, state := range states {
		for _, item := range s.Items {
			if item == state {
				return true
			}
		}
	}
	return false
}

// MarshalJSON renders the wildcard as the string "any".
func (s StateSet) MarshalJSON() ([]byte, error) {
	if s.Any {
		return json.Marshal("any")
	}
	if s.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.Items)
}

// UnmarshalJSON accepts "any" or a list of strings.
func (s *StateSet) UnmarshalJSON(data []byte) error {
	var word string
	if err := json.Unmarshal(data, &word); err == nil {
		if word != "any" {
			return fmt.Errorf("invalid state set %q", word)
		}
		*s = AnyState
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = StateSet{Items: items}
	return nil
}

// Action is an operation declared on a prototype.
type Action struct {
	ID          int64  `json:"id"`
	PrototypeID int64  `json:"prototype_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`

	Type       ActionType `json:"type"`
	ScriptType ScriptType `json:"script_type,omitempty"`
	Script     string     `json:"script,omitempty"`

	StateAvailable   StateSet `json:"state_available"`
	StateUnavailable StateSet `json:"state_unavailable"`
	StateOnSuccess   string   `json:"state_on_success,omitempty"`
	StateOnFail      string   `json:"state_on_fail,omitempty"`

	MultiStateAvailable      StateSet `json:"multi_state_available"`
	MultiStateUnavailable    StateSet `json:"multi_state_unavailable"`
	MultiStateOnSuccessSet   []string `json:"multi_state_on_success_set,omitempty"`
	MultiStateOnSuccessUnset []string `json:"multi_state_on_success_unset,omitempty"`
	MultiStateOnFailSet      []string `json:"multi_state_on_fail_set,omitempty"`
	MultiStateOnFailUnset    []string `json:"multi_state_on_fail_unset,omitempty"`

	Params    map[string]interface{} `json:"params,omitempty"`
	UIOptions map[string]interface{} `json:"ui_options,omitempty"`
	LogFiles  []string               `json:"log_files,omitempty"`

	HostAction             bool               `json:"host_action"`
	AllowToTerminate       bool               `json:"allow_to_terminate"`
	PartialExecution       bool               `json:"partial_execution"`
	AllowInMaintenanceMode bool               `json:"allow_in_maintenance_mode"`
	HostComponentMapACL    []HostComponentACL `json:"hc_acl,omitempty"`

	// ConfigJinja is a bundle-relative template that renders the action config.
	ConfigJinja string `json:"config_jinja,omitempty"`

	Venv string `json:"venv"`

	// IsUpgrade marks actions generated from upgrade definitions.
	IsUpgrade bool `json:"is_upgrade"`
}

// Allowed reports whether the action may run on an object in its current
// state and multi-state.
func (a *Action) Allowed(obj *Object) bool {
	if a.StateUnavailable.Any || a.MultiStateUnavailable.Any {
		return false
	}
	if a.StateUnavailable.Contains(obj.State) || a.MultiStateUnavailable.intersects(obj.MultiState) {
		return false
	}
	return a.StateAvailable.Contains(obj.State) &&
		(a.MultiStateAvailable.Any || a.MultiStateAvailable.intersects(obj.MultiState))
}

// SubAction is one script step of a task action.
type SubAction struct {
	ID          int64      `json:"id"`
	ActionID    int64      `json:"action_id"`
	Name        string     `json:"name"`
	DisplayName string     `json:"display_name"`
	ScriptType  ScriptType `json:"script_type"`
	Script      string     `json:"script"`

	StateOnFail           string   `json:"state_on_fail,omitempty"`
	MultiStateOnFailSet   []string `json:"multi_state_on_fail_set,omitempty"`
	MultiStateOnFailUnset []string `json:"multi_state_on_fail_unset,omitempty"`

	Params           map[string]interface{} `json:"params,omitempty"`
	AllowToTerminate bool                   `json:"allow_to_terminate"`
}

// PrototypeConfig is one configuration key declared on a prototype or action.
type PrototypeConfig struct {
	ID          int64  `json:"id"`
	PrototypeID int64  `json:"prototype_id"`
	ActionID    *int64 `json:"action_id,omitempty"`

	Name    string `json:"name"`
	Subname string `json:"subname"`

	// Type is the config field type, or "group" for grouping keys.
	Type string `json:"type"`

	Default     interface{}            `json:"default"`
	DisplayName string                 `json:"display_name"`
	Description string                 `json:"description,omitempty"`
	Limits      map[string]interface{} `json:"limits,omitempty"`
	UIOptions   map[string]interface{} `json:"ui_options,omitempty"`
	Required    bool                   `json:"required"`

	GroupCustomization *bool `json:"group_customization,omitempty"`
}

// Upgrade describes a bundle-to-bundle upgrade path.
type Upgrade struct {
	ID          int64  `json:"id"`
	BundleID    int64  `json:"bundle_id"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`

	MinVersion string `json:"min_version"`
	MaxVersion string `json:"max_version"`
	MinStrict  bool   `json:"min_strict"`
	MaxStrict  bool   `json:"max_strict"`

	FromEdition    []string `json:"from_edition"`
	StateAvailable StateSet `json:"state_available"`
	StateOnSuccess string   `json:"state_on_success,omitempty"`

	// ActionID is the generated task action running the upgrade scripts.
	ActionID *int64 `json:"action_id,omitempty"`
}

// PrototypeExport publishes a config group for import by other prototypes.
type PrototypeExport struct {
	ID          int64  `json:"id"`
	PrototypeID int64  `json:"prototype_id"`
	Name        string `json:"name"`
}

// PrototypeImport consumes exported config groups of another bundle.
type PrototypeImport struct {
	ID          int64    `json:"id"`
	PrototypeID int64    `json:"prototype_id"`
	Name        string   `json:"name"`
	MinVersion  string   `json:"min_version,omitempty"`
	MaxVersion  string   `json:"max_version,omitempty"`
	MinStrict   bool     `json:"min_strict"`
	MaxStrict   bool     `json:"max_strict"`
	Default     []string `json:"default,omitempty"`
	Required    bool     `json:"required"`
	Multibind   bool     `json:"multibind"`
}

// Object is a live cluster, service, component, provider, host or adcm instance.
type Object struct {
	ID          int64      `json:"id"`
	Type        ObjectType `json:"type"`
	PrototypeID int64      `json:"prototype_id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	MultiState  []string   `json:"multi_state"`
}

// SetMultiState adds a flag if missing.
func (o *Object) SetMultiState(flag string) {
	for _, s := range o.MultiState {
		if s == flag {
			return
		}
	}
	o.MultiState = append(o.MultiState, flag)
}

// UnsetMultiState removes a flag if present.
func (o *Object) UnsetMultiState(flag string) {
	out := o.MultiState[:0]
	for _, s := range o.MultiState {
		if s != flag {
			out = append(out, s)
		}
	}
	o.MultiState = out
}

// Task is a requested execution of an action on an object.
type Task struct {
	ID         int64      `json:"id"`
	ActionID   int64      `json:"action_id"`
	// ObjectType and ObjectID are cleared once the target object has been
	// deleted.
	ObjectType ObjectType `json:"object_type,omitempty"`
	ObjectID   *int64     `json:"object_id,omitempty"`

	Status  JobStatus              `json:"status"`
	PID     int                    `json:"pid"`
	Config  map[string]interface{} `json:"config,omitempty"`
	Verbose bool                   `json:"verbose"`

	StartDate  time.Time `json:"start_date"`
	FinishDate time.Time `json:"finish_date"`
}

// dropObject forgets the target object after it was deleted.
func (t *Task) dropObject() {
	t.ObjectType = ""
	t.ObjectID = nil
}

// Job is one OS process run of a task.
type Job struct {
	ID          int64     `json:"id"`
	TaskID      int64     `json:"task_id"`
	ActionID    int64     `json:"action_id"`
	SubActionID *int64    `json:"sub_action_id,omitempty"`
	Status      JobStatus `json:"status"`
	PID         int       `json:"pid"`

	StartDate  time.Time `json:"start_date"`
	FinishDate time.Time `json:"finish_date"`
}

// LogStorage is a captured job output stream.
type LogStorage struct {
	ID     int64   `json:"id"`
	JobID  int64   `json:"job_id"`
	Name   string  `json:"name"`
	Type   LogType `json:"type"`
	Format string  `json:"format"`
	Body   string  `json:"body,omitempty"`
}

// FileName returns the on-disk name of the log inside the job directory.
func (l *LogStorage) FileName() string {
	return fmt.Sprintf("%s-%s.%s", l.Name, l.Type, l.Format)
}
