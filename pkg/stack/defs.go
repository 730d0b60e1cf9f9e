package stack

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

// versionString keeps the literal text of a version scalar, so 1.10 stays
// "1.10" instead of becoming a float.
type versionString string

func (v *versionString) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: version should be a scalar", n.Line)
	}
	*v = versionString(n.Value)
	return nil
}

// stateSet decodes "any" or a list of states.
type stateSet engine.StateSet

func (s *stateSet) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		if n.Value != "any" {
			return fmt.Errorf("line %d: state list should be \"any\" or a list", n.Line)
		}
		*s = stateSet(engine.AnyState)
		return nil
	}
	var items []string
	if err := n.Decode(&items); err != nil {
		return err
	}
	if items == nil {
		items = []string{}
	}
	*s = stateSet{Items: items}
	return nil
}

func (s *stateSet) value(def engine.StateSet) engine.StateSet {
	if s == nil {
		return def
	}
	return engine.StateSet(*s)
}

type objectDef struct {
	Type                     string                   `yaml:"type"`
	Name                     string                   `yaml:"name"`
	Version                  versionString            `yaml:"version"`
	DisplayName              *string                  `yaml:"display_name"`
	Description              string                   `yaml:"description"`
	Edition                  string                   `yaml:"edition"`
	License                  string                   `yaml:"license"`
	AdcmMinVersion           versionString            `yaml:"adcm_min_version"`
	ConfigGroupCustomization *bool                    `yaml:"config_group_customization"`
	AllowMaintenanceMode     bool                     `yaml:"allow_maintenance_mode"`
	Venv                     string                   `yaml:"venv"`
	Required                 bool                     `yaml:"required"`
	Shared                   bool                     `yaml:"shared"`
	Upgrade                  []*upgradeDef            `yaml:"upgrade"`
	Import                   map[string]*importDef    `yaml:"import"`
	Export                   yaml.Node                `yaml:"export"`
	Actions                  map[string]*actionDef    `yaml:"actions"`
	Config                   yaml.Node                `yaml:"config"`
	Components               map[string]*componentDef `yaml:"components"`
}

func (o *objectDef) id() string {
	return fmt.Sprintf("%s.%s.%s", o.Type, o.Name, o.Version)
}

func (o *objectDef) ref() string {
	return fmt.Sprintf("%s %q %s", o.Type, o.Name, o.Version)
}

type componentDef struct {
	DisplayName              *string                `yaml:"display_name"`
	Description              string                 `yaml:"description"`
	Constraint               []interface{}          `yaml:"constraint"`
	Requires                 []engine.ComponentRef  `yaml:"requires"`
	BoundTo                  *engine.ComponentRef   `yaml:"bound_to"`
	Venv                     string                 `yaml:"venv"`
	ConfigGroupCustomization *bool                  `yaml:"config_group_customization"`
	Actions                  map[string]*actionDef  `yaml:"actions"`
	Config                   yaml.Node              `yaml:"config"`
	Params                   map[string]interface{} `yaml:"params"`
}

type statesDef struct {
	Available *stateSet `yaml:"available"`
	OnSuccess string    `yaml:"on_success"`
	OnFail    string    `yaml:"on_fail"`
}

type availabilityDef struct {
	Available   *stateSet `yaml:"available"`
	Unavailable *stateSet `yaml:"unavailable"`
}

type maskingDef struct {
	State      *availabilityDef `yaml:"state"`
	MultiState *availabilityDef `yaml:"multi_state"`
}

type multiStateChange struct {
	Set   []string `yaml:"set"`
	Unset []string `yaml:"unset"`
}

type outcomeDef struct {
	State      string            `yaml:"state"`
	MultiState *multiStateChange `yaml:"multi_state"`
}

type hcACLDef struct {
	Service   string `yaml:"service"`
	Component string `yaml:"component"`
	Action    string `yaml:"action"`
}

// subOnFail is either a bare state name or an outcome block.
type subOnFail struct {
	outcomeDef
}

func (s *subOnFail) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.State = n.Value
		return nil
	}
	return n.Decode(&s.outcomeDef)
}

type subActionDef struct {
	Name             string                 `yaml:"name"`
	DisplayName      string                 `yaml:"display_name"`
	Script           string                 `yaml:"script"`
	ScriptType       string                 `yaml:"script_type"`
	Params           map[string]interface{} `yaml:"params"`
	OnFail           *subOnFail             `yaml:"on_fail"`
	AllowToTerminate bool                   `yaml:"allow_to_terminate"`
}

type actionDef struct {
	Type                   string                 `yaml:"type"`
	Script                 string                 `yaml:"script"`
	ScriptType             string                 `yaml:"script_type"`
	DisplayName            *string                `yaml:"display_name"`
	Description            string                 `yaml:"description"`
	Params                 map[string]interface{} `yaml:"params"`
	UIOptions              map[string]interface{} `yaml:"ui_options"`
	States                 *statesDef             `yaml:"states"`
	Masking                *maskingDef            `yaml:"masking"`
	OnSuccess              *outcomeDef            `yaml:"on_success"`
	OnFail                 *outcomeDef            `yaml:"on_fail"`
	HcACL                  []hcACLDef             `yaml:"hc_acl"`
	HostAction             bool                   `yaml:"host_action"`
	AllowToTerminate       bool                   `yaml:"allow_to_terminate"`
	PartialExecution       bool                   `yaml:"partial_execution"`
	AllowInMaintenanceMode bool                   `yaml:"allow_in_maintenance_mode"`
	LogFiles               []string               `yaml:"log_files"`
	Config                 yaml.Node              `yaml:"config"`
	ConfigJinja            string                 `yaml:"config_jinja"`
	Venv                   string                 `yaml:"venv"`
	Scripts                []*subActionDef        `yaml:"scripts"`

	keys map[string]bool
}

func (a *actionDef) UnmarshalYAML(n *yaml.Node) error {
	type plain actionDef
	if err := n.Decode((*plain)(a)); err != nil {
		return err
	}
	a.keys = keySet(n)
	return nil
}

func (a *actionDef) has(key string) bool {
	return a.keys[key]
}

type versionsDef struct {
	Min       *versionString `yaml:"min"`
	Max       *versionString `yaml:"max"`
	MinStrict *versionString `yaml:"min_strict"`
	MaxStrict *versionString `yaml:"max_strict"`

	keys map[string]bool
}

func (v *versionsDef) UnmarshalYAML(n *yaml.Node) error {
	type plain versionsDef
	if err := n.Decode((*plain)(v)); err != nil {
		return err
	}
	v.keys = keySet(n)
	return nil
}

// bounds returns the min and max versions with their strict flags.
func (v *versionsDef) bounds() (min string, minStrict bool, max string, maxStrict bool) {
	switch {
	case v.Min != nil:
		min = string(*v.Min)
	case v.MinStrict != nil:
		min, minStrict = string(*v.MinStrict), true
	}
	switch {
	case v.Max != nil:
		max = string(*v.Max)
	case v.MaxStrict != nil:
		max, maxStrict = string(*v.MaxStrict), true
	}
	return min, minStrict, max, maxStrict
}

type upgradeDef struct {
	Name        string      `yaml:"name"`
	DisplayName string      `yaml:"display_name"`
	Description string      `yaml:"description"`
	Versions    versionsDef `yaml:"versions"`
	FromEdition []string    `yaml:"from_edition"`

	// action holds the fields shared with action definitions.
	action actionDef
}

func (u *upgradeDef) UnmarshalYAML(n *yaml.Node) error {
	type plain upgradeDef
	if err := n.Decode((*plain)(u)); err != nil {
		return err
	}
	return n.Decode(&u.action)
}

type importDef struct {
	Versions  *versionsDef `yaml:"versions"`
	Default   []string     `yaml:"default"`
	Required  bool         `yaml:"required"`
	Multibind bool         `yaml:"multibind"`

	keys map[string]bool
}

func (i *importDef) UnmarshalYAML(n *yaml.Node) error {
	type plain importDef
	if err := n.Decode((*plain)(i)); err != nil {
		return err
	}
	i.keys = keySet(n)
	return nil
}

// isSet reports whether a yaml.Node field was present with a non-null value.
func isSet(n *yaml.Node) bool {
	return n != nil && n.Kind != 0 && !(n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}
