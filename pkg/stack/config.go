package stack

import (
	"errors"
	"fmt"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
	"github.com/openfroyo/stackmgr/pkg/yspec"
)

// ConfigTypeGroup is the type of config keys that hold sub-keys.
const ConfigTypeGroup = "group"

// IsComplexType reports whether values of a config type are stored as
// documents rather than flat scalars.
func IsComplexType(t string) bool {
	switch t {
	case "json", "structure", "list", "map", "secretmap":
		return true
	}
	return false
}

type variantSourceDef struct {
	Type   string        `yaml:"type"`
	Name   string        `yaml:"name"`
	Strict *bool         `yaml:"strict"`
	Value  []interface{} `yaml:"value"`
	Args   interface{}   `yaml:"args"`
}

type configFieldDef struct {
	Name               string                 `yaml:"name"`
	Type               string                 `yaml:"type"`
	Default            interface{}            `yaml:"default"`
	DisplayName        *string                `yaml:"display_name"`
	Description        string                 `yaml:"description"`
	Required           *bool                  `yaml:"required"`
	UIOptions          map[string]interface{} `yaml:"ui_options"`
	GroupCustomization *bool                  `yaml:"group_customization"`
	Option             map[string]interface{} `yaml:"option"`
	Source             *variantSourceDef      `yaml:"source"`
	Min                interface{}            `yaml:"min"`
	Max                interface{}            `yaml:"max"`
	YSpec              string                 `yaml:"yspec"`
	ReadOnly           *stateSet              `yaml:"read_only"`
	Writable           *stateSet              `yaml:"writable"`
	Activatable        *bool                  `yaml:"activatable"`
	Active             *bool                  `yaml:"active"`
	Subs               []*configFieldDef      `yaml:"subs"`

	keys map[string]bool
}

func (c *configFieldDef) UnmarshalYAML(n *yaml.Node) error {
	type plain configFieldDef
	if err := n.Decode((*plain)(c)); err != nil {
		return err
	}
	c.keys = keySet(n)
	return nil
}

// configSaver writes the config block of one prototype or action.
type configSaver struct {
	p          *Parser
	proto      *engine.Prototype
	actionID   *int64
	actionName string
}

func (p *Parser) saveConfig(proto *engine.Prototype, node *yaml.Node, actionID *int64, actionName string) error {
	if !isSet(node) {
		return nil
	}
	node = yspec.Resolve(node)
	s := &configSaver{p: p, proto: proto, actionID: actionID, actionName: actionName}
	ref := proto.Key()

	switch node.Kind {
	case yaml.MappingNode:
		for _, pair := range yspec.Pairs(node) {
			name := pair.Key
			entry := yspec.Resolve(pair.Value)
			if yspec.Lookup(entry, "type") != nil {
				if err := ValidateName(name, fmt.Sprintf("Config key %q of %s", name, ref)); err != nil {
					return err
				}
				var field configFieldDef
				if err := entry.Decode(&field); err != nil {
					return decodeError(ref, err)
				}
				if err := s.cook(&field, name, ""); err != nil {
					return err
				}
				continue
			}

			if err := ValidateName(name, fmt.Sprintf("Config group %q of %s", name, ref)); err != nil {
				return err
			}
			no := false
			group := &configFieldDef{Type: ConfigTypeGroup, Required: &no, keys: map[string]bool{"type": true, "required": true}}
			if err := s.cook(group, name, ""); err != nil {
				return err
			}
			for _, sub := range yspec.Pairs(entry) {
				what := fmt.Sprintf("Config key %q of %s", name+"/"+sub.Key, ref)
				if err := ValidateName(sub.Key, what); err != nil {
					return err
				}
				var field configFieldDef
				if err := yspec.Resolve(sub.Value).Decode(&field); err != nil {
					return decodeError(ref, err)
				}
				if err := s.cook(&field, name, sub.Key); err != nil {
					return err
				}
			}
		}

	case yaml.SequenceNode:
		var fields []*configFieldDef
		if err := node.Decode(&fields); err != nil {
			return decodeError(ref, err)
		}
		for _, field := range fields {
			if err := ValidateName(field.Name, fmt.Sprintf("Config key %q of %s", field.Name, ref)); err != nil {
				return err
			}
			if err := s.cook(field, field.Name, ""); err != nil {
				return err
			}
			if field.Type != ConfigTypeGroup {
				continue
			}
			for _, sub := range field.Subs {
				what := fmt.Sprintf("Config key %q of %s", field.Name+"/"+sub.Name, ref)
				if err := ValidateName(sub.Name, what); err != nil {
					return err
				}
				if err := s.cook(sub, field.Name, sub.Name); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func decodeError(ref string, err error) error {
	return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "can not decode definition of %s: %v", ref, err)
}

func (s *configSaver) cook(field *configFieldDef, name, subname string) error {
	limits, schema, err := s.limits(field, name, subname)
	if err != nil {
		return err
	}

	cfg := &engine.PrototypeConfig{
		PrototypeID:        s.proto.ID,
		ActionID:           s.actionID,
		Name:               name,
		Subname:            subname,
		Type:               field.Type,
		Description:        field.Description,
		UIOptions:          field.UIOptions,
		Limits:             limits,
		Required:           true,
		GroupCustomization: field.GroupCustomization,
	}
	if field.Required != nil {
		cfg.Required = *field.Required
	}
	switch {
	case field.DisplayName != nil:
		cfg.DisplayName = *field.DisplayName
	case subname != "":
		cfg.DisplayName = subname
	default:
		cfg.DisplayName = name
	}

	if field.keys["default"] {
		spec := ConfigSpec{
			Type:     field.Type,
			Required: field.Required != nil && *field.Required,
			Limits:   limits,
			Schema:   schema,
		}
		readFile := func(path string) error {
			_, err := s.p.readBundleFile(s.proto, path, fmt.Sprintf("config key %q default file", name+"/"+subname))
			return err
		}
		if err := CheckValue(s.proto.Key(), name, subname, spec, field.Default, true, readFile); err != nil {
			return err
		}
		cfg.Default = field.Default
	}

	if _, err := s.p.area.Configs.Insert(cfg); err != nil {
		if errors.Is(err, staging.ErrDuplicate) {
			action := "None"
			if s.actionName != "" {
				action = s.actionName
			}
			return engine.Errorf(engine.ErrCodeInvalidConfigDefinition,
				"Duplicate config on %s, action %s, with name %s and subname %s", s.proto.Key(), action, name, subname)
		}
		return engine.NewError(engine.ErrCodeInternal, "can not stage config").Wrap(err)
	}
	return nil
}

// limits builds the type-specific constraints of a config key.
func (s *configSaver) limits(field *configFieldDef, name, subname string) (map[string]interface{}, *yspec.Schema, error) {
	limits := make(map[string]interface{})
	var schema *yspec.Schema

	switch field.Type {
	case "option":
		limits["option"] = field.Option
	case "variant":
		if field.Source != nil {
			limits["source"] = variantSource(field.Source)
		}
	case "integer", "float":
		if field.keys["min"] {
			limits["min"] = field.Min
		}
		if field.keys["max"] {
			limits["max"] = field.Max
		}
	case "structure":
		raw, parsed, err := s.loadYSpec(field.YSpec, name, subname)
		if err != nil {
			return nil, nil, err
		}
		limits["yspec"] = raw
		schema = parsed
	case ConfigTypeGroup:
		if field.Activatable != nil {
			limits["activatable"] = *field.Activatable
			limits["active"] = false
			if field.Active != nil {
				limits["active"] = *field.Active
			}
		}
	}

	if field.ReadOnly != nil && field.Writable != nil {
		return nil, nil, engine.Errorf(engine.ErrCodeInvalidConfigDefinition,
			"can not have \"read_only\" and \"writable\" simultaneously (config key %q of %s)",
			name+"/"+subname, s.proto.Key())
	}
	if field.ReadOnly != nil {
		limits["read_only"] = stateLimit(field.ReadOnly)
	}
	if field.Writable != nil {
		limits["writable"] = stateLimit(field.Writable)
	}
	return limits, schema, nil
}

func stateLimit(s *stateSet) interface{} {
	if s.Any {
		return "any"
	}
	return s.Items
}

func variantSource(src *variantSourceDef) map[string]interface{} {
	out := map[string]interface{}{
		"type":   src.Type,
		"args":   nil,
		"strict": true,
	}
	if src.Strict != nil {
		out["strict"] = *src.Strict
	}
	switch src.Type {
	case "inline":
		out["value"] = src.Value
	case "config", "list", "builtin":
		out["name"] = src.Name
	}
	if src.Type == "builtin" && src.Args != nil {
		out["args"] = src.Args
	}
	return out
}

func (s *configSaver) loadYSpec(path, name, subname string) (map[string]interface{}, *yspec.Schema, error) {
	key := name + "/" + subname
	body, err := s.p.readBundleFile(s.proto, path, fmt.Sprintf("yspec file of config key %q:", key))
	if err != nil {
		return nil, nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(body, &raw); err != nil {
		return nil, nil, engine.Errorf(engine.ErrCodeConfigType,
			"yspec file of config key %q yaml decode error: %v", key, err)
	}
	schema, err := yspec.ParseSchema(body)
	if err == nil {
		err = schema.Check()
	}
	if err != nil {
		return nil, nil, engine.Errorf(engine.ErrCodeConfigType, "yspec file of config key %q error: %v", key, err)
	}
	return raw, schema, nil
}

// ConfigSpec is what a config value is checked against.
type ConfigSpec struct {
	Type string

	// Required is true only when the definition says so explicitly.
	Required bool

	Limits map[string]interface{}

	// Schema is the parsed yspec of structure keys.
	Schema *yspec.Schema
}

// CheckValue type-checks a config value. readFile is called for file
// defaults and may be nil.
func CheckValue(ref, key, subkey string, spec ConfigSpec, value interface{}, isDefault bool, readFile func(string) error) error {
	label := "Value"
	if isDefault {
		label = "Default value"
	}
	fail := func(detail string) error {
		return engine.Errorf(engine.ErrCodeConfigValue, "%s of config key %q %s (%s)", label, key+"/"+subkey, detail, ref)
	}
	failValue := func(detail string) error {
		return engine.Errorf(engine.ErrCodeConfigValue, "%s (\"%v\") of config key %q %s (%s)",
			label, value, key+"/"+subkey, detail, ref)
	}
	checkStr := func(idx interface{}, v interface{}) error {
		if _, ok := v.(string); !ok {
			return engine.Errorf(engine.ErrCodeConfigValue,
				"%s (\"%v\") of element \"%v\" of config key %q should be string (%s)", label, v, idx, key+"/"+subkey, ref)
		}
		return nil
	}

	if isEmptyValue(spec.Type, value) {
		if spec.Required {
			return fail("is required")
		}
		return nil
	}

	switch value.(type) {
	case []interface{}, map[string]interface{}:
		if !IsComplexType(spec.Type) && spec.Type != ConfigTypeGroup {
			return fail("should be flat")
		}
	}

	switch spec.Type {
	case "list":
		items, ok := value.([]interface{})
		if !ok {
			return fail("should be an array")
		}
		for i, v := range items {
			if err := checkStr(i, v); err != nil {
				return err
			}
		}

	case "map", "secretmap":
		m, ok := value.(map[string]interface{})
		if !ok {
			return fail("should be a map")
		}
		for k, v := range m {
			if err := checkStr(k, v); err != nil {
				return err
			}
		}

	case "string", "password", "text", "secrettext":
		str, ok := value.(string)
		if !ok {
			return failValue("should be string")
		}
		if spec.Required && str == "" {
			return fail("should be not empty")
		}

	case "file", "secretfile":
		str, ok := value.(string)
		if !ok {
			return failValue("should be string")
		}
		if str == "" {
			return fail("should be not empty")
		}
		if isDefault {
			if len(str) > 2048 {
				return fail("is too long")
			}
			if readFile != nil {
				if err := readFile(str); err != nil {
					return err
				}
			}
		}

	case "structure":
		if spec.Schema == nil {
			return engine.Errorf(engine.ErrCodeConfigValue, "yspec error: no schema for config key %q", key+"/"+subkey)
		}
		if err := spec.Schema.ValidateValue(value, "root"); err != nil {
			var fe *yspec.FormatError
			if errors.As(err, &fe) {
				return fail(fmt.Sprintf("yspec error: %s at block %v", fe.Message, blockOf(fe.Node)))
			}
			return engine.Errorf(engine.ErrCodeConfigValue, "yspec error: %v", err)
		}

	case "boolean":
		if _, ok := value.(bool); !ok {
			return failValue("should be boolean")
		}

	case "integer":
		if !isInteger(value) {
			return failValue("should be integer")
		}
		if err := checkRange(spec.Limits, value, failValue); err != nil {
			return err
		}

	case "float":
		if _, ok := toNumber(value); !ok {
			return failValue("should be float")
		}
		if err := checkRange(spec.Limits, value, failValue); err != nil {
			return err
		}

	case "option":
		option, _ := spec.Limits["option"].(map[string]interface{})
		found := false
		for _, v := range option {
			if sameValue(v, value) {
				found = true
				break
			}
		}
		if !found {
			return failValue(fmt.Sprintf("not in option list: %q", fmt.Sprint(option)))
		}

	case "variant":
		source, _ := spec.Limits["source"].(map[string]interface{})
		if strict, _ := source["strict"].(bool); !strict {
			return nil
		}
		srcType, _ := source["type"].(string)
		if srcType != "inline" && (isDefault || srcType != "config" && srcType != "list" && srcType != "builtin") {
			return nil
		}
		values, _ := source["value"].([]interface{})
		for _, v := range values {
			if sameValue(v, value) {
				return nil
			}
		}
		return failValue(fmt.Sprintf("not in variant list: %q", fmt.Sprint(values)))
	}
	return nil
}

func isEmptyValue(typ string, value interface{}) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case map[string]interface{}:
		return (typ == "map" || typ == "secretmap") && len(v) == 0
	case []interface{}:
		return typ == "list" && len(v) == 0
	}
	return false
}

// isInteger accepts booleans too, the same as the schema int matcher.
func isInteger(v interface{}) bool {
	switch v.(type) {
	case int, int64, int32, bool:
		return true
	}
	return false
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func checkRange(limits map[string]interface{}, value interface{}, fail func(string) error) error {
	x, _ := toNumber(value)
	if min, ok := toNumber(limits["min"]); ok && x < min {
		return fail(fmt.Sprintf("should be more than %v", limits["min"]))
	}
	if max, ok := toNumber(limits["max"]); ok && x > max {
		return fail(fmt.Sprintf("should be less than %v", limits["max"]))
	}
	return nil
}

func sameValue(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	if aBool || bBool {
		return false
	}
	fa, aok := toNumber(a)
	fb, bok := toNumber(b)
	return aok && bok && fa == fb
}

func blockOf(n *yaml.Node) interface{} {
	if n == nil {
		return nil
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return n.Value
	}
	return v
}
