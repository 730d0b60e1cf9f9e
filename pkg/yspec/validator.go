package yspec

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Validate checks doc against the "root" rule.
func (s *Schema) Validate(doc *yaml.Node) error {
	return s.ValidateRule(doc, "root")
}

// ValidateRule checks doc against the named rule. It returns *FormatError for
// data that does not match and *SchemaError for a broken rule set.
func (s *Schema) ValidateRule(doc *yaml.Node, rule string) error {
	v := &validator{schema: s, maxDepth: s.MaxDepth}
	if v.maxDepth <= 0 {
		v.maxDepth = DefaultMaxDepth
	}
	return v.process(resolve(doc), rule, nil, nil, false)
}

// ValidateValue checks a plain Go value, such as a decoded config value.
func (s *Schema) ValidateValue(value interface{}, rule string) error {
	node, err := NodeOf(value)
	if err != nil {
		return err
	}
	return s.ValidateRule(node, rule)
}

type validator struct {
	schema   *Schema
	maxDepth int
	depth    int
}

func (v *validator) process(data *yaml.Node, name string, path []PathStep, parent *yaml.Node, isService bool) error {
	rule, ok := v.schema.Rules[name]
	if !ok {
		return noRule(name)
	}
	if rule == nil || rule.Match == "" {
		return missingMatch(name)
	}
	v.depth++
	defer func() { v.depth-- }()
	if v.depth > v.maxDepth {
		return &SchemaError{Message: fmt.Sprintf("Rule recursion deeper than %d at rule %s in schema.", v.maxDepth, name)}
	}

	data = resolve(data)
	switch rule.Match {
	case MatchList:
		return v.matchList(data, rule, name, path, parent, isService)
	case MatchDict:
		return v.matchDict(data, rule, name, path, parent, isService)
	case MatchOneOf:
		return v.matchOneOf(data, rule, name, path, parent, isService)
	case MatchDictKeySelection:
		return v.matchDictKeySelection(data, rule, name, path, parent, isService)
	case MatchSet:
		return matchSet(data, rule, name, path, parent)
	case MatchString:
		return matchScalar(data, name, path, parent, "string", "!!str")
	case MatchBool:
		return matchScalar(data, name, path, parent, "bool", "!!bool")
	case MatchInt:
		// Booleans pass as integers.
		return matchScalar(data, name, path, parent, "int", "!!int", "!!bool")
	case MatchFloat:
		return matchScalar(data, name, path, parent, "float", "!!float")
	case MatchNone:
		return matchNone(data, name, path, parent)
	case MatchAny:
		return nil
	default:
		return unknownMatch(rule.Match)
	}
}

func newFormatError(path []PathStep, msg string, data *yaml.Node, rule string, parent *yaml.Node) *FormatError {
	e := &FormatError{
		Path:    append([]PathStep(nil), path...),
		Message: msg,
		Rule:    rule,
		Node:    data,
	}
	switch {
	case data != nil && data.Line > 0:
		e.Line = data.Line
	case parent != nil:
		e.Line = parent.Line
	}
	return e
}

func checkMatchType(match, kindName string, data *yaml.Node, kind yaml.Kind, rule string, path []PathStep, parent *yaml.Node) error {
	if data != nil && data.Kind == kind {
		return nil
	}
	msg := fmt.Sprintf(`%s %s, rule "%s" should be a %s`, inputDataPrefix, match, rule, kindName)
	return newFormatError(path, msg, data, rule, parent)
}

func (v *validator) matchList(data *yaml.Node, rule *Rule, name string, path []PathStep, parent *yaml.Node, isService bool) error {
	if err := checkMatchType("match_list", "list", data, yaml.SequenceNode, name, path, parent); err != nil {
		return err
	}
	for i, item := range data.Content {
		step := append(path[:len(path):len(path)], PathStep{Kind: StepListIndex, Key: i})
		if err := v.process(item, rule.Item, step, parent, isService); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) matchDict(data *yaml.Node, rule *Rule, name string, path []PathStep, parent *yaml.Node, isService bool) error {
	if err := checkMatchType("match_dict", "map", data, yaml.MappingNode, name, path, parent); err != nil {
		return err
	}
	pairs := Pairs(data)
	present := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		present[p.Key] = true
	}
	if !isService {
		if t := Lookup(data, "type"); t != nil && t.Kind == yaml.ScalarNode && t.Value == "service" {
			isService = true
		}
	}
	for _, req := range rule.RequiredItems {
		if present[req] {
			continue
		}
		if isService && req == "service" {
			continue
		}
		return newFormatError(path, fmt.Sprintf(`There is no required key "%s" in map.`, req), data, name, nil)
	}
	for _, p := range pairs {
		step := append(path[:len(path):len(path)], PathStep{Kind: StepMapKey, Key: p.Key})
		next, ok := rule.Items[p.Key]
		if !ok {
			next = rule.DefaultItem
		}
		if next == "" {
			msg := fmt.Sprintf(`Map key "%s" is not allowed here (rule "%s")`, p.Key, name)
			e := newFormatError(path, msg, data, name, nil)
			if p.KeyNode != nil && p.KeyNode.Line > 0 {
				e.Line = p.KeyNode.Line
			}
			return e
		}
		if err := v.process(p.Value, next, step, data, isService); err != nil {
			return err
		}
	}
	return nil
}

func (v *validator) matchDictKeySelection(data *yaml.Node, rule *Rule, name string, path []PathStep, parent *yaml.Node, isService bool) error {
	if err := checkMatchType("dict_key_selection", "map", data, yaml.MappingNode, name, path, parent); err != nil {
		return err
	}
	key := rule.Selector
	sel := Lookup(data, key)
	if sel == nil {
		return newFormatError(path, fmt.Sprintf(`There is no key "%s" in map.`, key), data, name, parent)
	}
	value := sel.Value
	if sel.Kind == yaml.ScalarNode {
		if next, ok := rule.Selection[value]; ok {
			return v.process(data, next, path, parent, isService)
		}
	}
	if rule.DefaultVariant != "" {
		return v.process(data, rule.DefaultVariant, path, parent, isService)
	}
	msg := fmt.Sprintf(`Value "%s" is not allowed for map key "%s".`, value, key)
	return newFormatError(path, msg, data, name, parent)
}

func (v *validator) matchOneOf(data *yaml.Node, rule *Rule, name string, path []PathStep, parent *yaml.Node, isService bool) error {
	var errs, subErrs []*FormatError
	for _, variant := range rule.Variants {
		err := v.process(data, variant, path, parent, isService)
		if err == nil {
			return nil
		}
		fe, ok := err.(*FormatError)
		if !ok {
			return err
		}
		subErrs = append(subErrs, fe.Errors...)
		errs = append(errs, fe)
	}
	e := newFormatError(path, fmt.Sprintf(`None of the variants for rule "%s" match`, name), data, name, parent)
	e.Errors = append(errs, subErrs...)
	return e
}

func matchSet(data *yaml.Node, rule *Rule, name string, path []PathStep, parent *yaml.Node) error {
	var value interface{}
	if data != nil && data.Kind == yaml.ScalarNode {
		value = scalarValue(data)
		for _, candidate := range rule.Values {
			if equalValue(value, candidate) {
				return nil
			}
		}
	} else if data != nil {
		value = fmt.Sprintf("<%s>", kindName(data.Kind))
	}
	msg := fmt.Sprintf(`Value "%v" not in set %v`, value, rule.Values)
	return newFormatError(path, msg, data, name, parent)
}

func matchScalar(data *yaml.Node, name string, path []PathStep, parent *yaml.Node, typeName string, tags ...string) error {
	tag := scalarTag(data)
	for _, t := range tags {
		if tag == t {
			return nil
		}
	}
	msg := fmt.Sprintf("Object should be a %s", typeName)
	if len(path) > 0 {
		last := path[len(path)-1]
		msg = fmt.Sprintf(`%s "%v" should be a %s`, last.Kind, last.Key, typeName)
	}
	return newFormatError(path, msg, data, name, parent)
}

func matchNone(data *yaml.Node, name string, path []PathStep, parent *yaml.Node) error {
	if isNull(data) {
		return nil
	}
	msg := "Object should be empty"
	if len(path) > 0 {
		last := path[len(path)-1]
		msg = fmt.Sprintf(`%s "%v" should be empty`, last.Kind, last.Key)
	}
	return newFormatError(path, msg, data, name, parent)
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.MappingNode:
		return "map"
	case yaml.SequenceNode:
		return "list"
	default:
		return "scalar"
	}
}
