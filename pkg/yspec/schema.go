package yspec

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// MatchKind selects how a rule matches its input.
type MatchKind string

const (
	MatchList             MatchKind = "list"
	MatchDict             MatchKind = "dict"
	MatchOneOf            MatchKind = "one_of"
	MatchDictKeySelection MatchKind = "dict_key_selection"
	MatchSet              MatchKind = "set"
	MatchString           MatchKind = "string"
	MatchBool             MatchKind = "bool"
	MatchInt              MatchKind = "int"
	MatchFloat            MatchKind = "float"
	MatchNone             MatchKind = "none"
	MatchAny              MatchKind = "any"
)

// Valid reports whether k is a known match kind.
func (k MatchKind) Valid() bool {
	switch k {
	case MatchList, MatchDict, MatchOneOf, MatchDictKeySelection, MatchSet,
		MatchString, MatchBool, MatchInt, MatchFloat, MatchNone, MatchAny:
		return true
	default:
		return false
	}
}

// Rule is one named matcher of a schema.
type Rule struct {
	Match MatchKind

	// Item is the element rule of a list.
	Item string

	// Items maps known dict keys to rules; DefaultItem covers the rest.
	Items         map[string]string
	RequiredItems []string
	DefaultItem   string

	// Selector, Selection and DefaultVariant drive dict_key_selection.
	Selector       string
	Selection      map[string]string
	DefaultVariant string

	// Variants lists the candidate rules of one_of.
	Variants []string

	// Values is the literal set of a set rule.
	Values []interface{}
}

type ruleDoc struct {
	Match          MatchKind         `yaml:"match"`
	Item           string            `yaml:"item"`
	Items          map[string]string `yaml:"items"`
	RequiredItems  []string          `yaml:"required_items"`
	DefaultItem    string            `yaml:"default_item"`
	Selector       string            `yaml:"selector"`
	DefaultVariant string            `yaml:"default_variant"`
	Variants       yaml.Node         `yaml:"variants"`
}

// UnmarshalYAML decodes a rule body. The shape of "variants" depends on match.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var doc ruleDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	*r = Rule{
		Match:          doc.Match,
		Item:           doc.Item,
		Items:          doc.Items,
		RequiredItems:  doc.RequiredItems,
		DefaultItem:    doc.DefaultItem,
		Selector:       doc.Selector,
		DefaultVariant: doc.DefaultVariant,
	}
	if doc.Variants.Kind == 0 {
		return nil
	}
	switch doc.Match {
	case MatchOneOf:
		return doc.Variants.Decode(&r.Variants)
	case MatchDictKeySelection:
		return doc.Variants.Decode(&r.Selection)
	case MatchSet:
		return doc.Variants.Decode(&r.Values)
	}
	return nil
}

// Schema is a named rule set with a mandatory "root" rule.
type Schema struct {
	Rules map[string]*Rule

	// MaxDepth bounds rule recursion; zero means DefaultMaxDepth.
	MaxDepth int
}

// DefaultMaxDepth is the default recursion bound of a validation run.
const DefaultMaxDepth = 256

// ParseSchema decodes a YAML rule set and checks its root.
func ParseSchema(data []byte) (*Schema, error) {
	var raw yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &SchemaError{Message: fmt.Sprintf("can not parse schema: %v", err)}
	}
	root := resolve(&raw)
	if root == nil || root.Kind != yaml.MappingNode {
		return nil, &SchemaError{Message: "YSpec should be a map"}
	}
	rules := make(map[string]*Rule)
	if err := root.Decode(&rules); err != nil {
		return nil, &SchemaError{Message: fmt.Sprintf("can not decode schema: %v", err)}
	}
	s := &Schema{Rules: rules}
	if err := s.checkRoot(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadSchema reads and parses a rule set file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return ParseSchema(data)
}

func (s *Schema) checkRoot() error {
	root, ok := s.Rules["root"]
	if !ok {
		return &SchemaError{Message: `YSpec should has "root" key`}
	}
	if root == nil || root.Match == "" {
		return &SchemaError{Message: `YSpec should has "match" subkey of "root" key`}
	}
	return nil
}

// Check verifies every rule has a known match kind and every reference resolves.
// Validation reports the same problems lazily; Check finds them up front.
func (s *Schema) Check() error {
	if err := s.checkRoot(); err != nil {
		return err
	}
	names := make([]string, 0, len(s.Rules))
	for name := range s.Rules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rule := s.Rules[name]
		if rule == nil || rule.Match == "" {
			return missingMatch(name)
		}
		if !rule.Match.Valid() {
			return unknownMatch(rule.Match)
		}
		for _, ref := range rule.refs() {
			if _, ok := s.Rules[ref]; !ok {
				return noRule(ref)
			}
		}
	}
	return nil
}

func (r *Rule) refs() []string {
	var out []string
	add := func(name string) {
		if name != "" {
			out = append(out, name)
		}
	}
	add(r.Item)
	add(r.DefaultItem)
	add(r.DefaultVariant)
	for _, v := range r.Items {
		add(v)
	}
	for _, v := range r.Selection {
		add(v)
	}
	for _, v := range r.Variants {
		add(v)
	}
	return out
}
