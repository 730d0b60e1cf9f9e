package stack

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/yspec"
)

//go:embed schema/bundle.yaml
var bundleSchemaYAML []byte

var (
	schemaOnce   sync.Once
	bundleSchema *yspec.Schema
	schemaErr    error
)

// BundleSchema returns the rule set of bundle definition files.
func BundleSchema() (*yspec.Schema, error) {
	schemaOnce.Do(func() {
		bundleSchema, schemaErr = yspec.ParseSchema(bundleSchemaYAML)
		if schemaErr == nil {
			schemaErr = bundleSchema.Check()
		}
	})
	return bundleSchema, schemaErr
}

// ConfigFile is one definition file of a bundle.
type ConfigFile struct {
	// Dir is the directory of the file relative to the bundle root.
	Dir string

	// Path is the full path of the file.
	Path string
}

// FindConfigFiles returns every config.yaml and config.yml below root in
// lexical order.
func FindConfigFiles(root string) ([]ConfigFile, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "no directory: %s", root)
	}

	var files []ConfigFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if d.Name() != "config.yaml" && d.Name() != "config.yml" {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		files = append(files, ConfigFile{Dir: filepath.ToSlash(rel), Path: path})
		return nil
	})
	if err != nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "can not walk stack directory %q", root).Wrap(err)
	}
	if len(files) == 0 {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "no config files in stack directory %q", root)
	}
	return files, nil
}

// LoadOptions controls YAML decoding of definition files.
type LoadOptions struct {
	// AllowDuplicateKeys keeps the last value of a repeated mapping key
	// instead of failing.
	AllowDuplicateKeys bool
}

// ReadDefinition parses a definition file and validates it against the
// bundle schema.
func ReadDefinition(path string, opts LoadOptions) (*yaml.Node, error) {
	schema, err := BundleSchema()
	if err != nil {
		return nil, engine.NewError(engine.ErrCodeInternal, "bundle schema is broken").Wrap(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "can not open config file %q", path).Wrap(err)
	}
	doc, err := DecodeYAML(path, data, opts)
	if err != nil {
		return nil, err
	}

	if err := schema.Validate(doc); err != nil {
		var fe *yspec.FormatError
		if errors.As(err, &fe) {
			return nil, engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
				"%q line %d error: %s", path, fe.Line, fe.Message).WithArgs(fe.Flatten()...)
		}
		return nil, engine.NewError(engine.ErrCodeInternal, "bundle schema is broken").Wrap(err)
	}
	return doc, nil
}

// DecodeYAML parses a YAML document into a node tree. Reused anchors are
// always rejected; repeated keys are rejected unless allowed by opts.
func DecodeYAML(path string, data []byte, opts LoadOptions) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "YAML decode %q error: %v", path, err)
	}
	if doc.Kind == 0 || yspec.Resolve(&doc) == nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "YAML decode %q error: empty document", path)
	}
	if err := checkAnchors(&doc, make(map[string]int)); err != nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "YAML decode %q error: %v", path, err)
	}
	resolveLegacyBools(&doc)
	if err := dedupeKeys(&doc, opts.AllowDuplicateKeys); err != nil {
		return nil, engine.Errorf(engine.ErrCodeStackLoad, "Duplicate Keys error: %v", err)
	}
	return &doc, nil
}

// legacyBools are the YAML 1.1 boolean literals that YAML 1.2 reads as
// strings. Bundles are written against YAML 1.1.
var legacyBools = map[string]string{
	"yes": "true", "y": "true", "on": "true",
	"no": "false", "n": "false", "off": "false",
}

// resolveLegacyBools retags plain scalar values such as `required: yes` as
// booleans. Mapping keys and quoted or explicitly tagged scalars are left
// alone.
func resolveLegacyBools(n *yaml.Node) {
	switch n.Kind {
	case yaml.ScalarNode:
		if n.Style&(yaml.TaggedStyle|yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle|yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
			return
		}
		if n.ShortTag() != "!!str" {
			return
		}
		if b, ok := legacyBools[strings.ToLower(n.Value)]; ok {
			n.Tag = "!!bool"
			n.Value = b
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			resolveLegacyBools(n.Content[i])
		}
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			resolveLegacyBools(c)
		}
	}
}

func checkAnchors(n *yaml.Node, seen map[string]int) error {
	if n.Kind != yaml.AliasNode && n.Anchor != "" {
		if line, ok := seen[n.Anchor]; ok {
			return fmt.Errorf("found duplicate anchor %q; first occurrence at line %d, second occurrence at line %d",
				n.Anchor, line, n.Line)
		}
		seen[n.Anchor] = n.Line
	}
	for _, c := range n.Content {
		if err := checkAnchors(c, seen); err != nil {
			return err
		}
	}
	return nil
}

func dedupeKeys(n *yaml.Node, allow bool) error {
	if n.Kind == yaml.MappingNode {
		last := make(map[string]int)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			if k.Kind != yaml.ScalarNode || k.ShortTag() == "!!merge" {
				continue
			}
			if prev, ok := last[k.Value]; ok && !allow {
				return fmt.Errorf("found duplicate key %q at line %d (first defined at line %d)",
					k.Value, k.Line, n.Content[prev].Line)
			}
			last[k.Value] = i
		}
		if allow {
			kept := n.Content[:0:0]
			for i := 0; i+1 < len(n.Content); i += 2 {
				k := n.Content[i]
				if k.Kind == yaml.ScalarNode && k.ShortTag() != "!!merge" && last[k.Value] != i {
					continue
				}
				kept = append(kept, k, n.Content[i+1])
			}
			n.Content = kept
		}
	}
	for _, c := range n.Content {
		if err := dedupeKeys(c, allow); err != nil {
			return err
		}
	}
	return nil
}

// keySet returns the keys present in a mapping node, merges included.
func keySet(n *yaml.Node) map[string]bool {
	out := make(map[string]bool)
	for _, k := range yspec.Keys(n) {
		out[k] = true
	}
	return out
}
