package stack

import (
	"strings"
	"testing"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/yspec"
)

func TestBundleSchema(t *testing.T) {
	schema, err := BundleSchema()
	if err != nil {
		t.Fatalf("Embedded bundle schema is broken: %v", err)
	}
	if _, ok := schema.Rules["root"]; !ok {
		t.Error("Expected root rule")
	}
}

func TestDecodeYAML(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		allow bool
		code  string
	}{
		{name: "plain", src: "a: 1\nb: 2\n"},
		{name: "duplicate key rejected", src: "a: 1\na: 2\n", code: engine.ErrCodeStackLoad},
		{name: "duplicate key allowed", src: "a: 1\na: 2\n", allow: true},
		{name: "duplicate anchor", src: "a: &x 1\nb: &x 2\n", allow: true, code: engine.ErrCodeStackLoad},
		{name: "alias reuse is fine", src: "a: &x 1\nb: *x\nc: *x\n"},
		{name: "syntax error", src: "a: [1, 2\n", code: engine.ErrCodeStackLoad},
		{name: "empty document", src: "", code: engine.ErrCodeStackLoad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeYAML("config.yaml", []byte(tt.src), LoadOptions{AllowDuplicateKeys: tt.allow})
			if tt.code == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			expectCode(t, err, tt.code)
		})
	}
}

func TestDecodeYAML_LegacyBooleans(t *testing.T) {
	src := "a: yes\nb: Off\nc: \"yes\"\nd: !!str on\n\"no\": y\ne: [N, maybe]\n"
	doc, err := DecodeYAML("config.yaml", []byte(src), LoadOptions{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	tests := []struct {
		key, tag, value string
	}{
		{"a", "!!bool", "true"},
		{"b", "!!bool", "false"},
		{"c", "!!str", "yes"},
		{"d", "!!str", "on"},
		{"no", "!!bool", "true"},
	}
	for _, tt := range tests {
		got := yspec.Lookup(doc, tt.key)
		if got == nil || got.ShortTag() != tt.tag || got.Value != tt.value {
			t.Errorf("%s: expected %s %s, got %+v", tt.key, tt.tag, tt.value, got)
		}
	}
	list := yspec.Lookup(doc, "e")
	if list == nil || list.Content[0].ShortTag() != "!!bool" || list.Content[1].ShortTag() != "!!str" {
		t.Errorf("Unexpected list items: %+v", list)
	}
}

func TestDecodeYAML_LastDuplicateWins(t *testing.T) {
	doc, err := DecodeYAML("config.yaml", []byte("a: 1\nb: 0\na: 2\n"), LoadOptions{AllowDuplicateKeys: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := yspec.Lookup(doc, "a"); got == nil || got.Value != "2" {
		t.Errorf("Expected last value to win, got %v", got)
	}
	if keys := yspec.Keys(doc); len(keys) != 2 {
		t.Errorf("Expected 2 keys after dedup, got %v", keys)
	}
}

func TestFindConfigFiles(t *testing.T) {
	root := writeBundle(t, map[string]string{
		"config.yaml":           "type: cluster\nname: c\nversion: 1\n",
		"services/a/config.yml": "type: service\nname: a\nversion: 1\n",
		"services/a/other.yml":  "ignored: true\n",
	})
	files, err := FindConfigFiles(root)
	if err != nil {
		t.Fatalf("Failed to find config files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(files))
	}
	if files[0].Dir != "." || files[1].Dir != "services/a" {
		t.Errorf("Unexpected dirs: %q %q", files[0].Dir, files[1].Dir)
	}
}

func TestCheckValue(t *testing.T) {
	tests := []struct {
		name    string
		spec    ConfigSpec
		value   interface{}
		wantErr string
	}{
		{name: "nil optional", spec: ConfigSpec{Type: "string"}, value: nil},
		{name: "nil required", spec: ConfigSpec{Type: "string", Required: true}, value: nil, wantErr: "is required"},
		{name: "empty required string", spec: ConfigSpec{Type: "string", Required: true}, value: "", wantErr: "should be not empty"},
		{name: "string", spec: ConfigSpec{Type: "password"}, value: "x"},
		{name: "not string", spec: ConfigSpec{Type: "text"}, value: 1, wantErr: "should be string"},
		{name: "flat", spec: ConfigSpec{Type: "string"}, value: []interface{}{"a"}, wantErr: "should be flat"},
		{name: "list", spec: ConfigSpec{Type: "list"}, value: []interface{}{"a", "b"}},
		{name: "list of ints", spec: ConfigSpec{Type: "list"}, value: []interface{}{1}, wantErr: "should be string"},
		{name: "list not array", spec: ConfigSpec{Type: "list"}, value: "a", wantErr: "should be an array"},
		{name: "empty map required", spec: ConfigSpec{Type: "map", Required: true}, value: map[string]interface{}{}, wantErr: "is required"},
		{name: "map", spec: ConfigSpec{Type: "map"}, value: map[string]interface{}{"a": "b"}},
		{name: "bool", spec: ConfigSpec{Type: "boolean"}, value: "yes", wantErr: "should be boolean"},
		{name: "integer accepts bool", spec: ConfigSpec{Type: "integer"}, value: true},
		{name: "integer rejects float", spec: ConfigSpec{Type: "integer"}, value: 1.5, wantErr: "should be integer"},
		{name: "float accepts int", spec: ConfigSpec{Type: "float"}, value: 3},
		{name: "below min", spec: ConfigSpec{Type: "integer", Limits: map[string]interface{}{"min": 10}}, value: 5, wantErr: "should be more than 10"},
		{name: "above max", spec: ConfigSpec{Type: "float", Limits: map[string]interface{}{"max": 1.5}}, value: 2.0, wantErr: "should be less than 1.5"},
		{
			name:  "option",
			spec:  ConfigSpec{Type: "option", Limits: map[string]interface{}{"option": map[string]interface{}{"one": 1, "two": 2}}},
			value: 2,
		},
		{
			name:    "not an option",
			spec:    ConfigSpec{Type: "option", Limits: map[string]interface{}{"option": map[string]interface{}{"one": 1}}},
			value:   3,
			wantErr: "not in option list",
		},
		{
			name: "inline variant",
			spec: ConfigSpec{Type: "variant", Limits: map[string]interface{}{
				"source": map[string]interface{}{"type": "inline", "strict": true, "value": []interface{}{"a", "b"}},
			}},
			value:   "c",
			wantErr: "not in variant list",
		},
		{
			name: "loose variant",
			spec: ConfigSpec{Type: "variant", Limits: map[string]interface{}{
				"source": map[string]interface{}{"type": "inline", "strict": false, "value": []interface{}{"a"}},
			}},
			value: "c",
		},
		{
			name: "config variant default is not checked",
			spec: ConfigSpec{Type: "variant", Limits: map[string]interface{}{
				"source": map[string]interface{}{"type": "config", "strict": true, "name": "hosts"},
			}},
			value: "anything",
		},
		{name: "empty file", spec: ConfigSpec{Type: "file"}, value: "", wantErr: "should be not empty"},
		{name: "long file", spec: ConfigSpec{Type: "file"}, value: strings.Repeat("a", 2049), wantErr: "is too long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckValue(`cluster "c" 1`, "key", "", tt.spec, tt.value, true, nil)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Unexpected error: %v", err)
				}
				return
			}
			expectCode(t, err, engine.ErrCodeConfigValue)
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"ok", "a.b-c_d", "0"} {
		if err := ValidateName(name, "name"); err != nil {
			t.Errorf("%q should be valid: %v", name, err)
		}
	}
	for _, name := range []string{"", "a b", "ключ", "a/b"} {
		if err := ValidateName(name, "name"); !engine.HasCode(err, engine.ErrCodeWrongName) {
			t.Errorf("%q should be rejected, got %v", name, err)
		}
	}
}
