package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
)

//go:embed schema.cue
var settingsSchema string

// ValidationError locates one problem in a settings file.
type ValidationError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		fmt.Fprintf(&b, "%s:%d:%d: ", e.File, e.Line, e.Column)
	}
	if e.Path != "" {
		b.WriteString(e.Path + ": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// LoadError is returned when a settings file does not validate.
type LoadError struct {
	Errors []ValidationError
}

func (e *LoadError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		parts[i] = ve.String()
	}
	return "invalid settings: " + strings.Join(parts, "; ")
}

// Loader reads settings files.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader compiles the settings schema.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(settingsSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile settings schema: %w", err)
	}
	return &Loader{
		ctx:       ctx,
		schema:    schema.LookupPath(cue.ParsePath("#Settings")),
		validator: validator.New(),
	}, nil
}

// Load reads the CUE file at path over the defaults. An empty path
// returns the defaults.
func (l *Loader) Load(path string) (*Settings, error) {
	if path == "" {
		s := Default()
		return s, l.Validate(s)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	return l.parse(string(content), path)
}

// Parse reads settings from inline CUE content.
func (l *Loader) Parse(content string) (*Settings, error) {
	return l.parse(content, "inline")
}

func (l *Loader) parse(content, filename string) (*Settings, error) {
	val := l.ctx.CompileString(content, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	unified := l.schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Errors: convertCUEErrors(err)}
	}

	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export settings: %w", err)
	}

	s := Default()
	// Derived paths follow the configured data_dir, not the default one.
	s.BundleDir, s.DownloadDir, s.RunDir, s.LogDir, s.Database, s.JobRunner = "", "", "", "", "", ""
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.applyDerived()

	if err := l.Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks the struct constraints of s.
func (l *Loader) Validate(s *Settings) error {
	err := l.validator.Struct(s)
	if err == nil {
		return nil
	}
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("failed to validate settings: %w", err)
	}
	loadErr := &LoadError{}
	for _, fe := range fieldErrors {
		loadErr.Errors = append(loadErr.Errors, ValidationError{
			Path:    fe.Namespace(),
			Message: fmt.Sprintf("failed on %q constraint", fe.Tag()),
		})
	}
	return loadErr
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: errors.Details(e, nil),
		}
		positions := errors.Positions(e)
		for _, pos := range positions {
			if pos.Filename() != "schema.cue" {
				ve.File, ve.Line, ve.Column = pos.Filename(), pos.Line(), pos.Column()
				break
			}
		}
		if ve.File == "" && len(positions) > 0 {
			ve.File, ve.Line, ve.Column = positions[0].Filename(), positions[0].Line(), positions[0].Column()
		}
		out = append(out, ve)
	}
	return out
}
