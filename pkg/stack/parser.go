package stack

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/flosch/pongo2/v6"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
	"github.com/openfroyo/stackmgr/pkg/version"
	"github.com/openfroyo/stackmgr/pkg/yspec"
)

// Defaults applied to prototypes that do not set them.
const (
	DefaultEdition = "community"
	DefaultVenv    = "default"
)

// Options controls a parse run.
type Options struct {
	// AllowDuplicateKeys keeps the last value of a repeated mapping key.
	AllowDuplicateKeys bool

	// ADCM permits objects of type "adcm".
	ADCM bool
}

// Parser stages the definitions of one bundle directory.
type Parser struct {
	area   *staging.Area
	root   string
	opts   Options
	seen   map[string]string
	logger zerolog.Logger
}

// NewParser creates a parser writing into area. root is the extracted
// bundle directory.
func NewParser(area *staging.Area, root string, opts Options, logger zerolog.Logger) *Parser {
	return &Parser{
		area:   area,
		root:   filepath.Clean(root),
		opts:   opts,
		seen:   make(map[string]string),
		logger: logger.With().Str("component", "stack-parser").Logger(),
	}
}

// Root returns the bundle directory.
func (p *Parser) Root() string {
	return p.root
}

// Load reads every definition file below the bundle root into the staging area.
func (p *Parser) Load() error {
	files, err := FindConfigFiles(p.root)
	if err != nil {
		return err
	}
	for _, f := range files {
		doc, err := ReadDefinition(f.Path, LoadOptions{AllowDuplicateKeys: p.opts.AllowDuplicateKeys})
		if err != nil {
			return err
		}
		p.logger.Info().Str("file", f.Path).Msg("Read config file")
		if err := p.SaveDefinition(f.Dir, f.Path, doc); err != nil {
			return err
		}
	}
	return nil
}

// SaveDefinition stages the objects of one validated document. dir is the
// directory of the file relative to the bundle root.
func (p *Parser) SaveDefinition(dir, file string, doc *yaml.Node) error {
	node := yspec.Resolve(doc)
	if node == nil {
		return nil
	}
	switch node.Kind {
	case yaml.MappingNode:
		return p.saveObject(dir, file, node)
	case yaml.SequenceNode:
		for _, item := range node.Content {
			if err := p.saveObject(dir, file, yspec.Resolve(item)); err != nil {
				return err
			}
		}
		return nil
	}
	return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "%q should contain an object or a list of objects", file)
}

func (p *Parser) saveObject(dir, file string, node *yaml.Node) error {
	var obj objectDef
	if err := node.Decode(&obj); err != nil {
		return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "%q decode error: %v", file, err)
	}

	if obj.Type == string(engine.ObjectTypeADCM) && !p.opts.ADCM {
		return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "Invalid type %q in object definition: %s", obj.Type, file)
	}
	if prev, ok := p.seen[obj.id()]; ok {
		return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
			"Duplicate definition of %s (file %s)", obj.ref(), file).WithArgs("first defined in " + prev)
	}
	if err := p.checkActionsDefinition(engine.ObjectType(obj.Type), obj.Actions); err != nil {
		return err
	}
	if _, err := p.savePrototype(dir, &obj); err != nil {
		return err
	}

	p.logger.Info().
		Str("type", obj.Type).
		Str("name", obj.Name).
		Str("version", string(obj.Version)).
		Msg("Saved definition to stage")
	p.seen[obj.id()] = file
	return nil
}

func (p *Parser) checkActionsDefinition(objType engine.ObjectType, actions map[string]*actionDef) error {
	for _, name := range sortedKeys(actions) {
		ac := actions[name]
		if ac == nil {
			continue
		}
		if name == HostTurnOnMMAction || name == HostTurnOffMMAction {
			if objType != engine.ObjectTypeCluster {
				return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
					"Action named %q can be started only in cluster context", name)
			}
			if !ac.HostAction {
				return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
					"Action named %q should have \"host_action: true\" property", name)
			}
		}
		if name == TurnOnMMAction || name == TurnOffMMAction {
			for _, prop := range mmForbiddenProps {
				if ac.has(prop) {
					return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
						"Maintenance mode actions shouldn't have %q properties", strings.Join(mmForbiddenProps, ", "))
				}
			}
		}
		if ac.ConfigJinja != "" {
			if isSet(&ac.Config) {
				return engine.NewError(engine.ErrCodeInvalidObjectDefinition,
					`"config" and "config_jinja" are mutually exclusive action options`)
			}
			body, err := os.ReadFile(filepath.Join(p.root, ac.ConfigJinja))
			if err != nil {
				return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "config_jinja file %q: %v", ac.ConfigJinja, err)
			}
			if _, err := pongo2.FromString(string(body)); err != nil {
				return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "config_jinja file %q: %v", ac.ConfigJinja, err)
			}
		}
	}
	return nil
}

func (p *Parser) savePrototype(dir string, obj *objectDef) (*engine.Prototype, error) {
	proto := &engine.Prototype{
		Type:                 engine.ObjectType(obj.Type),
		Path:                 dir,
		Name:                 obj.Name,
		DisplayName:          obj.Name,
		Version:              string(obj.Version),
		Description:          obj.Description,
		Edition:              DefaultEdition,
		License:              engine.LicenseAbsent,
		Required:             obj.Required,
		Shared:               obj.Shared,
		AdcmMinVersion:       string(obj.AdcmMinVersion),
		AllowMaintenanceMode: obj.AllowMaintenanceMode,
		VenvName:             DefaultVenv,
	}
	if obj.DisplayName != nil {
		proto.DisplayName = *obj.DisplayName
	}
	if obj.Edition != "" {
		proto.Edition = obj.Edition
	}
	if obj.Venv != "" {
		proto.VenvName = obj.Venv
	}

	switch {
	case obj.ConfigGroupCustomization != nil:
		proto.ConfigGroupCustomization = *obj.ConfigGroupCustomization
	case proto.Type == engine.ObjectTypeService:
		if cluster, err := p.area.Prototypes.One(func(sp *engine.Prototype) bool {
			return sp.Type == engine.ObjectTypeCluster
		}); err == nil {
			proto.ConfigGroupCustomization = cluster.ConfigGroupCustomization
		} else {
			p.logger.Debug().Str("service", obj.Name).Msg("Can't find cluster for service")
		}
	}

	if obj.License != "" {
		body, err := p.readBundleFile(proto, obj.License, "license file")
		if err != nil {
			return nil, err
		}
		switch proto.Type {
		case engine.ObjectTypeCluster, engine.ObjectTypeService, engine.ObjectTypeProvider:
		default:
			return nil, engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
				"Invalid license definition in %s. License can be placed in cluster, service or provider", proto.Key())
		}
		sum := sha256.Sum256(body)
		proto.LicensePath = obj.License
		proto.LicenseHash = hex.EncodeToString(sum[:])
		proto.License = engine.LicenseUnaccepted
	}

	if err := p.insertPrototype(proto); err != nil {
		return nil, err
	}
	if err := p.saveActions(proto, obj.Actions); err != nil {
		return nil, err
	}
	if err := p.saveUpgrades(proto, obj.Upgrade); err != nil {
		return nil, err
	}
	if err := p.saveComponents(proto, obj.Components); err != nil {
		return nil, err
	}
	if err := p.saveConfig(proto, &obj.Config, nil, ""); err != nil {
		return nil, err
	}
	if err := p.saveExport(proto, &obj.Export); err != nil {
		return nil, err
	}
	if err := p.saveImport(proto, obj.Import); err != nil {
		return nil, err
	}
	return proto, nil
}

func (p *Parser) insertPrototype(proto *engine.Prototype) error {
	if _, err := p.area.Prototypes.Insert(proto); err != nil {
		if errors.Is(err, staging.ErrDuplicate) {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "Duplicate definition of %s", proto.Key())
		}
		return engine.NewError(engine.ErrCodeInternal, "can not stage prototype").Wrap(err)
	}
	return nil
}

func (p *Parser) saveComponents(proto *engine.Prototype, components map[string]*componentDef) error {
	ref := proto.Key()
	for _, name := range sortedKeys(components) {
		cc := components[name]
		if cc == nil {
			cc = &componentDef{}
		}
		if err := ValidateName(name, fmt.Sprintf("Component name %q of %s", name, ref)); err != nil {
			return err
		}
		if len(cc.Constraint) > 2 {
			return engine.Errorf(engine.ErrCodeInvalidComponentDefinition,
				"constraint of component %q in %s should have only 1 or 2 elements", name, ref)
		}

		parentID := proto.ID
		comp := &engine.Prototype{
			Type:                     engine.ObjectTypeComponent,
			ParentID:                 &parentID,
			Path:                     proto.Path,
			Name:                     name,
			DisplayName:              name,
			Version:                  proto.Version,
			Description:              cc.Description,
			Edition:                  proto.Edition,
			License:                  engine.LicenseAbsent,
			Constraint:               []interface{}{0, "+"},
			Requires:                 cc.Requires,
			BoundTo:                  cc.BoundTo,
			AdcmMinVersion:           proto.AdcmMinVersion,
			ConfigGroupCustomization: proto.ConfigGroupCustomization,
			VenvName:                 DefaultVenv,
		}
		if cc.DisplayName != nil {
			comp.DisplayName = *cc.DisplayName
		}
		if cc.Constraint != nil {
			comp.Constraint = cc.Constraint
		}
		if cc.ConfigGroupCustomization != nil {
			comp.ConfigGroupCustomization = *cc.ConfigGroupCustomization
		}
		if cc.Venv != "" {
			comp.VenvName = cc.Venv
		}

		if err := p.insertPrototype(comp); err != nil {
			return err
		}
		if err := p.saveActions(comp, cc.Actions); err != nil {
			return err
		}
		if err := p.saveConfig(comp, &cc.Config, nil, ""); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) saveActions(proto *engine.Prototype, actions map[string]*actionDef) error {
	for _, name := range sortedKeys(actions) {
		ac := actions[name]
		if ac == nil {
			continue
		}
		if _, err := p.saveAction(proto, ac, name); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) saveAction(proto *engine.Prototype, ac *actionDef, name string) (*engine.Action, error) {
	what := fmt.Sprintf("Action name %q of %s %q %s", name, proto.Type, proto.Name, proto.Version)
	if err := ValidateName(name, what); err != nil {
		return nil, err
	}

	action := &engine.Action{
		PrototypeID:            proto.ID,
		Name:                   name,
		DisplayName:            name,
		Description:            ac.Description,
		Type:                   engine.ActionType(ac.Type),
		Params:                 ac.Params,
		UIOptions:              ac.UIOptions,
		LogFiles:               ac.LogFiles,
		HostAction:             ac.HostAction,
		AllowToTerminate:       ac.AllowToTerminate,
		PartialExecution:       ac.PartialExecution,
		AllowInMaintenanceMode: ac.AllowInMaintenanceMode,
		ConfigJinja:            ac.ConfigJinja,
		Venv:                   DefaultVenv,
	}
	if action.Type == engine.ActionTypeJob {
		action.Script = ac.Script
		action.ScriptType = engine.ScriptType(ac.ScriptType)
	}
	if ac.DisplayName != nil {
		action.DisplayName = *ac.DisplayName
	}
	if ac.Venv != "" {
		action.Venv = ac.Venv
	}
	for _, acl := range ac.HcACL {
		if acl.Service == "" && proto.Type == engine.ObjectTypeService {
			acl.Service = proto.Name
		}
		action.HostComponentMapACL = append(action.HostComponentMapACL, engine.HostComponentACL{
			Action:    acl.Action,
			Service:   acl.Service,
			Component: acl.Component,
		})
	}

	if err := applyStates(action, ac, name); err != nil {
		return nil, err
	}

	if _, err := p.area.Actions.Insert(action); err != nil {
		if errors.Is(err, staging.ErrDuplicate) {
			return nil, engine.Errorf(engine.ErrCodeInvalidActionDefinition,
				"Duplicate action %q of %s", name, proto.Key())
		}
		return nil, engine.NewError(engine.ErrCodeInternal, "can not stage action").Wrap(err)
	}

	if action.Type == engine.ActionTypeTask {
		for _, sub := range ac.Scripts {
			if err := p.saveSubAction(action, sub); err != nil {
				return nil, err
			}
		}
	}

	actionID := action.ID
	if err := p.saveConfig(proto, &ac.Config, &actionID, name); err != nil {
		return nil, err
	}
	return action, nil
}

func applyStates(action *engine.Action, ac *actionDef, name string) error {
	if ac.has("masking") {
		if ac.has("states") {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
				"Action %s uses both mutual excluding states \"states\" and \"masking\"", name)
		}
		m := ac.Masking
		if m == nil {
			m = &maskingDef{}
		}
		if m.State == nil {
			m.State = &availabilityDef{}
		}
		if m.MultiState == nil {
			m.MultiState = &availabilityDef{}
		}
		action.StateAvailable = m.State.Available.value(engine.AnyState)
		action.StateUnavailable = m.State.Unavailable.value(engine.StateSet{})
		action.MultiStateAvailable = m.MultiState.Available.value(engine.AnyState)
		action.MultiStateUnavailable = m.MultiState.Unavailable.value(engine.StateSet{})

		if ac.OnSuccess != nil {
			action.StateOnSuccess = ac.OnSuccess.State
			if ms := ac.OnSuccess.MultiState; ms != nil {
				action.MultiStateOnSuccessSet = ms.Set
				action.MultiStateOnSuccessUnset = ms.Unset
			}
		}
		if ac.OnFail != nil {
			action.StateOnFail = ac.OnFail.State
			if ms := ac.OnFail.MultiState; ms != nil {
				action.MultiStateOnFailSet = ms.Set
				action.MultiStateOnFailUnset = ms.Unset
			}
		}
		return nil
	}

	if ac.has("on_success") || ac.has("on_fail") {
		return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
			"Action %s uses \"on_success/on_fail\" states without \"masking\"", name)
	}
	action.StateAvailable = engine.StateSet{}
	if ac.States != nil {
		action.StateAvailable = ac.States.Available.value(engine.StateSet{})
		action.StateOnSuccess = ac.States.OnSuccess
		action.StateOnFail = ac.States.OnFail
	}
	action.StateUnavailable = engine.StateSet{}
	action.MultiStateAvailable = engine.AnyState
	action.MultiStateUnavailable = engine.StateSet{}
	return nil
}

func (p *Parser) saveSubAction(action *engine.Action, sub *subActionDef) error {
	if sub == nil {
		return nil
	}
	sa := &engine.SubAction{
		ActionID:         action.ID,
		Name:             sub.Name,
		DisplayName:      sub.Name,
		ScriptType:       engine.ScriptType(sub.ScriptType),
		Script:           sub.Script,
		Params:           sub.Params,
		AllowToTerminate: sub.AllowToTerminate,
	}
	if sub.DisplayName != "" {
		sa.DisplayName = sub.DisplayName
	}
	if sub.OnFail != nil {
		sa.StateOnFail = sub.OnFail.State
		if ms := sub.OnFail.MultiState; ms != nil {
			sa.MultiStateOnFailSet = ms.Set
			sa.MultiStateOnFailUnset = ms.Unset
		}
	}
	if _, err := p.area.SubActions.Insert(sa); err != nil {
		return engine.NewError(engine.ErrCodeInternal, "can not stage sub action").Wrap(err)
	}
	return nil
}

var (
	spaceRe = regexp.MustCompile(`\s+`)
	parenRe = regexp.MustCompile(`[()]`)
)

func (p *Parser) saveUpgrades(proto *engine.Prototype, upgrades []*upgradeDef) error {
	for _, u := range upgrades {
		if u == nil {
			continue
		}
		label := fmt.Sprintf("upgrade %q", u.Name)
		if err := checkVersions(proto, &u.Versions, label, false); err != nil {
			return err
		}
		if err := checkUpgradeScripts(proto, u, label); err != nil {
			return err
		}

		up := &engine.Upgrade{
			Name:        u.Name,
			DisplayName: u.Name,
			Description: u.Description,
			FromEdition: []string{DefaultEdition},
		}
		if u.DisplayName != "" {
			up.DisplayName = u.DisplayName
		}
		up.MinVersion, up.MinStrict, up.MaxVersion, up.MaxStrict = u.Versions.bounds()
		if len(u.FromEdition) > 0 {
			up.FromEdition = u.FromEdition
		}
		if states := u.action.States; states != nil {
			up.StateAvailable = states.Available.value(engine.StateSet{})
			up.StateOnSuccess = states.OnSuccess
		}

		if u.action.has("scripts") {
			ac := u.action
			ac.Type = string(engine.ActionTypeTask)
			display := "Upgrade: " + u.Name
			ac.DisplayName = &display
			action, err := p.saveAction(proto, &ac, upgradeActionName(proto, up))
			if err != nil {
				return err
			}
			action.IsUpgrade = true
			id := action.ID
			up.ActionID = &id
		}

		if _, err := p.area.Upgrades.Insert(up); err != nil {
			return engine.NewError(engine.ErrCodeInternal, "can not stage upgrade").Wrap(err)
		}
	}
	return nil
}

// upgradeActionName derives a unique action name from the upgrade bounds.
func upgradeActionName(proto *engine.Prototype, up *engine.Upgrade) string {
	available := "any"
	if !up.StateAvailable.Any {
		available = strings.Join(up.StateAvailable.Items, "_")
	}
	name := fmt.Sprintf("%s_%s_%s_upgrade_%s_%s_strict_%s-%s_strict_%s_editions-%s_state_available-%s_state_on_success-%s",
		proto.Name, proto.Version, proto.Edition, up.Name,
		up.MinVersion, strconv.FormatBool(up.MinStrict),
		up.MaxVersion, strconv.FormatBool(up.MaxStrict),
		strings.Join(up.FromEdition, "_"), available, up.StateOnSuccess)
	name = strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(name, "_")))
	return parenRe.ReplaceAllString(name, "")
}

func checkUpgradeScripts(proto *engine.Prototype, u *upgradeDef, label string) error {
	ref := proto.Key()
	if !u.action.has("scripts") {
		if u.action.has("masking") || u.action.has("on_success") || u.action.has("on_fail") {
			return engine.Errorf(engine.ErrCodeInvalidUpgradeDefinition,
				"%s of %s couldn't contain `masking`, `on_success` or `on_fail` without `scripts` block", label, ref)
		}
		return nil
	}

	count := 0
	for _, sub := range u.action.Scripts {
		if sub == nil || sub.ScriptType != string(engine.ScriptTypeInternal) {
			continue
		}
		count++
		if count > 1 {
			return engine.Errorf(engine.ErrCodeInvalidUpgradeDefinition,
				"Script with script_type \"internal\" must be unique in %s of %s", label, ref)
		}
		if sub.Script != "bundle_switch" {
			return engine.Errorf(engine.ErrCodeInvalidUpgradeDefinition,
				"Script with script_type \"internal\" should be marked as \"bundle_switch\" in %s of %s", label, ref)
		}
	}
	if count == 0 {
		return engine.Errorf(engine.ErrCodeInvalidUpgradeDefinition,
			"Scripts block in %s of %s must contain exact one block with script \"bundle_switch\"", label, ref)
	}
	return nil
}

// checkVersions validates a versions block. Imports may leave both bounds open.
func checkVersions(proto *engine.Prototype, v *versionsDef, label string, isImport bool) error {
	ref := proto.Key()
	fail := func(format string) error {
		return engine.Errorf(engine.ErrCodeInvalidVersionDefinition, format, label, ref)
	}
	if v.keys["min"] && v.keys["min_strict"] {
		return fail("min and min_strict can not be used simultaneously in versions of %s (%s)")
	}
	if !v.keys["min"] && !v.keys["min_strict"] && !isImport {
		return fail("min or min_strict should be present in versions of %s (%s)")
	}
	if v.keys["max"] && v.keys["max_strict"] {
		return fail("max and max_strict can not be used simultaneously in versions of %s (%s)")
	}
	if !v.keys["max"] && !v.keys["max_strict"] && !isImport {
		return fail("max and max_strict should be present in versions of %s (%s)")
	}

	values := map[string]*versionString{"min": v.Min, "min_strict": v.MinStrict, "max": v.Max, "max_strict": v.MaxStrict}
	for _, name := range []string{"min", "min_strict", "max", "max_strict"} {
		if v.keys[name] && (values[name] == nil || *values[name] == "") {
			return engine.Errorf(engine.ErrCodeInvalidVersionDefinition,
				"%s versions of %s should be not null (%s)", name, label, ref)
		}
	}
	return nil
}

func (p *Parser) saveExport(proto *engine.Prototype, node *yaml.Node) error {
	if !isSet(node) {
		return nil
	}
	var keys []string
	if n := yspec.Resolve(node); n.Kind == yaml.ScalarNode {
		keys = []string{n.Value}
	} else if err := n.Decode(&keys); err != nil {
		return decodeError(proto.Key(), err)
	}

	for _, key := range keys {
		if !p.area.Configs.Exists(func(c *engine.PrototypeConfig) bool {
			return c.PrototypeID == proto.ID && c.ActionID == nil && c.Name == key
		}) {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "%s does not has %q config group", proto.Key(), key)
		}
		if _, err := p.area.Exports.Insert(&engine.PrototypeExport{PrototypeID: proto.ID, Name: key}); err != nil {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "Duplicate export %q of %s", key, proto.Key())
		}
	}
	return nil
}

func (p *Parser) saveImport(proto *engine.Prototype, imports map[string]*importDef) error {
	ref := proto.Key()
	for _, name := range sortedKeys(imports) {
		imp := imports[name]
		if imp == nil {
			imp = &importDef{keys: map[string]bool{}}
		}
		if imp.keys["default"] && imp.keys["required"] {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
				"Import can't have default and be required in the same time (%s)", ref)
		}
		if imp.keys["default"] {
			groups := make(map[string]bool)
			for _, c := range p.area.ConfigsOf(proto.ID, nil) {
				if c.Subname != "" {
					groups[c.Name] = true
				}
			}
			for _, key := range imp.Default {
				if !groups[key] {
					return engine.Errorf(engine.ErrCodeInvalidObjectDefinition,
						"No import default group %q in config (%s)", key, ref)
				}
			}
		}

		row := &engine.PrototypeImport{
			PrototypeID: proto.ID,
			Name:        name,
			Default:     imp.Default,
			Required:    imp.Required,
			Multibind:   imp.Multibind,
		}
		if imp.Versions != nil {
			if err := checkVersions(proto, imp.Versions, fmt.Sprintf("import %q", name), true); err != nil {
				return err
			}
			row.MinVersion, row.MinStrict, row.MaxVersion, row.MaxStrict = imp.Versions.bounds()
			if row.MinVersion != "" && row.MaxVersion != "" && version.Compare(row.MinVersion, row.MaxVersion) > 0 {
				return engine.NewError(engine.ErrCodeInvalidVersionDefinition, "Min version should be less or equal max version")
			}
		}
		if _, err := p.area.Imports.Insert(row); err != nil {
			return engine.Errorf(engine.ErrCodeInvalidObjectDefinition, "Duplicate import %q of %s", name, ref)
		}
	}
	return nil
}

// readBundleFile reads a file referenced from a definition. Paths starting
// with "./" are relative to the defining file, others to the bundle root.
func (p *Parser) readBundleFile(proto *engine.Prototype, name, pattern string) ([]byte, error) {
	var path string
	if strings.HasPrefix(name, "./") {
		path = filepath.Join(p.root, proto.Path, name)
	} else {
		path = filepath.Join(p.root, name)
	}
	if rel, err := filepath.Rel(p.root, path); err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, engine.Errorf(engine.ErrCodeConfigType, "%s %q is outside of the bundle (%s)", pattern, name, proto.Key())
	}

	body, err := os.ReadFile(path)
	switch {
	case err == nil:
		return body, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, engine.Errorf(engine.ErrCodeConfigType, "%s %q is not found (%s)", pattern, path, proto.Key())
	default:
		return nil, engine.Errorf(engine.ErrCodeConfigType, "%s %q can not be open (%s)", pattern, path, proto.Key())
	}
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
