package bundle

import (
	"fmt"
	"strings"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
	"github.com/openfroyo/stackmgr/pkg/version"
)

// CheckReferences runs the checks that need the whole staged bundle:
// hc_acl targets, component requires and bound_to, and variant config
// sources.
func CheckReferences(area *staging.Area) error {
	if err := checkHostComponentACL(area); err != nil {
		return err
	}
	if err := checkComponents(area); err != nil {
		return err
	}
	return checkVariantConfigs(area)
}

func findService(area *staging.Area, name string) *engine.Prototype {
	services := area.Prototypes.Filter(func(p *engine.Prototype) bool {
		return p.Type == engine.ObjectTypeService && p.Name == name
	})
	if len(services) == 0 {
		return nil
	}
	return services[0]
}

func findComponent(area *staging.Area, service *engine.Prototype, name string) *engine.Prototype {
	for _, c := range area.ComponentsOf(service.ID) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func checkHostComponentACL(area *staging.Area) error {
	for _, act := range area.Actions.All() {
		if len(act.HostComponentMapACL) == 0 {
			continue
		}
		proto, err := area.Prototype(act.PrototypeID)
		if err != nil {
			return engine.NewError(engine.ErrCodeInternal, "staged action without prototype").Wrap(err)
		}
		ref := fmt.Sprintf("in hc_acl of action %q of %s", act.Name, proto.Key())
		for _, item := range act.HostComponentMapACL {
			service := findService(area, item.Service)
			if service == nil {
				return engine.Errorf(engine.ErrCodeInvalidActionDefinition, "Unknown service %q %s", item.Service, ref)
			}
			if findComponent(area, service, item.Component) == nil {
				return engine.Errorf(engine.ErrCodeInvalidActionDefinition,
					"Unknown component %q of service %q %s", item.Component, service.Name, ref)
			}
		}
	}
	return nil
}

func checkComponents(area *staging.Area) error {
	for _, comp := range area.PrototypesOf(engine.ObjectTypeComponent) {
		parent, err := area.Prototype(*comp.ParentID)
		if err != nil {
			return engine.NewError(engine.ErrCodeInternal, "staged component without service").Wrap(err)
		}
		if err := checkRequires(area, comp, parent); err != nil {
			return err
		}
		if err := checkBoundTo(area, comp, parent); err != nil {
			return err
		}
	}
	return nil
}

// resolveComponent finds the component named by ref, reporting unknown
// targets as constraint errors.
func resolveComponent(area *staging.Area, ref engine.ComponentRef, where string) (*engine.Prototype, error) {
	service := findService(area, ref.Service)
	if service == nil {
		return nil, engine.Errorf(engine.ErrCodeComponentConstraint, "Unknown service %q %s", ref.Service, where)
	}
	comp := findComponent(area, service, ref.Component)
	if comp == nil {
		return nil, engine.Errorf(engine.ErrCodeComponentConstraint,
			"Unknown component %q of service %q %s", ref.Component, ref.Service, where)
	}
	return comp, nil
}

func checkRequires(area *staging.Area, comp, parent *engine.Prototype) error {
	if len(comp.Requires) == 0 {
		return nil
	}
	where := fmt.Sprintf("in requires of component %q of %s", comp.Name, parent.Key())
	requires := make([]engine.ComponentRef, 0, len(comp.Requires))
	for _, item := range comp.Requires {
		if item.Service == "" {
			item.Service = parent.Name
		}
		target, err := resolveComponent(area, item, where)
		if err != nil {
			return err
		}
		if target == comp {
			return engine.Errorf(engine.ErrCodeComponentConstraint,
				"Component can not require themself %s", where)
		}
		requires = append(requires, item)
	}
	comp.Requires = requires
	return nil
}

func checkBoundTo(area *staging.Area, comp, parent *engine.Prototype) error {
	if comp.BoundTo == nil {
		return nil
	}
	where := fmt.Sprintf("in \"bound_to\" of component %q of %s", comp.Name, parent.Key())
	target, err := resolveComponent(area, *comp.BoundTo, where)
	if err != nil {
		return err
	}
	if target == comp {
		return engine.Errorf(engine.ErrCodeComponentConstraint, "Component can not require themself %s", where)
	}
	return nil
}

func checkVariantConfigs(area *staging.Area) error {
	variants := area.Configs.Filter(func(c *engine.PrototypeConfig) bool { return c.Type == "variant" })
	for _, conf := range variants {
		proto, err := area.Prototype(conf.PrototypeID)
		if err != nil {
			return engine.NewError(engine.ErrCodeInternal, "staged config without prototype").Wrap(err)
		}
		key := conf.Name + "/" + conf.Subname
		source, _ := conf.Limits["source"].(map[string]interface{})
		srcType, _ := source["type"].(string)
		srcName, _ := source["name"].(string)

		switch srcType {
		case "config", "list":
			if err := checkConfigSource(area, proto, conf, srcName); err != nil {
				return err
			}
		case "builtin":
			if source["args"] == nil {
				continue
			}
			where := fmt.Sprintf("in source:args of %s config %q", proto.Key(), key)
			if srcName == "host" {
				if err := checkHostPredicates(area, source["args"], where); err != nil {
					return err
				}
			}
			if err := checkSourceArgs(area, source["args"], where); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkConfigSource(area *staging.Area, proto *engine.Prototype, conf *engine.PrototypeConfig, srcName string) error {
	name, subname, _ := strings.Cut(srcName, "/")
	ref := fmt.Sprintf("%s config %q", proto.Key(), conf.Name+"/"+conf.Subname)
	target, err := area.Configs.One(func(c *engine.PrototypeConfig) bool {
		return c.PrototypeID == proto.ID && c.ActionID == nil && c.Name == name && c.Subname == subname
	})
	if err != nil {
		return engine.Errorf(engine.ErrCodeInvalidConfigDefinition, "Unknown config source name %q for %s", srcName, ref)
	}
	if target == conf {
		return engine.Errorf(engine.ErrCodeInvalidConfigDefinition,
			"Config parameter %q can not refer to itself (%s)", conf.Name+"/"+conf.Subname, proto.Key())
	}
	return nil
}

// checkHostPredicates walks the and/or tree of a builtin host source.
func checkHostPredicates(area *staging.Area, args interface{}, where string) error {
	switch v := args.(type) {
	case map[string]interface{}:
		pred, ok := v["predicate"].(string)
		if !ok {
			return nil
		}
		if err := checkPredicate(area, pred, v["args"], where); err != nil {
			return err
		}
		return checkHostPredicates(area, v["args"], where)
	case []interface{}:
		for _, item := range v {
			m, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			pred, _ := m["predicate"].(string)
			if err := checkPredicate(area, pred, m["args"], where); err != nil {
				return err
			}
			if err := checkHostPredicates(area, m["args"], where); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkPredicate(area *staging.Area, predicate string, args interface{}, where string) error {
	if predicate != "in_service" && predicate != "in_component" {
		return nil
	}
	m, _ := args.(map[string]interface{})
	serviceName, _ := m["service"].(string)
	service := findService(area, serviceName)
	if service == nil {
		return engine.Errorf(engine.ErrCodeInvalidConfigDefinition, "Unknown service %q %s", serviceName, where)
	}
	if predicate == "in_component" {
		compName, _ := m["component"].(string)
		if findComponent(area, service, compName) == nil {
			return engine.Errorf(engine.ErrCodeInvalidConfigDefinition,
				"Unknown component %q of service %q %s", compName, serviceName, where)
		}
	}
	return nil
}

func checkSourceArgs(area *staging.Area, args interface{}, where string) error {
	m, ok := args.(map[string]interface{})
	if !ok {
		return nil
	}
	var service *engine.Prototype
	if raw, ok := m["service"]; ok {
		name := fmt.Sprint(raw)
		if service = findService(area, name); service == nil {
			return engine.Errorf(engine.ErrCodeInvalidConfigDefinition, "Service %q %s does not exists", name, where)
		}
	}
	if raw, ok := m["component"]; ok {
		name := fmt.Sprint(raw)
		if service == nil || findComponent(area, service, name) == nil {
			return engine.Errorf(engine.ErrCodeInvalidConfigDefinition, "Component %q %s does not exists", name, where)
		}
	}
	return nil
}

// StageBundle checks the shape of the staged bundle and returns the
// prototype that names it: its single cluster or single provider.
func StageBundle(area *staging.Area, bundleFile, serverVersion string) (*engine.Prototype, error) {
	clusters := area.PrototypesOf(engine.ObjectTypeCluster)
	providers := area.PrototypesOf(engine.ObjectTypeProvider)
	hosts := area.PrototypesOf(engine.ObjectTypeHost)
	services := area.PrototypesOf(engine.ObjectTypeService)

	var bundle *engine.Prototype
	switch {
	case len(clusters) > 0:
		if len(clusters) > 1 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There are more than one (%d) cluster definition in bundle %q", len(clusters), bundleFile)
		}
		if len(providers) > 0 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There are %d host provider definition in cluster type bundle %q", len(providers), bundleFile)
		}
		if len(hosts) > 0 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There are %d host definition in cluster type bundle %q", len(hosts), bundleFile)
		}
		seen := make(map[string]bool, len(services))
		for _, s := range services {
			if seen[s.Name] {
				return nil, engine.Errorf(engine.ErrCodeBundle, "There are more than one service with name %s", s.Name)
			}
			seen[s.Name] = true
		}
		bundle = clusters[0]
	case len(providers) > 0:
		if len(providers) > 1 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There are more than one (%d) host provider definition in bundle %q", len(providers), bundleFile)
		}
		if len(services) > 0 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There are %d service definition in host provider type bundle %q", len(services), bundleFile)
		}
		if len(hosts) == 0 {
			return nil, engine.Errorf(engine.ErrCodeBundle,
				"There isn't any host definition in host provider type bundle %q", bundleFile)
		}
		bundle = providers[0]
	default:
		return nil, engine.Errorf(engine.ErrCodeBundle,
			"There isn't any cluster or host provider definition in bundle %q", bundleFile)
	}

	if err := checkServerVersion(bundle, serverVersion); err != nil {
		return nil, err
	}
	return bundle, nil
}

func checkServerVersion(bundle *engine.Prototype, serverVersion string) error {
	if bundle.AdcmMinVersion == "" || serverVersion == "" {
		return nil
	}
	if version.Compare(bundle.AdcmMinVersion, serverVersion) > 0 {
		return engine.Errorf(engine.ErrCodeBundleVersion,
			"This bundle required ADCM version equal to %s or newer.", bundle.AdcmMinVersion)
	}
	return nil
}
