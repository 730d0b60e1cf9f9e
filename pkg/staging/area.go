// Package staging holds the tables of one in-flight bundle compile.
package staging

import (
	"fmt"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

// Area is the set of staged definition tables.
type Area struct {
	Prototypes *Table[engine.Prototype]
	Actions    *Table[engine.Action]
	SubActions *Table[engine.SubAction]
	Configs    *Table[engine.PrototypeConfig]
	Upgrades   *Table[engine.Upgrade]
	Exports    *Table[engine.PrototypeExport]
	Imports    *Table[engine.PrototypeImport]
}

// NewArea creates empty staging tables.
func NewArea() *Area {
	return &Area{
		Prototypes: NewTable("prototype",
			func(p *engine.Prototype) int64 { return p.ID },
			func(p *engine.Prototype, id int64) { p.ID = id },
			func(p *engine.Prototype) string {
				return fmt.Sprintf("%s/%s/%s/%d", p.Type, p.Name, p.Version, parentOf(p.ParentID))
			}),
		Actions: NewTable("action",
			func(a *engine.Action) int64 { return a.ID },
			func(a *engine.Action, id int64) { a.ID = id },
			func(a *engine.Action) string { return fmt.Sprintf("%d/%s", a.PrototypeID, a.Name) }),
		SubActions: NewTable("sub_action",
			func(s *engine.SubAction) int64 { return s.ID },
			func(s *engine.SubAction, id int64) { s.ID = id },
			nil),
		Configs: NewTable("prototype_config",
			func(c *engine.PrototypeConfig) int64 { return c.ID },
			func(c *engine.PrototypeConfig, id int64) { c.ID = id },
			func(c *engine.PrototypeConfig) string {
				return fmt.Sprintf("%d/%d/%s/%s", c.PrototypeID, parentOf(c.ActionID), c.Name, c.Subname)
			}),
		Upgrades: NewTable("upgrade",
			func(u *engine.Upgrade) int64 { return u.ID },
			func(u *engine.Upgrade, id int64) { u.ID = id },
			nil),
		Exports: NewTable("prototype_export",
			func(e *engine.PrototypeExport) int64 { return e.ID },
			func(e *engine.PrototypeExport, id int64) { e.ID = id },
			func(e *engine.PrototypeExport) string { return fmt.Sprintf("%d/%s", e.PrototypeID, e.Name) }),
		Imports: NewTable("prototype_import",
			func(i *engine.PrototypeImport) int64 { return i.ID },
			func(i *engine.PrototypeImport, id int64) { i.ID = id },
			func(i *engine.PrototypeImport) string { return fmt.Sprintf("%d/%s", i.PrototypeID, i.Name) }),
	}
}

func parentOf(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

// IsEmpty reports whether every table is empty.
func (a *Area) IsEmpty() bool {
	return a.Prototypes.Count(nil) == 0 &&
		a.Actions.Count(nil) == 0 &&
		a.SubActions.Count(nil) == 0 &&
		a.Configs.Count(nil) == 0 &&
		a.Upgrades.Count(nil) == 0 &&
		a.Exports.Count(nil) == 0 &&
		a.Imports.Count(nil) == 0
}

// Clear truncates every table.
func (a *Area) Clear() {
	a.Prototypes.Clear()
	a.Actions.Clear()
	a.SubActions.Clear()
	a.Configs.Clear()
	a.Upgrades.Clear()
	a.Exports.Clear()
	a.Imports.Clear()
}

// Prototype returns the staged prototype with the given ID.
func (a *Area) Prototype(id int64) (*engine.Prototype, error) {
	return a.Prototypes.Get(id)
}

// PrototypesOf returns staged prototypes of a type.
func (a *Area) PrototypesOf(t engine.ObjectType) []*engine.Prototype {
	return a.Prototypes.Filter(func(p *engine.Prototype) bool { return p.Type == t })
}

// ComponentsOf returns the staged components of a service prototype.
func (a *Area) ComponentsOf(serviceID int64) []*engine.Prototype {
	return a.Prototypes.Filter(func(p *engine.Prototype) bool {
		return p.Type == engine.ObjectTypeComponent && p.ParentID != nil && *p.ParentID == serviceID
	})
}

// ActionsOf returns the staged actions of a prototype.
func (a *Area) ActionsOf(protoID int64) []*engine.Action {
	return a.Actions.Filter(func(ac *engine.Action) bool { return ac.PrototypeID == protoID })
}

// ConfigsOf returns staged config entries of a prototype, or of one of its
// actions when actionID is set.
func (a *Area) ConfigsOf(protoID int64, actionID *int64) []*engine.PrototypeConfig {
	return a.Configs.Filter(func(c *engine.PrototypeConfig) bool {
		return c.PrototypeID == protoID && parentOf(c.ActionID) == parentOf(actionID)
	})
}
