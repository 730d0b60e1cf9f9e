package bundle

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
)

// committer copies staged rows into the catalog, remembering which catalog
// ID each staged prototype and action received.
type committer struct {
	ctx      context.Context
	tx       engine.CatalogTx
	area     *staging.Area
	bundleID int64
	protos   map[int64]int64
	actions  map[int64]int64
}

func newCommitter(ctx context.Context, tx engine.CatalogTx, area *staging.Area, bundleID int64) *committer {
	return &committer{
		ctx:      ctx,
		tx:       tx,
		area:     area,
		bundleID: bundleID,
		protos:   make(map[int64]int64),
		actions:  make(map[int64]int64),
	}
}

// licenseState is accepted when the same license text was already accepted
// for another catalog prototype.
func licenseState(ctx context.Context, r engine.CatalogReader, p *engine.Prototype) (engine.LicenseState, error) {
	if p.LicenseHash == "" {
		return engine.LicenseAbsent, nil
	}
	others, err := r.ListPrototypes(ctx, engine.PrototypeFilter{LicenseHash: p.LicenseHash})
	if err != nil {
		return "", err
	}
	for _, o := range others {
		if o.License == engine.LicenseAccepted {
			return engine.LicenseAccepted, nil
		}
	}
	return engine.LicenseUnaccepted, nil
}

// copyStage creates a bundle row from the staged bundle prototype and
// copies every staged definition under it.
func copyStage(ctx context.Context, tx engine.CatalogTx, area *staging.Area, hash string, bundleProto *engine.Prototype) (*engine.Bundle, error) {
	b := &engine.Bundle{
		Hash:        hash,
		Name:        bundleProto.Name,
		Version:     bundleProto.Version,
		Edition:     bundleProto.Edition,
		Description: bundleProto.Description,
	}
	if err := tx.CreateBundle(ctx, b); err != nil {
		return nil, err
	}

	c := newCommitter(ctx, tx, area, b.ID)
	for _, p := range area.Prototypes.All() {
		if p.Type == engine.ObjectTypeComponent {
			continue
		}
		if err := c.copyPrototype(p, nil); err != nil {
			return nil, err
		}
	}
	for _, p := range area.PrototypesOf(engine.ObjectTypeComponent) {
		parent := c.protos[*p.ParentID]
		if err := c.copyPrototype(p, &parent); err != nil {
			return nil, err
		}
	}
	if err := c.copyExportsAndImports(); err != nil {
		return nil, err
	}
	if err := c.copySubActions(); err != nil {
		return nil, err
	}
	if err := c.copyUpgrades(); err != nil {
		return nil, err
	}
	return b, nil
}

func (c *committer) copyPrototype(staged *engine.Prototype, parentID *int64) error {
	p := *staged
	p.ID = 0
	p.BundleID = c.bundleID
	p.ParentID = parentID

	license, err := licenseState(c.ctx, c.tx, staged)
	if err != nil {
		return err
	}
	p.License = license

	if err := c.tx.CreatePrototype(c.ctx, &p); err != nil {
		return fmt.Errorf("failed to commit %s: %w", staged.Key(), err)
	}
	c.protos[staged.ID] = p.ID

	for _, sa := range c.area.ActionsOf(staged.ID) {
		a := *sa
		a.ID = 0
		a.PrototypeID = p.ID
		if err := c.tx.CreateAction(c.ctx, &a); err != nil {
			return fmt.Errorf("failed to commit action %q of %s: %w", sa.Name, staged.Key(), err)
		}
		c.actions[sa.ID] = a.ID
	}
	return c.upsertConfigs(staged, p.ID, false)
}

// upsertConfigs writes the staged config keys of a prototype and its
// actions. Existing keys keep their IDs when update is set.
func (c *committer) upsertConfigs(staged *engine.Prototype, protoID int64, update bool) error {
	existing := make(map[string]*engine.PrototypeConfig)
	listed := make(map[int64]bool)
	key := func(actionID *int64, name, subname string) string {
		var id int64
		if actionID != nil {
			id = *actionID
		}
		return fmt.Sprintf("%d/%s/%s", id, name, subname)
	}

	for _, sc := range c.area.Configs.Filter(func(pc *engine.PrototypeConfig) bool { return pc.PrototypeID == staged.ID }) {
		conf := *sc
		conf.ID = 0
		conf.PrototypeID = protoID
		if sc.ActionID != nil {
			id := c.actions[*sc.ActionID]
			conf.ActionID = &id
		}

		if update {
			var actionKey int64
			if conf.ActionID != nil {
				actionKey = *conf.ActionID
			}
			if !listed[actionKey] {
				confs, err := c.tx.ListConfigs(c.ctx, protoID, conf.ActionID)
				if err != nil {
					return err
				}
				for _, e := range confs {
					existing[key(e.ActionID, e.Name, e.Subname)] = e
				}
				listed[actionKey] = true
			}
			if e, ok := existing[key(conf.ActionID, conf.Name, conf.Subname)]; ok {
				conf.ID = e.ID
				if err := c.tx.UpdateConfig(c.ctx, &conf); err != nil {
					return fmt.Errorf("failed to update config %q of %s: %w", conf.Name+"/"+conf.Subname, staged.Key(), err)
				}
				continue
			}
		}

		if err := c.tx.CreateConfig(c.ctx, &conf); err != nil {
			return fmt.Errorf("failed to commit config %q of %s: %w", conf.Name+"/"+conf.Subname, staged.Key(), err)
		}
	}
	return nil
}

func (c *committer) copyExportsAndImports() error {
	for _, se := range c.area.Exports.All() {
		e := *se
		e.ID = 0
		e.PrototypeID = c.protos[se.PrototypeID]
		if err := c.tx.CreateExport(c.ctx, &e); err != nil {
			return err
		}
	}
	for _, si := range c.area.Imports.All() {
		i := *si
		i.ID = 0
		i.PrototypeID = c.protos[si.PrototypeID]
		if err := c.tx.CreateImport(c.ctx, &i); err != nil {
			return err
		}
	}
	return nil
}

func (c *committer) copySubActions() error {
	for _, ss := range c.area.SubActions.All() {
		s := *ss
		s.ID = 0
		s.ActionID = c.actions[ss.ActionID]
		if err := c.tx.CreateSubAction(c.ctx, &s); err != nil {
			return fmt.Errorf("failed to commit sub action %q: %w", ss.Name, err)
		}
	}
	return nil
}

func (c *committer) copyUpgrades() error {
	for _, su := range c.area.Upgrades.All() {
		u := *su
		u.ID = 0
		u.BundleID = c.bundleID
		if su.ActionID != nil {
			id := c.actions[*su.ActionID]
			u.ActionID = &id
		}
		if err := c.tx.CreateUpgrade(c.ctx, &u); err != nil {
			return fmt.Errorf("failed to commit upgrade %q: %w", su.Name, err)
		}
	}
	return nil
}

// updateFromStage refreshes the definitions of an installed bundle in place.
// Prototypes, actions and configs keep their catalog IDs; sub-actions,
// exports, imports and upgrades are recreated.
func updateFromStage(ctx context.Context, tx engine.CatalogTx, area *staging.Area, b *engine.Bundle, bundleProto *engine.Prototype) error {
	if bundleProto != nil {
		b.Description = bundleProto.Description
		if err := tx.UpdateBundle(ctx, b); err != nil {
			return err
		}
	}

	c := newCommitter(ctx, tx, area, b.ID)
	for _, p := range area.Prototypes.All() {
		if p.Type == engine.ObjectTypeComponent {
			continue
		}
		if err := c.upsertPrototype(p, nil); err != nil {
			return err
		}
	}
	for _, p := range area.PrototypesOf(engine.ObjectTypeComponent) {
		parent := c.protos[*p.ParentID]
		if err := c.upsertPrototype(p, &parent); err != nil {
			return err
		}
	}

	for _, id := range c.protos {
		if err := tx.DeleteExports(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteImports(ctx, id); err != nil {
			return err
		}
	}
	if err := c.copyExportsAndImports(); err != nil {
		return err
	}
	if err := c.copySubActions(); err != nil {
		return err
	}
	if err := tx.DeleteUpgrades(ctx, b.ID); err != nil {
		return err
	}
	return c.copyUpgrades()
}

func (c *committer) upsertPrototype(staged *engine.Prototype, parentID *int64) error {
	found, err := c.tx.ListPrototypes(c.ctx, engine.PrototypeFilter{
		BundleID: c.bundleID,
		Type:     staged.Type,
		Name:     staged.Name,
		Version:  staged.Version,
		ParentID: parentID,
	})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return c.copyPrototype(staged, parentID)
	}
	current := found[0]

	p := *staged
	p.ID = current.ID
	p.BundleID = c.bundleID
	p.ParentID = parentID
	p.VersionOrder = current.VersionOrder
	if p.LicenseHash == current.LicenseHash {
		p.License = current.License
	} else if p.License, err = licenseState(c.ctx, c.tx, staged); err != nil {
		return err
	}
	if err := c.tx.UpdatePrototype(c.ctx, &p); err != nil {
		return fmt.Errorf("failed to update %s: %w", staged.Key(), err)
	}
	c.protos[staged.ID] = p.ID

	for _, sa := range c.area.ActionsOf(staged.ID) {
		a := *sa
		a.PrototypeID = p.ID
		existing, err := c.tx.FindAction(c.ctx, p.ID, sa.Name)
		switch {
		case errors.Is(err, engine.ErrNotFound):
			a.ID = 0
			if err := c.tx.CreateAction(c.ctx, &a); err != nil {
				return fmt.Errorf("failed to commit action %q of %s: %w", sa.Name, staged.Key(), err)
			}
		case err != nil:
			return err
		default:
			a.ID = existing.ID
			if err := c.tx.UpdateAction(c.ctx, &a); err != nil {
				return fmt.Errorf("failed to update action %q of %s: %w", sa.Name, staged.Key(), err)
			}
			if err := c.tx.DeleteSubActions(c.ctx, a.ID); err != nil {
				return err
			}
		}
		c.actions[sa.ID] = a.ID
	}
	return c.upsertConfigs(staged, p.ID, true)
}
