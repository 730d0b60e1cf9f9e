package stores

import (
	"context"
	"strings"
	"time"

	"github.com/openfroyo/stackmgr/pkg/engine"
)

const bundleColumns = `id, hash, name, version, edition, description, version_order, date`

func scanBundle(row rowScanner) (*engine.Bundle, error) {
	b := &engine.Bundle{}
	err := row.Scan(
		&b.ID,
		&b.Hash,
		&b.Name,
		&b.Version,
		&b.Edition,
		&b.Description,
		&b.VersionOrder,
		&b.Date,
	)
	return b, err
}

// CreateBundle inserts a bundle. A taken (name, version, edition) yields
// engine.ErrAlreadyExists.
func (s *queries) CreateBundle(ctx context.Context, b *engine.Bundle) error {
	if b.Date.IsZero() {
		b.Date = time.Now().UTC()
	}

	id, err := s.insert(ctx, "bundle", `
		INSERT INTO bundles (hash, name, version, edition, description, version_order, date)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.Hash, b.Name, b.Version, b.Edition, b.Description, b.VersionOrder, b.Date)
	if err != nil {
		return err
	}

	b.ID = id
	return nil
}

// UpdateBundle rewrites the descriptive fields of a bundle.
func (s *queries) UpdateBundle(ctx context.Context, b *engine.Bundle) error {
	return s.exec(ctx, "bundle", b.ID, `
		UPDATE bundles SET hash = ?, name = ?, version = ?, edition = ?, description = ?
		WHERE id = ?
	`, b.Hash, b.Name, b.Version, b.Edition, b.Description, b.ID)
}

// DeleteBundle removes a bundle and, through cascades, its prototypes.
func (s *queries) DeleteBundle(ctx context.Context, id int64) error {
	return s.exec(ctx, "bundle", id, `DELETE FROM bundles WHERE id = ?`, id)
}

// SetBundleVersionOrder stores the rank of a bundle version.
func (s *queries) SetBundleVersionOrder(ctx context.Context, id int64, order int) error {
	return s.exec(ctx, "bundle", id, `UPDATE bundles SET version_order = ? WHERE id = ?`, order, id)
}

// GetBundle retrieves a bundle by ID
func (s *queries) GetBundle(ctx context.Context, id int64) (*engine.Bundle, error) {
	b, err := scanBundle(s.q.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "bundle", id)
	}
	return b, nil
}

// FindBundle retrieves a bundle by its unique identity.
func (s *queries) FindBundle(ctx context.Context, name, version, edition string) (*engine.Bundle, error) {
	b, err := scanBundle(s.q.QueryRowContext(ctx, `
		SELECT `+bundleColumns+` FROM bundles
		WHERE name = ? AND version = ? AND edition = ?
	`, name, version, edition))
	if err != nil {
		return nil, notFound(err, "bundle", name+" "+version+" "+edition)
	}
	return b, nil
}

// FindBundleByHash returns the first bundle stored under hash.
func (s *queries) FindBundleByHash(ctx context.Context, hash string) (*engine.Bundle, error) {
	b, err := scanBundle(s.q.QueryRowContext(ctx, `
		SELECT `+bundleColumns+` FROM bundles WHERE hash = ? ORDER BY id LIMIT 1
	`, hash))
	if err != nil {
		return nil, notFound(err, "bundle", hash)
	}
	return b, nil
}

// ListBundles lists every bundle by ID.
func (s *queries) ListBundles(ctx context.Context) ([]*engine.Bundle, error) {
	return queryAll(ctx, s.q, "bundles", scanBundle, `SELECT `+bundleColumns+` FROM bundles ORDER BY id`)
}

const prototypeColumns = `id, bundle_id, type, parent_id, path, name, display_name, version,
	version_order, description, edition, license, license_path, license_hash, required, shared,
	constraint_spec, requires, bound_to, adcm_min_version, config_group_customization,
	allow_maintenance_mode, venv`

func scanPrototype(row rowScanner) (*engine.Prototype, error) {
	p := &engine.Prototype{}
	err := row.Scan(
		&p.ID,
		&p.BundleID,
		&p.Type,
		&p.ParentID,
		&p.Path,
		&p.Name,
		&p.DisplayName,
		&p.Version,
		&p.VersionOrder,
		&p.Description,
		&p.Edition,
		&p.License,
		&p.LicensePath,
		&p.LicenseHash,
		&p.Required,
		&p.Shared,
		asJSON(&p.Constraint),
		asJSON(&p.Requires),
		asJSON(&p.BoundTo),
		&p.AdcmMinVersion,
		&p.ConfigGroupCustomization,
		&p.AllowMaintenanceMode,
		&p.VenvName,
	)
	return p, err
}

// CreatePrototype inserts a prototype.
func (s *queries) CreatePrototype(ctx context.Context, p *engine.Prototype) error {
	id, err := s.insert(ctx, "prototype", `
		INSERT INTO prototypes (
			bundle_id, type, parent_id, path, name, display_name, version, version_order,
			description, edition, license, license_path, license_hash, required, shared,
			constraint_spec, requires, bound_to, adcm_min_version, config_group_customization,
			allow_maintenance_mode, venv
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.BundleID,
		p.Type,
		p.ParentID,
		p.Path,
		p.Name,
		p.DisplayName,
		p.Version,
		p.VersionOrder,
		p.Description,
		p.Edition,
		p.License,
		p.LicensePath,
		p.LicenseHash,
		p.Required,
		p.Shared,
		asJSON(p.Constraint),
		asJSON(p.Requires),
		asJSON(p.BoundTo),
		p.AdcmMinVersion,
		p.ConfigGroupCustomization,
		p.AllowMaintenanceMode,
		p.VenvName,
	)
	if err != nil {
		return err
	}

	p.ID = id
	return nil
}

// UpdatePrototype rewrites every column except identity and version order.
func (s *queries) UpdatePrototype(ctx context.Context, p *engine.Prototype) error {
	return s.exec(ctx, "prototype", p.ID, `
		UPDATE prototypes SET
			path = ?, display_name = ?, version = ?, description = ?, edition = ?,
			license = ?, license_path = ?, license_hash = ?, required = ?, shared = ?,
			constraint_spec = ?, requires = ?, bound_to = ?, adcm_min_version = ?,
			config_group_customization = ?, allow_maintenance_mode = ?, venv = ?
		WHERE id = ?
	`,
		p.Path,
		p.DisplayName,
		p.Version,
		p.Description,
		p.Edition,
		p.License,
		p.LicensePath,
		p.LicenseHash,
		p.Required,
		p.Shared,
		asJSON(p.Constraint),
		asJSON(p.Requires),
		asJSON(p.BoundTo),
		p.AdcmMinVersion,
		p.ConfigGroupCustomization,
		p.AllowMaintenanceMode,
		p.VenvName,
		p.ID,
	)
}

// SetPrototypeVersionOrder stores the rank of a prototype version.
func (s *queries) SetPrototypeVersionOrder(ctx context.Context, id int64, order int) error {
	return s.exec(ctx, "prototype", id, `UPDATE prototypes SET version_order = ? WHERE id = ?`, order, id)
}

// GetPrototype retrieves a prototype by ID
func (s *queries) GetPrototype(ctx context.Context, id int64) (*engine.Prototype, error) {
	p, err := scanPrototype(s.q.QueryRowContext(ctx, `SELECT `+prototypeColumns+` FROM prototypes WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "prototype", id)
	}
	return p, nil
}

// ListPrototypes lists prototypes matching filter, ordered by ID.
func (s *queries) ListPrototypes(ctx context.Context, filter engine.PrototypeFilter) ([]*engine.Prototype, error) {
	var where []string
	var args []interface{}
	if filter.BundleID != 0 {
		where = append(where, "bundle_id = ?")
		args = append(args, filter.BundleID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}
	if filter.Version != "" {
		where = append(where, "version = ?")
		args = append(args, filter.Version)
	}
	if filter.ParentID != nil {
		where = append(where, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	if filter.LicenseHash != "" {
		where = append(where, "license_hash = ?")
		args = append(args, filter.LicenseHash)
	}

	query := `SELECT ` + prototypeColumns + ` FROM prototypes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	return queryAll(ctx, s.q, "prototypes", scanPrototype, query, args...)
}

const actionColumns = `id, prototype_id, name, display_name, description, type, script_type, script,
	state_available, state_unavailable, state_on_success, state_on_fail,
	multi_state_available, multi_state_unavailable,
	multi_state_on_success_set, multi_state_on_success_unset,
	multi_state_on_fail_set, multi_state_on_fail_unset,
	params, ui_options, log_files, host_action, allow_to_terminate, partial_execution,
	allow_in_maintenance_mode, hc_acl, config_jinja, venv, is_upgrade`

func scanAction(row rowScanner) (*engine.Action, error) {
	a := &engine.Action{}
	err := row.Scan(
		&a.ID,
		&a.PrototypeID,
		&a.Name,
		&a.DisplayName,
		&a.Description,
		&a.Type,
		&a.ScriptType,
		&a.Script,
		asJSON(&a.StateAvailable),
		asJSON(&a.StateUnavailable),
		&a.StateOnSuccess,
		&a.StateOnFail,
		asJSON(&a.MultiStateAvailable),
		asJSON(&a.MultiStateUnavailable),
		asJSON(&a.MultiStateOnSuccessSet),
		asJSON(&a.MultiStateOnSuccessUnset),
		asJSON(&a.MultiStateOnFailSet),
		asJSON(&a.MultiStateOnFailUnset),
		asJSON(&a.Params),
		asJSON(&a.UIOptions),
		asJSON(&a.LogFiles),
		&a.HostAction,
		&a.AllowToTerminate,
		&a.PartialExecution,
		&a.AllowInMaintenanceMode,
		asJSON(&a.HostComponentMapACL),
		&a.ConfigJinja,
		&a.Venv,
		&a.IsUpgrade,
	)
	return a, err
}

func actionArgs(a *engine.Action) []interface{} {
	return []interface{}{
		a.DisplayName,
		a.Description,
		a.Type,
		a.ScriptType,
		a.Script,
		asJSON(a.StateAvailable),
		asJSON(a.StateUnavailable),
		a.StateOnSuccess,
		a.StateOnFail,
		asJSON(a.MultiStateAvailable),
		asJSON(a.MultiStateUnavailable),
		asJSON(a.MultiStateOnSuccessSet),
		asJSON(a.MultiStateOnSuccessUnset),
		asJSON(a.MultiStateOnFailSet),
		asJSON(a.MultiStateOnFailUnset),
		asJSON(a.Params),
		asJSON(a.UIOptions),
		asJSON(a.LogFiles),
		a.HostAction,
		a.AllowToTerminate,
		a.PartialExecution,
		a.AllowInMaintenanceMode,
		asJSON(a.HostComponentMapACL),
		a.ConfigJinja,
		a.Venv,
		a.IsUpgrade,
	}
}

// CreateAction inserts an action.
func (s *queries) CreateAction(ctx context.Context, a *engine.Action) error {
	args := append([]interface{}{a.PrototypeID, a.Name}, actionArgs(a)...)
	id, err := s.insert(ctx, "action", `
		INSERT INTO actions (
			prototype_id, name, display_name, description, type, script_type, script,
			state_available, state_unavailable, state_on_success, state_on_fail,
			multi_state_available, multi_state_unavailable,
			multi_state_on_success_set, multi_state_on_success_unset,
			multi_state_on_fail_set, multi_state_on_fail_unset,
			params, ui_options, log_files, host_action, allow_to_terminate, partial_execution,
			allow_in_maintenance_mode, hc_acl, config_jinja, venv, is_upgrade
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, args...)
	if err != nil {
		return err
	}

	a.ID = id
	return nil
}

// UpdateAction rewrites every column except the prototype and name.
func (s *queries) UpdateAction(ctx context.Context, a *engine.Action) error {
	args := append(actionArgs(a), a.ID)
	return s.exec(ctx, "action", a.ID, `
		UPDATE actions SET
			display_name = ?, description = ?, type = ?, script_type = ?, script = ?,
			state_available = ?, state_unavailable = ?, state_on_success = ?, state_on_fail = ?,
			multi_state_available = ?, multi_state_unavailable = ?,
			multi_state_on_success_set = ?, multi_state_on_success_unset = ?,
			multi_state_on_fail_set = ?, multi_state_on_fail_unset = ?,
			params = ?, ui_options = ?, log_files = ?, host_action = ?, allow_to_terminate = ?,
			partial_execution = ?, allow_in_maintenance_mode = ?, hc_acl = ?, config_jinja = ?,
			venv = ?, is_upgrade = ?
		WHERE id = ?
	`, args...)
}

// GetAction retrieves an action by ID
func (s *queries) GetAction(ctx context.Context, id int64) (*engine.Action, error) {
	a, err := scanAction(s.q.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "action", id)
	}
	return a, nil
}

// FindAction retrieves an action of a prototype by name.
func (s *queries) FindAction(ctx context.Context, prototypeID int64, name string) (*engine.Action, error) {
	a, err := scanAction(s.q.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM actions WHERE prototype_id = ? AND name = ?
	`, prototypeID, name))
	if err != nil {
		return nil, notFound(err, "action", name)
	}
	return a, nil
}

// ListActions lists the actions of a prototype.
func (s *queries) ListActions(ctx context.Context, prototypeID int64) ([]*engine.Action, error) {
	return queryAll(ctx, s.q, "actions", scanAction, `SELECT `+actionColumns+` FROM actions WHERE prototype_id = ? ORDER BY id`, prototypeID)
}

const subActionColumns = `id, action_id, name, display_name, script_type, script, state_on_fail,
	multi_state_on_fail_set, multi_state_on_fail_unset, params, allow_to_terminate`

func scanSubAction(row rowScanner) (*engine.SubAction, error) {
	sa := &engine.SubAction{}
	err := row.Scan(
		&sa.ID,
		&sa.ActionID,
		&sa.Name,
		&sa.DisplayName,
		&sa.ScriptType,
		&sa.Script,
		&sa.StateOnFail,
		asJSON(&sa.MultiStateOnFailSet),
		asJSON(&sa.MultiStateOnFailUnset),
		asJSON(&sa.Params),
		&sa.AllowToTerminate,
	)
	return sa, err
}

// CreateSubAction inserts a sub-action.
func (s *queries) CreateSubAction(ctx context.Context, sa *engine.SubAction) error {
	id, err := s.insert(ctx, "sub action", `
		INSERT INTO sub_actions (
			action_id, name, display_name, script_type, script, state_on_fail,
			multi_state_on_fail_set, multi_state_on_fail_unset, params, allow_to_terminate
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sa.ActionID,
		sa.Name,
		sa.DisplayName,
		sa.ScriptType,
		sa.Script,
		sa.StateOnFail,
		asJSON(sa.MultiStateOnFailSet),
		asJSON(sa.MultiStateOnFailUnset),
		asJSON(sa.Params),
		sa.AllowToTerminate,
	)
	if err != nil {
		return err
	}

	sa.ID = id
	return nil
}

// DeleteSubActions removes every sub-action of an action.
func (s *queries) DeleteSubActions(ctx context.Context, actionID int64) error {
	return s.execAll(ctx, "delete sub actions", `DELETE FROM sub_actions WHERE action_id = ?`, actionID)
}

// GetSubAction retrieves a sub-action by ID
func (s *queries) GetSubAction(ctx context.Context, id int64) (*engine.SubAction, error) {
	sa, err := scanSubAction(s.q.QueryRowContext(ctx, `SELECT `+subActionColumns+` FROM sub_actions WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, "sub action", id)
	}
	return sa, nil
}

// ListSubActions lists the sub-actions of an action in declaration order.
func (s *queries) ListSubActions(ctx context.Context, actionID int64) ([]*engine.SubAction, error) {
	return queryAll(ctx, s.q, "sub actions", scanSubAction, `SELECT `+subActionColumns+` FROM sub_actions WHERE action_id = ? ORDER BY id`, actionID)
}

const configColumns = `id, prototype_id, action_id, name, subname, type, default_value, display_name,
	description, limits, ui_options, required, group_customization`

func scanConfig(row rowScanner) (*engine.PrototypeConfig, error) {
	c := &engine.PrototypeConfig{}
	err := row.Scan(
		&c.ID,
		&c.PrototypeID,
		&c.ActionID,
		&c.Name,
		&c.Subname,
		&c.Type,
		asJSON(&c.Default),
		&c.DisplayName,
		&c.Description,
		asJSON(&c.Limits),
		asJSON(&c.UIOptions),
		&c.Required,
		&c.GroupCustomization,
	)
	return c, err
}

// CreateConfig inserts a config key.
func (s *queries) CreateConfig(ctx context.Context, c *engine.PrototypeConfig) error {
	id, err := s.insert(ctx, "prototype config", `
		INSERT INTO prototype_configs (
			prototype_id, action_id, name, subname, type, default_value, display_name,
			description, limits, ui_options, required, group_customization
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.PrototypeID,
		c.ActionID,
		c.Name,
		c.Subname,
		c.Type,
		asJSON(c.Default),
		c.DisplayName,
		c.Description,
		asJSON(c.Limits),
		asJSON(c.UIOptions),
		c.Required,
		c.GroupCustomization,
	)
	if err != nil {
		return err
	}

	c.ID = id
	return nil
}

// UpdateConfig rewrites the value columns of a config key.
func (s *queries) UpdateConfig(ctx context.Context, c *engine.PrototypeConfig) error {
	return s.exec(ctx, "prototype config", c.ID, `
		UPDATE prototype_configs SET
			type = ?, default_value = ?, display_name = ?, description = ?, limits = ?,
			ui_options = ?, required = ?, group_customization = ?
		WHERE id = ?
	`,
		c.Type,
		asJSON(c.Default),
		c.DisplayName,
		c.Description,
		asJSON(c.Limits),
		asJSON(c.UIOptions),
		c.Required,
		c.GroupCustomization,
		c.ID,
	)
}

// ListConfigs lists the config keys of a prototype, or of one of its
// actions when actionID is set.
func (s *queries) ListConfigs(ctx context.Context, prototypeID int64, actionID *int64) ([]*engine.PrototypeConfig, error) {
	return queryAll(ctx, s.q, "prototype configs", scanConfig, `
		SELECT `+configColumns+` FROM prototype_configs
		WHERE prototype_id = ? AND COALESCE(action_id, 0) = COALESCE(?, 0)
		ORDER BY id
	`, prototypeID, actionID)
}

// CreateExport inserts an export.
func (s *queries) CreateExport(ctx context.Context, e *engine.PrototypeExport) error {
	id, err := s.insert(ctx, "prototype export",
		`INSERT INTO prototype_exports (prototype_id, name) VALUES (?, ?)`, e.PrototypeID, e.Name)
	if err != nil {
		return err
	}

	e.ID = id
	return nil
}

// DeleteExports removes every export of a prototype.
func (s *queries) DeleteExports(ctx context.Context, prototypeID int64) error {
	return s.execAll(ctx, "delete prototype exports", `DELETE FROM prototype_exports WHERE prototype_id = ?`, prototypeID)
}

// ListExports lists the exports of a prototype.
func (s *queries) ListExports(ctx context.Context, prototypeID int64) ([]*engine.PrototypeExport, error) {
	return queryAll(ctx, s.q, "prototype exports", func(row rowScanner) (*engine.PrototypeExport, error) {
		e := &engine.PrototypeExport{}
		return e, row.Scan(&e.ID, &e.PrototypeID, &e.Name)
	}, `
		SELECT id, prototype_id, name FROM prototype_exports WHERE prototype_id = ? ORDER BY id
	`, prototypeID)
}

// CreateImport inserts an import.
func (s *queries) CreateImport(ctx context.Context, i *engine.PrototypeImport) error {
	id, err := s.insert(ctx, "prototype import", `
		INSERT INTO prototype_imports (
			prototype_id, name, min_version, max_version, min_strict, max_strict,
			default_groups, required, multibind
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		i.PrototypeID,
		i.Name,
		i.MinVersion,
		i.MaxVersion,
		i.MinStrict,
		i.MaxStrict,
		asJSON(i.Default),
		i.Required,
		i.Multibind,
	)
	if err != nil {
		return err
	}

	i.ID = id
	return nil
}

// DeleteImports removes every import of a prototype.
func (s *queries) DeleteImports(ctx context.Context, prototypeID int64) error {
	return s.execAll(ctx, "delete prototype imports", `DELETE FROM prototype_imports WHERE prototype_id = ?`, prototypeID)
}

// ListImports lists the imports of a prototype.
func (s *queries) ListImports(ctx context.Context, prototypeID int64) ([]*engine.PrototypeImport, error) {
	return queryAll(ctx, s.q, "prototype imports", func(row rowScanner) (*engine.PrototypeImport, error) {
		i := &engine.PrototypeImport{}
		err := row.Scan(
			&i.ID,
			&i.PrototypeID,
			&i.Name,
			&i.MinVersion,
			&i.MaxVersion,
			&i.MinStrict,
			&i.MaxStrict,
			asJSON(&i.Default),
			&i.Required,
			&i.Multibind,
		)
		return i, err
	}, `
		SELECT id, prototype_id, name, min_version, max_version, min_strict, max_strict,
			default_groups, required, multibind
		FROM prototype_imports WHERE prototype_id = ? ORDER BY id
	`, prototypeID)
}

// CreateUpgrade inserts an upgrade.
func (s *queries) CreateUpgrade(ctx context.Context, u *engine.Upgrade) error {
	id, err := s.insert(ctx, "upgrade", `
		INSERT INTO upgrades (
			bundle_id, name, display_name, description, min_version, max_version,
			min_strict, max_strict, from_edition, state_available, state_on_success, action_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.BundleID,
		u.Name,
		u.DisplayName,
		u.Description,
		u.MinVersion,
		u.MaxVersion,
		u.MinStrict,
		u.MaxStrict,
		asJSON(u.FromEdition),
		asJSON(u.StateAvailable),
		u.StateOnSuccess,
		u.ActionID,
	)
	if err != nil {
		return err
	}

	u.ID = id
	return nil
}

// DeleteUpgrades removes every upgrade of a bundle.
func (s *queries) DeleteUpgrades(ctx context.Context, bundleID int64) error {
	return s.execAll(ctx, "delete upgrades", `DELETE FROM upgrades WHERE bundle_id = ?`, bundleID)
}

// ListUpgrades lists the upgrades of a bundle.
func (s *queries) ListUpgrades(ctx context.Context, bundleID int64) ([]*engine.Upgrade, error) {
	return queryAll(ctx, s.q, "upgrades", func(row rowScanner) (*engine.Upgrade, error) {
		u := &engine.Upgrade{}
		err := row.Scan(
			&u.ID,
			&u.BundleID,
			&u.Name,
			&u.DisplayName,
			&u.Description,
			&u.MinVersion,
			&u.MaxVersion,
			&u.MinStrict,
			&u.MaxStrict,
			asJSON(&u.FromEdition),
			asJSON(&u.StateAvailable),
			&u.StateOnSuccess,
			&u.ActionID,
		)
		return u, err
	}, `
		SELECT id, bundle_id, name, display_name, description, min_version, max_version,
			min_strict, max_strict, from_edition, state_available, state_on_success, action_id
		FROM upgrades WHERE bundle_id = ? ORDER BY id
	`, bundleID)
}
