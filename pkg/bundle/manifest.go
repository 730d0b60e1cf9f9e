package bundle

import (
	"context"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/staging"
)

// Manifest summarises a staged bundle for admission checks.
type Manifest struct {
	File       string              `json:"file"`
	Hash       string              `json:"hash"`
	Type       engine.ObjectType   `json:"type"`
	Name       string              `json:"name"`
	Version    string              `json:"version"`
	Edition    string              `json:"edition"`
	Prototypes []ManifestPrototype `json:"prototypes"`
}

// ManifestPrototype is one staged definition of a Manifest.
type ManifestPrototype struct {
	Type    engine.ObjectType   `json:"type"`
	Name    string              `json:"name"`
	Version string              `json:"version"`
	License engine.LicenseState `json:"license"`
	Venv    string              `json:"venv"`
	Actions []ManifestAction    `json:"actions,omitempty"`
}

// ManifestAction describes an action and the scripts it runs.
type ManifestAction struct {
	Name       string            `json:"name"`
	Type       engine.ActionType `json:"type"`
	HostAction bool              `json:"host_action"`
	Scripts    []ManifestScript  `json:"scripts"`
}

// ManifestScript is a script reference of an action or sub-action.
type ManifestScript struct {
	Type   engine.ScriptType `json:"script_type"`
	Script string            `json:"script"`
}

// Admitter decides whether a staged bundle may be committed. A rejection
// should carry the BUNDLE_POLICY_VIOLATION code.
type Admitter interface {
	Admit(ctx context.Context, m *Manifest) error
}

// AdmitAll accepts every bundle.
type AdmitAll struct{}

// Admit implements Admitter.
func (AdmitAll) Admit(context.Context, *Manifest) error { return nil }

// BuildManifest summarises the staging area. bundle is the prototype
// returned by StageBundle.
func BuildManifest(area *staging.Area, file, hash string, bundle *engine.Prototype) *Manifest {
	m := &Manifest{
		File:    file,
		Hash:    hash,
		Type:    bundle.Type,
		Name:    bundle.Name,
		Version: bundle.Version,
		Edition: bundle.Edition,
	}
	for _, p := range area.Prototypes.All() {
		mp := ManifestPrototype{
			Type:    p.Type,
			Name:    p.Name,
			Version: p.Version,
			License: p.License,
			Venv:    p.VenvName,
		}
		for _, a := range area.ActionsOf(p.ID) {
			ma := ManifestAction{Name: a.Name, Type: a.Type, HostAction: a.HostAction}
			if a.Type == engine.ActionTypeJob {
				ma.Scripts = append(ma.Scripts, ManifestScript{Type: a.ScriptType, Script: a.Script})
			}
			actionID := a.ID
			for _, sub := range area.SubActions.Filter(func(s *engine.SubAction) bool { return s.ActionID == actionID }) {
				ma.Scripts = append(ma.Scripts, ManifestScript{Type: sub.ScriptType, Script: sub.Script})
			}
			mp.Actions = append(mp.Actions, ma)
		}
		m.Prototypes = append(m.Prototypes, mp)
	}
	return m
}
