package bundle

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stack"
	"github.com/openfroyo/stackmgr/pkg/telemetry"
	"github.com/openfroyo/stackmgr/pkg/version"
)

// ADCMObjectName is the name of the ADCM singleton object.
const ADCMObjectName = "ADCM"

// LoadADCM stages the ADCM definition file and installs or upgrades the
// ADCM singleton. Loading the installed version again does nothing.
func (l *Loader) LoadADCM(ctx context.Context, file string) (*engine.Object, error) {
	var adcm *engine.Object
	err := telemetry.RecordBundleOperation(ctx, "adcm", func(ctx context.Context) error {
		var err error
		adcm, err = l.loadADCM(ctx, file)
		return err
	})
	return adcm, err
}

func (l *Loader) loadADCM(ctx context.Context, file string) (*engine.Object, error) {
	session, err := l.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	area := session.Area()

	doc, err := stack.ReadDefinition(file, stack.LoadOptions{AllowDuplicateKeys: l.cfg.AllowDuplicateKeys})
	if err != nil {
		return nil, err
	}
	parser := stack.NewParser(area, filepath.Dir(file), stack.Options{AllowDuplicateKeys: l.cfg.AllowDuplicateKeys, ADCM: true}, l.logger)
	if err := parser.SaveDefinition("", file, doc); err != nil {
		return nil, err
	}
	staged, err := area.Prototypes.One(func(p *engine.Prototype) bool { return p.Type == engine.ObjectTypeADCM })
	if err != nil {
		return nil, engine.Errorf(engine.ErrCodeBundle, "There isn't exactly one adcm definition in %s", file)
	}
	if err := CheckReferences(area); err != nil {
		return nil, err
	}

	objs, err := l.store.ListObjects(ctx, engine.ObjectFilter{Type: engine.ObjectTypeADCM})
	if err != nil {
		return nil, err
	}

	var adcm *engine.Object
	err = l.store.InTx(ctx, func(tx engine.CatalogTx) error {
		if len(objs) == 0 {
			b, err := copyStage(ctx, tx, area, ADCMHash, staged)
			if err != nil {
				return err
			}
			if adcm, err = initADCM(ctx, tx, b); err != nil {
				return err
			}
			l.logger.Info().Str("version", staged.Version).Msg("Init adcm object")
			return OrderVersions(ctx, tx)
		}

		adcm = objs[0]
		current, err := tx.GetPrototype(ctx, adcm.PrototypeID)
		if err != nil {
			return err
		}
		if current.Version == staged.Version {
			l.logger.Debug().Str("version", current.Version).Msg("adcm version is the same, skip upgrade")
			return nil
		}
		if version.Compare(current.Version, staged.Version) >= 0 {
			return engine.Errorf(engine.ErrCodeUpgrade,
				"Current adcm version %s is more than or equal to upgrade version %s", current.Version, staged.Version)
		}
		b, err := copyStage(ctx, tx, area, ADCMHash, staged)
		if err != nil {
			return err
		}
		if err := upgradeADCM(ctx, tx, adcm, b); err != nil {
			return err
		}
		l.logger.Info().
			Str("from", current.Version).
			Str("to", staged.Version).
			Msg("Upgrade adcm OK")
		return OrderVersions(ctx, tx)
	})
	if err != nil {
		if engine.CodeOf(err) != "" {
			return nil, err
		}
		if errors.Is(err, engine.ErrAlreadyExists) {
			return nil, engine.Errorf(engine.ErrCodeBundle, "Bundle %q %s already installed", staged.Name, staged.Version)
		}
		return nil, engine.NewError(engine.ErrCodeInternal, "failed to load adcm definition").Wrap(err)
	}
	return adcm, nil
}

func adcmPrototype(ctx context.Context, tx engine.CatalogTx, b *engine.Bundle) (*engine.Prototype, error) {
	protos, err := tx.ListPrototypes(ctx, engine.PrototypeFilter{BundleID: b.ID, Type: engine.ObjectTypeADCM})
	if err != nil {
		return nil, err
	}
	if len(protos) != 1 {
		return nil, engine.Errorf(engine.ErrCodeInternal, "bundle #%d has %d adcm prototypes", b.ID, len(protos))
	}
	return protos[0], nil
}

func initADCM(ctx context.Context, tx engine.CatalogTx, b *engine.Bundle) (*engine.Object, error) {
	proto, err := adcmPrototype(ctx, tx, b)
	if err != nil {
		return nil, err
	}
	adcm := &engine.Object{
		Type:        engine.ObjectTypeADCM,
		PrototypeID: proto.ID,
		Name:        ADCMObjectName,
		State:       engine.DefaultObjectState,
	}
	if err := tx.CreateObject(ctx, adcm); err != nil {
		return nil, err
	}
	return adcm, nil
}

func upgradeADCM(ctx context.Context, tx engine.CatalogTx, adcm *engine.Object, b *engine.Bundle) error {
	proto, err := adcmPrototype(ctx, tx, b)
	if err != nil {
		return err
	}
	adcm.PrototypeID = proto.ID
	return tx.UpdateObject(ctx, adcm)
}
