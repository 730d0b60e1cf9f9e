package bundle

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// DeleteBundle removes an installed bundle that no live object uses.
func (l *Loader) DeleteBundle(ctx context.Context, id int64) error {
	return telemetry.RecordBundleOperation(ctx, "delete", func(ctx context.Context) error {
		return l.deleteBundle(ctx, id)
	})
}

func (l *Loader) deleteBundle(ctx context.Context, id int64) error {
	b, err := l.store.GetBundle(ctx, id)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return engine.Errorf(engine.ErrCodeBundleNotFound, "Bundle #%d does not exist", id)
		}
		return err
	}
	if err := l.checkBundleUnused(ctx, b); err != nil {
		return err
	}

	if b.Hash != ADCMHash {
		dir := filepath.Join(l.cfg.BundleDir, b.Hash)
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			l.logger.Info().
				Str("name", b.Name).
				Str("version", b.Version).
				Msg("Bundle was removed in file system. Delete bundle in database")
		} else if err := os.RemoveAll(dir); err != nil {
			return engine.Errorf(engine.ErrCodeBundle, "Can't remove bundle directory %s", dir).Wrap(err)
		}
	}

	err = l.store.InTx(ctx, func(tx engine.CatalogTx) error {
		if err := tx.DeleteBundle(ctx, b.ID); err != nil {
			return err
		}
		return OrderVersions(ctx, tx)
	})
	if err != nil {
		return engine.NewError(engine.ErrCodeInternal, "failed to delete bundle").Wrap(err)
	}

	l.logger.Info().Int64("bundle_id", b.ID).Str("name", b.Name).Str("version", b.Version).Msg("Bundle deleted")
	l.events.PostEvent(ctx, "delete", "bundle", b.ID, nil)
	return nil
}

// checkBundleUnused refuses deletion while a provider, cluster or the ADCM
// object is built from one of the bundle prototypes.
func (l *Loader) checkBundleUnused(ctx context.Context, b *engine.Bundle) error {
	protos, err := l.store.ListPrototypes(ctx, engine.PrototypeFilter{BundleID: b.ID})
	if err != nil {
		return err
	}
	ids := make([]int64, len(protos))
	for i, p := range protos {
		ids[i] = p.ID
	}

	for _, objType := range []engine.ObjectType{engine.ObjectTypeProvider, engine.ObjectTypeCluster, engine.ObjectTypeADCM} {
		objs, err := l.store.ListObjects(ctx, engine.ObjectFilter{Type: objType, PrototypeIDs: ids})
		if err != nil {
			return err
		}
		if len(objs) == 0 {
			continue
		}
		obj := objs[0]
		if objType == engine.ObjectTypeADCM {
			return engine.Errorf(engine.ErrCodeBundleConflict,
				"There is adcm object of bundle #%d %q %s", b.ID, b.Name, b.Version)
		}
		return engine.Errorf(engine.ErrCodeBundleConflict,
			"There is %s #%d %q of bundle #%d %q %s", objType, obj.ID, obj.Name, b.ID, b.Name, b.Version)
	}
	return nil
}
