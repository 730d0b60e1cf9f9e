package bundle

import (
	"context"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/version"
)

// OrderVersions recomputes VersionOrder for every prototype and every
// bundle as a dense rank under RPM version comparison.
func OrderVersions(ctx context.Context, tx engine.CatalogTx) error {
	protos, err := tx.ListPrototypes(ctx, engine.PrototypeFilter{})
	if err != nil {
		return err
	}
	versions := make([]string, len(protos))
	for i, p := range protos {
		versions[i] = p.Version
	}
	ranks := version.DenseRank(versions)
	for _, p := range protos {
		if rank := ranks[p.Version]; rank != p.VersionOrder {
			if err := tx.SetPrototypeVersionOrder(ctx, p.ID, rank); err != nil {
				return err
			}
		}
	}

	bundles, err := tx.ListBundles(ctx)
	if err != nil {
		return err
	}
	versions = versions[:0]
	for _, b := range bundles {
		versions = append(versions, b.Version)
	}
	ranks = version.DenseRank(versions)
	for _, b := range bundles {
		if rank := ranks[b.Version]; rank != b.VersionOrder {
			if err := tx.SetBundleVersionOrder(ctx, b.ID, rank); err != nil {
				return err
			}
		}
	}
	return nil
}
