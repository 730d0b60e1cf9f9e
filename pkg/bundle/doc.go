// Package bundle compiles bundle archives into the catalog.
//
// A load runs in two phases. The stage phase extracts the archive into the
// content-addressed bundle directory, parses every definition file into a
// staging area owned by a CompileSession, and runs the checks that need
// the whole bundle: the bundle shape, cross references between
// definitions and the admission policies. The commit phase copies the
// staged rows into the catalog inside one store transaction and recomputes
// the version order of all prototypes and bundles.
//
// A failure in either phase clears the staging area and removes the
// extracted directory, so the catalog and the bundle directory never hold
// a half-loaded bundle.
//
// Basic usage:
//
//	loader := bundle.NewLoader(store, events, admitter, bundle.Config{
//		BundleDir:     "/var/lib/stackmgr/bundles",
//		DownloadDir:   "/var/lib/stackmgr/downloads",
//		ServerVersion: "2023.10.10",
//	}, logger)
//
//	b, err := loader.LoadBundle(ctx, "zookeeper-3.5.tgz")
//	if err != nil {
//		return err
//	}
//
// Deleting a bundle is refused with BUNDLE_CONFLICT while a provider,
// cluster or the ADCM object is built from one of its prototypes.
package bundle
