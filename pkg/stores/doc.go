// Package stores provides the SQLite persistence layer for stackmgr.
//
// SQLiteStore implements engine.Store: the bundle catalog (bundles,
// prototypes, actions, sub-actions, config keys, upgrades, exports and
// imports), the live objects created from prototypes, and the task, job
// and log records of the execution engine. The schema is applied from
// embedded golang-migrate migrations.
//
// Catalog writes go through InTx, which hands the callback an
// engine.CatalogTx bound to one SQLite transaction:
//
//	err := store.InTx(ctx, func(tx engine.CatalogTx) error {
//		b := &engine.Bundle{Hash: hash, Name: "hadoop", Version: "1.0", Edition: "community"}
//		return tx.CreateBundle(ctx, b)
//	})
//
// Unique key violations are reported as engine.ErrAlreadyExists and
// missing rows as engine.ErrNotFound, both wrapped.
package stores
