package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/stackmgr/pkg/engine"
	"github.com/openfroyo/stackmgr/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            stores.MemoryPath,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}

	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_InTx demonstrates writing catalog rows in one transaction.
func ExampleSQLiteStore_InTx() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	err := store.InTx(ctx, func(tx engine.CatalogTx) error {
		b := &engine.Bundle{Hash: "0a1b2c", Name: "zookeeper", Version: "3.5", Edition: "community"}
		if err := tx.CreateBundle(ctx, b); err != nil {
			return err
		}
		return tx.CreatePrototype(ctx, &engine.Prototype{
			BundleID: b.ID,
			Type:     engine.ObjectTypeCluster,
			Name:     "zookeeper",
			Version:  "3.5",
			License:  engine.LicenseAbsent,
		})
	})
	if err != nil {
		log.Fatal(err)
	}

	protos, _ := store.ListPrototypes(ctx, engine.PrototypeFilter{Type: engine.ObjectTypeCluster})
	for _, p := range protos {
		fmt.Println(p.Key())
	}
	// Output: cluster "zookeeper" 3.5
}

// ExampleSQLiteStore_CreateTask demonstrates recording a task with one job.
func ExampleSQLiteStore_CreateTask() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	task := &engine.Task{
		ActionID:   1,
		ObjectType: engine.ObjectTypeCluster,
		Status:     engine.JobStatusCreated,
		StartDate:  now,
		FinishDate: now,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		log.Fatal(err)
	}

	job := &engine.Job{TaskID: task.ID, ActionID: 1, Status: engine.JobStatusCreated, StartDate: now, FinishDate: now}
	if err := store.CreateJob(ctx, job); err != nil {
		log.Fatal(err)
	}

	jobs, _ := store.ListJobs(ctx, task.ID)
	fmt.Printf("task %d has %d job(s)\n", task.ID, len(jobs))
	// Output: task 1 has 1 job(s)
}
