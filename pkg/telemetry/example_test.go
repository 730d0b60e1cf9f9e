package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/stackmgr/pkg/telemetry"
)

// Example_eventPublishing shows a subscriber receiving lifecycle events.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Logging.Output = "stderr"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s %s #%d\n", event.Kind, event.ObjectType, event.ObjectID)
	}, telemetry.FilterByKind(telemetry.EventKindCreate))

	ctx := tel.WithContext(context.Background())
	tel.Events.PostEvent(ctx, "create", "bundle", 7, nil)
	tel.Events.PostEvent(ctx, "change_job_status", "task", 3, map[string]interface{}{"status": "running"})

	// Output:
	// create bundle #7
}

// Example_bundleOperation shows a bundle operation without telemetry in
// the context.
func Example_bundleOperation() {
	err := telemetry.RecordBundleOperation(context.Background(), "load", func(ctx context.Context) error {
		fmt.Println("loading")
		return nil
	})
	fmt.Println(err)

	// Output:
	// loading
	// <nil>
}
