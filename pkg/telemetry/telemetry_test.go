package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type codedErr struct{ class, code string }

func (e codedErr) Error() string                  { return e.code }
func (e codedErr) Classify() (class, code string) { return e.class, e.code }

func newTestTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	t.Cleanup(func() { tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "daemon", mutate: func(c *Config) { *c = *DaemonConfig() }},
		{name: "otlp without endpoint", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "bad status url", mutate: func(c *Config) { c.Events.StatusURL = "not a url" }, wantErr: true},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "async without buffer", mutate: func(c *Config) { c.Events.EnableAsync = true; c.Events.BufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Expected an error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
		})
	}
}

func TestRecordBundleOperation(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	if err := RecordBundleOperation(ctx, "load", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := codedErr{class: "conflict", code: "BUNDLE_CONFLICT"}
	err := RecordBundleOperation(ctx, "delete", func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("Expected the callback error back, got %v", err)
	}

	if got := testutil.ToFloat64(tel.Metrics.bundleOperations.WithLabelValues("load", "success")); got != 1 {
		t.Errorf("Expected 1 successful load, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.bundleOperations.WithLabelValues("delete", "failed")); got != 1 {
		t.Errorf("Expected 1 failed delete, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.errorsByCode.WithLabelValues("BUNDLE_CONFLICT")); got != 1 {
		t.Errorf("Expected error code to be counted, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.errorsByClass.WithLabelValues("conflict")); got != 1 {
		t.Errorf("Expected error class to be counted, got %v", got)
	}
}

func TestTaskAndJobMetrics(t *testing.T) {
	tel := newTestTelemetry(t)
	ctx := tel.WithContext(context.Background())

	ctx = StartTask(ctx, 12, "install")
	if got := testutil.ToFloat64(tel.Metrics.activeTasks); got != 1 {
		t.Errorf("Expected 1 active task, got %v", got)
	}

	status, err := RecordJob(ctx, 3, "ansible", func(context.Context) (string, error) { return "failed", nil })
	if err != nil || status != "failed" {
		t.Fatalf("Unexpected job result %q %v", status, err)
	}
	EndTask(ctx, "failed", nil)

	if got := testutil.ToFloat64(tel.Metrics.activeTasks); got != 0 {
		t.Errorf("Expected no active tasks, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.jobsExecuted.WithLabelValues("ansible", "failed")); got != 1 {
		t.Errorf("Expected 1 failed ansible job, got %v", got)
	}
	if got := testutil.ToFloat64(tel.Metrics.tasksCompleted.WithLabelValues("failed")); got != 1 {
		t.Errorf("Expected 1 failed task, got %v", got)
	}
}

func TestHelpersWithoutTelemetry(t *testing.T) {
	ctx := context.Background()
	if StartTask(ctx, 1, "x") != ctx {
		t.Error("StartTask should return the context unchanged")
	}
	EndTask(ctx, "success", nil)

	called := false
	status, _ := RecordJob(ctx, 1, "python", func(context.Context) (string, error) {
		called = true
		return "success", nil
	})
	if !called || status != "success" {
		t.Error("RecordJob should run the callback")
	}
}

func TestPostEvent(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, nil)
	ep.PostEvent(context.Background(), "change_job_status", "task", 5, map[string]interface{}{"status": "failed"})
	ep.PostEvent(context.Background(), "create", "bundle", 1, nil)

	if len(got) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(got))
	}
	if got[0].Kind != "change_job_status" || got[0].ObjectType != "task" || got[0].ObjectID != 5 {
		t.Errorf("Unexpected event: %+v", got[0])
	}
	if got[0].Level != EventLevelError {
		t.Errorf("Failed status should raise the level, got %s", got[0].Level)
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be filled")
	}
	if got[1].Level != EventLevelInfo {
		t.Errorf("Expected info level, got %s", got[1].Level)
	}
}

func TestEventFilters(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{Enabled: true})
	ep.AddFilter(FilterByObject("job", 9))

	var kinds []string
	ep.Subscribe(func(e Event) { kinds = append(kinds, e.Kind) }, FilterByKind(EventKindAddJobLog))

	ep.PostEvent(context.Background(), EventKindAddJobLog, "job", 9, nil)
	ep.PostEvent(context.Background(), EventKindAddJobLog, "job", 10, nil)
	ep.PostEvent(context.Background(), EventKindChangeStatus, "job", 9, nil)

	if len(kinds) != 1 {
		t.Errorf("Expected only one delivered event, got %v", kinds)
	}
}

func TestAsyncEventsDrainOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 10, BatchSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher failed: %v", err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 6; i++ {
		ep.PostEvent(context.Background(), "create", "bundle", int64(i), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 6 {
		t.Errorf("Expected 6 delivered events, got %d", count)
	}
	if err := ep.Publish(Event{Kind: "create"}); err == nil {
		t.Error("Expected publish after shutdown to fail")
	}
}

func TestStatusAPISink(t *testing.T) {
	received := make(chan Event, 1)
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		var e Event
		if err := json.Unmarshal(body, &e); err == nil {
			received <- e
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ep, _ := NewEventPublisher(EventsConfig{Enabled: true, StatusURL: srv.URL, StatusToken: "secret", StatusTimeout: time.Second})
	ep.PostEvent(context.Background(), "delete", "bundle", 4, map[string]interface{}{"name": "zk"})

	select {
	case e := <-received:
		if e.Kind != "delete" || e.ObjectID != 4 || e.Details["name"] != "zk" {
			t.Errorf("Unexpected event: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Status endpoint did not receive the event")
	}
	if !strings.HasSuffix(auth, "secret") {
		t.Errorf("Expected token in Authorization header, got %q", auth)
	}
}

func TestDisabledMetricsAreNoops(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordBundleOperation("load", "success", time.Second)
	m.RecordTaskStarted("install")
	m.RecordTaskCompleted("success", time.Second)
	m.RecordJobExecution("ansible", "success", time.Second)
	m.RecordError("bundle", "BUNDLE_ERROR")
	m.SetActiveTasks(3)

	if err := m.Serve(context.Background()); err != nil {
		t.Errorf("Serve with metrics disabled should return nil, got %v", err)
	}
}

func TestLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackmgr.log")
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}

	loader := logger.Component("loader")
	loader.Info().Str("bundle", "kafka").Msg("Bundle loaded")
	zlog := logger.Zerolog()
	zlog.Debug().Msg("below the level")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected one log line, got %q", data)
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["component"] != "loader" || entry["bundle"] != "kafka" || entry["message"] != "Bundle loaded" {
		t.Errorf("Unexpected log entry: %v", entry)
	}
}
