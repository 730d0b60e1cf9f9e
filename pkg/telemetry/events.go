package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one lifecycle notification about a bundle, task, job or object.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Kind is the verb posted by the caller, such as "create" or
	// "change_job_status".
	Kind string `json:"event"`

	// ObjectType is the kind of record the event is about.
	ObjectType string `json:"object_type"`

	// ObjectID identifies the record.
	ObjectID int64 `json:"object_id"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Details carries event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Event kinds posted by the bundle loader and the task engine.
const (
	EventKindCreate           = "create"
	EventKindUpdate           = "update"
	EventKindDelete           = "delete"
	EventKindChangeStatus     = "change_job_status"
	EventKindChangeState      = "change_state"
	EventKindChangeMultiState = "change_multi_state"
	EventKindAddJobLog        = "add_job_log"
)

// Event severity levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers, synchronously or from a
// background goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	logger      zerolog.Logger
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher. When StatusURL is set
// the status endpoint is subscribed to every event.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		logger: zerolog.Nop(),
		ctx:    ctx,
		cancel: cancel,
	}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.StatusURL != "" {
		ep.Subscribe(NewStatusAPISink(cfg.StatusURL, cfg.StatusToken, cfg.StatusTimeout, nil), nil)
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// SetLogger sets the logger used to report dropped events.
func (ep *EventPublisher) SetLogger(logger zerolog.Logger) {
	ep.logger = logger.With().Str("component", "events").Logger()
}

// PostEvent publishes a lifecycle event. Delivery failures are logged and
// never reach the caller.
func (ep *EventPublisher) PostEvent(_ context.Context, kind, objectType string, objectID int64, details map[string]interface{}) {
	level := EventLevelInfo
	if status, ok := details["status"].(string); ok && status == "failed" {
		level = EventLevelError
	}
	err := ep.Publish(Event{
		Kind:       kind,
		ObjectType: objectType,
		ObjectID:   objectID,
		Level:      level,
		Details:    details,
	})
	if err != nil {
		ep.logger.Warn().Err(err).Str("event", kind).Str("object_type", objectType).Int64("object_id", objectID).Msg("Event dropped")
	}
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.buffer != nil {
		select {
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
		}
		select {
		case ep.buffer <- event:
			return nil
		default:
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	ep.deliverEvent(event)
	return nil
}

// Subscribe adds a new event subscriber. A nil filter accepts everything.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents drains the buffer in batches.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batchSize := ep.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	batch := make([]Event, 0, batchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			// deliver what is queued without waiting for a full batch
			for len(batch) < batchSize && len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			batch = batch[:0]

		case <-ep.ctx.Done():
			for len(ep.buffer) > 0 {
				batch = append(batch, <-ep.buffer)
			}
			ep.flushBatch(batch)
			return
		}
	}
}

func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent hands the event to every matching subscriber in
// subscription order.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the background delivery after draining the buffer.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// NewLogSink returns a subscriber writing each event as a log line.
func NewLogSink(logger zerolog.Logger) EventSubscriber {
	return func(event Event) {
		var e *zerolog.Event
		switch event.Level {
		case EventLevelError:
			e = logger.Error()
		case EventLevelWarning:
			e = logger.Warn()
		default:
			e = logger.Info()
		}
		e.Str("event", event.Kind).
			Str("object_type", event.ObjectType).
			Int64("object_id", event.ObjectID).
			Fields(event.Details).
			Msg("Event")
	}
}

// NewStatusAPISink returns a subscriber that POSTs each event as JSON to
// url. A nil client uses one with the given timeout.
func NewStatusAPISink(url, token string, timeout time.Duration, client *http.Client) EventSubscriber {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return func(event Event) {
		body, err := json.Marshal(event)
		if err != nil {
			return
		}
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Token "+token)
		}
		resp, err := client.Do(req)
		if err != nil {
			return
		}
		resp.Body.Close()
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByKind creates a filter that only allows the given event kinds.
func FilterByKind(kinds ...string) EventFilter {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return func(event Event) bool {
		return set[event.Kind]
	}
}

// FilterByObject creates a filter that only allows events about one record.
func FilterByObject(objectType string, objectID int64) EventFilter {
	return func(event Event) bool {
		return event.ObjectType == objectType && event.ObjectID == objectID
	}
}
