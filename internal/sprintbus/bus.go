// Package sprintbus implements the in-process event bus that fans
// orchestrator events out to connected websocket dashboards.
package sprintbus

import (
	"encoding/json"
	"sync"
	"time"

	"sprintrunner/internal/sprintlog"
)

// Event type catalogue.
const (
	EventBatchStart   = "batch:start"
	EventBatchEnd     = "batch:end"
	EventBatchWarning = "batch:warning"

	EventCycleStart = "cycle:start"
	EventCycleEnd   = "cycle:end"

	EventCommandStart    = "command:start"
	EventCommandProgress = "command:progress"
	EventCommandEnd      = "command:end"

	EventStoryStatus = "story:status"

	EventContextCreate     = "context:create"
	EventContextRefresh    = "context:refresh"
	EventContextComplete   = "context:complete"
	EventContextFresh      = "context:fresh"
	EventContextCopied     = "context:copied"
	EventContextCopyFailed = "context:copy_failed"
	EventContextError      = "context:error"

	EventCleanupComplete   = "cleanup:complete"
	EventCleanupFileMoved  = "cleanup:file_moved"
	EventCleanupFileError  = "cleanup:file_error"
	EventCleanupError      = "cleanup:error"

	EventBackgroundComplete = "background:complete"
	EventBackgroundError    = "background:error"

	EventInjectionWarning = "injection:warning"
	EventInjectionEmpty   = "injection:empty"

	EventError = "error"
	EventPong  = "pong"
)

// requiredKeys is an allow-list hint: a per-event-type fixed
// set of required payload keys. A missing key logs a warning but never
// drops the event. Event types absent from this map accept any payload.
var requiredKeys = map[string][]string{
	EventBatchStart:      {"batch_id", "max_cycles"},
	EventBatchEnd:        {"batch_id", "cycles_completed", "status"},
	EventBatchWarning:    {"batch_id", "message", "warning_type"},
	EventCycleStart:      {"cycle_number", "story_keys"},
	EventCycleEnd:        {"cycle_number", "completed_stories"},
	EventCommandStart:    {"story_key", "command", "task_id"},
	EventCommandProgress: {"story_key", "command", "task_id", "message"},
	EventCommandEnd:      {"story_key", "command", "task_id", "status"},
	EventStoryStatus:     {"story_key", "old_status", "new_status"},
	EventContextCreate:   {"story_key", "context_type"},
	EventContextRefresh:  {"story_key", "context_type"},
	EventContextComplete: {"story_key", "context_type", "status"},
	EventError:           {"type", "message"},
	EventPong:            {},
}

// Envelope is the wire shape of every server-to-client frame:
// text frames carrying UTF-8 JSON of {type, payload, timestamp}.
type Envelope struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}

// subscriber is the bus's view of a connected peer: a channel carrying
// already-serialized frames plus a closed flag toggled under Bus.mu.
type subscriber struct {
	send   chan []byte
	closed bool
}

// Bus holds the set of connected subscribers and fans events out to them.
// Unlike the drop-if-full pattern used elsewhere in the corpus, a send that
// fails here marks the subscriber for removal rather than silently
// discarding traffic meant for a live peer.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	logger *sprintlog.Logger
}

// New creates an empty Bus.
func New(logger *sprintlog.Logger) *Bus {
	return &Bus{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Add registers a new subscriber and returns the channel it must drain.
// bufSize controls how many frames may queue before a send is considered
// failed.
func (b *Bus) Add(bufSize int) *subscriber {
	sub := &subscriber{send: make(chan []byte, bufSize)}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Remove unregisters a subscriber and closes its channel. Safe to call more
// than once for the same subscriber.
func (b *Bus) Remove(sub *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	if !sub.closed {
		sub.closed = true
		close(sub.send)
	}
}

// Broadcast serializes an event once and sends it concurrently to every
// subscriber. Subscribers whose channel is full are marked for removal once
// the fan-out completes, never silently dropped from the live set.
func (b *Bus) Broadcast(ev Envelope) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		if b.logger != nil {
			b.logger.Warn("failed to marshal event %s: %v", ev.Type, err)
		}
		return
	}

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	var stale []*subscriber
	var staleMu sync.Mutex
	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(sub *subscriber) {
			defer wg.Done()
			select {
			case sub.send <- data:
			default:
				staleMu.Lock()
				stale = append(stale, sub)
				staleMu.Unlock()
			}
		}(sub)
	}
	wg.Wait()

	for _, sub := range stale {
		b.Remove(sub)
	}
}

// Emit validates payload keys for a known event type, logging (but not
// dropping) on a missing key, then broadcasts the event.
func (b *Bus) Emit(eventType string, payload map[string]any) {
	if required, ok := requiredKeys[eventType]; ok {
		for _, key := range required {
			if _, present := payload[key]; !present && b.logger != nil {
				b.logger.Warn("event %s missing required payload key %q", eventType, key)
			}
		}
	}
	b.Broadcast(Envelope{Type: eventType, Payload: payload})
}

// SubscriberCount reports the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Sweep removes any subscriber whose channel has already been closed
// elsewhere (e.g. by the transport layer tearing down a dead connection).
// Intended to run from a periodic heartbeat loop.
func (b *Bus) Sweep(isDead func(sub *subscriber) bool) {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		if isDead(sub) {
			b.Remove(sub)
		}
	}
}

// CloseAll disconnects every subscriber, for use during process shutdown.
// Each subscriber's write pump observes its closed channel and sends a
// websocket close frame before returning.
func (b *Bus) CloseAll() {
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		b.Remove(sub)
	}
}
