// Package pipeline orchestrates the forecast run: ingest, backtest, priors,
// weight fitting, assembly, artifacts. It publishes progress events on an
// in-process bus that the websocket endpoint streams to observers.
package pipeline

import (
	"sync"
	"time"
)

// EventType classifies pipeline run events.
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventRunFinished     EventType = "run_finished"
	EventStepStarted     EventType = "step_started"
	EventStepCompleted   EventType = "step_completed"
	EventCutoffFailed    EventType = "cutoff_failed"
	EventArtifactWritten EventType = "artifact_written"
)

// Event is one pipeline progress notification.
type Event struct {
	Type      EventType         `json:"type"`
	RunID     string            `json:"run_id"`
	Step      string            `json:"step,omitempty"`
	Message   string            `json:"message,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Bus fans pipeline events out to subscribers. Slow subscribers lose events
// rather than stalling the run: Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; call it exactly once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, 64)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, stamping the time if unset.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
