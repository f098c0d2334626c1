// Package events is the in-process pub/sub layer for session
// progress: task lifecycle, status changes, transcript entries and
// operator interventions. Delivery is asynchronous and bounded, so a
// stalled listener can never stall the session loop. Consumers that
// need a complete record read the store; the bus is for live echo.
package events

import (
	"sync"
	"time"
)

// EventType names one category of session event.
type EventType string

const (
	// EventTaskStarted fires when a task leaves the pending state.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted fires when a task reaches a terminal state.
	EventTaskCompleted EventType = "task_completed"
	// EventSessionStatus fires on every session status transition.
	EventSessionStatus EventType = "session_status"
	// EventTranscript fires for each appended transcript entry.
	EventTranscript EventType = "transcript_entry"
	// EventIntervention fires when an operator note is picked up.
	EventIntervention EventType = "intervention"
)

// Event is a single published occurrence. Data carries loosely typed
// details keyed the same way the transcript records them.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]interface{}
}

// Subscriber handles events for one subscription. It runs on that
// subscription's own goroutine, in publish order.
type Subscriber func(Event)

// subscription holds the queue feeding one Subscriber.
type subscription struct {
	queue chan Event
}

// drain pumps the queue into fn until the queue closes. A panicking
// subscriber loses that one event and delivery continues.
func (s *subscription) drain(fn Subscriber) {
	for ev := range s.queue {
		func() {
			defer func() { _ = recover() }()
			fn(ev)
		}()
	}
}

// Bus fans events out to subscribers by type. Each subscription owns
// a bounded queue and a delivery goroutine; Publish never waits on a
// consumer.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType]map[int]*subscription
	nextID int
	depth  int
	closed bool
}

// NewBus returns a bus whose per-subscription queues hold depth
// events. Zero or negative selects the default of 100.
func NewBus(depth int) *Bus {
	if depth <= 0 {
		depth = 100
	}
	return &Bus{
		subs:  make(map[EventType]map[int]*subscription),
		depth: depth,
	}
}

// Subscribe registers fn for one event type and returns the function
// that cancels the subscription. The cancel function is safe to call
// more than once.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	sub := &subscription{queue: make(chan Event, b.depth)}
	go sub.drain(fn)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.queue)
		return func() {}
	}
	id := b.nextID
	b.nextID++
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int]*subscription)
	}
	b.subs[eventType][id] = sub
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subs[eventType][id]; ok {
				delete(b.subs[eventType], id)
				close(s.queue)
			}
		})
	}
}

// Publish stamps the event and offers it to every subscription of the
// matching type. Subscriptions with a full queue miss this event.
func (b *Bus) Publish(eventType EventType, data map[string]interface{}) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub.queue <- ev:
		default:
		}
	}
}

// Close cancels every subscription. Publishing afterwards is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, byID := range b.subs {
		for _, sub := range byID {
			close(sub.queue)
		}
	}
	b.subs = make(map[EventType]map[int]*subscription)
}
