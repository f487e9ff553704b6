package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventKind identifies a session change.
type EventKind string

// Event kinds.
const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventSelfUpdated  EventKind = "self_updated"
	EventContacts     EventKind = "contacts"
	EventStatus       EventKind = "status"
)

// Event is a snapshot of one session change. Events own their data, so
// listeners may keep them.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Time      time.Time       `json:"time"`
	Target    string          `json:"target,omitempty"`
	Self      *SelfIdentity   `json:"self,omitempty"`
	Contacts  []ContactRecord `json:"contacts,omitempty"`
	Status    *StatusRecord   `json:"status,omitempty"`
	StatusKey string          `json:"status_key,omitempty"`
}

// Listener receives session events.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// HandleEvent calls f(e).
func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// Publisher accepts session events.
type Publisher interface {
	Publish(Event)
}

// Broadcaster fans events out to listeners on its own goroutine so that a
// slow listener never delays a response line. When its queue is full new
// events are dropped and counted.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners []Listener
	closed    bool

	events  chan Event
	wg      sync.WaitGroup
	dropped atomic.Uint64
	logger  Logger
}

// NewBroadcaster starts a broadcaster with the given queue depth.
func NewBroadcaster(buffer int, logger Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = noopLogger{}
	}
	b := &Broadcaster{
		events: make(chan Event, buffer),
		logger: logger,
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe adds a listener. Listeners added later miss earlier events.
func (b *Broadcaster) Subscribe(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish queues e without blocking.
func (b *Broadcaster) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("session event dropped, listeners too slow", "kind", e.Kind)
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (b *Broadcaster) Dropped() uint64 {
	return b.dropped.Load()
}

// Close delivers any queued events and stops the broadcaster.
// Safe to call multiple times.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.events)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()
	for e := range b.events {
		b.mu.RLock()
		listeners := append([]Listener(nil), b.listeners...)
		b.mu.RUnlock()

		for _, l := range listeners {
			b.deliver(l, e)
		}
	}
}

func (b *Broadcaster) deliver(l Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("session listener panicked", "kind", e.Kind, "panic", r)
		}
	}()
	l.HandleEvent(e)
}
