// Package events implements the domain-event publisher from spec §4.1: a
// multicast-by-name registry that fans events out to registered handlers in
// the order they were published. Aggregates accumulate events in a
// per-instance buffer (pullDomainEvents pattern, spec §9); the use-case that
// invoked the mutation drains that buffer and hands the events to a
// Publisher. There is no ambient global publisher — callers own the
// instance and inject it where needed, matching the teacher's preference
// for explicit dependency injection over package-level singletons.
package events

import (
	"context"
	"sync"
	"time"
)

// Name is the stable event-name contract from spec §4.1.
type Name string

const (
	RoomCreated            Name = "room-created"
	PlayerJoined           Name = "player-joined"
	PlayerLeft             Name = "player-left"
	RoomRuleChanged        Name = "room-rule-changed"
	RoomClosed             Name = "room-closed"
	ConnectionStateChanged Name = "connection-state-changed"
	IceCandidateReceived   Name = "ice-candidate-received"
	OfferReceived          Name = "offer-received"
	AnswerReceived         Name = "answer-received"
	ConnectionTimeout      Name = "connection-timeout"
)

// Event is a single domain event. Payload holds the event-specific fields
// described in spec §4.1 (e.g. roomId/ownerId/rules for room-created).
// OccurredOn provides monotonic ordering within a single publisher instance.
type Event struct {
	EventName  Name
	Payload    any
	OccurredOn int64
}

// Handler receives one event at a time. A handler error is recorded but
// does not stop other handlers or other events in a PublishAll batch
// (spec §4.1: at-least-once semantics within the batch).
type Handler func(ctx context.Context, evt Event) error

// Subscription identifies a single Register call so it can be Unregistered
// later. Go funcs aren't comparable, so the publisher hands back a token
// instead of requiring callers to pass the original handler back in.
type Subscription struct {
	name Name
	id   uint64
}

type entry struct {
	id      uint64
	handler Handler
}

// Publisher registers handlers per event name and fans events out to them
// in registration order. It is safe for concurrent use.
type Publisher struct {
	mu       sync.Mutex
	handlers map[Name][]entry
	seq      int64
	nextID   uint64
	clock    func() int64
}

// NewPublisher constructs an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		handlers: make(map[Name][]entry),
		clock:    func() int64 { return time.Now().UnixNano() },
	}
}

// Register appends handler to the list invoked for name. Duplicates are
// permitted; each registered handler fires once per matching publish.
func (p *Publisher) Register(name Name, handler Handler) Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := p.nextID
	p.handlers[name] = append(p.handlers[name], entry{id: id, handler: handler})
	return Subscription{name: name, id: id}
}

// Unregister removes the handler identified by sub, if it is still
// registered. It is a no-op if the subscription was already removed.
func (p *Publisher) Unregister(sub Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.handlers[sub.name]
	for i, e := range list {
		if e.id == sub.id {
			p.handlers[sub.name] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// nextSeq returns a monotonically increasing sequence number, used as
// OccurredOn so events from a single publisher instance sort consistently
// even if the wall clock doesn't advance between two publishes.
func (p *Publisher) nextSeq() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	return p.seq
}

// Publish fans evt out to every handler registered for evt.EventName,
// awaiting all of them. It returns the first handler error encountered, if
// any, after every handler has been invoked.
func (p *Publisher) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredOn == 0 {
		evt.OccurredOn = p.nextSeq()
	}

	p.mu.Lock()
	list := make([]entry, len(p.handlers[evt.EventName]))
	copy(list, p.handlers[evt.EventName])
	p.mu.Unlock()

	var firstErr error
	for _, e := range list {
		if err := e.handler(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishAll publishes each event in order. If a handler fails for one
// event, the failure is recorded but subsequent events in the batch are
// still attempted (spec §4.1).
func (p *Publisher) PublishAll(ctx context.Context, evts []Event) error {
	var firstErr error
	for _, evt := range evts {
		if err := p.Publish(ctx, evt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Buffer is the per-aggregate append buffer aggregates use to accumulate
// events between mutations (spec §9 "aggregate event collection"). It is
// not safe for concurrent use by design: aggregates are expected to be
// guarded by their owning repository's per-aggregate transaction boundary.
type Buffer struct {
	events []Event
}

// Emit appends an event to the buffer.
func (b *Buffer) Emit(name Name, payload any) {
	b.events = append(b.events, Event{EventName: name, Payload: payload})
}

// Pull drains and returns the buffered events, resetting the buffer.
func (b *Buffer) Pull() []Event {
	out := b.events
	b.events = nil
	return out
}
