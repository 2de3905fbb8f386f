// Package eventbus implements the publish/subscribe event propagation used
// to surface plate, mover, device, and station state changes to observers,
// grounded on goakt's eventstream fan-out and the dotted EventType naming
// of industrial-4.0-demo's event.Bus, generalized here to glob patterns.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single published occurrence. Name is a dotted, lowercase
// identifier such as "plate.step_completed"; Payload is whatever the
// publisher attaches (typically a JSON-serializable snapshot struct).
type Event struct {
	Name      string
	Payload   any
	Sequence  uint64
	Timestamp time.Time
}

// DefaultRingSize is the number of recent events retained per subscriber
// for late queries, per spec §4.2.
const DefaultRingSize = 100

// Handle lets a subscriber stop receiving events and release its ring.
type Handle interface {
	Unsubscribe()
}

type subscription struct {
	id       uint64
	pat      pattern
	callback func(Event)

	mu   sync.Mutex
	ring []Event
	head int
	size int
}

func (s *subscription) record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) < DefaultRingSize {
		s.ring = append(s.ring, ev)
		return
	}
	s.ring[s.head] = ev
	s.head = (s.head + 1) % DefaultRingSize
}

// Recent returns the subscriber's retained events in publication order,
// oldest first.
func (s *subscription) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, 0, len(s.ring))
	if len(s.ring) < DefaultRingSize {
		out = append(out, s.ring...)
		return out
	}
	out = append(out, s.ring[s.head:]...)
	out = append(out, s.ring[:s.head]...)
	return out
}

func (s *subscription) Unsubscribe() {}

// Bus is a single-process event bus. Publish is synchronous best-effort to
// every matching subscriber, in registration order; a subscriber callback
// that panics is caught, logged, and does not prevent remaining
// subscribers from running.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscription
	nextID uint64
	seq    uint64
	logger *zap.Logger
}

// New creates an empty event bus.
func New(logger *zap.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers callback against pattern (e.g. "plate.*", "mover.transport_*",
// "**"). The returned handle's Unsubscribe removes the registration.
func (b *Bus) Subscribe(patternStr string, callback func(Event)) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &subscription{id: b.nextID, pat: compilePattern(patternStr), callback: callback}
	b.subs = append(b.subs, sub)
	return &unsubscribeHandle{bus: b, id: sub.id}
}

type unsubscribeHandle struct {
	bus *Bus
	id  uint64
}

func (h *unsubscribeHandle) Unsubscribe() {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	for i, s := range h.bus.subs {
		if s.id == h.id {
			h.bus.subs = append(h.bus.subs[:i], h.bus.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to every subscriber whose pattern matches name,
// in registration order. Each matching subscriber's ring is updated before
// its callback runs, so a Recent() call made from inside the callback sees
// the current event.
func (b *Bus) Publish(name string, payload any) {
	b.mu.Lock()
	b.seq++
	ev := Event{Name: name, Payload: payload, Sequence: b.seq, Timestamp: time.Now()}
	matching := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.pat.match(name) {
			matching = append(matching, s)
		}
	}
	b.mu.Unlock()

	for _, s := range matching {
		s.record(ev)
		b.invoke(s, ev)
	}
}

func (b *Bus) invoke(s *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("eventbus.subscriber_panic",
					zap.Any("recovered", r), zap.String("event", ev.Name))
			}
		}
	}()
	s.callback(ev)
}
