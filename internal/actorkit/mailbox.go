package actorkit

import (
	gods "github.com/Workiva/go-datastructures/queue"
)

// Mailbox is the bounded, blocking, multi-producer single-consumer queue
// backing every actor. Enqueue blocks the sender when the mailbox is full,
// which is the natural back-pressure mechanism the concurrency model relies
// on for bursty producers such as position polling.
type Mailbox interface {
	Enqueue(env *envelope) error
	Dequeue() *envelope
	Len() int64
	Dispose()
}

// ringMailbox is a Mailbox backed by a lock-free ring buffer. Producers that
// arrive when the ring is full block until the consumer drains space or the
// mailbox is disposed.
type ringMailbox struct {
	underlying *gods.RingBuffer
}

// DefaultMailboxCapacity is the bounded mailbox size used when an actor is
// spawned without an explicit override, per the concurrency model's default.
const DefaultMailboxCapacity = 256

func newRingMailbox(capacity int) *ringMailbox {
	if capacity <= 0 {
		capacity = DefaultMailboxCapacity
	}
	return &ringMailbox{underlying: gods.NewRingBuffer(uint64(capacity))}
}

func (m *ringMailbox) Enqueue(env *envelope) error {
	return m.underlying.Put(env)
}

func (m *ringMailbox) Dequeue() *envelope {
	if m.underlying.Len() == 0 {
		return nil
	}
	item, err := m.underlying.Get()
	if err != nil {
		return nil
	}
	env, _ := item.(*envelope)
	return env
}

func (m *ringMailbox) Len() int64 {
	return int64(m.underlying.Len())
}

func (m *ringMailbox) Dispose() {
	m.underlying.Dispose()
}
