// Package actorkit implements the actor runtime: bounded mailboxes, the
// tell/ask send primitives, a cooperative drain-then-tick loop, and error
// isolation per actor. It has no knowledge of plates, movers, or devices —
// those are built on top of it.
package actorkit

import "context"

// Actor is the contract every unit of the scheduling core implements.
// Structs implementing Actor should keep their fields unexported and
// mutate them only from within Receive/Tick, since the runtime guarantees
// at most one of those calls executes at a time for a given actor.
type Actor interface {
	// PreStart runs once before the actor processes any message. An error
	// here aborts the spawn; the actor never starts its loop.
	PreStart(ctx context.Context) error

	// Receive handles one message taken from the mailbox. Handlers must not
	// block indefinitely; long operations should be driven from Tick or
	// offloaded and reported back via a follow-up message.
	Receive(ctx *Context)

	// PostStop runs once after the loop exits on Stop, and should release
	// any owned external resource.
	PostStop(ctx context.Context) error
}

// Ticker is implemented by actors with autonomous per-loop behavior, e.g.
// the plate actor driving itself through its workflow, or the mover actor
// polling the physical driver. Tick is invoked once per loop iteration
// after the mailbox has been drained, never concurrently with Receive.
type Ticker interface {
	Tick(ctx context.Context)
}
