package actorkit

import "context"

// envelope is the unit of mailbox traffic: a message plus enough metadata
// to support both tell (fire-and-forget) and ask (request/response with
// timeout) sends. reply is nil for a tell.
type envelope struct {
	ctx     context.Context
	message any
	from    *PID
	reply   chan askResult
}

// askResult carries the outcome of a request/response handler invocation
// back to the asking goroutine.
type askResult struct {
	value any
	err   error
}

// Context is the per-message handling environment passed to Actor.Receive.
// It is the actor-runtime analogue of goakt's ReceiveContext: it exposes the
// message, the sender, and the Response/Err methods used to complete an
// outstanding ask.
type Context struct {
	ctx     context.Context
	self    *PID
	from    *PID
	message any
	reply   chan askResult
	system  *System

	responded bool
}

// Context returns the context.Context carried by the originating send,
// honoring its deadline and cancellation.
func (c *Context) Context() context.Context { return c.ctx }

// Self returns the PID of the actor handling this message.
func (c *Context) Self() *PID { return c.self }

// Sender returns the PID that sent this message, or nil for messages with
// no sender (e.g. a Tick-internal self-send with no reply expected).
func (c *Context) Sender() *PID { return c.from }

// Message returns the payload delivered to this handler invocation.
func (c *Context) Message() any { return c.message }

// System returns the actor system this actor is registered in, so a
// handler can look up peer actors by id to tell/ask them.
func (c *Context) System() *System { return c.system }

// Response completes an outstanding ask with a successful value. It is a
// no-op (and safe to call) on a tell-originated Context. Calling it more
// than once on the same Context has no further effect.
func (c *Context) Response(value any) {
	if c.reply == nil || c.responded {
		return
	}
	c.responded = true
	c.reply <- askResult{value: value}
	close(c.reply)
}

// Err completes an outstanding ask with a failure. Semantics mirror
// Response.
func (c *Context) Err(err error) {
	if c.reply == nil || c.responded {
		return
	}
	c.responded = true
	c.reply <- askResult{err: err}
	close(c.reply)
}
