package actorkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/movelab/shuttlecore/internal/corerrors"
	"go.uber.org/zap"
)

// DefaultAskTimeout bounds an ask that does not specify its own deadline.
const DefaultAskTimeout = 5 * time.Second

// maxDrainPerTick bounds how many mailbox messages a loop iteration drains
// before invoking Tick, so a bursty sender can never starve an actor's
// autonomous behavior.
const maxDrainPerTick = 64

// PID is a reference to a running actor: its mailbox, its identity, and the
// loop goroutine processing it. Callers never touch actor state directly —
// only through Tell and Ask against a PID.
type PID struct {
	id      string
	actor   Actor
	mailbox Mailbox
	system  *System
	logger  *zap.Logger

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopOne sync.Once
}

// ID returns the actor's identity, stable for its lifetime.
func (p *PID) ID() string { return p.id }

// IsRunning reports whether the actor's loop is currently alive.
func (p *PID) IsRunning() bool { return p.running.Load() }

// Tell sends message fire-and-forget. It blocks the caller only if the
// mailbox is momentarily full (back-pressure), never waiting for the
// message to be handled.
func (p *PID) Tell(ctx context.Context, from *PID, message any) error {
	if !p.running.Load() {
		return corerrors.ErrMailboxClosed
	}
	return p.mailbox.Enqueue(&envelope{ctx: ctx, message: message, from: from})
}

// Ask sends message and blocks the caller until the handler calls
// Context.Response/Err, the timeout elapses, or the actor stops. On
// timeout the reply channel is abandoned: a late handler that still tries
// to respond writes into a channel nobody reads anymore (buffered, so it
// does not leak a blocked goroutine) and its result is discarded.
func (p *PID) Ask(ctx context.Context, from *PID, message any, timeout time.Duration) (any, error) {
	if !p.running.Load() {
		return nil, corerrors.ErrMailboxClosed
	}
	if timeout <= 0 {
		timeout = DefaultAskTimeout
	}
	reply := make(chan askResult, 1)
	env := &envelope{ctx: ctx, message: message, from: from, reply: reply}
	if err := p.mailbox.Enqueue(env); err != nil {
		return nil, fmt.Errorf("enqueue ask to %s: %w", p.id, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-reply:
		return res.value, res.err
	case <-timer.C:
		return nil, corerrors.ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop halts the actor's loop in orderly fashion: it stops accepting new
// drains, lets the current iteration finish, invokes PostStop, and
// disposes the mailbox.
func (p *PID) Stop(ctx context.Context) {
	p.stopOne.Do(func() {
		close(p.stopCh)
	})
	<-p.doneCh
	_ = p.actor.PostStop(ctx)
	p.mailbox.Dispose()
}

// run is the actor's dedicated loop goroutine: drain all currently queued
// messages (bounded fairness), then Tick if the actor implements Ticker,
// then yield. A panic in a handler is recovered, logged as actor.error,
// passed to the system's error hook, and does not terminate the actor; the
// loop exits only on Stop.
func (p *PID) run() {
	defer close(p.doneCh)
	ticker, isTicker := p.actor.(Ticker)

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		drained := 0
		for drained < maxDrainPerTick {
			env := p.mailbox.Dequeue()
			if env == nil {
				break
			}
			p.handle(env)
			drained++
		}

		if isTicker {
			ticker.Tick(context.Background())
		}

		if drained == 0 {
			select {
			case <-p.stopCh:
				return
			case <-time.After(2 * time.Millisecond):
			}
		}
	}
}

// handle invokes Receive for a single envelope with panic/error isolation.
func (p *PID) handle(env *envelope) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in %s: %v", p.id, r)
			p.onActorError(err)
			if env.reply != nil {
				select {
				case env.reply <- askResult{err: err}:
				default:
				}
			}
		}
	}()

	rctx := &Context{
		ctx:     env.ctx,
		self:    p,
		from:    env.from,
		message: env.message,
		reply:   env.reply,
		system:  p.system,
	}
	p.actor.Receive(rctx)
}

func (p *PID) onActorError(err error) {
	p.logger.Error("actor.error", zap.String("actor_id", p.id), zap.Error(err))
	if p.system != nil && p.system.errorHook != nil {
		p.system.errorHook(p.id, err)
	}
}
