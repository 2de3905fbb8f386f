// Package moverpool implements the mover pool dispatcher: FIFO waiter
// queue, cost-based selection among available movers, and ownership
// tracking, per spec §4.5. Grounded on goakt's single-owner dispatcher
// actors (pools.go) for the actor shape, and on industrial-4.0-demo's
// per-resource channel semaphores for the underlying "who currently holds
// this resource" bookkeeping — generalized here to a full FIFO waiter
// protocol instead of a bare channel, since callers must learn which
// specific mover they were granted.
package moverpool

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/planner"
	"go.uber.org/zap"
)

// RequestMover is an ask. If a mover is immediately available the handler
// responds with RequestMoverResult right away; otherwise the request is
// queued FIFO and only answered when a later ReleaseMover fulfills it, so
// callers must pass a generous timeout (see WaiterAskTimeout).
type RequestMover struct {
	PlateID         model.PlateID
	DestinationHint model.LocationID
}

// RequestMoverResult carries the granted mover's id and PID.
type RequestMoverResult struct {
	MoverID model.MoverID
	Mover   *actorkit.PID
}

// ReleaseMover is a tell: give the mover back to the pool, potentially
// fulfilling the oldest waiter.
type ReleaseMover struct {
	MoverID model.MoverID
}

// WaiterAskTimeout bounds how long a plate will wait in the mover pool's
// FIFO queue before giving up. It is intentionally generous: the spec's
// wait is unbounded until release in practice. A request that does time out
// fails with ErrTimeout, which the plate's askRetrying treats as transient
// and retries with backoff before failing the step.
const WaiterAskTimeout = 24 * time.Hour

type waiter struct {
	rctx    *actorkit.Context
	plateID model.PlateID
	hint    model.LocationID
}

// Actor is the mover pool.
type Actor struct {
	deck    *model.Deck
	planner *planner.Planner
	bus     *eventbus.Bus
	logger  *zap.Logger

	movers    map[model.MoverID]*actorkit.PID
	available mapset.Set[model.MoverID]
	assigned  map[model.MoverID]model.PlateID
	waiters   []waiter
}

// New builds a mover pool over the given set of already-spawned mover
// PIDs, all initially available.
func New(deck *model.Deck, pl *planner.Planner, bus *eventbus.Bus, logger *zap.Logger, movers map[model.MoverID]*actorkit.PID) *Actor {
	available := mapset.NewSet[model.MoverID]()
	for id := range movers {
		available.Add(id)
	}
	return &Actor{
		deck:      deck,
		planner:   pl,
		bus:       bus,
		logger:    logger,
		movers:    movers,
		available: available,
		assigned:  make(map[model.MoverID]model.PlateID),
	}
}

func (a *Actor) PreStart(context.Context) error { return nil }
func (a *Actor) PostStop(context.Context) error { return nil }

func (a *Actor) Receive(ctx *actorkit.Context) {
	switch msg := ctx.Message().(type) {
	case RequestMover:
		a.handleRequest(ctx, msg)
	case ReleaseMover:
		a.handleRelease(msg)
	default:
		ctx.Err(corerrors.ErrUnknownMessage)
	}
}

func (a *Actor) handleRequest(ctx *actorkit.Context, msg RequestMover) {
	a.bus.Publish("plate.mover_requested", map[string]any{"plate_id": msg.PlateID})

	if a.available.Cardinality() > 0 {
		chosen := a.selectBest(msg.DestinationHint)
		a.grant(ctx, chosen, msg.PlateID)
		return
	}
	a.waiters = append(a.waiters, waiter{rctx: ctx, plateID: msg.PlateID, hint: msg.DestinationHint})
}

func (a *Actor) handleRelease(msg ReleaseMover) {
	delete(a.assigned, msg.MoverID)
	a.available.Add(msg.MoverID)
	a.bus.Publish("mover.released", map[string]any{"mover_id": msg.MoverID})

	if len(a.waiters) == 0 {
		return
	}
	head := a.waiters[0]
	a.waiters = a.waiters[1:]
	chosen := a.selectBest(head.hint)
	a.grant(head.rctx, chosen, head.plateID)
}

// selectBest picks the available mover with the lowest planner-estimated
// cost to hint, tie-breaking on the lower mover_id, per spec §4.5.
func (a *Actor) selectBest(hint model.LocationID) model.MoverID {
	candidates := a.available.ToSlice()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	loc, err := a.deck.Location(hint)
	if err != nil {
		return candidates[0]
	}

	best := candidates[0]
	bestCost := a.costTo(best, loc)
	for _, cand := range candidates[1:] {
		cost := a.costTo(cand, loc)
		if cost < bestCost {
			best, bestCost = cand, cost
		}
	}
	return best
}

func (a *Actor) costTo(moverID model.MoverID, dest model.Location) float64 {
	pid, ok := a.movers[moverID]
	if !ok {
		return 0
	}
	res, err := pid.Ask(context.Background(), nil, mover.GetState{}, 0)
	if err != nil {
		return 1e18
	}
	snap, ok := res.(model.MoverPhysicalState)
	if !ok {
		return 1e18
	}
	plan, err := a.planner.Plan(a.deck, snap.Position, dest, planner.Constraints{})
	if err != nil {
		return snap.Position.DistanceTo(dest.Position)
	}
	return plan.Cost
}

func (a *Actor) grant(rctx *actorkit.Context, moverID model.MoverID, plateID model.PlateID) {
	a.available.Remove(moverID)
	a.assigned[moverID] = plateID
	pid, ok := a.movers[moverID]
	if !ok {
		rctx.Err(fmt.Errorf("mover %s: %w", moverID, corerrors.ErrActorNotFound))
		return
	}
	a.bus.Publish("mover.assigned", map[string]any{"mover_id": moverID, "plate_id": plateID})
	rctx.Response(RequestMoverResult{MoverID: moverID, Mover: pid})
}
