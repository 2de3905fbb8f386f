// Package mover implements the mover actor: the transport executor that
// holds physical state, drives a plan from the path planner against the
// physical driver, and knows nothing about workflows, per spec §4.7.
// Grounded on goakt's PreStart/Receive/PostStop actor contract and its
// Tick-driven position poll, and on RemoteStation's driver-call pattern
// for how a device-like actor talks to hardware through a narrow
// interface.
package mover

import (
	"context"
	"fmt"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/planner"
	"go.uber.org/zap"
)

// TransportTo asks the mover to plan and execute a move to destination on
// behalf of plateID.
type TransportTo struct {
	Destination model.Location
	PlateID     model.PlateID
}

// TransportToResult reports the outcome.
type TransportToResult struct {
	OK bool
}

// ReleaseFromPlate is a tell: clear assigned_plate iff it currently equals
// plateID (invariant I2/I4 guard).
type ReleaseFromPlate struct {
	PlateID model.PlateID
}

// GetState is an ask returning model.MoverPhysicalState.
type GetState struct{}

// PositionPollInterval bounds how often Tick refreshes physical state and
// emits mover.position_changed, per spec §4.7's default 100ms.
const PositionPollInterval = 100 * time.Millisecond

// Actor is the mover actor.
type Actor struct {
	id      model.MoverID
	deck    *model.Deck
	planner *planner.Planner
	phys    driver.PhysicalDriver
	bus     *eventbus.Bus
	logger  *zap.Logger

	assignedPlate model.PlateID
	hasPlate      bool
	lastPoll      time.Time
	lastPublished model.MoverPhysicalState
}

// New builds a mover actor with identity id.
func New(id model.MoverID, deck *model.Deck, pl *planner.Planner, phys driver.PhysicalDriver, bus *eventbus.Bus, logger *zap.Logger) *Actor {
	return &Actor{id: id, deck: deck, planner: pl, phys: phys, bus: bus, logger: logger.With(zap.String("mover_id", string(id)))}
}

func (a *Actor) PreStart(context.Context) error { return nil }
func (a *Actor) PostStop(context.Context) error { return nil }

func (a *Actor) Receive(ctx *actorkit.Context) {
	switch msg := ctx.Message().(type) {
	case TransportTo:
		a.handleTransport(ctx, msg)
	case ReleaseFromPlate:
		a.handleRelease(msg)
	case GetState:
		state, err := a.phys.GetPhysicalState(ctx.Context(), a.id)
		if err != nil {
			ctx.Err(err)
			return
		}
		ctx.Response(state)
	default:
		ctx.Err(corerrors.ErrUnknownMessage)
	}
}

// Tick refreshes physical state from the driver and emits
// mover.position_changed at most once per PositionPollInterval. A mover
// never autonomously plans motion — Tick is polling only.
func (a *Actor) Tick(ctx context.Context) {
	if time.Since(a.lastPoll) < PositionPollInterval {
		return
	}
	a.lastPoll = time.Now()
	state, err := a.phys.GetPhysicalState(ctx, a.id)
	if err != nil {
		return
	}
	if state != a.lastPublished {
		a.lastPublished = state
		a.bus.Publish("mover.position_changed", map[string]any{
			"mover_id": a.id, "position": state.Position,
		})
	}
}

func (a *Actor) handleTransport(ctx *actorkit.Context, msg TransportTo) {
	if a.hasPlate && a.assignedPlate != msg.PlateID {
		ctx.Err(fmt.Errorf("mover %s already assigned to plate %s", a.id, a.assignedPlate))
		return
	}
	a.assignedPlate, a.hasPlate = msg.PlateID, true

	from, err := a.phys.GetPhysicalState(ctx.Context(), a.id)
	if err != nil {
		ctx.Err(err)
		return
	}

	plan, err := a.planner.Plan(a.deck, from.Position, msg.Destination, planner.Constraints{})
	if err != nil {
		a.bus.Publish("mover.transport_failed", map[string]any{"mover_id": a.id, "plate_id": msg.PlateID, "error": err.Error()})
		ctx.Err(err)
		return
	}
	if plan.Empty() {
		a.phys.SetIdle(a.id)
		a.bus.Publish("mover.transport_completed", map[string]any{"mover_id": a.id, "plate_id": msg.PlateID})
		ctx.Response(TransportToResult{OK: true})
		return
	}

	a.bus.Publish("mover.transport_started", map[string]any{"mover_id": a.id, "plate_id": msg.PlateID})

	for i, cmd := range plan.Commands {
		result := a.phys.ExecuteCommand(ctx.Context(), a.id, cmd)
		if !result.Success {
			a.bus.Publish("mover.transport_failed", map[string]any{
				"mover_id": a.id, "plate_id": msg.PlateID, "error": errString(result.Err),
			})
			ctx.Err(fmt.Errorf("command %d failed: %w", i, result.Err))
			return
		}
		a.bus.Publish("mover.transport_progress", map[string]any{
			"mover_id": a.id, "plate_id": msg.PlateID, "step": i, "of": len(plan.Commands),
		})
	}

	a.phys.SetIdle(a.id)
	a.bus.Publish("mover.transport_completed", map[string]any{"mover_id": a.id, "plate_id": msg.PlateID})
	ctx.Response(TransportToResult{OK: true})
}

func (a *Actor) handleRelease(msg ReleaseFromPlate) {
	if a.hasPlate && a.assignedPlate == msg.PlateID {
		a.hasPlate = false
		a.assignedPlate = ""
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
