// Package stationmgr implements the station manager actor: per-station
// occupancy tracking and FIFO wait queues, gating access to devices per
// spec §4.4. Grounded on the single-owner-actor pattern goakt uses for its
// dispatcher actors and on the resourcePools/station bookkeeping in
// industrial-4.0-demo's engine package, generalized here to a full
// request/queue/grant protocol instead of a bare semaphore channel.
package stationmgr

import (
	"context"
	"fmt"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"go.uber.org/zap"
)

// RequestAccess asks for admission to a station. The response is a
// RequestAccessResult.
type RequestAccess struct {
	PlateID   model.PlateID
	StationID model.StationID
}

// RequestAccessResult reports whether access was granted immediately or
// the plate was queued, along with the physical queue_location the caller
// must park at while waiting.
type RequestAccessResult struct {
	Granted      bool
	QueuePos     int
	QueueLocation model.LocationID
}

// ReleaseAccess is a tell: give up occupancy, potentially granting the
// station's queue head.
type ReleaseAccess struct {
	PlateID   model.PlateID
	StationID model.StationID
}

// CancelRequest removes a plate from a station's wait queue if present
// (used during Abort/error recovery).
type CancelRequest struct {
	PlateID   model.PlateID
	StationID model.StationID
}

// Snapshot is an inspection query returning occupant/queue counts for
// every configured station.
type Snapshot struct{}

// StationSnapshot is one entry of the Snapshot response.
type StationSnapshot struct {
	StationID     model.StationID
	Occupants     int
	Slots         int
	QueueLength   int
	QueuedPlateIDs []model.PlateID
}

type stationState struct {
	slots     int
	queueLoc  model.LocationID
	occupants map[model.PlateID]bool
	queue     []model.PlateID
}

// Actor is the station manager. All mutation happens inside Receive, so no
// locking is needed for its own state (invariant per spec §5).
type Actor struct {
	deck    *model.Deck
	bus     *eventbus.Bus
	logger  *zap.Logger
	states  map[model.StationID]*stationState
}

// New builds a station manager actor over the given deck's configured
// stations.
func New(deck *model.Deck, bus *eventbus.Bus, logger *zap.Logger) *Actor {
	states := make(map[model.StationID]*stationState, len(deck.Stations))
	for id, st := range deck.Stations {
		states[id] = &stationState{
			slots:     st.Slots,
			queueLoc:  st.QueueLoc,
			occupants: make(map[model.PlateID]bool),
		}
	}
	return &Actor{deck: deck, bus: bus, logger: logger, states: states}
}

func (a *Actor) PreStart(context.Context) error { return nil }
func (a *Actor) PostStop(context.Context) error { return nil }

// Receive dispatches on the tagged message-variant set, per spec §9's note
// that new message kinds should be exhaustively handled here.
func (a *Actor) Receive(ctx *actorkit.Context) {
	switch msg := ctx.Message().(type) {
	case RequestAccess:
		a.handleRequestAccess(ctx, msg)
	case ReleaseAccess:
		a.handleReleaseAccess(msg)
	case CancelRequest:
		a.handleCancelRequest(msg)
	case Snapshot:
		ctx.Response(a.handleSnapshot())
	default:
		ctx.Err(corerrors.ErrUnknownMessage)
	}
}

func (a *Actor) handleRequestAccess(ctx *actorkit.Context, msg RequestAccess) {
	state, ok := a.states[msg.StationID]
	if !ok {
		ctx.Err(fmt.Errorf("station %s: %w", msg.StationID, corerrors.ErrStationRejected))
		return
	}

	a.bus.Publish("station.access_requested", map[string]any{
		"plate_id": msg.PlateID, "station_id": msg.StationID,
	})

	if len(state.occupants) < state.slots {
		state.occupants[msg.PlateID] = true
		ctx.Response(RequestAccessResult{Granted: true})
		return
	}

	state.queue = append(state.queue, msg.PlateID)
	ctx.Response(RequestAccessResult{
		Granted:       false,
		QueuePos:      len(state.queue) - 1,
		QueueLocation: state.queueLoc,
	})
}

func (a *Actor) handleReleaseAccess(msg ReleaseAccess) {
	state, ok := a.states[msg.StationID]
	if !ok {
		return
	}
	delete(state.occupants, msg.PlateID)
	a.bus.Publish("station.access_released", map[string]any{
		"plate_id": msg.PlateID, "station_id": msg.StationID,
	})

	for len(state.occupants) < state.slots && len(state.queue) > 0 {
		head := state.queue[0]
		state.queue = state.queue[1:]
		state.occupants[head] = true
		a.bus.Publish("station.access_granted", map[string]any{
			"plate_id": head, "station_id": msg.StationID,
		})
	}
}

func (a *Actor) handleCancelRequest(msg CancelRequest) {
	state, ok := a.states[msg.StationID]
	if !ok {
		return
	}
	for i, pid := range state.queue {
		if pid == msg.PlateID {
			state.queue = append(state.queue[:i], state.queue[i+1:]...)
			return
		}
	}
}

func (a *Actor) handleSnapshot() []StationSnapshot {
	out := make([]StationSnapshot, 0, len(a.states))
	for id, state := range a.states {
		queued := make([]model.PlateID, len(state.queue))
		copy(queued, state.queue)
		out = append(out, StationSnapshot{
			StationID:      id,
			Occupants:      len(state.occupants),
			Slots:          state.slots,
			QueueLength:    len(state.queue),
			QueuedPlateIDs: queued,
		})
	}
	return out
}
