// Package devicepool implements the device pool dispatcher: the same FIFO
// waiter-queue shape as moverpool, but partitioned per device_type with
// each individual device carrying capacity 1, per spec §4.6. Grounded on
// goakt's single-owner dispatcher actors for the actor shape and directly
// mirroring internal/moverpool's protocol, since the spec describes device
// acquisition as structurally identical to mover acquisition.
package devicepool

import (
	"context"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"go.uber.org/zap"
)

// WaiterAskTimeout bounds how long a plate will wait in a device pool's
// FIFO queue before giving up, mirroring moverpool.WaiterAskTimeout.
const WaiterAskTimeout = 24 * time.Hour

// RequestDevice is an ask for any available device of DeviceType. Like
// moverpool.RequestMover, an unfulfilled request is queued FIFO per type
// and answered later by a ReleaseDevice, so callers need a generous
// timeout.
type RequestDevice struct {
	PlateID    model.PlateID
	DeviceType model.DeviceType
}

// RequestDeviceResult carries the granted device's id and PID.
type RequestDeviceResult struct {
	DeviceID model.DeviceID
	Device   *actorkit.PID
}

// ReleaseDevice is a tell: give the device back to the pool, potentially
// fulfilling the oldest same-type waiter.
type ReleaseDevice struct {
	DeviceID model.DeviceID
}

type deviceEntry struct {
	pid  *actorkit.PID
	typ  model.DeviceType
}

type waiter struct {
	rctx    *actorkit.Context
	plateID model.PlateID
}

// Actor is the device pool.
type Actor struct {
	bus    *eventbus.Bus
	logger *zap.Logger

	devices   map[model.DeviceID]deviceEntry
	byType    map[model.DeviceType][]model.DeviceID
	available mapset.Set[model.DeviceID]
	assigned  map[model.DeviceID]model.PlateID
	waiters   map[model.DeviceType][]waiter
}

// New builds a device pool over the given already-spawned device PIDs,
// keyed by id, all initially available. types maps each device id to the
// DeviceType it offers.
func New(bus *eventbus.Bus, logger *zap.Logger, devices map[model.DeviceID]*actorkit.PID, types map[model.DeviceID]model.DeviceType) *Actor {
	available := mapset.NewSet[model.DeviceID]()
	entries := make(map[model.DeviceID]deviceEntry, len(devices))
	byType := make(map[model.DeviceType][]model.DeviceID)
	for id, pid := range devices {
		typ := types[id]
		entries[id] = deviceEntry{pid: pid, typ: typ}
		available.Add(id)
		byType[typ] = append(byType[typ], id)
	}
	for typ := range byType {
		sort.Slice(byType[typ], func(i, j int) bool { return byType[typ][i] < byType[typ][j] })
	}
	return &Actor{
		bus:       bus,
		logger:    logger,
		devices:   entries,
		byType:    byType,
		available: available,
		assigned:  make(map[model.DeviceID]model.PlateID),
		waiters:   make(map[model.DeviceType][]waiter),
	}
}

func (a *Actor) PreStart(context.Context) error { return nil }
func (a *Actor) PostStop(context.Context) error { return nil }

func (a *Actor) Receive(ctx *actorkit.Context) {
	switch msg := ctx.Message().(type) {
	case RequestDevice:
		a.handleRequest(ctx, msg)
	case ReleaseDevice:
		a.handleRelease(msg)
	default:
		ctx.Err(corerrors.ErrUnknownMessage)
	}
}

func (a *Actor) handleRequest(ctx *actorkit.Context, msg RequestDevice) {
	a.bus.Publish("plate.device_requested", map[string]any{"plate_id": msg.PlateID, "device_type": msg.DeviceType})

	if id, ok := a.firstAvailableOfType(msg.DeviceType); ok {
		a.grant(ctx, id, msg.PlateID)
		return
	}
	a.waiters[msg.DeviceType] = append(a.waiters[msg.DeviceType], waiter{rctx: ctx, plateID: msg.PlateID})
}

func (a *Actor) handleRelease(msg ReleaseDevice) {
	entry, ok := a.devices[msg.DeviceID]
	if !ok {
		return
	}
	delete(a.assigned, msg.DeviceID)
	a.available.Add(msg.DeviceID)
	a.bus.Publish("device.released", map[string]any{"device_id": msg.DeviceID})

	queue := a.waiters[entry.typ]
	if len(queue) == 0 {
		return
	}
	head := queue[0]
	a.waiters[entry.typ] = queue[1:]
	a.grant(head.rctx, msg.DeviceID, head.plateID)
}

// firstAvailableOfType returns the lowest device_id of the given type that
// is currently available, tie-breaking deterministically as in the mover
// pool.
func (a *Actor) firstAvailableOfType(typ model.DeviceType) (model.DeviceID, bool) {
	for _, id := range a.byType[typ] {
		if a.available.Contains(id) {
			return id, true
		}
	}
	return "", false
}

func (a *Actor) grant(rctx *actorkit.Context, id model.DeviceID, plateID model.PlateID) {
	a.available.Remove(id)
	a.assigned[id] = plateID
	entry := a.devices[id]
	a.bus.Publish("device.assigned", map[string]any{"device_id": id, "plate_id": plateID})
	rctx.Response(RequestDeviceResult{DeviceID: id, Device: entry.pid})
}
