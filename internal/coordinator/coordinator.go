// Package coordinator implements the workflow execution coordinator: the
// thin in-process surface an HTTP/WS layer or a demo binary drives,
// spawning plate actors, indexing them by id, and routing operator
// control messages, per spec §4.10 and §6. Grounded on goakt's
// ActorSystem-facing application layer (the part of a goakt-based service
// that sits above the actor system and exposes a plain Go API) and on
// industrial-4.0-demo's engine.Engine for the list/get/control surface
// shape.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/plate"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Coordinator owns the actor system and every spawned plate, and is the
// sole entry point a host process uses.
type Coordinator struct {
	system     *actorkit.System
	deck       *model.Deck
	bus        *eventbus.Bus
	logger     *zap.Logger
	moverPool  *actorkit.PID
	devicePool *actorkit.PID
	stationMgr *actorkit.PID
	movers     map[model.MoverID]*actorkit.PID

	mu     sync.RWMutex
	plates map[model.PlateID]*actorkit.PID
}

// New builds a coordinator over an already-assembled actor system: the
// caller is responsible for spawning the mover pool, device pool, and
// station manager (and the movers/devices they dispatch) beforehand, since
// their construction depends on the deck and driver wiring a cmd/ binary
// or test harness controls.
func New(system *actorkit.System, deck *model.Deck, bus *eventbus.Bus, logger *zap.Logger, moverPool, devicePool, stationMgr *actorkit.PID, movers map[model.MoverID]*actorkit.PID) *Coordinator {
	c := &Coordinator{
		system:     system,
		deck:       deck,
		bus:        bus,
		logger:     logger,
		moverPool:  moverPool,
		devicePool: devicePool,
		stationMgr: stationMgr,
		movers:     movers,
		plates:     make(map[model.PlateID]*actorkit.PID),
	}
	system.SetErrorHook(c.onActorError)
	return c
}

func (c *Coordinator) onActorError(actorID string, err error) {
	c.bus.Publish("actor.error", map[string]any{
		"actor_id": actorID, "error": err.Error(), "kind": corerrors.Classify(err),
	})
}

// SpawnPlate spawns a new plate actor under plateID and immediately feeds
// it the given workflow.
func (c *Coordinator) SpawnPlate(ctx context.Context, plateID model.PlateID, workflow *model.Workflow, sampleIDs []string, barcode string) error {
	c.mu.Lock()
	if _, exists := c.plates[plateID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("plate %s: %w", plateID, corerrors.ErrWrongPhase)
	}
	c.mu.Unlock()

	actor := plate.New(plateID, c.deck, c.bus, c.logger, c.moverPool, c.devicePool, c.stationMgr)
	pid, err := c.system.Spawn(ctx, "plate/"+string(plateID), actor)
	if err != nil {
		return fmt.Errorf("spawn plate %s: %w", plateID, err)
	}

	c.mu.Lock()
	c.plates[plateID] = pid
	c.mu.Unlock()

	c.bus.Publish("plate.created", map[string]any{"plate_id": plateID})
	if _, err := pid.Ask(ctx, nil, plate.AssignWorkflow{Workflow: workflow, SampleIDs: sampleIDs, Barcode: barcode}, 0); err != nil {
		return fmt.Errorf("assign workflow to plate %s: %w", plateID, err)
	}
	c.bus.Publish("plate.workflow_assigned", map[string]any{"plate_id": plateID, "workflow_id": workflow.ID})
	return nil
}

// GetPlateState returns one plate's current snapshot.
func (c *Coordinator) GetPlateState(ctx context.Context, plateID model.PlateID) (model.PlateStateSnapshot, error) {
	pid, err := c.lookupPlate(plateID)
	if err != nil {
		return model.PlateStateSnapshot{}, err
	}
	res, err := pid.Ask(ctx, nil, plate.GetSnapshot{}, 0)
	if err != nil {
		return model.PlateStateSnapshot{}, err
	}
	snap, ok := res.(model.PlateStateSnapshot)
	if !ok {
		return model.PlateStateSnapshot{}, fmt.Errorf("unexpected snapshot response for plate %s", plateID)
	}
	return snap, nil
}

// ListPlates returns a snapshot of every currently spawned plate, polling
// each plate's actor concurrently so one slow or stuck plate never holds up
// the rest of the listing.
func (c *Coordinator) ListPlates(ctx context.Context) ([]model.PlateStateSnapshot, error) {
	c.mu.RLock()
	ids := make([]model.PlateID, 0, len(c.plates))
	for id := range c.plates {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	snaps := make([]model.PlateStateSnapshot, len(ids))
	ok := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			snap, err := c.GetPlateState(gctx, id)
			if err != nil {
				return nil
			}
			snaps[i], ok[i] = snap, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.PlateStateSnapshot, 0, len(ids))
	for i, keep := range ok {
		if keep {
			out = append(out, snaps[i])
		}
	}
	return out, nil
}

// ListMovers returns a snapshot of every configured mover's state, fanning
// the per-mover GetState ask out across goroutines.
func (c *Coordinator) ListMovers(ctx context.Context) ([]model.MoverStateSnapshot, error) {
	ids := make([]model.MoverID, 0, len(c.movers))
	for id := range c.movers {
		ids = append(ids, id)
	}

	snaps := make([]model.MoverStateSnapshot, len(ids))
	ok := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		pid := c.movers[id]
		g.Go(func() error {
			res, err := pid.Ask(gctx, nil, mover.GetState{}, 0)
			if err != nil {
				return nil
			}
			phys, isPhys := res.(model.MoverPhysicalState)
			if !isPhys {
				return nil
			}
			snaps[i], ok[i] = model.MoverStateSnapshot{MoverID: id, Physical: phys}, true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]model.MoverStateSnapshot, 0, len(ids))
	for i, keep := range ok {
		if keep {
			out = append(out, snaps[i])
		}
	}
	return out, nil
}

// ControlAction is the operator-facing set of plate control messages.
type ControlAction int

const (
	ControlPause ControlAction = iota
	ControlResume
	ControlAbort
	ControlRetryStep
	ControlSkipStep
)

// ControlPlate routes an operator action to plateID's actor.
func (c *Coordinator) ControlPlate(ctx context.Context, plateID model.PlateID, action ControlAction, reason string) error {
	pid, err := c.lookupPlate(plateID)
	if err != nil {
		return err
	}
	switch action {
	case ControlPause:
		return pid.Tell(ctx, nil, plate.Pause{Reason: reason})
	case ControlResume:
		_, err := pid.Ask(ctx, nil, plate.Resume{}, 0)
		return err
	case ControlAbort:
		_, err := pid.Ask(ctx, nil, plate.AbortPlate{Reason: reason}, 0)
		return err
	case ControlRetryStep:
		_, err := pid.Ask(ctx, nil, plate.RetryStep{}, 0)
		return err
	case ControlSkipStep:
		_, err := pid.Ask(ctx, nil, plate.SkipStep{}, 0)
		return err
	default:
		return fmt.Errorf("control_plate %s: %w", plateID, corerrors.ErrUnknownMessage)
	}
}

// Subscribe exposes the event bus to external observers (the HTTP/WS layer
// out of this core's scope).
func (c *Coordinator) Subscribe(pattern string, callback func(eventbus.Event)) eventbus.Handle {
	return c.bus.Subscribe(pattern, callback)
}

func (c *Coordinator) lookupPlate(plateID model.PlateID) (*actorkit.PID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pid, ok := c.plates[plateID]
	if !ok {
		return nil, fmt.Errorf("plate %s: %w", plateID, corerrors.ErrActorNotFound)
	}
	return pid, nil
}
