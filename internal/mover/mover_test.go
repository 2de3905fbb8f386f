package mover

import (
	"context"
	"testing"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/planner"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func oneTileDeck() *model.Deck {
	deck := model.NewDeck()
	deck.Tiles = []model.StatorTile{
		{GridCol: 0, GridRow: 0, Enabled: true, Bounds: model.Bounds{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000}},
	}
	return deck
}

func TestTransportToFreeMoveReportsCompletion(t *testing.T) {
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := oneTileDeck()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 0, Y: 0}})

	completed := make(chan struct{}, 1)
	bus.Subscribe("mover.transport_completed", func(eventbus.Event) { completed <- struct{}{} })

	pid, err := sys.Spawn(context.Background(), "m1", New("m1", deck, planner.New(), drv, bus, zap.NewNop()))
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	dest := model.Location{ID: "dest", Position: model.Position{X: 800, Y: 800}}
	res, err := pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p1"}, 5*time.Second)
	require.NoError(t, err)
	require.True(t, res.(TransportToResult).OK)

	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("never observed transport_completed")
	}
}

func TestTransportToSamePointIsEmptyPlanNotError(t *testing.T) {
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := oneTileDeck()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 500, Y: 500}})

	pid, err := sys.Spawn(context.Background(), "m1", New("m1", deck, planner.New(), drv, bus, zap.NewNop()))
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	dest := model.Location{ID: "dest", Position: model.Position{X: 500.2, Y: 500}}
	res, err := pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p1"}, time.Second)
	require.NoError(t, err)
	require.True(t, res.(TransportToResult).OK)
}

func TestTransportToRejectsReassignmentToOtherPlate(t *testing.T) {
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := oneTileDeck()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 500, Y: 500}})

	pid, err := sys.Spawn(context.Background(), "m1", New("m1", deck, planner.New(), drv, bus, zap.NewNop()))
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	dest := model.Location{Position: model.Position{X: 500.5, Y: 500}}
	_, err = pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p1"}, time.Second)
	require.NoError(t, err)

	// The mover is still assigned to p1 (no ReleaseFromPlate yet), so a
	// TransportTo for a different plate must be rejected outright.
	_, err = pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p2"}, time.Second)
	require.Error(t, err)
}

func TestReleaseFromPlateOnlyClearsMatchingPlate(t *testing.T) {
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := oneTileDeck()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 500, Y: 500}})

	pid, err := sys.Spawn(context.Background(), "m1", New("m1", deck, planner.New(), drv, bus, zap.NewNop()))
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	dest := model.Location{Position: model.Position{X: 500.5, Y: 500}}
	_, err = pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p1"}, time.Second)
	require.NoError(t, err)

	require.NoError(t, pid.Tell(context.Background(), nil, ReleaseFromPlate{PlateID: "not-p1"}))
	// Still assigned to p1: a different-plate TransportTo must still be
	// rejected.
	_, err = pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p2"}, time.Second)
	require.Error(t, err)

	require.NoError(t, pid.Tell(context.Background(), nil, ReleaseFromPlate{PlateID: "p1"}))
	_, err = pid.Ask(context.Background(), nil, TransportTo{Destination: dest, PlateID: "p2"}, time.Second)
	require.NoError(t, err)
}

func TestGetStateReturnsPhysicalState(t *testing.T) {
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := oneTileDeck()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 42, Y: 7}})

	pid, err := sys.Spawn(context.Background(), "m1", New("m1", deck, planner.New(), drv, bus, zap.NewNop()))
	require.NoError(t, err)
	defer sys.Shutdown(context.Background())

	res, err := pid.Ask(context.Background(), nil, GetState{}, time.Second)
	require.NoError(t, err)
	state := res.(model.MoverPhysicalState)
	require.Equal(t, 42.0, state.Position.X)
	require.Equal(t, 7.0, state.Position.Y)
}
