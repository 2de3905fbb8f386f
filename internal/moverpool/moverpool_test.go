package moverpool

import (
	"context"
	"testing"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/planner"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func deckWithOneTile() *model.Deck {
	deck := model.NewDeck()
	deck.Tiles = []model.StatorTile{
		{GridCol: 0, GridRow: 0, Enabled: true, Bounds: model.Bounds{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000}},
	}
	deck.Locations["dock"] = model.Location{ID: "dock", Position: model.Position{X: 900, Y: 900}}
	return deck
}

func spawnPool(t *testing.T, moverIDs []model.MoverID, positions map[model.MoverID]model.Position) (*actorkit.System, *actorkit.PID, *eventbus.Bus) {
	t.Helper()
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	deck := deckWithOneTile()
	pl := planner.New()
	drv := driver.NewSimDriver(positions)

	movers := make(map[model.MoverID]*actorkit.PID, len(moverIDs))
	for _, id := range moverIDs {
		pid, err := sys.Spawn(context.Background(), "mover/"+string(id), mover.New(id, deck, pl, drv, bus, zap.NewNop()))
		require.NoError(t, err)
		movers[id] = pid
	}
	poolPID, err := sys.Spawn(context.Background(), "moverpool", New(deck, pl, bus, zap.NewNop(), movers))
	require.NoError(t, err)
	return sys, poolPID, bus
}

func TestRequestMoverGrantsWhenAvailable(t *testing.T) {
	sys, pool, _ := spawnPool(t, []model.MoverID{"m1"}, map[model.MoverID]model.Position{"m1": {X: 0, Y: 0}})
	defer sys.Shutdown(context.Background())

	res, err := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p1", DestinationHint: "dock"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.MoverID("m1"), res.(RequestMoverResult).MoverID)
}

func TestSelectBestPicksLowerCostMover(t *testing.T) {
	sys, pool, _ := spawnPool(t, []model.MoverID{"far", "near"}, map[model.MoverID]model.Position{
		"far":  {X: 0, Y: 0},
		"near": {X: 850, Y: 850},
	})
	defer sys.Shutdown(context.Background())

	res, err := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p1", DestinationHint: "dock"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.MoverID("near"), res.(RequestMoverResult).MoverID)
}

func TestExclusivityNoTwoPlatesHoldSameMover(t *testing.T) {
	sys, pool, _ := spawnPool(t, []model.MoverID{"m1"}, map[model.MoverID]model.Position{"m1": {X: 0, Y: 0}})
	defer sys.Shutdown(context.Background())

	res, err := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p1", DestinationHint: "dock"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.MoverID("m1"), res.(RequestMoverResult).MoverID)

	// A second plate's request must queue, not be granted the same mover,
	// so we race it against a short-lived context to prove it doesn't
	// resolve immediately.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = pool.Ask(ctx, nil, RequestMover{PlateID: "p2", DestinationHint: "dock"}, 50*time.Millisecond)
	require.Error(t, err)
}

func TestReleaseFulfillsOldestWaiterFIFO(t *testing.T) {
	sys, pool, _ := spawnPool(t, []model.MoverID{"m1"}, map[model.MoverID]model.Position{"m1": {X: 0, Y: 0}})
	defer sys.Shutdown(context.Background())

	res, err := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p1", DestinationHint: "dock"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.MoverID("m1"), res.(RequestMoverResult).MoverID)

	type outcome struct {
		res any
		err error
	}
	firstDone := make(chan outcome, 1)
	secondDone := make(chan outcome, 1)
	go func() {
		r, e := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p2", DestinationHint: "dock"}, 5*time.Second)
		firstDone <- outcome{r, e}
	}()
	time.Sleep(20 * time.Millisecond)
	go func() {
		r, e := pool.Ask(context.Background(), nil, RequestMover{PlateID: "p3", DestinationHint: "dock"}, 5*time.Second)
		secondDone <- outcome{r, e}
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, pool.Tell(context.Background(), nil, ReleaseMover{MoverID: "m1"}))

	select {
	case out := <-firstDone:
		require.NoError(t, out.err)
		require.Equal(t, model.MoverID("m1"), out.res.(RequestMoverResult).MoverID)
	case <-time.After(2 * time.Second):
		t.Fatal("first waiter never granted")
	}

	select {
	case <-secondDone:
		t.Fatal("second waiter should not be granted before its own release")
	case <-time.After(50 * time.Millisecond):
	}
}
