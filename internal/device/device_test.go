package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func spawnDevice(t *testing.T, id model.DeviceID) (*actorkit.System, *actorkit.PID, *driver.SimDriver, *eventbus.Bus) {
	t.Helper()
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())
	drv := driver.NewSimDriver(nil)
	pid, err := sys.Spawn(context.Background(), string(id), New(id, "incubator", drv, bus, zap.NewNop()))
	require.NoError(t, err)
	return sys, pid, drv, bus
}

func TestLoadThenStartProcessTimed(t *testing.T) {
	sys, pid, _, _ := spawnDevice(t, "dev-1")
	defer sys.Shutdown(context.Background())

	_, err := pid.Ask(context.Background(), nil, LoadPlate{PlateID: "p1"}, time.Second)
	require.NoError(t, err)

	res, err := pid.Ask(context.Background(), nil, StartProcess{PlateID: "p1", Params: map[string]any{"duration_ms": 40}}, time.Second)
	require.NoError(t, err)
	require.True(t, res.(StartProcessAck).Started)
}

func TestStartProcessRefusedWithoutLoadedPlate(t *testing.T) {
	sys, pid, _, _ := spawnDevice(t, "dev-1")
	defer sys.Shutdown(context.Background())

	_, err := pid.Ask(context.Background(), nil, StartProcess{PlateID: "p1", Params: nil}, time.Second)
	require.Error(t, err)
}

func TestProcessCompletedTellsBackOriginalRequester(t *testing.T) {
	sys, pid, _, _ := spawnDevice(t, "dev-1")
	defer sys.Shutdown(context.Background())

	_, err := pid.Ask(context.Background(), nil, LoadPlate{PlateID: "p1"}, time.Second)
	require.NoError(t, err)

	requester := &recorderActor{done: make(chan ProcessCompleted, 1)}
	reqPID, err := sys.Spawn(context.Background(), "requester", requester)
	require.NoError(t, err)

	_, err = pid.Ask(context.Background(), reqPID, StartProcess{PlateID: "p1", Params: map[string]any{"duration_ms": 40}}, time.Second)
	require.NoError(t, err)

	select {
	case msg := <-requester.done:
		require.Equal(t, model.PlateID("p1"), msg.PlateID)
		require.NoError(t, msg.Err)
	case <-time.After(2 * time.Second):
		t.Fatal("never received ProcessCompleted")
	}
}

func TestAbortDuringProcessingSignalsError(t *testing.T) {
	sys, pid, _, bus := spawnDevice(t, "dev-1")
	defer sys.Shutdown(context.Background())

	errored := make(chan struct{}, 1)
	bus.Subscribe("device.error", func(eventbus.Event) { errored <- struct{}{} })

	_, err := pid.Ask(context.Background(), nil, LoadPlate{PlateID: "p1"}, time.Second)
	require.NoError(t, err)
	// Event-driven (no duration_ms): held open until aborted or signaled.
	_, err = pid.Ask(context.Background(), nil, StartProcess{PlateID: "p1", Params: nil}, time.Second)
	require.NoError(t, err)

	res, err := pid.Ask(context.Background(), nil, Abort{}, time.Second)
	require.NoError(t, err)
	require.True(t, res.(AbortResult).Aborted)

	select {
	case <-errored:
	case <-time.After(time.Second):
		t.Fatal("expected device.error after abort")
	}
}

type recorderActor struct {
	done chan ProcessCompleted
}

func (r *recorderActor) PreStart(context.Context) error { return nil }
func (r *recorderActor) PostStop(context.Context) error { return nil }
func (r *recorderActor) Receive(ctx *actorkit.Context) {
	if msg, ok := ctx.Message().(ProcessCompleted); ok {
		r.done <- msg
		return
	}
	ctx.Err(errors.New("unexpected message"))
}
