package plate

import (
	"context"
	"testing"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/device"
	"github.com/movelab/shuttlecore/internal/devicepool"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/moverpool"
	"github.com/movelab/shuttlecore/internal/planner"
	"github.com/movelab/shuttlecore/internal/stationmgr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// harness assembles one mover, two devices (an incubator and a reader), and
// the three dispatcher actors over a one-tile, two-station deck, ready to
// drive a plate through a workflow end to end.
type harness struct {
	sys        *actorkit.System
	bus        *eventbus.Bus
	deck       *model.Deck
	moverPool  *actorkit.PID
	devicePool *actorkit.PID
	stationMgr *actorkit.PID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sys := actorkit.NewSystem(zap.NewNop())
	bus := eventbus.New(zap.NewNop())

	deck := model.NewDeck()
	deck.Tiles = []model.StatorTile{
		{GridCol: 0, GridRow: 0, Enabled: true, Bounds: model.Bounds{XMin: 0, YMin: 0, XMax: 1000, YMax: 1000}},
	}
	deck.Locations["dock"] = model.Location{ID: "dock", Type: model.LocationDevice, Position: model.Position{X: 900, Y: 900}, StationID: "st-1"}
	deck.Locations["dock-queue"] = model.Location{ID: "dock-queue", Type: model.LocationQueue, Position: model.Position{X: 700, Y: 700}}
	deck.Stations["st-1"] = model.Station{ID: "st-1", DeviceType: "incubator", DeviceID: "dev-1", PrimaryLoc: "dock", QueueLoc: "dock-queue", Slots: 1}

	// A second station/device of a different type, so tests can exercise a
	// real multi-step workflow (spec §8 scenario 1) with a single mover
	// handed off between two stops.
	deck.Locations["dock2"] = model.Location{ID: "dock2", Type: model.LocationDevice, Position: model.Position{X: 100, Y: 900}, StationID: "st-2"}
	deck.Locations["dock2-queue"] = model.Location{ID: "dock2-queue", Type: model.LocationQueue, Position: model.Position{X: 300, Y: 700}}
	deck.Stations["st-2"] = model.Station{ID: "st-2", DeviceType: "reader", DeviceID: "dev-2", PrimaryLoc: "dock2", QueueLoc: "dock2-queue", Slots: 1}

	pl := planner.New()
	drv := driver.NewSimDriver(map[model.MoverID]model.Position{"m1": {X: 0, Y: 0}})
	drv.StepJitter = 0

	moverPID, err := sys.Spawn(context.Background(), "mover/m1", mover.New("m1", deck, pl, drv, bus, zap.NewNop()))
	require.NoError(t, err)
	moverPoolPID, err := sys.Spawn(context.Background(), "moverpool", moverpool.New(deck, pl, bus, zap.NewNop(), map[model.MoverID]*actorkit.PID{"m1": moverPID}))
	require.NoError(t, err)

	devPID, err := sys.Spawn(context.Background(), "device/dev-1", device.New("dev-1", "incubator", drv, bus, zap.NewNop()))
	require.NoError(t, err)
	dev2PID, err := sys.Spawn(context.Background(), "device/dev-2", device.New("dev-2", "reader", drv, bus, zap.NewNop()))
	require.NoError(t, err)
	devicePoolPID, err := sys.Spawn(context.Background(), "devicepool", devicepool.New(bus, zap.NewNop(),
		map[model.DeviceID]*actorkit.PID{"dev-1": devPID, "dev-2": dev2PID},
		map[model.DeviceID]model.DeviceType{"dev-1": "incubator", "dev-2": "reader"}))
	require.NoError(t, err)

	stationMgrPID, err := sys.Spawn(context.Background(), "stationmgr", stationmgr.New(deck, bus, zap.NewNop()))
	require.NoError(t, err)

	return &harness{sys: sys, bus: bus, deck: deck, moverPool: moverPoolPID, devicePool: devicePoolPID, stationMgr: stationMgrPID}
}

func oneStepWorkflow(id string, timed bool) *model.Workflow {
	wf := &model.Workflow{ID: id}
	step := model.WorkflowStep{StepID: 0, Name: "incubate", StationID: "st-1", DeviceID: "dev-1", DeviceType: "incubator"}
	if timed {
		d := 30 * time.Millisecond
		step.Duration = &d
	}
	wf.Steps = []model.WorkflowStep{step}
	return wf
}

// twoStepWorkflow builds a two-station itinerary (incubator then reader)
// for exercising a workflow that hands a mover off between steps, per
// spec §8 scenario 1.
func twoStepWorkflow(id string, d1, d2 time.Duration) *model.Workflow {
	return &model.Workflow{
		ID: id,
		Steps: []model.WorkflowStep{
			{StepID: 0, Name: "incubate", StationID: "st-1", DeviceID: "dev-1", DeviceType: "incubator", Duration: &d1},
			{StepID: 1, Name: "read", StationID: "st-2", DeviceID: "dev-2", DeviceType: "reader", Duration: &d2},
		},
	}
}

func waitForPhase(t *testing.T, pid *actorkit.PID, want model.Phase, timeout time.Duration) model.PlateStateSnapshot {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last model.PlateStateSnapshot
	for time.Now().Before(deadline) {
		res, err := pid.Ask(context.Background(), nil, GetSnapshot{}, time.Second)
		require.NoError(t, err)
		last = res.(model.PlateStateSnapshot)
		if last.Phase == want {
			return last
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("plate never reached phase %s, last was %s (error=%q)", want, last.Phase, last.LastError)
	return last
}

func TestPlateRunsSingleStepWorkflowToCompletion(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: oneStepWorkflow("wf-1", true), SampleIDs: []string{"s1"}, Barcode: "BC1"}, time.Second)
	require.NoError(t, err)

	snap := waitForPhase(t, pid, model.PhaseCompleted, 5*time.Second)
	require.Len(t, snap.History, 1)
	require.False(t, snap.History[0].Skipped)
}

func TestAssignWorkflowIsIdempotentForSameID(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := oneStepWorkflow("wf-1", true)
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)
}

func TestAssignWorkflowRejectsDifferentWorkflowMidRun(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: oneStepWorkflow("wf-1", true)}, time.Second)
	require.NoError(t, err)

	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: oneStepWorkflow("wf-2", true)}, time.Second)
	require.Error(t, err)
}

func TestMoverIsReleasedBeforeProcessingCompletes(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	moverReleased := make(chan struct{}, 1)
	h.bus.Subscribe("plate.mover_released", func(eventbus.Event) { moverReleased <- struct{}{} })

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	// Long enough duration that we can observe the mover_released event
	// while processing is still ongoing.
	wf := oneStepWorkflow("wf-1", true)
	d := 300 * time.Millisecond
	wf.Steps[0].Duration = &d
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	select {
	case <-moverReleased:
	case <-time.After(2 * time.Second):
		t.Fatal("mover was never released")
	}

	res, err := pid.Ask(context.Background(), nil, GetSnapshot{}, time.Second)
	require.NoError(t, err)
	snap := res.(model.PlateStateSnapshot)
	require.False(t, snap.HasMover, "mover must not be held during processing")
}

func TestRuleGuardSkipsStepWithoutAcquiringResources(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := oneStepWorkflow("wf-skip", true)
	wf.Steps[0].Rule = "false"
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	snap := waitForPhase(t, pid, model.PhaseCompleted, 2*time.Second)
	require.Len(t, snap.History, 1)
	require.True(t, snap.History[0].Skipped)
}

func TestPauseThenResumeContinuesWorkflow(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: oneStepWorkflow("wf-1", true)}, time.Second)
	require.NoError(t, err)
	// Pause takes effect at the next safe boundary: at once if the plate is
	// still ready, otherwise when its pending station grant or device
	// completion arrives, before the next resource-mutating ask.
	require.NoError(t, pid.Tell(context.Background(), nil, Pause{Reason: "operator"}))

	snap := waitForPhase(t, pid, model.PhasePaused, 5*time.Second)
	require.Equal(t, model.PhasePaused, snap.Phase)

	_, err = pid.Ask(context.Background(), nil, Resume{}, time.Second)
	require.NoError(t, err)

	waitForPhase(t, pid, model.PhaseCompleted, 5*time.Second)
}

func TestAbortReleasesHeldResources(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := oneStepWorkflow("wf-abort", true)
	d := 500 * time.Millisecond
	wf.Steps[0].Duration = &d
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	// Give it a moment to enter processing, then abort.
	time.Sleep(50 * time.Millisecond)
	_, err = pid.Ask(context.Background(), nil, AbortPlate{Reason: "operator abort"}, 2*time.Second)
	require.NoError(t, err)

	waitForPhase(t, pid, model.PhaseAborted, 2*time.Second)

	// The device must be free again for another plate to use.
	res, err := h.devicePool.Ask(context.Background(), nil, devicepool.RequestDevice{PlateID: "p2", DeviceType: "incubator"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.DeviceID("dev-1"), res.(devicepool.RequestDeviceResult).DeviceID)
}

func TestSkipStepRecoversFromError(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := oneStepWorkflow("wf-badrule", true)
	wf.Steps[0].Rule = "not a valid expression("
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	snap := waitForPhase(t, pid, model.PhaseError, time.Second)
	require.NotEmpty(t, snap.LastError)

	_, err = pid.Ask(context.Background(), nil, SkipStep{}, time.Second)
	require.NoError(t, err)

	waitForPhase(t, pid, model.PhaseCompleted, 5*time.Second)
}

func TestStationFIFOOrdersTwoPlatesThroughOneSlotStation(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	p1, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)
	p2, err := h.sys.Spawn(context.Background(), "plate/p2", New("p2", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf1 := oneStepWorkflow("wf-1", true)
	d := 100 * time.Millisecond
	wf1.Steps[0].Duration = &d
	wf2 := oneStepWorkflow("wf-2", true)
	wf2.Steps[0].Duration = &d

	_, err = p1.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf1}, time.Second)
	require.NoError(t, err)
	_, err = p2.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf2}, time.Second)
	require.NoError(t, err)

	waitForPhase(t, p1, model.PhaseCompleted, 5*time.Second)
	waitForPhase(t, p2, model.PhaseCompleted, 5*time.Second)
}

// TestSingleMoverCompletesTwoStepWorkflow is spec §8 scenario 1: one mover,
// one plate, a two-step itinerary across two different stations. It proves
// finishStep hands the pickup mover back to the pool before the next step's
// requestMoverForDropoff asks for one — without that release the second
// step's request would queue forever against a pool with zero available
// movers and the plate would never reach completed.
func TestSingleMoverCompletesTwoStepWorkflow(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	var stepsCompleted []int
	h.bus.Subscribe("plate.step_completed", func(ev eventbus.Event) {
		payload := ev.Payload.(map[string]any)
		stepsCompleted = append(stepsCompleted, payload["step_index"].(int))
	})

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := twoStepWorkflow("wf-two-step", 20*time.Millisecond, 20*time.Millisecond)
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	snap := waitForPhase(t, pid, model.PhaseCompleted, 5*time.Second)
	require.Len(t, snap.History, 2)
	require.False(t, snap.History[0].Skipped)
	require.False(t, snap.History[1].Skipped)
	require.Equal(t, []int{0, 1}, stepsCompleted)

	// The single mover must be idle and available again, not stuck assigned
	// to the now-completed plate.
	res, err := h.moverPool.Ask(context.Background(), nil, moverpool.RequestMover{PlateID: "p2", DestinationHint: "dock"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, model.MoverID("m1"), res.(moverpool.RequestMoverResult).MoverID)
}

// TestPauseMidProcessingRetainsStationAndDevice is spec §8 scenario 5: a
// Pause sent while the plate is mid-`processing` must be honored without
// first releasing the station or device it is still holding.
func TestPauseMidProcessingRetainsStationAndDevice(t *testing.T) {
	h := newHarness(t)
	defer h.sys.Shutdown(context.Background())

	processingStarted := make(chan struct{}, 1)
	h.bus.Subscribe("plate.processing_started", func(eventbus.Event) {
		select {
		case processingStarted <- struct{}{}:
		default:
		}
	})

	pid, err := h.sys.Spawn(context.Background(), "plate/p1", New("p1", h.deck, h.bus, zap.NewNop(), h.moverPool, h.devicePool, h.stationMgr))
	require.NoError(t, err)

	wf := oneStepWorkflow("wf-pause-mid", true)
	d := 400 * time.Millisecond
	wf.Steps[0].Duration = &d
	_, err = pid.Ask(context.Background(), nil, AssignWorkflow{Workflow: wf}, time.Second)
	require.NoError(t, err)

	select {
	case <-processingStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("processing never started")
	}

	require.NoError(t, pid.Tell(context.Background(), nil, Pause{Reason: "operator"}))

	snap := waitForPhase(t, pid, model.PhasePaused, 2*time.Second)
	require.Equal(t, model.PhasePaused, snap.Phase)

	// Station access must still be held: a second plate requesting the same
	// station is queued, not granted.
	res, err := h.stationMgr.Ask(context.Background(), nil, stationmgr.RequestAccess{PlateID: "p2", StationID: "st-1"}, time.Second)
	require.NoError(t, err)
	grant := res.(stationmgr.RequestAccessResult)
	require.False(t, grant.Granted, "station must still be occupied while paused mid-processing")
	_ = h.stationMgr.Tell(context.Background(), nil, stationmgr.CancelRequest{PlateID: "p2", StationID: "st-1"})

	// The device must still be held: a second plate's request for the only
	// incubator times out rather than being granted immediately.
	_, err = h.devicePool.Ask(context.Background(), nil, devicepool.RequestDevice{PlateID: "p2", DeviceType: "incubator"}, 100*time.Millisecond)
	require.Error(t, err)

	_, err = pid.Ask(context.Background(), nil, Resume{}, time.Second)
	require.NoError(t, err)

	waitForPhase(t, pid, model.PhaseCompleted, 5*time.Second)
}
