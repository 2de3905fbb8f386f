package driver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/planner"
	"github.com/reugn/go-quartz/quartz"
)

// SimDriver is an in-process simulated physical and device driver, grounded
// on industrial-4.0-demo's LocalStation.Execute: it fabricates realistic
// timing with time.Sleep instead of talking to real hardware, so the actor
// runtime above it can be exercised deterministically-ish in tests and in
// the demo binary without a PLC. Timed device operations are driven by a
// quartz scheduler (the same library the teacher uses for its own delayed
// message delivery) rather than a hand-rolled time.Sleep loop.
type SimDriver struct {
	mu        sync.Mutex
	positions map[model.MoverID]model.MoverPhysicalState

	// signal, per running device operation, lets Abort and
	// SignalDeviceDone interrupt the goroutine StartProcess launched.
	signal map[model.DeviceID]chan error

	sched quartz.Scheduler

	// StepJitter adds bounded randomness to simulated command execution,
	// mirroring the teacher's rand.Intn jitter. Zero disables jitter for
	// deterministic tests.
	StepJitter time.Duration
}

// NewSimDriver seeds every mover at the given starting positions and starts
// the quartz scheduler that drives timed device operations.
func NewSimDriver(start map[model.MoverID]model.Position) *SimDriver {
	positions := make(map[model.MoverID]model.MoverPhysicalState, len(start))
	for id, pos := range start {
		positions[id] = model.MoverPhysicalState{Position: pos, State: model.MoverIdle}
	}
	sched := quartz.NewStdScheduler()
	sched.Start(context.Background())
	return &SimDriver{
		positions: positions,
		signal:    make(map[model.DeviceID]chan error),
		sched:     sched,
	}
}

var _ PhysicalDriver = (*SimDriver)(nil)
var _ DeviceDriver = (*SimDriver)(nil)

func (d *SimDriver) jitter() time.Duration {
	if d.StepJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d.StepJitter)))
}

// ExecuteCommand simulates one primitive motion command, sleeping for the
// command's estimated duration plus jitter, then updating the mover's
// cached physical state.
func (d *SimDriver) ExecuteCommand(ctx context.Context, moverID model.MoverID, cmd planner.PrimitiveCommand) CommandResult {
	select {
	case <-ctx.Done():
		return CommandResult{Err: ctx.Err()}
	case <-time.After(cmd.EstDuration + d.jitter()):
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.positions[moverID]
	switch cmd.Kind {
	case planner.HopOn:
		state.TrackID, state.HasTrack, state.TrackDist = cmd.TrackID, cmd.TrackID != "", cmd.Distance
		if cmd.TrackID == "" {
			state.Position = model.Position{X: cmd.X, Y: cmd.Y}
		}
	case planner.Follow:
		state.TrackID, state.HasTrack, state.TrackDist = cmd.TrackID, true, cmd.TargetDist
	case planner.Transition:
		state.TrackID, state.HasTrack, state.TrackDist = cmd.ToTrack, true, 0
	case planner.HopOff:
		state.HasTrack = false
		state.Position = model.Position{X: cmd.X, Y: cmd.Y}
	case planner.FreeMove:
		state.Position = model.Position{X: cmd.X, Y: cmd.Y, C: cmd.C}
		state.HasTrack = false
	case planner.Rotate:
		state.Position.C = cmd.C
	}
	state.State = model.MoverTransporting
	d.positions[moverID] = state
	return CommandResult{Success: true}
}

// GetPhysicalState returns the cached simulated state.
func (d *SimDriver) GetPhysicalState(ctx context.Context, moverID model.MoverID) (model.MoverPhysicalState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.positions[moverID], nil
}

// SetIdle marks moverID idle, called by the mover actor once a transport
// completes.
func (d *SimDriver) SetIdle(moverID model.MoverID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state := d.positions[moverID]
	state.State = model.MoverIdle
	d.positions[moverID] = state
}

// Load simulates the physical load protocol.
func (d *SimDriver) Load(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200*time.Millisecond + d.jitter()):
		return nil
	}
}

// Unload simulates the physical unload protocol.
func (d *SimDriver) Unload(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200*time.Millisecond + d.jitter()):
		return nil
	}
}

// StartProcess simulates a timed or event-driven device operation. If
// params["duration_ms"] is present it treats the step as timed; otherwise
// it treats it as event-driven, held open until an external
// SignalDeviceDone (mirroring register_device_completion_listener, §6).
func (d *SimDriver) StartProcess(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID, params map[string]any, onProgress func(float64), onComplete func(error)) {
	sig := make(chan error, 1)
	d.mu.Lock()
	d.signal[deviceID] = sig
	d.mu.Unlock()

	durationMS, timed := params["duration_ms"].(int)
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.signal, deviceID)
			d.mu.Unlock()
		}()

		if !timed {
			select {
			case <-ctx.Done():
				onComplete(ctx.Err())
			case err := <-sig:
				onComplete(err)
			}
			return
		}

		total := time.Duration(durationMS) * time.Millisecond
		const steps = 4
		step := total / steps
		d.runTimedStep(ctx, sig, step, 1, steps, onProgress, onComplete)
	}()
}

// runTimedStep schedules the i-th of n progress ticks as a one-shot quartz
// job, chaining to i+1 on completion; this replaces a hand-rolled
// time.After loop with the same delayed-execution primitive the teacher
// uses for its own scheduled message delivery.
func (d *SimDriver) runTimedStep(ctx context.Context, sig chan error, step time.Duration, i, n int, onProgress func(float64), onComplete func(error)) {
	done := make(chan struct{})
	job := quartz.NewFunctionJob(func(context.Context) (bool, error) {
		close(done)
		return true, nil
	})
	if err := d.sched.ScheduleJob(ctx, job, quartz.NewRunOnceTrigger(step)); err != nil {
		onComplete(err)
		return
	}

	select {
	case <-ctx.Done():
		onComplete(ctx.Err())
		return
	case err := <-sig:
		onComplete(err)
		return
	case <-done:
	}

	onProgress(float64(i) / float64(n))
	if i >= n {
		onComplete(nil)
		return
	}
	d.runTimedStep(ctx, sig, step, i+1, n, onProgress, onComplete)
}

// Abort signals the running StartProcess goroutine for deviceID to stop, if
// any, and reports whether it was safe to do so. The simulation always
// allows abort.
func (d *SimDriver) Abort(ctx context.Context, deviceID model.DeviceID) bool {
	d.mu.Lock()
	sig, ok := d.signal[deviceID]
	d.mu.Unlock()
	if ok {
		select {
		case sig <- context.Canceled:
		default:
		}
	}
	return true
}

// SignalDeviceDone completes an event-driven StartProcess externally.
func (d *SimDriver) SignalDeviceDone(deviceID model.DeviceID) {
	d.mu.Lock()
	sig, ok := d.signal[deviceID]
	d.mu.Unlock()
	if ok {
		select {
		case sig <- nil:
		default:
		}
	}
}
