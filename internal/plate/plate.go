// Package plate implements the plate actor: the autonomous passenger that
// owns a workflow and drives itself through it step by step, requesting
// and releasing shared resources and surfacing errors, per spec §4.9.
// Grounded on goakt's Ticker-driven autonomous-actor pattern (an actor
// whose Tick, not just its Receive, advances its own state) and on
// industrial-4.0-demo's engine.Plate phase machine for the
// ready→...→completed cycle and its Pause/Resume/Abort/RetryStep/SkipStep
// operator controls.
package plate

import (
	"context"
	"fmt"
	"time"

	"github.com/antonmedv/expr"
	"github.com/flowchartsman/retry"
	"github.com/google/uuid"
	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/device"
	"github.com/movelab/shuttlecore/internal/devicepool"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/moverpool"
	"github.com/movelab/shuttlecore/internal/stationmgr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// poolAskTimeout bounds the plate's non-queuing asks (mover transport,
// station access, device load/start/unload/abort); it is deliberately much
// shorter than the pools' WaiterAskTimeout, which the mover and device pool
// requests use, since those are bounded local operations, not FIFO waits.
const poolAskTimeout = 10 * time.Second

// Transient ask failures (ErrTimeout, ErrMailboxClosed) are retried
// automatically up to transientRetries times with exponential backoff
// before the plate gives up and fails the step, per spec §7.
const (
	transientRetries    = 3
	transientMinBackoff = 20 * time.Millisecond
	transientMaxBackoff = 250 * time.Millisecond
)

// AssignWorkflow gives the plate its itinerary. It is idempotent: a second
// AssignWorkflow for the same workflow ID is accepted as a no-op; a
// different one while a workflow is already in flight is rejected with
// ErrWrongPhase, per invariant I7 (workflow immutability once assigned).
type AssignWorkflow struct {
	Workflow  *model.Workflow
	SampleIDs []string
	Barcode   string
	Attrs     map[string]any
}

// Pause asks the plate to stop advancing at its next safe boundary.
type Pause struct{ Reason string }

// Resume asks a paused plate to continue from where it left off.
type Resume struct{}

// AbortPlate asks the plate to release resources in reverse order and
// terminate. Named AbortPlate (not Abort) to avoid colliding with the
// device package's Abort message when both are in scope.
type AbortPlate struct{ Reason string }

// RetryStep restarts the current step from scratch; valid only in
// phase=error.
type RetryStep struct{}

// SkipStep advances step_index without executing the current step; valid
// only in phase=error.
type SkipStep struct{}

// GetSnapshot is an ask returning the plate's current PlateStateSnapshot.
type GetSnapshot struct{}

type accessGranted struct{ stationID model.StationID }

type subWait int

const (
	subNone subWait = iota
	subWaitingAccess
	subWaitingProcess
)

// pauseContinuation records which state-mutating call a Pause deferred, so
// Resume can re-enter exactly there instead of replaying work already done
// (station access already granted, or the device already finished
// processing) through Tick's normal beginStep path.
type pauseContinuation int

const (
	continueNone pauseContinuation = iota
	continueRequestDevice
	continueFinishStep
)

// Actor is one plate's self-driving execution.
type Actor struct {
	id         model.PlateID
	deck       *model.Deck
	bus        *eventbus.Bus
	logger     *zap.Logger
	moverPool  *actorkit.PID
	devicePool *actorkit.PID
	stationMgr *actorkit.PID

	self    *actorkit.PID
	subOnce bool

	workflow  *model.Workflow
	sampleIDs []string
	barcode   string
	attrs     map[string]any

	phase     model.Phase
	stepIndex int
	sub       subWait

	assignedMoverID model.MoverID
	moverPID        *actorkit.PID
	assignedDevID   model.DeviceID
	devicePID       *actorkit.PID
	waitStationID   model.StationID

	lastError string
	errorStep int

	pendingPause       bool
	pauseReason        string
	pendingAbort       bool
	abortReason        string
	savedPhase         model.Phase
	resumeContinuation pauseContinuation

	startTime     time.Time
	stepStartTime time.Time
	history       []model.StepRecord
	events        []eventbus.Event
}

// New builds a plate actor with identity id, wired to the shared pools and
// station manager it will request resources from.
func New(id model.PlateID, deck *model.Deck, bus *eventbus.Bus, logger *zap.Logger, moverPool, devicePool, stationMgr *actorkit.PID) *Actor {
	return &Actor{
		id:         id,
		deck:       deck,
		bus:        bus,
		logger:     logger.With(zap.String("plate_id", string(id))),
		moverPool:  moverPool,
		devicePool: devicePool,
		stationMgr: stationMgr,
		phase:      model.PhaseCreated,
	}
}

func (a *Actor) PreStart(context.Context) error { return nil }
func (a *Actor) PostStop(context.Context) error { return nil }

func (a *Actor) Receive(ctx *actorkit.Context) {
	if !a.subOnce {
		a.self = ctx.Self()
		a.subOnce = true
		a.bus.Subscribe("station.access_granted", a.onAccessGranted)
	}

	switch msg := ctx.Message().(type) {
	case AssignWorkflow:
		a.handleAssignWorkflow(ctx, msg)
	case Pause:
		a.handlePause(msg)
	case Resume:
		a.handleResume(ctx)
	case AbortPlate:
		a.handleAbortRequest(ctx, msg)
	case RetryStep:
		a.handleRetryStep(ctx)
	case SkipStep:
		a.handleSkipStep(ctx)
	case GetSnapshot:
		ctx.Response(a.snapshot())
	case accessGranted:
		a.handleAccessGranted(ctx, msg)
	case device.ProcessCompleted:
		a.handleProcessCompleted(ctx, msg)
	default:
		ctx.Err(corerrors.ErrUnknownMessage)
	}
}

// onAccessGranted runs on the event bus's publishing goroutine. It must
// never touch actor state directly — only Tell itself, per the
// no-cross-goroutine-mutation rule every actor in this core follows.
func (a *Actor) onAccessGranted(ev eventbus.Event) {
	payload, ok := ev.Payload.(map[string]any)
	if !ok {
		return
	}
	if pid, _ := payload["plate_id"].(model.PlateID); pid != a.id {
		return
	}
	stationID, _ := payload["station_id"].(model.StationID)
	if a.self != nil {
		_ = a.self.Tell(context.Background(), nil, accessGranted{stationID: stationID})
	}
}

// Tick drives the plate forward whenever it is mid-workflow, not paused,
// not blocked on an external event, and not awaiting operator recovery.
func (a *Actor) Tick(ctx context.Context) {
	if a.sub != subNone || a.workflow == nil {
		return
	}
	switch a.phase {
	case model.PhaseError, model.PhasePaused, model.PhaseAborted, model.PhaseCompleted:
		return
	}
	if a.phase != model.PhaseReady {
		return
	}
	if a.pendingAbort {
		a.doAbort(ctx)
		return
	}
	if a.pendingPause {
		a.doPause()
		return
	}
	if a.stepIndex >= len(a.workflow.Steps) {
		a.completeWorkflow()
		return
	}
	a.beginStep(ctx)
}

func (a *Actor) handleAssignWorkflow(ctx *actorkit.Context, msg AssignWorkflow) {
	if a.workflow != nil {
		if a.workflow.ID == msg.Workflow.ID {
			ctx.Response(struct{}{})
			return
		}
		ctx.Err(corerrors.ErrWrongPhase)
		return
	}
	a.workflow = msg.Workflow
	a.sampleIDs = msg.SampleIDs
	a.barcode = msg.Barcode
	a.attrs = msg.Attrs
	if a.attrs == nil {
		a.attrs = map[string]any{}
	}
	a.startTime = time.Now()
	a.setPhase(model.PhaseReady)
	ctx.Response(struct{}{})
}

func (a *Actor) handlePause(msg Pause) {
	a.pauseReason = msg.Reason
	if a.phase == model.PhaseReady {
		a.doPause()
		return
	}
	a.pendingPause = true
}

func (a *Actor) doPause() {
	a.savedPhase = a.phase
	a.setPhase(model.PhasePaused)
	a.pendingPause = false
	a.emit("plate.paused", map[string]any{"reason": a.pauseReason})
}

func (a *Actor) handleResume(ctx *actorkit.Context) {
	if a.phase != model.PhasePaused {
		ctx.Err(corerrors.ErrWrongPhase)
		return
	}
	a.setPhase(a.savedPhase)
	a.emit("plate.resumed", nil)
	ctx.Response(struct{}{})

	switch a.resumeContinuation {
	case continueRequestDevice:
		a.resumeContinuation = continueNone
		step := a.workflow.Steps[a.stepIndex]
		a.requestDevice(ctx.Context(), step)
	case continueFinishStep:
		a.resumeContinuation = continueNone
		a.finishStep(ctx.Context())
	}
}

func (a *Actor) handleAbortRequest(ctx *actorkit.Context, msg AbortPlate) {
	a.abortReason = msg.Reason
	if a.sub == subWaitingProcess && a.devicePID != nil {
		res, err := a.devicePID.Ask(ctx.Context(), a.self, device.Abort{}, poolAskTimeout)
		if err == nil {
			if r, ok := res.(device.AbortResult); ok && r.Aborted {
				a.pendingAbort = true
				ctx.Response(struct{}{})
				return
			}
		}
		// Refused or failed to interrupt: honor abort at the next safe
		// boundary, once ProcessCompleted naturally arrives.
		a.pendingAbort = true
		ctx.Response(struct{}{})
		return
	}
	if a.sub != subNone {
		a.pendingAbort = true
		ctx.Response(struct{}{})
		return
	}
	a.doAbort(ctx.Context())
	ctx.Response(struct{}{})
}

// doAbort releases held resources in reverse order of acquisition: device
// unload (if held) → release device → release mover → release station
// access, per spec §5's cancellation note.
func (a *Actor) doAbort(ctx context.Context) {
	var errs error
	if a.devicePID != nil {
		if _, err := a.devicePID.Ask(ctx, a.self, device.UnloadPlate{PlateID: a.id}, poolAskTimeout); err != nil {
			errs = multierr.Append(errs, err)
		}
		_ = a.devicePool.Tell(ctx, a.self, devicepool.ReleaseDevice{DeviceID: a.assignedDevID})
		a.devicePID, a.assignedDevID = nil, ""
	}
	if a.moverPID != nil {
		_ = a.moverPID.Tell(ctx, a.self, mover.ReleaseFromPlate{PlateID: a.id})
		_ = a.moverPool.Tell(ctx, a.self, moverpool.ReleaseMover{MoverID: a.assignedMoverID})
		a.moverPID, a.assignedMoverID = nil, ""
	}
	if a.waitStationID != "" {
		_ = a.stationMgr.Tell(ctx, a.self, stationmgr.ReleaseAccess{PlateID: a.id, StationID: a.waitStationID})
		_ = a.stationMgr.Tell(ctx, a.self, stationmgr.CancelRequest{PlateID: a.id, StationID: a.waitStationID})
		a.waitStationID = ""
	}
	a.pendingAbort = false
	a.sub = subNone
	a.setPhase(model.PhaseAborted)
	payload := map[string]any{"reason": a.abortReason}
	if errs != nil {
		payload["release_errors"] = errs.Error()
		a.logger.Warn("plate.abort_release_errors", zap.Error(errs))
	}
	a.emit("plate.aborted", payload)
}

func (a *Actor) handleRetryStep(ctx *actorkit.Context) {
	if a.phase != model.PhaseError {
		ctx.Err(corerrors.ErrWrongPhase)
		return
	}
	a.releasePartialStep(ctx.Context())
	a.lastError = ""
	a.setPhase(model.PhaseReady)
	ctx.Response(struct{}{})
}

func (a *Actor) handleSkipStep(ctx *actorkit.Context) {
	if a.phase != model.PhaseError {
		ctx.Err(corerrors.ErrWrongPhase)
		return
	}
	a.releasePartialStep(ctx.Context())
	a.recordHistory(a.stepIndex, true, 0)
	a.stepIndex++
	a.lastError = ""
	a.setPhase(model.PhaseReady)
	ctx.Response(struct{}{})
}

// releasePartialStep releases whatever resources a failed step left
// partially held, best-effort, so RetryStep and SkipStep both start from a
// clean slate.
func (a *Actor) releasePartialStep(ctx context.Context) {
	if a.devicePID != nil {
		_ = a.devicePool.Tell(ctx, a.self, devicepool.ReleaseDevice{DeviceID: a.assignedDevID})
		a.devicePID, a.assignedDevID = nil, ""
	}
	if a.moverPID != nil {
		_ = a.moverPID.Tell(ctx, a.self, mover.ReleaseFromPlate{PlateID: a.id})
		_ = a.moverPool.Tell(ctx, a.self, moverpool.ReleaseMover{MoverID: a.assignedMoverID})
		a.moverPID, a.assignedMoverID = nil, ""
	}
	if a.waitStationID != "" {
		_ = a.stationMgr.Tell(ctx, a.self, stationmgr.CancelRequest{PlateID: a.id, StationID: a.waitStationID})
		a.waitStationID = ""
	}
	a.sub = subNone
}

// beginStep starts executing workflow.Steps[stepIndex], first evaluating
// its optional Rule guard; a false rule skips the step without acquiring
// any resource.
func (a *Actor) beginStep(ctx context.Context) {
	step := a.workflow.Steps[a.stepIndex]
	if step.Rule != "" {
		skip, err := a.evalSkipRule(step.Rule)
		if err != nil {
			a.failStep(fmt.Errorf("rule evaluation: %w", err))
			return
		}
		if skip {
			a.recordHistory(a.stepIndex, true, 0)
			a.stepIndex++
			return
		}
	}
	a.stepStartTime = time.Now()
	a.requestMoverForDropoff(ctx, step)
}

func (a *Actor) evalSkipRule(rule string) (bool, error) {
	env := map[string]any{"attrs": a.attrs, "sample_ids": a.sampleIDs, "step_index": a.stepIndex}
	program, err := expr.Compile(rule, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return !ok, nil
}

func (a *Actor) requestMoverForDropoff(ctx context.Context, step model.WorkflowStep) {
	a.setPhase(model.PhaseRequestingMover)
	st, err := a.deck.Station(step.StationID)
	if err != nil {
		a.failStep(err)
		return
	}
	a.setPhase(model.PhaseAwaitingMover)
	res, err := a.askRetrying(ctx, a.moverPool, moverpool.RequestMover{PlateID: a.id, DestinationHint: st.PrimaryLoc}, moverpool.WaiterAskTimeout)
	if err != nil {
		a.failStep(err)
		return
	}
	granted, ok := res.(moverpool.RequestMoverResult)
	if !ok {
		a.failStep(fmt.Errorf("unexpected mover pool response"))
		return
	}
	a.assignedMoverID, a.moverPID = granted.MoverID, granted.Mover
	a.emit("plate.mover_assigned", map[string]any{"mover_id": a.assignedMoverID})

	a.setPhase(model.PhaseInTransit)
	dest, err := a.deck.Location(st.PrimaryLoc)
	if err != nil {
		a.failStep(err)
		return
	}
	a.emit("plate.transport_started", map[string]any{"mover_id": a.assignedMoverID})
	if _, err := a.askRetrying(ctx, a.moverPID, mover.TransportTo{Destination: dest, PlateID: a.id}, poolAskTimeout); err != nil {
		a.failStep(err)
		return
	}
	a.emit("plate.arrived", map[string]any{"location": st.PrimaryLoc})
	a.requestStationAccess(ctx, step, st)
}

func (a *Actor) requestStationAccess(ctx context.Context, step model.WorkflowStep, st model.Station) {
	a.setPhase(model.PhaseRequestingDevice)
	res, err := a.askRetrying(ctx, a.stationMgr, stationmgr.RequestAccess{PlateID: a.id, StationID: step.StationID}, poolAskTimeout)
	if err != nil {
		a.failStep(err)
		return
	}
	grant, ok := res.(stationmgr.RequestAccessResult)
	if !ok {
		a.failStep(fmt.Errorf("unexpected station manager response"))
		return
	}
	a.waitStationID = step.StationID
	if !grant.Granted {
		queueLoc, err := a.deck.Location(grant.QueueLocation)
		if err != nil {
			a.failStep(err)
			return
		}
		if _, err := a.askRetrying(ctx, a.moverPID, mover.TransportTo{Destination: queueLoc, PlateID: a.id}, poolAskTimeout); err != nil {
			a.failStep(err)
			return
		}
		a.sub = subWaitingAccess
		return
	}
	a.requestDevice(ctx, step)
}

func (a *Actor) handleAccessGranted(ctx *actorkit.Context, msg accessGranted) {
	if a.sub != subWaitingAccess || msg.stationID != a.waitStationID {
		return
	}
	a.sub = subNone
	if a.pendingAbort {
		a.doAbort(ctx.Context())
		return
	}
	// Station access is already granted at this point; if a Pause landed
	// while we were waiting on it, honor it now, before requestDevice makes
	// the next resource-mutating ask, rather than only at phase=ready.
	if a.pendingPause {
		a.resumeContinuation = continueRequestDevice
		a.doPause()
		return
	}
	step := a.workflow.Steps[a.stepIndex]
	a.requestDevice(ctx.Context(), step)
}

func (a *Actor) requestDevice(ctx context.Context, step model.WorkflowStep) {
	res, err := a.askRetrying(ctx, a.devicePool, devicepool.RequestDevice{PlateID: a.id, DeviceType: step.DeviceType}, devicepool.WaiterAskTimeout)
	if err != nil {
		a.failStep(err)
		return
	}
	granted, ok := res.(devicepool.RequestDeviceResult)
	if !ok {
		a.failStep(fmt.Errorf("unexpected device pool response"))
		return
	}
	a.assignedDevID, a.devicePID = granted.DeviceID, granted.Device

	a.setPhase(model.PhaseLoading)
	a.emit("plate.loading", map[string]any{"device_id": a.assignedDevID})
	if _, err := a.askRetrying(ctx, a.devicePID, device.LoadPlate{PlateID: a.id}, poolAskTimeout); err != nil {
		a.failStep(err)
		return
	}

	// Critical: the mover is released once the plate is physically on the
	// device, not after processing — a mover is never held idle through a
	// device operation (invariant I4).
	_ = a.moverPID.Tell(ctx, a.self, mover.ReleaseFromPlate{PlateID: a.id})
	_ = a.moverPool.Tell(ctx, a.self, moverpool.ReleaseMover{MoverID: a.assignedMoverID})
	a.emit("plate.mover_released", map[string]any{"mover_id": a.assignedMoverID})
	a.moverPID, a.assignedMoverID = nil, ""

	a.setPhase(model.PhaseProcessing)
	params := step.Parameters
	if step.Duration != nil {
		if params == nil {
			params = map[string]any{}
		}
		params["duration_ms"] = int(step.Duration.Milliseconds())
	}
	correlationID := uuid.NewString()
	if _, err := a.askRetrying(ctx, a.devicePID, device.StartProcess{PlateID: a.id, Params: withCorrelation(params, correlationID)}, poolAskTimeout); err != nil {
		a.failStep(err)
		return
	}
	a.emit("plate.processing_started", map[string]any{"device_id": a.assignedDevID})
	a.sub = subWaitingProcess
}

// askRetrying wraps target.Ask, retrying a transient failure (ask timeout,
// mailbox closed) with exponential backoff before surfacing it; resource and
// fatal errors are returned on the first attempt, since only the plate
// itself — not this helper — decides what to do with those.
func (a *Actor) askRetrying(ctx context.Context, target *actorkit.PID, msg any, timeout time.Duration) (any, error) {
	res, err := target.Ask(ctx, a.self, msg, timeout)
	if err == nil || corerrors.Classify(err) != corerrors.KindTransient {
		return res, err
	}
	retrier := retry.NewRetrier(transientRetries, transientMinBackoff, transientMaxBackoff)
	rerr := retrier.RunContext(ctx, func(rctx context.Context) error {
		res, err = target.Ask(rctx, a.self, msg, timeout)
		return err
	})
	if rerr != nil {
		return nil, err
	}
	return res, nil
}

func withCorrelation(params map[string]any, id string) map[string]any {
	if params == nil {
		params = map[string]any{}
	}
	params["correlation_id"] = id
	return params
}

func (a *Actor) handleProcessCompleted(ctx *actorkit.Context, msg device.ProcessCompleted) {
	if a.sub != subWaitingProcess {
		return
	}
	a.sub = subNone
	// pendingAbort takes priority: a ProcessCompleted error here may just be
	// the device reporting that our own Abort cut its operation short, not
	// a genuine process failure.
	if a.pendingAbort {
		a.doAbort(ctx.Context())
		return
	}
	if msg.Err != nil {
		a.failStep(msg.Err)
		return
	}
	a.emit("plate.processing_completed", map[string]any{"device_id": a.assignedDevID})
	// The device and station are still held at this point; if a Pause
	// landed while we were mid-process, honor it now — before finishStep
	// releases station access and unloads the device — so a plate paused
	// during processing is observed with those resources still occupied.
	if a.pendingPause {
		a.resumeContinuation = continueFinishStep
		a.doPause()
		return
	}
	a.finishStep(ctx.Context())
}

func (a *Actor) finishStep(ctx context.Context) {
	step := a.workflow.Steps[a.stepIndex]
	st, err := a.deck.Station(step.StationID)
	if err != nil {
		a.failStep(err)
		return
	}

	a.setPhase(model.PhaseRequestingMover)
	res, err := a.askRetrying(ctx, a.moverPool, moverpool.RequestMover{PlateID: a.id, DestinationHint: st.PrimaryLoc}, moverpool.WaiterAskTimeout)
	if err != nil {
		a.failStep(err)
		return
	}
	granted, ok := res.(moverpool.RequestMoverResult)
	if !ok {
		a.failStep(fmt.Errorf("unexpected mover pool response"))
		return
	}
	a.assignedMoverID, a.moverPID = granted.MoverID, granted.Mover
	a.emit("plate.mover_assigned", map[string]any{"mover_id": a.assignedMoverID})

	a.setPhase(model.PhaseUnloading)
	a.emit("plate.unloading", map[string]any{"device_id": a.assignedDevID})
	if _, err := a.askRetrying(ctx, a.devicePID, device.UnloadPlate{PlateID: a.id}, poolAskTimeout); err != nil {
		a.failStep(err)
		return
	}
	_ = a.devicePool.Tell(ctx, a.self, devicepool.ReleaseDevice{DeviceID: a.assignedDevID})
	a.devicePID, a.assignedDevID = nil, ""

	_ = a.stationMgr.Tell(ctx, a.self, stationmgr.ReleaseAccess{PlateID: a.id, StationID: step.StationID})
	a.waitStationID = ""

	// The pickup mover acquired above must go back to the pool before this
	// step is done — otherwise the next step's requestMoverForDropoff finds
	// it still marked assigned and a single-mover deck deadlocks.
	_ = a.moverPID.Tell(ctx, a.self, mover.ReleaseFromPlate{PlateID: a.id})
	_ = a.moverPool.Tell(ctx, a.self, moverpool.ReleaseMover{MoverID: a.assignedMoverID})
	a.emit("plate.mover_released", map[string]any{"mover_id": a.assignedMoverID})
	a.moverPID, a.assignedMoverID = nil, ""

	a.recordHistory(a.stepIndex, false, time.Since(a.stepStartTime))
	a.stepIndex++
	a.setPhase(model.PhaseReady)
}

func (a *Actor) failStep(err error) {
	a.lastError = err.Error()
	a.errorStep = a.stepIndex
	a.sub = subNone
	a.setPhase(model.PhaseError)
	a.emit("plate.error", map[string]any{"error": err.Error(), "step_index": a.stepIndex})
	a.logger.Warn("plate.step_failed", zap.Int("step_index", a.stepIndex), zap.Error(err))
}

func (a *Actor) completeWorkflow() {
	a.setPhase(model.PhaseCompleted)
	a.emit("plate.workflow_completed", nil)
}

func (a *Actor) recordHistory(stepIndex int, skipped bool, duration time.Duration) {
	step := a.workflow.Steps[stepIndex]
	rec := model.StepRecord{
		StepIndex: stepIndex, StationID: step.StationID, DeviceID: step.DeviceID,
		Skipped: skipped, Duration: duration, At: time.Now(),
	}
	a.history = append(a.history, rec)
	if len(a.history) > model.MaxHistory {
		a.history = a.history[len(a.history)-model.MaxHistory:]
	}
	a.emit("plate.step_completed", map[string]any{"step_index": stepIndex, "skipped": skipped})
}

func (a *Actor) setPhase(p model.Phase) {
	a.phase = p
}

func (a *Actor) emit(name string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["plate_id"] = a.id
	a.bus.Publish(name, payload)
	a.events = append(a.events, eventbus.Event{Name: name, Payload: payload, Timestamp: time.Now()})
	if len(a.events) > model.MaxEventHistory {
		a.events = a.events[len(a.events)-model.MaxEventHistory:]
	}
}

func (a *Actor) snapshot() model.PlateStateSnapshot {
	var workflowID string
	if a.workflow != nil {
		workflowID = a.workflow.ID
	}
	hist := make([]model.StepRecord, len(a.history))
	copy(hist, a.history)
	return model.PlateStateSnapshot{
		PlateID:       a.id,
		SampleIDs:     a.sampleIDs,
		Barcode:       a.barcode,
		WorkflowID:    workflowID,
		StepIndex:     a.stepIndex,
		Phase:         a.phase,
		AssignedMover: a.assignedMoverID,
		HasMover:      a.moverPID != nil,
		StartTime:     a.startTime,
		StepStartTime: a.stepStartTime,
		LastError:     a.lastError,
		ErrorStep:     a.errorStep,
		History:       hist,
		Attrs:         a.attrs,
	}
}
