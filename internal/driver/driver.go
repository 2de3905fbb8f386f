// Package driver defines the physical-driver contract the core consumes
// (spec §6): executing primitive motion commands against real shuttle
// hardware and reporting device completion. The concrete PLC/fieldbus
// driver is an external collaborator; this package only defines the
// interface plus a couple of grounded reference implementations used by
// tests and the demo binary.
package driver

import (
	"context"

	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/planner"
)

// CommandResult is the outcome of executing one primitive command.
type CommandResult struct {
	Success bool
	Err     error
}

// PhysicalDriver is the contract the mover actor drives against. A real
// implementation talks to a PLC/fieldbus; it is intentionally the only
// seam between this core and physical hardware.
type PhysicalDriver interface {
	// ExecuteCommand runs one primitive motion command for moverID and
	// blocks until it completes or ctx is cancelled.
	ExecuteCommand(ctx context.Context, moverID model.MoverID, cmd planner.PrimitiveCommand) CommandResult

	// GetPhysicalState returns the current physical state of moverID.
	GetPhysicalState(ctx context.Context, moverID model.MoverID) (model.MoverPhysicalState, error)

	// SetIdle marks moverID idle once its assigned mover actor considers a
	// transport finished, so a driver's own run-state tracking (busy vs.
	// idle) stays in sync with the actor layer above it.
	SetIdle(moverID model.MoverID)
}

// DeviceDriver is the contract the device actor drives against for
// load/process/unload and event-driven completion.
type DeviceDriver interface {
	// Load synchronizes the mover to the dock and transfers the plate onto
	// the device, blocking until physically loaded.
	Load(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID) error

	// StartProcess begins the device operation. For timed operations the
	// driver itself sleeps for the duration and then invokes onComplete;
	// for event-driven operations onComplete fires when the physical
	// callback arrives. StartProcess must not block past kicking the
	// operation off, per the "long-running Process ask" redesign note in
	// spec §9.
	StartProcess(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID, params map[string]any, onProgress func(fraction float64), onComplete func(error))

	// Unload is symmetric to Load.
	Unload(ctx context.Context, deviceID model.DeviceID, plateID model.PlateID) error

	// Abort cancels the current operation on deviceID if it is safe to
	// interrupt, returning false ("refused") otherwise.
	Abort(ctx context.Context, deviceID model.DeviceID) bool
}
