package model

import "time"

// StationID identifies a logical dock associated with exactly one device.
type StationID string

// DeviceID identifies a configured device instrument.
type DeviceID string

// DeviceType groups devices offering the same capability (pipetter,
// incubator, reader, washer, lid handler, decapper, ...), used to route
// per-device-type waiter queues in the device pool.
type DeviceType string

// Station is the configuration of one logical dock. Capacity (Slots) is
// typically 1 but the model allows any small integer. Live occupancy and
// the FIFO wait queue are kept by the station manager, which does not
// update OccupantCount.
type Station struct {
	ID            StationID
	DeviceType    DeviceType
	DeviceID      DeviceID
	PrimaryLoc    LocationID
	QueueLoc      LocationID
	Slots         int
	OccupantCount int
}

// WorkflowStep is one stop in a plate's itinerary. Duration == nil means
// the device signals completion asynchronously (event-driven) rather than
// on a timer. Rule, when non-empty, is an expr-language guard: if it
// evaluates false against the plate, the executor skips this step — a
// supplemented feature carried over from the original system's
// conditional-step support.
type WorkflowStep struct {
	StepID     int
	Name       string
	StationID  StationID
	DeviceID   DeviceID
	DeviceType DeviceType
	Duration   *time.Duration
	Parameters map[string]any
	Rule       string
}

// Workflow is an immutable ordered itinerary. Once a plate is assigned a
// Workflow, the step slice must never be mutated (invariant I7).
type Workflow struct {
	ID    string
	Steps []WorkflowStep
}
