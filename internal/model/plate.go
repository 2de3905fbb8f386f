package model

import "time"

// PlateID identifies a plate (a microtiter plate carrying samples) for its
// lifetime.
type PlateID string

// MoverID identifies a physical mover for the process lifetime.
type MoverID string

// Phase is a plate's position in its execution state machine.
type Phase string

const (
	PhaseCreated          Phase = "created"
	PhaseReady            Phase = "ready"
	PhaseRequestingMover   Phase = "requesting_mover"
	PhaseAwaitingMover     Phase = "awaiting_mover"
	PhaseInTransit         Phase = "in_transit"
	PhaseRequestingDevice  Phase = "requesting_device"
	PhaseLoading           Phase = "loading"
	PhaseProcessing        Phase = "processing"
	PhaseUnloading         Phase = "unloading"
	PhasePaused            Phase = "paused"
	PhaseError             Phase = "error"
	PhaseAborted           Phase = "aborted"
	PhaseCompleted         Phase = "completed"
)

// LocationKind discriminates the PlateLocation variant.
type LocationKind int

const (
	PlateUnassigned LocationKind = iota
	PlateOnMover
	PlateInDevice
	PlateInStorage
)

// PlateLocation is the tagged-variant plate-location field of the data
// model: unassigned | on_mover(mover_id) | in_device(device_id, station_id)
// | in_storage(slot_id).
type PlateLocation struct {
	Kind      LocationKind
	MoverID   MoverID
	DeviceID  DeviceID
	StationID StationID
	SlotID    string
}

// StepRecord is one bounded history entry, recording what happened at a
// completed (or skipped) step — the supplemented History field described
// in SPEC_FULL.md, carried over from the original system's per-plate audit
// trail.
type StepRecord struct {
	StepIndex int
	StationID StationID
	DeviceID  DeviceID
	Skipped   bool
	Duration  time.Duration
	At        time.Time
}

// MaxHistory bounds the number of StepRecord entries retained per plate.
const MaxHistory = 64

// MaxEventHistory bounds the number of emitted events retained per plate
// actor for inspection, per spec §4.9.
const MaxEventHistory = 50

// MoverRunState is the mover's own idle/assigned/transporting state.
type MoverRunState string

const (
	MoverIdle         MoverRunState = "idle"
	MoverAssigned     MoverRunState = "assigned"
	MoverTransporting MoverRunState = "transporting"
)

// MoverPhysicalState is a snapshot of a mover's physical condition, as
// reported by the driver.
type MoverPhysicalState struct {
	Position     Position
	TrackID      TrackID
	HasTrack     bool
	TrackDist    float64
	VelocityMMPS float64
	State        MoverRunState
}

// PlateStateSnapshot is the read-only view returned by get_plate_state /
// list_plates.
type PlateStateSnapshot struct {
	PlateID        PlateID
	SampleIDs      []string
	Barcode        string
	WorkflowID     string
	StepIndex      int
	Phase          Phase
	Location       PlateLocation
	AssignedMover  MoverID
	HasMover       bool
	StartTime      time.Time
	StepStartTime  time.Time
	LastError      string
	ErrorStep      int
	History        []StepRecord
	Attrs          map[string]any
}

// MoverStateSnapshot is the read-only view returned by list_movers.
type MoverStateSnapshot struct {
	MoverID       MoverID
	Physical      MoverPhysicalState
	AssignedPlate PlateID
	HasPlate      bool
}
