// Package corerrors defines the sentinel error taxonomy shared by every
// actor in the scheduling core: transient, resource, and fatal, per the
// propagation policy in the error-handling design.
package corerrors

import "errors"

var (
	// ErrTimeout indicates an ask timed out waiting for a reply. Transient.
	ErrTimeout = errors.New("ask timed out")

	// ErrMailboxClosed indicates a send was attempted against a stopped actor.
	ErrMailboxClosed = errors.New("actor mailbox is closed")

	// ErrNoRoute indicates the path planner found no connected route between
	// the source and destination track endpoints. Resource.
	ErrNoRoute = errors.New("no route between source and destination")

	// ErrUnreachable indicates the destination location lies on a disabled
	// stator tile. Resource.
	ErrUnreachable = errors.New("destination is unreachable")

	// ErrStationRejected indicates a station refused access because the
	// station id is not configured. Resource.
	ErrStationRejected = errors.New("station access rejected")

	// ErrDeviceRefused indicates a device actor refused an operation, e.g. a
	// LoadPlate while the device is busy, or a StartProcess/UnloadPlate for a
	// plate it does not hold. Resource.
	ErrDeviceRefused = errors.New("device refused operation")

	// ErrUnknownMessage indicates an actor received a message type its
	// Receive switch does not handle. Fatal.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrInvariantViolation indicates a programming error: an invariant from
	// the data model was observed to be false. Fatal.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrActorNotFound indicates a lookup by id found no registered actor.
	ErrActorNotFound = errors.New("actor not found")

	// ErrWrongPhase indicates a control message was rejected because the
	// plate is not in a phase that accepts it (e.g. AssignWorkflow on a
	// plate that already has one).
	ErrWrongPhase = errors.New("plate is not in a phase that accepts this operation")
)

// Kind classifies an error for the propagation policy in spec §7.
type Kind int

const (
	// KindTransient errors are retried locally by the caller with backoff.
	KindTransient Kind = iota
	// KindResource errors are surfaced to the owning plate actor.
	KindResource
	// KindFatal errors are logged and surfaced to the coordinator; the
	// actor remains alive but refuses further state-changing messages.
	KindFatal
)

// Classify returns the Kind a given core error belongs to. Errors not
// recognized here default to KindFatal, the conservative choice.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrMailboxClosed):
		return KindTransient
	case errors.Is(err, ErrNoRoute),
		errors.Is(err, ErrUnreachable),
		errors.Is(err, ErrStationRejected),
		errors.Is(err, ErrDeviceRefused):
		return KindResource
	default:
		return KindFatal
	}
}
