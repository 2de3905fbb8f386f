// Package planner implements the pure path-planning service: given a
// mover's current position and a destination location, it returns an
// ordered list of primitive motion commands and an estimated cost. It is a
// pure function of the Deck snapshot passed in — it never reads live mover
// state, per spec §4.3.
package planner

import (
	"time"

	"github.com/movelab/shuttlecore/internal/model"
)

// CommandKind discriminates a PrimitiveCommand.
type CommandKind int

const (
	HopOn CommandKind = iota
	Follow
	Transition
	HopOff
	FreeMove
	Rotate
)

// PrimitiveCommand is one step of a Plan, tagged with an estimated
// duration so callers (the mover actor) can emit transport_progress at a
// reasonable cadence.
type PrimitiveCommand struct {
	Kind CommandKind

	TrackID       model.TrackID
	FromTrack     model.TrackID
	ToTrack       model.TrackID
	Distance      float64
	TargetDist    float64
	X, Y, C       float64
	EstDuration   time.Duration
}

// Plan is an ordered list of primitive commands plus their summed
// estimated cost.
type Plan struct {
	Commands []PrimitiveCommand
	Cost     float64
}

// Empty reports whether the plan has no commands, the expected result of
// planning between two points within TooCloseEpsilonMM.
func (p Plan) Empty() bool { return len(p.Commands) == 0 }

// assumedSpeedMMPerSec is used only to turn a geometric distance into an
// estimated duration for progress-event pacing; it does not affect the
// planner's cost metric (edge cost is track length in mm, per spec §4.3).
const assumedSpeedMMPerSec = 2000.0

func durationFor(distanceMM float64) time.Duration {
	if distanceMM <= 0 {
		return 0
	}
	seconds := distanceMM / assumedSpeedMMPerSec
	return time.Duration(seconds * float64(time.Second))
}
