// Package model defines the static deck layout and the runtime data model
// shared by every actor in the scheduling core: positions, tiles, tracks,
// locations, stations, workflows, and plate/mover state snapshots.
package model

import "math"

// TileSizeMM is the fixed edge length of a stator tile.
const TileSizeMM = 240.0

// ConnectEpsilonMM is the tolerance within which two track endpoints are
// considered the same junction.
const ConnectEpsilonMM = 5.0

// TooCloseEpsilonMM is the tolerance within which a planner treats source
// and destination as the same point, per the planner's TooClose failure
// mode.
const TooCloseEpsilonMM = 1.0

// Position is a pose on the deck: millimeter coordinates plus a heading in
// degrees.
type Position struct {
	X, Y float64
	C    float64
}

// DistanceTo returns the planar Euclidean distance to other, ignoring
// heading.
func (p Position) DistanceTo(other Position) float64 {
	dx := p.X - other.X
	dy := p.Y - other.Y
	return math.Hypot(dx, dy)
}

// QuadrantOffsets are the reference points at ±60mm and ±180mm from a
// tile's bottom-left corner, used for snapping and planning.
var QuadrantOffsets = []Position{
	{X: 60, Y: 60}, {X: -60, Y: 60}, {X: 60, Y: -60}, {X: -60, Y: -60},
	{X: 180, Y: 180}, {X: -180, Y: 180}, {X: 180, Y: -180}, {X: -180, Y: -180},
}

// Bounds is an axis-aligned rectangle in millimeters.
type Bounds struct {
	XMin, YMin, XMax, YMax float64
}

// Contains reports whether (x, y) lies within the bounds, inclusive.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.XMin && x <= b.XMax && y >= b.YMin && y <= b.YMax
}

// StatorTile is one 240mm square cell of the navigable surface. Disabled
// tiles are holes: no mover may occupy or cross them.
type StatorTile struct {
	GridCol, GridRow int
	Enabled          bool
	Bounds           Bounds
}

// TrackID identifies a configured line segment used for planned motion.
type TrackID string

// Track is a straight segment over enabled tiles, forming an edge of the
// planner's connectivity graph.
type Track struct {
	ID         TrackID
	Name       string
	Start, End Position
	Length     float64
}

// ConnectsTo reports whether this track and other share an endpoint within
// ConnectEpsilonMM, i.e. are junction-connected in the planner's graph.
func (t Track) ConnectsTo(other Track) (selfEnd, otherEnd Position, ok bool) {
	pairs := [][2]Position{
		{t.Start, other.Start}, {t.Start, other.End},
		{t.End, other.Start}, {t.End, other.End},
	}
	for _, pair := range pairs {
		if pair[0].DistanceTo(pair[1]) <= ConnectEpsilonMM {
			return pair[0], pair[1], true
		}
	}
	return Position{}, Position{}, false
}

// LocationType classifies what a Location is used for.
type LocationType int

const (
	LocationWaypoint LocationType = iota
	LocationDevice
	LocationPivot
	LocationQueue
	LocationTrackService
)

// LocationID identifies a named point on the deck.
type LocationID string

// Location is a named point, optionally anchored to a track at a signed
// distance along it. Device locations reference a StationID; queue
// locations are the physical parking spots used for station gating.
type Location struct {
	ID          LocationID
	Type        LocationType
	Position    Position
	ParentTrack TrackID
	TrackDist   float64
	StationID   StationID
}
