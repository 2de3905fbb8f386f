package planner

import (
	"github.com/movelab/shuttlecore/internal/corerrors"
	"github.com/movelab/shuttlecore/internal/model"
)

// SnapRadiusMM bounds how far a source or destination point may be from a
// track-endpoint junction cluster and still be considered "near a track",
// per the branching rule in spec §4.3. It is independent of
// model.ConnectEpsilonMM, which governs track-to-track junction detection.
const SnapRadiusMM = 120.0

// Constraints narrows the planner's search: AvoidTracks excludes specific
// tracks from the connectivity graph (e.g. one under maintenance);
// PreferTracks is accepted but not read by Plan, so it has no effect on the
// chosen route (equal-cost ties always go to the lower track_id).
type Constraints struct {
	AvoidTracks  []model.TrackID
	PreferTracks []model.TrackID
}

// Planner is the pure path-planning service. It holds no mutable state and
// is safe to call concurrently from any actor without locking, per spec
// §5's "Shared resources" note on the planner.
type Planner struct{}

// New returns a Planner. It carries no configuration: every call is a pure
// function of the Deck snapshot passed to Plan.
func New() *Planner { return &Planner{} }

// Plan computes an ordered list of primitive motion commands from a
// mover's current position to a destination Location. It never mutates
// deck and never reads any mover's live state.
func (pl *Planner) Plan(deck *model.Deck, from model.Position, to model.Location, constraints Constraints) (Plan, error) {
	dest := to.Position

	if !deck.IsNavigable(dest.X, dest.Y) {
		return Plan{}, corerrors.ErrUnreachable
	}
	if from.DistanceTo(dest) <= model.TooCloseEpsilonMM {
		// Source and destination are effectively the same point: no motion
		// is required, so this is an empty plan rather than an error.
		return Plan{}, nil
	}

	g := buildGraph(deck)
	avoided := make(map[model.TrackID]bool, len(constraints.AvoidTracks))
	for _, t := range constraints.AvoidTracks {
		avoided[t] = true
	}
	g.filterAvoided(avoided)

	srcCluster, srcNear := g.nearestCluster(from, SnapRadiusMM)
	dstCluster, dstNear := g.nearestCluster(dest, SnapRadiusMM)

	switch {
	case srcNear && dstNear:
		return pl.planViaTracks(g, from, dest, srcCluster, dstCluster)
	case !srcNear && !dstNear:
		return pl.planFreeMove(deck, from, dest)
	default:
		// One side is near a track and the other is off-track: the spec
		// describes inserting a single hop_on/hop_off connector rather than
		// a full graph search when only one endpoint is anchored. We treat
		// the anchored cluster as both source and destination for the
		// graph stage (zero-length track traversal) and let the connector
		// commands carry the remaining free-space leg.
		if srcNear {
			return pl.planViaTracks(g, from, dest, srcCluster, srcCluster)
		}
		return pl.planViaTracks(g, from, dest, dstCluster, dstCluster)
	}
}

func (g *graph) filterAvoided(avoided map[model.TrackID]bool) {
	if len(avoided) == 0 {
		return
	}
	for cid, set := range g.tracksAt {
		kept := set.Clone()
		for tid := range avoided {
			kept.Remove(tid)
		}
		g.tracksAt[cid] = kept
	}
}

func (pl *Planner) planViaTracks(g *graph, from, dest model.Position, srcCluster, dstCluster clusterID) (Plan, error) {
	tracks, cost, err := g.dijkstra(srcCluster, dstCluster)
	if err != nil {
		return Plan{}, corerrors.ErrNoRoute
	}

	var cmds []PrimitiveCommand
	if len(tracks) == 0 {
		// Same junction cluster: connector-only plan between the two free
		// points around it.
		connectDist := from.DistanceTo(g.clusterPos[srcCluster])
		if connectDist > model.TooCloseEpsilonMM {
			cmds = append(cmds, PrimitiveCommand{Kind: HopOn, X: from.X, Y: from.Y, EstDuration: durationFor(connectDist)})
		}
		hopOffDist := g.clusterPos[dstCluster].DistanceTo(dest)
		if hopOffDist > model.TooCloseEpsilonMM {
			cmds = append(cmds, PrimitiveCommand{Kind: HopOff, X: dest.X, Y: dest.Y, EstDuration: durationFor(hopOffDist)})
			cost += hopOffDist
		}
		cmds = append(cmds, rotateIfNeeded(dest)...)
		return Plan{Commands: cmds, Cost: cost}, nil
	}

	entryConnectDist := from.DistanceTo(trackEndpointNear(g, tracks[0], srcCluster))
	if entryConnectDist > model.TooCloseEpsilonMM {
		cost += entryConnectDist
	}

	prevEntryDist := distanceAtCluster(g, tracks[0], srcCluster)
	cmds = append(cmds, PrimitiveCommand{
		Kind: HopOn, TrackID: tracks[0], Distance: prevEntryDist,
		EstDuration: durationFor(entryConnectDist),
	})

	curCluster := srcCluster
	for i, tid := range tracks {
		entryDist := distanceAtCluster(g, tid, curCluster)
		exitCluster := otherClusterOf(g, tid, curCluster)
		exitDist := distanceAtCluster(g, tid, exitCluster)

		cmds = append(cmds, PrimitiveCommand{
			Kind: Follow, TrackID: tid, Distance: entryDist, TargetDist: exitDist,
			EstDuration: durationFor(absf(exitDist - entryDist)),
		})

		if i < len(tracks)-1 {
			next := tracks[i+1]
			cmds = append(cmds, PrimitiveCommand{Kind: Transition, FromTrack: tid, ToTrack: next})
		}
		curCluster = exitCluster
	}

	hopOffDist := g.clusterPos[curCluster].DistanceTo(dest)
	if hopOffDist > model.TooCloseEpsilonMM {
		cmds = append(cmds, PrimitiveCommand{Kind: HopOff, X: dest.X, Y: dest.Y, EstDuration: durationFor(hopOffDist)})
		cost += hopOffDist
	}
	cmds = append(cmds, rotateIfNeeded(dest)...)

	return Plan{Commands: cmds, Cost: cost}, nil
}

func (pl *Planner) planFreeMove(deck *model.Deck, from, dest model.Position) (Plan, error) {
	fromTile, ok1 := deck.TileAt(from.X, from.Y)
	toTile, ok2 := deck.TileAt(dest.X, dest.Y)
	if !ok1 || !ok2 || fromTile.GridCol != toTile.GridCol || fromTile.GridRow != toTile.GridRow {
		return Plan{}, corerrors.ErrNoRoute
	}
	dist := from.DistanceTo(dest)
	cmds := []PrimitiveCommand{{Kind: FreeMove, X: dest.X, Y: dest.Y, C: dest.C, EstDuration: durationFor(dist)}}
	return Plan{Commands: cmds, Cost: dist}, nil
}

func rotateIfNeeded(dest model.Position) []PrimitiveCommand {
	if dest.C == 0 {
		return nil
	}
	return []PrimitiveCommand{{Kind: Rotate, C: dest.C}}
}

func distanceAtCluster(g *graph, tid model.TrackID, cid clusterID) float64 {
	track := g.deck.Tracks[tid]
	if g.clusterOf[endpointRef{tid, false}] == cid {
		return 0
	}
	return track.Length
}

func otherClusterOf(g *graph, tid model.TrackID, cid clusterID) clusterID {
	if g.clusterOf[endpointRef{tid, false}] == cid {
		return g.clusterOf[endpointRef{tid, true}]
	}
	return g.clusterOf[endpointRef{tid, false}]
}

func trackEndpointNear(g *graph, tid model.TrackID, cid clusterID) model.Position {
	return g.clusterPos[cid]
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
