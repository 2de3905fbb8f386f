package planner

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/movelab/shuttlecore/internal/model"
)

// clusterID identifies a junction: a set of track endpoints within
// model.ConnectEpsilonMM of each other, collapsed to a single planning
// graph node.
type clusterID int

type endpointRef struct {
	track model.TrackID
	atEnd bool // false = Start, true = End
}

// graph is the track-connectivity graph used for the Dijkstra search: one
// node per junction cluster, one weighted edge per track between the
// clusters its two endpoints belong to.
type graph struct {
	deck     *model.Deck
	clusterOf map[endpointRef]clusterID
	clusterPos map[clusterID]model.Position
	// adjacency maps a cluster to the set of track ids with an endpoint in
	// that cluster, used both for edge traversal and for "nearest track
	// endpoint" lookups.
	tracksAt map[clusterID]mapset.Set[model.TrackID]
}

func buildGraph(deck *model.Deck) *graph {
	g := &graph{
		deck:       deck,
		clusterOf:  make(map[endpointRef]clusterID),
		clusterPos: make(map[clusterID]model.Position),
		tracksAt:   make(map[clusterID]mapset.Set[model.TrackID]),
	}

	type endpoint struct {
		ref endpointRef
		pos model.Position
	}
	var endpoints []endpoint
	for id, t := range deck.Tracks {
		endpoints = append(endpoints, endpoint{endpointRef{id, false}, t.Start})
		endpoints = append(endpoints, endpoint{endpointRef{id, true}, t.End})
	}
	// Deterministic order so clustering (and therefore planning output) does
	// not depend on map iteration order.
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].ref.track != endpoints[j].ref.track {
			return endpoints[i].ref.track < endpoints[j].ref.track
		}
		return !endpoints[i].ref.atEnd && endpoints[j].ref.atEnd
	})

	var nextCluster clusterID
	for _, ep := range endpoints {
		assigned := false
		for cid, pos := range g.clusterPos {
			if pos.DistanceTo(ep.pos) <= model.ConnectEpsilonMM {
				g.clusterOf[ep.ref] = cid
				g.tracksAt[cid].Add(ep.ref.track)
				assigned = true
				break
			}
		}
		if !assigned {
			cid := nextCluster
			nextCluster++
			g.clusterOf[ep.ref] = cid
			g.clusterPos[cid] = ep.pos
			g.tracksAt[cid] = mapset.NewSet(ep.ref.track)
		}
	}
	return g
}

// nearestCluster returns the cluster whose position is within radius of
// pos, preferring the closest one.
func (g *graph) nearestCluster(pos model.Position, radius float64) (clusterID, bool) {
	best := clusterID(-1)
	bestDist := radius
	found := false
	for cid, cpos := range g.clusterPos {
		d := cpos.DistanceTo(pos)
		if d <= bestDist {
			best, bestDist, found = cid, d, true
		}
	}
	return best, found
}

func (g *graph) otherEnd(ref endpointRef) endpointRef {
	return endpointRef{track: ref.track, atEnd: !ref.atEnd}
}

// dijkstra finds the minimum-cost path of tracks from source to dest
// clusters. Ties are broken by preferring the lower track_id at each
// relaxation, per spec §4.3.
func (g *graph) dijkstra(source, dest clusterID) ([]model.TrackID, float64, error) {
	const inf = 1e18
	dist := map[clusterID]float64{source: 0}
	viaTrack := map[clusterID]model.TrackID{}
	prev := map[clusterID]clusterID{}
	visited := map[clusterID]bool{}

	for {
		// pick unvisited node with smallest dist; tie-break lowest cluster id
		// for determinism.
		cur := clusterID(-1)
		curDist := inf
		var ids []clusterID
		for cid := range dist {
			ids = append(ids, cid)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, cid := range ids {
			if visited[cid] {
				continue
			}
			if d := dist[cid]; d < curDist {
				cur, curDist = cid, d
			}
		}
		if cur == clusterID(-1) {
			break
		}
		if cur == dest {
			break
		}
		visited[cur] = true

		tracks := g.tracksAt[cur].ToSlice()
		sort.Slice(tracks, func(i, j int) bool { return tracks[i] < tracks[j] })
		for _, tid := range tracks {
			track := g.deck.Tracks[tid]
			from := endpointRef{tid, false}
			to := endpointRef{tid, true}
			var neighborEnd endpointRef
			if g.clusterOf[from] == cur {
				neighborEnd = to
			} else if g.clusterOf[to] == cur {
				neighborEnd = from
			} else {
				continue
			}
			neighbor := g.clusterOf[neighborEnd]
			cand := curDist + track.Length
			existing, ok := dist[neighbor]
			better := !ok || cand < existing
			tie := ok && cand == existing && (viaTrack[neighbor] == "" || tid < viaTrack[neighbor])
			if better || tie {
				dist[neighbor] = cand
				prev[neighbor] = cur
				viaTrack[neighbor] = tid
			}
		}
	}

	if dest != source {
		if _, ok := dist[dest]; !ok {
			return nil, 0, fmt.Errorf("no path from cluster %d to %d", source, dest)
		}
	}

	var path []model.TrackID
	cur := dest
	for cur != source {
		tid, ok := viaTrack[cur]
		if !ok {
			break
		}
		path = append([]model.TrackID{tid}, path...)
		cur = prev[cur]
	}
	return path, dist[dest], nil
}
