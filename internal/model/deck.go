package model

import "fmt"

// Deck is the immutable, boot-time-configured snapshot of the physical
// layout: tiles, tracks, named locations, and stations. It is the sole
// input the path planner reads; nothing here changes after boot, per the
// "Persisted state: None mandated" contract in spec §6 — a host that wants
// a different deck restarts with new configuration.
type Deck struct {
	Tiles     []StatorTile
	Tracks    map[TrackID]Track
	Locations map[LocationID]Location
	Stations  map[StationID]Station
}

// NewDeck builds an empty Deck ready to be populated by a config loader.
func NewDeck() *Deck {
	return &Deck{
		Tracks:    make(map[TrackID]Track),
		Locations: make(map[LocationID]Location),
		Stations:  make(map[StationID]Station),
	}
}

// TileAt returns the first tile, enabled or not, whose bounds contain
// (x, y), if any.
func (d *Deck) TileAt(x, y float64) (StatorTile, bool) {
	for _, t := range d.Tiles {
		if t.Bounds.Contains(x, y) {
			return t, true
		}
	}
	return StatorTile{}, false
}

// IsNavigable reports whether (x, y) lies over an enabled tile — the
// validity condition for any Position.
func (d *Deck) IsNavigable(x, y float64) bool {
	tile, ok := d.TileAt(x, y)
	return ok && tile.Enabled
}

// Location looks up a named location, erroring if absent.
func (d *Deck) Location(id LocationID) (Location, error) {
	loc, ok := d.Locations[id]
	if !ok {
		return Location{}, fmt.Errorf("location %s not configured", id)
	}
	return loc, nil
}

// Station looks up a station by id, erroring if absent.
func (d *Deck) Station(id StationID) (Station, error) {
	st, ok := d.Stations[id]
	if !ok {
		return Station{}, fmt.Errorf("station %s not configured", id)
	}
	return st, nil
}

// Track looks up a track by id, erroring if absent.
func (d *Deck) Track(id TrackID) (Track, error) {
	t, ok := d.Tracks[id]
	if !ok {
		return Track{}, fmt.Errorf("track %s not configured", id)
	}
	return t, nil
}
