// Package config loads the deck layout, stations, devices, and tracks a
// host process needs to assemble a Deck and spawn the scheduling core,
// per SPEC_FULL.md §6's Load entry point. Grounded on
// industrial-4.0-demo/internal/config's viper+mapstructure loading
// pattern, generalized from that demo's single flat workflow map to the
// deck/station/track/mover/workflow shape this core needs.
package config

import (
	"fmt"
	"time"

	"github.com/movelab/shuttlecore/internal/model"
	"github.com/spf13/viper"
)

// tileSpec mirrors model.StatorTile with mapstructure tags for YAML.
type tileSpec struct {
	GridCol int     `mapstructure:"grid_col"`
	GridRow int     `mapstructure:"grid_row"`
	X       float64 `mapstructure:"x"`
	Y       float64 `mapstructure:"y"`
	Enabled bool    `mapstructure:"enabled"`
}

type trackSpec struct {
	ID     string  `mapstructure:"id"`
	X1     float64 `mapstructure:"x1"`
	Y1     float64 `mapstructure:"y1"`
	X2     float64 `mapstructure:"x2"`
	Y2     float64 `mapstructure:"y2"`
	Length float64 `mapstructure:"length"`
}

type locationSpec struct {
	ID   string  `mapstructure:"id"`
	X    float64 `mapstructure:"x"`
	Y    float64 `mapstructure:"y"`
	C    float64 `mapstructure:"c"`
	Type string  `mapstructure:"type"`
}

type stationSpec struct {
	ID          string `mapstructure:"id"`
	DeviceType  string `mapstructure:"device_type"`
	DeviceID    string `mapstructure:"device_id"`
	PrimaryLoc  string `mapstructure:"primary_location"`
	QueueLoc    string `mapstructure:"queue_location"`
	Slots       int    `mapstructure:"slots"`
}

type DeviceSpec struct {
	ID   string `mapstructure:"id"`
	Type string `mapstructure:"type"`
}

type moverSpec struct {
	ID string  `mapstructure:"id"`
	X  float64 `mapstructure:"x"`
	Y  float64 `mapstructure:"y"`
}

type workflowStepSpec struct {
	StepID     int            `mapstructure:"step_id"`
	Name       string         `mapstructure:"name"`
	StationID  string         `mapstructure:"station_id"`
	DeviceID   string         `mapstructure:"device_id"`
	DeviceType string         `mapstructure:"device_type"`
	DurationMS int            `mapstructure:"duration_ms"`
	Timed      bool           `mapstructure:"timed"`
	Parameters map[string]any `mapstructure:"parameters"`
	Rule       string         `mapstructure:"rule"`
}

type workflowSpec struct {
	ID    string             `mapstructure:"id"`
	Steps []workflowStepSpec `mapstructure:"steps"`
}

// Spec is the root of a deck configuration file.
type Spec struct {
	Tiles     []tileSpec     `mapstructure:"tiles"`
	Tracks    []trackSpec    `mapstructure:"tracks"`
	Locations []locationSpec `mapstructure:"locations"`
	Stations  []stationSpec  `mapstructure:"stations"`
	Devices   []DeviceSpec   `mapstructure:"devices"`
	Movers    []moverSpec    `mapstructure:"movers"`
	Workflows []workflowSpec `mapstructure:"workflows"`
}

// Result is everything Load assembles: the immutable Deck plus the
// boot-time device/mover/workflow inventories a cmd/ binary wires into
// actors, which are not part of model.Deck itself since the Deck only
// carries the planner's static inputs (spec §6 "Persisted state: None
// mandated").
type Result struct {
	Deck      *model.Deck
	Devices   []DeviceSpec
	Movers    map[model.MoverID]model.Position
	Workflows map[string]*model.Workflow
}

// Load reads a deck configuration file at path (any format viper
// supports by extension: yaml, json, toml) and assembles a Deck plus the
// device/mover/workflow inventories a host wires into the actor system.
func Load(path string) (*Result, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("tiles", []tileSpec{})

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var spec Spec
	if err := v.Unmarshal(&spec); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	deck := model.NewDeck()
	for _, t := range spec.Tiles {
		deck.Tiles = append(deck.Tiles, model.StatorTile{
			GridCol: t.GridCol, GridRow: t.GridRow,
			Bounds: model.Bounds{
				XMin: t.X, YMin: t.Y,
				XMax: t.X + model.TileSizeMM, YMax: t.Y + model.TileSizeMM,
			},
			Enabled: t.Enabled,
		})
	}
	for _, t := range spec.Tracks {
		deck.Tracks[model.TrackID(t.ID)] = model.Track{
			ID:     model.TrackID(t.ID),
			Start:  model.Position{X: t.X1, Y: t.Y1},
			End:    model.Position{X: t.X2, Y: t.Y2},
			Length: t.Length,
		}
	}
	for _, l := range spec.Locations {
		deck.Locations[model.LocationID(l.ID)] = model.Location{
			ID:       model.LocationID(l.ID),
			Position: model.Position{X: l.X, Y: l.Y, C: l.C},
			Type:     parseLocationType(l.Type),
		}
	}
	for _, s := range spec.Stations {
		deck.Stations[model.StationID(s.ID)] = model.Station{
			ID:         model.StationID(s.ID),
			DeviceType: model.DeviceType(s.DeviceType),
			DeviceID:   model.DeviceID(s.DeviceID),
			PrimaryLoc: model.LocationID(s.PrimaryLoc),
			QueueLoc:   model.LocationID(s.QueueLoc),
			Slots:      s.Slots,
		}
	}

	movers := make(map[model.MoverID]model.Position, len(spec.Movers))
	for _, m := range spec.Movers {
		movers[model.MoverID(m.ID)] = model.Position{X: m.X, Y: m.Y}
	}

	workflows := make(map[string]*model.Workflow, len(spec.Workflows))
	for _, w := range spec.Workflows {
		wf := &model.Workflow{ID: w.ID}
		for _, s := range w.Steps {
			step := model.WorkflowStep{
				StepID: s.StepID, Name: s.Name,
				StationID: model.StationID(s.StationID), DeviceID: model.DeviceID(s.DeviceID),
				DeviceType: model.DeviceType(s.DeviceType), Parameters: s.Parameters, Rule: s.Rule,
			}
			if s.Timed {
				d := time.Duration(s.DurationMS) * time.Millisecond
				step.Duration = &d
			}
			wf.Steps = append(wf.Steps, step)
		}
		workflows[w.ID] = wf
	}

	return &Result{Deck: deck, Devices: spec.Devices, Movers: movers, Workflows: workflows}, nil
}

func parseLocationType(s string) model.LocationType {
	switch s {
	case "device":
		return model.LocationDevice
	case "pivot":
		return model.LocationPivot
	case "queue":
		return model.LocationQueue
	case "track_service":
		return model.LocationTrackService
	default:
		return model.LocationWaypoint
	}
}
