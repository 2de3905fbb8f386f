// Command shuttledemo boots the scheduling core against a simulated
// driver and either a -config file or a small in-line deck, runs one plate
// per configured workflow, and logs the events it observes. Grounded on goakt's
// examples/actor-to-actor/main.go for the actor-system bring-up and
// ctrl+c shutdown shape, generalized from a two-actor ping/pong to the
// full pool/device/mover/plate wiring this core needs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/movelab/shuttlecore/internal/actorkit"
	"github.com/movelab/shuttlecore/internal/config"
	"github.com/movelab/shuttlecore/internal/coordinator"
	"github.com/movelab/shuttlecore/internal/device"
	"github.com/movelab/shuttlecore/internal/devicepool"
	"github.com/movelab/shuttlecore/internal/driver"
	"github.com/movelab/shuttlecore/internal/eventbus"
	"github.com/movelab/shuttlecore/internal/model"
	"github.com/movelab/shuttlecore/internal/mover"
	"github.com/movelab/shuttlecore/internal/moverpool"
	"github.com/movelab/shuttlecore/internal/planner"
	"github.com/movelab/shuttlecore/internal/stationmgr"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a deck configuration file (yaml/json/toml)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var result *config.Result
	if *configPath != "" {
		result, err = config.Load(*configPath)
		if err != nil {
			logger.Fatal("config load failed", zap.Error(err))
		}
	} else {
		result = demoDeck()
	}

	bus := eventbus.New(logger)
	bus.Subscribe("**", func(ev eventbus.Event) {
		logger.Info("event", zap.String("name", ev.Name), zap.Any("payload", ev.Payload))
	})

	system := actorkit.NewSystem(logger)
	simDriver := driver.NewSimDriver(result.Movers)
	simDriver.StepJitter = 20 * time.Millisecond
	pl := planner.New()

	moverPIDs := make(map[model.MoverID]*actorkit.PID, len(result.Movers))
	for id := range result.Movers {
		a := mover.New(id, result.Deck, pl, simDriver, bus, logger)
		pid, err := system.Spawn(ctx, "mover/"+string(id), a)
		if err != nil {
			logger.Fatal("spawn mover failed", zap.String("mover_id", string(id)), zap.Error(err))
		}
		moverPIDs[id] = pid
	}
	moverPoolPID, err := system.Spawn(ctx, "moverpool", moverpool.New(result.Deck, pl, bus, logger, moverPIDs))
	if err != nil {
		logger.Fatal("spawn mover pool failed", zap.Error(err))
	}

	devicePIDs := make(map[model.DeviceID]*actorkit.PID, len(result.Devices))
	deviceTypes := make(map[model.DeviceID]model.DeviceType, len(result.Devices))
	for _, d := range result.Devices {
		id, typ := model.DeviceID(d.ID), model.DeviceType(d.Type)
		a := device.New(id, typ, simDriver, bus, logger)
		pid, err := system.Spawn(ctx, "device/"+string(id), a)
		if err != nil {
			logger.Fatal("spawn device failed", zap.String("device_id", string(id)), zap.Error(err))
		}
		devicePIDs[id] = pid
		deviceTypes[id] = typ
	}
	devicePoolPID, err := system.Spawn(ctx, "devicepool", devicepool.New(bus, logger, devicePIDs, deviceTypes))
	if err != nil {
		logger.Fatal("spawn device pool failed", zap.Error(err))
	}

	stationMgrPID, err := system.Spawn(ctx, "stationmgr", stationmgr.New(result.Deck, bus, logger))
	if err != nil {
		logger.Fatal("spawn station manager failed", zap.Error(err))
	}

	coord := coordinator.New(system, result.Deck, bus, logger, moverPoolPID, devicePoolPID, stationMgrPID, moverPIDs)

	i := 0
	for _, wf := range result.Workflows {
		i++
		plateID := model.PlateID(fmt.Sprintf("plate-%d", i))
		if err := coord.SpawnPlate(ctx, plateID, wf, []string{"sample-1"}, "BC-0001"); err != nil {
			logger.Error("spawn plate failed", zap.String("plate_id", string(plateID)), zap.Error(err))
		}
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-interrupt:
			system.Shutdown(ctx)
			return
		case <-ticker.C:
			plates, _ := coord.ListPlates(ctx)
			allDone := len(plates) > 0
			for _, p := range plates {
				logger.Info("plate status", zap.String("plate_id", string(p.PlateID)), zap.String("phase", string(p.Phase)))
				if p.Phase != model.PhaseCompleted && p.Phase != model.PhaseAborted {
					allDone = false
				}
			}
			if allDone {
				system.Shutdown(ctx)
				return
			}
		}
	}
}

// demoDeck assembles a minimal one-tile deck with two stations (incubator
// and reader), their two devices, a single mover and one two-step workflow
// when no -config file is given, so the binary runs out of the box.
func demoDeck() *config.Result {
	deck := model.NewDeck()
	deck.Tiles = []model.StatorTile{
		{GridCol: 0, GridRow: 0, Enabled: true, Bounds: model.Bounds{XMin: 0, YMin: 0, XMax: model.TileSizeMM, YMax: model.TileSizeMM}},
	}
	deck.Locations["dock"] = model.Location{ID: "dock", Type: model.LocationDevice, Position: model.Position{X: 120, Y: 60}, StationID: "incubator-1"}
	deck.Locations["dock-queue"] = model.Location{ID: "dock-queue", Type: model.LocationQueue, Position: model.Position{X: 60, Y: 60}}
	deck.Stations["incubator-1"] = model.Station{
		ID: "incubator-1", DeviceType: "incubator", DeviceID: "incubator-1",
		PrimaryLoc: "dock", QueueLoc: "dock-queue", Slots: 1,
	}
	deck.Locations["reader-dock"] = model.Location{ID: "reader-dock", Type: model.LocationDevice, Position: model.Position{X: 180, Y: 60}, StationID: "reader-1"}
	deck.Locations["reader-dock-queue"] = model.Location{ID: "reader-dock-queue", Type: model.LocationQueue, Position: model.Position{X: 180, Y: 0}}
	deck.Stations["reader-1"] = model.Station{
		ID: "reader-1", DeviceType: "reader", DeviceID: "reader-1",
		PrimaryLoc: "reader-dock", QueueLoc: "reader-dock-queue", Slots: 1,
	}

	incubate := 500 * time.Millisecond
	read := 300 * time.Millisecond
	workflow := &model.Workflow{
		ID: "demo-workflow",
		Steps: []model.WorkflowStep{
			{StepID: 0, Name: "incubate", StationID: "incubator-1", DeviceID: "incubator-1", DeviceType: "incubator", Duration: &incubate},
			{StepID: 1, Name: "read", StationID: "reader-1", DeviceID: "reader-1", DeviceType: "reader", Duration: &read},
		},
	}

	return &config.Result{
		Deck: deck,
		Devices: []config.DeviceSpec{
			{ID: "incubator-1", Type: "incubator"},
			{ID: "reader-1", Type: "reader"},
		},
		Movers: map[model.MoverID]model.Position{"mover-1": {X: 180, Y: 180}},
		Workflows: map[string]*model.Workflow{
			"demo-workflow": workflow,
		},
	}
}
