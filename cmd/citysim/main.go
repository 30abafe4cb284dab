// Command citysim runs a tile city simulation and persists it to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/config"
	"github.com/talgya/tile-city/internal/engine"
	"github.com/talgya/tile-city/internal/entropy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/persistence"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults when empty)")
	loadID := flag.String("load", "", "ID of a saved city to resume")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	level, _ := cfg.Logging.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	catalog, err := cfg.LoadCatalog()
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		os.MkdirAll(dir, 0o755)
	}
	db, err := persistence.Open(cfg.Storage.Path)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.Storage.Path)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Load or found the city ───────────────────────────────────────
	var c *city.City
	var version int64
	if *loadID != "" {
		id, err := uuid.Parse(*loadID)
		if err != nil {
			slog.Error("invalid city id", "id", *loadID, "error", err)
			os.Exit(1)
		}
		var report *persistence.LoadReport
		c, report, err = db.Load(ctx, id, catalog)
		if err != nil {
			slog.Error("failed to load city", "id", id, "error", err)
			os.Exit(1)
		}
		version = report.Version
	} else {
		c, err = foundCity(cfg, catalog)
		if err != nil {
			slog.Error("failed to create city", "error", err)
			os.Exit(1)
		}
	}

	saver := persistence.NewSaver(db, version, cfg.Storage.SaveInterval)
	if version == 0 {
		if err := saver.Save(ctx, c); err != nil {
			slog.Error("initial save failed", "error", err)
			os.Exit(1)
		}
	}

	// ── Engine ───────────────────────────────────────────────────────
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sim := engine.NewSimulation(c, entropy.NewSeeded(time.Now().UnixNano()))
	sim.OnLongTickDone = func(s *engine.Simulation) {
		_, err := saver.Autosave(ctx, s.City)
		switch {
		case err == nil, errors.Is(err, persistence.ErrSaveInProgress):
		case errors.Is(err, persistence.ErrStaleWrite):
			slog.Error("city was saved elsewhere; stopping so it can be reloaded", "city", s.City.ID)
			cancel()
		default:
			slog.Error("autosave failed", "error", err)
		}
	}

	eng := engine.NewEngine()
	eng.LongTickInterval = cfg.Simulation.LongTickInterval
	eng.ShortTicksPerLongTick = cfg.Simulation.ShortTicksPerLongTick
	eng.MaxCatchUp = cfg.Simulation.MaxCatchUpTicks
	eng.Resume(c.LastLongTick, c.LastShortTick)
	sim.Attach(eng)

	fmt.Printf("\n%s is open: %d residents in %d buildings on a %dx%d grid.\n",
		c.Name, c.Population(), len(c.Buildings), c.Grid.Width, c.Grid.Height)
	fmt.Printf("City ID: %s (resume with -load %s)\n", c.ID, c.ID)
	if c.LongTicks > 0 {
		fmt.Printf("Resuming from long tick %d (%s)\n", c.LongTicks, engine.SimDay(c.LongTicks, c.TicksPerDay))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	eng.Run(ctx, time.Now)

	saver.Stop()
	if errors.Is(saver.LastError(), persistence.ErrStaleWrite) {
		fmt.Println("Simulation stopped. City not saved: a newer version exists.")
		return
	}
	slog.Info("final save...")
	if err := saver.Save(context.Background(), c); err != nil {
		slog.Error("final save failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("Simulation stopped. City saved.")
}

// foundCity creates a city on seeded terrain with a main road, a cross
// street and a few starter buildings.
func foundCity(cfg config.Config, catalog *city.Catalog) (*city.City, error) {
	c, err := city.New(cfg.City.Name, cfg.City.Width, cfg.City.Height, catalog)
	if err != nil {
		return nil, err
	}
	c.TicksPerDay = cfg.Simulation.TicksPerDay

	terrain := grid.DefaultTerrainConfig()
	terrain.Seed = cfg.City.Seed
	seed := grid.SeedTerrain(c.Grid, terrain)

	root := c.NetworkRoot
	road := catalog.Building("road")
	length := min(12, c.Grid.Height)
	for dy := 0; dy < length; dy++ {
		c.Place(road, root.X, root.Y-dy)
	}
	cross := root.Y - length/2
	for dx := -6; dx <= 6; dx++ {
		c.Place(road, root.X+dx, cross)
	}

	starters := []struct {
		id     string
		dx, dy int
	}{
		{"house", 1, -1},
		{"house", -1, -1},
		{"house", 1, -3},
		{"library", -2, -3},
		{"corner_store", 1, -length/2 - 1},
		{"grain_farm", -3, -length/2 - 2},
		{"park", 3, -length/2 + 1},
	}
	for _, s := range starters {
		bt := catalog.Building(s.id)
		if bt == nil {
			continue
		}
		if _, ok := c.Place(bt, root.X+s.dx, root.Y+s.dy); !ok {
			slog.Warn("starter building did not fit", "type", s.id, "x", root.X+s.dx, "y", root.Y+s.dy)
		}
	}
	if catalog.TechSpec("community_policing") != nil {
		c.ResearchTarget = "community_policing"
	}
	c.UpdatePeak()

	slog.Info("city founded", "name", c.Name, "id", c.ID, "seed", seed,
		"size", fmt.Sprintf("%dx%d", c.Grid.Width, c.Grid.Height), "buildings", len(c.Buildings))
	return c, nil
}
