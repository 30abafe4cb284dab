package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := writeFile(t, "citysim.yaml", `
city:
  name: "  Harbor  "
  width: 40
  seed: 7
simulation:
  long_tick_interval: 30s
  max_catch_up_ticks: 3
logging:
  level: DEBUG
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.City.Name != "Harbor" || cfg.City.Width != 40 || cfg.City.Height != 64 || cfg.City.Seed != 7 {
		t.Fatalf("expected city overrides over defaults, got %+v", cfg.City)
	}
	if cfg.Simulation.LongTickInterval != 30*time.Second || cfg.Simulation.MaxCatchUpTicks != 3 {
		t.Fatalf("expected simulation overrides, got %+v", cfg.Simulation)
	}
	if cfg.Simulation.ShortTicksPerLongTick != Default().Simulation.ShortTicksPerLongTick {
		t.Fatal("expected unset keys kept at defaults")
	}
	if lvl, err := cfg.Logging.SlogLevel(); err != nil || lvl != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v, %v", lvl, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"tiny city":    "city: {width: 2}\n",
		"fast ticks":   "simulation: {long_tick_interval: 10ms}\n",
		"bad level":    "logging: {level: loud}\n",
		"bad yaml":     "city: [\n",
		"negative cap": "simulation: {max_catch_up_ticks: -1}\n",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, "bad.yaml", body)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestLoadCatalog(t *testing.T) {
	cfg := Default()
	cat, err := cfg.LoadCatalog()
	if err != nil || cat.Building("road") == nil {
		t.Fatalf("expected the built-in catalog, got %v", err)
	}

	cfg.CatalogPath = writeFile(t, "catalog.yaml", `
buildings:
  - {id: road, road: true}
  - {id: surprise, wobble: 3}
`)
	if _, err := cfg.LoadCatalog(); err == nil || !strings.Contains(err.Error(), "catalog.yaml") {
		t.Fatalf("expected a catalog error naming the file, got %v", err)
	}
}
