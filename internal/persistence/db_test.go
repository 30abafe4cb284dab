package persistence

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/diet"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
)

var lastTick = time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "city.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func place(t *testing.T, c *city.City, id string, x, y int) *city.Building {
	t.Helper()
	b, ok := c.Place(c.Catalog.Building(id), x, y)
	if !ok {
		t.Fatalf("failed to place %s at (%d,%d)", id, x, y)
	}
	return b
}

// testCity is a small seeded city with a road from the root (10,19) to (10,12).
func testCity(t *testing.T) *city.City {
	t.Helper()
	c, err := city.New("Testville", 20, 20, city.DefaultCatalog())
	if err != nil {
		t.Fatal(err)
	}
	cfg := grid.DefaultTerrainConfig()
	cfg.Seed = 42
	grid.SeedTerrain(c.Grid, cfg)
	c.Grid.At(0, 0).Owned = false

	c.Techs.Restore("community_policing", 1, 0.05, nil, true, false)
	c.Techs.Restore("air_purifiers", 0, 0.05, []economy.Cost{{Type: economy.Research, Amount: 12}}, false, false)

	for y := 19; y >= 12; y-- {
		place(t, c, "road", 10, y)
	}
	place(t, c, "house", 11, 15)
	place(t, c, "police_station", 8, 12)
	lib := place(t, c, "library", 11, 18)
	lib.DamagedEfficiency = 0.75
	lib.Outputs[0].Amount = 2

	c.Resources.Get(economy.Wood).Amount = 77
	c.Resources.Get(economy.Wood).SetAutoSellAbove(0.6)
	c.LongTicks = 42
	c.LastLongTick = lastTick
	c.PeakPopulation = 120
	c.ResearchTarget = "air_purifiers"
	c.Techs.LastAssistDay = "2026-05-04"
	c.Taxes.Income = 0.12
	c.LastDiet = []diet.Composition{{Type: economy.Grain, Ratio: 1, Effectiveness: 0.5}}
	c.Market.RecordSale(3)
	c.Market.EndTick()
	c.AddTemporaryEffect(city.TempDietBoost, 0.2, 3)
	c.Grid.AddEffect(grid.Effect{Type: grid.EffectNoise, Multiplier: 0.4, ExpiresIn: 2}, 3, 3)
	c.SampleEfficiency()
	return c
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := testCity(t)

	v, err := db.Save(ctx, Capture(c), 0)
	if err != nil || v != 1 {
		t.Fatalf("expected first save at version 1, got %d, %v", v, err)
	}
	got, report, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if report.Version != 1 || report.Skipped() {
		t.Fatalf("expected a clean load at version 1, got %+v", report)
	}

	if got.ID != c.ID || got.Name != c.Name || got.LongTicks != 42 || !got.LastLongTick.Equal(lastTick) {
		t.Fatalf("expected identity and counters restored, got %s %q %d %v", got.ID, got.Name, got.LongTicks, got.LastLongTick)
	}
	if got.PeakPopulation != 120 || got.ResearchTarget != "air_purifiers" || got.Techs.LastAssistDay != "2026-05-04" {
		t.Fatal("expected session state restored")
	}
	if got.Flags != c.Flags || got.Taxes != c.Taxes {
		t.Fatalf("expected flags and taxes restored, got %+v %+v", got.Flags, got.Taxes)
	}
	if got.Grid.At(0, 0).Owned || !got.Grid.At(1, 1).Owned {
		t.Fatal("expected tile ownership restored")
	}

	if len(got.Buildings) != len(c.Buildings) {
		t.Fatalf("expected %d buildings, got %d", len(c.Buildings), len(got.Buildings))
	}
	for _, b := range c.Buildings {
		r := got.Building(b.ID)
		if r == nil || r.Type.ID != b.Type.ID || r.X != b.X || r.Y != b.Y {
			t.Fatalf("expected building %d restored in place", b.ID)
		}
		if r.RoadConnected != b.RoadConnected || r.RadiusBonus != b.RadiusBonus || r.Efficiency != b.Efficiency {
			t.Fatalf("expected building %d derived state rebuilt, got %+v", b.ID, r)
		}
	}
	if lib := got.BuildingAt(11, 18); lib.DamagedEfficiency != 0.75 || lib.Outputs[0].Amount != 2 {
		t.Fatalf("expected library condition and buffer restored, got %+v", lib)
	}
	if nb := place(t, got, "road", 10, 11); nb.ID <= uint64(len(c.Buildings)) {
		t.Fatalf("expected new IDs after the stored ones, got %d", nb.ID)
	}

	for _, typ := range []grid.EffectType{grid.EffectLandValue, grid.EffectPolice, grid.EffectNoise, grid.EffectEducation} {
		for y := 0; y < 20; y++ {
			for x := 0; x < 20; x++ {
				a, b := c.Grid.Value(typ, x, y), got.Grid.Value(typ, x, y)
				if math.Abs(a-b) > 1e-9 {
					t.Fatalf("expected %s at (%d,%d) = %f, got %f", typ, x, y, a, b)
				}
			}
		}
	}

	wood := got.Resources.Get(economy.Wood)
	if wood.Amount != 77 || wood.AutoSellAbove != 0.6 {
		t.Fatalf("expected wood restored, got %+v", wood)
	}
	if got.Resources.Amount(economy.Flunds) != c.Resources.Amount(economy.Flunds) {
		t.Fatal("expected flunds restored")
	}
	if tc := got.Techs.Get("air_purifiers"); tc.CostOf(economy.Research) != 12 || tc.Researched {
		t.Fatalf("expected partial funding restored, got %+v", tc)
	}
	if !got.Techs.Get("community_policing").Researched {
		t.Fatal("expected researched tech restored")
	}
	if len(got.LastDiet) != 1 || got.LastDiet[0] != c.LastDiet[0] {
		t.Fatalf("expected diet composition restored, got %+v", got.LastDiet)
	}
	if h := got.Market.History(); len(h) != 1 || h[0] != 3 {
		t.Fatalf("expected market history restored, got %v", h)
	}
	if got.TemporaryBonus(city.TempDietBoost) != 0.2 {
		t.Fatal("expected temporary effects restored")
	}
}

func TestStaleWriteRejected(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := testCity(t)
	if _, err := db.Save(ctx, Capture(c), 0); err != nil {
		t.Fatal(err)
	}

	a, ra, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatal(err)
	}
	b, rb, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatal(err)
	}

	a.LongTicks++
	if v, err := db.Save(ctx, Capture(a), ra.Version); err != nil || v != 2 {
		t.Fatalf("expected the first session to save version 2, got %d, %v", v, err)
	}
	b.LongTicks += 10
	if _, err := db.Save(ctx, Capture(b), rb.Version); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected ErrStaleWrite, got %v", err)
	}
	if _, err := db.Save(ctx, Capture(b), 0); !errors.Is(err, ErrStaleWrite) {
		t.Fatalf("expected creating an existing city to be stale, got %v", err)
	}

	stored, _, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatal(err)
	}
	if stored.LongTicks != a.LongTicks {
		t.Fatalf("expected the stale write to change nothing, got %d ticks", stored.LongTicks)
	}

	other := testCity(t)
	if _, err := db.Save(ctx, Capture(other), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for an unsaved city, got %v", err)
	}
}

func TestLoadSkipsUnknownCatalogEntries(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := testCity(t)
	if _, err := db.Save(ctx, Capture(c), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec("UPDATE buildings SET type = 'ghost' WHERE type = 'library'"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`INSERT INTO techs (city_id, id, adoption_rate, adoption_growth,
		costs_json, researched, unavailable) VALUES (?, 'lost_tech', 0, 0, '[]', 0, 0)`, c.ID.String()); err != nil {
		t.Fatal(err)
	}

	got, report, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatalf("expected the load to survive unknown entries, got %v", err)
	}
	if len(report.SkippedBuildings) != 1 || report.SkippedBuildings[0] != "ghost" {
		t.Fatalf("expected the ghost building skipped, got %v", report.SkippedBuildings)
	}
	if len(report.SkippedTechs) != 1 || report.SkippedTechs[0] != "lost_tech" {
		t.Fatalf("expected the lost tech skipped, got %v", report.SkippedTechs)
	}
	if len(got.Buildings) != len(c.Buildings)-1 || got.BuildingAt(11, 18) != nil {
		t.Fatal("expected every other building restored")
	}
}

func TestLoadDetectsCorruptBlobs(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := testCity(t)
	if _, err := db.Save(ctx, Capture(c), 0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec("UPDATE cities SET digest = '00'"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := db.Load(ctx, c.ID, city.DefaultCatalog()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestLoadRevalidatesResources(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	c := testCity(t)
	if _, err := db.Save(ctx, Capture(c), 0); err != nil {
		t.Fatal(err)
	}
	capacity := c.Resources.Get(economy.Wood).Capacity

	if _, err := db.conn.Exec("UPDATE resources SET amount = 99999 WHERE type = 'wood'"); err != nil {
		t.Fatal(err)
	}
	got, _, err := db.Load(ctx, c.ID, city.DefaultCatalog())
	if err != nil {
		t.Fatalf("expected an overfull account to load, got %v", err)
	}
	if wood := got.Resources.Get(economy.Wood); wood.Amount != capacity {
		t.Fatalf("expected wood clamped to %f, got %f", capacity, wood.Amount)
	}

	if _, err := db.conn.Exec("UPDATE resources SET capacity = -5 WHERE type = 'wood'"); err != nil {
		t.Fatal(err)
	}
	_, _, err = db.Load(ctx, c.ID, city.DefaultCatalog())
	if !errors.Is(err, ErrCorrupt) || !errors.Is(err, economy.ErrNegativeCapacity) {
		t.Fatalf("expected a corrupt negative capacity, got %v", err)
	}
}

func TestLoadMissingCity(t *testing.T) {
	db := openTestDB(t)
	if _, _, err := db.Load(context.Background(), uuid.New(), city.DefaultCatalog()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if v, err := db.SchemaVersion(context.Background()); err != nil || v != schemaVersion {
		t.Fatalf("expected schema version %s, got %q, %v", schemaVersion, v, err)
	}
}
