package grid

import (
	"math"
	"testing"
)

type testEmitter struct {
	id uint64
	fp Rect
}

func (e *testEmitter) EmitterID() uint64 { return e.id }
func (e *testEmitter) Footprint() Rect   { return e.fp }

// scaled doubles the effect on tiles in the first column, to prove dynamic
// magnitudes are evaluated per tile at query time.
type scaled struct{ factor *float64 }

func (s scaled) Magnitude(_ *Grid, t *Tile, _ Emitter) float64 {
	if t.X == 0 {
		return *s.factor * 2
	}
	return *s.factor
}

func TestSpreadExcludesFootprint(t *testing.T) {
	g := New(10, 10)
	src := &testEmitter{id: 1, fp: Rect{X: 4, Y: 4, W: 2, H: 2}}
	n := g.SpreadEffect(Effect{Type: EffectPolice, Multiplier: 1, Source: src}, 1, 1, false, 4, 4)
	// 4x4 square around a 2x2 footprint.
	if n != 12 {
		t.Fatalf("expected 12 tiles written, got %d", n)
	}
	if g.HighestEffect(EffectPolice, 4, 4) != 0 {
		t.Fatal("expected the emitter's own footprint to be skipped")
	}
	if g.HighestEffect(EffectPolice, 3, 3) != 1 {
		t.Fatal("expected corner tile to receive the effect")
	}
	if g.HighestEffect(EffectPolice, 7, 7) != 0 {
		t.Fatal("expected tile outside radius to be untouched")
	}
}

func TestSpreadRoundedSkipsCorners(t *testing.T) {
	g := New(11, 11)
	n := g.SpreadEffect(Effect{Type: EffectLuxury, Multiplier: 1}, 3, 3, true, 5, 5)
	if n == 0 || n >= 49 {
		t.Fatalf("expected an ellipse smaller than the 7x7 square, got %d tiles", n)
	}
	if g.HighestEffect(EffectLuxury, 2, 2) != 0 {
		t.Fatal("expected far corner to be outside the rounded footprint")
	}
	if g.HighestEffect(EffectLuxury, 5, 2) != 1 {
		t.Fatal("expected axis tile at full radius to be inside")
	}
	if g.HighestEffect(EffectLuxury, 5, 5) != 1 {
		t.Fatal("expected ambient spread to include its origin tile")
	}
}

func TestSpreadClipsAtEdges(t *testing.T) {
	g := New(3, 3)
	n := g.SpreadEffect(Effect{Type: EffectNoise, Multiplier: 0.5}, 2, 2, false, 0, 0)
	if n != 9 {
		t.Fatalf("expected clipping to the 3x3 grid, got %d", n)
	}
}

func TestRemoveEffectsFromOnlyTouchesOwnEffects(t *testing.T) {
	g := New(8, 8)
	a := &testEmitter{id: 1, fp: Rect{X: 2, Y: 2, W: 1, H: 1}}
	b := &testEmitter{id: 2, fp: Rect{X: 3, Y: 2, W: 1, H: 1}}
	g.SpreadEffect(Effect{Type: EffectNoise, Multiplier: 0.2, Source: a}, 2, 2, false, 2, 2)
	g.SpreadEffect(Effect{Type: EffectNoise, Multiplier: 0.3, Source: b}, 2, 2, false, 3, 2)
	g.AddEffect(Effect{Type: EffectNoise, Multiplier: 0.1}, 2, 3)

	if got := g.SumEffect(EffectNoise, 2, 3); math.Abs(got-0.6) > 1e-9 {
		t.Fatalf("expected stacked noise 0.6, got %f", got)
	}
	g.RemoveEffectsFrom(a)
	if got := g.SumEffect(EffectNoise, 2, 3); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("expected 0.4 after removing emitter a, got %f", got)
	}
	if got := g.RemoveEffectsFrom(a); got != 0 {
		t.Fatalf("expected second removal to be a no-op, removed %d", got)
	}
}

func TestDynamicEffectEvaluatedLazily(t *testing.T) {
	g := New(4, 1)
	factor := 0.5
	src := &testEmitter{id: 9, fp: Rect{X: 1, Y: 0, W: 1, H: 1}}
	g.SpreadEffect(Effect{Type: EffectHealthcare, Multiplier: 1, Source: src, Dynamic: scaled{&factor}}, 1, 0, false, 1, 0)

	if got := g.HighestEffect(EffectHealthcare, 2, 0); got != 0.5 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	if got := g.HighestEffect(EffectHealthcare, 0, 0); got != 1.0 {
		t.Fatalf("expected per-tile magnitude 1.0, got %f", got)
	}
	factor = 0.8
	if got := g.HighestEffect(EffectHealthcare, 2, 0); got != 0.8 {
		t.Fatalf("expected recomputed magnitude 0.8, got %f", got)
	}
}

func TestValueUsesStackingPolicy(t *testing.T) {
	g := New(1, 1)
	g.AddEffect(Effect{Type: EffectPolice, Multiplier: 0.4}, 0, 0)
	g.AddEffect(Effect{Type: EffectPolice, Multiplier: 0.7}, 0, 0)
	g.AddEffect(Effect{Type: EffectPettyCrime, Multiplier: 0.1}, 0, 0)
	g.AddEffect(Effect{Type: EffectPettyCrime, Multiplier: 0.2}, 0, 0)
	if got := g.Value(EffectPolice, 0, 0); got != 0.7 {
		t.Fatalf("expected highest police 0.7, got %f", got)
	}
	if got := g.Value(EffectPettyCrime, 0, 0); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("expected summed crime 0.3, got %f", got)
	}
}

func TestAverageEffect(t *testing.T) {
	g := New(2, 2)
	g.AddEffect(Effect{Type: EffectEducation, Multiplier: 1}, 0, 0)
	g.AddEffect(Effect{Type: EffectEducation, Multiplier: 1}, 1, 1)
	if got := g.AverageEffect(EffectEducation); got != 0.5 {
		t.Fatalf("expected 0.5, got %f", got)
	}
}

func TestTickExpiresTimedEffects(t *testing.T) {
	g := New(1, 1)
	g.AddEffect(Effect{Type: EffectLuxury, Multiplier: 1, ExpiresIn: 2}, 0, 0)
	g.AddEffect(Effect{Type: EffectLuxury, Multiplier: 0.5}, 0, 0)
	g.Tick()
	if got := g.HighestEffect(EffectLuxury, 0, 0); got != 1 {
		t.Fatalf("expected timed effect alive after one tick, got %f", got)
	}
	if expired := g.Tick(); expired != 1 {
		t.Fatalf("expected one expiry, got %d", expired)
	}
	if got := g.HighestEffect(EffectLuxury, 0, 0); got != 0.5 {
		t.Fatalf("expected permanent effect to remain, got %f", got)
	}
}

func TestAmbientRoundTripSkipsBuildingEffects(t *testing.T) {
	g := New(3, 3)
	src := &testEmitter{id: 3, fp: Rect{X: 1, Y: 1, W: 1, H: 1}}
	g.SpreadEffect(Effect{Type: EffectNoise, Multiplier: 1, Source: src}, 1, 1, false, 1, 1)
	g.AddEffect(Effect{Type: EffectLandValue, Multiplier: 0.25}, 2, 2)

	ambient := g.AmbientEffects()
	if len(ambient) != 1 || ambient[0].Type != "landValue" {
		t.Fatalf("expected only the land value effect persisted, got %+v", ambient)
	}

	restored := New(3, 3)
	skipped := restored.RestoreAmbient(append(ambient, AmbientEffect{X: 9, Y: 9, Type: "noise"}, AmbientEffect{Type: "bogus"}))
	if skipped != 2 {
		t.Fatalf("expected 2 invalid entries skipped, got %d", skipped)
	}
	if got := restored.HighestEffect(EffectLandValue, 2, 2); got != 0.25 {
		t.Fatalf("expected restored land value, got %f", got)
	}
}

func TestAtPanicsOutOfBounds(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for out-of-bounds access")
		}
	}()
	New(2, 2).At(2, 0)
}

func TestOccupyAndVacate(t *testing.T) {
	g := New(4, 4)
	src := &testEmitter{id: 5, fp: Rect{X: 1, Y: 1, W: 2, H: 2}}
	g.Occupy(src)
	if g.At(2, 2).Empty() || !g.At(3, 3).Empty() {
		t.Fatal("expected occupancy to match the footprint")
	}
	g.Vacate(src)
	if !g.At(1, 1).Empty() {
		t.Fatal("expected tiles vacated")
	}
}

func TestSeedTerrainDeterministic(t *testing.T) {
	a := New(12, 12)
	b := New(12, 12)
	cfg := DefaultTerrainConfig()
	cfg.Seed = 42
	cfg.OwnedMargin = 2
	SeedTerrain(a, cfg)
	SeedTerrain(b, cfg)
	for y := 0; y < 12; y++ {
		for x := 0; x < 12; x++ {
			if a.Value(EffectLandValue, x, y) != b.Value(EffectLandValue, x, y) {
				t.Fatalf("expected deterministic land value at (%d,%d)", x, y)
			}
		}
	}
	if a.At(0, 0).Owned || !a.At(5, 5).Owned {
		t.Fatal("expected owned land to respect the margin")
	}
}
