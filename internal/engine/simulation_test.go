package engine

import (
	"testing"
	"time"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/entropy"
	"github.com/talgya/tile-city/internal/grid"
)

func testSimulation(t *testing.T) *Simulation {
	t.Helper()
	c, err := city.New("test", 30, 30, city.DefaultCatalog())
	if err != nil {
		t.Fatal(err)
	}
	road := c.Catalog.Building("road")
	for y := 29; y >= 20; y-- {
		if _, ok := c.Place(road, 15, y); !ok {
			t.Fatalf("failed to place road at (15,%d)", y)
		}
	}
	if _, ok := c.Place(c.Catalog.Building("house"), 16, 25); !ok {
		t.Fatal("failed to place house")
	}
	if _, ok := c.Place(c.Catalog.Building("library"), 14, 22); !ok {
		t.Fatal("failed to place library")
	}
	return NewSimulation(c, entropy.NewSequence(0))
}

func TestLongTickRunsThePipeline(t *testing.T) {
	s := testSimulation(t)
	c := s.City
	at := t0.Add(time.Hour)
	grainBefore := c.Resources.Amount(economy.Grain)

	s.LongTick(at, false)

	if c.LongTicks != 1 || !c.LastLongTick.Equal(at) {
		t.Fatalf("expected counters advanced, got %d at %v", c.LongTicks, c.LastLongTick)
	}
	if c.Happiness < 0 || c.Happiness > 1 || len(s.LastHappiness.Breakdown) == 0 {
		t.Fatalf("expected a scored city, got %f", c.Happiness)
	}
	if c.PeakPopulation != c.Population() || c.Population() == 0 {
		t.Fatalf("expected peak population recorded, got %d", c.PeakPopulation)
	}
	if len(c.LastDiet) == 0 || len(c.LastDiet) != len(s.LastDiet.Composition) {
		t.Fatal("expected the diet composition kept on the city")
	}
	if c.Resources.Amount(economy.Grain) >= grainBefore {
		t.Fatal("expected residents to eat")
	}
	if c.Resources.EventTotal(economy.Research, economy.EventProduce) != 4 {
		t.Fatal("expected the library to produce research this tick")
	}
	if s.Stats.Buildings != len(c.Buildings) {
		t.Fatalf("expected stats to match the city, got %+v", s.Stats)
	}
}

func TestLongTickFundsResearchTarget(t *testing.T) {
	s := testSimulation(t)
	c := s.City
	c.ResearchTarget = "community_policing"

	s.LongTick(t0, false)

	tc := c.Techs.Get("community_policing")
	if got := tc.CostOf(economy.Research); got != 36 {
		t.Fatalf("expected 36 research left after funding 4, got %f", got)
	}
	if c.Resources.Amount(economy.Research) != 0 {
		t.Fatalf("expected all research spent, got %f", c.Resources.Amount(economy.Research))
	}

	c.ResearchTarget = "no_such_tech"
	s.LongTick(t0.Add(time.Minute), false)
	if c.ResearchTarget != "" {
		t.Fatal("expected an unknown target cleared")
	}
}

func TestEducationMilestoneGrantsOnce(t *testing.T) {
	s := testSimulation(t)
	c := s.City
	c.Flags.Education = true
	c.Grid.Each(func(tile *grid.Tile) {
		c.Grid.AddEffect(grid.Effect{Type: grid.EffectEducation, Multiplier: 0.6}, tile.X, tile.Y)
	})

	s.LongTick(t0, false)
	if !c.Flags.EducationMilestone {
		t.Fatal("expected the milestone flag set")
	}
	discounted := 0
	for _, tc := range c.Techs.Techs() {
		if tc.Researched || tc.CostRatio() < 1 {
			discounted++
		}
	}
	if discounted != 1 {
		t.Fatalf("expected exactly one tech discounted, got %d", discounted)
	}

	s.LongTick(t0.Add(time.Minute), false)
	if s.LastHappiness.MilestoneReached {
		t.Fatal("expected the milestone reported only once")
	}
}

func TestAttachDrivesShortTicks(t *testing.T) {
	s := testSimulation(t)
	e := &Engine{LongTickInterval: time.Minute, ShortTicksPerLongTick: 2, MaxCatchUp: 5}
	s.Attach(e)

	lib := s.City.BuildingAt(14, 22)
	lib.PowerReceived = 0.5
	e.Advance(t0)
	p := e.Advance(t0.Add(30 * time.Second))
	if p.ShortTicks != 1 || p.LongTicks != 0 {
		t.Fatalf("expected one short tick, got %+v", p)
	}
	if lib.Efficiency != 0.5 {
		t.Fatalf("expected the short tick to sample efficiency, got %f", lib.Efficiency)
	}
	if !s.City.LastShortTick.Equal(t0.Add(30 * time.Second)) {
		t.Fatal("expected the short tick time recorded")
	}
}
