package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/diet"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/entropy"
	"github.com/talgya/tile-city/internal/happiness"
	"github.com/talgya/tile-city/internal/residential"
	"github.com/talgya/tile-city/internal/tech"
)

// MilestoneGrant is the share of a tech's price granted for free when the
// education milestone is reached.
const MilestoneGrant = 0.5

// SimStats tracks aggregate city statistics.
type SimStats struct {
	Population  int
	Buildings   int
	Happiness   float64
	SpawnChance float64
	Flunds      float64
	Produced    float64
	Trade       economy.TradeSummary
}

// Simulation owns one city and runs the long-tick pipeline over it.
type Simulation struct {
	City        *city.City
	Residential *residential.System
	Rng         entropy.Source

	// Outputs of the last long tick, for observers.
	LastHappiness   happiness.Result
	LastDiet        diet.Result
	LastResidential residential.Result
	Stats           SimStats

	// OnLongTickDone runs after every completed long tick, e.g. to autosave.
	OnLongTickDone func(s *Simulation)
}

// NewSimulation creates a simulation over c with one shared random source.
func NewSimulation(c *city.City, rng entropy.Source) *Simulation {
	s := &Simulation{
		City:        c,
		Residential: residential.New(rng),
		Rng:         rng,
	}
	c.Techs.OnFirstPair = func(first, second *tech.Tech) {
		slog.Info("first two techs researched", "city", c.Name, "first", first.ID, "second", second.ID)
	}
	return s
}

// Attach wires the simulation into an engine's tick callbacks.
func (s *Simulation) Attach(e *Engine) {
	e.OnShortTick = s.ShortTick
	e.OnLongTick = s.LongTick
}

// ShortTick samples building efficiency.
func (s *Simulation) ShortTick(at time.Time) {
	s.City.SampleEfficiency()
	s.City.LastShortTick = at
}

// LongTick runs the full pipeline once. It always runs to completion.
func (s *Simulation) LongTick(at time.Time, catchingUp bool) {
	c := s.City

	c.Resources.BeginTick()
	c.Market.RegenLiquidity(c.Resources)
	c.SampleEfficiency()
	produced := c.CollectOutputs()

	s.LastDiet = diet.Consume(c.Resources, diet.Input{
		Population:  c.Population(),
		TicksPerDay: c.TicksPerDay,
		Boost:       c.TemporaryBonus(city.TempDietBoost),
	})
	c.LastDiet = s.LastDiet.Composition

	s.LastHappiness = happiness.Compute(c)
	c.Happiness = s.LastHappiness.Score
	if s.LastHappiness.MilestoneReached {
		c.Flags.EducationMilestone = true
		if id, ok := c.Techs.GrantFree(MilestoneGrant, s.Rng); ok {
			slog.Info("education milestone reached", "city", c.Name, "granted", id)
		}
	}

	s.LastResidential = s.Residential.Tick(c, c.Happiness)
	c.SpawnChance = s.LastResidential.Chance

	s.fundResearch()
	c.Techs.Tick()

	trade := c.Market.AutoTrade(c.Resources)
	c.Market.EndTick()

	c.TickTemporaryEffects()
	c.Grid.Tick()

	c.UpdatePeak()
	c.LongTicks++
	c.LastLongTick = at
	s.updateStats(produced, trade)

	level := slog.LevelInfo
	if catchingUp {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "long tick",
		"city", c.Name,
		"tick", c.LongTicks,
		"time", SimDay(c.LongTicks, c.TicksPerDay),
		"population", s.Stats.Population,
		"peak", c.PeakPopulation,
		"happiness", fmt.Sprintf("%.3f", s.Stats.Happiness),
		"spawn_chance", fmt.Sprintf("%.3f", s.Stats.SpawnChance),
		"spawned", s.LastResidential.Spawned,
		"upgraded", s.LastResidential.Upgraded,
		"removed", s.LastResidential.Removed,
		"flunds", fmt.Sprintf("%.1f", s.Stats.Flunds),
		"catching_up", catchingUp,
	)

	if s.OnLongTickDone != nil {
		s.OnLongTickDone(s)
	}
}

// fundResearch puts whatever the ledger can spare toward the research
// target. A finished or unknown target is cleared.
func (s *Simulation) fundResearch() {
	c := s.City
	if c.ResearchTarget == "" {
		return
	}
	if t := c.Techs.Get(c.ResearchTarget); t == nil || t.Researched {
		c.ResearchTarget = ""
		return
	}
	if !c.Techs.CanResearch(c.ResearchTarget) {
		return
	}
	if c.Techs.Research(c.ResearchTarget, c.Resources) && c.Techs.State(c.ResearchTarget) == tech.StateResearched {
		slog.Info("research completed", "city", c.Name, "tech", c.ResearchTarget)
		c.ResearchTarget = ""
	}
}

func (s *Simulation) updateStats(produced float64, trade economy.TradeSummary) {
	c := s.City
	s.Stats = SimStats{
		Population:  c.Population(),
		Buildings:   len(c.Buildings),
		Happiness:   c.Happiness,
		SpawnChance: c.SpawnChance,
		Flunds:      c.Resources.Amount(economy.Flunds),
		Produced:    produced,
		Trade:       trade,
	}
}
