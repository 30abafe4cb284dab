// Package residential grows, upgrades and shrinks the housing stock from
// tile desirability and the city's overall happiness.
package residential

import (
	"log/slog"
	"math"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/entropy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/mathx"
	"github.com/talgya/tile-city/internal/tech"
)

// Spawn chance and growth constants.
const (
	HappinessNeutral   = 0.4   // Happiness at which the spawn chance is zero
	HappinessSlope     = 1.667 // Spawn chance per unit of happiness above neutral
	SalesBonusCap      = 0.05
	SalesBonusRate     = 0.001
	FurnitureWeight    = 0.08
	DeclineRatio       = 0.9 // Population at or below this share of peak counts as declining
	DeclineDamping     = 0.5 // Applied to a negative chance while declining
	DeclineBoost       = 1.5 // Applied to a positive chance while declining
	CandidatesPerPoint = 5
	ApartmentCap       = 0.9
	ApartmentRate      = 2.0 // Apartment chance per unit of business density
	UpgradeThreshold   = 0.3
	UpgradeDrawScale   = 0.5
	DamagePenalty      = 0.5
	PositiveDespawn    = 0.5 // Despawn pressure when the city is otherwise growing
)

// Desirability weights.
const (
	DesirabilityCap     = 1.0
	EducationWeight     = 0.2
	CrimeCap            = 0.3
	PollutionWeight     = 0.3
	NoiseWeight         = 0.2
	HealthcareWeight    = 0.2
	HealthcareBonusCap  = 0.2
	OrganizedCrimeScale = 2.0
)

// MinBusinessDensity is the local business presence each tier needs to
// upgrade, indexed by the current level.
var MinBusinessDensity = [3]float64{0.1, 0.3, 0.6}

// Well-known residential type IDs.
const (
	House          = "house"
	Quadplex       = "quadplex"
	SmallApartment = "small_apartment"
)

// Result is the outcome of one residential tick.
type Result struct {
	Chance     float64
	Candidates int
	Spawned    int
	Upgraded   int
	Removed    int
}

// Candidate is an empty, road-adjacent tile considered for a new residence.
type Candidate struct {
	X, Y         int
	Desirability float64
	order        int // Discovery order; earlier wins ties
}

func worseCandidate(a, b Candidate) bool {
	if a.Desirability != b.Desirability {
		return a.Desirability < b.Desirability
	}
	return a.order > b.order
}

// System runs the residential dynamics with an injected random source.
type System struct {
	Rng entropy.Source
}

// New creates a residential system.
func New(rng entropy.Source) *System {
	return &System{Rng: rng}
}

// Tick runs spawning, upgrades and despawning for one long tick.
func (s *System) Tick(c *city.City, happiness float64) Result {
	res := Result{Chance: GlobalSpawnChance(c, happiness)}
	var cands []Candidate
	cands, res.Spawned = s.Spawn(c, res.Chance)
	res.Candidates = len(cands)
	res.Upgraded = s.Upgrade(c, res.Chance)
	res.Removed = s.Despawn(c, res.Chance)
	if res.Spawned+res.Upgraded+res.Removed > 0 {
		slog.Debug("residential changes", "chance", res.Chance, "spawned", res.Spawned,
			"upgraded", res.Upgraded, "removed", res.Removed)
	}
	return res
}

// FurnitureEffect has steep diminishing returns in total store efficiency.
func FurnitureEffect(storeEfficiency float64) float64 {
	return 2 - math.Pow(2, 1-storeEfficiency)
}

// GlobalSpawnChance combines happiness, recent trade and furniture supply.
// A city well below its peak population swings harder toward recovery.
func GlobalSpawnChance(c *city.City, happiness float64) float64 {
	chance := (happiness-HappinessNeutral)*HappinessSlope +
		math.Min(SalesBonusCap, c.Market.RecentSales()*SalesBonusRate) +
		FurnitureWeight*FurnitureEffect(c.FurnitureEfficiency())
	if c.PeakPopulation > 0 && float64(c.Population()) <= DeclineRatio*float64(c.PeakPopulation) {
		if chance < 0 {
			chance *= DeclineDamping
		} else {
			chance *= DeclineBoost
		}
	}
	return chance
}

// PopulationLogFactor scales candidate counts with city size.
func PopulationLogFactor(population int) float64 {
	return math.Max(1, math.Log10(float64(population)+1))
}

// Desirability scores a tile for living. Pollution and noise are
// mitigated by the adoption of their countering techs.
func Desirability(c *city.City, x, y int) float64 {
	g := c.Grid
	crime := g.Value(grid.EffectPettyCrime, x, y) +
		OrganizedCrimeScale*g.Value(grid.EffectOrganizedCrime, x, y) -
		g.Value(grid.EffectPolice, x, y)
	air := c.Techs.Adoption(tech.AirPurifiers)
	quiet := c.Techs.Adoption(tech.NoiseBarriers)

	d := g.Value(grid.EffectLandValue, x, y) +
		EducationWeight*math.Sqrt(mathx.Positive(g.Value(grid.EffectEducation, x, y))) -
		math.Min(CrimeCap, mathx.Positive(crime)) -
		PollutionWeight*g.Value(grid.EffectParticulatePollution, x, y)*(1-air) -
		NoiseWeight*g.Value(grid.EffectNoise, x, y)*(1-quiet) +
		math.Min(HealthcareBonusCap, HealthcareWeight*g.Value(grid.EffectHealthcare, x, y))
	return math.Min(DesirabilityCap, d)
}

// CandidateCap is the number of spawn candidates retained for a chance.
func CandidateCap(chance float64, population int) int {
	k := math.Ceil(chance * CandidatesPerPoint * PopulationLogFactor(population))
	if k <= 0 || math.IsNaN(k) {
		return 0
	}
	return int(k)
}

// Candidates walks the reachable road network and keeps the most desirable
// empty owned tiles bordering it, best first.
func Candidates(c *city.City, chance float64) []Candidate {
	k := CandidateCap(chance, c.Population())
	if k == 0 {
		return nil
	}
	best := newBounded(k, worseCandidate)
	seen := make(map[city.Point]bool)
	order := 0
	net := c.ReachableRoads()
	for _, p := range net.Tiles {
		for _, d := range [4]city.Point{{X: 1}, {X: -1}, {Y: 1}, {Y: -1}} {
			q := city.Point{X: p.X + d.X, Y: p.Y + d.Y}
			if seen[q] || !c.Grid.InBounds(q.X, q.Y) {
				continue
			}
			seen[q] = true
			t := c.Grid.At(q.X, q.Y)
			if !t.Owned || !t.Empty() {
				continue
			}
			best.Offer(Candidate{X: q.X, Y: q.Y, Desirability: Desirability(c, q.X, q.Y), order: order})
			order++
		}
	}
	return best.Drain()
}

// Spawn places new residences on the retained candidates. Each spawns with
// probability desirability*chance, so a non-positive chance spawns nothing.
func (s *System) Spawn(c *city.City, chance float64) ([]Candidate, int) {
	cands := Candidates(c, chance)
	spawned := 0
	for _, cand := range cands {
		if !c.Grid.At(cand.X, cand.Y).Empty() {
			continue // Taken by a larger footprint earlier this tick
		}
		if s.Rng.Float64() >= cand.Desirability*chance {
			continue
		}
		bt, x, y := s.chooseType(c, cand.X, cand.Y)
		if bt == nil {
			continue
		}
		if _, ok := c.Place(bt, x, y); ok {
			spawned++
		}
	}
	return cands, spawned
}

// chooseType picks the tier for a spawn at (x, y). Business density raises
// the apartment chance; the denser 2x2 apartment wins over the quadplex
// whenever any of its footprints covering (x, y) fits.
func (s *System) chooseType(c *city.City, x, y int) (*city.BuildingType, int, int) {
	density := c.Grid.Value(grid.EffectBusinessPresence, x, y)
	if s.Rng.Float64() < math.Min(ApartmentCap, ApartmentRate*density) {
		if apt := c.Catalog.Building(SmallApartment); apt != nil {
			for _, off := range [4]city.Point{{}, {X: -1}, {Y: -1}, {X: -1, Y: -1}} {
				if c.CanPlace(apt, x+off.X, y+off.Y) {
					return apt, x + off.X, y + off.Y
				}
			}
		}
		if quad := c.Catalog.Building(Quadplex); quad != nil && c.CanPlace(quad, x, y) {
			return quad, x, y
		}
	}
	if house := c.Catalog.Building(House); house != nil && c.CanPlace(house, x, y) {
		return house, x, y
	}
	return nil, 0, 0
}

// Upgrade lets at most one random eligible residence per tier move up a
// level. Eligibility is fixed before any upgrade so nothing climbs twice.
func (s *System) Upgrade(c *city.City, chance float64) int {
	if chance <= UpgradeThreshold {
		return 0
	}
	eligible := make([][]*city.Building, len(MinBusinessDensity))
	for _, b := range c.Residences() {
		lvl := b.Type.ResidenceLevel
		if lvl < 0 || lvl >= len(MinBusinessDensity) || !b.Active() {
			continue
		}
		if c.Catalog.Upgrade(b.Type) == nil {
			continue
		}
		if c.Grid.Value(grid.EffectBusinessPresence, b.X, b.Y) < MinBusinessDensity[lvl] {
			continue
		}
		eligible[lvl] = append(eligible[lvl], b)
	}

	upgraded := 0
	for lvl, list := range eligible {
		if s.Rng.Float64() >= chance*UpgradeDrawScale || len(list) == 0 {
			continue
		}
		b := list[s.Rng.Intn(len(list))]
		if _, ok := c.Replace(b, c.Catalog.Upgrade(b.Type)); ok {
			upgraded++
			slog.Debug("residence upgraded", "building", b.ID, "from_level", lvl)
		}
	}
	return upgraded
}

// DespawnDesirability is the worst corner of a residence's footprint less a
// penalty for damage.
func DespawnDesirability(c *city.City, b *city.Building) float64 {
	fp := b.Footprint()
	worst := math.Inf(1)
	for _, p := range [4]city.Point{
		{X: fp.X, Y: fp.Y},
		{X: fp.X + fp.W - 1, Y: fp.Y},
		{X: fp.X, Y: fp.Y + fp.H - 1},
		{X: fp.X + fp.W - 1, Y: fp.Y + fp.H - 1},
	} {
		worst = math.Min(worst, Desirability(c, p.X, p.Y))
	}
	return worst - DamagePenalty*(1-mathx.Clamp01(b.DamagedEfficiency))
}

// DespawnProbability turns a despawn desirability into a removal chance.
// Only negative desirability can remove; an unhappy city removes faster.
func DespawnProbability(desirability, chance float64) float64 {
	if desirability >= 0 {
		return 0
	}
	if chance < 0 {
		return math.Min(1, -desirability*(1+math.Abs(chance)))
	}
	return math.Min(1, -desirability*PositiveDespawn)
}

// MaxRemovals bounds despawns per tick by the city's peak size:
// ceil(log10(peak))*2 - 1.
func MaxRemovals(peak int) int {
	if peak <= 1 {
		return 0
	}
	digits := 0
	for p := 1; p < peak; p *= 10 {
		digits++
	}
	return digits*2 - 1
}

type despawnCandidate struct {
	b           *city.Building
	probability float64
	order       int
}

// Despawn removes residences on undesirable land, at most MaxRemovals per tick.
func (s *System) Despawn(c *city.City, chance float64) int {
	worst := newBounded(MaxRemovals(c.PeakPopulation), func(a, b despawnCandidate) bool {
		if a.probability != b.probability {
			return a.probability < b.probability
		}
		return a.order > b.order
	})
	for i, b := range c.Residences() {
		p := DespawnProbability(DespawnDesirability(c, b), chance)
		if p > 0 {
			worst.Offer(despawnCandidate{b: b, probability: p, order: i})
		}
	}
	removed := 0
	for _, d := range worst.Drain() {
		if s.Rng.Float64() < d.probability && c.Remove(d.b) {
			removed++
		}
	}
	return removed
}
