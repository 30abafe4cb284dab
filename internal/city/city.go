// Package city provides the city-state aggregate every simulation system reads
// and writes each tick: the effect grid, the resource ledger, buildings, road
// network, research graph, flags and tick counters.
package city

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/tile-city/internal/diet"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/tech"
)

// DefaultTicksPerDay is the number of long ticks in a sim-day.
const DefaultTicksPerDay = 24

// Temporary effect kinds.
const (
	TempDietBoost = "diet" // Reduces food needed by its magnitude
)

// Point is a tile coordinate.
type Point struct {
	X, Y int
}

// Flags gate mechanics that unlock during play.
type Flags struct {
	Police             bool `json:"police"`
	FireProtection     bool `json:"fire_protection"`
	Healthcare         bool `json:"healthcare"`
	Education          bool `json:"education"`
	Greenhouse         bool `json:"greenhouse"`
	EducationMilestone bool `json:"education_milestone"` // One-time unlock already granted
}

// Set turns on the named flag. Unknown names report false.
func (f *Flags) Set(name string) bool {
	switch name {
	case "police":
		f.Police = true
	case "fire":
		f.FireProtection = true
	case "healthcare":
		f.Healthcare = true
	case "education":
		f.Education = true
	case "greenhouse":
		f.Greenhouse = true
	default:
		return false
	}
	return true
}

// Taxes are the current rates, as fractions.
type Taxes struct {
	Income   float64 `json:"income"`
	Sales    float64 `json:"sales"`
	Property float64 `json:"property"`
}

// DefaultTaxes are the neutral rates happiness measures against.
func DefaultTaxes() Taxes {
	return Taxes{Income: 0.09, Sales: 0.01, Property: 0.10}
}

// TemporaryEffect is a city-wide modifier that lasts a number of long ticks.
type TemporaryEffect struct {
	Kind      string  `json:"kind"`
	Magnitude float64 `json:"magnitude"`
	TicksLeft int     `json:"ticks_left"`
}

// City is the aggregate. It is owned by exactly one session; no method is
// safe for concurrent use.
type City struct {
	ID   uuid.UUID
	Name string

	Grid      *grid.Grid
	Resources *economy.Ledger
	Market    *economy.Market
	Techs     *tech.Manager
	Buildings []*Building
	Catalog   *Catalog

	Flags            Flags
	Taxes            Taxes
	NetworkRoot      Point
	TemporaryEffects []TemporaryEffect

	PeakPopulation int
	LongTicks      uint64
	LastShortTick  time.Time
	LastLongTick   time.Time
	TicksPerDay    int
	ResearchTarget string // Tech funded from the ledger every long tick

	// Observer-facing outputs of the last long tick.
	Happiness   float64
	SpawnChance float64
	LastDiet    []diet.Composition

	nextID uint64
	byID   map[uint64]*Building
}

// New creates an empty city of the given size from a catalog.
func New(name string, width, height int, cat *Catalog) (*City, error) {
	ledger, err := cat.NewLedger()
	if err != nil {
		return nil, fmt.Errorf("new city: %w", err)
	}
	techs, err := cat.NewTechManager()
	if err != nil {
		return nil, fmt.Errorf("new city: %w", err)
	}
	c := &City{
		ID:          uuid.New(),
		Name:        name,
		Grid:        grid.New(width, height),
		Resources:   ledger,
		Market:      economy.NewMarket(economy.DefaultSalesWindow),
		Techs:       techs,
		Catalog:     cat,
		Taxes:       DefaultTaxes(),
		NetworkRoot: Point{X: width / 2, Y: height - 1},
		TicksPerDay: DefaultTicksPerDay,
		byID:        make(map[uint64]*Building),
	}
	c.Grid.Each(func(t *grid.Tile) { t.Owned = true })
	techs.OnResearched = c.applyTech
	return c, nil
}

// applyTech runs the catalog side effects of a completed tech.
func (c *City) applyTech(t *tech.Tech) {
	spec := c.Catalog.TechSpec(t.ID)
	if spec == nil {
		return
	}
	if spec.UnlocksFlag != "" && !c.Flags.Set(spec.UnlocksFlag) {
		slog.Warn("tech unlocks unknown flag", "tech", t.ID, "flag", spec.UnlocksFlag)
	}
	if b := spec.Boost; b != nil {
		c.AddTemporaryEffect(b.Kind, b.Magnitude, b.Ticks)
		slog.Info("tech boost started", "tech", t.ID, "kind", b.Kind, "magnitude", b.Magnitude, "ticks", b.Ticks)
	}
	if spec.RadiusEffect == "" || spec.RadiusBonus == 0 {
		return
	}
	typ, err := grid.ParseEffectType(spec.RadiusEffect)
	if err != nil {
		return
	}
	upgraded := 0
	for _, b := range c.Buildings {
		if !emits(b.Type, typ) {
			continue
		}
		b.RadiusBonus += spec.RadiusBonus
		c.respread(b)
		upgraded++
	}
	slog.Info("radius upgrade", "tech", t.ID, "effect", spec.RadiusEffect, "buildings", upgraded)
}

func emits(bt *BuildingType, typ grid.EffectType) bool {
	for _, s := range bt.Effects {
		if s.effect == typ {
			return true
		}
	}
	return false
}

// radiusBonusFor is the bonus a new building of bt inherits from completed techs.
func (c *City) radiusBonusFor(bt *BuildingType) int {
	bonus := 0
	for _, s := range c.Catalog.Techs {
		if s.RadiusEffect == "" || !c.researched(s.ID) {
			continue
		}
		typ, err := grid.ParseEffectType(s.RadiusEffect)
		if err == nil && emits(bt, typ) {
			bonus += s.RadiusBonus
		}
	}
	return bonus
}

func (c *City) researched(id string) bool {
	t := c.Techs.Get(id)
	return t != nil && t.Researched
}

// BuildingAt returns the building covering (x, y), or nil.
func (c *City) BuildingAt(x, y int) *Building {
	if !c.Grid.InBounds(x, y) {
		return nil
	}
	b, _ := c.Grid.At(x, y).Occupant.(*Building)
	return b
}

// Building returns the building with id, or nil.
func (c *City) Building(id uint64) *Building {
	return c.byID[id]
}

// CanPlace reports whether every footprint tile is in bounds, owned and empty.
func (c *City) CanPlace(bt *BuildingType, x, y int) bool {
	return c.footprintFree(bt, x, y, nil)
}

func (c *City) footprintFree(bt *BuildingType, x, y int, ignore *Building) bool {
	if bt == nil {
		return false
	}
	for ty := y; ty < y+bt.Height; ty++ {
		for tx := x; tx < x+bt.Width; tx++ {
			if !c.Grid.InBounds(tx, ty) {
				return false
			}
			t := c.Grid.At(tx, ty)
			if !t.Owned {
				return false
			}
			if t.Occupant != nil && (ignore == nil || t.Occupant.EmitterID() != ignore.ID) {
				return false
			}
		}
	}
	return true
}

// Place puts a building without charging for it. Placement is all-or-nothing.
func (c *City) Place(bt *BuildingType, x, y int) (*Building, bool) {
	if !c.CanPlace(bt, x, y) {
		return nil, false
	}
	c.nextID++
	b := newBuilding(c.nextID, bt, x, y)
	b.RadiusBonus = c.radiusBonusFor(bt)
	c.insert(b)
	return b, true
}

// Construct charges the type's costs and places it. Nothing is spent when
// placement is impossible or the city cannot afford every cost.
func (c *City) Construct(bt *BuildingType, x, y int) (*Building, bool) {
	if !c.CanPlace(bt, x, y) {
		return nil, false
	}
	if !c.Resources.CheckAndSpend(bt.Costs, true) {
		return nil, false
	}
	return c.Place(bt, x, y)
}

// Restore inserts a persisted building with its stored ID. Returns false
// when the footprint is not free.
func (c *City) Restore(b *Building) bool {
	if b.Type == nil || c.byID[b.ID] != nil || !c.CanPlace(b.Type, b.X, b.Y) {
		return false
	}
	if len(b.Outputs) != len(b.Type.Outputs) {
		b.Outputs = newBuilding(b.ID, b.Type, b.X, b.Y).Outputs
	}
	if b.ID > c.nextID {
		c.nextID = b.ID
	}
	b.RadiusBonus = c.radiusBonusFor(b.Type)
	c.insert(b)
	return true
}

func (c *City) insert(b *Building) {
	c.Buildings = append(c.Buildings, b)
	c.byID[b.ID] = b
	c.Grid.Occupy(b)
	c.spread(b)
	c.noteServices(b.Type)
	if b.Type.IsRoad {
		c.UpdateRoadConnectivity()
	} else {
		b.RoadConnected = c.touchesRoad(b, c.ReachableRoads())
		b.sampleEfficiency()
	}
}

// noteServices activates the flag of each service the first time it is built.
func (c *City) noteServices(bt *BuildingType) {
	for _, s := range bt.Effects {
		switch s.effect {
		case grid.EffectPolice:
			c.Flags.Police = true
		case grid.EffectFireProtection:
			c.Flags.FireProtection = true
		case grid.EffectHealthcare:
			c.Flags.Healthcare = true
		case grid.EffectEducation:
			c.Flags.Education = true
		}
	}
}

func (c *City) spread(b *Building) {
	for _, spec := range b.Type.Effects {
		e := grid.Effect{
			Type:       spec.effect,
			Multiplier: spec.Multiplier,
			Source:     b,
			Dynamic:    magnitudeFor(spec),
		}
		r := b.Radius(spec)
		c.Grid.SpreadEffect(e, r, r, spec.Rounded, b.X, b.Y)
	}
}

func (c *City) respread(b *Building) {
	c.Grid.RemoveEffectsFrom(b)
	c.spread(b)
}

// Remove deletes a building and every effect it radiated.
func (c *City) Remove(b *Building) bool {
	if b == nil || c.byID[b.ID] != b {
		return false
	}
	c.Grid.RemoveEffectsFrom(b)
	c.Grid.Vacate(b)
	delete(c.byID, b.ID)
	c.Buildings = slices.DeleteFunc(c.Buildings, func(o *Building) bool { return o == b })
	if b.Type.IsRoad {
		c.UpdateRoadConnectivity()
	}
	return true
}

// Replace swaps b for a building of type bt on the same footprint, keeping
// its condition. The footprints must match; otherwise nothing changes.
func (c *City) Replace(b *Building, bt *BuildingType) (*Building, bool) {
	if b == nil || bt == nil || c.byID[b.ID] != b ||
		bt.Width != b.Type.Width || bt.Height != b.Type.Height {
		return nil, false
	}
	if !c.footprintFree(bt, b.X, b.Y, b) {
		return nil, false
	}
	c.Remove(b)
	nb, ok := c.Place(bt, b.X, b.Y)
	if !ok {
		// Footprint was verified; the old building is put back untouched.
		c.insert(b)
		return nil, false
	}
	nb.PowerReceived = b.PowerReceived
	nb.DamagedEfficiency = b.DamagedEfficiency
	nb.sampleEfficiency()
	return nb, true
}

// Residences returns every residential building.
func (c *City) Residences() []*Building {
	var out []*Building
	for _, b := range c.Buildings {
		if b.Type.IsResidence {
			out = append(out, b)
		}
	}
	return out
}

// Population is the number of residents housed.
func (c *City) Population() int {
	total := 0
	for _, b := range c.Buildings {
		if b.Type.IsResidence {
			total += b.Type.Capacity
		}
	}
	return total
}

// UpdatePeak raises PeakPopulation to the current population.
func (c *City) UpdatePeak() int {
	if p := c.Population(); p > c.PeakPopulation {
		c.PeakPopulation = p
	}
	return c.PeakPopulation
}

// SampleEfficiency recomputes every building's efficiency (short tick).
func (c *City) SampleEfficiency() {
	for _, b := range c.Buildings {
		b.sampleEfficiency()
	}
}

// CollectOutputs fills each building's output buffers at its efficiency,
// drains them into the ledger as produce events and charges upkeep.
// Returns the total credited.
func (c *City) CollectOutputs() float64 {
	var bufs []*economy.Resource
	for _, b := range c.Buildings {
		if b.Efficiency <= 0 {
			continue
		}
		for i, o := range b.Type.Outputs {
			buf := b.Outputs[i]
			buf.Amount = min(buf.Capacity, buf.Amount+o.Amount*b.Efficiency)
			bufs = append(bufs, buf)
		}
		if len(b.Type.Upkeep) > 0 {
			c.Resources.CheckAndSpend(b.Type.Upkeep, false)
		}
	}
	return c.Resources.TransferFrom(bufs, economy.EventProduce)
}

// FurnitureEfficiency sums the efficiency of furniture stores.
func (c *City) FurnitureEfficiency() float64 {
	total := 0.0
	for _, b := range c.Buildings {
		if b.Type.FurnitureStore {
			total += b.Efficiency
		}
	}
	return total
}

// AddTemporaryEffect starts a city-wide modifier.
func (c *City) AddTemporaryEffect(kind string, magnitude float64, ticks int) {
	c.TemporaryEffects = append(c.TemporaryEffects, TemporaryEffect{Kind: kind, Magnitude: magnitude, TicksLeft: ticks})
}

// TemporaryBonus sums the active modifiers of a kind.
func (c *City) TemporaryBonus(kind string) float64 {
	total := 0.0
	for _, e := range c.TemporaryEffects {
		if e.Kind == kind {
			total += e.Magnitude
		}
	}
	return total
}

// TickTemporaryEffects ages modifiers and drops the expired ones.
func (c *City) TickTemporaryEffects() {
	kept := c.TemporaryEffects[:0]
	for _, e := range c.TemporaryEffects {
		e.TicksLeft--
		if e.TicksLeft > 0 {
			kept = append(kept, e)
		}
	}
	c.TemporaryEffects = kept
}
