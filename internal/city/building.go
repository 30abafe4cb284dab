package city

import (
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/mathx"
)

// DynamicKind selects how a building effect's magnitude is computed at query time.
type DynamicKind string

const (
	DynamicStatic     DynamicKind = "static"     // Multiplier only
	DynamicEfficiency DynamicKind = "efficiency" // Scaled by the emitter's current efficiency
	DynamicFalloff    DynamicKind = "falloff"    // Linear falloff with distance, times efficiency
)

// EffectSpec describes one effect a building type radiates.
type EffectSpec struct {
	Type       string      `yaml:"type"`
	Multiplier float64     `yaml:"multiplier"`
	Radius     int         `yaml:"radius"`
	Rounded    bool        `yaml:"rounded"`
	Dynamic    DynamicKind `yaml:"dynamic"`

	effect grid.EffectType // Parsed from Type when the catalog is validated
}

// BuildingType is a catalog entry. Instances share the pointer.
type BuildingType struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"` // residential, road, service, commercial, industrial, park
	Width    int    `yaml:"width"`
	Height   int    `yaml:"height"`

	IsRoad         bool `yaml:"road"`
	NeedsRoad      bool `yaml:"needs_road"`
	IsResidence    bool `yaml:"residence"`
	ResidenceLevel int  `yaml:"residence_level"`
	Capacity       int  `yaml:"capacity"` // Residents housed
	Units          int  `yaml:"units"`    // Dwelling units; 4 for the quadplex variant
	FurnitureStore bool `yaml:"furniture_store"`
	Spawnable      bool `yaml:"spawnable"` // Placed by the residential spawner, not the player

	Costs   []economy.Cost `yaml:"costs"`
	Outputs []economy.Cost `yaml:"outputs"` // Produced per long tick at full efficiency
	Upkeep  []economy.Cost `yaml:"upkeep"`  // Spent per long tick as far as stock allows
	Effects []EffectSpec   `yaml:"effects"`
}

// Building is a placed instance of a BuildingType.
type Building struct {
	ID   uint64
	Type *BuildingType
	X, Y int // Top-left corner

	Efficiency        float64 // 0..1, resampled every short tick
	PowerReceived     float64 // 0..1 fraction of the power it wants
	DamagedEfficiency float64 // 0..1, 1 = undamaged
	RoadConnected     bool
	RadiusBonus       int // Added to every effect radius (tech upgrades)

	// Output buffers filled each long tick and drained into the city ledger.
	Outputs []*economy.Resource
}

// EmitterID implements grid.Emitter.
func (b *Building) EmitterID() uint64 { return b.ID }

// Footprint implements grid.Emitter.
func (b *Building) Footprint() grid.Rect {
	return grid.Rect{X: b.X, Y: b.Y, W: b.Type.Width, H: b.Type.Height}
}

// Radius returns the current radius of an effect spec including upgrades.
func (b *Building) Radius(spec EffectSpec) int {
	return spec.Radius + b.RadiusBonus
}

// Active reports whether the building can operate at all.
func (b *Building) Active() bool {
	return !b.Type.NeedsRoad || b.RoadConnected
}

// sampleEfficiency recomputes efficiency from power, damage and road access.
func (b *Building) sampleEfficiency() {
	if !b.Active() {
		b.Efficiency = 0
		return
	}
	b.Efficiency = mathx.Clamp01(b.PowerReceived) * mathx.Clamp01(b.DamagedEfficiency)
}

func newBuilding(id uint64, bt *BuildingType, x, y int) *Building {
	b := &Building{
		ID:                id,
		Type:              bt,
		X:                 x,
		Y:                 y,
		Efficiency:        1,
		PowerReceived:     1,
		DamagedEfficiency: 1,
	}
	for _, o := range bt.Outputs {
		r := economy.NewResource(o.Type, 0, o.Amount)
		b.Outputs = append(b.Outputs, &r)
	}
	return b
}

// efficiencyMagnitude scales a building effect by its source's efficiency.
type efficiencyMagnitude struct{}

func (efficiencyMagnitude) Magnitude(_ *grid.Grid, _ *grid.Tile, src grid.Emitter) float64 {
	b, ok := src.(*Building)
	if !ok {
		return 1
	}
	return b.Efficiency
}

// falloffMagnitude decays linearly from the footprint edge out to the
// source's current radius. A radius upgrade after spreading is reflected on
// the next query.
type falloffMagnitude struct {
	baseRadius int
}

func (f falloffMagnitude) Magnitude(_ *grid.Grid, t *grid.Tile, src grid.Emitter) float64 {
	b, ok := src.(*Building)
	if !ok {
		return 1
	}
	r := f.baseRadius + b.RadiusBonus
	fp := b.Footprint()
	d := max(edgeDistance(t.X, fp.X, fp.W), edgeDistance(t.Y, fp.Y, fp.H))
	if d > r {
		return 0
	}
	return b.Efficiency * (1 - float64(d)/float64(r+1))
}

func edgeDistance(v, start, size int) int {
	if v < start {
		return start - v
	}
	if end := start + size - 1; v > end {
		return v - end
	}
	return 0
}

func magnitudeFor(spec EffectSpec) grid.Magnitude {
	switch spec.Dynamic {
	case DynamicEfficiency:
		return efficiencyMagnitude{}
	case DynamicFalloff:
		return falloffMagnitude{baseRadius: spec.Radius}
	}
	return nil
}
