// Package grid provides the city tile grid and the per-tile effect layers that
// buildings and terrain radiate onto it.
package grid

import "fmt"

// EffectType identifies one zone-of-influence layer.
type EffectType uint8

const (
	EffectPolice               EffectType = iota // Police coverage
	EffectFireProtection                         // Fire station coverage
	EffectHealthcare                             // Clinics and hospitals
	EffectEducation                              // Schools and libraries
	EffectLuxury                                 // Parks, plazas, entertainment
	EffectBusinessPresence                       // Commercial patronage / density
	EffectLandValue                              // Desirability of the land itself
	EffectParticulatePollution                   // Smog from industry and traffic
	EffectNoise                                  // Traffic, industry, nightlife
	EffectGreenhouseGases                        // Emissions, only scored once unlocked
	EffectPettyCrime                             // Low-level crime
	EffectOrganizedCrime                         // Weighted double against safety
	effectTypeCount
)

var effectNames = [effectTypeCount]string{
	"police",
	"fireProtection",
	"healthcare",
	"education",
	"luxury",
	"businessPresence",
	"landValue",
	"particulatePollution",
	"noise",
	"greenhouseGases",
	"pettyCrime",
	"organizedCrime",
}

// AllEffectTypes lists every effect layer in declaration order.
func AllEffectTypes() []EffectType {
	out := make([]EffectType, effectTypeCount)
	for i := range out {
		out[i] = EffectType(i)
	}
	return out
}

// String returns the storage name of the effect type.
func (t EffectType) String() string {
	if t >= effectTypeCount {
		return fmt.Sprintf("effect(%d)", uint8(t))
	}
	return effectNames[t]
}

// ParseEffectType converts a storage name back to an EffectType.
func ParseEffectType(name string) (EffectType, error) {
	for i, n := range effectNames {
		if n == name {
			return EffectType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown effect type %q", name)
}

// Stacks reports whether multiple effects of this type add up on one tile.
// Service and value layers take the strongest provider instead.
func (t EffectType) Stacks() bool {
	switch t {
	case EffectParticulatePollution, EffectNoise, EffectGreenhouseGases,
		EffectPettyCrime, EffectOrganizedCrime:
		return true
	}
	return false
}

// Rect is a tile-aligned footprint.
type Rect struct {
	X, Y int
	W, H int
}

// Contains reports whether (x, y) lies inside the footprint.
func (r Rect) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.W && y >= r.Y && y < r.Y+r.H
}

// Emitter is anything that owns effects on the grid, in practice a building.
type Emitter interface {
	EmitterID() uint64
	Footprint() Rect
}

// Magnitude computes an effect's strength at query time. Implementations must
// be side-effect free; results are never cached because the source's
// efficiency or radius may change between queries.
type Magnitude interface {
	Magnitude(g *Grid, t *Tile, src Emitter) float64
}

// Constant is the static Magnitude.
type Constant float64

func (c Constant) Magnitude(*Grid, *Tile, Emitter) float64 { return float64(c) }

// Effect is one typed modifier on a tile.
type Effect struct {
	Type       EffectType
	Multiplier float64
	Source     Emitter   // nil for ambient/terrain effects
	Dynamic    Magnitude // nil behaves as Constant(1)
	ExpiresIn  int       // long ticks remaining; 0 never expires
}

// Clone returns an independent copy. Effect holds no nested collections, so a
// value copy is sufficient; the method exists so call sites state intent.
func (e Effect) Clone() Effect {
	return Effect{
		Type:       e.Type,
		Multiplier: e.Multiplier,
		Source:     e.Source,
		Dynamic:    e.Dynamic,
		ExpiresIn:  e.ExpiresIn,
	}
}

// Value evaluates the effect on tile t.
func (e Effect) Value(g *Grid, t *Tile) float64 {
	if e.Dynamic == nil {
		return e.Multiplier
	}
	return e.Multiplier * e.Dynamic.Magnitude(g, t, e.Source)
}

// Ambient reports whether the effect has no owning building.
func (e Effect) Ambient() bool {
	return e.Source == nil
}
