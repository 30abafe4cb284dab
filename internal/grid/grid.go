package grid

import (
	"fmt"
	"math"
)

// Tile is a single grid cell.
type Tile struct {
	X, Y     int
	Owned    bool    // Inside the city's purchased land
	Occupant Emitter // Building covering this tile, if any
	Effects  []Effect
}

// Empty reports whether no building covers the tile.
func (t *Tile) Empty() bool {
	return t.Occupant == nil
}

// Grid holds every tile of the city and the effect bookkeeping per emitter.
type Grid struct {
	Width  int
	Height int
	tiles  []Tile

	// Tile indices each emitter has written to, so removal never scans the grid.
	touched map[uint64][]int
}

// New creates an empty grid. Dimensions must be positive.
func New(width, height int) *Grid {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("grid: invalid dimensions %dx%d", width, height))
	}
	g := &Grid{
		Width:   width,
		Height:  height,
		tiles:   make([]Tile, width*height),
		touched: make(map[uint64][]int),
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := &g.tiles[y*width+x]
			t.X, t.Y = x, y
		}
	}
	return g
}

// InBounds reports whether (x, y) is a valid tile.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.Width && y < g.Height
}

// At returns the tile at (x, y). Out-of-bounds access is a programming error.
func (g *Grid) At(x, y int) *Tile {
	if !g.InBounds(x, y) {
		panic(fmt.Sprintf("grid: tile (%d,%d) outside %dx%d", x, y, g.Width, g.Height))
	}
	return &g.tiles[y*g.Width+x]
}

// Each calls fn for every tile in row-major order.
func (g *Grid) Each(fn func(t *Tile)) {
	for i := range g.tiles {
		fn(&g.tiles[i])
	}
}

// TileCount returns the number of tiles.
func (g *Grid) TileCount() int {
	return len(g.tiles)
}

// Occupy marks every in-bounds tile of the emitter's footprint as covered by it.
func (g *Grid) Occupy(src Emitter) {
	fp := src.Footprint()
	for y := fp.Y; y < fp.Y+fp.H; y++ {
		for x := fp.X; x < fp.X+fp.W; x++ {
			if g.InBounds(x, y) {
				g.At(x, y).Occupant = src
			}
		}
	}
}

// Vacate clears the emitter from the tiles of its footprint.
func (g *Grid) Vacate(src Emitter) {
	fp := src.Footprint()
	for y := fp.Y; y < fp.Y+fp.H; y++ {
		for x := fp.X; x < fp.X+fp.W; x++ {
			if !g.InBounds(x, y) {
				continue
			}
			t := g.At(x, y)
			if t.Occupant != nil && t.Occupant.EmitterID() == src.EmitterID() {
				t.Occupant = nil
			}
		}
	}
}

// SpreadEffect writes a clone of e into every tile within (radiusX, radiusY)
// of the origin. When the effect has a source, the origin footprint takes the
// source's size, distance is measured from its edge, and the footprint
// itself is skipped. A rounded spread uses an elliptical footprint.
// Returns the number of tiles written.
func (g *Grid) SpreadEffect(e Effect, radiusX, radiusY int, rounded bool, originX, originY int) int {
	fp := Rect{X: originX, Y: originY, W: 1, H: 1}
	if e.Source != nil {
		src := e.Source.Footprint()
		fp.W, fp.H = src.W, src.H
	}

	written := 0
	for y := fp.Y - radiusY; y < fp.Y+fp.H+radiusY; y++ {
		for x := fp.X - radiusX; x < fp.X+fp.W+radiusX; x++ {
			if !g.InBounds(x, y) {
				continue
			}
			dx := edgeDistance(x, fp.X, fp.W)
			dy := edgeDistance(y, fp.Y, fp.H)
			if e.Source != nil && dx == 0 && dy == 0 {
				continue
			}
			if rounded && !insideEllipse(dx, dy, radiusX, radiusY) {
				continue
			}
			idx := y*g.Width + x
			g.tiles[idx].Effects = append(g.tiles[idx].Effects, e.Clone())
			if e.Source != nil {
				id := e.Source.EmitterID()
				g.touched[id] = append(g.touched[id], idx)
			}
			written++
		}
	}
	return written
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

func insideEllipse(dx, dy, rx, ry int) bool {
	fx := float64(dx) / (float64(rx) + 0.5)
	fy := float64(dy) / (float64(ry) + 0.5)
	return fx*fx+fy*fy <= 1
}

// AddEffect writes a single effect onto one tile.
func (g *Grid) AddEffect(e Effect, x, y int) {
	t := g.At(x, y)
	t.Effects = append(t.Effects, e.Clone())
	if e.Source != nil {
		id := e.Source.EmitterID()
		g.touched[id] = append(g.touched[id], y*g.Width+x)
	}
}

// RemoveEffectsFrom purges every effect owned by src from the tiles it touched.
func (g *Grid) RemoveEffectsFrom(src Emitter) int {
	id := src.EmitterID()
	removed := 0
	for _, idx := range g.touched[id] {
		t := &g.tiles[idx]
		kept := t.Effects[:0]
		for _, e := range t.Effects {
			if e.Source != nil && e.Source.EmitterID() == id {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		t.Effects = kept
	}
	delete(g.touched, id)
	return removed
}

// HighestEffect returns the strongest effect of the type on the tile, or 0.
func (g *Grid) HighestEffect(typ EffectType, x, y int) float64 {
	t := g.At(x, y)
	best := 0.0
	found := false
	for _, e := range t.Effects {
		if e.Type != typ {
			continue
		}
		v := e.Value(g, t)
		if !found || v > best {
			best = v
			found = true
		}
	}
	return best
}

// SumEffect returns the total of all effects of the type on the tile.
func (g *Grid) SumEffect(typ EffectType, x, y int) float64 {
	t := g.At(x, y)
	total := 0.0
	for _, e := range t.Effects {
		if e.Type == typ {
			total += e.Value(g, t)
		}
	}
	return total
}

// Value returns the tile's effect using the type's stacking policy.
func (g *Grid) Value(typ EffectType, x, y int) float64 {
	if typ.Stacks() {
		return g.SumEffect(typ, x, y)
	}
	return g.HighestEffect(typ, x, y)
}

// AverageEffect returns the city-wide mean of Value over every tile.
func (g *Grid) AverageEffect(typ EffectType) float64 {
	total := 0.0
	for i := range g.tiles {
		t := &g.tiles[i]
		total += g.Value(typ, t.X, t.Y)
	}
	return total / float64(len(g.tiles))
}

// Tick ages timed effects and drops the ones that expired.
func (g *Grid) Tick() int {
	expired := 0
	for i := range g.tiles {
		t := &g.tiles[i]
		if len(t.Effects) == 0 {
			continue
		}
		kept := t.Effects[:0]
		for _, e := range t.Effects {
			if e.ExpiresIn > 0 {
				e.ExpiresIn--
				if e.ExpiresIn == 0 {
					expired++
					continue
				}
			}
			kept = append(kept, e)
		}
		t.Effects = kept
	}
	return expired
}

// AmbientEffect is the persisted form of a source-less effect.
type AmbientEffect struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Type       string  `json:"type"`
	Multiplier float64 `json:"multiplier"`
	ExpiresIn  int     `json:"expires_in,omitempty"`
}

// AmbientEffects collects every effect without an owning building. Dynamic
// ambient effects are flattened to their current value.
func (g *Grid) AmbientEffects() []AmbientEffect {
	var out []AmbientEffect
	for i := range g.tiles {
		t := &g.tiles[i]
		for _, e := range t.Effects {
			if !e.Ambient() {
				continue
			}
			out = append(out, AmbientEffect{
				X:          t.X,
				Y:          t.Y,
				Type:       e.Type.String(),
				Multiplier: e.Value(g, t),
				ExpiresIn:  e.ExpiresIn,
			})
		}
	}
	return out
}

// RestoreAmbient writes persisted ambient effects back onto the grid. Entries
// with unknown types or coordinates are skipped and counted.
func (g *Grid) RestoreAmbient(entries []AmbientEffect) (skipped int) {
	for _, a := range entries {
		typ, err := ParseEffectType(a.Type)
		if err != nil || !g.InBounds(a.X, a.Y) || math.IsNaN(a.Multiplier) {
			skipped++
			continue
		}
		g.AddEffect(Effect{Type: typ, Multiplier: a.Multiplier, ExpiresIn: a.ExpiresIn}, a.X, a.Y)
	}
	return skipped
}
