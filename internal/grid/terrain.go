// Terrain seeding using layered simplex noise.
// Produces the ambient (building-less) land value and natural noise layers a
// fresh city starts with.
package grid

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// TerrainConfig holds terrain seeding parameters.
type TerrainConfig struct {
	Seed          int64   // Random seed (0 = random)
	BaseLandValue float64 // Land value everywhere before noise
	LandVariation float64 // Amplitude of scenic land value on top of the base
	NoiseLevel    float64 // Noise at loud spots (waterfalls, cliffs)
	NoiseCutoff   float64 // Normalized noise above which a tile is loud
	OwnedMargin   int     // Unowned border width around the starting land
}

// DefaultTerrainConfig returns the settings used for new cities.
func DefaultTerrainConfig() TerrainConfig {
	return TerrainConfig{
		BaseLandValue: 0.1,
		LandVariation: 0.3,
		NoiseLevel:    0.15,
		NoiseCutoff:   0.8,
		OwnedMargin:   0,
	}
}

// SeedTerrain writes ambient effects onto g and marks the starting land as
// owned. Returns the seed actually used.
func SeedTerrain(g *Grid, cfg TerrainConfig) int64 {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	landNoise := opensimplex.NewNormalized(seed)
	loudNoise := opensimplex.NewNormalized(seed + 1)

	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			t := g.At(x, y)
			t.Owned = x >= cfg.OwnedMargin && y >= cfg.OwnedMargin &&
				x < g.Width-cfg.OwnedMargin && y < g.Height-cfg.OwnedMargin

			scenic := octaveNoise(landNoise, float64(x), float64(y), 3, 0.07, 0.5)
			value := cfg.BaseLandValue + scenic*cfg.LandVariation
			if value > 0 {
				g.AddEffect(Effect{Type: EffectLandValue, Multiplier: value}, x, y)
			}

			loud := octaveNoise(loudNoise, float64(x), float64(y), 2, 0.15, 0.5)
			if loud > cfg.NoiseCutoff && cfg.NoiseLevel > 0 {
				g.AddEffect(Effect{Type: EffectNoise, Multiplier: cfg.NoiseLevel}, x, y)
			}
		}
	}
	return seed
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}
