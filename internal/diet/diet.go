// Package diet computes what citizens eat each long tick and how satisfied
// and healthy that mix leaves them.
package diet

import (
	"math"
	"sort"

	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/mathx"
)

// Food is one commodity of the diet with its contribution at full effectiveness.
type Food struct {
	Type      economy.ResourceType
	Happiness float64
	Health    float64
	Animal    bool // Counts toward the animal-share health penalty
}

// Foods is the fixed diet table. Happiness and health each sum to 1.
var Foods = []Food{
	{Type: economy.Grain, Happiness: 0.08, Health: 0.06},
	{Type: economy.Rice, Happiness: 0.07, Health: 0.06},
	{Type: economy.Apples, Happiness: 0.08, Health: 0.09},
	{Type: economy.Berries, Happiness: 0.09, Health: 0.10},
	{Type: economy.Dairy, Happiness: 0.09, Health: 0.07, Animal: true},
	{Type: economy.Poultry, Happiness: 0.10, Health: 0.08, Animal: true},
	{Type: economy.RedMeat, Happiness: 0.12, Health: 0.04, Animal: true},
	{Type: economy.Fish, Happiness: 0.10, Health: 0.10, Animal: true},
	{Type: economy.Legumes, Happiness: 0.06, Health: 0.10},
	{Type: economy.Vegetables, Happiness: 0.07, Health: 0.10},
	{Type: economy.RootVegetables, Happiness: 0.05, Health: 0.08},
	{Type: economy.LeafyGreens, Happiness: 0.05, Health: 0.12},
	{Type: economy.Vitamins, Happiness: 0.04, Health: 0},
}

const (
	// VitaminCap limits the substitute to this share of all other food.
	VitaminCap = 0.04
	// SaturationShare is the share of total need at which a food is fully effective.
	SaturationShare = 0.04
	// AnimalAllowance is the animal-derived share tolerated before a penalty.
	AnimalAllowance = 0.3
	// VitaminOffset is how much animal share one unit of vitamin share cancels.
	VitaminOffset = 5.0
	// AnimalPenalty scales the excess animal share into lost health.
	AnimalPenalty = 0.5
	// AnimalPenaltyPopulation is the population above which the penalty applies.
	AnimalPenaltyPopulation = 1200

	epsilon = 1e-9
)

// Activation bands: below each population the realized diet only carries
// Weight, the rest comes from a reference diet built from the TopN foods by
// share (0 = the full perfect diet).
var activation = []struct {
	Below  int
	Weight float64
	TopN   int
}{
	{Below: 500, Weight: 0.1, TopN: 0},
	{Below: 1200, Weight: 0.4, TopN: 4},
	{Below: 1800, Weight: 0.7, TopN: 6},
}

// Input describes the city for one diet tick.
type Input struct {
	Population  int
	TicksPerDay int
	Boost       float64 // Sum of active diet-boosting temporary effects
}

// Composition is one row of the diet breakdown kept for display.
type Composition struct {
	Type          economy.ResourceType `json:"type"`
	Ratio         float64              `json:"ratio"`
	Effectiveness float64              `json:"effectiveness"`
}

// Result is the outcome of one diet tick.
type Result struct {
	FoodNeeded     float64
	TotalAvailable float64
	FoodRatio      float64 // Sufficiency, 0..1
	Satisfaction   float64
	Health         float64
	Composition    []Composition
}

// FoodNeeded is the amount of food eaten per long tick.
func FoodNeeded(in Input) float64 {
	tpd := in.TicksPerDay
	if tpd <= 0 {
		tpd = 1
	}
	return mathx.Positive(float64(in.Population) / 100 / float64(tpd) * (1 - in.Boost))
}

// Consume runs one diet tick against the ledger: it eats from the food
// accounts and writes FoodSatisfaction, FoodHealth and FoodSufficiency.
func Consume(l *economy.Ledger, in Input) Result {
	need := FoodNeeded(in)
	res := Result{FoodNeeded: need}

	avail := make([]float64, len(Foods))
	if need > 0 {
		others := 0.0
		vit := -1
		for i, f := range Foods {
			avail[i] = math.Min(mathx.Positive(l.Amount(f.Type)), need)
			if f.Type == economy.Vitamins {
				vit = i
				continue
			}
			others += avail[i]
		}
		if vit >= 0 {
			avail[vit] = math.Min(avail[vit], others*VitaminCap)
		}
	}

	total := epsilon
	for _, a := range avail {
		total += a
	}
	res.TotalAvailable = total
	res.FoodRatio = 1
	if need > 0 {
		res.FoodRatio = math.Min(1, total/need)
	}

	ratios := make([]float64, len(Foods))
	eff := make([]float64, len(Foods))
	realizedHappy, realizedHealth := 0.0, 0.0
	for i, f := range Foods {
		ratios[i] = avail[i] / total
		if need > 0 {
			eff[i] = math.Min(1, avail[i]/need/SaturationShare)
		}
		realizedHappy += eff[i] * f.Happiness
		realizedHealth += eff[i] * f.Health
		if avail[i] > 0 {
			res.Composition = append(res.Composition, Composition{Type: f.Type, Ratio: ratios[i], Effectiveness: eff[i]})
		}
	}

	happy, health := blend(in.Population, realizedHappy, realizedHealth, ratios, eff)

	if in.Population > AnimalPenaltyPopulation {
		animal, vitamin := 0.0, 0.0
		for i, f := range Foods {
			if f.Animal {
				animal += ratios[i]
			}
			if f.Type == economy.Vitamins {
				vitamin += ratios[i]
			}
		}
		health -= AnimalPenalty * mathx.Positive(animal-AnimalAllowance-VitaminOffset*vitamin)
	}

	res.Satisfaction = mathx.Clamp01(happy * res.FoodRatio)
	res.Health = mathx.Clamp01(health * res.FoodRatio)

	if need > 0 {
		costs := make([]economy.Cost, 0, len(Foods))
		for i, f := range Foods {
			eat := math.Min(avail[i], ratios[i]*need*res.FoodRatio)
			if eat > 0 {
				costs = append(costs, economy.Cost{Type: f.Type, Amount: eat})
			}
		}
		l.CheckAndSpend(costs, true)
	}

	l.SetValue(economy.FoodSatisfaction, res.Satisfaction)
	l.SetValue(economy.FoodHealth, res.Health)
	l.SetValue(economy.FoodSufficiency, res.FoodRatio)
	return res
}

// blend mixes the realized diet with the reference diet of the population's
// activation band.
func blend(population int, happy, health float64, ratios, eff []float64) (float64, float64) {
	for _, band := range activation {
		if population >= band.Below {
			continue
		}
		ref := 1.0
		if band.TopN > 0 {
			ref = topReference(ratios, eff, band.TopN)
		}
		return mathx.Lerp(ref, happy, band.Weight), mathx.Lerp(ref, health, band.Weight)
	}
	return happy, health
}

// topReference is the mean effectiveness of the n foods with the largest
// share. When fewer than n foods are stocked the remaining slots count as
// zero-effect entries.
func topReference(ratios, eff []float64, n int) float64 {
	idx := make([]int, len(ratios))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return ratios[idx[a]] > ratios[idx[b]] })
	sum := 0.0
	for k := 0; k < n && k < len(idx); k++ {
		if ratios[idx[k]] > 0 {
			sum += eff[idx[k]]
		}
	}
	return sum / float64(n)
}
