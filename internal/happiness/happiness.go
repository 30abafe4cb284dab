// Package happiness scores how content a city's residents are from the
// effect grid, the ledger and the state of its residences.
package happiness

import (
	"math"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/mathx"
)

// Baseline is the neutral score every city starts from.
const Baseline = 0.5

// Term weights, caps and gates.
const (
	PoliceCap         = 0.5
	PoliceWeight      = 0.1
	PoliceDebtWeight  = 0.15 // Applied when crime outweighs policing
	PoliceFree        = 0.05
	PoliceGapPeak     = 1000
	FireCap           = 0.4
	FireWeight        = 0.1
	FireFree          = 0.04
	FireGapPeak       = 600
	GapWeight         = 0.1
	PollutionWeight   = 0.15
	NoiseWeight       = 0.1
	GreenhouseWeight  = 0.1
	BusinessWeight    = 0.05
	LandValueWeight   = 0.1
	LuxuryWeight      = 0.1
	LuxuryGapWeight   = 0.05
	LuxuryGapPeak     = 2000
	HealthcareWeight  = 0.1
	HealthcareFree    = 0.05
	HealthcareGapPeak = 800
	EducationWeight   = 0.1
	EducationFree     = 0.05
	EducationMileMark = 0.5 // Average education that grants the milestone
	DietWeight        = 0.2
	DietCap           = 0.1
	ResidenceWeight   = 0.75
)

// Tax brackets: deviations from the base rate cost Slope per unit.
var (
	IncomeTax   = Bracket{Base: 0.09, Slope: 1.0}
	SalesTax    = Bracket{Base: 0.01, Slope: 2.0}
	PropertyTax = Bracket{Base: 0.10, Slope: 0.5}
)

// Bracket is one tax's neutral rate and happiness slope.
type Bracket struct {
	Base  float64
	Slope float64
}

func (b Bracket) term(rate float64) float64 {
	return -(rate - b.Base) * b.Slope
}

// Breakdown labels.
const (
	LabelBaseline       = "Baseline"
	LabelPolice         = "Police"
	LabelPoliceGaps     = "Police gaps"
	LabelFire           = "Fire protection"
	LabelFireGaps       = "Fire protection gaps"
	LabelPollution      = "Particulate pollution"
	LabelNoise          = "Noise"
	LabelGreenhouse     = "Greenhouse gases"
	LabelBusiness       = "Business presence"
	LabelLandValue      = "Land value"
	LabelIncomeTax      = "Income tax"
	LabelSalesTax       = "Sales tax"
	LabelPropertyTax    = "Property tax"
	LabelLuxury         = "Luxury"
	LabelLuxuryGaps     = "Luxury gaps"
	LabelHealthcare     = "Healthcare"
	LabelHealthcareGaps = "Healthcare gaps"
	LabelEducation      = "Education"
	LabelDiet           = "Diet"
	LabelPower          = "Power outages"
	LabelDamage         = "Damage"
	LabelOther          = "Other"
)

// Result is the score with the labeled contributions that produced it.
type Result struct {
	Score     float64
	Breakdown map[string]float64 // Sums to Score, Other included
	Maxima    map[string]float64 // Caps of the capped terms

	RelevantTiles    int
	Averages         map[grid.EffectType]float64
	Uncovered        map[grid.EffectType]float64 // Fraction of relevant tiles without coverage
	MilestoneReached bool                        // Education crossed the mark for the first time
}

var gapServices = []grid.EffectType{
	grid.EffectPolice,
	grid.EffectFireProtection,
	grid.EffectHealthcare,
	grid.EffectLuxury,
}

// relevant reports whether a tile contributes to the score: owned, not a
// road, and served by roads if the building on it needs them.
func relevant(t *grid.Tile) bool {
	if !t.Owned {
		return false
	}
	b, ok := t.Occupant.(*city.Building)
	if !ok || b == nil {
		return true
	}
	if b.Type.IsRoad {
		return false
	}
	return b.Active()
}

// Compute scores the city. It does not mutate c.
func Compute(c *city.City) Result {
	types := grid.AllEffectTypes()
	sums := make(map[grid.EffectType]float64, len(types))
	uncovered := make(map[grid.EffectType]int, len(gapServices))
	n := 0

	c.Grid.Each(func(t *grid.Tile) {
		if !relevant(t) {
			return
		}
		n++
		for _, typ := range types {
			v := c.Grid.Value(typ, t.X, t.Y)
			sums[typ] += v
		}
		for _, typ := range gapServices {
			if c.Grid.Value(typ, t.X, t.Y) <= 0 {
				uncovered[typ]++
			}
		}
	})

	res := Result{
		Breakdown:     make(map[string]float64),
		Maxima:        make(map[string]float64),
		RelevantTiles: n,
		Averages:      make(map[grid.EffectType]float64, len(types)),
		Uncovered:     make(map[grid.EffectType]float64, len(gapServices)),
	}
	for _, typ := range types {
		if n > 0 {
			res.Averages[typ] = sums[typ] / float64(n)
		}
	}
	for _, typ := range gapServices {
		if n > 0 {
			res.Uncovered[typ] = float64(uncovered[typ]) / float64(n)
		}
	}
	avg := res.Averages
	peak := c.PeakPopulation
	b := res.Breakdown
	b[LabelBaseline] = Baseline

	// Safety.
	if c.Flags.Police {
		b[LabelPolice] = PoliceTerm(avg[grid.EffectPolice], avg[grid.EffectPettyCrime], avg[grid.EffectOrganizedCrime])
		if peak > PoliceGapPeak {
			b[LabelPoliceGaps] = -GapWeight * res.Uncovered[grid.EffectPolice]
		}
	} else {
		b[LabelPolice] = PoliceFree
	}
	res.Maxima[LabelPolice] = PoliceCap * PoliceWeight

	if c.Flags.FireProtection {
		b[LabelFire] = math.Min(FireCap, math.Sqrt(mathx.Positive(avg[grid.EffectFireProtection]))) * FireWeight
		if peak > FireGapPeak {
			b[LabelFireGaps] = -GapWeight * res.Uncovered[grid.EffectFireProtection]
		}
	} else {
		b[LabelFire] = FireFree
	}
	res.Maxima[LabelFire] = FireCap * FireWeight

	// Environment.
	b[LabelPollution] = -PollutionWeight * avg[grid.EffectParticulatePollution]
	b[LabelNoise] = -NoiseWeight * avg[grid.EffectNoise]
	if c.Flags.Greenhouse {
		b[LabelGreenhouse] = -GreenhouseWeight * avg[grid.EffectGreenhouseGases]
	}

	// Economy.
	b[LabelBusiness] = math.Sqrt(mathx.Positive(avg[grid.EffectBusinessPresence])) * BusinessWeight
	b[LabelLandValue] = avg[grid.EffectLandValue] * LandValueWeight
	b[LabelIncomeTax] = IncomeTax.term(c.Taxes.Income)
	b[LabelSalesTax] = SalesTax.term(c.Taxes.Sales)
	b[LabelPropertyTax] = PropertyTax.term(c.Taxes.Property)

	// Quality of life.
	b[LabelLuxury] = math.Sqrt(mathx.Positive(avg[grid.EffectLuxury])) * LuxuryWeight
	if peak > LuxuryGapPeak {
		b[LabelLuxuryGaps] = -LuxuryGapWeight * res.Uncovered[grid.EffectLuxury]
	}
	if c.Flags.Healthcare {
		b[LabelHealthcare] = math.Sqrt(mathx.Positive(avg[grid.EffectHealthcare])) * HealthcareWeight
		if peak > HealthcareGapPeak {
			b[LabelHealthcareGaps] = -GapWeight * res.Uncovered[grid.EffectHealthcare]
		}
	} else {
		b[LabelHealthcare] = HealthcareFree
	}
	if c.Flags.Education {
		b[LabelEducation] = math.Sqrt(mathx.Positive(avg[grid.EffectEducation])) * EducationWeight
		res.MilestoneReached = !c.Flags.EducationMilestone && avg[grid.EffectEducation] >= EducationMileMark
	} else {
		b[LabelEducation] = EducationFree
	}
	b[LabelDiet] = math.Min(DietCap, c.Resources.Amount(economy.FoodSatisfaction)*DietWeight)
	res.Maxima[LabelDiet] = DietCap

	// Residential penalties.
	power, damage := residenceCondition(c)
	b[LabelPower] = math.Min(0, ResidenceWeight*(power-1))
	b[LabelDamage] = math.Min(0, ResidenceWeight*(damage-1))
	res.Maxima[LabelPower] = 0
	res.Maxima[LabelDamage] = 0

	raw := 0.0
	for _, v := range b {
		raw += v
	}
	score := mathx.Clamp01(raw)
	if math.IsNaN(score) {
		score = 0
	}
	res.Score = score
	b[LabelOther] = score - raw
	if math.IsNaN(b[LabelOther]) || math.IsInf(b[LabelOther], 0) {
		b[LabelOther] = 0
	}
	return res
}

// PoliceTerm is the capped policing contribution. Net crime is weighted
// heavier than net safety.
func PoliceTerm(police, petty, organized float64) float64 {
	v := math.Min(PoliceCap, math.Sqrt(mathx.Positive(police))-petty-2*organized)
	if v >= 0 {
		return v * PoliceWeight
	}
	return v * PoliceDebtWeight
}

// residenceCondition averages power received and damage over residences.
// A city without residences counts as fully served.
func residenceCondition(c *city.City) (power, damage float64) {
	res := c.Residences()
	if len(res) == 0 {
		return 1, 1
	}
	for _, b := range res {
		power += mathx.Clamp01(b.PowerReceived)
		damage += mathx.Clamp01(b.DamagedEfficiency)
	}
	return power / float64(len(res)), damage / float64(len(res))
}
