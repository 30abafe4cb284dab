// Package tech provides the technology research graph: prerequisite gating,
// partial funding from the resource ledger, and gradual adoption after
// research completes.
package tech

import (
	"fmt"

	"github.com/talgya/tile-city/internal/economy"
)

// Well-known technology IDs read by other systems.
const (
	AirPurifiers  = "air_purifiers"  // Mitigates particulate pollution in desirability
	NoiseBarriers = "noise_barriers" // Mitigates noise in desirability
)

// State is the research lifecycle position of a tech.
type State uint8

const (
	StateLocked          State = iota // Prerequisites unmet
	StateUnavailable                  // Prerequisites met but an extra gate failed
	StateAvailable                    // Researchable, nothing spent yet
	StatePartiallyFunded              // Some cost already paid
	StateResearched
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnavailable:
		return "unavailable"
	case StateAvailable:
		return "available"
	case StatePartiallyFunded:
		return "partially_funded"
	case StateResearched:
		return "researched"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Tech is one node of the research graph.
type Tech struct {
	ID            string
	Name          string
	BaseCosts     []economy.Cost // Full price from the catalog
	Costs         []economy.Cost // Remaining price; shrinks with partial funding
	Prerequisites []string

	AdoptionRate   float64 // 0..1, never decreases once researched
	AdoptionGrowth float64 // Added to AdoptionRate every long tick after research
	Researched     bool
	Unavailable    bool
}

// Clone copies the tech including its slices.
func (t *Tech) Clone() *Tech {
	c := *t
	c.BaseCosts = economy.CloneCosts(t.BaseCosts)
	c.Costs = economy.CloneCosts(t.Costs)
	c.Prerequisites = append([]string(nil), t.Prerequisites...)
	return &c
}

// CostRatio is the remaining fraction of the base price. Partial funding
// scales every component by the same factor, so the summed ratio equals
// each component's ratio.
func (t *Tech) CostRatio() float64 {
	base, cur := 0.0, 0.0
	for _, c := range t.BaseCosts {
		base += c.Amount
	}
	for _, c := range t.Costs {
		cur += c.Amount
	}
	if base <= 0 {
		return 0
	}
	return cur / base
}

// CostOf returns the remaining cost component for one resource.
func (t *Tech) CostOf(typ economy.ResourceType) float64 {
	total := 0.0
	for _, c := range t.Costs {
		if c.Type == typ {
			total += c.Amount
		}
	}
	return total
}

func (t *Tech) scaleCosts(factor float64) {
	for i := range t.Costs {
		t.Costs[i].Amount *= factor
	}
}

// New builds a tech whose remaining cost starts at the base cost.
func New(id, name string, costs []economy.Cost, growth float64, prereqs ...string) Tech {
	return Tech{
		ID:             id,
		Name:           name,
		BaseCosts:      economy.CloneCosts(costs),
		Costs:          economy.CloneCosts(costs),
		Prerequisites:  prereqs,
		AdoptionGrowth: growth,
	}
}
