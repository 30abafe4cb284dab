package tech

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/entropy"
)

const (
	// DefaultFudgeFactor treats "almost fully funded" as fully funded so
	// floating-point residue never blocks completion.
	DefaultFudgeFactor = 0.9995
	// DefaultMinPortion is the smallest affordable share worth spending.
	DefaultMinPortion = 0.001
	// DefaultSnapThreshold snaps tiny remaining cost ratios to zero.
	DefaultSnapThreshold = 0.01
)

// Manager owns the research graph of one city.
type Manager struct {
	FudgeFactor   float64
	MinPortion    float64
	SnapThreshold float64

	// LastAssistDay is the calendar day (YYYY-MM-DD) of the last assist received.
	LastAssistDay string

	// OnResearched runs the completion side effects of a tech.
	OnResearched func(t *Tech)
	// OnFirstPair fires once, when the second tech ever is researched.
	OnFirstPair func(first, second *Tech)

	techs     map[string]*Tech
	order     []string
	completed []string
}

// NewManager builds a manager from catalog techs. Every prerequisite must
// refer to a tech in the set.
func NewManager(techs ...Tech) (*Manager, error) {
	m := &Manager{
		FudgeFactor:   DefaultFudgeFactor,
		MinPortion:    DefaultMinPortion,
		SnapThreshold: DefaultSnapThreshold,
		techs:         make(map[string]*Tech, len(techs)),
	}
	for i := range techs {
		t := techs[i].Clone()
		if t.ID == "" {
			return nil, fmt.Errorf("tech %d: missing id", i)
		}
		if _, dup := m.techs[t.ID]; dup {
			return nil, fmt.Errorf("tech %q: duplicate id", t.ID)
		}
		if t.AdoptionRate < 0 || t.AdoptionRate > 1 || t.AdoptionGrowth < 0 {
			return nil, fmt.Errorf("tech %q: adoption out of range", t.ID)
		}
		m.techs[t.ID] = t
		m.order = append(m.order, t.ID)
		if t.Researched {
			m.completed = append(m.completed, t.ID)
		}
	}
	for _, id := range m.order {
		for _, p := range m.techs[id].Prerequisites {
			if _, ok := m.techs[p]; !ok {
				return nil, fmt.Errorf("tech %q: unknown prerequisite %q", id, p)
			}
		}
	}
	return m, nil
}

// Get returns the tech with id, or nil.
func (m *Manager) Get(id string) *Tech {
	return m.techs[id]
}

// Techs returns every tech in catalog order.
func (m *Manager) Techs() []*Tech {
	out := make([]*Tech, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.techs[id])
	}
	return out
}

// Researched returns the set of researched tech IDs.
func (m *Manager) Researched() map[string]bool {
	out := make(map[string]bool)
	for id, t := range m.techs {
		if t.Researched {
			out[id] = true
		}
	}
	return out
}

func (m *Manager) prereqsMet(t *Tech) bool {
	for _, p := range t.Prerequisites {
		if pt := m.techs[p]; pt == nil || !pt.Researched {
			return false
		}
	}
	return true
}

// CanResearch reports whether the tech may receive funding.
func (m *Manager) CanResearch(id string) bool {
	t := m.techs[id]
	return t != nil && !t.Researched && !t.Unavailable && m.prereqsMet(t)
}

// State returns the lifecycle state of a tech.
func (m *Manager) State(id string) State {
	t := m.techs[id]
	switch {
	case t == nil:
		return StateLocked
	case t.Researched:
		return StateResearched
	case !m.prereqsMet(t):
		return StateLocked
	case t.Unavailable:
		return StateUnavailable
	case t.CostRatio() < 1:
		return StatePartiallyFunded
	}
	return StateAvailable
}

// Research spends as much of the tech's remaining cost as the ledger can
// afford. At or above the fudge factor the tech completes; otherwise the
// remaining cost shrinks by the funded share. Returns whether any progress
// was made.
func (m *Manager) Research(id string, l *economy.Ledger) bool {
	if !m.CanResearch(id) {
		return false
	}
	t := m.techs[id]
	portion := l.AffordablePortion(t.Costs)
	if portion < m.MinPortion {
		return false
	}

	spend := economy.CloneCosts(t.Costs)
	for i := range spend {
		spend[i].Amount *= portion
		if r := l.Get(spend[i].Type); r != nil && spend[i].Amount > r.Spendable() {
			spend[i].Amount = r.Spendable()
		}
	}
	if !l.CheckAndSpend(spend, true) {
		return false
	}

	if portion >= m.FudgeFactor {
		m.complete(t)
		return true
	}
	for i := range t.Costs {
		t.Costs[i].Amount -= spend[i].Amount
	}
	slog.Debug("research progress", "tech", t.ID, "portion", portion, "remaining_ratio", t.CostRatio())
	return true
}

func (m *Manager) complete(t *Tech) {
	t.Researched = true
	t.scaleCosts(0)
	m.completed = append(m.completed, t.ID)
	slog.Info("research complete", "tech", t.ID, "name", t.Name)

	if m.OnResearched != nil {
		m.OnResearched(t)
	}
	if len(m.completed) == 2 && m.OnFirstPair != nil {
		m.OnFirstPair(m.techs[m.completed[0]], t)
	}
}

// Tick advances adoption of every researched tech.
func (m *Manager) Tick() {
	for _, id := range m.order {
		t := m.techs[id]
		if t.Researched {
			t.AdoptionRate = math.Min(1, t.AdoptionRate+t.AdoptionGrowth)
		}
	}
}

// Adoption returns how much of a tech's benefit is realized; 0 when unresearched.
func (m *Manager) Adoption(id string) float64 {
	t := m.techs[id]
	if t == nil || !t.Researched {
		return 0
	}
	return t.AdoptionRate
}

func (m *Manager) researchable(filter func(*Tech) bool) []*Tech {
	var out []*Tech
	for _, id := range m.order {
		if m.CanResearch(id) && filter(m.techs[id]) {
			out = append(out, m.techs[id])
		}
	}
	return out
}

// Assist applies research help from another city. Among techs the donor has
// researched and this city can research, one is picked uniformly; points are
// converted into a reduction of its research cost, and every other cost
// component shrinks by the same fraction. At most one assist per calendar day
// (day is YYYY-MM-DD). Returns the assisted tech ID.
func (m *Manager) Assist(donor map[string]bool, points float64, day string, rng entropy.Source) (string, bool) {
	if points <= 0 || day == m.LastAssistDay {
		return "", false
	}
	candidates := m.researchable(func(t *Tech) bool {
		return donor[t.ID] && t.CostOf(economy.Research) > 0
	})
	if len(candidates) == 0 {
		return "", false
	}
	t := candidates[rng.Intn(len(candidates))]

	fraction := math.Min(1, points/t.CostOf(economy.Research))
	m.LastAssistDay = day
	if fraction >= m.FudgeFactor {
		m.complete(t)
		return t.ID, true
	}
	t.scaleCosts(1 - fraction)
	slog.Info("research assisted", "tech", t.ID, "fraction", fraction)
	return t.ID, true
}

// GrantFree removes fractionToGrant of the base price from a random
// researchable tech. Remaining ratios below the snap threshold complete it.
func (m *Manager) GrantFree(fractionToGrant float64, rng entropy.Source) (string, bool) {
	if fractionToGrant <= 0 {
		return "", false
	}
	candidates := m.researchable(func(t *Tech) bool { return t.CostRatio() > 0 })
	if len(candidates) == 0 {
		return "", false
	}
	t := candidates[rng.Intn(len(candidates))]

	ratio := t.CostRatio()
	next := ratio - fractionToGrant
	if next < m.SnapThreshold {
		m.complete(t)
		return t.ID, true
	}
	t.scaleCosts(next / ratio)
	return t.ID, true
}

// Restore overwrites the mutable state of a tech from storage. Unknown IDs
// report false so the caller can log and skip them.
func (m *Manager) Restore(id string, adoptionRate, adoptionGrowth float64, costs []economy.Cost, researched, unavailable bool) bool {
	t := m.techs[id]
	if t == nil {
		return false
	}
	wasResearched := t.Researched
	t.AdoptionRate = math.Max(0, math.Min(1, adoptionRate))
	t.AdoptionGrowth = adoptionGrowth
	t.Costs = economy.CloneCosts(costs)
	t.Researched = researched
	t.Unavailable = unavailable
	if researched && !wasResearched {
		m.completed = append(m.completed, id)
	}
	return true
}
