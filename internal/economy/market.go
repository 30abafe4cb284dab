// Auto-trade against the outside market: resources below their buy threshold
// are topped up, resources above their sell threshold are sold off.
package economy

import "math"

// DefaultSalesWindow is how many long ticks of sales RecentSales covers.
const DefaultSalesWindow = 5

// Market tracks outside-market liquidity effects and recent sales volume.
type Market struct {
	SalesWindow int

	history []float64 // Units sold per closed long tick, oldest first
	current float64   // Units sold in the open tick
}

// NewMarket creates a market with the given sales window (in long ticks).
func NewMarket(window int) *Market {
	if window <= 0 {
		window = DefaultSalesWindow
	}
	return &Market{SalesWindow: window}
}

// TradeSummary reports one auto-trade pass.
type TradeSummary struct {
	Bought float64 // Units bought across all resources
	Sold   float64 // Units sold across all resources
	Spent  float64 // Flunds paid
	Earned float64 // Flunds received
}

// RegenLiquidity restores each resource's rolling buyable amount.
func (m *Market) RegenLiquidity(l *Ledger) {
	for _, r := range l.Resources() {
		if r.BuyableRegen <= 0 {
			continue
		}
		r.BuyableAmount = math.Min(r.MaxBuyable, r.BuyableAmount+r.BuyableRegen)
	}
}

// AutoTrade runs one buy/sell pass over every tradable resource.
func (m *Market) AutoTrade(l *Ledger) TradeSummary {
	var sum TradeSummary
	flunds := l.Get(Flunds)
	if flunds == nil {
		return sum
	}

	for _, r := range l.Resources() {
		if r.Type == Flunds || r.Unbounded || r.Capacity <= 0 {
			continue
		}
		fill := r.Fill()

		switch {
		case fill < r.AutoBuyBelow:
			unit := r.BuyPrice * r.BuyPriceMultiplier
			qty := math.Min(r.AutoBuyBelow*r.Capacity-r.Amount, r.BuyableAmount)
			qty = math.Min(qty, r.Room())
			if unit > 0 {
				qty = math.Min(qty, math.Max(0, flunds.Amount)/unit)
			}
			if qty <= 0 {
				continue
			}
			cost := qty * unit
			flunds.Amount -= cost
			flunds.ConsumptionRate += cost
			r.Amount += qty
			r.ProductionRate += qty
			r.BuyableAmount -= qty
			l.Log(ResourceEvent{Type: r.Type, Event: EventBuy, Amount: qty})
			sum.Bought += qty
			sum.Spent += cost

		case fill > r.AutoSellAbove:
			excess := r.Amount - r.AutoSellAbove*r.Capacity
			if excess <= 0 {
				continue
			}
			revenue := excess * r.SellPrice * r.SellPriceMultiplier
			r.Amount -= excess
			r.ConsumptionRate += excess
			l.Log(ResourceEvent{Type: r.Type, Event: EventSell, Amount: excess})
			if revenue > 0 {
				l.Credit(Flunds, revenue, EventEarn)
			}
			m.current += excess
			sum.Sold += excess
			sum.Earned += revenue
		}
	}
	return sum
}

// RecordSale adds manually sold units to the open tick.
func (m *Market) RecordSale(units float64) {
	if units > 0 {
		m.current += units
	}
}

// RecentSales returns units sold over the window, including the open tick.
func (m *Market) RecentSales() float64 {
	total := m.current
	for _, v := range m.history {
		total += v
	}
	return total
}

// EndTick closes the open tick and drops history outside the window.
func (m *Market) EndTick() {
	m.history = append(m.history, m.current)
	m.current = 0
	if over := len(m.history) - (m.SalesWindow - 1); over > 0 {
		m.history = m.history[over:]
	}
}

// History returns a copy of the closed-tick sales, oldest first.
func (m *Market) History() []float64 {
	out := make([]float64, len(m.history))
	copy(out, m.history)
	return out
}

// RestoreHistory replaces closed-tick sales, e.g. after a load.
func (m *Market) RestoreHistory(h []float64) {
	m.history = append(m.history[:0], h...)
	if over := len(m.history) - (m.SalesWindow - 1); over > 0 {
		m.history = m.history[over:]
	}
}
