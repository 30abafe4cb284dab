package economy

import (
	"fmt"
	"math"
)

// EventKind classifies entries in the per-tick resource log.
type EventKind string

const (
	EventProduce EventKind = "produce"
	EventSell    EventKind = "sell"
	EventBuy     EventKind = "buy"
	EventCancel  EventKind = "cancel"
	EventEarn    EventKind = "earn"
)

// ResourceEvent is one entry in the append-only per-tick log.
type ResourceEvent struct {
	Type   ResourceType `json:"type"`
	Event  EventKind    `json:"event"`
	Amount float64      `json:"amount"`
}

// Ledger owns every resource account of a city. The ledger, not the resource,
// enforces 0 <= amount <= capacity.
type Ledger struct {
	resources map[ResourceType]*Resource
	order     []ResourceType
	events    []ResourceEvent
}

// NewLedger builds a ledger from validated resources.
func NewLedger(rs ...Resource) (*Ledger, error) {
	l := &Ledger{resources: make(map[ResourceType]*Resource, len(rs))}
	for _, r := range rs {
		if err := l.Add(r); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add registers a new resource account.
func (l *Ledger) Add(r Resource) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("add resource: %w", err)
	}
	if _, dup := l.resources[r.Type]; dup {
		return fmt.Errorf("add resource: duplicate type %q", r.Type)
	}
	if !r.Unbounded && r.Amount > r.Capacity {
		r.Amount = r.Capacity
	}
	l.resources[r.Type] = &r
	l.order = append(l.order, r.Type)
	return nil
}

// Get returns the account for typ, or nil.
func (l *Ledger) Get(typ ResourceType) *Resource {
	return l.resources[typ]
}

// Amount returns the current amount of typ (0 when absent).
func (l *Ledger) Amount(typ ResourceType) float64 {
	if r := l.resources[typ]; r != nil {
		return r.Amount
	}
	return 0
}

// Types returns resource types in registration order.
func (l *Ledger) Types() []ResourceType {
	out := make([]ResourceType, len(l.order))
	copy(out, l.order)
	return out
}

// Resources returns the accounts in registration order.
func (l *Ledger) Resources() []*Resource {
	out := make([]*Resource, 0, len(l.order))
	for _, t := range l.order {
		out = append(out, l.resources[t])
	}
	return out
}

// aggregate merges repeated entries so each resource is checked once against
// its combined cost.
func aggregate(costs []Cost) []Cost {
	out := make([]Cost, 0, len(costs))
	index := make(map[ResourceType]int, len(costs))
	for _, c := range costs {
		if c.Amount <= 0 {
			continue
		}
		if i, ok := index[c.Type]; ok {
			out[i].Amount += c.Amount
			continue
		}
		index[c.Type] = len(out)
		out = append(out, c)
	}
	return out
}

// HasResources reports, without mutating, whether every cost is covered.
// With allowPartial it only requires that each listed resource has some stock,
// which is the precondition for a partial payment.
func (l *Ledger) HasResources(costs []Cost, allowPartial bool) bool {
	for _, c := range aggregate(costs) {
		r := l.resources[c.Type]
		if r == nil {
			return false
		}
		if allowPartial {
			if r.Spendable() <= 0 {
				return false
			}
			continue
		}
		if r.Spendable() < c.Amount {
			return false
		}
	}
	return true
}

// AffordablePortion returns the largest f in [0,1] such that every cost
// scaled by f is affordable at once. It is 1 exactly when HasResources is true.
func (l *Ledger) AffordablePortion(costs []Cost) float64 {
	portion := 1.0
	for _, c := range aggregate(costs) {
		r := l.resources[c.Type]
		if r == nil {
			return 0
		}
		avail := r.Spendable()
		if avail >= c.Amount {
			continue
		}
		if avail <= 0 {
			return 0
		}
		f := avail / c.Amount
		if f >= 1 {
			// Rounding must not report full affordability for a shortfall.
			f = math.Nextafter(1, 0)
		}
		portion = math.Min(portion, f)
	}
	return portion
}

// CheckAndSpend debits costs. With forceFullAmount the debit is
// all-or-nothing: if any cost cannot be met nothing is mutated and false is
// returned. Without it, each entry is debited as far as stock allows and the
// result reports whether anything was spent.
func (l *Ledger) CheckAndSpend(costs []Cost, forceFullAmount bool) bool {
	agg := aggregate(costs)
	if forceFullAmount {
		if !l.HasResources(agg, false) {
			return false
		}
		for _, c := range agg {
			l.debit(l.resources[c.Type], c.Amount)
		}
		return true
	}

	spent := false
	for _, c := range agg {
		r := l.resources[c.Type]
		if r == nil {
			continue
		}
		amt := math.Min(c.Amount, r.Spendable())
		if amt > 0 {
			l.debit(r, amt)
			spent = true
		}
	}
	return spent
}

func (l *Ledger) debit(r *Resource, amount float64) {
	r.Amount -= amount
	if r.Amount < -r.DebtLimit {
		r.Amount = -r.DebtLimit
	}
	r.ConsumptionRate += amount
}

// Credit adds up to amount of typ, capped at capacity, and logs the event.
// Returns the amount actually credited.
func (l *Ledger) Credit(typ ResourceType, amount float64, kind EventKind) float64 {
	r := l.resources[typ]
	if r == nil || amount <= 0 {
		return 0
	}
	moved := math.Min(amount, r.Room())
	if moved <= 0 {
		return 0
	}
	r.Amount += moved
	r.ProductionRate += moved
	l.events = append(l.events, ResourceEvent{Type: typ, Event: kind, Amount: moved})
	return moved
}

// TransferFrom moves resources out of the source accounts (e.g. building
// output buffers) into the ledger, capped by remaining capacity. Whatever
// does not fit stays in the source. Returns the total moved.
func (l *Ledger) TransferFrom(srcs []*Resource, kind EventKind) float64 {
	total := 0.0
	for _, src := range srcs {
		if src == nil || src.Amount <= 0 {
			continue
		}
		moved := l.Credit(src.Type, src.Amount, kind)
		src.Amount -= moved
		total += moved
	}
	return total
}

// Refund returns previously spent costs, logged as cancellations.
func (l *Ledger) Refund(costs []Cost) {
	for _, c := range aggregate(costs) {
		l.Credit(c.Type, c.Amount, EventCancel)
	}
}

// SetValue overwrites a derived resource's amount, clamped to [0, capacity].
func (l *Ledger) SetValue(typ ResourceType, v float64) {
	r := l.resources[typ]
	if r == nil {
		return
	}
	if v < 0 || math.IsNaN(v) {
		v = 0
	}
	if !r.Unbounded && v > r.Capacity {
		v = r.Capacity
	}
	r.Amount = v
}

// Log appends an event without moving resources.
func (l *Ledger) Log(e ResourceEvent) {
	l.events = append(l.events, e)
}

// Events returns a copy of this tick's log.
func (l *Ledger) Events() []ResourceEvent {
	return append([]ResourceEvent(nil), l.events...)
}

// EventTotal sums this tick's events of one kind for one resource.
func (l *Ledger) EventTotal(typ ResourceType, kind EventKind) float64 {
	total := 0.0
	for _, e := range l.events {
		if e.Type == typ && e.Event == kind {
			total += e.Amount
		}
	}
	return total
}

// BeginTick clears the event log and the telemetry rate accumulators.
func (l *Ledger) BeginTick() {
	l.events = nil
	for _, r := range l.resources {
		r.ProductionRate = 0
		r.ConsumptionRate = 0
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	c := &Ledger{
		resources: make(map[ResourceType]*Resource, len(l.resources)),
		order:     append([]ResourceType(nil), l.order...),
		events:    append([]ResourceEvent(nil), l.events...),
	}
	for t, r := range l.resources {
		c.resources[t] = r.Clone()
	}
	return c
}
