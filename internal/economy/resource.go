// Package economy provides the city resource ledger, transactional spending and
// the auto-trade market.
package economy

import (
	"errors"
	"fmt"
	"math"

	"github.com/talgya/tile-city/internal/mathx"
)

// ResourceType is the unique key of a commodity in the ledger.
type ResourceType string

const (
	Flunds    ResourceType = "flunds" // Currency; unbounded capacity
	Research  ResourceType = "research"
	Wood      ResourceType = "wood"
	Concrete  ResourceType = "concrete"
	Iron      ResourceType = "iron"
	Furniture ResourceType = "furniture"

	// Food commodities consumed by the diet system.
	Grain          ResourceType = "grain"
	Rice           ResourceType = "rice"
	Apples         ResourceType = "apples"
	Berries        ResourceType = "berries"
	Dairy          ResourceType = "dairy"
	Poultry        ResourceType = "poultry"
	RedMeat        ResourceType = "redMeat"
	Fish           ResourceType = "fish"
	Legumes        ResourceType = "legumes"
	Vegetables     ResourceType = "vegetables"
	RootVegetables ResourceType = "rootVegetables"
	LeafyGreens    ResourceType = "leafyGreens"
	Vitamins       ResourceType = "vitamins"

	// Derived values written by the diet system each tick.
	FoodSatisfaction ResourceType = "foodSatisfaction"
	FoodHealth       ResourceType = "foodHealth"
	FoodSufficiency  ResourceType = "foodSufficiency"
)

// Cost is an amount of one resource.
type Cost struct {
	Type   ResourceType `json:"type"`
	Amount float64      `json:"amount"`
}

// CloneCosts copies a cost list so callers never share backing arrays.
func CloneCosts(costs []Cost) []Cost {
	if costs == nil {
		return nil
	}
	out := make([]Cost, len(costs))
	copy(out, costs)
	return out
}

// Resource is one account in the ledger.
type Resource struct {
	Type     ResourceType `json:"type"`
	Amount   float64      `json:"amount"`
	Capacity float64      `json:"capacity"`

	// Tick-local accumulators, reset by Ledger.BeginTick. Telemetry only.
	ProductionRate  float64 `json:"production_rate"`
	ConsumptionRate float64 `json:"consumption_rate"`

	// Auto-trade thresholds as fractions of capacity. AutoBuyBelow <= AutoSellAbove.
	AutoBuyBelow        float64 `json:"auto_buy_below"`
	AutoSellAbove       float64 `json:"auto_sell_above"`
	BuyPriceMultiplier  float64 `json:"buy_price_multiplier"`
	SellPriceMultiplier float64 `json:"sell_price_multiplier"`

	// Market catalog values.
	BuyPrice      float64 `json:"buy_price"`  // Flunds per unit
	SellPrice     float64 `json:"sell_price"` // Flunds per unit
	BuyableAmount float64 `json:"buyable_amount"`
	MaxBuyable    float64 `json:"max_buyable"`
	BuyableRegen  float64 `json:"buyable_regen"` // Liquidity restored per long tick

	Unbounded bool    `json:"unbounded"`  // Capacity is not enforced (currency)
	DebtLimit float64 `json:"debt_limit"` // How far below zero spending may go
}

var (
	ErrNegativeCapacity = errors.New("negative capacity")
	ErrNegativeAmount   = errors.New("negative amount")
	ErrThresholds       = errors.New("invalid trade thresholds")
)

// Validate reports construction defects.
func (r *Resource) Validate() error {
	if r.Type == "" {
		return errors.New("resource without type")
	}
	if r.Capacity < 0 || math.IsNaN(r.Capacity) {
		return fmt.Errorf("%s: %w", r.Type, ErrNegativeCapacity)
	}
	if r.Amount < -r.DebtLimit || math.IsNaN(r.Amount) || r.DebtLimit < 0 {
		return fmt.Errorf("%s: %w", r.Type, ErrNegativeAmount)
	}
	if r.AutoBuyBelow < 0 || r.AutoSellAbove > 1 || r.AutoBuyBelow > r.AutoSellAbove {
		return fmt.Errorf("%s: %w (buy below %.3f, sell above %.3f)", r.Type, ErrThresholds, r.AutoBuyBelow, r.AutoSellAbove)
	}
	return nil
}

// Clone returns an independent copy.
func (r *Resource) Clone() *Resource {
	c := *r
	return &c
}

// Room returns how much more the resource can hold.
func (r *Resource) Room() float64 {
	if r.Unbounded {
		return math.Inf(1)
	}
	return mathx.Positive(r.Capacity - r.Amount)
}

// Spendable returns the most that can be debited, debt included.
func (r *Resource) Spendable() float64 {
	return r.Amount + r.DebtLimit
}

// Fill returns amount/capacity, or 0 for unbounded or zero-capacity resources.
func (r *Resource) Fill() float64 {
	if r.Unbounded || r.Capacity <= 0 {
		return 0
	}
	return r.Amount / r.Capacity
}

// SetAutoBuyBelow moves the buy threshold, stopping at the sell threshold.
func (r *Resource) SetAutoBuyBelow(v float64) {
	r.AutoBuyBelow = mathx.Clamp(mathx.Clamp01(v), 0, r.AutoSellAbove)
}

// SetAutoSellAbove moves the sell threshold, stopping at the buy threshold.
func (r *Resource) SetAutoSellAbove(v float64) {
	r.AutoSellAbove = mathx.Clamp(mathx.Clamp01(v), r.AutoBuyBelow, 1)
}

// NewResource builds a resource with neutral trade settings.
func NewResource(typ ResourceType, amount, capacity float64) Resource {
	return Resource{
		Type:                typ,
		Amount:              amount,
		Capacity:            capacity,
		AutoBuyBelow:        0,
		AutoSellAbove:       1,
		BuyPriceMultiplier:  1,
		SellPriceMultiplier: 1,
	}
}
