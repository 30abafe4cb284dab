package city

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
	"github.com/talgya/tile-city/internal/tech"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog is the content a city is built from: building types, the
// research graph and the starting resource accounts.
type Catalog struct {
	Buildings []*BuildingType `yaml:"buildings"`
	Techs     []TechSpec      `yaml:"techs"`
	Resources []ResourceSpec  `yaml:"resources"`

	byID map[string]*BuildingType
}

// TechSpec is the catalog form of a tech plus its completion side effects.
type TechSpec struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	Costs          []economy.Cost `yaml:"costs"`
	Prerequisites  []string       `yaml:"prerequisites"`
	AdoptionGrowth float64        `yaml:"adoption_growth"`

	UnlocksFlag  string `yaml:"unlocks_flag,omitempty"`  // City flag set on completion
	RadiusEffect string `yaml:"radius_effect,omitempty"` // Effect type whose emitters gain radius
	RadiusBonus  int    `yaml:"radius_bonus,omitempty"`

	Boost *BoostSpec `yaml:"boost,omitempty"` // Temporary city effect started on completion
}

// BoostSpec is a temporary effect a tech starts when it is researched.
type BoostSpec struct {
	Kind      string  `yaml:"kind"`
	Magnitude float64 `yaml:"magnitude"`
	Ticks     int     `yaml:"ticks"`
}

// ResourceSpec is the catalog form of a starting resource account.
type ResourceSpec struct {
	Type          economy.ResourceType `yaml:"type"`
	Amount        float64              `yaml:"amount"`
	Capacity      float64              `yaml:"capacity"`
	AutoBuyBelow  float64              `yaml:"auto_buy_below"`
	AutoSellAbove float64              `yaml:"auto_sell_above"`
	BuyPrice      float64              `yaml:"buy_price"`
	SellPrice     float64              `yaml:"sell_price"`
	MaxBuyable    float64              `yaml:"max_buyable"`
	BuyableRegen  float64              `yaml:"buyable_regen"`
	Unbounded     bool                 `yaml:"unbounded"`
	DebtLimit     float64              `yaml:"debt_limit"`
}

// LoadCatalog decodes and validates a YAML catalog.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	var cat Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	cat.Normalize()
	if err := cat.Validate(); err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &cat, nil
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	cat, err := LoadCatalog(bytes.NewReader(defaultCatalogYAML))
	if err != nil {
		panic(fmt.Sprintf("city: built-in catalog: %v", err))
	}
	return cat
}

// Normalize fills defaults that YAML authors may omit.
func (c *Catalog) Normalize() {
	for _, bt := range c.Buildings {
		bt.ID = strings.TrimSpace(bt.ID)
		if bt.Width <= 0 {
			bt.Width = 1
		}
		if bt.Height <= 0 {
			bt.Height = 1
		}
		if bt.Name == "" {
			bt.Name = bt.ID
		}
		if bt.IsResidence && bt.Units == 0 {
			bt.Units = 1
		}
		for i := range bt.Effects {
			if bt.Effects[i].Dynamic == "" {
				bt.Effects[i].Dynamic = DynamicStatic
			}
		}
	}
	for i := range c.Resources {
		if c.Resources[i].AutoSellAbove == 0 && c.Resources[i].AutoBuyBelow == 0 {
			c.Resources[i].AutoSellAbove = 1
		}
	}
}

// Validate checks references and parses effect type names.
func (c *Catalog) Validate() error {
	c.byID = make(map[string]*BuildingType, len(c.Buildings))
	for _, bt := range c.Buildings {
		if bt.ID == "" {
			return errors.New("building without id")
		}
		if _, dup := c.byID[bt.ID]; dup {
			return fmt.Errorf("duplicate building %q", bt.ID)
		}
		if bt.Capacity < 0 || bt.ResidenceLevel < 0 {
			return fmt.Errorf("building %q: negative capacity or level", bt.ID)
		}
		for i := range bt.Effects {
			spec := &bt.Effects[i]
			typ, err := grid.ParseEffectType(spec.Type)
			if err != nil {
				return fmt.Errorf("building %q: %w", bt.ID, err)
			}
			spec.effect = typ
			switch spec.Dynamic {
			case DynamicStatic, DynamicEfficiency, DynamicFalloff:
			default:
				return fmt.Errorf("building %q: unknown dynamic kind %q", bt.ID, spec.Dynamic)
			}
			if spec.Radius < 0 {
				return fmt.Errorf("building %q: negative radius", bt.ID)
			}
		}
		c.byID[bt.ID] = bt
	}

	techIDs := make(map[string]bool, len(c.Techs))
	for _, t := range c.Techs {
		techIDs[t.ID] = true
		if t.RadiusEffect != "" {
			if _, err := grid.ParseEffectType(t.RadiusEffect); err != nil {
				return fmt.Errorf("tech %q: %w", t.ID, err)
			}
		}
		if b := t.Boost; b != nil {
			if b.Kind != TempDietBoost {
				return fmt.Errorf("tech %q: unknown boost kind %q", t.ID, b.Kind)
			}
			if b.Ticks <= 0 || b.Magnitude < 0 {
				return fmt.Errorf("tech %q: boost needs positive ticks and magnitude", t.ID)
			}
		}
	}
	for _, t := range c.Techs {
		for _, p := range t.Prerequisites {
			if !techIDs[p] {
				return fmt.Errorf("tech %q: unknown prerequisite %q", t.ID, p)
			}
		}
	}

	seen := make(map[economy.ResourceType]bool, len(c.Resources))
	for _, r := range c.Resources {
		if seen[r.Type] {
			return fmt.Errorf("duplicate resource %q", r.Type)
		}
		seen[r.Type] = true
	}
	return nil
}

// Building returns the type with id, or nil when the catalog lacks it.
func (c *Catalog) Building(id string) *BuildingType {
	return c.byID[id]
}

// Residences returns the residential types ordered by level, then by footprint.
func (c *Catalog) Residences() []*BuildingType {
	var out []*BuildingType
	for _, bt := range c.Buildings {
		if bt.IsResidence {
			out = append(out, bt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ResidenceLevel != out[j].ResidenceLevel {
			return out[i].ResidenceLevel < out[j].ResidenceLevel
		}
		return out[i].Width*out[i].Height < out[j].Width*out[j].Height
	})
	return out
}

// Upgrade returns the spawnable residence one level above bt with the same
// footprint, or nil.
func (c *Catalog) Upgrade(bt *BuildingType) *BuildingType {
	for _, r := range c.Residences() {
		if r.Spawnable && r.ResidenceLevel == bt.ResidenceLevel+1 &&
			r.Width == bt.Width && r.Height == bt.Height {
			return r
		}
	}
	return nil
}

// TechSpec returns the spec with id, or nil.
func (c *Catalog) TechSpec(id string) *TechSpec {
	for i := range c.Techs {
		if c.Techs[i].ID == id {
			return &c.Techs[i]
		}
	}
	return nil
}

// NewTechManager builds the research graph.
func (c *Catalog) NewTechManager() (*tech.Manager, error) {
	techs := make([]tech.Tech, 0, len(c.Techs))
	for _, s := range c.Techs {
		techs = append(techs, tech.New(s.ID, s.Name, s.Costs, s.AdoptionGrowth, s.Prerequisites...))
	}
	return tech.NewManager(techs...)
}

// NewLedger builds the starting resource accounts.
func (c *Catalog) NewLedger() (*economy.Ledger, error) {
	rs := make([]economy.Resource, 0, len(c.Resources))
	for _, s := range c.Resources {
		r := economy.NewResource(s.Type, s.Amount, s.Capacity)
		r.AutoBuyBelow = s.AutoBuyBelow
		r.AutoSellAbove = s.AutoSellAbove
		r.BuyPrice = s.BuyPrice
		r.SellPrice = s.SellPrice
		r.MaxBuyable = s.MaxBuyable
		r.BuyableAmount = s.MaxBuyable
		r.BuyableRegen = s.BuyableRegen
		r.Unbounded = s.Unbounded
		r.DebtLimit = s.DebtLimit
		rs = append(rs, r)
	}
	return economy.NewLedger(rs...)
}
