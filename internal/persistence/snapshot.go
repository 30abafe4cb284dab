package persistence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"lukechampine.com/blake3"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/diet"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
)

// Snapshot is a detached copy of everything persisted for one city. It is
// captured on the goroutine that owns the city and may be written from any
// other.
type Snapshot struct {
	ID             uuid.UUID
	Name           string
	Width, Height  int
	Root           city.Point
	LongTicks      uint64
	LastShortTick  time.Time
	LastLongTick   time.Time
	TicksPerDay    int
	PeakPopulation int
	Happiness      float64
	SpawnChance    float64
	ResearchTarget string
	LastAssistDay  string
	Flags          city.Flags
	Taxes          city.Taxes

	Resources []economy.Resource
	Techs     []TechState
	Buildings []BuildingState
	blobs     blobs
}

// TechState is the persisted mutable state of a tech.
type TechState struct {
	ID             string
	AdoptionRate   float64
	AdoptionGrowth float64
	Costs          []economy.Cost
	Researched     bool
	Unavailable    bool
}

// BuildingState is the persisted state of a building. Its effects are not
// stored; they are rebuilt from the type on load.
type BuildingState struct {
	ID                uint64
	Type              string
	X, Y              int
	PowerReceived     float64
	DamagedEfficiency float64
	Outputs           []float64 // Buffered amounts, in type output order
}

// blobs holds the documents stored compressed in the cities row.
type blobs struct {
	Ambient   []grid.AmbientEffect   `json:"ambient"`
	Owned     []bool                 `json:"owned"`
	Diet      []diet.Composition     `json:"diet"`
	Market    []float64              `json:"market"`
	Temporary []city.TemporaryEffect `json:"temporary"`
}

// Capture copies the persisted state out of c.
func Capture(c *city.City) *Snapshot {
	s := &Snapshot{
		ID:             c.ID,
		Name:           c.Name,
		Width:          c.Grid.Width,
		Height:         c.Grid.Height,
		Root:           c.NetworkRoot,
		LongTicks:      c.LongTicks,
		LastShortTick:  c.LastShortTick,
		LastLongTick:   c.LastLongTick,
		TicksPerDay:    c.TicksPerDay,
		PeakPopulation: c.PeakPopulation,
		Happiness:      c.Happiness,
		SpawnChance:    c.SpawnChance,
		ResearchTarget: c.ResearchTarget,
		LastAssistDay:  c.Techs.LastAssistDay,
		Flags:          c.Flags,
		Taxes:          c.Taxes,
	}
	for _, r := range c.Resources.Resources() {
		s.Resources = append(s.Resources, *r.Clone())
	}
	for _, t := range c.Techs.Techs() {
		s.Techs = append(s.Techs, TechState{
			ID:             t.ID,
			AdoptionRate:   t.AdoptionRate,
			AdoptionGrowth: t.AdoptionGrowth,
			Costs:          economy.CloneCosts(t.Costs),
			Researched:     t.Researched,
			Unavailable:    t.Unavailable,
		})
	}
	for _, b := range c.Buildings {
		bs := BuildingState{
			ID:                b.ID,
			Type:              b.Type.ID,
			X:                 b.X,
			Y:                 b.Y,
			PowerReceived:     b.PowerReceived,
			DamagedEfficiency: b.DamagedEfficiency,
		}
		for _, o := range b.Outputs {
			bs.Outputs = append(bs.Outputs, o.Amount)
		}
		s.Buildings = append(s.Buildings, bs)
	}

	s.blobs.Ambient = c.Grid.AmbientEffects()
	s.blobs.Owned = make([]bool, 0, c.Grid.TileCount())
	c.Grid.Each(func(t *grid.Tile) { s.blobs.Owned = append(s.blobs.Owned, t.Owned) })
	s.blobs.Diet = append([]diet.Composition(nil), c.LastDiet...)
	s.blobs.Market = c.Market.History()
	s.blobs.Temporary = append([]city.TemporaryEffect(nil), c.TemporaryEffects...)
	return s
}

// codec compresses blob documents. Encoders and decoders created with a nil
// stream are safe for concurrent EncodeAll and DecodeAll calls.
type codec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newCodec() (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &codec{enc: enc, dec: dec}, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}

// pack marshals b and returns the compressed document with the hex blake3
// digest of the uncompressed bytes.
func (c *codec) pack(b blobs) ([]byte, string, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, "", fmt.Errorf("marshal blobs: %w", err)
	}
	sum := blake3.Sum256(raw)
	return c.enc.EncodeAll(raw, nil), hex.EncodeToString(sum[:]), nil
}

func (c *codec) unpack(data []byte, digest string) (blobs, error) {
	var b blobs
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return b, fmt.Errorf("decompress blobs: %w", err)
	}
	sum := blake3.Sum256(raw)
	if hex.EncodeToString(sum[:]) != digest {
		return b, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("unmarshal blobs: %w", err)
	}
	return b, nil
}
