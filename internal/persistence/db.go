// Package persistence provides SQLite-based city storage with optimistic
// concurrency. Each save is one transaction guarded by a version check.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/economy"
	"github.com/talgya/tile-city/internal/grid"
)

const schemaVersion = "1"

var (
	// ErrStaleWrite means the stored city is newer than the one being saved.
	// The caller should reload rather than retry.
	ErrStaleWrite = errors.New("stale write: city was saved by another session")
	ErrNotFound   = errors.New("city not found")
	ErrCorrupt    = errors.New("stored city is corrupt")
)

// DB wraps a SQLite connection for city persistence.
type DB struct {
	conn  *sqlx.DB
	codec *codec
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	conn.SetMaxOpenConns(1)

	cd, err := newCodec()
	if err != nil {
		conn.Close()
		return nil, err
	}
	db := &DB{conn: conn, codec: cd}
	if err := db.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.codec.close()
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		width INTEGER NOT NULL,
		height INTEGER NOT NULL,
		root_x INTEGER NOT NULL,
		root_y INTEGER NOT NULL,
		long_ticks INTEGER NOT NULL,
		last_short_tick INTEGER NOT NULL,
		last_long_tick INTEGER NOT NULL,
		ticks_per_day INTEGER NOT NULL,
		peak_population INTEGER NOT NULL,
		happiness REAL NOT NULL,
		spawn_chance REAL NOT NULL,
		research_target TEXT NOT NULL,
		last_assist_day TEXT NOT NULL,
		flags_json TEXT NOT NULL,
		taxes_json TEXT NOT NULL,
		digest TEXT NOT NULL,
		blobs BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS resources (
		city_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount REAL NOT NULL,
		capacity REAL NOT NULL,
		production_rate REAL NOT NULL,
		consumption_rate REAL NOT NULL,
		auto_buy_below REAL NOT NULL,
		auto_sell_above REAL NOT NULL,
		buy_price_multiplier REAL NOT NULL,
		sell_price_multiplier REAL NOT NULL,
		buyable_amount REAL NOT NULL,
		PRIMARY KEY (city_id, type)
	);

	CREATE TABLE IF NOT EXISTS techs (
		city_id TEXT NOT NULL,
		id TEXT NOT NULL,
		adoption_rate REAL NOT NULL,
		adoption_growth REAL NOT NULL,
		costs_json TEXT NOT NULL,
		researched INTEGER NOT NULL,
		unavailable INTEGER NOT NULL,
		PRIMARY KEY (city_id, id)
	);

	CREATE TABLE IF NOT EXISTS buildings (
		city_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		type TEXT NOT NULL,
		x INTEGER NOT NULL,
		y INTEGER NOT NULL,
		power_received REAL NOT NULL,
		damaged_efficiency REAL NOT NULL,
		outputs_json TEXT NOT NULL,
		PRIMARY KEY (city_id, id)
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	if _, err := db.conn.Exec(schema); err != nil {
		return err
	}
	_, err := db.conn.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO NOTHING`, schemaVersion)
	return err
}

// SchemaVersion returns the schema version recorded in the database.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := db.conn.GetContext(ctx, &v, "SELECT value FROM meta WHERE key = 'schema_version'")
	return v, err
}

type cityRow struct {
	ID             string  `db:"id"`
	Name           string  `db:"name"`
	Version        int64   `db:"version"`
	UpdatedAt      int64   `db:"updated_at"`
	Width          int     `db:"width"`
	Height         int     `db:"height"`
	RootX          int     `db:"root_x"`
	RootY          int     `db:"root_y"`
	LongTicks      int64   `db:"long_ticks"`
	LastShortTick  int64   `db:"last_short_tick"`
	LastLongTick   int64   `db:"last_long_tick"`
	TicksPerDay    int     `db:"ticks_per_day"`
	PeakPopulation int     `db:"peak_population"`
	Happiness      float64 `db:"happiness"`
	SpawnChance    float64 `db:"spawn_chance"`
	ResearchTarget string  `db:"research_target"`
	LastAssistDay  string  `db:"last_assist_day"`
	FlagsJSON      string  `db:"flags_json"`
	TaxesJSON      string  `db:"taxes_json"`
	Digest         string  `db:"digest"`
	Blobs          []byte  `db:"blobs"`
}

type resourceRow struct {
	CityID              string  `db:"city_id"`
	Type                string  `db:"type"`
	Amount              float64 `db:"amount"`
	Capacity            float64 `db:"capacity"`
	ProductionRate      float64 `db:"production_rate"`
	ConsumptionRate     float64 `db:"consumption_rate"`
	AutoBuyBelow        float64 `db:"auto_buy_below"`
	AutoSellAbove       float64 `db:"auto_sell_above"`
	BuyPriceMultiplier  float64 `db:"buy_price_multiplier"`
	SellPriceMultiplier float64 `db:"sell_price_multiplier"`
	BuyableAmount       float64 `db:"buyable_amount"`
}

type techRow struct {
	CityID         string  `db:"city_id"`
	ID             string  `db:"id"`
	AdoptionRate   float64 `db:"adoption_rate"`
	AdoptionGrowth float64 `db:"adoption_growth"`
	CostsJSON      string  `db:"costs_json"`
	Researched     bool    `db:"researched"`
	Unavailable    bool    `db:"unavailable"`
}

type buildingRow struct {
	CityID            string  `db:"city_id"`
	ID                int64   `db:"id"`
	Type              string  `db:"type"`
	X                 int     `db:"x"`
	Y                 int     `db:"y"`
	PowerReceived     float64 `db:"power_received"`
	DamagedEfficiency float64 `db:"damaged_efficiency"`
	OutputsJSON       string  `db:"outputs_json"`
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Save writes the snapshot if the stored city is still at version. Version 0
// creates a new row. Returns the new version; a newer stored row yields
// ErrStaleWrite and writes nothing.
func (db *DB) Save(ctx context.Context, s *Snapshot, version int64) (int64, error) {
	blob, digest, err := db.codec.pack(s.blobs)
	if err != nil {
		return version, err
	}
	flags, err := json.Marshal(s.Flags)
	if err != nil {
		return version, fmt.Errorf("marshal flags: %w", err)
	}
	taxes, err := json.Marshal(s.Taxes)
	if err != nil {
		return version, fmt.Errorf("marshal taxes: %w", err)
	}

	row := cityRow{
		ID:             s.ID.String(),
		Name:           s.Name,
		Version:        version + 1,
		UpdatedAt:      time.Now().UnixNano(),
		Width:          s.Width,
		Height:         s.Height,
		RootX:          s.Root.X,
		RootY:          s.Root.Y,
		LongTicks:      int64(s.LongTicks),
		LastShortTick:  unixNano(s.LastShortTick),
		LastLongTick:   unixNano(s.LastLongTick),
		TicksPerDay:    s.TicksPerDay,
		PeakPopulation: s.PeakPopulation,
		Happiness:      s.Happiness,
		SpawnChance:    s.SpawnChance,
		ResearchTarget: s.ResearchTarget,
		LastAssistDay:  s.LastAssistDay,
		FlagsJSON:      string(flags),
		TaxesJSON:      string(taxes),
		Digest:         digest,
		Blobs:          blob,
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return version, err
	}
	defer tx.Rollback()

	if err := writeCityRow(ctx, tx, row, version); err != nil {
		return version, err
	}
	if err := writeChildren(ctx, tx, row.ID, s); err != nil {
		return version, err
	}
	if err := tx.Commit(); err != nil {
		return version, fmt.Errorf("commit: %w", err)
	}

	slog.Debug("city saved", "city", s.ID, "version", row.Version, "buildings", len(s.Buildings))
	return row.Version, nil
}

func writeCityRow(ctx context.Context, tx *sqlx.Tx, row cityRow, version int64) error {
	if version == 0 {
		var exists int
		err := tx.GetContext(ctx, &exists, "SELECT COUNT(*) FROM cities WHERE id = ?", row.ID)
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrStaleWrite
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO cities (id, name, version, updated_at,
			width, height, root_x, root_y, long_ticks, last_short_tick, last_long_tick,
			ticks_per_day, peak_population, happiness, spawn_chance, research_target,
			last_assist_day, flags_json, taxes_json, digest, blobs)
			VALUES (:id, :name, :version, :updated_at, :width, :height, :root_x, :root_y,
			:long_ticks, :last_short_tick, :last_long_tick, :ticks_per_day, :peak_population,
			:happiness, :spawn_chance, :research_target, :last_assist_day, :flags_json,
			:taxes_json, :digest, :blobs)`, row)
		return err
	}

	query, args, err := sqlx.Named(`UPDATE cities SET name = :name, version = :version,
		updated_at = :updated_at, width = :width, height = :height, root_x = :root_x,
		root_y = :root_y, long_ticks = :long_ticks, last_short_tick = :last_short_tick,
		last_long_tick = :last_long_tick, ticks_per_day = :ticks_per_day,
		peak_population = :peak_population, happiness = :happiness,
		spawn_chance = :spawn_chance, research_target = :research_target,
		last_assist_day = :last_assist_day, flags_json = :flags_json,
		taxes_json = :taxes_json, digest = :digest, blobs = :blobs
		WHERE id = :id`, row)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, query+" AND version = ?", append(args, version)...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var stored int64
	err = tx.GetContext(ctx, &stored, "SELECT version FROM cities WHERE id = ?", row.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	slog.Warn("rejected stale save", "city", row.ID, "version", version, "stored", stored)
	return ErrStaleWrite
}

func writeChildren(ctx context.Context, tx *sqlx.Tx, id string, s *Snapshot) error {
	for _, table := range []string{"resources", "techs", "buildings"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE city_id = ?", id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, r := range s.Resources {
		_, err := tx.NamedExecContext(ctx, `INSERT INTO resources (city_id, type, amount, capacity,
			production_rate, consumption_rate, auto_buy_below, auto_sell_above,
			buy_price_multiplier, sell_price_multiplier, buyable_amount)
			VALUES (:city_id, :type, :amount, :capacity, :production_rate, :consumption_rate,
			:auto_buy_below, :auto_sell_above, :buy_price_multiplier, :sell_price_multiplier,
			:buyable_amount)`, resourceRow{
			CityID:              id,
			Type:                string(r.Type),
			Amount:              r.Amount,
			Capacity:            r.Capacity,
			ProductionRate:      r.ProductionRate,
			ConsumptionRate:     r.ConsumptionRate,
			AutoBuyBelow:        r.AutoBuyBelow,
			AutoSellAbove:       r.AutoSellAbove,
			BuyPriceMultiplier:  r.BuyPriceMultiplier,
			SellPriceMultiplier: r.SellPriceMultiplier,
			BuyableAmount:       r.BuyableAmount,
		})
		if err != nil {
			return fmt.Errorf("insert resource %s: %w", r.Type, err)
		}
	}

	for _, t := range s.Techs {
		costs, err := json.Marshal(t.Costs)
		if err != nil {
			return fmt.Errorf("marshal tech %s: %w", t.ID, err)
		}
		_, err = tx.NamedExecContext(ctx, `INSERT INTO techs (city_id, id, adoption_rate,
			adoption_growth, costs_json, researched, unavailable)
			VALUES (:city_id, :id, :adoption_rate, :adoption_growth, :costs_json,
			:researched, :unavailable)`, techRow{
			CityID:         id,
			ID:             t.ID,
			AdoptionRate:   t.AdoptionRate,
			AdoptionGrowth: t.AdoptionGrowth,
			CostsJSON:      string(costs),
			Researched:     t.Researched,
			Unavailable:    t.Unavailable,
		})
		if err != nil {
			return fmt.Errorf("insert tech %s: %w", t.ID, err)
		}
	}

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO buildings (city_id, id, type, x, y,
		power_received, damaged_efficiency, outputs_json)
		VALUES (:city_id, :id, :type, :x, :y, :power_received, :damaged_efficiency,
		:outputs_json)`)
	if err != nil {
		return fmt.Errorf("prepare buildings: %w", err)
	}
	defer stmt.Close()
	for _, b := range s.Buildings {
		outputs, err := json.Marshal(b.Outputs)
		if err != nil {
			return fmt.Errorf("marshal building %d: %w", b.ID, err)
		}
		_, err = stmt.ExecContext(ctx, buildingRow{
			CityID:            id,
			ID:                int64(b.ID),
			Type:              b.Type,
			X:                 b.X,
			Y:                 b.Y,
			PowerReceived:     b.PowerReceived,
			DamagedEfficiency: b.DamagedEfficiency,
			OutputsJSON:       string(outputs),
		})
		if err != nil {
			return fmt.Errorf("insert building %d: %w", b.ID, err)
		}
	}
	return nil
}

// LoadReport summarises a load: the stored version and every entity that
// was skipped because the catalog no longer knows it.
type LoadReport struct {
	Version          int64
	UpdatedAt        time.Time
	SkippedBuildings []string
	SkippedTechs     []string
	SkippedResources []string
	SkippedAmbient   int
}

// Skipped reports whether anything was dropped.
func (r *LoadReport) Skipped() bool {
	return len(r.SkippedBuildings)+len(r.SkippedTechs)+len(r.SkippedResources)+r.SkippedAmbient > 0
}

// Load rebuilds a city from storage against the current catalog. Entities
// the catalog no longer knows are logged and skipped.
func (db *DB) Load(ctx context.Context, id uuid.UUID, cat *city.Catalog) (*city.City, *LoadReport, error) {
	var row cityRow
	err := db.conn.GetContext(ctx, &row, "SELECT * FROM cities WHERE id = ?", id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load city: %w", err)
	}
	b, err := db.codec.unpack(row.Blobs, row.Digest)
	if err != nil {
		return nil, nil, fmt.Errorf("load city %s: %w", id, err)
	}

	c, err := city.New(row.Name, row.Width, row.Height, cat)
	if err != nil {
		return nil, nil, err
	}
	report := &LoadReport{Version: row.Version, UpdatedAt: fromUnixNano(row.UpdatedAt)}
	c.ID = id
	c.NetworkRoot = city.Point{X: row.RootX, Y: row.RootY}
	c.LongTicks = uint64(row.LongTicks)
	c.LastShortTick = fromUnixNano(row.LastShortTick)
	c.LastLongTick = fromUnixNano(row.LastLongTick)
	c.TicksPerDay = row.TicksPerDay
	c.PeakPopulation = row.PeakPopulation
	c.Happiness = row.Happiness
	c.SpawnChance = row.SpawnChance
	c.ResearchTarget = row.ResearchTarget
	c.Techs.LastAssistDay = row.LastAssistDay
	if err := json.Unmarshal([]byte(row.FlagsJSON), &c.Flags); err != nil {
		return nil, nil, fmt.Errorf("unmarshal flags: %w", err)
	}
	if err := json.Unmarshal([]byte(row.TaxesJSON), &c.Taxes); err != nil {
		return nil, nil, fmt.Errorf("unmarshal taxes: %w", err)
	}

	if len(b.Owned) == c.Grid.TileCount() {
		i := 0
		c.Grid.Each(func(t *grid.Tile) {
			t.Owned = b.Owned[i]
			i++
		})
	}
	report.SkippedAmbient = c.Grid.RestoreAmbient(b.Ambient)
	c.LastDiet = b.Diet
	c.Market.RestoreHistory(b.Market)
	c.TemporaryEffects = b.Temporary

	if err := db.loadResources(ctx, c, report); err != nil {
		return nil, nil, err
	}
	// Techs before buildings: radius bonuses depend on what is researched.
	if err := db.loadTechs(ctx, c, report); err != nil {
		return nil, nil, err
	}
	if err := db.loadBuildings(ctx, c, report); err != nil {
		return nil, nil, err
	}
	c.UpdateRoadConnectivity()
	c.SampleEfficiency()

	if report.Skipped() {
		slog.Warn("city loaded with skipped entities", "city", id,
			"buildings", report.SkippedBuildings, "techs", report.SkippedTechs,
			"resources", report.SkippedResources, "ambient", report.SkippedAmbient)
	}
	slog.Info("city loaded", "city", id, "name", c.Name, "version", row.Version,
		"buildings", len(c.Buildings), "long_ticks", c.LongTicks)
	return c, report, nil
}

func (db *DB) loadResources(ctx context.Context, c *city.City, report *LoadReport) error {
	var rows []resourceRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM resources WHERE city_id = ? ORDER BY type", c.ID.String()); err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	for _, row := range rows {
		r := c.Resources.Get(economy.ResourceType(row.Type))
		if r == nil {
			report.SkippedResources = append(report.SkippedResources, row.Type)
			continue
		}
		r.Amount = row.Amount
		r.Capacity = row.Capacity
		r.ProductionRate = row.ProductionRate
		r.ConsumptionRate = row.ConsumptionRate
		r.BuyPriceMultiplier = row.BuyPriceMultiplier
		r.SellPriceMultiplier = row.SellPriceMultiplier
		r.BuyableAmount = row.BuyableAmount
		r.AutoBuyBelow, r.AutoSellAbove = 0, 1
		r.SetAutoSellAbove(row.AutoSellAbove)
		r.SetAutoBuyBelow(row.AutoBuyBelow)
		if err := r.Validate(); err != nil {
			return fmt.Errorf("load resources: %w: %w", ErrCorrupt, err)
		}
		if !r.Unbounded && r.Amount > r.Capacity {
			slog.Warn("stored amount above capacity", "city", c.ID, "type", row.Type,
				"amount", r.Amount, "capacity", r.Capacity)
			r.Amount = r.Capacity
		}
	}
	return nil
}

func (db *DB) loadTechs(ctx context.Context, c *city.City, report *LoadReport) error {
	var rows []techRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM techs WHERE city_id = ? ORDER BY id", c.ID.String()); err != nil {
		return fmt.Errorf("load techs: %w", err)
	}
	for _, row := range rows {
		var costs []economy.Cost
		if err := json.Unmarshal([]byte(row.CostsJSON), &costs); err != nil {
			return fmt.Errorf("unmarshal tech %s costs: %w", row.ID, err)
		}
		if !c.Techs.Restore(row.ID, row.AdoptionRate, row.AdoptionGrowth, costs, row.Researched, row.Unavailable) {
			report.SkippedTechs = append(report.SkippedTechs, row.ID)
		}
	}
	return nil
}

func (db *DB) loadBuildings(ctx context.Context, c *city.City, report *LoadReport) error {
	var rows []buildingRow
	if err := db.conn.SelectContext(ctx, &rows, "SELECT * FROM buildings WHERE city_id = ? ORDER BY id", c.ID.String()); err != nil {
		return fmt.Errorf("load buildings: %w", err)
	}
	for _, row := range rows {
		bt := c.Catalog.Building(row.Type)
		if bt == nil {
			report.SkippedBuildings = append(report.SkippedBuildings, row.Type)
			continue
		}
		b := &city.Building{
			ID:                uint64(row.ID),
			Type:              bt,
			X:                 row.X,
			Y:                 row.Y,
			Efficiency:        1,
			PowerReceived:     row.PowerReceived,
			DamagedEfficiency: row.DamagedEfficiency,
		}
		if !c.Restore(b) {
			report.SkippedBuildings = append(report.SkippedBuildings, row.Type)
			continue
		}
		var outputs []float64
		if err := json.Unmarshal([]byte(row.OutputsJSON), &outputs); err == nil && len(outputs) == len(b.Outputs) {
			for i, amount := range outputs {
				b.Outputs[i].Amount = min(amount, b.Outputs[i].Capacity)
			}
		}
	}
	return nil
}
