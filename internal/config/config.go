// Package config loads the citysim YAML configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/tile-city/internal/city"
	"github.com/talgya/tile-city/internal/engine"
)

// Config is the whole citysim configuration file.
type Config struct {
	City        CityConfig       `yaml:"city"`
	Simulation  SimulationConfig `yaml:"simulation"`
	Storage     StorageConfig    `yaml:"storage"`
	Logging     LoggingConfig    `yaml:"logging"`
	CatalogPath string           `yaml:"catalog_path"`
}

// CityConfig describes the city founded when no save is loaded.
type CityConfig struct {
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Seed   int64  `yaml:"seed"` // 0 picks a random seed
}

// SimulationConfig sets the tick schedule.
type SimulationConfig struct {
	TicksPerDay           int           `yaml:"ticks_per_day"`
	ShortTicksPerLongTick int           `yaml:"short_ticks_per_long_tick"`
	LongTickInterval      time.Duration `yaml:"long_tick_interval"`
	MaxCatchUpTicks       int           `yaml:"max_catch_up_ticks"`
}

// StorageConfig locates the SQLite database and paces autosaves.
type StorageConfig struct {
	Path         string        `yaml:"path"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

func defaults() Config {
	return Config{
		City: CityConfig{
			Name:   "New City",
			Width:  64,
			Height: 64,
		},
		Simulation: SimulationConfig{
			TicksPerDay:           city.DefaultTicksPerDay,
			ShortTicksPerLongTick: engine.DefaultShortTicksPerLongTick,
			LongTickInterval:      engine.DefaultLongTickInterval,
			MaxCatchUpTicks:       engine.DefaultMaxCatchUp,
		},
		Storage: StorageConfig{
			Path:         "data/citysim.db",
			SaveInterval: time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Default returns the built-in configuration.
func Default() Config { return defaults() }

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Normalize fills zero values with defaults and tidies strings.
func (c *Config) Normalize() {
	d := defaults()
	c.City.Name = strings.TrimSpace(c.City.Name)
	if c.City.Name == "" {
		c.City.Name = d.City.Name
	}
	if c.City.Width == 0 {
		c.City.Width = d.City.Width
	}
	if c.City.Height == 0 {
		c.City.Height = d.City.Height
	}
	if c.Simulation.TicksPerDay == 0 {
		c.Simulation.TicksPerDay = d.Simulation.TicksPerDay
	}
	if c.Simulation.ShortTicksPerLongTick == 0 {
		c.Simulation.ShortTicksPerLongTick = d.Simulation.ShortTicksPerLongTick
	}
	if c.Simulation.LongTickInterval == 0 {
		c.Simulation.LongTickInterval = d.Simulation.LongTickInterval
	}
	if c.Simulation.MaxCatchUpTicks == 0 {
		c.Simulation.MaxCatchUpTicks = d.Simulation.MaxCatchUpTicks
	}
	c.Storage.Path = strings.TrimSpace(c.Storage.Path)
	if c.Storage.Path == "" {
		c.Storage.Path = d.Storage.Path
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	c.CatalogPath = strings.TrimSpace(c.CatalogPath)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.City.Width < 4 || c.City.Height < 4 {
		errs = append(errs, fmt.Errorf("city size %dx%d below 4x4", c.City.Width, c.City.Height))
	}
	if c.Simulation.TicksPerDay < 0 || c.Simulation.ShortTicksPerLongTick < 0 || c.Simulation.MaxCatchUpTicks < 0 {
		errs = append(errs, errors.New("simulation counts must be positive"))
	}
	if c.Simulation.LongTickInterval < time.Second {
		errs = append(errs, fmt.Errorf("long_tick_interval %s below 1s", c.Simulation.LongTickInterval))
	}
	if c.Storage.SaveInterval < 0 {
		errs = append(errs, errors.New("save_interval must not be negative"))
	}
	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q: %w", l.Level, err)
	}
	return lvl, nil
}

// LoadCatalog returns the building catalog named by CatalogPath, or the
// built-in one.
func (c Config) LoadCatalog() (*city.Catalog, error) {
	if c.CatalogPath == "" {
		return city.DefaultCatalog(), nil
	}
	f, err := os.Open(c.CatalogPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cat, err := city.LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.CatalogPath, err)
	}
	return cat, nil
}
