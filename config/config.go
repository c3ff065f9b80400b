// Package config loads docking settings from a YAML file and MCDOCK_*
// environment variables.
package config

import (
	"errors"
	"fmt"

	"github.com/brensch/mcdock/executor/montecarlo"
	"github.com/brensch/mcdock/logging"
	"github.com/brensch/mcdock/scoring"
)

// Config is the full runtime configuration.
type Config struct {
	Scoring ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Search  SearchConfig   `mapstructure:"search" yaml:"search"`
	Device  DeviceConfig   `mapstructure:"device" yaml:"device"`
	Store   StoreConfig    `mapstructure:"store" yaml:"store"`
	Log     logging.Config `mapstructure:"log" yaml:"log"`
	Metrics MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// ScoringConfig sets the resolution of the pairwise table.
type ScoringConfig struct {
	NS     int     `mapstructure:"ns" yaml:"ns"`
	Cutoff float32 `mapstructure:"cutoff" yaml:"cutoff"`
	// Workers parallelises precalculation. Zero means GOMAXPROCS.
	Workers int `mapstructure:"workers" yaml:"workers"`
}

// SearchConfig shapes every launch.
type SearchConfig struct {
	Tasks           int                 `mapstructure:"tasks" yaml:"tasks"`
	Generations     int                 `mapstructure:"generations" yaml:"generations"`
	Seed            uint64              `mapstructure:"seed" yaml:"seed"`
	ReseedPerLaunch bool                `mapstructure:"reseed_per_launch" yaml:"reseed_per_launch"`
	Schedule        montecarlo.Schedule `mapstructure:"schedule" yaml:"schedule"`
}

// DeviceConfig picks the compute backend.
type DeviceConfig struct {
	Platform    string `mapstructure:"platform" yaml:"platform"`
	Workers     int    `mapstructure:"workers" yaml:"workers"`
	MemoryWords int    `mapstructure:"memory_words" yaml:"memory_words"`
}

// StoreConfig locates persisted files.
type StoreConfig struct {
	TableCache string `mapstructure:"table_cache" yaml:"table_cache"`
	OutDir     string `mapstructure:"out_dir" yaml:"out_dir"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// PlatformHost is the CPU backend, currently the only one.
const PlatformHost = "host"

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Scoring: ScoringConfig{NS: scoring.DefaultNS, Cutoff: scoring.DefaultCutoff},
		Search: SearchConfig{
			Tasks:       256,
			Generations: 2000,
			Seed:        1,
			Schedule:    montecarlo.DefaultSchedule(),
		},
		Device:  DeviceConfig{Platform: PlatformHost},
		Store:   StoreConfig{TableCache: "cache/scoring_table.parquet", OutDir: "results"},
		Log:     logging.Config{Level: "info", Format: "console"},
		Metrics: MetricsConfig{},
	}
}

// ApplyDefaults fills zero-valued fields of cfg from Default.
func ApplyDefaults(cfg *Config) {
	d := Default()
	if cfg.Scoring.NS == 0 {
		cfg.Scoring.NS = d.Scoring.NS
	}
	if cfg.Scoring.Cutoff == 0 {
		cfg.Scoring.Cutoff = d.Scoring.Cutoff
	}
	if cfg.Search.Tasks == 0 {
		cfg.Search.Tasks = d.Search.Tasks
	}
	s, ds := &cfg.Search.Schedule, d.Search.Schedule
	if s.T0 == 0 {
		s.T0 = ds.T0
	}
	if s.T1 == 0 {
		s.T1 = ds.T1
	}
	if s.StepTranslation == 0 {
		s.StepTranslation = ds.StepTranslation
	}
	if s.StepRotation == 0 {
		s.StepRotation = ds.StepRotation
	}
	if s.StepTorsion == 0 {
		s.StepTorsion = ds.StepTorsion
	}
	if s.InitAttempts == 0 {
		s.InitAttempts = ds.InitAttempts
	}
	if cfg.Device.Platform == "" {
		cfg.Device.Platform = d.Device.Platform
	}
	if cfg.Store.TableCache == "" {
		cfg.Store.TableCache = d.Store.TableCache
	}
	if cfg.Store.OutDir == "" {
		cfg.Store.OutDir = d.Store.OutDir
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = d.Log.Format
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Scoring.NS <= 0 {
		errs = append(errs, fmt.Errorf("scoring.ns must be positive, got %d", c.Scoring.NS))
	}
	if c.Scoring.Cutoff <= 0 {
		errs = append(errs, fmt.Errorf("scoring.cutoff must be positive, got %g", c.Scoring.Cutoff))
	}
	if c.Scoring.Workers < 0 || c.Device.Workers < 0 || c.Device.MemoryWords < 0 {
		errs = append(errs, errors.New("worker counts and memory limits must not be negative"))
	}
	if c.Search.Tasks <= 0 {
		errs = append(errs, fmt.Errorf("search.tasks must be positive, got %d", c.Search.Tasks))
	}
	if c.Search.Generations < 0 {
		errs = append(errs, fmt.Errorf("search.generations must not be negative, got %d", c.Search.Generations))
	}
	if err := c.Search.Schedule.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("search.schedule: %w", err))
	}
	if c.Device.Platform != PlatformHost {
		errs = append(errs, fmt.Errorf("device.platform %q is not available, use %q", c.Device.Platform, PlatformHost))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}
