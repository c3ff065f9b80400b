package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "MCDOCK"

// newViper returns a viper instance reading YAML with MCDOCK_ env overrides.
// Every key is registered through a default so env vars resolve even when no
// file mentions them: search.tasks is MCDOCK_SEARCH_TASKS.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v, Default())
	return v
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("scoring.ns", d.Scoring.NS)
	v.SetDefault("scoring.cutoff", d.Scoring.Cutoff)
	v.SetDefault("scoring.workers", d.Scoring.Workers)

	v.SetDefault("search.tasks", d.Search.Tasks)
	v.SetDefault("search.generations", d.Search.Generations)
	v.SetDefault("search.seed", d.Search.Seed)
	v.SetDefault("search.reseed_per_launch", d.Search.ReseedPerLaunch)
	v.SetDefault("search.schedule.t0", d.Search.Schedule.T0)
	v.SetDefault("search.schedule.t1", d.Search.Schedule.T1)
	v.SetDefault("search.schedule.step_translation", d.Search.Schedule.StepTranslation)
	v.SetDefault("search.schedule.step_rotation", d.Search.Schedule.StepRotation)
	v.SetDefault("search.schedule.step_torsion", d.Search.Schedule.StepTorsion)
	v.SetDefault("search.schedule.init_attempts", d.Search.Schedule.InitAttempts)

	v.SetDefault("device.platform", d.Device.Platform)
	v.SetDefault("device.workers", d.Device.Workers)
	v.SetDefault("device.memory_words", d.Device.MemoryWords)

	v.SetDefault("store.table_cache", d.Store.TableCache)
	v.SetDefault("store.out_dir", d.Store.OutDir)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("metrics.addr", d.Metrics.Addr)
}

// Load reads the YAML file at path, applies MCDOCK_* overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from defaults and MCDOCK_* variables only.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
