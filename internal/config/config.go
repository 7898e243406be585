// Package config loads simulation settings from a YAML file.
// Every field has a default so a missing file still yields a runnable colony.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Band maps a settlement population ceiling to a value. Bands are checked in
// order; the first band whose MaxPopulation is >= the population applies and
// a MaxPopulation of 0 matches everything.
type Band struct {
	MaxPopulation int `yaml:"max_population"`
	Value         int `yaml:"value"`
}

// PulseConfig controls the pulse source.
type PulseConfig struct {
	MillisolsPerPulse float64 `yaml:"millisols_per_pulse"`
	IntervalMillis    int     `yaml:"interval_millis"`
}

// SchedulerConfig controls per-agent task selection.
type SchedulerConfig struct {
	RebuildWindow float64 `yaml:"rebuild_window"` // millisols
	HistorySols   int     `yaml:"history_sols"`
	MaxPending    int     `yaml:"max_pending"`
	WhimPeriod    float64 `yaml:"whim_period"` // millisols per noise unit
}

// RewardConfig is the experience handed out when a mission is accomplished.
type RewardConfig struct {
	Lead      float64 `yaml:"lead"`
	Member    float64 `yaml:"member"`
	IllFactor float64 `yaml:"ill_factor"`
}

// MissionConfig controls recruitment, review and phase randomization.
type MissionConfig struct {
	MinMembers        int          `yaml:"min_members"`
	CeilingDropChance float64      `yaml:"ceiling_drop_chance"`
	RecruitBands      []Band       `yaml:"recruit_bands"`
	ReviewerBands     []Band       `yaml:"reviewer_bands"`
	ReviewThreshold   float64      `yaml:"review_threshold"`
	RequiredReviews   int          `yaml:"required_reviews"`
	SiteCountWeights  []float64    `yaml:"site_count_weights"`
	StartChancePerSol float64      `yaml:"start_chance_per_sol"`
	Reward            RewardConfig `yaml:"reward"`
}

// SettlementConfig seeds one settlement.
type SettlementConfig struct {
	Name     string `yaml:"name"`
	Persons  int    `yaml:"persons"`
	Robots   int    `yaml:"robots"`
	Vehicles int    `yaml:"vehicles"`
}

// Config is the root document.
type Config struct {
	Seed        int64              `yaml:"seed"`
	DBPath      string             `yaml:"db_path"`
	APIPort     int                `yaml:"api_port"`
	Pulse       PulseConfig        `yaml:"pulse"`
	Scheduler   SchedulerConfig    `yaml:"scheduler"`
	Mission     MissionConfig      `yaml:"mission"`
	Settlements []SettlementConfig `yaml:"settlements"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Seed:    42,
		DBPath:  "data/colony.db",
		APIPort: 8080,
		Pulse: PulseConfig{
			MillisolsPerPulse: 1,
			IntervalMillis:    100,
		},
		Scheduler: SchedulerConfig{
			RebuildWindow: 5,
			HistorySols:   7,
			MaxPending:    10,
			WhimPeriod:    250,
		},
		Mission: MissionConfig{
			MinMembers:        2,
			CeilingDropChance: 0.5,
			RecruitBands: []Band{
				{MaxPopulation: 3, Value: 1},
				{MaxPopulation: 6, Value: 2},
				{MaxPopulation: 9, Value: 3},
				{MaxPopulation: 13, Value: 4},
				{MaxPopulation: 17, Value: 5},
				{MaxPopulation: 21, Value: 6},
				{MaxPopulation: 25, Value: 7},
				{MaxPopulation: 0, Value: 8},
			},
			ReviewerBands: []Band{
				{MaxPopulation: 3, Value: 5},
				{MaxPopulation: 6, Value: 4},
				{MaxPopulation: 10, Value: 3},
				{MaxPopulation: 0, Value: 2},
			},
			ReviewThreshold:   50,
			RequiredReviews:   2,
			SiteCountWeights:  []float64{0.2, 0.5, 0.3},
			StartChancePerSol: 0.5,
			Reward: RewardConfig{
				Lead:      2,
				Member:    1,
				IllFactor: 0.5,
			},
		},
		Settlements: []SettlementConfig{
			{Name: "Schiaparelli Point", Persons: 12, Robots: 3, Vehicles: 2},
			{Name: "Bradbury Base", Persons: 6, Robots: 2, Vehicles: 1},
		},
	}
}

// Load reads path over the defaults. A missing file returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise stall or crash the simulation.
func (c Config) Validate() error {
	var errs []error
	if c.Pulse.MillisolsPerPulse <= 0 {
		errs = append(errs, errors.New("pulse.millisols_per_pulse must be positive"))
	}
	if c.Scheduler.RebuildWindow < 0 {
		errs = append(errs, errors.New("scheduler.rebuild_window must not be negative"))
	}
	if c.Scheduler.HistorySols < 1 {
		errs = append(errs, errors.New("scheduler.history_sols must be at least 1"))
	}
	if c.Mission.MinMembers < 1 {
		errs = append(errs, errors.New("mission.min_members must be at least 1"))
	}
	if c.Mission.CeilingDropChance < 0 || c.Mission.CeilingDropChance > 1 {
		errs = append(errs, errors.New("mission.ceiling_drop_chance must be within [0, 1]"))
	}
	if len(c.Mission.RecruitBands) == 0 {
		errs = append(errs, errors.New("mission.recruit_bands must not be empty"))
	}
	if len(c.Mission.ReviewerBands) == 0 {
		errs = append(errs, errors.New("mission.reviewer_bands must not be empty"))
	}
	for i, w := range c.Mission.SiteCountWeights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("mission.site_count_weights[%d] must not be negative", i))
		}
	}
	for i, s := range c.Settlements {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("settlements[%d].name is required", i))
		}
		if s.Persons < 0 || s.Robots < 0 || s.Vehicles < 0 {
			errs = append(errs, fmt.Errorf("settlements[%d] counts must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the value of the first band matching population.
func Lookup(bands []Band, population int) int {
	for _, b := range bands {
		if b.MaxPopulation == 0 || population <= b.MaxPopulation {
			return b.Value
		}
	}
	if len(bands) == 0 {
		return 0
	}
	return bands[len(bands)-1].Value
}
