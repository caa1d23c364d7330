package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evermem/evermem/internal/ledger"
)

// decayPolicyFile is the YAML shape of a decay policy override.
// Durations are whole days; omitted fields keep their defaults.
type decayPolicyFile struct {
	StableDays     int                `yaml:"stable_days"`
	SemiStableDays int                `yaml:"semi_stable_days"`
	VolatileDays   int                `yaml:"volatile_days"`
	EventDays      int                `yaml:"event_days"`
	LevelFactors   map[string]float64 `yaml:"level_factors"`
	CategoryDays   map[string]int     `yaml:"category_days"`
	LowConfidence  float64            `yaml:"low_confidence"`
	ReviewDays     int                `yaml:"review_days"`
}

// loadDecayPolicy returns the default policy, overridden by the YAML
// file named in EVERMEM_DECAY_POLICY when set.
func loadDecayPolicy() (ledger.DecayPolicy, error) {
	policy := ledger.DefaultDecayPolicy

	path := os.Getenv("EVERMEM_DECAY_POLICY")
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("decay policy %s: %w", path, err)
	}

	var file decayPolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return policy, fmt.Errorf("decay policy %s: %w", path, err)
	}

	days := func(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

	if file.StableDays > 0 {
		policy.StableAge = days(file.StableDays)
	}
	if file.SemiStableDays > 0 {
		policy.SemiStableAge = days(file.SemiStableDays)
	}
	if file.VolatileDays > 0 {
		policy.VolatileAge = days(file.VolatileDays)
	}
	if file.EventDays > 0 {
		policy.EventAge = days(file.EventDays)
	}
	if file.LowConfidence > 0 {
		policy.LowConfidence = file.LowConfidence
	}
	if file.ReviewDays > 0 {
		policy.ReviewWindow = days(file.ReviewDays)
	}

	if len(file.LevelFactors) > 0 {
		factors := make(map[ledger.Level]float64, len(file.LevelFactors))
		for k, v := range ledger.DefaultDecayPolicy.LevelFactors {
			factors[k] = v
		}
		for k, v := range file.LevelFactors {
			if v > 0 {
				factors[ledger.Level(k)] = v
			}
		}
		policy.LevelFactors = factors
	}

	if len(file.CategoryDays) > 0 {
		overrides := make(map[ledger.Category]time.Duration, len(file.CategoryDays))
		for k, v := range file.CategoryDays {
			if v > 0 {
				overrides[ledger.Category(k)] = days(v)
			}
		}
		policy.CategoryOverrides = overrides
	}

	return policy, nil
}
