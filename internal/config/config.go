// Package config loads fleet.yaml: static tables and tunables for the
// dispatcher's retry policy, the oscillator's coupling constants, the
// swarm geometry's force caps, and the crawl coordinator's rate limits.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RetryConfig tunes the task dispatcher's AutoRetrigger policy.
type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	Multiplier float64       `yaml:"multiplier"`
	MaxRetries int           `yaml:"max_retries"`
}

// OscillatorConfig tunes the oscillator bus's Kuramoto coupling.
type OscillatorConfig struct {
	CouplingRadius      float64 `yaml:"coupling_radius"`
	MinTrustForCoupling float64 `yaml:"min_trust_for_coupling"`
	CouplingStrength    float64 `yaml:"coupling_strength"`
	MaxFrequency        float64 `yaml:"max_frequency"`
}

// GeometryConfig tunes the swarm geometry's force weight ceilings and
// speed cap.
type GeometryConfig struct {
	MaxAlpha          float64 `yaml:"max_alpha"`
	MaxBeta           float64 `yaml:"max_beta"`
	MaxGamma          float64 `yaml:"max_gamma"`
	MaxDelta          float64 `yaml:"max_delta"`
	MaxSpeed          float64 `yaml:"max_speed"`
	SeparationRadius  float64 `yaml:"separation_radius"`
	MinSeparation     float64 `yaml:"min_separation"`
}

// CrawlConfig tunes the crawl coordinator's frontier and safety scoring.
type CrawlConfig struct {
	DomainRateLimit    time.Duration `yaml:"domain_rate_limit"`
	MaxRetries         int           `yaml:"max_retries"`
	MinSafetyScore     float64       `yaml:"min_safety_score"`
	SuccessRecovery    float64       `yaml:"success_recovery"`
	FailurePenalty     float64       `yaml:"failure_penalty"`
}

// Config is the top-level fleet.yaml shape.
type Config struct {
	Retry      RetryConfig      `yaml:"retry"`
	Oscillator OscillatorConfig `yaml:"oscillator"`
	Geometry   GeometryConfig   `yaml:"geometry"`
	Crawl      CrawlConfig      `yaml:"crawl"`
}

// Default returns the built-in defaults, used when no fleet.yaml is
// present or a field is left unset.
func Default() Config {
	return Config{
		Retry: RetryConfig{
			BaseDelay:  time.Second,
			Multiplier: 2.0,
			MaxRetries: 5,
		},
		Oscillator: OscillatorConfig{
			CouplingRadius:      10,
			MinTrustForCoupling: 0.2,
			CouplingStrength:    2,
			MaxFrequency:        20,
		},
		Geometry: GeometryConfig{
			MaxAlpha:         2.0,
			MaxBeta:          3.0,
			MaxGamma:         2.5,
			MaxDelta:         1.0,
			MaxSpeed:         5.0,
			SeparationRadius: 2.0,
			MinSeparation:    0.5,
		},
		Crawl: CrawlConfig{
			DomainRateLimit: time.Second,
			MaxRetries:      3,
			MinSafetyScore:  0.3,
			SuccessRecovery: 0.1,
			FailurePenalty:  0.2,
		},
	}
}

// Load reads and parses fleet.yaml at path, overlaying it onto the
// defaults so a partial file only overrides what it specifies.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
