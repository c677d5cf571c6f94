// Package config loads evolution settings with the priority
// environment > YAML file > defaults. Environment variables use the
// EVOLVE_ prefix (EVOLVE_POPULATION_SIZE, EVOLVE_ELITE_RATIO, ...).
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "EVOLVE_"

// Config holds the tunables of the evolution loop and its store.
type Config struct {
	// PopulationSize is the maximum number of live strategies.
	PopulationSize int `yaml:"population_size" validate:"gte=10"`
	// ArchiveSize is the number of top performers protected from pruning.
	ArchiveSize int `yaml:"archive_size" validate:"gte=1,ltfield=PopulationSize"`
	// EliteRatio is the share of iterations that sample from the elite.
	EliteRatio float64 `yaml:"elite_ratio" validate:"gte=0,lte=1"`
	// ExplorationRatio is the share of iterations that sample uniformly.
	ExplorationRatio float64 `yaml:"exploration_ratio" validate:"gte=0,lte=1"`
	// MaxConcurrent caps parallel evaluations.
	MaxConcurrent int `yaml:"max_concurrent" validate:"gte=1"`
}

func Default() Config {
	return Config{
		PopulationSize:   500,
		ArchiveSize:      50,
		EliteRatio:       0.1,
		ExplorationRatio: 0.2,
		MaxConcurrent:    2,
	}
}

// Load reads the optional YAML file at path, applies EVOLVE_* environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and the cross-field constraints: archive
// below population, selection ratios summing to at most 1.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.EliteRatio+c.ExplorationRatio > 1.0 {
		return fmt.Errorf("invalid config: elite_ratio %.2f + exploration_ratio %.2f must be <= 1.0",
			c.EliteRatio, c.ExplorationRatio)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if err := envInt("POPULATION_SIZE", &cfg.PopulationSize); err != nil {
		return err
	}
	if err := envInt("ARCHIVE_SIZE", &cfg.ArchiveSize); err != nil {
		return err
	}
	if err := envFloat("ELITE_RATIO", &cfg.EliteRatio); err != nil {
		return err
	}
	if err := envFloat("EXPLORATION_RATIO", &cfg.ExplorationRatio); err != nil {
		return err
	}
	return envInt("MAX_CONCURRENT", &cfg.MaxConcurrent)
}

func envInt(name string, target *int) error {
	raw, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	*target = value
	return nil
}

func envFloat(name string, target *float64) error {
	raw, ok := os.LookupEnv(envPrefix + name)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("parse %s%s: %w", envPrefix, name, err)
	}
	*target = value
	return nil
}
