package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.PopulationSize != 500 || cfg.ArchiveSize != 50 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolve.yaml")
	content := "population_size: 100\narchive_size: 10\nelite_ratio: 0.2\nexploration_ratio: 0.3\nmax_concurrent: 4\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PopulationSize != 100 || cfg.ArchiveSize != 10 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.EliteRatio != 0.2 || cfg.ExplorationRatio != 0.3 || cfg.MaxConcurrent != 4 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadPartialYAMLKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolve.yaml")
	if err := os.WriteFile(path, []byte("population_size: 200\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PopulationSize != 200 {
		t.Fatalf("population = %d, want 200", cfg.PopulationSize)
	}
	if cfg.ArchiveSize != 50 || cfg.MaxConcurrent != 2 {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolve.yaml")
	if err := os.WriteFile(path, []byte("population_size: 100\narchive_size: 10\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("EVOLVE_POPULATION_SIZE", "300")
	t.Setenv("EVOLVE_ELITE_RATIO", "0.25")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PopulationSize != 300 {
		t.Fatalf("env did not override file: population = %d", cfg.PopulationSize)
	}
	if cfg.ArchiveSize != 10 {
		t.Fatalf("file value lost: archive = %d", cfg.ArchiveSize)
	}
	if cfg.EliteRatio != 0.25 {
		t.Fatalf("env did not override default: elite = %v", cfg.EliteRatio)
	}
}

func TestBadEnvValue(t *testing.T) {
	t.Setenv("EVOLVE_POPULATION_SIZE", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"population too small", func(c *Config) { c.PopulationSize = 5 }},
		{"archive zero", func(c *Config) { c.ArchiveSize = 0 }},
		{"archive not below population", func(c *Config) { c.ArchiveSize = c.PopulationSize }},
		{"elite ratio above one", func(c *Config) { c.EliteRatio = 1.5 }},
		{"negative exploration ratio", func(c *Config) { c.ExplorationRatio = -0.1 }},
		{"ratios sum above one", func(c *Config) { c.EliteRatio = 0.6; c.ExplorationRatio = 0.6 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
