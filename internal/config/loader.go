package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// #region load
// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse parses a Config from YAML bytes and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// #endregion load

// #region validate
func validate(cfg *Config) error {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if cfg.Simulator.Addr == "" {
		return fmt.Errorf("simulator.addr is required")
	}

	if err := cfg.SweepPlan().Validate(); err != nil {
		return fmt.Errorf("sweep.plan: %w", err)
	}
	if err := cfg.Thresholds().Validate(); err != nil {
		return fmt.Errorf("targets: %w", err)
	}
	if cfg.Sweep != nil {
		if cfg.Sweep.MaxPeriodDriftNM < 0 {
			return fmt.Errorf("sweep.max_period_drift_nm cannot be negative")
		}
		if cfg.Sweep.MaxFineStepNM < 0 {
			return fmt.Errorf("sweep.max_fine_step_nm cannot be negative")
		}
	}
	return nil
}

// #endregion validate
