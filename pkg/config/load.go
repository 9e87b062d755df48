package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file, applies defaults,
// and validates. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and
// applies VESTA_SECTION_FIELD environment variable overrides (e.g.
// VESTA_STORE_PATH). Environment variables take precedence over the
// file.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Cache overrides
	if val := os.Getenv("VESTA_CACHE_L1_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Cache.L1Capacity = n
		}
	}
	if val := os.Getenv("VESTA_CACHE_L1_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.L1TTL = d
		}
	}
	if val := os.Getenv("VESTA_CACHE_L2_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.L2TTL = d
		}
	}
	if val := os.Getenv("VESTA_CACHE_L3_PATH"); val != "" {
		cfg.Cache.L3Path = val
	}
	if val := os.Getenv("VESTA_CACHE_L3_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Cache.L3TTL = d
		}
	}

	// Store overrides
	if val := os.Getenv("VESTA_STORE_PATH"); val != "" {
		cfg.Store.Path = val
	}

	// Secrets overrides
	if val := os.Getenv("VESTA_SECRETS_SEED_FILE"); val != "" {
		cfg.Secrets.SeedFile = val
	}
	if val := os.Getenv("VESTA_SECRETS_KEK_ID"); val != "" {
		cfg.Secrets.KEKID = val
	}

	// Rotation overrides
	if val := os.Getenv("VESTA_ROTATION_ENABLED"); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			cfg.Rotation.Enabled = b
		}
	}
	if val := os.Getenv("VESTA_ROTATION_SCHEDULE"); val != "" {
		cfg.Rotation.Schedule = val
	}

	// Audit overrides
	if val := os.Getenv("VESTA_AUDIT_BACKEND"); val != "" {
		cfg.Audit.Backend = val
	}
	if val := os.Getenv("VESTA_AUDIT_PATH"); val != "" {
		cfg.Audit.Path = val
	}
	if val := os.Getenv("VESTA_AUDIT_SIGNING_SEED_FILE"); val != "" {
		cfg.Audit.SigningSeedFile = val
	}

	// Telemetry overrides
	if val := os.Getenv("VESTA_TELEMETRY_LOG_LEVEL"); val != "" {
		cfg.Telemetry.Logging.Level = val
	}
	if val := os.Getenv("VESTA_TELEMETRY_LOG_FORMAT"); val != "" {
		cfg.Telemetry.Logging.Format = val
	}
	if val := os.Getenv("VESTA_TELEMETRY_METRICS_LISTEN_ADDRESS"); val != "" {
		cfg.Telemetry.Metrics.ListenAddress = val
	}
}

// LoadEnvironmentsFile reads an environments declaration file. The
// file holds a single `environments:` list of name/inherits pairs.
func LoadEnvironmentsFile(path string) ([]EnvironmentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read environments file %q: %w", path, err)
	}

	var doc struct {
		Environments []EnvironmentConfig `yaml:"environments"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse environments file %q: %w", path, err)
	}
	if len(doc.Environments) == 0 {
		return nil, fmt.Errorf("environments file %q declares no environments", path)
	}
	return doc.Environments, nil
}
