package config

import "time"

// ApplyDefaults fills zero-valued fields with their documented
// defaults. It is called by LoadConfig before validation.
func ApplyDefaults(cfg *Config) {
	applyCacheDefaults(&cfg.Cache)
	applyStoreDefaults(&cfg.Store)
	applySecretsDefaults(&cfg.Secrets)
	applyRotationDefaults(&cfg.Rotation)
	applyAuditDefaults(&cfg.Audit)
	applyEnvironmentsDefaults(&cfg.Environments)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyCacheDefaults(c *CacheConfig) {
	if c.L1Capacity == 0 {
		c.L1Capacity = 1024
	}
	if c.L1TTL == 0 {
		c.L1TTL = 30 * time.Second
	}
	if c.L2TTL == 0 {
		c.L2TTL = 5 * time.Minute
	}
	if c.L3Capacity == 0 {
		c.L3Capacity = 100000
	}
	if c.L3TTL == 0 {
		c.L3TTL = time.Hour
	}
}

func applyStoreDefaults(c *StoreConfig) {
	if c.Path == "" {
		c.Path = "vesta.db"
	}
}

func applySecretsDefaults(c *SecretsConfig) {
	if c.Provider == "" {
		c.Provider = "local"
	}
	if c.KEKID == "" {
		c.KEKID = "primary"
	}
}

func applyRotationDefaults(c *RotationConfig) {
	if c.Schedule == "" {
		c.Schedule = "@hourly"
	}
	if c.Poll == 0 {
		c.Poll = 30 * time.Second
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = 24 * time.Hour
	}
}

func applyAuditDefaults(c *AuditConfig) {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		c.Path = "vesta-audit.db"
	}
	if c.ChainName == "" {
		c.ChainName = "default"
	}
	if c.CheckpointEvery == 0 {
		c.CheckpointEvery = 100
	}
	if c.CheckpointInterval == 0 {
		c.CheckpointInterval = time.Hour
	}
	if c.RetryWindow == 0 {
		c.RetryWindow = 10 * time.Second
	}
}

func applyEnvironmentsDefaults(c *EnvironmentsConfig) {
	if c.File == "" && len(c.Inline) == 0 {
		c.Inline = []EnvironmentConfig{
			{Name: "base"},
			{Name: "dev", Inherits: "base"},
			{Name: "staging", Inherits: "base"},
			{Name: "production", Inherits: "staging"},
		}
	}
}

func applyTelemetryDefaults(c *TelemetryConfig) {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = "127.0.0.1:9465"
		c.Metrics.Enabled = true
	}
}
