package config

import "time"

// Config is the root configuration structure for the Vesta engine.
type Config struct {
	// Cache contains the tier sizing and TTL configuration.
	Cache CacheConfig `yaml:"cache"`

	// Store contains the authoritative configuration store settings.
	Store StoreConfig `yaml:"store"`

	// Secrets contains key-management and envelope-encryption settings.
	Secrets SecretsConfig `yaml:"secrets"`

	// Rotation contains the secret rotation scheduler settings.
	Rotation RotationConfig `yaml:"rotation"`

	// Audit contains the tamper-evident audit chain settings.
	Audit AuditConfig `yaml:"audit"`

	// Environments declares the environment inheritance graph.
	Environments EnvironmentsConfig `yaml:"environments"`

	// Telemetry contains logging and metrics settings.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// CacheConfig sizes the cache tiers.
type CacheConfig struct {
	// L1Capacity is the maximum entry count of the in-process tier.
	// Default: 1024
	L1Capacity int `yaml:"l1_capacity"`

	// L1TTL is the in-process tier TTL.
	// Default: 30s
	L1TTL time.Duration `yaml:"l1_ttl"`

	// L2TTL is the shared tier TTL.
	// Default: 5m
	L2TTL time.Duration `yaml:"l2_ttl"`

	// L3Path is the SQLite file backing the persistent tier. Empty
	// disables the persistent tier.
	L3Path string `yaml:"l3_path"`

	// L3Capacity is the maximum entry count of the persistent tier.
	// Default: 100000
	L3Capacity int `yaml:"l3_capacity"`

	// L3TTL is the persistent tier TTL.
	// Default: 1h
	L3TTL time.Duration `yaml:"l3_ttl"`
}

// StoreConfig locates the authoritative configuration store.
type StoreConfig struct {
	// Path is the SQLite file holding configuration versions.
	// Default: "vesta.db"
	Path string `yaml:"path"`
}

// SecretsConfig configures envelope encryption.
type SecretsConfig struct {
	// Provider selects the key manager. Currently "local".
	// Default: "local"
	Provider string `yaml:"provider"`

	// SeedFile is a file holding the master seed KEKs are derived
	// from. Required for the local provider.
	SeedFile string `yaml:"seed_file"`

	// KEKID is the key-encryption key used to seal new sensitive
	// writes.
	// Default: "primary"
	KEKID string `yaml:"kek_id"`

	// AllowedKEKs optionally restricts which KEK ids may be used.
	// Empty allows any.
	AllowedKEKs []string `yaml:"allowed_keks"`
}

// RotationConfig configures the rotation scheduler.
type RotationConfig struct {
	// Enabled turns the scheduler on.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Schedule is the cron expression for the rotation scan.
	// Default: "@hourly"
	Schedule string `yaml:"schedule"`

	// Poll is how often in-flight rotations are advanced through
	// their state machine.
	// Default: 30s
	Poll time.Duration `yaml:"poll"`

	// GracePeriod is how long old and new secret versions stay valid
	// together.
	// Default: 24h
	GracePeriod time.Duration `yaml:"grace_period"`
}

// AuditConfig configures the audit chain.
type AuditConfig struct {
	// Backend selects the storage: "sqlite" or "memory".
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite file for the sqlite backend.
	// Default: "vesta-audit.db"
	Path string `yaml:"path"`

	// ChainName identifies the logical chain.
	// Default: "default"
	ChainName string `yaml:"chain_name"`

	// SigningSeedFile holds the 32-byte Ed25519 seed used to sign
	// checkpoints. Empty generates an ephemeral key at startup, which
	// makes checkpoints unverifiable across restarts.
	SigningSeedFile string `yaml:"signing_seed_file"`

	// CheckpointEvery seals a checkpoint after this many records.
	// Default: 100
	CheckpointEvery int `yaml:"checkpoint_every"`

	// CheckpointInterval seals a checkpoint after this much time even
	// if fewer records arrived.
	// Default: 1h
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"`

	// RetryWindow bounds how long a synchronous audit append retries
	// before the caller is told.
	// Default: 10s
	RetryWindow time.Duration `yaml:"retry_window"`
}

// EnvironmentsConfig declares the inheritance graph, either inline or
// in an external file that can be watched for changes.
type EnvironmentsConfig struct {
	// File is a YAML file declaring the environments. Takes
	// precedence over Inline when set.
	File string `yaml:"file"`

	// Watch reloads File on change.
	// Default: false
	Watch bool `yaml:"watch"`

	// Inline declares the environments directly.
	// Default: base, dev(base), staging(base), production(staging)
	Inline []EnvironmentConfig `yaml:"inline"`
}

// EnvironmentConfig is one environment declaration.
type EnvironmentConfig struct {
	Name     string `yaml:"name"`
	Inherits string `yaml:"inherits"`
}

// TelemetryConfig contains observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: "info"
	Level string `yaml:"level"`

	// Format is "json" or "text".
	// Default: "json"
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled turns the /metrics endpoint on.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the metrics listener address.
	// Default: "127.0.0.1:9465"
	ListenAddress string `yaml:"listen_address"`
}
