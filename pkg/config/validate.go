package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific
// configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g., "cache.l1_capacity").
	Field string

	// Message is a human-readable error message.
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every validation failure in a
// configuration.
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:\n", len(e.Errors))
	for _, err := range e.Errors {
		fmt.Fprintf(&sb, "  - %s\n", err.Error())
	}
	return sb.String()
}

// Validate checks the entire configuration and returns a
// ValidationError listing every problem, or nil.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateSecrets(&cfg.Secrets)...)
	errs = append(errs, validateRotation(&cfg.Rotation)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateEnvironments(&cfg.Environments)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateCache(c *CacheConfig) []FieldError {
	var errs []FieldError
	if c.L1Capacity < 0 {
		errs = append(errs, FieldError{"cache.l1_capacity", "must be positive"})
	}
	if c.L1TTL < 0 || c.L2TTL < 0 || c.L3TTL < 0 {
		errs = append(errs, FieldError{"cache", "TTLs must be positive"})
	}
	if c.L3Capacity < 0 {
		errs = append(errs, FieldError{"cache.l3_capacity", "must be positive"})
	}
	return errs
}

func validateSecrets(c *SecretsConfig) []FieldError {
	var errs []FieldError
	if c.Provider != "local" {
		errs = append(errs, FieldError{"secrets.provider", fmt.Sprintf("unknown provider %q", c.Provider)})
	}
	if c.Provider == "local" && c.SeedFile == "" {
		errs = append(errs, FieldError{"secrets.seed_file", "required for the local provider"})
	}
	if c.KEKID == "" {
		errs = append(errs, FieldError{"secrets.kek_id", "must not be empty"})
	}
	return errs
}

func validateRotation(c *RotationConfig) []FieldError {
	var errs []FieldError
	if !c.Enabled {
		return nil
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, FieldError{"rotation.schedule", fmt.Sprintf("invalid cron expression: %v", err)})
	}
	if c.Poll <= 0 {
		errs = append(errs, FieldError{"rotation.poll", "must be positive"})
	}
	if c.GracePeriod <= 0 {
		errs = append(errs, FieldError{"rotation.grace_period", "must be positive"})
	}
	return errs
}

func validateAudit(c *AuditConfig) []FieldError {
	var errs []FieldError
	switch c.Backend {
	case "sqlite":
		if c.Path == "" {
			errs = append(errs, FieldError{"audit.path", "required for the sqlite backend"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{"audit.backend", fmt.Sprintf("must be sqlite or memory, got %q", c.Backend)})
	}
	if c.CheckpointEvery < 0 {
		errs = append(errs, FieldError{"audit.checkpoint_every", "must be positive"})
	}
	return errs
}

func validateEnvironments(c *EnvironmentsConfig) []FieldError {
	var errs []FieldError
	if c.File == "" && len(c.Inline) == 0 {
		errs = append(errs, FieldError{"environments", "declare environments inline or via file"})
	}
	if c.Watch && c.File == "" {
		errs = append(errs, FieldError{"environments.watch", "requires environments.file"})
	}
	// Graph shape (unknown parents, cycles) is checked where the graph
	// is built; here only the declaration form is validated.
	for i, env := range c.Inline {
		if env.Name == "" {
			errs = append(errs, FieldError{fmt.Sprintf("environments.inline[%d].name", i), "must not be empty"})
		}
	}
	return errs
}

func validateTelemetry(c *TelemetryConfig) []FieldError {
	var errs []FieldError
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"telemetry.logging.level", fmt.Sprintf("must be debug, info, warn, or error, got %q", c.Logging.Level)})
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"telemetry.logging.format", fmt.Sprintf("must be json or text, got %q", c.Logging.Format)})
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		errs = append(errs, FieldError{"telemetry.metrics.listen_address", "required when metrics are enabled"})
	}
	return errs
}
