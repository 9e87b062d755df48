// Package config defines the engine's YAML configuration: cache
// tiers, authoritative store, secrets and rotation, audit chain,
// environment inheritance, and telemetry.
//
// Loading follows a fixed sequence: parse YAML, apply defaults, apply
// VESTA_* environment variable overrides, validate. Validation
// collects every problem into a single ValidationError rather than
// stopping at the first.
package config
