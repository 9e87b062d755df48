// Vesta is a centralized configuration and secrets engine.
//
// It resolves hierarchical configuration values through an
// environment inheritance chain, protects sensitive values with
// envelope encryption, serves reads through a multi-tier cache with
// broadcast invalidation, and records every access and mutation in a
// tamper-evident hash-chained audit trail.
//
// Usage:
//
//	# Start the engine with default configuration
//	vesta run
//
//	# Resolve a value
//	vesta get app/web timeout --env production
//
//	# Write a value
//	vesta set app/web timeout 30 --env production --actor alice
//
//	# Write a secret
//	vesta set app/db password db-pass-123 --env production --sensitive
//
//	# Show version history
//	vesta history app/web timeout --env production
//
//	# Restore an earlier version
//	vesta rollback app/web timeout 3 --env production
//
//	# Verify the audit chain
//	vesta verify-audit
package main

func main() {
	Execute()
}
