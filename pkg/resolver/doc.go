// Package resolver is the read/write façade of the configuration
// engine. It resolves values through the environment inheritance
// chain and the cache tiers, opens sealed secrets on the way out,
// and funnels every mutation through schema validation, envelope
// encryption, optimistic version append, cache invalidation, and the
// audit chain.
package resolver
