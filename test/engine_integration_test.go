//go:build integration

package test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"meridian-hq/vesta/pkg/audit"
	"meridian-hq/vesta/pkg/cache"
	"meridian-hq/vesta/pkg/kms"
	"meridian-hq/vesta/pkg/resolver"
	"meridian-hq/vesta/pkg/secrets"
	"meridian-hq/vesta/pkg/store"
)

// engineFixture wires a SQLite-backed engine in a temp directory, the
// same shape cmd/vesta assembles from configuration.
type engineFixture struct {
	resolver *resolver.Resolver
	chain    *audit.Chain
	cache    *cache.Manager
	store    store.Store
	secrets  *secrets.Manager
	rotator  *secrets.Rotator
}

func buildEngine(t *testing.T, bus *cache.Bus, instance string, dir string) *engineFixture {
	t.Helper()

	envs, err := resolver.NewEnvironments([]resolver.EnvironmentSpec{
		{Name: "base"},
		{Name: "staging", Inherits: "base"},
		{Name: "production", Inherits: "base"},
	})
	if err != nil {
		t.Fatalf("environments: %v", err)
	}

	auditStorage, err := audit.NewSQLiteStorage(audit.SQLiteConfig{
		Path: filepath.Join(dir, "audit.db"),
	})
	if err != nil {
		t.Fatalf("audit storage: %v", err)
	}
	t.Cleanup(func() { auditStorage.Close() })

	signer, err := audit.NewSignerFromSeed([]byte("integration-test-signing-seed-32"))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	chain, err := audit.NewChain(auditStorage, signer, audit.ChainConfig{
		Name:            "integration",
		CheckpointEvery: 10,
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	t.Cleanup(func() { chain.Close() })

	l3, err := cache.NewL3(cache.L3Config{
		Path: filepath.Join(dir, instance+"-cache.db"),
	})
	if err != nil {
		t.Fatalf("l3: %v", err)
	}
	manager, err := cache.NewManager(cache.NewL1(64), bus, l3, cache.ManagerConfig{
		InstanceID: instance,
	})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { manager.Close() })

	configStore, err := store.NewSQLiteStore(filepath.Join(dir, "config.db"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { configStore.Close() })

	keys, err := kms.NewLocal(kms.LocalConfig{Seed: []byte("integration-master-seed")})
	if err != nil {
		t.Fatalf("kms: %v", err)
	}
	sm := secrets.NewManager(keys)

	r, err := resolver.New(resolver.Deps{
		Envs:    envs,
		Cache:   manager,
		Store:   configStore,
		Secrets: sm,
		Audit:   chain,
		KEKID:   "primary",
	})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	rotStore, err := secrets.NewSQLiteRotationStore(filepath.Join(dir, "config.db"))
	if err != nil {
		t.Fatalf("rotation store: %v", err)
	}
	t.Cleanup(func() { rotStore.Close() })

	rotator := secrets.NewRotator(rotStore, secrets.Hooks{
		Generate: func(ctx context.Context, secretID string) ([]byte, error) {
			return []byte("rotated-credential"), nil
		},
		StoreNewVersion: func(ctx context.Context, secretID string, plaintext []byte) (int64, error) {
			return r.Write(ctx, "app/db", "password", "production",
				store.StringValue(string(plaintext)), "rotation", resolver.WriteOptions{Sensitive: true})
		},
		RetireOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			return nil
		},
	})

	return &engineFixture{
		resolver: r,
		chain:    chain,
		cache:    manager,
		store:    configStore,
		secrets:  sm,
		rotator:  rotator,
	}
}

// TestEngineEndToEnd exercises the write, resolve, inherit, and audit
// path against the SQLite backends.
func TestEngineEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	bus := cache.NewBus()
	e := buildEngine(t, bus, "node-a", dir)
	ctx := context.Background()

	if _, err := e.resolver.Write(ctx, "app/web", "timeout", "base",
		store.NumberValue(30), "alice", resolver.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := e.resolver.Write(ctx, "app/web", "timeout", "production",
		store.NumberValue(60), "alice", resolver.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	rv, err := e.resolver.Resolve(ctx, "app/web", "timeout", "staging", "svc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rv.Value.Num != 30 || rv.SourceEnvironment != "base" {
		t.Errorf("staging resolved %g from %s, want 30 from base", rv.Value.Num, rv.SourceEnvironment)
	}

	rv, err = e.resolver.Resolve(ctx, "app/web", "timeout", "production", "svc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rv.Value.Num != 60 {
		t.Errorf("production resolved %g, want 60", rv.Value.Num)
	}

	res, err := e.chain.Verify(ctx)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid {
		t.Errorf("audit chain corrupted at %d", res.CorruptedAt)
	}
	if res.Checked == 0 {
		t.Error("audit chain has no records")
	}
}

// TestCrossInstanceInvalidation runs two engines over a shared bus and
// store; a write through one must evict the other's cached copy.
func TestCrossInstanceInvalidation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	bus := cache.NewBus()
	a := buildEngine(t, bus, "node-a", dir)

	ctx := context.Background()
	if _, err := a.resolver.Write(ctx, "app/web", "replicas", "production",
		store.NumberValue(4), "alice", resolver.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	bRes, err := resolver.New(resolver.Deps{
		Envs:  mustEnvs(t),
		Cache: mustManager(t, bus, "node-b", dir),
		Store: a.store,
		Audit: a.chain,
	})
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	// Warm node-b's cache, then write through node-a.
	if _, err := bRes.Resolve(ctx, "app/web", "replicas", "production", "svc"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := a.resolver.Write(ctx, "app/web", "replicas", "production",
		store.NumberValue(8), "alice", resolver.WriteOptions{}); err != nil {
		t.Fatalf("write: %v", err)
	}

	rv, err := bRes.Resolve(ctx, "app/web", "replicas", "production", "svc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rv.Value.Num != 8 {
		t.Errorf("node-b resolved stale value %g after invalidation", rv.Value.Num)
	}
}

// TestRotationEndToEnd rotates a sealed secret through the resolver
// and confirms the new plaintext resolves afterwards.
func TestRotationEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	dir := t.TempDir()
	e := buildEngine(t, cache.NewBus(), "node-a", dir)
	ctx := context.Background()

	v1, err := e.resolver.Write(ctx, "app/db", "password", "production",
		store.StringValue("initial-credential"), "alice", resolver.WriteOptions{Sensitive: true})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := e.rotator.Begin(ctx, "app/db/password@production", v1, 20*time.Millisecond); err != nil {
		t.Fatalf("begin: %v", err)
	}
	rot, err := e.rotator.Run(ctx, "app/db/password@production", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rot.State != secrets.StateRotated {
		t.Fatalf("rotation ended in %s, want %s", rot.State, secrets.StateRotated)
	}

	rv, err := e.resolver.Resolve(ctx, "app/db", "password", "production", "svc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if string(rv.Secret) != "rotated-credential" {
		t.Errorf("resolved plaintext %q, want rotated credential", rv.Secret)
	}
	if rv.Version != rot.NewVersion {
		t.Errorf("resolved version %d, want %d", rv.Version, rot.NewVersion)
	}
}

func mustEnvs(t *testing.T) *resolver.Environments {
	t.Helper()
	envs, err := resolver.NewEnvironments([]resolver.EnvironmentSpec{
		{Name: "base"},
		{Name: "staging", Inherits: "base"},
		{Name: "production", Inherits: "base"},
	})
	if err != nil {
		t.Fatalf("environments: %v", err)
	}
	return envs
}

func mustManager(t *testing.T, bus *cache.Bus, instance, dir string) *cache.Manager {
	t.Helper()
	l3, err := cache.NewL3(cache.L3Config{Path: filepath.Join(dir, instance+"-cache.db")})
	if err != nil {
		t.Fatalf("l3: %v", err)
	}
	m, err := cache.NewManager(cache.NewL1(64), bus, l3, cache.ManagerConfig{InstanceID: instance})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}
