package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"meridian-hq/vesta/pkg/audit"
	"meridian-hq/vesta/pkg/cache"
	"meridian-hq/vesta/pkg/cli"
	"meridian-hq/vesta/pkg/config"
	"meridian-hq/vesta/pkg/crypto"
	"meridian-hq/vesta/pkg/kms"
	"meridian-hq/vesta/pkg/resolver"
	"meridian-hq/vesta/pkg/secrets"
	"meridian-hq/vesta/pkg/store"
	"meridian-hq/vesta/pkg/telemetry/logging"
	"meridian-hq/vesta/pkg/telemetry/metrics"
)

// engine bundles the wired components behind the CLI commands.
type engine struct {
	cfg       *config.Config
	collector *metrics.Collector
	envs      *resolver.Environments
	chain     *audit.Chain
	cache     *cache.Manager
	store     store.Store
	secrets   *secrets.Manager
	resolver  *resolver.Resolver
	rotator   *secrets.Rotator
	rotStore  secrets.RotationStore

	closers []func() error
}

// buildEngine loads configuration and wires every component. The
// caller must Close the engine.
func buildEngine(cfgPath string) (*engine, error) {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgPath)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}

	logLevel := cfg.Telemetry.Logging.Level
	if verbose {
		logLevel = "debug"
	}
	if _, err := logging.Setup(logging.Config{
		Level:  logLevel,
		Format: cfg.Telemetry.Logging.Format,
	}); err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}

	e := &engine{cfg: cfg, collector: metrics.NewCollector()}

	if err := e.wire(); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *engine) wire() error {
	cfg := e.cfg

	envSpecs, err := loadEnvironmentSpecs(cfg)
	if err != nil {
		return err
	}
	e.envs, err = resolver.NewEnvironments(envSpecs)
	if err != nil {
		return cli.NewConfigError("environments", err.Error())
	}

	seed, err := os.ReadFile(cfg.Secrets.SeedFile)
	if err != nil {
		return cli.NewConfigError("secrets.seed_file", err.Error())
	}
	keys, err := kms.NewLocal(kms.LocalConfig{
		Seed:        seed,
		AllowedKEKs: cfg.Secrets.AllowedKEKs,
	})
	if err != nil {
		return cli.NewConfigError("secrets", err.Error())
	}
	e.secrets = secrets.NewManager(keys)

	if err := e.wireAudit(); err != nil {
		return err
	}
	if err := e.wireCache(); err != nil {
		return err
	}

	configStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open configuration store: %w", err)
	}
	e.store = configStore
	e.closers = append(e.closers, configStore.Close)

	e.resolver, err = resolver.New(resolver.Deps{
		Envs:     e.envs,
		Cache:    e.cache,
		Store:    e.store,
		Secrets:  e.secrets,
		Audit:    e.chain,
		Observer: e.collector.Resolver,
		KEKID:    cfg.Secrets.KEKID,
	})
	if err != nil {
		return err
	}

	rotStore, err := secrets.NewSQLiteRotationStore(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open rotation store: %w", err)
	}
	e.rotStore = rotStore
	e.closers = append(e.closers, rotStore.Close)
	e.rotator = secrets.NewRotator(rotStore, e.rotationHooks())

	return nil
}

func (e *engine) wireAudit() error {
	cfg := e.cfg

	var storage audit.Storage
	switch cfg.Audit.Backend {
	case "memory":
		storage = audit.NewMemoryStorage()
	default:
		s, err := audit.NewSQLiteStorage(audit.SQLiteConfig{Path: cfg.Audit.Path})
		if err != nil {
			return fmt.Errorf("open audit storage: %w", err)
		}
		storage = s
	}
	e.closers = append(e.closers, storage.Close)

	var signer *audit.Signer
	var err error
	if cfg.Audit.SigningSeedFile != "" {
		seed, rerr := os.ReadFile(cfg.Audit.SigningSeedFile)
		if rerr != nil {
			return cli.NewConfigError("audit.signing_seed_file", rerr.Error())
		}
		signer, err = audit.NewSignerFromSeed(seed)
	} else {
		slog.Warn("no audit signing seed configured, checkpoints will not verify across restarts")
		signer, err = audit.NewSigner()
	}
	if err != nil {
		return cli.NewConfigError("audit", err.Error())
	}

	if head, _, herr := storage.Head(context.Background(), cfg.Audit.ChainName); herr == nil {
		e.collector.Audit.SetChainLength(float64(head + 1))
	}

	subscriber := make(chan *audit.Record, 256)
	go func() {
		for rec := range subscriber {
			e.collector.Audit.RecordAppended(string(rec.Type))
		}
	}()

	chain, err := audit.NewChain(storage, signer, audit.ChainConfig{
		Name:               cfg.Audit.ChainName,
		CheckpointEvery:    cfg.Audit.CheckpointEvery,
		CheckpointInterval: cfg.Audit.CheckpointInterval,
		RetryWindow:        cfg.Audit.RetryWindow,
		Subscriber:         subscriber,
	})
	if err != nil {
		return fmt.Errorf("open audit chain: %w", err)
	}
	e.chain = chain
	e.closers = append(e.closers, chain.Close)
	return nil
}

func (e *engine) wireCache() error {
	cfg := e.cfg

	var l3 *cache.L3
	if cfg.Cache.L3Path != "" {
		var err error
		l3, err = cache.NewL3(cache.L3Config{
			Path:     cfg.Cache.L3Path,
			Capacity: cfg.Cache.L3Capacity,
		})
		if err != nil {
			return fmt.Errorf("open persistent cache tier: %w", err)
		}
	}

	mgr, err := cache.NewManager(
		cache.NewL1(cfg.Cache.L1Capacity),
		cache.NewBus(),
		l3,
		cache.ManagerConfig{
			L1TTL:    cfg.Cache.L1TTL,
			L2TTL:    cfg.Cache.L2TTL,
			L3TTL:    cfg.Cache.L3TTL,
			Observer: e.collector.Cache,
		},
	)
	if err != nil {
		return fmt.Errorf("build cache manager: %w", err)
	}
	e.cache = mgr
	e.closers = append(e.closers, mgr.Close)
	return nil
}

// rotationHooks adapts the resolver into the rotation state machine:
// new secret versions are random credentials sealed and written like
// any sensitive value, retirement invalidates cached copies, and
// reactivation is a version rollback.
func (e *engine) rotationHooks() secrets.Hooks {
	return secrets.Hooks{
		Generate: func(ctx context.Context, secretID string) ([]byte, error) {
			raw, err := crypto.GenerateKey()
			if err != nil {
				return nil, err
			}
			defer crypto.Zeroize(raw)
			value := base64.RawURLEncoding.EncodeToString(raw)
			return []byte(value), nil
		},
		StoreNewVersion: func(ctx context.Context, secretID string, plaintext []byte) (int64, error) {
			ns, key, env, err := parseSecretID(secretID)
			if err != nil {
				return 0, err
			}
			return e.resolver.Write(ctx, ns, key, env,
				store.StringValue(string(plaintext)), "rotation",
				resolver.WriteOptions{Sensitive: true})
		},
		RetireOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			ns, key, env, err := parseSecretID(secretID)
			if err != nil {
				return err
			}
			for _, dep := range e.envs.Dependents(env) {
				if err := e.cache.Invalidate(ctx, cache.Key(ns, key, dep)); err != nil {
					return err
				}
			}
			return nil
		},
		ReactivateOldVersion: func(ctx context.Context, secretID string, oldVersion int64) error {
			if oldVersion == 0 {
				return nil
			}
			ns, key, env, err := parseSecretID(secretID)
			if err != nil {
				return err
			}
			_, err = e.resolver.Rollback(ctx, ns, key, env, oldVersion, "rotation")
			return err
		},
		Alert: func(secretID string, cause error) {
			slog.Error("rotation rolled back", "secret_id", secretID, "error", cause)
		},
		Transition: func(secretID string, state secrets.RotationState) {
			if state == secrets.StateScheduled {
				e.collector.Rotation.RotationStarted()
			}
			e.collector.Rotation.RecordTransition(string(state), state.Terminal())
			e.chain.AppendAsync(audit.NewRecord(
				audit.EventRotation, "rotation", secretID, "transition", string(state), uuid.NewString()))
		},
	}
}

// applyEnvironments swaps in a reloaded environments declaration. The
// resolver sees the new graph immediately; an invalid declaration is
// rejected and the old graph stays live.
func (e *engine) applyEnvironments(decls []config.EnvironmentConfig) error {
	specs := make([]resolver.EnvironmentSpec, len(decls))
	for i, d := range decls {
		specs[i] = resolver.EnvironmentSpec{Name: d.Name, Inherits: d.Inherits}
	}
	return e.envs.Update(specs)
}

// Close releases all wired components in reverse order.
func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			slog.Warn("component close failed", "error", err)
		}
	}
}

func loadEnvironmentSpecs(cfg *config.Config) ([]resolver.EnvironmentSpec, error) {
	var decls []config.EnvironmentConfig
	if cfg.Environments.File != "" {
		loaded, err := config.LoadEnvironmentsFile(cfg.Environments.File)
		if err != nil {
			return nil, cli.NewConfigError("environments.file", err.Error())
		}
		decls = loaded
	} else {
		decls = cfg.Environments.Inline
	}

	specs := make([]resolver.EnvironmentSpec, len(decls))
	for i, d := range decls {
		specs[i] = resolver.EnvironmentSpec{Name: d.Name, Inherits: d.Inherits}
	}
	return specs, nil
}

// parseSecretID splits "namespace/key@environment".
func parseSecretID(secretID string) (namespace, key, environment string, err error) {
	at := strings.LastIndex(secretID, "@")
	if at < 0 {
		return "", "", "", fmt.Errorf("secret id %q missing @environment", secretID)
	}
	environment = secretID[at+1:]

	slash := strings.LastIndex(secretID[:at], "/")
	if slash < 0 || environment == "" {
		return "", "", "", fmt.Errorf("secret id %q must be namespace/key@environment", secretID)
	}
	return secretID[:slash], secretID[slash+1:at], environment, nil
}
