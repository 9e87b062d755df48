package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"meridian-hq/vesta/pkg/audit"
	"meridian-hq/vesta/pkg/cache"
	"meridian-hq/vesta/pkg/secrets"
	"meridian-hq/vesta/pkg/store"
)

// ResolvedValue is the outcome of a successful resolution.
type ResolvedValue struct {
	Namespace string
	Key       string

	// Environment is the environment that was asked for.
	Environment string

	// SourceEnvironment is the environment in the chain that supplied
	// the value; equal to Environment unless the value was inherited.
	SourceEnvironment string

	// Version is the version number in the source environment.
	Version int64

	// Value is the stored value. For secrets it still holds the sealed
	// ciphertext; the opened plaintext is in Secret.
	Value store.Value

	// Secret is the decrypted plaintext when Value is sealed, nil
	// otherwise. Callers own the buffer.
	Secret []byte
}

// WriteOptions modify a Write.
type WriteOptions struct {
	// Sensitive seals the value with envelope encryption before it is
	// persisted. Plaintext never reaches the store or the cache tiers.
	Sensitive bool

	// Description and Tags are free-form metadata recorded on the
	// written version.
	Description string
	Tags        []string
}

// Observer receives resolution and mutation outcomes. Implementations
// must be safe for concurrent use.
type Observer interface {
	ObserveResolve(result string, elapsed time.Duration)
	RecordWrite(changeType string)
}

// Deps are the collaborators a Resolver is built from. Envs, Store,
// and Audit are required. Cache nil disables caching, Secrets nil
// disables sealed values, Authz nil allows everything, Validator nil
// accepts everything, Observer nil disables instrumentation.
type Deps struct {
	Envs      *Environments
	Cache     *cache.Manager
	Store     store.Store
	Secrets   *secrets.Manager
	Audit     *audit.Chain
	Authz     Authorizer
	Validator Validator
	Observer  Observer

	// KEKID names the key-encryption key used to seal sensitive
	// writes.
	KEKID string
}

// Resolver resolves and mutates configuration entries.
type Resolver struct {
	envs      *Environments
	cache     *cache.Manager
	store     store.Store
	secrets   *secrets.Manager
	audit     *audit.Chain
	authz     Authorizer
	validator Validator
	observer  Observer
	kekID     string
	logger    *slog.Logger
}

// New builds a Resolver from its collaborators.
func New(deps Deps) (*Resolver, error) {
	if deps.Envs == nil {
		return nil, fmt.Errorf("resolver: environments are required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("resolver: store is required")
	}
	if deps.Audit == nil {
		return nil, fmt.Errorf("resolver: audit chain is required")
	}
	if deps.Authz == nil {
		deps.Authz = AllowAll{}
	}

	return &Resolver{
		envs:      deps.Envs,
		cache:     deps.Cache,
		store:     deps.Store,
		secrets:   deps.Secrets,
		audit:     deps.Audit,
		authz:     deps.Authz,
		validator: deps.Validator,
		observer:  deps.Observer,
		kekID:     deps.KEKID,
		logger:    slog.Default().With("component", "resolver"),
	}, nil
}

// cachedEntry is the serialized form stored in the cache tiers. For
// secrets it carries ciphertext; plaintext is never cached.
type cachedEntry struct {
	Version int64       `json:"version"`
	Value   store.Value `json:"value"`
}

// Resolve walks the environment chain most specific first and returns
// the first value found. Sealed values are decrypted fail-closed; a
// value that cannot be decrypted is an error, never a fallthrough to
// a less specific environment.
func (r *Resolver) Resolve(ctx context.Context, namespace, key, environment, actor string) (*ResolvedValue, error) {
	start := time.Now()
	resolved, err := r.resolve(ctx, namespace, key, environment, actor)
	if r.observer != nil {
		r.observer.ObserveResolve(resolveResult(err), time.Since(start))
	}
	return resolved, err
}

func (r *Resolver) resolve(ctx context.Context, namespace, key, environment, actor string) (*ResolvedValue, error) {
	correlationID := uuid.NewString()
	resource := resourceName(namespace, key, environment)

	if err := r.authorize(ctx, actor, "read", resource, correlationID); err != nil {
		return nil, err
	}

	chain, err := r.envs.Chain(environment)
	if err != nil {
		return nil, &ValidationError{Fields: []FieldError{{Field: "environment", Message: err.Error()}}}
	}

	for _, candidate := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, err := r.lookup(ctx, namespace, key, candidate)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}

		resolved := &ResolvedValue{
			Namespace:         namespace,
			Key:               key,
			Environment:       environment,
			SourceEnvironment: candidate,
			Version:           entry.Version,
			Value:             entry.Value,
		}

		if entry.Value.IsSecret() {
			plaintext, err := r.openSecret(ctx, entry.Value, actor, resource, correlationID)
			if err != nil {
				return nil, err
			}
			resolved.Secret = plaintext
		}

		r.auditAsync(audit.EventConfigRead, actor, resource, "resolve", "success", correlationID)
		return resolved, nil
	}

	r.auditAsync(audit.EventConfigRead, actor, resource, "resolve", "not_found", correlationID)
	return nil, &NotFoundError{Namespace: namespace, Key: key, Environment: environment}
}

// lookup fetches one (namespace, key, environment) candidate through
// the cache, falling back to the store and populating the tiers on a
// store hit. nil, nil means the candidate has no live value.
func (r *Resolver) lookup(ctx context.Context, namespace, key, environment string) (*cachedEntry, error) {
	cacheKey := cache.Key(namespace, key, environment)

	if r.cache != nil {
		if raw, found := r.cache.Get(ctx, cacheKey); found {
			var entry cachedEntry
			if err := json.Unmarshal(raw, &entry); err == nil {
				return &entry, nil
			}
			// An undecodable entry is dropped and refetched.
			r.logger.Warn("corrupt cache entry dropped", "key", cacheKey)
			_ = r.cache.Invalidate(ctx, cacheKey)
		}
	}

	cv, err := r.store.Read(ctx, namespace, key, environment, store.LatestVersion)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "read", Cause: err}
	}

	// A tombstone removes the override; resolution continues up the
	// chain. Tombstones are not cached.
	if cv.Tombstone() {
		return nil, nil
	}

	entry := &cachedEntry{Version: cv.Version, Value: cv.Value}
	if r.cache != nil {
		if raw, err := json.Marshal(entry); err == nil {
			r.cache.Put(ctx, cacheKey, raw)
		}
	}
	return entry, nil
}

func (r *Resolver) openSecret(ctx context.Context, v store.Value, actor, resource, correlationID string) ([]byte, error) {
	if r.secrets == nil {
		return nil, &StoreUnavailableError{Op: "open secret", Cause: errors.New("no secrets manager configured")}
	}
	plaintext, err := r.secrets.Open(ctx, *v.Secret)
	if err != nil {
		r.auditAsync(audit.EventSecretOpen, actor, resource, "open", "decryption_failed", correlationID)
		return nil, err
	}
	r.auditAsync(audit.EventSecretOpen, actor, resource, "open", "success", correlationID)
	return plaintext, nil
}

// Write validates, optionally seals, and appends value as a new
// version, then invalidates every environment whose resolution the
// write can change and waits for the invalidation acknowledgment.
// The returned version is durable once Write returns it, even when
// err reports a post-append failure such as an audit append timeout.
func (r *Resolver) Write(ctx context.Context, namespace, key, environment string, value store.Value, actor string, opts WriteOptions) (int64, error) {
	correlationID := uuid.NewString()
	resource := resourceName(namespace, key, environment)

	if err := r.authorize(ctx, actor, "write", resource, correlationID); err != nil {
		return 0, err
	}
	if err := r.validateAddress(namespace, key, environment); err != nil {
		return 0, err
	}
	if r.validator != nil {
		if err := r.validator.Validate(ctx, namespace, key, value); err != nil {
			r.auditAsync(audit.EventConfigWrite, actor, resource, "write", "validation_failed", correlationID)
			return 0, err
		}
	}

	if opts.Sensitive && !value.IsSecret() {
		sealed, err := r.seal(ctx, namespace, key, environment, value, actor, resource, correlationID)
		if err != nil {
			return 0, err
		}
		value = sealed
	}

	version, changeType, err := r.append(ctx, namespace, key, environment, value, actor, opts)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			r.auditAsync(audit.EventConfigWrite, actor, resource, "write", "conflict", correlationID)
		}
		return 0, err
	}
	r.recordWrite(changeType)

	if err := r.invalidate(ctx, namespace, key, environment); err != nil {
		return version, fmt.Errorf("resolver: version %d written but invalidation unacknowledged: %w", version, err)
	}

	rec := audit.NewRecord(audit.EventConfigWrite, actor, resource, string(changeType), "success", correlationID)
	if _, err := r.audit.Append(ctx, rec); err != nil {
		return version, fmt.Errorf("resolver: version %d written but audit append failed: %w", version, err)
	}
	return version, nil
}

// Rollback appends a new version carrying targetVersion's value with a
// restore change type. The target version itself is never modified.
func (r *Resolver) Rollback(ctx context.Context, namespace, key, environment string, targetVersion int64, actor string) (int64, error) {
	correlationID := uuid.NewString()
	resource := resourceName(namespace, key, environment)

	if err := r.authorize(ctx, actor, "write", resource, correlationID); err != nil {
		return 0, err
	}

	target, err := r.store.Read(ctx, namespace, key, environment, targetVersion)
	if errors.Is(err, store.ErrNotFound) {
		return 0, &NotFoundError{Namespace: namespace, Key: key, Environment: environment}
	}
	if err != nil {
		return 0, &StoreUnavailableError{Op: "rollback read", Cause: err}
	}
	if target.Tombstone() {
		return 0, &ValidationError{Fields: []FieldError{{
			Field:   "target_version",
			Message: fmt.Sprintf("version %d is a delete marker and cannot be restored", targetVersion),
		}}}
	}

	latest, err := r.store.Read(ctx, namespace, key, environment, store.LatestVersion)
	if err != nil {
		return 0, &StoreUnavailableError{Op: "rollback read", Cause: err}
	}

	version, err := r.store.AppendVersion(ctx, store.AppendRequest{
		Namespace:       namespace,
		Key:             key,
		Environment:     environment,
		Value:           target.Value,
		ChangeType:      store.ChangeRestore,
		Author:          actor,
		RestoreOf:       targetVersion,
		ExpectedVersion: latest.Version,
	})
	if err != nil {
		return 0, r.appendError(err)
	}
	r.recordWrite(store.ChangeRestore)

	if err := r.invalidate(ctx, namespace, key, environment); err != nil {
		return version, fmt.Errorf("resolver: version %d written but invalidation unacknowledged: %w", version, err)
	}

	rec := audit.NewRecord(audit.EventConfigRollback, actor, resource,
		fmt.Sprintf("restore %d", targetVersion), "success", correlationID)
	if _, err := r.audit.Append(ctx, rec); err != nil {
		return version, fmt.Errorf("resolver: version %d written but audit append failed: %w", version, err)
	}
	return version, nil
}

// Delete appends a tombstone version. History remains readable and the
// entry's parent-environment value, if any, becomes visible again.
func (r *Resolver) Delete(ctx context.Context, namespace, key, environment, actor string) (int64, error) {
	correlationID := uuid.NewString()
	resource := resourceName(namespace, key, environment)

	if err := r.authorize(ctx, actor, "write", resource, correlationID); err != nil {
		return 0, err
	}

	latest, err := r.store.Read(ctx, namespace, key, environment, store.LatestVersion)
	if errors.Is(err, store.ErrNotFound) {
		return 0, &NotFoundError{Namespace: namespace, Key: key, Environment: environment}
	}
	if err != nil {
		return 0, &StoreUnavailableError{Op: "delete read", Cause: err}
	}
	if latest.Tombstone() {
		// Deleting a deleted entry is a no-op.
		return latest.Version, nil
	}

	version, err := r.store.AppendVersion(ctx, store.AppendRequest{
		Namespace:       namespace,
		Key:             key,
		Environment:     environment,
		Value:           store.Value{Kind: store.KindString},
		ChangeType:      store.ChangeDelete,
		Author:          actor,
		ExpectedVersion: latest.Version,
	})
	if err != nil {
		return 0, r.appendError(err)
	}
	r.recordWrite(store.ChangeDelete)

	if err := r.invalidate(ctx, namespace, key, environment); err != nil {
		return version, fmt.Errorf("resolver: version %d written but invalidation unacknowledged: %w", version, err)
	}

	rec := audit.NewRecord(audit.EventConfigDelete, actor, resource, "delete", "success", correlationID)
	if _, err := r.audit.Append(ctx, rec); err != nil {
		return version, fmt.Errorf("resolver: version %d written but audit append failed: %w", version, err)
	}
	return version, nil
}

// History returns the entry's full version history oldest first.
func (r *Resolver) History(ctx context.Context, namespace, key, environment, actor string) ([]store.ConfigVersion, error) {
	correlationID := uuid.NewString()
	resource := resourceName(namespace, key, environment)

	if err := r.authorize(ctx, actor, "read", resource, correlationID); err != nil {
		return nil, err
	}

	history, err := r.store.ListVersions(ctx, namespace, key, environment)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "list versions", Cause: err}
	}
	if len(history) == 0 {
		return nil, &NotFoundError{Namespace: namespace, Key: key, Environment: environment}
	}
	return history, nil
}

// seal envelope-encrypts value and audits the seal.
func (r *Resolver) seal(ctx context.Context, namespace, key, environment string, value store.Value, actor, resource, correlationID string) (store.Value, error) {
	if r.secrets == nil {
		return store.Value{}, &ValidationError{Fields: []FieldError{{
			Field: "sensitive", Message: "no secrets manager configured",
		}}}
	}

	plaintext, err := plaintextBytes(value)
	if err != nil {
		return store.Value{}, &ValidationError{Fields: []FieldError{{Field: "value", Message: err.Error()}}}
	}

	sealed, err := r.secrets.Seal(ctx, plaintext, aadContext(namespace, key, environment), r.kekID)
	if err != nil {
		r.auditAsync(audit.EventSecretSeal, actor, resource, "seal", "failed", correlationID)
		return store.Value{}, err
	}
	r.auditAsync(audit.EventSecretSeal, actor, resource, "seal", "success", correlationID)
	return store.SecretValue(&sealed), nil
}

// append writes the new version, deciding create vs update from the
// current head.
func (r *Resolver) append(ctx context.Context, namespace, key, environment string, value store.Value, actor string, opts WriteOptions) (int64, store.ChangeType, error) {
	changeType := store.ChangeCreate
	expected := int64(0)

	latest, err := r.store.Read(ctx, namespace, key, environment, store.LatestVersion)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// first write
	case err != nil:
		return 0, "", &StoreUnavailableError{Op: "write read", Cause: err}
	case latest.Tombstone():
		changeType = store.ChangeCreate
		expected = latest.Version
	default:
		changeType = store.ChangeUpdate
		expected = latest.Version
	}

	version, err := r.store.AppendVersion(ctx, store.AppendRequest{
		Namespace:       namespace,
		Key:             key,
		Environment:     environment,
		Value:           value,
		ChangeType:      changeType,
		Author:          actor,
		ExpectedVersion: expected,
		Description:     opts.Description,
		Tags:            opts.Tags,
	})
	if err != nil {
		return 0, "", r.appendError(err)
	}
	return version, changeType, nil
}

// invalidate drops the key from the cache for every environment whose
// resolution can see the written environment and waits for the
// broadcast acknowledgment.
func (r *Resolver) invalidate(ctx context.Context, namespace, key, environment string) error {
	if r.cache == nil {
		return nil
	}
	for _, env := range r.envs.Dependents(environment) {
		if err := r.cache.Invalidate(ctx, cache.Key(namespace, key, env)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) authorize(ctx context.Context, actor, action, resource, correlationID string) error {
	if err := r.authz.Authorize(ctx, actor, action, resource); err != nil {
		r.auditAsync(audit.EventPolicyDenied, actor, resource, action, "denied", correlationID)

		var forbidden *ForbiddenError
		if errors.As(err, &forbidden) {
			return forbidden
		}
		// Policy errors of any other kind still deny.
		return &ForbiddenError{Actor: actor, Action: action, Resource: resource, Reason: err.Error()}
	}
	return nil
}

func (r *Resolver) validateAddress(namespace, key, environment string) error {
	var fields []FieldError
	if namespace == "" || !cache.ValidComponent(namespace) {
		fields = append(fields, FieldError{Field: "namespace", Message: "must be a non-empty '/'-delimited path"})
	}
	if key == "" || !cache.ValidComponent(key) {
		fields = append(fields, FieldError{Field: "key", Message: "must be non-empty"})
	}
	if !r.envs.Known(environment) {
		fields = append(fields, FieldError{Field: "environment", Message: fmt.Sprintf("unknown environment %q", environment)})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func (r *Resolver) appendError(err error) error {
	var conflict *store.ConflictError
	if errors.As(err, &conflict) {
		return conflict
	}
	return &StoreUnavailableError{Op: "append", Cause: err}
}

// auditAsync records a best-effort audit event that must not block or
// fail the calling operation.
func (r *Resolver) auditAsync(eventType audit.EventType, actor, resource, action, result, correlationID string) {
	r.audit.AppendAsync(audit.NewRecord(eventType, actor, resource, action, result, correlationID))
}

func (r *Resolver) recordWrite(changeType store.ChangeType) {
	if r.observer != nil {
		r.observer.RecordWrite(string(changeType))
	}
}

// resolveResult classifies a resolution outcome for instrumentation.
func resolveResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.As(err, new(*NotFoundError)):
		return "not_found"
	case errors.As(err, new(*ForbiddenError)):
		return "denied"
	case errors.As(err, new(*secrets.DecryptionError)):
		return "decryption_failed"
	default:
		return "error"
	}
}

func resourceName(namespace, key, environment string) string {
	return namespace + "/" + key + "@" + environment
}

// aadContext binds ciphertext to its storage location so a sealed
// value moved to another key or environment fails authentication.
func aadContext(namespace, key, environment string) string {
	return namespace + "/" + key + "@" + environment
}

// plaintextBytes extracts the bytes to seal from a plaintext value.
func plaintextBytes(v store.Value) ([]byte, error) {
	switch v.Kind {
	case store.KindString:
		return []byte(v.Str), nil
	case store.KindNumber, store.KindBool, store.KindStructured:
		return json.Marshal(v)
	case store.KindSecret:
		return nil, errors.New("value is already sealed")
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}
}
