package resolver

import (
	"context"
	"fmt"
	"strings"

	"meridian-hq/vesta/pkg/store"
)

// NotFoundError is returned when a key resolves to nothing anywhere in
// the environment chain.
type NotFoundError struct {
	Namespace   string
	Key         string
	Environment string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resolver: %s/%s not found in environment %q or its ancestors",
		e.Namespace, e.Key, e.Environment)
}

// FieldError describes one invalid field in a rejected write.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError rejects a write whose value or addressing is
// invalid. Nothing was persisted.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "resolver: validation failed: " + strings.Join(msgs, "; ")
}

// ForbiddenError is a policy denial. Policy unavailability also
// surfaces as ForbiddenError: access control fails closed.
type ForbiddenError struct {
	Actor    string
	Action   string
	Resource string
	Reason   string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("resolver: %s may not %s %s: %s", e.Actor, e.Action, e.Resource, e.Reason)
}

// StoreUnavailableError wraps an authoritative-store failure that is
// not a plain miss.
type StoreUnavailableError struct {
	Op    string
	Cause error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("resolver: store unavailable during %s: %v", e.Op, e.Cause)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Cause }

// Authorizer decides whether an actor may perform an action on a
// resource. A nil error allows; any error denies.
type Authorizer interface {
	Authorize(ctx context.Context, actor, action, resource string) error
}

// AllowAll is the Authorizer used when no policy engine is configured.
type AllowAll struct{}

func (AllowAll) Authorize(ctx context.Context, actor, action, resource string) error { return nil }

// Validator checks a value against the consumer-supplied schema before
// it is written. Implementations return *ValidationError for schema
// violations.
type Validator interface {
	Validate(ctx context.Context, namespace, key string, value store.Value) error
}
