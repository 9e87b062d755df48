package store

import (
	"encoding/json"
	"fmt"

	"meridian-hq/vesta/pkg/secrets"
)

// ValueKind discriminates the Value variants.
type ValueKind string

const (
	KindString     ValueKind = "string"
	KindNumber     ValueKind = "number"
	KindBool       ValueKind = "bool"
	KindStructured ValueKind = "structured"
	KindSecret     ValueKind = "secret"
)

// Value is a typed configuration value. Exactly the field matching
// Kind is meaningful; the rest are zero. Secret values carry sealed
// ciphertext, never plaintext.
type Value struct {
	Kind       ValueKind
	Str        string
	Num        float64
	Bool       bool
	Structured json.RawMessage
	Secret     *secrets.EncryptedValue
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func NumberValue(n float64) Value { return Value{Kind: KindNumber, Num: n} }
func BoolValue(b bool) Value      { return Value{Kind: KindBool, Bool: b} }

// StructuredValue wraps an arbitrary JSON document.
func StructuredValue(raw json.RawMessage) Value {
	return Value{Kind: KindStructured, Structured: raw}
}

// SecretValue wraps sealed ciphertext.
func SecretValue(ev *secrets.EncryptedValue) Value {
	return Value{Kind: KindSecret, Secret: ev}
}

// IsSecret reports whether the value is sealed.
func (v Value) IsSecret() bool { return v.Kind == KindSecret }

type valueEnvelope struct {
	Kind       ValueKind               `json:"kind"`
	Str        *string                 `json:"string,omitempty"`
	Num        *float64                `json:"number,omitempty"`
	Bool       *bool                   `json:"bool,omitempty"`
	Structured json.RawMessage         `json:"structured,omitempty"`
	Secret     *secrets.EncryptedValue `json:"secret,omitempty"`
}

// MarshalJSON encodes the value as a tagged envelope.
func (v Value) MarshalJSON() ([]byte, error) {
	env := valueEnvelope{Kind: v.Kind}
	switch v.Kind {
	case KindString:
		env.Str = &v.Str
	case KindNumber:
		env.Num = &v.Num
	case KindBool:
		env.Bool = &v.Bool
	case KindStructured:
		env.Structured = v.Structured
	case KindSecret:
		env.Secret = v.Secret
	default:
		return nil, fmt.Errorf("store: unknown value kind %q", v.Kind)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a tagged envelope.
func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	*v = Value{Kind: env.Kind}
	switch env.Kind {
	case KindString:
		if env.Str != nil {
			v.Str = *env.Str
		}
	case KindNumber:
		if env.Num != nil {
			v.Num = *env.Num
		}
	case KindBool:
		if env.Bool != nil {
			v.Bool = *env.Bool
		}
	case KindStructured:
		v.Structured = env.Structured
	case KindSecret:
		v.Secret = env.Secret
	default:
		return fmt.Errorf("store: unknown value kind %q", env.Kind)
	}
	return nil
}
