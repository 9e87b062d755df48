// Package kms defines the key-manager boundary used for envelope
// encryption. A KeyManager wraps and unwraps data-encryption keys
// (DEKs) under named key-encryption keys (KEKs); the KEKs themselves
// never leave the key manager.
//
// The package ships a Local implementation that derives its KEKs from
// a master seed with HKDF. Cloud KMS providers (AWS KMS, GCP KMS,
// HashiCorp Vault transit) plug in behind the same interface; their
// wire formats are out of scope here.
package kms
