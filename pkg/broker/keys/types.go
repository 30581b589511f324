// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package keys establishes the broker's token signing key.
//
// The key is loaded or generated once at startup and never rotated while the
// process runs. Asymmetric keys come from PEM files; symmetric keys are HMAC
// secrets supplied inline, read from a file, or generated for the lifetime of
// the process.
package keys

import (
	"crypto"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	// DefaultAlgorithm is used for generated keys when none is requested.
	DefaultAlgorithm = jose.HS256

	// MinSecretLength is the minimum HMAC secret length in bytes.
	MinSecretLength = 32
)

// SigningKeyData represents a signing key with its metadata.
// This contains private key material and should not be exposed externally.
type SigningKeyData struct {
	// KeyID identifies asymmetric keys (RFC 7638 thumbprint). Empty for HMAC.
	KeyID string

	// Algorithm is the JWS algorithm (e.g. "HS256", "ES256").
	Algorithm jose.SignatureAlgorithm

	// Key is a []byte HMAC secret or a crypto.Signer.
	Key any

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

// Symmetric reports whether the key is an HMAC secret.
func (k *SigningKeyData) Symmetric() bool {
	_, ok := k.Key.([]byte)
	return ok
}

// VerificationKey returns the key used to check signatures: the secret itself
// for HMAC, the public half otherwise.
func (k *SigningKeyData) VerificationKey() any {
	if signer, ok := k.Key.(crypto.Signer); ok {
		return signer.Public()
	}
	return k.Key
}

// JSONWebKey returns the signing key wrapped for go-jose, carrying the key ID.
func (k *SigningKeyData) JSONWebKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.Key,
		KeyID:     k.KeyID,
		Algorithm: string(k.Algorithm),
		Use:       "sig",
	}
}

// PublicKeyData represents the public portion of a signing key.
// This is safe to expose via the JWKS endpoint.
type PublicKeyData struct {
	// KeyID is the unique identifier for this key (RFC 7638 thumbprint).
	KeyID string

	// Algorithm is the signing algorithm (e.g., "ES256", "RS256").
	Algorithm jose.SignatureAlgorithm

	// PublicKey is the public key for verification.
	PublicKey crypto.PublicKey

	// CreatedAt is when this key was generated or loaded.
	CreatedAt time.Time
}

// JSONWebKey converts the key to its JWK form.
func (p *PublicKeyData) JSONWebKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       p.PublicKey,
		KeyID:     p.KeyID,
		Algorithm: string(p.Algorithm),
		Use:       "sig",
	}
}
