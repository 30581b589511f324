// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// KeyProvider provides the signing key for token operations.
type KeyProvider interface {
	// SigningKey returns the signing key.
	SigningKey() *SigningKeyData

	// PublicKeys returns the keys to publish in a JWKS. It is empty for
	// symmetric keys, which must never be published.
	PublicKeys() []*PublicKeyData
}

// staticProvider serves one key fixed at construction time.
type staticProvider struct {
	key *SigningKeyData
}

func (p *staticProvider) SigningKey() *SigningKeyData {
	return p.key
}

func (p *staticProvider) PublicKeys() []*PublicKeyData {
	if p.key.Symmetric() {
		return nil
	}
	return []*PublicKeyData{{
		KeyID:     p.key.KeyID,
		Algorithm: p.key.Algorithm,
		PublicKey: p.key.VerificationKey(),
		CreatedAt: p.key.CreatedAt,
	}}
}

// FileProvider serves a private key loaded from a PEM file.
// The key is loaded once at construction time; changes require restart.
type FileProvider struct {
	staticProvider
}

// NewFileProvider loads and validates the private key at path.
func NewFileProvider(path string) (*FileProvider, error) {
	signer, err := LoadSigningKey(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}

	alg, err := DeriveAlgorithm(signer)
	if err != nil {
		return nil, fmt.Errorf("failed to derive algorithm: %w", err)
	}
	keyID, err := DeriveKeyID(signer)
	if err != nil {
		return nil, err
	}

	return &FileProvider{
		staticProvider: staticProvider{key: &SigningKeyData{
			KeyID:     keyID,
			Algorithm: alg,
			Key:       signer,
			CreatedAt: time.Now(),
		}},
	}, nil
}

// HMACProvider serves a shared HMAC secret.
type HMACProvider struct {
	staticProvider
}

// NewHMACProvider wraps secret, which must be at least MinSecretLength bytes.
func NewHMACProvider(secret []byte) (*HMACProvider, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("HMAC secret must be at least %d bytes, got %d bytes", MinSecretLength, len(secret))
	}
	return &HMACProvider{staticProvider{key: &SigningKeyData{
		Algorithm: jose.HS256,
		Key:       append([]byte(nil), secret...),
		CreatedAt: time.Now(),
	}}}, nil
}

// GeneratingProvider serves a key generated at construction.
// Suitable for development and single-replica deployments only: the key is
// lost on restart, invalidating all issued tokens.
type GeneratingProvider struct {
	staticProvider
}

// NewGeneratingProvider generates an ephemeral key for algorithm.
// HS256 yields an HMAC secret; ES256, ES384, ES512 and EdDSA yield private keys.
func NewGeneratingProvider(algorithm jose.SignatureAlgorithm) (*GeneratingProvider, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}

	key := &SigningKeyData{Algorithm: algorithm, CreatedAt: time.Now()}
	if algorithm == jose.HS256 {
		secret, err := GenerateHMACSecret()
		if err != nil {
			return nil, err
		}
		key.Key = secret
	} else {
		signer, err := GeneratePrivateKey(algorithm)
		if err != nil {
			return nil, err
		}
		keyID, err := DeriveKeyID(signer)
		if err != nil {
			return nil, err
		}
		key.Key = signer
		key.KeyID = keyID
	}

	slog.Warn("generated ephemeral signing key - tokens will be invalid after restart",
		"algorithm", key.Algorithm,
		"key_id", key.KeyID,
	)

	return &GeneratingProvider{staticProvider{key: key}}, nil
}

// Compile-time interface checks.
var (
	_ KeyProvider = (*FileProvider)(nil)
	_ KeyProvider = (*HMACProvider)(nil)
	_ KeyProvider = (*GeneratingProvider)(nil)
)
