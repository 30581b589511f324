// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package keys

import (
	"errors"
	"fmt"
)

// Config holds configuration for creating a KeyProvider.
// The caller is responsible for populating this from their own config source
// (environment variables, YAML files, flags, etc.).
type Config struct {
	// KeyFile is a PEM-encoded RSA, ECDSA or Ed25519 private key.
	// It takes precedence over the HMAC settings.
	KeyFile string

	// Secret is an inline HMAC secret of at least MinSecretLength bytes.
	Secret string

	// SecretFile holds an HMAC secret. Surrounding whitespace is trimmed.
	SecretFile string
}

// NewProviderFromConfig creates a KeyProvider based on the configuration.
//
// Behavior:
//   - If KeyFile is set: load the private key from it
//   - Else if Secret or SecretFile is set: use that HMAC secret
//   - Else: return a GeneratingProvider (ephemeral HMAC secret)
func NewProviderFromConfig(cfg Config) (KeyProvider, error) {
	switch {
	case cfg.KeyFile != "":
		return NewFileProvider(cfg.KeyFile)
	case cfg.Secret != "" && cfg.SecretFile != "":
		return nil, errors.New("only one of secret and secret file may be set")
	case cfg.Secret != "":
		return NewHMACProvider([]byte(cfg.Secret))
	case cfg.SecretFile != "":
		secret, err := LoadHMACSecret(cfg.SecretFile)
		if err != nil {
			return nil, err
		}
		return NewHMACProvider(secret)
	}

	p, err := NewGeneratingProvider(DefaultAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return p, nil
}
