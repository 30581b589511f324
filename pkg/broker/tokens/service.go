// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package tokens issues and verifies the broker's signed identity tokens.
//
// A token is a compact JWS whose registered claims carry the validity window
// and whose private "identity" claim holds the identity payload, so payload
// keys such as "sub" or "exp" never touch the registered claims. Verification
// checks the signature before any decoded value is used.
package tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stacklok/inconnu/pkg/broker/keys"
)

// DefaultTTL is the token lifetime used when none is configured.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken is returned for malformed tokens, bad signatures and
	// tokens minted for another issuer.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for a well-formed, correctly signed token
	// whose expiry has passed.
	ErrExpiredToken = errors.New("token expired")
)

// identityClaim is the private claim that carries the payload.
const identityClaim = "identity"

type privateClaims struct {
	Identity map[string]any `json:"identity"`
}

// Config configures a Service.
type Config struct {
	// TTL is the default token lifetime. Zero selects DefaultTTL.
	TTL time.Duration

	// MaxTTL caps per-call lifetimes. Zero leaves them uncapped.
	MaxTTL time.Duration

	// Issuer, when set, is written to and required in the iss claim.
	Issuer string
}

// Service issues and verifies tokens with one signing key.
type Service struct {
	key    *keys.SigningKeyData
	jwks   jose.JSONWebKeySet
	signer jose.Signer

	ttl    time.Duration
	maxTTL time.Duration
	issuer string
	clock  clockwork.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for issue and verify times.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// NewService creates a Service signing with the provider's key.
func NewService(provider keys.KeyProvider, cfg Config, opts ...Option) (*Service, error) {
	key := provider.SigningKey()
	if key == nil {
		return nil, errors.New("no signing key available")
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: key.Algorithm, Key: key.JSONWebKey()},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token signer: %w", err)
	}

	s := &Service{
		key:    key,
		signer: signer,
		ttl:    cfg.TTL,
		maxTTL: cfg.MaxTTL,
		issuer: cfg.Issuer,
		clock:  clockwork.NewRealClock(),
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxTTL > 0 && s.ttl > s.maxTTL {
		return nil, fmt.Errorf("token ttl %s exceeds max ttl %s", s.ttl, s.maxTTL)
	}

	for _, pub := range provider.PublicKeys() {
		s.jwks.Keys = append(s.jwks.Keys, pub.JSONWebKey())
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// DefaultTTL returns the lifetime used when Issue is called without one.
func (s *Service) DefaultTTL() time.Duration {
	return s.ttl
}

// Issue signs payload into a token valid for ttl. A non-positive ttl selects
// the configured default; a ttl above the configured maximum is capped.
func (s *Service) Issue(payload map[string]any, ttl time.Duration) (string, time.Time, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	if s.maxTTL > 0 && ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := s.clock.Now()
	// exp has one-second resolution; truncate so the returned expiry matches it.
	expiresAt := now.Add(ttl).Truncate(time.Second)

	registered := jwt.Claims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Expiry:    jwt.NewNumericDate(expiresAt),
	}

	private := map[string]any{identityClaim: payload}
	token, err := jwt.Signed(s.signer).Claims(private).Claims(registered).Serialize()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify checks token's signature and validity window and returns the payload
// exactly as it was issued.
func (s *Service) Verify(token string) (map[string]any, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{s.key.Algorithm})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	var (
		registered jwt.Claims
		private    privateClaims
	)
	if err := parsed.Claims(s.key.VerificationKey(), &registered, &private); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if registered.Expiry == nil {
		return nil, fmt.Errorf("%w: missing exp claim", ErrInvalidToken)
	}

	err = registered.ValidateWithLeeway(jwt.Expected{
		Issuer: s.issuer,
		Time:   s.clock.Now(),
	}, 0)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrExpired):
		return nil, ErrExpiredToken
	default:
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if private.Identity == nil {
		return nil, fmt.Errorf("%w: missing %s claim", ErrInvalidToken, identityClaim)
	}
	return private.Identity, nil
}

// JWKS returns the public keys that verify this service's tokens. It is
// empty when tokens are signed with an HMAC secret.
func (s *Service) JWKS() jose.JSONWebKeySet {
	return s.jwks
}
