// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package upstream defines the identity provider contract and its
// implementations.
//
// A provider starts its own authorization flow from AuthCodeURL, carrying the
// broker's state opaquely through the OAuth state parameter, and turns the
// query of its callback into a normalized identity payload.
package upstream

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=types.go Provider

var (
	// ErrUpstream wraps every failure of a provider exchange.
	ErrUpstream = errors.New("upstream exchange failed")

	// ErrProviderNotConfigured is returned for unknown or disabled provider names.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Well-known payload claims.
const (
	ClaimUsername = "username"
	ClaimMemberOf = "memberOf"
	ClaimGroups   = "groups"
)

// Keys the broker adds to the exchange values it hands to Payload.
const (
	// ExchangeRedirectURIKey carries the callback URL used to start the flow,
	// which the token exchange must repeat.
	ExchangeRedirectURIKey = "redirect_uri"
)

// Payload is a normalized set of identity claims. It holds at least a
// username and is not modified once returned by a provider.
type Payload map[string]any

// Username returns the username claim, or "" when it is missing.
func (p Payload) Username() string {
	s, _ := p[ClaimUsername].(string)
	return s
}

// Provider is implemented by every identity source.
type Provider interface {
	// Name is the provider's route segment, e.g. "okta".
	Name() string

	// AuthCodeURL returns the URL that starts the provider's authorization
	// flow. state is round-tripped verbatim; the callback targets
	// CallbackURL(origin, Name()).
	AuthCodeURL(ctx context.Context, state url.Values, origin string) (string, error)

	// LogoutURL returns the provider's logout target.
	LogoutURL() string

	// Payload exchanges the callback query for identity claims. Failures
	// wrap ErrUpstream.
	Payload(ctx context.Context, exchange url.Values) (Payload, error)
}

// CallbackURL returns the broker endpoint a provider redirects back to.
func CallbackURL(origin, name string) string {
	return strings.TrimSuffix(origin, "/") + "/" + name + "/authenticated"
}

// callbackError reports an error returned by the provider on its callback.
func callbackError(exchange url.Values) error {
	code := exchange.Get("error")
	if code == "" {
		return nil
	}
	if desc := exchange.Get("error_description"); desc != "" {
		return errors.New(code + ": " + desc)
	}
	return errors.New(code)
}

// decodeState parses the round-tripped state of a callback query.
func decodeState(exchange url.Values) url.Values {
	state, err := url.ParseQuery(exchange.Get("state"))
	if err != nil {
		return url.Values{}
	}
	return state
}
