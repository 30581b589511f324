// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Defaults for generic OIDC providers.
const (
	DefaultUsernameClaim = "email"
)

// DefaultScopes are requested when a provider configures none.
var DefaultScopes = []string{oidc.ScopeOpenID, "profile", "email"}

// OIDCConfig configures a provider that supports OIDC discovery.
type OIDCConfig struct {
	// Name is the provider's route segment.
	Name string

	// Issuer is the URL of the upstream OIDC provider. Endpoints are fetched
	// from {Issuer}/.well-known/openid-configuration on first use.
	Issuer string

	ClientID     string
	ClientSecret string

	// Scopes default to DefaultScopes. openid is always required.
	Scopes []string

	// UsernameClaim is the ID token claim copied to the username claim.
	// Defaults to DefaultUsernameClaim.
	UsernameClaim string

	// LowercaseUsername folds the username to lower case.
	LowercaseUsername bool

	// GroupsClaim, when set, is copied to the groups claim if present.
	GroupsClaim string

	// LogoutURL overrides the discovered end_session_endpoint.
	LogoutURL string

	// AuthStyle controls how client credentials reach the token endpoint.
	// Zero sends them in the request body.
	AuthStyle oauth2.AuthStyle
}

// Validate checks that OIDCConfig has all required fields and valid values.
func (c *OIDCConfig) Validate() error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if c.Issuer == "" {
		errs = append(errs, errors.New("issuer is required for OIDC providers"))
	} else if u, err := url.Parse(c.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("invalid issuer URL %q", c.Issuer))
	}
	if c.ClientID == "" {
		errs = append(errs, errors.New("client_id is required"))
	}
	if len(c.Scopes) > 0 && !slices.Contains(c.Scopes, oidc.ScopeOpenID) {
		errs = append(errs, errors.New("openid scope is required for OIDC providers"))
	}
	return errors.Join(errs...)
}

// discovery is the result of OIDC discovery, cached after the first success.
type discovery struct {
	endpoint   oauth2.Endpoint
	verifier   *oidc.IDTokenVerifier
	endSession string
}

// OIDCProvider implements Provider for OIDC-compliant identity providers.
//
// Discovery is deferred to the first request so a provider that is down at
// startup does not keep the broker from serving. Concurrent first requests
// share one discovery call. A failed discovery is not cached.
type OIDCProvider struct {
	cfg        OIDCConfig
	httpClient *http.Client

	discovered atomic.Pointer[discovery]
	inflight   singleflight.Group
}

// NewOIDCProvider creates a generic OIDC provider.
func NewOIDCProvider(cfg OIDCConfig, opts ...Option) (*OIDCProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for provider %q: %w", cfg.Name, err)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = DefaultUsernameClaim
	}
	if cfg.AuthStyle == oauth2.AuthStyleAutoDetect {
		cfg.AuthStyle = oauth2.AuthStyleInParams
	}

	o := newOptions(opts)
	return &OIDCProvider{cfg: cfg, httpClient: o.httpClient}, nil
}

// NewOktaProvider creates the Okta provider for an Okta org domain such as
// "dev-123.okta.com", using its default authorization server.
func NewOktaProvider(domain, clientID, clientSecret string, opts ...Option) (*OIDCProvider, error) {
	if domain == "" {
		return nil, errors.New("okta domain is required")
	}
	issuer := "https://" + domain + "/oauth2/default"
	return NewOIDCProvider(OIDCConfig{
		Name:          "okta",
		Issuer:        issuer,
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Scopes:        []string{oidc.ScopeOpenID, "email"},
		UsernameClaim: "email",
		LogoutURL:     issuer + "/login/signout",
		AuthStyle:     oauth2.AuthStyleInHeader,
	}, opts...)
}

// Name implements Provider.
func (p *OIDCProvider) Name() string {
	return p.cfg.Name
}

// AuthCodeURL implements Provider.
func (p *OIDCProvider) AuthCodeURL(ctx context.Context, state url.Values, origin string) (string, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return "", err
	}
	return p.oauth2Config(d, CallbackURL(origin, p.cfg.Name)).AuthCodeURL(state.Encode()), nil
}

// LogoutURL implements Provider. Without a configured logout URL it falls
// back to the discovered end_session_endpoint, then to the issuer.
func (p *OIDCProvider) LogoutURL() string {
	if p.cfg.LogoutURL != "" {
		return p.cfg.LogoutURL
	}
	if d := p.discovered.Load(); d != nil && d.endSession != "" {
		return d.endSession
	}
	return p.cfg.Issuer
}

// Payload implements Provider.
func (p *OIDCProvider) Payload(ctx context.Context, exchange url.Values) (Payload, error) {
	d, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	_, claims, err := p.exchange(ctx, d, exchange)
	if err != nil {
		return nil, err
	}

	username, _ := claims[p.cfg.UsernameClaim].(string)
	if username == "" {
		return nil, fmt.Errorf("%w: ID token has no %q claim", ErrUpstream, p.cfg.UsernameClaim)
	}
	if p.cfg.LowercaseUsername {
		username = strings.ToLower(username)
	}

	payload := Payload{ClaimUsername: username}
	if p.cfg.GroupsClaim != "" {
		if groups := stringSlice(claims[p.cfg.GroupsClaim]); groups != nil {
			payload[ClaimGroups] = groups
		}
	}
	return payload, nil
}

// exchange redeems the authorization code and verifies the returned ID token.
func (p *OIDCProvider) exchange(
	ctx context.Context, d *discovery, exchange url.Values,
) (*oauth2.Token, map[string]any, error) {
	if err := callbackError(exchange); err != nil {
		return nil, nil, fmt.Errorf("%w: provider returned %w", ErrUpstream, err)
	}
	code := exchange.Get("code")
	if code == "" {
		return nil, nil, fmt.Errorf("%w: callback carries no authorization code", ErrUpstream)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth2Config(d, exchange.Get(ExchangeRedirectURIKey)).Exchange(ctx, code)
	if err != nil {
		slog.Debug("authorization code exchange failed", "provider", p.cfg.Name, "error", err)
		return nil, nil, fmt.Errorf("%w: code exchange: %w", ErrUpstream, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, nil, fmt.Errorf("%w: token response carries no ID token", ErrUpstream)
	}

	idToken, err := d.verifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to verify ID token: %w", ErrUpstream, err)
	}

	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to decode ID token claims: %w", ErrUpstream, err)
	}
	return token, claims, nil
}

func (p *OIDCProvider) oauth2Config(d *discovery, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     d.endpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.cfg.Scopes,
	}
}

// discover performs OIDC discovery once and caches the result. A caller
// whose context ends stops waiting; the shared call carries on for the
// others.
func (p *OIDCProvider) discover(ctx context.Context) (*discovery, error) {
	if d := p.discovered.Load(); d != nil {
		return d, nil
	}

	ch := p.inflight.DoChan("discovery", func() (any, error) {
		return p.fetchDiscovery(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: OIDC discovery abandoned: %w", ErrUpstream, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*discovery), nil
	}
}

func (p *OIDCProvider) fetchDiscovery(ctx context.Context) (*discovery, error) {
	if d := p.discovered.Load(); d != nil {
		return d, nil
	}

	slog.Debug("discovering OIDC endpoints", "provider", p.cfg.Name, "issuer", p.cfg.Issuer)

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), p.cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to discover OIDC endpoints: %w", ErrUpstream, err)
	}

	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%w: failed to extract provider claims: %w", ErrUpstream, err)
	}

	endpoint := provider.Endpoint()
	endpoint.AuthStyle = p.cfg.AuthStyle

	d := &discovery{
		endpoint:   endpoint,
		verifier:   provider.Verifier(&oidc.Config{ClientID: p.cfg.ClientID}),
		endSession: extra.EndSessionEndpoint,
	}
	p.discovered.Store(d)
	return d, nil
}

// stringSlice converts a decoded JSON claim into a string list.
func stringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{t}
	default:
		return nil
	}
}

// Compile-time interface check.
var _ Provider = (*OIDCProvider)(nil)
