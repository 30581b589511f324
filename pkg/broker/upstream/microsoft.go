// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/time/rate"

	"github.com/stacklok/inconnu/pkg/networking"
)

const (
	// MicrosoftName is the route segment of the Microsoft provider.
	MicrosoftName = "microsoft"

	// DefaultMicrosoftTenant accepts work, school and personal accounts.
	DefaultMicrosoftTenant = "common"

	defaultMicrosoftAuthority = "https://login.microsoftonline.com/"

	defaultGraphMemberOfURL = "https://graph.microsoft.com/v1.0/me/memberOf?$select=displayName&$top=999"

	// Graph throttles per app; lookups are held to this rate locally.
	graphRequestsPerSecond = 20
	graphBurst             = 40
)

// DefaultMicrosoftScopes include the Graph permissions needed for group
// membership lookups.
var DefaultMicrosoftScopes = []string{oidc.ScopeOpenID, "profile", "email", "User.Read", "Directory.Read.All"}

// MicrosoftConfig configures the Microsoft identity platform provider.
type MicrosoftConfig struct {
	// Tenant is a tenant ID or domain, or one of common, organizations and
	// consumers. Defaults to DefaultMicrosoftTenant.
	Tenant string

	ClientID     string
	ClientSecret string

	// Scopes default to DefaultMicrosoftScopes.
	Scopes []string
}

// MicrosoftProvider implements Provider for Microsoft Entra ID (Azure AD v2).
//
// The username is the lower-cased preferred_username of the ID token. When
// the round-tripped state carries a comma-separated memberOf list, the
// signed-in user's groups are read from Microsoft Graph and the payload's
// memberOf claim lists the requested groups the user belongs to.
type MicrosoftProvider struct {
	cfg        MicrosoftConfig
	authority  string
	endpoint   oauth2.Endpoint
	verifier   *oidc.IDTokenVerifier
	graphURL   string
	httpClient *http.Client

	graphLimiter *rate.Limiter
}

// NewMicrosoftProvider creates the Microsoft provider.
func NewMicrosoftProvider(cfg MicrosoftConfig, opts ...Option) (*MicrosoftProvider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("microsoft client_id is required")
	}
	if cfg.Tenant == "" {
		cfg.Tenant = DefaultMicrosoftTenant
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultMicrosoftScopes
	}

	o := newOptions(opts)

	p := &MicrosoftProvider{
		cfg:        cfg,
		authority:  defaultMicrosoftAuthority,
		endpoint:   microsoft.AzureADEndpoint(cfg.Tenant),
		graphURL:   defaultGraphMemberOfURL,
		httpClient: o.httpClient,

		graphLimiter: rate.NewLimiter(graphRequestsPerSecond, graphBurst),
	}
	if o.authority != "" {
		p.authority = strings.TrimSuffix(o.authority, "/") + "/"
		p.endpoint = oauth2.Endpoint{
			AuthURL:  p.tenantURL("oauth2/v2.0/authorize"),
			TokenURL: p.tenantURL("oauth2/v2.0/token"),
		}
	}
	if o.graphURL != "" {
		p.graphURL = o.graphURL
	}
	p.endpoint.AuthStyle = oauth2.AuthStyleInParams

	// Multi-tenant endpoints issue tokens whose issuer names the user's own
	// tenant, so the issuer can only be pinned for a single tenant.
	multiTenant := slices.Contains([]string{"common", "organizations", "consumers"}, cfg.Tenant)
	keySet := oidc.NewRemoteKeySet(oidc.ClientContext(context.Background(), p.httpClient), p.tenantURL("discovery/v2.0/keys"))
	p.verifier = oidc.NewVerifier(p.tenantURL("v2.0"), keySet, &oidc.Config{
		ClientID:        cfg.ClientID,
		SkipIssuerCheck: multiTenant,
	})

	return p, nil
}

func (p *MicrosoftProvider) tenantURL(path string) string {
	return p.authority + p.cfg.Tenant + "/" + path
}

// Name implements Provider.
func (*MicrosoftProvider) Name() string {
	return MicrosoftName
}

// AuthCodeURL implements Provider.
func (p *MicrosoftProvider) AuthCodeURL(_ context.Context, state url.Values, origin string) (string, error) {
	return p.oauth2Config(CallbackURL(origin, MicrosoftName)).AuthCodeURL(state.Encode()), nil
}

// LogoutURL implements Provider.
func (p *MicrosoftProvider) LogoutURL() string {
	return p.tenantURL("oauth2/v2.0/logout")
}

// Payload implements Provider.
func (p *MicrosoftProvider) Payload(ctx context.Context, exchange url.Values) (Payload, error) {
	if err := callbackError(exchange); err != nil {
		return nil, fmt.Errorf("%w: provider returned %w", ErrUpstream, err)
	}
	code := exchange.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: callback carries no authorization code", ErrUpstream)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth2Config(exchange.Get(ExchangeRedirectURIKey)).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %w", ErrUpstream, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: token response carries no ID token", ErrUpstream)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to verify ID token: %w", ErrUpstream, err)
	}

	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to decode ID token claims: %w", ErrUpstream, err)
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	if username == "" {
		return nil, fmt.Errorf("%w: ID token has no preferred_username claim", ErrUpstream)
	}

	payload := Payload{ClaimUsername: strings.ToLower(username)}

	requested := requestedGroups(decodeState(exchange).Get(ClaimMemberOf))
	if len(requested) == 0 {
		return payload, nil
	}

	groups, err := p.memberOf(ctx, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: group lookup: %w", ErrUpstream, err)
	}
	matched := make([]string, 0, len(requested))
	for _, g := range requested {
		if slices.Contains(groups, g) {
			matched = append(matched, g)
		}
	}
	payload[ClaimMemberOf] = matched
	return payload, nil
}

type graphMemberOfResponse struct {
	Value []struct {
		DisplayName string `json:"displayName"`
	} `json:"value"`
}

// memberOf returns the display names of the user's groups and roles.
func (p *MicrosoftProvider) memberOf(ctx context.Context, accessToken string) ([]string, error) {
	if err := p.graphLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	resp, err := networking.FetchJSON[graphMemberOfResponse](ctx, p.httpClient, p.graphURL,
		networking.WithBearerToken(accessToken))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Value))
	for _, v := range resp.Value {
		names = append(names, v.DisplayName)
	}
	return names, nil
}

func (p *MicrosoftProvider) oauth2Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Endpoint:     p.endpoint,
		RedirectURL:  redirectURL,
		Scopes:       p.cfg.Scopes,
	}
}

// requestedGroups splits a comma-separated group list, dropping blanks.
func requestedGroups(list string) []string {
	var out []string
	for _, g := range strings.Split(list, ",") {
		if g = strings.TrimSpace(g); g != "" {
			out = append(out, g)
		}
	}
	return out
}

// Compile-time interface check.
var _ Provider = (*MicrosoftProvider)(nil)
