// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/inconnu/pkg/broker/keys"
	"github.com/stacklok/inconnu/pkg/broker/metrics"
	"github.com/stacklok/inconnu/pkg/broker/storage"
	"github.com/stacklok/inconnu/pkg/broker/tokens"
	"github.com/stacklok/inconnu/pkg/broker/upstream"
	"github.com/stacklok/inconnu/pkg/broker/upstream/mocks"
)

const (
	upstreamCode = "upstream-code"
	idpAuthorize = "https://idp.example/authorize"
	idpLogout    = "https://idp.example/logout"
	testSecret   = "0123456789abcdef0123456789abcdef"
)

func newKeyProvider(t *testing.T) keys.KeyProvider {
	t.Helper()
	p, err := keys.NewHMACProvider([]byte(testSecret))
	require.NoError(t, err)
	return p
}

func newTokenService(t *testing.T, provider keys.KeyProvider, opts ...tokens.Option) *tokens.Service {
	t.Helper()
	svc, err := tokens.NewService(provider, tokens.Config{}, opts...)
	require.NoError(t, err)
	return svc
}

func newStore(t *testing.T) *storage.MemoryStorage {
	t.Helper()
	s := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fakeProvider is a mock provider that behaves like a real one: the
// authorization URL carries the state, and only upstreamCode yields payload.
type fakeProvider struct {
	*mocks.MockProvider
	payloadCalls atomic.Int32
}

func newFakeProvider(ctrl *gomock.Controller, name string, payload upstream.Payload) *fakeProvider {
	f := &fakeProvider{MockProvider: mocks.NewMockProvider(ctrl)}
	f.EXPECT().Name().Return(name).AnyTimes()
	f.EXPECT().LogoutURL().Return(idpLogout).AnyTimes()
	f.EXPECT().AuthCodeURL(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, state url.Values, origin string) (string, error) {
			return idpAuthorize + "?" + url.Values{
				"state":        {state.Encode()},
				"redirect_uri": {upstream.CallbackURL(origin, name)},
			}.Encode(), nil
		}).AnyTimes()
	f.EXPECT().Payload(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, exchange url.Values) (upstream.Payload, error) {
			f.payloadCalls.Add(1)
			if exchange.Get("code") != upstreamCode {
				return nil, upstream.ErrUpstream
			}
			return payload, nil
		}).AnyTimes()
	return f
}

type hubFixture struct {
	handler  *Handler
	routes   http.Handler
	store    *storage.MemoryStorage
	tokens   *tokens.Service
	provider *fakeProvider
}

func newHubFixture(t *testing.T, cfg Config, payload upstream.Payload, opts ...Option) *hubFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	if payload == nil {
		payload = upstream.Payload{"username": "alice@example.com"}
	}
	provider := newFakeProvider(ctrl, "okta", payload)
	store := newStore(t)
	svc := newTokenService(t, newKeyProvider(t))
	h := NewHandler(cfg, store, svc, upstream.NewRegistry(provider), opts...)
	return &hubFixture{handler: h, routes: h.Routes(), store: store, tokens: svc, provider: provider}
}

type requestOption func(*http.Request)

func withHeader(key, value string) requestOption {
	return func(r *http.Request) { r.Header.Set(key, value) }
}

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func serve(t *testing.T, h http.Handler, method, target string, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, target string, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	return serve(t, h, http.MethodGet, target, opts...)
}

func location(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

// providerCallback follows an authenticate redirect the way the provider
// would, returning the callback target.
func providerCallback(t *testing.T, authenticate *httptest.ResponseRecorder, origin string) string {
	t.Helper()
	idp := location(t, authenticate)
	require.Equal(t, idpAuthorize, idp.Scheme+"://"+idp.Host+idp.Path)
	return origin + "/okta/authenticated?" + url.Values{
		"state": {idp.Query().Get("state")},
		"code":  {upstreamCode},
	}.Encode()
}

func TestHandler_Home(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, Config{HomeURL: "https://github.com/stacklok/inconnu"}, nil)
	rec := get(t, f.routes, "/")
	assert.Equal(t, "https://github.com/stacklok/inconnu", location(t, rec).String())

	f = newHubFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, f.routes, "/").Code)
}

func TestHandler_Health(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, Config{}, nil)
	rec := get(t, f.routes, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_JWKS(t *testing.T) {
	t.Parallel()

	hmac := newHubFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, hmac.routes, "/.well-known/jwks.json").Code)

	provider, err := keys.NewGeneratingProvider(jose.ES256)
	require.NoError(t, err)
	svc := newTokenService(t, provider)
	h := NewHandler(Config{}, newStore(t), svc, nil)

	rec := get(t, h.Routes(), "/.well-known/jwks.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var set jose.JSONWebKeySet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	require.Len(t, set.Keys, 1)
	assert.Equal(t, provider.SigningKey().KeyID, set.Keys[0].KeyID)
	assert.True(t, set.Keys[0].IsPublic())
}

func TestHandler_Metrics(t *testing.T) {
	t.Parallel()

	m := metrics.New(metrics.Config{})
	f := newHubFixture(t, Config{}, nil, WithMetrics(m))
	get(t, f.routes, "http://localhost:3001/okta/authenticate")

	rec := get(t, f.routes, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `inconnu_flows_started_total{mode="hub",provider="okta"} 1`)

	plain := newHubFixture(t, Config{}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, plain.routes, "/metrics").Code)
}

func TestHandler_RequestLogging(t *testing.T) {
	t.Parallel()

	f := newHubFixture(t, Config{LogRequests: true}, nil)
	rec := get(t, f.routes, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestHandler_Origin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		publicURL string
		target    string
		want      string
	}{
		{name: "localhost is plain http", target: "http://localhost:3001/okta/authenticate", want: "http://localhost:3001"},
		{name: "other hosts are https", target: "http://sso.example.com/okta/authenticate", want: "https://sso.example.com"},
		{name: "public url wins", publicURL: "https://sso.example.com/", target: "http://10.0.0.5:3001/okta/authenticate", want: "https://sso.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newHubFixture(t, Config{PublicURL: tt.publicURL}, nil)
			idp := location(t, get(t, f.routes, tt.target))
			assert.Equal(t, tt.want+"/okta/authenticated", idp.Query().Get("redirect_uri"))
		})
	}
}

func TestHandler_RoutesPerMode(t *testing.T) {
	t.Parallel()

	hubMode := newHubFixture(t, Config{}, nil)
	assert.False(t, hubMode.handler.SatelliteMode())
	assert.Equal(t, http.StatusNotFound, get(t, hubMode.routes, "/authenticate").Code)

	sat := NewHandler(Config{HubURL: "https://hub.example"}, newStore(t), newTokenService(t, newKeyProvider(t)), nil)
	assert.True(t, sat.SatelliteMode())
	routes := sat.Routes()
	assert.Equal(t, http.StatusFound, get(t, routes, "/authenticate").Code)
	assert.Equal(t, http.StatusNotFound, get(t, routes, "/okta/redeem?code=x").Code)
	assert.True(t, strings.HasPrefix(get(t, routes, "/okta/logout").Header().Get("Location"), "https://hub.example/okta/logout"))
}

func TestNewHandler_HandshakeDefaults(t *testing.T) {
	t.Parallel()
	f := newHubFixture(t, Config{}, nil)

	assert.Equal(t, DefaultStateTTL, f.handler.cfg.StateTTL)
	assert.Equal(t, DefaultCodeTTL, f.handler.cfg.CodeTTL)
	assert.Greater(t, f.handler.cfg.StateTTL, f.handler.cfg.CodeTTL, "the state secret outlasts the sign-in, the code is redeemed at once")

	f = newHubFixture(t, Config{StateTTL: time.Minute, CodeTTL: 30 * time.Second}, nil)
	assert.Equal(t, time.Minute, f.handler.cfg.StateTTL)
	assert.Equal(t, 30*time.Second, f.handler.cfg.CodeTTL)
}
