// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"crypto/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/inconnu/pkg/broker/metrics"
	"github.com/stacklok/inconnu/pkg/broker/storage"
	"github.com/stacklok/inconnu/pkg/broker/tokens"
	"github.com/stacklok/inconnu/pkg/broker/upstream"
)

// Default handshake lifetimes. The state secret lives longer than the code:
// it has to outlast the user's sign-in at the provider, while the code is
// redeemed by the receiver right after the redirect.
const (
	DefaultStateTTL   = 10 * time.Minute
	DefaultCodeTTL    = time.Minute
	DefaultCookieName = "inconnu-auth"
)

// Parameter names of the flow.
const (
	paramState     = "state"
	paramCode      = "code"
	paramReceiver  = "receiver"
	paramSatellite = "satellite"
	paramRedirect  = "redirect"
	paramJWT       = "jwt"
	paramTTL       = "ttl"

	// stateSecret carries the hub's own secret inside the provider state.
	stateSecret = "secret"

	// storedRoute records which route minted a stored secret.
	storedRoute = "inconnu_route"
)

// Config configures the broker's HTTP surface.
type Config struct {
	// PublicURL fixes the origin used in callback URLs. When empty, the
	// origin is derived from the request's Host header.
	PublicURL string

	// HomeURL is the target of GET /. Empty disables the redirect.
	HomeURL string

	// HubURL switches the handler to satellite mode.
	HubURL string

	StateTTL time.Duration
	CodeTTL  time.Duration

	CookieName   string
	CookieDomain string

	// FilterClaim and FilterAllow restrict token issuance to identities
	// whose claim matches one of the path.Match patterns.
	FilterClaim string
	FilterAllow []string

	// AllowedReceivers lists the origins absolute redirect targets may
	// point at. Empty accepts any origin.
	AllowedReceivers []string

	// LogRequests enables per-request logging.
	LogRequests bool
}

// HubClient redeems a code against a hub base URL.
type HubClient interface {
	Redeem(ctx context.Context, base, code string) (upstream.Payload, error)
}

// Handler serves the broker's endpoints.
type Handler struct {
	cfg       Config
	store     storage.Store
	tokens    *tokens.Service
	providers *upstream.Registry
	hub       HubClient
	metrics   *metrics.Metrics
	filter    claimFilter
	newSecret func() string
}

// Option configures a Handler.
type Option func(*Handler)

// WithHubClient sets the client used in satellite mode.
func WithHubClient(c HubClient) Option {
	return func(h *Handler) {
		h.hub = c
	}
}

// WithMetrics records flow metrics and serves them at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a Handler.
func NewHandler(
	cfg Config,
	store storage.Store,
	tokenService *tokens.Service,
	providers *upstream.Registry,
	opts ...Option,
) *Handler {
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultStateTTL
	}
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if providers == nil {
		providers = upstream.NewRegistry()
	}

	h := &Handler{
		cfg:       cfg,
		store:     store,
		tokens:    tokenService,
		providers: providers,
		filter:    claimFilter{claim: cfg.FilterClaim, allow: cfg.FilterAllow},
		newSecret: rand.Text,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SatelliteMode reports whether authentication is delegated to a hub.
func (h *Handler) SatelliteMode() bool {
	return h.cfg.HubURL != ""
}

// Routes returns a router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if h.cfg.LogRequests {
		r.Use(requestLogger)
	}

	r.Get("/", h.HomeHandler)
	r.Get("/healthz", h.HealthHandler)
	r.Get("/.well-known/jwks.json", h.JWKSHandler)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	h.verifyRoutes(r)

	if h.SatelliteMode() {
		h.SatelliteRoutes(r)
		r.Route("/{provider}", func(r chi.Router) {
			h.SatelliteRoutes(r)
			h.verifyRoutes(r)
		})
		return r
	}

	r.Route("/{provider}", func(r chi.Router) {
		h.HubRoutes(r)
		h.verifyRoutes(r)
	})
	return r
}

// HubRoutes registers the provider flow endpoints of a hub.
func (h *Handler) HubRoutes(r chi.Router) {
	r.Get("/authenticate", h.AuthenticateHandler)
	r.Get("/authenticated", h.AuthenticatedHandler)
	r.With(cors).Get("/redeem", h.RedeemHandler)
	r.With(cors).Options("/redeem", noContent)
	r.Get("/logout", h.LogoutHandler)
}

// SatelliteRoutes registers the delegated flow endpoints of a satellite.
func (h *Handler) SatelliteRoutes(r chi.Router) {
	r.Get("/authenticate", h.SatelliteAuthenticateHandler)
	r.Get("/authenticated", h.SatelliteAuthenticatedHandler)
	r.Get("/logout", h.SatelliteLogoutHandler)
}

func (h *Handler) verifyRoutes(r chi.Router) {
	r.With(cors).Get("/verify", h.VerifyHandler)
	r.With(cors).Options("/verify", noContent)
}

// HomeHandler redirects to the configured home page.
func (h *Handler) HomeHandler(w http.ResponseWriter, r *http.Request) {
	if h.cfg.HomeURL == "" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, h.cfg.HomeURL, http.StatusFound)
}

// HealthHandler reports whether the secret store answers.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.store.Ping(r.Context()); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("secret store unavailable"))
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// JWKSHandler publishes the public signing keys. HMAC keys have none.
func (h *Handler) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	jwks := h.tokens.JWKS()
	if len(jwks.Keys) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, jwks)
}
