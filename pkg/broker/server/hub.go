// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/inconnu/pkg/broker/config"
	"github.com/stacklok/inconnu/pkg/broker/metrics"
	"github.com/stacklok/inconnu/pkg/broker/upstream"
	brokererrors "github.com/stacklok/inconnu/pkg/errors"
)

const (
	modeHub       = "hub"
	modeSatellite = "satellite"

	stepAuthenticated = "authenticated"
	stepRedeem        = "redeem"
)

func (h *Handler) provider(r *http.Request) (upstream.Provider, error) {
	p, err := h.providers.Get(chi.URLParam(r, "provider"))
	if err != nil {
		return nil, brokererrors.NewNotConfiguredError("provider not configured", err)
	}
	return p, nil
}

// AuthenticateHandler handles GET /{provider}/authenticate.
// The query becomes the provider state, with the broker's secret added.
func (h *Handler) AuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	state := r.URL.Query()
	if receiver := state.Get(paramReceiver); receiver != "" {
		if _, err := h.resolveReceiver(r, receiver); err != nil {
			writeError(w, r, brokererrors.NewInvalidArgumentError(err.Error(), nil))
			return
		}
	}

	secret := h.newSecret()
	if err := h.store.Set(ctx, secret, boundTo(url.Values{}, p.Name()), h.cfg.StateTTL); err != nil {
		writeError(w, r, brokererrors.NewInternalError("failed to store state", err))
		return
	}
	state.Set(stateSecret, secret)

	target, err := p.AuthCodeURL(ctx, state, h.origin(r))
	if err != nil {
		writeError(w, r, brokererrors.NewUpstreamError("failed to start provider flow", err))
		return
	}

	h.metrics.FlowStarted(p.Name(), modeHub)
	http.Redirect(w, r, target, http.StatusFound)
}

// AuthenticatedHandler handles GET /{provider}/authenticated, the provider's
// callback. It redeems the state secret and hands the callback to the
// receiver under a fresh code.
func (h *Handler) AuthenticatedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	rawState := query.Get(paramState)
	if rawState == "" {
		h.metrics.Redeemed(stepAuthenticated, metrics.OutcomeRejected)
		writeError(w, r, brokererrors.NewUnauthorizedError("state is missing", nil))
		return
	}
	state, err := url.ParseQuery(rawState)
	if err != nil {
		writeError(w, r, brokererrors.NewInvalidArgumentError("state is malformed", err))
		return
	}

	receiverRaw := state.Get(paramReceiver)
	if receiverRaw == "" {
		receiverRaw = "/" + url.PathEscape(p.Name()) + "/redeem"
	}
	receiver, err := h.resolveReceiver(r, receiverRaw)
	if err != nil {
		writeError(w, r, brokererrors.NewInvalidArgumentError(err.Error(), nil))
		return
	}

	if _, ok := h.popBound(ctx, state.Get(stateSecret), p.Name()); !ok {
		h.metrics.Redeemed(stepAuthenticated, metrics.OutcomeRejected)
		writeError(w, r, brokererrors.NewUnauthorizedError("state secret not found", nil))
		return
	}
	h.metrics.Redeemed(stepAuthenticated, metrics.OutcomeSuccess)

	exchange := boundTo(maps.Clone(query), p.Name())
	exchange.Set(upstream.ExchangeRedirectURIKey, upstream.CallbackURL(h.origin(r), p.Name()))

	code := h.newSecret()
	if err := h.store.Set(ctx, code, exchange, h.cfg.CodeTTL); err != nil {
		writeError(w, r, brokererrors.NewInternalError("failed to store code", err))
		return
	}

	params := passthrough(state)
	params.Set(paramCode, code)
	http.Redirect(w, r, withQuery(receiver, params), http.StatusFound)
}

// RedeemHandler handles GET /{provider}/redeem?code=...[&jwt=1][&ttl=...].
// The stored callback is exchanged with the provider for the identity
// payload.
func (h *Handler) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	var ttl time.Duration
	if raw := query.Get(paramTTL); raw != "" {
		if ttl, err = config.ParseDuration(raw); err != nil || ttl <= 0 {
			writeError(w, r, brokererrors.NewInvalidArgumentError("ttl is not a valid duration", err))
			return
		}
	}

	exchange, ok := h.popBound(ctx, query.Get(paramCode), p.Name())
	if !ok {
		h.metrics.Redeemed(stepRedeem, metrics.OutcomeRejected)
		writeError(w, r, brokererrors.NewUnauthorizedError("code not found", nil))
		return
	}

	payload, err := p.Payload(ctx, exchange)
	if err != nil {
		h.metrics.Redeemed(stepRedeem, metrics.OutcomeError)
		writeError(w, r, brokererrors.NewUpstreamError("provider exchange failed", err))
		return
	}
	if !h.filter.allows(payload) {
		h.metrics.Redeemed(stepRedeem, metrics.OutcomeRejected)
		slog.Info("identity rejected by claim filter", "provider", p.Name(), "username", payload.Username())
		writeError(w, r, brokererrors.NewUnauthorizedError("identity not allowed", nil))
		return
	}
	h.metrics.Redeemed(stepRedeem, metrics.OutcomeSuccess)

	body := maps.Clone(map[string]any(payload))
	if truthy(query.Get(paramJWT)) {
		token, expiresAt, err := h.tokens.Issue(payload, ttl)
		if err != nil {
			writeError(w, r, brokererrors.NewInternalError("failed to issue token", err))
			return
		}
		h.metrics.TokenIssued()
		body[paramJWT] = token
		body["exp"] = expiresAt.Unix()
	}
	writeJSON(w, http.StatusOK, body)
}

// LogoutHandler handles GET /{provider}/logout.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.provider(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, p.LogoutURL(), http.StatusFound)
}
