// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stacklok/inconnu/pkg/broker/hub"
	"github.com/stacklok/inconnu/pkg/broker/metrics"
	brokererrors "github.com/stacklok/inconnu/pkg/errors"
)

const defaultSatelliteLanding = "/verify"

// satelliteRoute returns the hub base and the local route prefix of a
// satellite request. Routes at the root address the hub as configured.
func (h *Handler) satelliteRoute(r *http.Request) (base, prefix string) {
	name := chi.URLParam(r, "provider")
	if name == "" {
		return hub.BaseURL(h.cfg.HubURL, ""), ""
	}
	return hub.BaseURL(h.cfg.HubURL, name), "/" + url.PathEscape(name)
}

// SatelliteAuthenticateHandler sends the browser to the hub with this
// satellite as the receiver.
func (h *Handler) SatelliteAuthenticateHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base, prefix := h.satelliteRoute(r)

	query := r.URL.Query()
	if redirect := query.Get(paramRedirect); redirect != "" {
		if _, err := h.resolveReceiver(r, redirect); err != nil {
			writeError(w, r, brokererrors.NewInvalidArgumentError(err.Error(), nil))
			return
		}
	}

	secret := h.newSecret()
	if err := h.store.Set(ctx, secret, boundTo(url.Values{}, prefix), h.cfg.StateTTL); err != nil {
		writeError(w, r, brokererrors.NewInternalError("failed to store state", err))
		return
	}
	query.Set(paramSatellite, secret)
	query.Set(paramReceiver, h.origin(r)+prefix+"/authenticated")

	h.metrics.FlowStarted(strings.TrimPrefix(prefix, "/"), modeSatellite)
	http.Redirect(w, r, base+"/authenticate?"+query.Encode(), http.StatusFound)
}

// SatelliteAuthenticatedHandler receives the hub's code, redeems it at the
// hub and stores a locally signed token in the session cookie.
func (h *Handler) SatelliteAuthenticatedHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	base, prefix := h.satelliteRoute(r)
	query := r.URL.Query()

	landing := defaultSatelliteLanding
	if redirect := query.Get(paramRedirect); redirect != "" {
		u, err := h.resolveReceiver(r, redirect)
		if err != nil {
			writeError(w, r, brokererrors.NewInvalidArgumentError(err.Error(), nil))
			return
		}
		landing = u.String()
	}

	if _, ok := h.popBound(ctx, query.Get(paramSatellite), prefix); !ok {
		h.metrics.Redeemed(stepAuthenticated, metrics.OutcomeRejected)
		writeError(w, r, brokererrors.NewUnauthorizedError("satellite secret not found", nil))
		return
	}

	if h.hub == nil {
		writeError(w, r, brokererrors.NewInternalError("no hub client configured", nil))
		return
	}
	payload, err := h.hub.Redeem(ctx, base, query.Get(paramCode))
	if err != nil {
		h.metrics.Redeemed(stepRedeem, metrics.OutcomeError)
		writeError(w, r, brokererrors.NewUpstreamError("hub redeem failed", err))
		return
	}
	if !h.filter.allows(payload) {
		h.metrics.Redeemed(stepRedeem, metrics.OutcomeRejected)
		writeError(w, r, brokererrors.NewUnauthorizedError("identity not allowed", nil))
		return
	}
	h.metrics.Redeemed(stepRedeem, metrics.OutcomeSuccess)

	token, expiresAt, err := h.tokens.Issue(payload, 0)
	if err != nil {
		writeError(w, r, brokererrors.NewInternalError("failed to issue token", err))
		return
	}
	h.metrics.TokenIssued()

	http.SetCookie(w, h.sessionCookie(r, token, expiresAt))
	http.Redirect(w, r, landing, http.StatusFound)
}

// SatelliteLogoutHandler clears the session cookie and continues at the
// hub's logout.
func (h *Handler) SatelliteLogoutHandler(w http.ResponseWriter, r *http.Request) {
	base, _ := h.satelliteRoute(r)
	cookie := h.sessionCookie(r, "", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	http.Redirect(w, r, base+"/logout", http.StatusFound)
}

func (h *Handler) sessionCookie(r *http.Request, value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.cfg.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.origin(r), "https://"),
		SameSite: http.SameSiteLaxMode,
	}
}
