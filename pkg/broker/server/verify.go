// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/stacklok/inconnu/pkg/broker/metrics"
	"github.com/stacklok/inconnu/pkg/broker/tokens"
)

// VerifyHandler handles GET /verify. The token is read from the bearer
// header, then the session cookie, then the jwt query parameter.
func (h *Handler) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	token := h.requestToken(r)
	if token == "" {
		h.metrics.Verified(metrics.OutcomeRejected)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing token"})
		return
	}

	payload, err := h.tokens.Verify(token)
	if err != nil {
		h.metrics.Verified(metrics.OutcomeRejected)
		reason := "invalid token"
		if errors.Is(err, tokens.ErrExpiredToken) {
			reason = "token expired"
		}
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: reason})
		return
	}

	h.metrics.Verified(metrics.OutcomeSuccess)
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, _ := strings.Cut(auth, " ")
		if token = strings.TrimSpace(token); token != "" && strings.EqualFold(scheme, "Bearer") {
			return token
		}
	}
	if c, err := r.Cookie(h.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get(paramJWT)
}
