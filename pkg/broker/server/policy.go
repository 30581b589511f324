// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/stacklok/inconnu/pkg/broker/upstream"
	"github.com/stacklok/inconnu/pkg/networking"
)

var (
	errReceiverInvalid    = errors.New("receiver must be an absolute http(s) URL or a root-relative path")
	errReceiverNotAllowed = errors.New("receiver origin is not allowed")
)

// origin returns the externally visible origin of the broker. Without a
// configured public URL it follows the Host header, using plain http only
// for localhost.
func (h *Handler) origin(r *http.Request) string {
	if h.cfg.PublicURL != "" {
		return strings.TrimSuffix(h.cfg.PublicURL, "/")
	}
	scheme := "https"
	if r.TLS == nil && networking.IsLocalhost(r.Host) {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}

// resolveReceiver parses a redirect target and checks it against the
// allow-list. Root-relative paths and the broker's own origin are always
// accepted.
func (h *Handler) resolveReceiver(r *http.Request, raw string) (*url.URL, error) {
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return nil, errReceiverInvalid
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errReceiverInvalid
	}

	if !u.IsAbs() {
		if u.Host != "" || !strings.HasPrefix(u.Path, "/") {
			return nil, errReceiverInvalid
		}
		return u, nil
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errReceiverInvalid
	}
	if len(h.cfg.AllowedReceivers) == 0 {
		return u, nil
	}
	target := u.Scheme + "://" + u.Host
	if strings.EqualFold(target, h.origin(r)) {
		return u, nil
	}
	for _, allowed := range h.cfg.AllowedReceivers {
		if strings.EqualFold(target, strings.TrimSuffix(allowed, "/")) {
			return u, nil
		}
	}
	return nil, errReceiverNotAllowed
}

// claimFilter admits identities whose claim matches an allowed pattern.
// An empty allow list admits everyone.
type claimFilter struct {
	claim string
	allow []string
}

func (f claimFilter) allows(p upstream.Payload) bool {
	if len(f.allow) == 0 {
		return true
	}
	for _, value := range claimValues(p[f.claim]) {
		for _, pattern := range f.allow {
			if ok, _ := path.Match(pattern, value); ok {
				return true
			}
		}
	}
	return false
}

func claimValues(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
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
	default:
		return nil
	}
}

// boundTo marks v as minted under route.
func boundTo(v url.Values, route string) url.Values {
	v.Set(storedRoute, route)
	return v
}

// popBound redeems key and reports whether it was minted under route. A
// secret presented on the wrong route is spent all the same.
func (h *Handler) popBound(ctx context.Context, key, route string) (url.Values, bool) {
	v, ok := h.store.Pop(ctx, key)
	if !ok || v.Get(storedRoute) != route {
		return nil, false
	}
	v.Del(storedRoute)
	return v, true
}

// passthrough returns the caller's state without the broker's own keys.
func passthrough(state url.Values) url.Values {
	out := make(url.Values, len(state))
	for k, vs := range state {
		if k == stateSecret || k == paramReceiver {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// withQuery appends params to u's query. Existing values under the same
// keys are replaced.
func withQuery(u *url.URL, params url.Values) string {
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	out := *u
	out.RawQuery = q.Encode()
	return out.String()
}

// truthy reports whether a query flag is set.
func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "off":
		return false
	default:
		return true
	}
}
