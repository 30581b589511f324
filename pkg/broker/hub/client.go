// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package hub implements the client a satellite uses to redeem correlation
// codes issued by its hub.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/stacklok/inconnu/pkg/broker/upstream"
	"github.com/stacklok/inconnu/pkg/networking"
	"github.com/stacklok/inconnu/pkg/versions"
)

// ErrRedeemRejected is returned when the hub does not answer a redeem request
// with an identity payload.
var ErrRedeemRejected = errors.New("hub rejected redeem request")

// Client redeems codes against a hub.
type Client struct {
	httpClient networking.HTTPClient
}

// NewClient creates a hub client. A nil httpClient uses a client from the
// networking builder that permits private addresses, since hubs commonly
// live on the same network as their satellites.
func NewClient(httpClient networking.HTTPClient) (*Client, error) {
	if httpClient == nil {
		c, err := networking.NewHttpClientBuilder().WithPrivateIPs(true).Build()
		if err != nil {
			return nil, fmt.Errorf("failed to build hub HTTP client: %w", err)
		}
		httpClient = c
	}
	return &Client{httpClient: httpClient}, nil
}

// BaseURL returns the hub base for a route prefix. An empty provider name
// addresses the hub as configured.
func BaseURL(hubURL, provider string) string {
	hubURL = strings.TrimSuffix(hubURL, "/")
	if provider == "" {
		return hubURL
	}
	return hubURL + "/" + url.PathEscape(provider)
}

// Redeem exchanges code at base/redeem for the identity payload.
func (c *Client) Redeem(ctx context.Context, base, code string) (upstream.Payload, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: no code", ErrRedeemRejected)
	}

	redeemURL := strings.TrimSuffix(base, "/") + "/redeem?" + url.Values{"code": {code}}.Encode()
	payload, err := networking.FetchJSON[upstream.Payload](ctx, c.httpClient, redeemURL,
		networking.WithHeader("User-Agent", versions.UserAgent()))
	if err != nil {
		// A 401 is the hub's normal answer to a spent or unknown code.
		if !networking.IsHTTPError(err, http.StatusUnauthorized) {
			slog.Warn("hub redeem failed", "base", base, "error", err)
		}
		return nil, fmt.Errorf("%w: %w", ErrRedeemRejected, err)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrRedeemRejected)
	}
	return payload, nil
}
