// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"net/http"
)

// Option configures a provider.
type Option func(*options)

type options struct {
	httpClient *http.Client
	authority  string
	graphURL   string
}

func newOptions(opts []Option) *options {
	o := &options{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithHTTPClient sets the client used for discovery, token exchange and API
// calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithAuthority overrides the Microsoft identity platform authority
// (default https://login.microsoftonline.com/).
func WithAuthority(authority string) Option {
	return func(o *options) {
		o.authority = authority
	}
}

// WithGraphURL overrides the Microsoft Graph group membership endpoint.
func WithGraphURL(graphURL string) Option {
	return func(o *options) {
		o.graphURL = graphURL
	}
}
