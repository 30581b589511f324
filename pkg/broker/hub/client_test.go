// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURL(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "https://hub.example", BaseURL("https://hub.example/", ""))
	assert.Equal(t, "https://hub.example/okta", BaseURL("https://hub.example", "okta"))
	assert.Equal(t, "https://hub.example/sso/okta", BaseURL("https://hub.example/sso/", "okta"))
}

func TestClient_Redeem(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		code    string
		want    map[string]any
		wantErr bool
	}{
		{
			name: "payload returned",
			code: "S2",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/okta/redeem" || r.URL.Query().Get("code") != "S2" ||
					!strings.HasPrefix(r.UserAgent(), "inconnu/") {
					http.Error(w, "unexpected request", http.StatusBadRequest)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"username":"alice","memberOf":["admins"]}`))
			},
			want: map[string]any{"username": "alice", "memberOf": []any{"admins"}},
		},
		{
			name: "code rejected",
			code: "spent",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			},
			wantErr: true,
		},
		{
			name: "hub failure",
			code: "S2",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
			wantErr: true,
		},
		{
			name: "not json",
			code: "S2",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				_, _ = w.Write([]byte("<html></html>"))
			},
			wantErr: true,
		},
		{
			name: "null payload",
			code: "S2",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("null"))
			},
			wantErr: true,
		},
		{
			name: "empty code is not sent",
			code: "",
			handler: func(_ http.ResponseWriter, _ *http.Request) {
				t.Error("hub must not be called without a code")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client, err := NewClient(nil)
			require.NoError(t, err)

			got, err := client.Redeem(context.Background(), BaseURL(srv.URL, "okta"), tt.code)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrRedeemRejected)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, map[string]any(got))
		})
	}
}

func TestClient_RedeemTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	client, err := NewClient(srv.Client())
	require.NoError(t, err)
	_, err = client.Redeem(context.Background(), base, "S2")
	require.ErrorIs(t, err, ErrRedeemRejected)
}
