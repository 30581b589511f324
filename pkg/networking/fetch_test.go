// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testResponse struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

func TestFetchJSON_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, ContentTypeJSON, r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(testResponse{Message: "hello", Value: 42})
	}))
	defer server.Close()

	got, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL, WithBearerToken("tok"))
	require.NoError(t, err)
	assert.Equal(t, testResponse{Message: "hello", Value: 42}, got)
}

func TestFetchJSON_HTTPError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(strings.Repeat("x", 2*DefaultErrorPreviewSize)))
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL+"/redeem?code=secret")
	require.Error(t, err)
	assert.True(t, IsHTTPError(err, http.StatusUnauthorized))
	assert.True(t, IsHTTPError(err, 0))
	assert.False(t, IsHTTPError(err, http.StatusNotFound))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Len(t, httpErr.Body, DefaultErrorPreviewSize)
	assert.NotContains(t, err.Error(), "secret", "the query never reaches the error text")
}

func TestFetchJSON_ContentTypeValidation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"message":"hi"}`))
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")
}

func TestFetchJSON_InvalidJSON(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ContentTypeJSON)
		_, _ = w.Write([]byte(`{"message":`))
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse JSON response")
}

func TestFetchJSON_ContextCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := FetchJSON[testResponse](ctx, server.Client(), server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchJSON_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := FetchJSON[testResponse](context.Background(), http.DefaultClient, "://bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create request")
}
