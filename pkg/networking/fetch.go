// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultMaxResponseSize is the default maximum response body size (1MB).
	DefaultMaxResponseSize = 1024 * 1024

	// DefaultErrorPreviewSize is the maximum size of error body preview in HTTPError.
	DefaultErrorPreviewSize = 1024

	// ContentTypeJSON is the JSON content type.
	ContentTypeJSON = "application/json"
)

// HTTPClient is the subset of *http.Client used by FetchJSON.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPError represents a non-200 response.
type HTTPError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is a preview of the response body (limited to DefaultErrorPreviewSize).
	Body string

	// URL is the requested URL, without its query.
	URL string
}

// Error implements the error interface. The body preview is left out so
// upstream error details never reach a log line by accident.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP request to %s failed with status %d", e.URL, e.StatusCode)
}

// IsHTTPError checks if an error is an HTTPError with the specified status code.
// If statusCode is 0, it matches any HTTPError.
func IsHTTPError(err error, statusCode int) bool {
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return false
	}
	return statusCode == 0 || httpErr.StatusCode == statusCode
}

// FetchOption configures a fetch request.
type FetchOption func(*fetchOptions)

type fetchOptions struct {
	headers         http.Header
	maxResponseSize int64
}

// WithHeader adds a single header to the request.
func WithHeader(key, value string) FetchOption {
	return func(opts *fetchOptions) {
		opts.headers.Set(key, value)
	}
}

// WithBearerToken sets the Authorization header.
func WithBearerToken(token string) FetchOption {
	return WithHeader("Authorization", "Bearer "+token)
}

// WithMaxResponseSize sets the maximum response body size.
func WithMaxResponseSize(size int64) FetchOption {
	return func(opts *fetchOptions) {
		opts.maxResponseSize = size
	}
}

// FetchJSON performs a GET request and decodes the JSON response body into T.
// Any status other than 200 yields an *HTTPError; a 200 response must carry a
// JSON content type.
func FetchJSON[T any](ctx context.Context, client HTTPClient, requestURL string, opts ...FetchOption) (T, error) {
	var data T

	options := &fetchOptions{
		headers:         make(http.Header),
		maxResponseSize: DefaultMaxResponseSize,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.headers.Get("Accept") == "" {
		options.headers.Set("Accept", ContentTypeJSON)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return data, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = options.headers

	resp, err := client.Do(req)
	if err != nil {
		return data, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, options.maxResponseSize))
	if err != nil {
		return data, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		preview := string(body)
		if len(preview) > DefaultErrorPreviewSize {
			preview = preview[:DefaultErrorPreviewSize]
		}
		return data, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       preview,
			URL:        stripQuery(requestURL),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), ContentTypeJSON) {
		return data, fmt.Errorf("unexpected content type: %s", contentType)
	}

	if err := json.Unmarshal(body, &data); err != nil {
		return data, fmt.Errorf("failed to parse JSON response: %w", err)
	}
	return data, nil
}

// stripQuery drops the query so single-use codes never end up in errors.
func stripQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
