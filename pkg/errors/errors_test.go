// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestError_Error(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "error with cause",
			err: &Error{
				Type:    ErrInvalidArgument,
				Message: "test message",
				Cause:   errors.New("underlying error"),
			},
			want: "invalid_argument: test message: underlying error",
		},
		{
			name: "error without cause",
			err: &Error{
				Type:    ErrUnauthorized,
				Message: "test message",
				Cause:   nil,
			},
			want: "unauthorized: test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error.Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("underlying error")
	err := NewUpstreamError("test message", cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(%v, cause) = false, want true", err)
	}
	if got := NewInternalError("test message", nil).Unwrap(); got != nil {
		t.Errorf("Error.Unwrap() = %v, want nil", got)
	}
}

func TestNewErrorConstructors(t *testing.T) {
	t.Parallel()
	cause := errors.New("cause")

	tests := []struct {
		name        string
		constructor func(string, error) *Error
		wantType    string
	}{
		{name: "NewInvalidArgumentError", constructor: NewInvalidArgumentError, wantType: ErrInvalidArgument},
		{name: "NewNotConfiguredError", constructor: NewNotConfiguredError, wantType: ErrNotConfigured},
		{name: "NewUnauthorizedError", constructor: NewUnauthorizedError, wantType: ErrUnauthorized},
		{name: "NewUpstreamError", constructor: NewUpstreamError, wantType: ErrUpstream},
		{name: "NewInternalError", constructor: NewInternalError, wantType: ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.constructor("test message", cause)
			if err.Type != tt.wantType {
				t.Errorf("%s().Type = %v, want %v", tt.name, err.Type, tt.wantType)
			}
			if err.Message != "test message" {
				t.Errorf("%s().Message = %v, want %v", tt.name, err.Message, "test message")
			}
			if err.Cause != cause {
				t.Errorf("%s().Cause = %v, want %v", tt.name, err.Cause, cause)
			}
		})
	}
}

func TestErrorTypeCheckers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		err     error
		checker func(error) bool
		want    bool
	}{
		{name: "IsInvalidArgument with matching error", err: NewInvalidArgumentError("test", nil), checker: IsInvalidArgument, want: true},
		{name: "IsInvalidArgument with non-matching error", err: NewUpstreamError("test", nil), checker: IsInvalidArgument, want: false},
		{name: "IsInvalidArgument with non-Error type", err: errors.New("regular error"), checker: IsInvalidArgument, want: false},
		{name: "IsNotConfigured with wrapped error", err: fmt.Errorf("route: %w", NewNotConfiguredError("test", nil)), checker: IsNotConfigured, want: true},
		{name: "IsUnauthorized with matching error", err: NewUnauthorizedError("test", nil), checker: IsUnauthorized, want: true},
		{name: "IsUpstream with matching error", err: NewUpstreamError("test", nil), checker: IsUpstream, want: true},
		{name: "IsUnauthorized with nil error", err: nil, checker: IsUnauthorized, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := tt.checker(tt.err)
			if got != tt.want {
				t.Errorf("%s() = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestCode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid argument", err: NewInvalidArgumentError("bad state", nil), want: http.StatusBadRequest},
		{name: "not configured", err: NewNotConfiguredError("no provider", nil), want: http.StatusNotFound},
		{name: "unauthorized", err: NewUnauthorizedError("secret absent", nil), want: http.StatusUnauthorized},
		{name: "upstream is reported as unauthorized", err: NewUpstreamError("exchange failed", nil), want: http.StatusUnauthorized},
		{name: "plain error is internal", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPublicMessage(t *testing.T) {
	t.Parallel()
	absent := PublicMessage(NewUnauthorizedError("secret not found", nil))
	upstream := PublicMessage(NewUpstreamError("provider said no", errors.New("invalid_grant")))
	if absent != upstream {
		t.Errorf("PublicMessage() differs between unauthorized (%q) and upstream (%q)", absent, upstream)
	}
	if got := PublicMessage(NewInvalidArgumentError("state is not parsable", nil)); got != "state is not parsable" {
		t.Errorf("PublicMessage() = %q, want the invalid argument message", got)
	}
	if got := PublicMessage(errors.New("secret detail")); got != ErrInternal {
		t.Errorf("PublicMessage() = %q, want %q", got, ErrInternal)
	}
}
