// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the error kinds surfaced by the broker's HTTP
// endpoints and their mapping to status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types
const (
	// ErrInvalidArgument is returned for malformed input (bad state, bad receiver)
	ErrInvalidArgument = "invalid_argument"

	// ErrNotConfigured is returned when a provider name is unknown or disabled
	ErrNotConfigured = "not_configured"

	// ErrUnauthorized is returned when a secret or token cannot be redeemed
	ErrUnauthorized = "unauthorized"

	// ErrUpstream is returned when a provider or hub exchange fails
	ErrUpstream = "upstream"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewNotConfiguredError creates a new not configured error
func NewNotConfiguredError(message string, cause error) *Error {
	return NewError(ErrNotConfigured, message, cause)
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *Error {
	return NewError(ErrUnauthorized, message, cause)
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// TypeOf returns the type of the first *Error in err's chain. Errors without
// one are internal; a nil error has no type.
func TypeOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrInternal
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return TypeOf(err) == ErrInvalidArgument
}

// IsNotConfigured checks if the error is a not configured error
func IsNotConfigured(err error) bool {
	return TypeOf(err) == ErrNotConfigured
}

// IsUnauthorized checks if the error is an unauthorized error
func IsUnauthorized(err error) bool {
	return TypeOf(err) == ErrUnauthorized
}

// IsUpstream checks if the error is an upstream error
func IsUpstream(err error) bool {
	return TypeOf(err) == ErrUpstream
}

// Code returns the HTTP status code for err.
// Upstream failures are reported as 401 so callers cannot tell them apart
// from a missing or replayed secret.
func Code(err error) int {
	switch TypeOf(err) {
	case ErrInvalidArgument:
		return http.StatusBadRequest
	case ErrNotConfigured:
		return http.StatusNotFound
	case ErrUnauthorized, ErrUpstream:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message that is safe to show to an HTTP caller.
// Unauthorized and upstream errors collapse to the same text.
func PublicMessage(err error) string {
	switch t := TypeOf(err); t {
	case ErrUnauthorized, ErrUpstream:
		return ErrUnauthorized
	case ErrInternal:
		return ErrInternal
	default:
		var e *Error
		if errors.As(err, &e) {
			return e.Message
		}
		return t
	}
}
