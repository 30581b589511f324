// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the single-use handshake secret store used to
// correlate the redirect hops of a broker flow.
//
// A secret is set once and redeemed at most once: Pop is the only operation
// that consumes an entry, and it is atomic with respect to concurrent callers
// on every backend.
package storage

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// ErrInvalidArgument is returned by Set for an empty key or a non-positive TTL.
var ErrInvalidArgument = errors.New("invalid argument")

// Store is a time-bounded, single-use key/value store for handshake secrets.
type Store interface {
	// Set stores value under key until ttl elapses, replacing any prior entry.
	Set(ctx context.Context, key string, value url.Values, ttl time.Duration) error

	// Pop atomically returns and removes the entry under key. It reports
	// false when the entry is missing, expired or was already popped; backend
	// failures are logged and reported the same way.
	Pop(ctx context.Context, key string) (url.Values, bool)

	// Get returns the entry under key without consuming it. It must never be
	// used to redeem a secret.
	Get(ctx context.Context, key string) (url.Values, bool)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

func validateSet(key string, ttl time.Duration) error {
	if key == "" {
		return errors.Join(ErrInvalidArgument, errors.New("key cannot be empty"))
	}
	if ttl <= 0 {
		return errors.Join(ErrInvalidArgument, errors.New("ttl must be positive"))
	}
	return nil
}

// cloneValues copies v so callers cannot mutate stored entries.
// A nil or empty value is returned as an empty, non-nil map.
func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
