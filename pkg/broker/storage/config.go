// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "time"

// Type defines the type of storage backend.
type Type string

const (
	// TypeMemory keeps secrets in process memory (default).
	TypeMemory Type = "memory"

	// TypeRedis keeps secrets in Redis, shared by every broker replica.
	TypeRedis Type = "redis"

	// DefaultCleanupInterval is how often the memory backend sweeps expired entries.
	DefaultCleanupInterval = time.Minute

	// DefaultKeyPrefix namespaces handshake secrets in Redis.
	DefaultKeyPrefix = "inconnu:handshake:"
)

// Config configures the storage backend.
type Config struct {
	// Type specifies the storage backend type. Defaults to memory.
	Type Type

	// CleanupInterval overrides DefaultCleanupInterval for the memory backend.
	CleanupInterval time.Duration

	// Redis is required when Type is TypeRedis.
	Redis *RedisConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Type:            TypeMemory,
		CleanupInterval: DefaultCleanupInterval,
	}
}
