// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultConnectAttempts bounds the startup ping.
	DefaultConnectAttempts = 3
)

// RedisConfig holds Redis connection configuration for runtime use.
type RedisConfig struct {
	// Addrs lists the Redis (or Sentinel, when MasterName is set) addresses.
	// More than one address without MasterName selects cluster mode.
	Addrs []string

	// MasterName enables Sentinel failover.
	MasterName string

	// Username and Password authenticate with Redis ACLs.
	Username string
	Password string

	// DB selects the logical database (single node and Sentinel only).
	DB int

	// KeyPrefix namespaces every key. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ConnectAttempts is how often the startup ping is tried. Defaults to
	// DefaultConnectAttempts.
	ConnectAttempts uint
}

// RedisStorage implements Store on Redis so that several broker replicas can
// share handshake secrets. Expiry is delegated to Redis key TTLs.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage creates Redis-backed storage.
// Returns error if configuration validation fails or connection cannot be established.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		DB:           cfg.DB,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 200 * time.Millisecond
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.Ping(ctx).Err()
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(cfg.ConnectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("redis not reachable, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if len(cfg.Addrs) == 0 {
		return errors.New("at least one redis address is required")
	}
	if cfg.DB < 0 {
		return errors.New("redis db cannot be negative")
	}
	return nil
}

func (s *RedisStorage) key(k string) string {
	return s.keyPrefix + k
}

// Set implements Store.
func (s *RedisStorage) Set(ctx context.Context, key string, value url.Values, ttl time.Duration) error {
	if err := validateSet(key, ttl); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), value.Encode(), ttl).Err(); err != nil {
		return fmt.Errorf("failed to store handshake secret: %w", err)
	}
	return nil
}

// Pop implements Store.
//
// The read and the delete run in one WATCH/MULTI/EXEC transaction: if any
// other client touches the key between the GET and the EXEC, the transaction
// aborts and this caller reports the secret as absent.
func (s *RedisStorage) Pop(ctx context.Context, key string) (url.Values, bool) {
	if key == "" {
		return nil, false
	}
	k := s.key(key)

	var raw string
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		v, err := tx.Get(ctx, k).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err != nil {
			return err
		}
		raw = v
		return nil
	}, k)

	switch {
	case err == nil:
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
		return nil, false
	default:
		slog.Error("failed to redeem handshake secret", "error", err)
		return nil, false
	}

	values, err := url.ParseQuery(raw)
	if err != nil {
		slog.Error("stored handshake secret is corrupt", "error", err)
		return nil, false
	}
	return values, true
}

// Get implements Store.
func (s *RedisStorage) Get(ctx context.Context, key string) (url.Values, bool) {
	if key == "" {
		return nil, false
	}
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("failed to read handshake secret", "error", err)
		}
		return nil, false
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, false
	}
	return values, true
}

// Ping checks Redis connectivity (health check).
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Compile-time interface check.
var _ Store = (*RedisStorage)(nil)
