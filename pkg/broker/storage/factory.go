// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"fmt"
)

// NewStorage creates the backend selected by cfg. A nil cfg or an empty type
// selects the memory backend.
func NewStorage(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Type {
	case TypeMemory, "":
		return NewMemoryStorage(WithCleanupInterval(cfg.CleanupInterval)), nil
	case TypeRedis:
		if cfg.Redis == nil {
			return nil, errors.New("redis storage requires redis configuration")
		}
		return NewRedisStorage(ctx, *cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}
