// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStorage(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	tests := []struct {
		name    string
		cfg     *Config
		want    any
		wantErr string
	}{
		{name: "nil config is memory", cfg: nil, want: &MemoryStorage{}},
		{name: "default config is memory", cfg: DefaultConfig(), want: &MemoryStorage{}},
		{name: "redis", cfg: &Config{Type: TypeRedis, Redis: &RedisConfig{Addrs: []string{mr.Addr()}}}, want: &RedisStorage{}},
		{name: "redis without settings", cfg: &Config{Type: TypeRedis}, wantErr: "requires redis configuration"},
		{name: "redis without address", cfg: &Config{Type: TypeRedis, Redis: &RedisConfig{}}, wantErr: "at least one redis address"},
		{name: "unknown type", cfg: &Config{Type: "etcd"}, wantErr: "unsupported storage type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, err := NewStorage(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			assert.IsType(t, tt.want, s)
		})
	}
}
