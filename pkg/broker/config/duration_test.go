// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90s", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: "1w", want: 7 * 24 * time.Hour},
		{in: "2d", want: 48 * time.Hour},
		{in: "1w2d", want: 9 * 24 * time.Hour},
		{in: "2d12h", want: 60 * time.Hour},
		{in: "0.5d", want: 12 * time.Hour},
		{in: " 1w ", want: 7 * 24 * time.Hour},
		{in: "", wantErr: true},
		{in: "week", wantErr: true},
		{in: "-1d", wantErr: true},
		{in: "3h2d", wantErr: true},
		{in: "1dx", wantErr: true},
		{in: "15000w", want: 15000 * 7 * 24 * time.Hour},
		{in: "NaNd", wantErr: true},
		{in: "Infw", wantErr: true},
		{in: "+Infd", wantErr: true},
		{in: "1e300d", wantErr: true},
		{in: "20000w", wantErr: true},
		{in: "15000w15000w", wantErr: true},
		{in: "15000w2562047h", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
