// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/toolhive-core/env/mocks"
)

func mockEnv(t *testing.T, value string) *mocks.MockReader {
	t.Helper()
	reader := mocks.NewMockReader(gomock.NewController(t))
	reader.EXPECT().Getenv(unstructuredLogsEnv).Return(value).AnyTimes()
	return reader
}

func TestUnstructuredLogs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		want  bool
	}{
		{value: "", want: true},
		{value: "true", want: true},
		{value: "1", want: true},
		{value: "false", want: false},
		{value: "0", want: false},
		{value: "json", want: true},
	}

	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, unstructuredLogsWithEnv(mockEnv(t, tt.value)))
		})
	}
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("structured output", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		l := newLogger(mockEnv(t, "false"), false, &buf)

		l.Info("redeemed", "provider", "okta")

		line := strings.TrimSpace(buf.String())
		require.True(t, gjson.Valid(line), line)
		assert.Equal(t, "okta", gjson.Get(line, "provider").String())
	})

	t.Run("text output", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		l := newLogger(mockEnv(t, ""), false, &buf)

		l.Info("redeemed", "provider", "okta")

		assert.False(t, gjson.Valid(strings.TrimSpace(buf.String())))
		assert.Contains(t, buf.String(), "redeemed")
	})

	t.Run("debug level", func(t *testing.T) {
		t.Parallel()
		var quiet, verbose bytes.Buffer

		newLogger(mockEnv(t, ""), false, &quiet).Debug("swept")
		newLogger(mockEnv(t, ""), true, &verbose).Debug("swept")

		assert.Empty(t, quiet.String())
		assert.Contains(t, verbose.String(), "swept")
	})
}

func TestHelpers(t *testing.T) { //nolint:paralleltest // replaces the process logger
	prevCurrent, prevDefault := current.Load(), slog.Default()
	t.Cleanup(func() {
		current.Store(prevCurrent)
		slog.SetDefault(prevDefault)
	})

	var buf bytes.Buffer
	install(newLogger(mockEnv(t, ""), true, &buf))

	Debugw("debug kv", "key", "val")
	Info("info msg")
	Infow("info kv", "provider", "okta")
	Warnf("warn %s", "formatted")
	Errorf("error %d", 42)
	slog.Info("via default")

	out := buf.String()
	for _, want := range []string{"debug kv", "info msg", "okta", "warn formatted", "error 42", "via default"} {
		assert.Contains(t, out, want)
	}
}
