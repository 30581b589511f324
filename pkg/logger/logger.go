// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package logger provides the process logger for the inconnu CLI.
//
// It wraps toolhive-core/logging. Library packages log through log/slog
// directly; Initialize installs the configured logger as the slog default so
// both paths share one handler.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-core/env"
	"github.com/stacklok/toolhive-core/logging"
)

// unstructuredLogsEnv selects text (true, the default) or JSON (false) output.
const unstructuredLogsEnv = "UNSTRUCTURED_LOGS"

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(logging.New())
}

// Get returns the process logger.
func Get() *slog.Logger {
	return current.Load()
}

// Debugw logs at debug level with key-value pairs.
func Debugw(msg string, keysAndValues ...any) {
	Get().Debug(msg, keysAndValues...)
}

// Info logs at info level.
func Info(msg string) {
	Get().Info(msg)
}

// Infow logs at info level with key-value pairs.
func Infow(msg string, keysAndValues ...any) {
	Get().Info(msg, keysAndValues...)
}

// Warnf logs a formatted message at warning level.
func Warnf(msg string, args ...any) {
	Get().Warn(fmt.Sprintf(msg, args...))
}

// Errorf logs a formatted message at error level.
func Errorf(msg string, args ...any) {
	Get().Error(fmt.Sprintf(msg, args...))
}

// Initialize configures the process logger from the environment and the
// viper "debug" key, writing to stderr.
func Initialize() {
	InitializeWithEnv(&env.OSReader{})
}

// InitializeWithEnv is Initialize with an injectable environment reader.
func InitializeWithEnv(envReader env.Reader) {
	install(newLogger(envReader, viper.GetBool("debug"), os.Stderr))
}

func newLogger(envReader env.Reader, debug bool, out io.Writer) *slog.Logger {
	opts := []logging.Option{logging.WithOutput(out)}
	if unstructuredLogsWithEnv(envReader) {
		opts = append(opts, logging.WithFormat(logging.FormatText))
	}
	if debug {
		opts = append(opts, logging.WithLevel(slog.LevelDebug))
	}
	return logging.New(opts...)
}

func install(l *slog.Logger) {
	current.Store(l)
	slog.SetDefault(l)
}

func unstructuredLogsWithEnv(envReader env.Reader) bool {
	unstructured, err := strconv.ParseBool(envReader.Getenv(unstructuredLogsEnv))
	if err != nil {
		return true
	}
	return unstructured
}
