// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

// ParseDuration parses a Go duration string that may additionally lead with
// week (w) and day (d) components, e.g. "1w", "2d12h", "1w3d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	var total time.Duration
	rest := s
	for rest != "" {
		var d time.Duration
		i := strings.IndexAny(rest, "dw")
		if i < 0 {
			var err error
			if d, err = time.ParseDuration(rest); err != nil {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			rest = ""
		} else {
			n, err := strconv.ParseFloat(rest[:i], 64)
			if err != nil || n < 0 || math.IsNaN(n) || math.IsInf(n, 0) {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			unit := day
			if rest[i] == 'w' {
				unit = week
			}
			// float64(MaxInt64) is 2^63.
			v := n * float64(unit)
			if v >= float64(math.MaxInt64) {
				return 0, fmt.Errorf("duration %q out of range", s)
			}
			d = time.Duration(v)
			rest = rest[i+1:]
		}
		if d > 0 && total > math.MaxInt64-d {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		total += d
	}
	return total, nil
}

// durationHook decodes strings into time.Duration with ParseDuration.
func durationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeFor[time.Duration]() {
			return data, nil
		}
		return ParseDuration(reflect.ValueOf(data).String())
	}
}
