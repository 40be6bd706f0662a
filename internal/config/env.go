// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/chanfeed/chanfeed/internal/log"
)

// ParseString reads a string from an environment variable or returns
// the fallback. Sensitive values are never echoed into the log.
func ParseString(key, fallback string) string {
	logger := log.WithComponent("config")
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	lower := strings.ToLower(key)
	if strings.Contains(lower, "url") || strings.Contains(lower, "password") || strings.Contains(lower, "token") {
		logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", value).Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer from an environment variable, falling back
// on missing or unparseable values.
func ParseInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		l := log.WithComponent("config")
		l.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", fallback).
			Msg("invalid integer in environment, using default")
		return fallback
	}
	return i
}
