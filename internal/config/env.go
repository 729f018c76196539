// Package config reads service settings from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lowc1012/adaptive-ratelimiter/internal/log"
)

func String(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func Int64(key string, fallback int64) int64 {
	return parse(key, fallback, func(v string) (int64, error) { return strconv.ParseInt(v, 10, 64) })
}

func Float64(key string, fallback float64) float64 {
	return parse(key, fallback, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func Duration(key string, fallback time.Duration) time.Duration {
	return parse(key, fallback, time.ParseDuration)
}

func Bool(key string, fallback bool) bool {
	return parse(key, fallback, strconv.ParseBool)
}

// parse returns fallback for an unset key, and also for a malformed one after
// logging a warning.
func parse[T any](key string, fallback T, fn func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := fn(value)
	if err != nil {
		log.Logger().Warn("Ignoring malformed environment variable",
			zap.String("key", key),
			zap.String("value", value),
			zap.Any("fallback", fallback),
			zap.Error(err))
		return fallback
	}
	return parsed
}
