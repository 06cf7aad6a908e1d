// Package util holds small helpers shared by PizzaPipe packages: environment
// lookup and random identifiers.
package util

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// EnvPrefix namespaces PizzaPipe settings. PIZZAPIPE_REDIS_ADDR wins over
// REDIS_ADDR, so the service can share an environment with other programs.
const EnvPrefix = "PIZZAPIPE_"

// Getenv returns the value of EnvPrefix+key when set, otherwise that of key.
// Keys already carrying the prefix are looked up once.
func Getenv(key string) string {
	v, _ := lookupEnv(key)
	return v
}

// lookupEnv also reports the variable that supplied the value.
func lookupEnv(key string) (string, string) {
	if !strings.HasPrefix(key, EnvPrefix) {
		if v := strings.TrimSpace(os.Getenv(EnvPrefix + key)); v != "" {
			return v, EnvPrefix + key
		}
	}
	return strings.TrimSpace(os.Getenv(key)), key
}

// ParseBoolEnv reads a boolean setting through Getenv. It accepts
// true/1/yes/on and false/0/no/off in any case; unset or invalid values give
// defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	val, source := lookupEnv(key)
	if val == "" {
		return defaultValue
	}
	switch strings.ToLower(val) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	slog.Warn("ParseBoolEnv: invalid boolean value, using default", "key", source, "value", val, "default", defaultValue)
	return defaultValue
}

// ParseDurationEnv reads a positive duration such as "30m" through Getenv.
func ParseDurationEnv(key string, defaultValue time.Duration) time.Duration {
	val, source := lookupEnv(key)
	if val == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("ParseDurationEnv: invalid duration, using default", "key", source, "value", val, "default", defaultValue)
		return defaultValue
	}
	return d
}
