// Package util provides environment variable parsing helpers shared across components.
package util

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// ParseBoolEnv reads a boolean environment variable. Beyond the forms
// strconv.ParseBool accepts it also recognizes yes/no and on/off; an unset,
// empty or unrecognized value falls back to defaultValue.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return defaultValue
	}
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	default:
		b, err := strconv.ParseBool(v)
		if err != nil {
			slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", defaultValue)
			return defaultValue
		}
		return b
	}
}
