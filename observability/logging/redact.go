package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces masked values in log lines.
const RedactedValue = "[REDACTED]"

// Keys whose values are safe to log as is. Everything else passed through
// MaskField is hidden.
var plainKeys = map[string]struct{}{
	"component": {},
	"side":      {},
	"chain":     {},
	"network":   {},
}

// MaskField builds a log attribute that hides value unless key is known to be
// harmless. Empty values stay empty.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	if _, ok := plainKeys[strings.ToLower(strings.TrimSpace(key))]; ok {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
