// Package logger sets up structured logging for the ReplyWatch backend.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// New builds the process logger. Production gets JSON lines for ingestion;
// everything else gets tinted text for humans.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redactSensitive,
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:       opts.Level,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: redactSensitive,
		})
	}

	return slog.New(handler)
}

// ParseLevel maps a config string to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSensitive masks attribute values that would leak credentials.
// Bearer tokens and client-state tokens pass through many call sites; one
// central filter beats hoping every caller remembers not to log them.
func redactSensitive(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(key) {
	case "token", "access_token", "refresh_token", "client_state",
		"api_key", "apikey", "password", "secret", "authorization":
		return true
	}
	return false
}
