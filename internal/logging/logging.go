// Package logging builds the service's JSON slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns a JSON logger on stdout tagged with service, env and
// tenant.
func NewLogger(level, service, env, tenant string) *slog.Logger {
	return newLogger(os.Stdout, level, service, env, tenant)
}

func newLogger(w io.Writer, level, service, env, tenant string) *slog.Logger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", env),
		slog.String("tenant", tenant),
	)
}

func parseLevel(level string) slog.Level {
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
