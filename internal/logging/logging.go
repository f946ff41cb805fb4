package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/samber/oops"
)

const serviceName = "greencycle-apiserver"

// New builds the process logger. format may be "json" or "text"; when empty
// prod logs JSON and every other env logs text. Non-prod envs log at debug.
func New(env, format string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if env != "prod" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	if format == "" {
		format = "text"
		if env == "prod" {
			format = "json"
		}
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", serviceName)
}

// LogError logs err at error level, pulling code and context out of oops
// errors.
func LogError(ctx context.Context, logger *slog.Logger, msg string, err error) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, "error", err)
		return
	}

	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil {
		attrs = append(attrs, "code", code)
	}
	if domain := oopsErr.Domain(); domain != "" {
		attrs = append(attrs, "domain", domain)
	}
	if values := oopsErr.Context(); len(values) > 0 {
		attrs = append(attrs, "context", values)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
