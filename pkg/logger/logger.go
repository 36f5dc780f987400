// Package logger wires the process-wide slog logger and the attribute
// helpers the rest of the service uses for component and request scoping.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey int

const requestIDKey ctxKey = iota

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Setup replaces the default slog logger. Unknown levels fall back to
// info, unknown formats to text.
func Setup(level, format string) {
	lvl, ok := levels[strings.ToLower(level)]
	if !ok {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

// WithRequestID stores a request id in the context for FromContext.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromContext returns the default logger, carrying the request id when
// the context holds one.
func FromContext(ctx context.Context) *slog.Logger {
	log := slog.Default()
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		log = log.With("request_id", id)
	}
	return log
}

// WithComponent returns the default logger annotated with a component name.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// WithCorpus returns the default logger annotated with a component name and
// the corpus a pipeline run is operating on.
func WithCorpus(component string, corpusID string) *slog.Logger {
	return slog.Default().With("component", component, "corpus", corpusID)
}
