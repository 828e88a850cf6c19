// Package log builds the slog loggers used across the bridge and carries
// them through a context.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Formats accepted by New.
const (
	FormatText = "text"
	FormatJSON = "json"
)

type handlerConfig struct {
	attrs     []slog.Attr
	addSource bool
}

// HandlerOption configures the handler built by New.
type HandlerOption func(*handlerConfig)

// WithSource enables reporting of source location (file/line).
func WithSource(enabled bool) HandlerOption {
	return func(c *handlerConfig) {
		c.addSource = enabled
	}
}

// WithAttrs adds attributes to every record.
func WithAttrs(attrs ...slog.Attr) HandlerOption {
	return func(c *handlerConfig) {
		c.attrs = append(c.attrs, attrs...)
	}
}

// New returns a logger writing to w (os.Stderr when nil) at the given level
// ("debug", "info", "warn", "error") in the given format ("text" or "json").
func New(level, format string, w io.Writer, opts ...HandlerOption) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := handlerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if w == nil {
		w = os.Stderr
	}

	hopts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.addSource}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", FormatText:
		h = slog.NewTextHandler(w, hopts)
	case FormatJSON:
		h = slog.NewJSONHandler(w, hopts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	if len(cfg.attrs) > 0 {
		h = h.WithAttrs(cfg.attrs)
	}
	return slog.New(h), nil
}

// ParseLevel parses a level name. The empty string means info.
func ParseLevel(level string) (slog.Level, error) {
	if level == "" {
		return slog.LevelInfo, nil
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", level)
	}
	return lvl, nil
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type loggerKey struct{}

// WithLogger returns a copy of ctx carrying logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// FromContext returns the logger carried by ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
