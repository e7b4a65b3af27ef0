package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/muesli/termenv"
	"go.opentelemetry.io/otel/trace"

	charmlog "github.com/charmbracelet/log"
)

// Format selects the handler New builds.
type Format string

const (
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
	FormatText   Format = "text"
)

type contextKey int

const (
	loggerKey contextKey = iota
	attrsKey
)

var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnknownLogLevel  = errors.New("unknown log level")
	ErrUnknownLogFormat = errors.New("unknown log format")
)

// New builds a logger from the log_level and log_format config values.
// Text output goes through charmlog with the terminal's color profile.
func New(w io.Writer, logLevel, logFormat string) (*slog.Logger, error) {
	level, err := GetLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	format, err := GetFormat(logFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatLogfmt:
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}

	text := charmlog.NewWithOptions(w, charmlog.Options{
		//nolint:gosec // G115: level comes from GetLevel.
		Level:           charmlog.Level(int32(level)),
		Formatter:       charmlog.TextFormatter,
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
		Prefix:          "classify",
	})
	text.SetColorProfile(termenv.ColorProfile())
	return slog.New(text), nil
}

// GetLevel parses a level name; empty means info.
func GetLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLogLevel, level)
}

// GetFormat parses a format name; empty means text.
func GetFormat(format string) (Format, error) {
	switch f := Format(strings.ToLower(format)); f {
	case "":
		return FormatText, nil
	case FormatJSON, FormatLogfmt, FormatText:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLogFormat, format)
}

// NewContext stores logger in ctx for WithContext.
func NewContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithEntity tags every later WithContext logger with the entity under
// classification.
func WithEntity(ctx context.Context, entityType, entityID string) context.Context {
	return withAttrs(ctx, slog.String("entity_type", entityType), slog.String("entity_id", entityID))
}

// WithRule tags every later WithContext logger with the rule being applied.
func WithRule(ctx context.Context, ruleID string) context.Context {
	return withAttrs(ctx, slog.String("rule_id", ruleID))
}

func withAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev, _ := ctx.Value(attrsKey).([]slog.Attr)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, attrsKey, merged)
}

// WithContext returns the logger stored in ctx, or the default logger, with
// the entity and rule attributes of ctx and the short id of the active trace.
func WithContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok || logger == nil {
		logger = slog.Default()
	}

	var args []any
	if attrs, ok := ctx.Value(attrsKey).([]slog.Attr); ok {
		for _, a := range attrs {
			args = append(args, a)
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		args = append(args, slog.String("trace_id", sc.TraceID().String()[:8]))
	}

	if len(args) == 0 {
		return logger
	}
	return logger.With(args...)
}
