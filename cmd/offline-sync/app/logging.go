package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/stacklok/offline-sync/internal/config"
)

const (
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 28
)

// traceHandler wraps an slog.Handler to automatically inject OpenTelemetry
// trace_id and span_id into every log record, enabling log-trace correlation.
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		r.AddAttrs(
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

// getLogLevel resolves the log level from the --debug flag, the
// OFFLINE_SYNC_LOG_LEVEL environment variable, LOG_LEVEL, and finally the
// config file. Defaults to slog.LevelInfo if none is set or the value is invalid.
func getLogLevel(cfg *config.LoggingConfig) slog.Level {
	if viper.GetBool("debug") {
		return slog.LevelDebug
	}

	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	levelStr := v.GetString("LOG_LEVEL")
	if levelStr == "" {
		levelStr = os.Getenv("LOG_LEVEL")
	}
	if levelStr == "" && cfg != nil {
		levelStr = cfg.Level
	}

	return parseLogLevel(levelStr)
}

func parseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		slog.Warn("Invalid log level, using INFO", "value", levelStr)
		return slog.LevelInfo
	}
}

// newLogHandler builds a JSON handler writing to w, with trace injection
func newLogHandler(w io.Writer, level slog.Level) slog.Handler {
	return &traceHandler{Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})}
}

// logWriter returns stderr, teed into a rotated file when one is configured
func logWriter(cfg *config.LoggingConfig) (io.Writer, func()) {
	if cfg == nil || cfg.File == nil || cfg.File.Path == "" {
		return os.Stderr, func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File.Path,
		MaxSize:    orDefault(cfg.File.MaxSizeMB, defaultLogMaxSizeMB),
		MaxBackups: orDefault(cfg.File.MaxBackups, defaultLogMaxBackups),
		MaxAge:     orDefault(cfg.File.MaxAgeDays, defaultLogMaxAgeDays),
	}
	return io.MultiWriter(os.Stderr, file), func() {
		_ = file.Close()
	}
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// SetupLogging installs the default structured logger. The returned function
// closes the log file, if any.
func SetupLogging(cfg *config.LoggingConfig) func() {
	w, closeFn := logWriter(cfg)
	slog.SetDefault(slog.New(newLogHandler(w, getLogLevel(cfg))))
	return closeFn
}
