package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the process-wide loggers
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)

// NewLogger builds the process slog.Logger from LOG_LEVEL and GO_ENV.
// Production (GO_ENV=production) logs JSON; everything else logs text.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("GO_ENV"), "production") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// Scope tags a logger with the component it belongs to.
func Scope(scope string) slog.Attr {
	return slog.String("scope", scope)
}

// Error wraps an error for structured output.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// Named builds a zap logger for the few places that still use zap
// (the goose migration runner). Level follows LOG_LEVEL.
func Named(name string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Named(name)
	}
	return log.Named(name)
}

// HTTPLogger writes one line per request to a dedicated access log.
// When HTTP_LOG_FILE is unset it is a no-op.
type HTTPLogger struct {
	log *slog.Logger
}

// NewHTTPLogger opens the access log file named by HTTP_LOG_FILE.
func NewHTTPLogger() *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		return &HTTPLogger{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &HTTPLogger{}
	}
	return &HTTPLogger{log: slog.New(slog.NewJSONHandler(f, nil))}
}

// LogRequest records a completed HTTP request.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	if h == nil || h.log == nil {
		return
	}
	h.log.Info("request",
		slog.String("ip", ip),
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("user_agent", userAgent),
		slog.String("request_id", requestID),
	)
}
