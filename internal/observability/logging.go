// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	GlobalLogger = &Logger{Logger: slog.New(newHandler(os.Getenv("APP_ENV")))}
}

func newHandler(env string) slog.Handler {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env == "production" || env == "prod" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

// SetLogger replaces the global logger, mainly so tests can capture output.
func SetLogger(l *slog.Logger) {
	GlobalLogger = &Logger{Logger: l}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableEngineLogging bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableEngineLogging: true,
	}
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// EngineLogger provides structured logging for one engine component.
type EngineLogger struct {
	component string
}

// NewEngineLogger creates a new EngineLogger for the given component.
func NewEngineLogger(component string) *EngineLogger {
	return &EngineLogger{component: component}
}

func (l *EngineLogger) attrs(ctx context.Context, operation string, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("component", l.component),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogInfo logs a completed engine operation.
func (l *EngineLogger) LogInfo(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableEngineLogging {
		return
	}
	GlobalLogger.InfoContext(ctx, "engine "+operation, l.attrs(ctx, operation, fields)...)
}

// LogDebug logs high-volume decisions such as skipped fetches.
func (l *EngineLogger) LogDebug(ctx context.Context, operation string, fields map[string]interface{}) {
	if !Config.EnableEngineLogging {
		return
	}
	GlobalLogger.DebugContext(ctx, "engine "+operation, l.attrs(ctx, operation, fields)...)
}

// LogError logs a failed engine operation.
func (l *EngineLogger) LogError(ctx context.Context, operation string, err error, fields map[string]interface{}) {
	if !Config.EnableEngineLogging {
		return
	}
	attrs := append(l.attrs(ctx, operation, fields), slog.String("error", err.Error()))
	GlobalLogger.ErrorContext(ctx, "engine "+operation+" failed", attrs...)
}
