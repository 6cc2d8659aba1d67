// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the client.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(&ctxHandler{handler})}
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	RoomID        LogContextKey = "room_id"
)

// ctxHandler is a slog.Handler that adds context values to the log record.
type ctxHandler struct {
	slog.Handler
}

func (h *ctxHandler) Handle(ctx context.Context, r slog.Record) error {
	if cid, ok := ctx.Value(CorrelationID).(string); ok && cid != "" {
		r.AddAttrs(slog.String("correlation_id", cid))
	}
	if rid, ok := ctx.Value(RoomID).(int64); ok && rid != 0 {
		r.AddAttrs(slog.Int64("room_id", rid))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ctxHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ctxHandler{h.Handler.WithAttrs(attrs)}
}

func (h *ctxHandler) WithGroup(name string) slog.Handler {
	return &ctxHandler{h.Handler.WithGroup(name)}
}

// SetupLogging replaces GlobalLogger. Development uses the text handler,
// every other environment logs JSON.
func SetupLogging(env, level string, w io.Writer) {
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if env == "development" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	GlobalLogger = &Logger{Logger: slog.New(&ctxHandler{handler})}
	slog.SetDefault(GlobalLogger.Logger)
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// WithRoomID returns a new context tagged with the chat room being worked on.
func WithRoomID(ctx context.Context, roomID int64) context.Context {
	return context.WithValue(ctx, RoomID, roomID)
}

// WSLogger provides structured logging for the push channel.
type WSLogger struct {
	name string
}

// NewWSLogger creates a new WSLogger for the named connection.
func NewWSLogger(name string) *WSLogger {
	return &WSLogger{name: name}
}

// LogConnect logs an established STOMP session.
func (l *WSLogger) LogConnect(ctx context.Context, url string, attempt int) {
	GlobalLogger.InfoContext(ctx, "websocket connected",
		slog.String("session", l.name),
		slog.String("url", url),
		slog.Int("attempt", attempt),
	)
}

// LogDisconnect logs a lost STOMP session.
func (l *WSLogger) LogDisconnect(ctx context.Context, url string, reason string) {
	GlobalLogger.WarnContext(ctx, "websocket disconnected",
		slog.String("session", l.name),
		slog.String("url", url),
		slog.String("reason", reason),
	)
}

// LogError logs a push channel error.
func (l *WSLogger) LogError(ctx context.Context, topic string, err error, eventType string) {
	GlobalLogger.ErrorContext(ctx, "websocket error",
		slog.String("session", l.name),
		slog.String("topic", topic),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogLifecycle logs a session lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("session", l.name),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "websocket lifecycle", attrs...)
}

// APILogger provides structured logging for REST calls.
type APILogger struct {
	service string
}

// NewAPILogger creates a new APILogger.
func NewAPILogger(service string) *APILogger {
	return &APILogger{service: service}
}

// LogCall logs a completed REST call at debug level.
func (l *APILogger) LogCall(ctx context.Context, operation, method, path string, status int, durationMS int64) {
	GlobalLogger.DebugContext(ctx, "api call",
		slog.String("service", l.service),
		slog.String("operation", operation),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", status),
		slog.Int64("duration_ms", durationMS),
	)
}

// LogError logs a failed REST call.
func (l *APILogger) LogError(ctx context.Context, operation string, err error) {
	GlobalLogger.ErrorContext(ctx, "api error",
		slog.String("service", l.service),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
