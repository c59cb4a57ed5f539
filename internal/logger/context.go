package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds request- or message-scoped logging context that the Ctx
// logging variants inject into every record.
type LogContext struct {
	RequestID string    // HTTP request ID from the router middleware
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	UploadID  string    // Upload being processed
	Consumer  string    // Queue consumer handling the message
	ClientIP  string    // Client IP address (without port)
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context carrying the given LogContext.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from ctx, or nil if not present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext stamped with the current time.
func NewLogContext(requestID string) *LogContext {
	return &LogContext{
		RequestID: requestID,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithUpload returns a copy with the upload ID set.
func (lc *LogContext) WithUpload(uploadID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.UploadID = uploadID
	}
	return clone
}

// WithConsumer returns a copy with the consumer name set.
func (lc *LogContext) WithConsumer(consumer string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Consumer = consumer
	}
	return clone
}

// WithTrace returns a copy with trace info set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
