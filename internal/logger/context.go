package logger

import (
	"context"
	"time"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey struct{}

// logContextKey is the key for LogContext in context.Context
var logContextKey = contextKey{}

// LogContext holds session-scoped logging context for a single restore
// session: device identity, trace correlation, and the current protocol
// operation being processed.
type LogContext struct {
	TraceID   string // OpenTelemetry trace ID
	SpanID    string // OpenTelemetry span ID
	SessionID string // Restore session identifier
	ECID      uint64 // Device exclusive chip ID
	UDID      string // Device UDID
	MsgType   string // Current restored message type being handled
	DataType  string // Current DataRequestMsg DataType being handled
	StartTime time.Time
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext for a session.
func NewLogContext(sessionID string, ecid uint64) *LogContext {
	return &LogContext{
		SessionID: sessionID,
		ECID:      ecid,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithMsgType returns a copy with the message type set
func (lc *LogContext) WithMsgType(msgType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.MsgType = msgType
	}
	return clone
}

// WithDataType returns a copy with the data request type set
func (lc *LogContext) WithDataType(dataType string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.DataType = dataType
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
