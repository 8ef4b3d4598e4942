package domain

import (
	"context"
	"time"
)

// AuditRecorder receives one record per dispatched tool call.
type AuditRecorder interface {
	RecordDispatch(ctx context.Context, rec DispatchRecord) error
}

// DispatchRecord is the persisted summary of a single dispatch.
type DispatchRecord struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	Tool       string    `json:"tool"`
	Status     Status    `json:"status"`
	Kind       ErrorKind `json:"kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	Source     string    `json:"source,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// DispatchStats aggregates dispatch counts per tool.
type DispatchStats struct {
	Tool      string `json:"tool"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
}

type requestIDKey struct{}

// WithRequestID attaches a request ID to ctx for logging and auditing.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
