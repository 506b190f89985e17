package common

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/xregistry/xrbridge/internal/logger"
)

// Trace metadata headers adopted from inbound requests and propagated to
// upstream calls, log lines, and problem responses.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderTraceID       = "X-Trace-Id"
	HeaderRequestID     = "X-Request-Id"
)

// RequestMeta carries per-request trace identifiers.
type RequestMeta struct {
	CorrelationID string
	TraceID       string
	RequestID     string
}

type metaKey struct{}

// MetaFromContext returns the request's trace metadata, or zero values.
func MetaFromContext(ctx context.Context) RequestMeta {
	if m, ok := ctx.Value(metaKey{}).(RequestMeta); ok {
		return m
	}
	return RequestMeta{}
}

// WithMeta attaches trace metadata to ctx.
func WithMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// TracingMiddleware adopts inbound correlation/trace/request ids or mints
// fresh ones, attaches them to the request context and logger, and echoes
// the correlation and trace ids on the response.
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := RequestMeta{
			CorrelationID: r.Header.Get(HeaderCorrelationID),
			TraceID:       r.Header.Get(HeaderTraceID),
			RequestID:     r.Header.Get(HeaderRequestID),
		}
		if m.CorrelationID == "" {
			m.CorrelationID = uuid.NewString()
		}
		if m.TraceID == "" {
			m.TraceID = uuid.NewString()
		}
		if m.RequestID == "" {
			m.RequestID = uuid.NewString()
		}

		ctx := WithMeta(r.Context(), m)
		ctx = logger.WithContext(ctx,
			"correlation_id", m.CorrelationID,
			"trace_id", m.TraceID,
			"request_id", m.RequestID,
		)

		w.Header().Set(HeaderCorrelationID, m.CorrelationID)
		w.Header().Set(HeaderTraceID, m.TraceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
