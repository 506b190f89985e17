package telemetry

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/xregistry/xrbridge/internal/api/common"
)

const (
	// TracerName is the name used for the HTTP tracer.
	TracerName = "github.com/xregistry/xrbridge/http"

	// maxUserAgentLength bounds User-Agent attributes in spans.
	maxUserAgentLength = 256
)

// Facade-scoped span attributes. One process hosts several facades, so
// every span carries which ecosystem it served and which upstream it
// fronts; the correlation id ties spans to log lines and problem bodies.
const (
	attrFacade        = attribute.Key("xregistry.facade")
	attrGroup         = attribute.Key("xregistry.group")
	attrUpstream      = attribute.Key("xregistry.upstream_origin")
	attrCorrelationID = attribute.Key("xregistry.correlation_id")
)

// skipTracing reports whether a request is operational noise: probes and
// scrape endpoints fire constantly and their spans carry no signal.
func skipTracing(r *http.Request) bool {
	if r.Method == http.MethodOptions {
		return true
	}
	switch r.URL.Path {
	case "/health", "/performance/stats", "/metrics":
		return true
	}
	return false
}

// Middleware returns tracing middleware for one facade. facadeName,
// groupPlural, and upstreamOrigin become span attributes so traces from
// the different facades in one process stay distinguishable. A nil
// provider yields a pass-through middleware.
func Middleware(provider trace.TracerProvider, facadeName, groupPlural, upstreamOrigin string) func(http.Handler) http.Handler {
	if provider == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	tracer := provider.Tracer(TracerName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipTracing(r) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			// Spans open under the facade name; the route pattern is only
			// known after chi has routed, so the name is finalized below.
			ctx, span := tracer.Start(ctx, facadeName+" "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attrFacade.String(facadeName),
					attrGroup.String(groupPlural),
					attrUpstream.String(upstreamOrigin),
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
					semconv.UserAgentOriginal(truncateUserAgent(r.UserAgent())),
				),
			)
			defer span.End()

			if meta := common.MetaFromContext(r.Context()); meta.CorrelationID != "" {
				span.SetAttributes(attrCorrelationID.String(meta.CorrelationID))
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			finishSpan(span, r, facadeName, ww.Status())
		})
	}
}

// finishSpan renames the span to its route pattern (path parameters like
// package names would explode cardinality otherwise) and maps the HTTP
// status onto the span status.
func finishSpan(span trace.Span, r *http.Request, facadeName string, statusCode int) {
	routePattern := "unknown_route"
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		routePattern = rctx.RoutePattern()
	}
	span.SetName(facadeName + " " + r.Method + " " + routePattern)
	span.SetAttributes(
		semconv.HTTPRouteKey.String(routePattern),
		semconv.HTTPResponseStatusCode(statusCode),
	)

	// 5xx marks the span failed; 4xx is an expected client outcome and
	// stays Unset.
	switch {
	case statusCode >= 500:
		span.SetStatus(codes.Error, http.StatusText(statusCode))
	case statusCode < 400:
		span.SetStatus(codes.Ok, "")
	}
}

func truncateUserAgent(ua string) string {
	if len(ua) <= maxUserAgentLength {
		return ua
	}
	return ua[:maxUserAgentLength]
}
