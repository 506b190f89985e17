package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMiddlewareNilProviderPassesThrough(t *testing.T) {
	called := false
	h := Middleware(nil, "npm", "noderegistries", "https://registry.npmjs.org")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			called = true
			w.WriteHeader(http.StatusTeapot)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestMiddlewareTagsSpanWithFacade(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	h := Middleware(tp, "npm", "noderegistries", "https://registry.npmjs.org")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/noderegistries/npmjs.org", nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, "npm", attrs[attrFacade].AsString())
	assert.Equal(t, "noderegistries", attrs[attrGroup].AsString())
	assert.Equal(t, "https://registry.npmjs.org", attrs[attrUpstream].AsString())
}

func TestMiddlewareSkipsOperationalPaths(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	h := Middleware(tp, "npm", "noderegistries", "https://registry.npmjs.org")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for _, target := range []string{"/health", "/performance/stats", "/metrics"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", target, nil))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/noderegistries", nil))

	assert.Empty(t, exporter.GetSpans())
}

func TestTruncateUserAgent(t *testing.T) {
	short := "curl/8.0"
	assert.Equal(t, short, truncateUserAgent(short))

	long := make([]byte, maxUserAgentLength*2)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, truncateUserAgent(string(long)), maxUserAgentLength)
}
