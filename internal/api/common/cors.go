package common

import (
	"net/http"
	"strings"
)

var corsAllowHeaders = strings.Join([]string{
	"Content-Type",
	"Authorization",
	"X-Base-Url",
	HeaderCorrelationID,
	HeaderTraceID,
	HeaderRequestID,
}, ", ")

var corsExposeHeaders = strings.Join([]string{
	"Link",
	"ETag",
	"Location",
	"X-Registry-Epoch",
	"X-Registry-Count",
	HeaderCorrelationID,
	HeaderTraceID,
}, ", ")

// CORSMiddleware emits the permissive CORS policy on every response and
// short-circuits preflight requests.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
