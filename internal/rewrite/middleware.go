package rewrite

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/xregistry/xrbridge/internal/api/common"
)

// bufferingWriter captures status and body so the response can be
// transformed before it reaches the client. Headers pass through to the
// underlying writer's header map and stay mutable until flush.
type bufferingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (b *bufferingWriter) WriteHeader(status int) {
	b.status = status
}

func (b *bufferingWriter) Write(p []byte) (int, error) {
	return b.body.Write(p)
}

// Middleware rewrites upstream origins to the request's bridge base URL in
// JSON bodies and Link headers. Fields named xid are never touched. A body
// that fails to parse as JSON is delivered unchanged.
func Middleware(upstreamOrigin, pathPrefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := &bufferingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(buf, r)

			rw := New(upstreamOrigin, common.BaseURL(r, pathPrefix))

			if link := w.Header().Get("Link"); link != "" {
				w.Header().Set("Link", rw.LinkHeader(link))
			}

			body := buf.body.Bytes()
			if isJSONContentType(w.Header().Get("Content-Type")) && len(body) > 0 {
				var v any
				if err := json.Unmarshal(body, &v); err == nil {
					if out, err := json.Marshal(rw.Value(v)); err == nil {
						out = append(out, '\n')
						body = out
					}
				}
			}

			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(buf.status)
			_, _ = w.Write(body)
		})
	}
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "+json")
}
