package common

import (
	"encoding/json"
	"net/http"

	"github.com/xregistry/xrbridge/internal/logger"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// Problem is an RFC 9457 problem details body, extended with the trace
// identifiers every error response must carry.
type Problem struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

const problemTypeBase = "https://xregistry.io/problems/"

// Problem type slugs for the error taxonomy.
const (
	ProblemBadRequest       = "bad-request"
	ProblemUnauthorized     = "unauthorized"
	ProblemNotFound         = "not-found"
	ProblemMethodNotAllowed = "method-not-allowed"
	ProblemUpstreamDown     = "upstream-unavailable"
	ProblemUpstreamTimeout  = "upstream-timeout"
	ProblemInternal         = "internal-error"
)

// WriteJSONResponse writes data with the registry content type and version
// header.
func WriteJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", xregistry.ContentType)
	w.Header().Set(xregistry.VersionHeader, xregistry.SpecVersion)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("failed to encode JSON response: %v", err)
	}
}

// WriteProblem writes an RFC 9457 problem response. The instance is the
// original request URL; trace ids come from the request context.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, slug, title, detail string) {
	meta := MetaFromContext(r.Context())
	p := Problem{
		Type:          problemTypeBase + slug,
		Title:         title,
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.String(),
		TraceID:       meta.TraceID,
		CorrelationID: meta.CorrelationID,
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set(xregistry.VersionHeader, xregistry.SpecVersion)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		logger.Errorf("failed to encode problem response: %v", err)
	}
}

// WriteBadRequest writes a 400 problem.
func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusBadRequest, ProblemBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 problem.
func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusNotFound, ProblemNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes the uniform 405 for all mutating verbs.
func WriteMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	WriteProblem(w, r, http.StatusMethodNotAllowed, ProblemMethodNotAllowed,
		"Method Not Allowed", "The registry is read-only")
}

// WriteUpstreamUnavailable writes a 502 problem.
func WriteUpstreamUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusBadGateway, ProblemUpstreamDown, "Upstream Unavailable", detail)
}

// WriteUpstreamTimeout writes a 504 problem.
func WriteUpstreamTimeout(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusGatewayTimeout, ProblemUpstreamTimeout, "Upstream Timeout", detail)
}

// WriteInternalError writes a 500 problem.
func WriteInternalError(w http.ResponseWriter, r *http.Request, detail string) {
	WriteProblem(w, r, http.StatusInternalServerError, ProblemInternal, "Internal Server Error", detail)
}
