package common

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

// PathParam extracts, decodes, and validates a URL parameter. Scoped npm
// names arrive percent-encoded (@scope%2Fname), so the decoded form may
// contain a slash.
func PathParam(r *http.Request, name string) (string, error) {
	encoded := chi.URLParam(r, name)

	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return "", fmt.Errorf("invalid URL encoding in %s", name)
	}
	if strings.TrimSpace(decoded) == "" {
		return "", fmt.Errorf("%s cannot be empty", name)
	}
	if strings.ContainsAny(decoded, " \t\n\r") {
		return "", fmt.Errorf("%s cannot contain whitespace", name)
	}
	return decoded, nil
}
