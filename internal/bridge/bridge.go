// Package bridge implements the front router: one origin that dispatches
// each group type to its facade and rewrites embedded upstream URLs so
// clients only ever see the bridge's own base URL.
package bridge

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/config"
	"github.com/xregistry/xrbridge/internal/rewrite"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// Mount is one facade attached to the bridge.
type Mount struct {
	GroupPlural    string
	UpstreamOrigin string
	Handler        http.Handler
}

// Bridge is the front router.
type Bridge struct {
	cfg    *config.Config
	mounts map[string]http.Handler
	root   *chi.Mux
}

// New assembles the bridge over the given facade mounts. Each mount is
// wrapped with the URL-rewriting middleware for its upstream origin.
func New(cfg *config.Config, mounts []Mount) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		mounts: make(map[string]http.Handler, len(mounts)),
	}
	for _, m := range mounts {
		b.mounts[m.GroupPlural] = rewrite.Middleware(m.UpstreamOrigin, cfg.APIPathPrefix)(m.Handler)
	}

	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		common.WriteMethodNotAllowed(w, req)
	})
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		common.WriteNotFound(w, req, "unknown registry path")
	})
	r.Get("/", b.getRoot)
	r.Get("/health", getHealth)
	b.root = r
	return b
}

// ServeHTTP dispatches by the first path segment: a known group plural goes
// to its facade with the full path intact; everything else is the bridge's
// own surface.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Work on the escaped path so percent-encoded segments (scoped npm
	// names) survive the hand-off as single segments.
	path := strings.TrimPrefix(r.URL.EscapedPath(), "/")
	if prefix := b.cfg.APIPathPrefix; prefix != "" {
		path = strings.TrimPrefix(path, strings.Trim(prefix, "/"))
		path = strings.TrimPrefix(path, "/")
	}
	seg := path
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	if h, ok := b.mounts[seg]; ok {
		// Hand the facade the full, prefix-stripped path.
		r2 := r.Clone(r.Context())
		r2.Header.Set(common.HeaderBaseURL, common.BaseURL(r, b.cfg.APIPathPrefix))
		r2.URL.RawPath = "/" + path
		if decoded, err := url.PathUnescape(r2.URL.RawPath); err == nil {
			r2.URL.Path = decoded
		} else {
			r2.URL.Path = "/" + path
		}
		h.ServeHTTP(w, r2)
		return
	}
	b.root.ServeHTTP(w, r)
}

// getRoot answers GET / with the bridge-level registry document: one group
// collection reference per configured facade.
func (b *Bridge) getRoot(w http.ResponseWriter, r *http.Request) {
	base := common.BaseURL(r, b.cfg.APIPathPrefix)
	doc := xregistry.Document{
		"specversion": xregistry.SpecVersion,
		"registryid":  "xregistry-bridge",
		"xid":         "/",
		"self":        base + "/",
	}
	for _, fc := range b.cfg.Facades {
		doc[fc.GroupPlural+"url"] = base + "/" + fc.GroupPlural
		doc[fc.GroupPlural+"count"] = 1
	}
	common.WriteJSONResponse(w, doc, http.StatusOK)
}

func getHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
