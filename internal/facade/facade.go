package facade

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/config"
	"github.com/xregistry/xrbridge/internal/index"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// Options wires one facade to its collaborators.
type Options struct {
	Ecosystem          Ecosystem
	Client             *upstream.Client
	PathPrefix         string
	FilterDeadline     time.Duration
	MaxMetadataFetches int
	Concurrency        int
	FilterCacheSize    int
	FilterCacheAge     time.Duration

	// SnapshotDir persists the name index across restarts; empty disables.
	SnapshotDir string
}

// Facade serves the registry-shaped API for one ecosystem.
type Facade struct {
	cfg    config.FacadeConfig
	eco    Ecosystem
	client *upstream.Client

	idx     *index.NameIndex
	eval    *index.Evaluator
	results *index.ResultCache
	state   *xregistry.StateStore

	pathPrefix     string
	filterDeadline time.Duration
	maxFetches     int
	concurrency    int

	started time.Time
}

// New assembles a facade. Call Start to begin the background index build.
func New(cfg config.FacadeConfig, opts Options) (*Facade, error) {
	f := &Facade{
		cfg:            cfg,
		eco:            opts.Ecosystem,
		client:         opts.Client,
		state:          xregistry.NewStateStore(),
		pathPrefix:     opts.PathPrefix,
		filterDeadline: opts.FilterDeadline,
		maxFetches:     opts.MaxMetadataFetches,
		concurrency:    opts.Concurrency,
		started:        time.Now(),
	}

	f.idx = index.NewNameIndex(opts.Ecosystem.LoadCorpus, opts.SnapshotDir)
	f.eval = &index.Evaluator{
		Index:       f.idx,
		Fetch:       opts.Ecosystem.FetchMetadata,
		FieldPaths:  opts.Ecosystem.FieldPaths(),
		MaxFetches:  opts.MaxMetadataFetches,
		Concurrency: opts.Concurrency,
		Deadline:    opts.FilterDeadline,
	}

	results, err := index.NewResultCache(opts.FilterCacheSize, opts.FilterCacheAge)
	if err != nil {
		return nil, err
	}
	f.results = results
	return f, nil
}

// Start launches the asynchronous index build. Serving does not block on
// it; list endpoints degrade to upstream search until the index is ready.
func (f *Facade) Start(ctx context.Context) {
	f.idx.Start(ctx)
}

// GroupPlural names the group collection this facade owns; the bridge
// dispatches on it.
func (f *Facade) GroupPlural() string { return f.cfg.GroupPlural }

// Router builds the facade's HTTP surface. All verbs other than GET (and
// OPTIONS, handled by CORS middleware) get the uniform read-only refusal.
func (f *Facade) Router() http.Handler {
	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		common.WriteMethodNotAllowed(w, req)
	})
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		common.WriteNotFound(w, req, "unknown registry path")
	})

	r.Get("/", f.getRegistry)
	r.Get("/model", f.getModel)
	r.Get("/capabilities", f.getCapabilities)
	r.Get("/export", f.getExport)
	r.Get("/health", f.getHealth)
	r.Get("/performance/stats", f.getStats)

	r.Route("/"+f.cfg.GroupPlural, func(r chi.Router) {
		r.Get("/", f.getGroups)
		r.Route("/{groupID}", func(r chi.Router) {
			r.Get("/", f.getGroup)
			r.Route("/"+f.cfg.ResourcePlural, func(r chi.Router) {
				r.Get("/", f.listResources)
				r.Route("/{resourceID}", func(r chi.Router) {
					r.Get("/", f.getResource)
					r.Get("/meta", f.getResourceMeta)
					r.Get("/versions", f.getVersions)
					r.Get("/versions/{versionID}", f.getVersion)
					r.Get("/versions/{versionID}/meta", f.getVersionMeta)
				})
			})
		})
	})

	return r
}

// getRegistry handles GET / — the registry root document.
func (f *Facade) getRegistry(w http.ResponseWriter, r *http.Request) {
	flags, err := common.ParseFlags(r, f.cfg.GroupPlural)
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}

	base := common.BaseURL(r, f.pathPrefix)
	doc := f.registryDocument(base, flags)
	common.WriteJSONResponse(w, doc, http.StatusOK)
}

// getGroups handles GET /<groupPlural> — the single-entry group map.
func (f *Facade) getGroups(w http.ResponseWriter, r *http.Request) {
	base := common.BaseURL(r, f.pathPrefix)
	doc := xregistry.Document{
		f.cfg.GroupID: f.groupDocument(base),
	}
	common.WriteJSONResponse(w, doc, http.StatusOK)
}

// getGroup handles GET /<groupPlural>/<groupID>.
func (f *Facade) getGroup(w http.ResponseWriter, r *http.Request) {
	groupID, err := common.PathParam(r, "groupID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}
	if groupID != f.cfg.GroupID {
		common.WriteNotFound(w, r, "unknown group: "+groupID)
		return
	}
	base := common.BaseURL(r, f.pathPrefix)
	common.WriteJSONResponse(w, f.groupDocument(base), http.StatusOK)
}

// getExport redirects to the fully inlined doc view.
func (f *Facade) getExport(w http.ResponseWriter, r *http.Request) {
	base := common.BaseURL(r, f.pathPrefix)
	http.Redirect(w, r, base+"/?doc&inline=*,capabilities,modelsource", http.StatusFound)
}

func (*Facade) getHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// getStats handles GET /performance/stats.
func (f *Facade) getStats(w http.ResponseWriter, _ *http.Request) {
	stats := map[string]any{
		"uptimeSeconds": int(time.Since(f.started).Seconds()),
		"index": map[string]any{
			"ready": f.idx.Ready(),
			"size":  f.idx.Len(),
		},
		"filterCache": map[string]any{
			"entries": f.results.Len(),
		},
		"trackedPaths": f.state.Len(),
	}
	if f.client != nil {
		stats["cache"] = f.client.Stats()
	}
	common.WriteJSONResponse(w, stats, http.StatusOK)
}
