package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xregistry/xrbridge/internal/config"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// fakeEcosystem serves a small fixed corpus from memory.
type fakeEcosystem struct {
	packages map[string]*PackageInfo
	metadata map[string]any
	corpus   []string
}

var _ Ecosystem = (*fakeEcosystem)(nil)

func (*fakeEcosystem) Normalize(id string) string { return strings.ToLower(id) }

func (f *fakeEcosystem) FetchPackage(_ context.Context, name string) (*PackageInfo, error) {
	pkg, ok := f.packages[name]
	if !ok {
		return nil, upstream.NewError(upstream.KindNotFound, name, 404, nil)
	}
	// Hand out a copy so facade-side sorting never mutates the fixture.
	cp := *pkg
	cp.Versions = append([]VersionInfo(nil), pkg.Versions...)
	return &cp, nil
}

func (f *fakeEcosystem) FetchMetadata(_ context.Context, name string) (any, error) {
	doc, ok := f.metadata[name]
	if !ok {
		return nil, upstream.NewError(upstream.KindNotFound, name, 404, nil)
	}
	return doc, nil
}

func (f *fakeEcosystem) Search(_ context.Context, query string, limit int) ([]string, error) {
	var out []string
	for _, n := range f.corpus {
		if query == "" || strings.HasPrefix(n, query) {
			out = append(out, n)
		}
		if len(out) >= limit {
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeEcosystem) LoadCorpus(context.Context) ([]string, error) {
	return f.corpus, nil
}

func (*fakeEcosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"description": {"description"},
		"license":     {"license"},
	}
}

func (*fakeEcosystem) Summary(doc any) xregistry.Document {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil
	}
	out := xregistry.Document{}
	if d, ok := m["description"].(string); ok {
		out["description"] = d
	}
	return out
}

func (*fakeEcosystem) CompareVersions(a, b string) int { return strings.Compare(a, b) }

func testFixture() *fakeEcosystem {
	return &fakeEcosystem{
		corpus: []string{"axios", "express", "lodash", "react", "react-dom"},
		packages: map[string]*PackageInfo{
			"express": {
				Name:           "express",
				NormalizedID:   "express",
				DefaultVersion: "4.0.0",
				Attributes:     xregistry.Document{"description": "web framework"},
				Versions: []VersionInfo{
					{ID: "3.0.0", Published: time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)},
					{ID: "4.0.0", Published: time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC),
						Attributes: xregistry.Document{"tarballurl": "https://registry.npmjs.org/express/-/express-4.0.0.tgz"}},
					{ID: "2.0.0", Published: time.Date(2011, 1, 1, 0, 0, 0, 0, time.UTC)},
				},
			},
			"empty-pkg": {
				Name:         "empty-pkg",
				NormalizedID: "empty-pkg",
			},
		},
		metadata: map[string]any{
			"react":     map[string]any{"description": "ui library", "license": "MIT"},
			"react-dom": map[string]any{"description": "dom renderer", "license": "MIT"},
			"axios":     map[string]any{"description": "http client", "license": "MIT"},
			"express":   map[string]any{"description": "web framework", "license": "MIT"},
			"lodash":    map[string]any{"description": "utilities", "license": "GPL-3.0"},
		},
	}
}

func testFacade(t *testing.T, eco Ecosystem) *Facade {
	t.Helper()
	cfg := config.FacadeConfig{
		Type:                  config.FacadeNPM,
		GroupPlural:           "noderegistries",
		GroupSingular:         "noderegistry",
		GroupID:               "npmjs.org",
		ResourcePlural:        "packages",
		ResourceSingular:      "package",
		PackagesCountEstimate: 2_000_000,
	}
	f, err := New(cfg, Options{
		Ecosystem:          eco,
		FilterDeadline:     5 * time.Second,
		MaxMetadataFetches: 100,
		Concurrency:        4,
		FilterCacheSize:    100,
		FilterCacheAge:     time.Minute,
	})
	require.NoError(t, err)
	f.idx.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.idx.WaitReady(ctx))
	return f
}

func get(t *testing.T, h http.Handler, url string) (*httptest.ResponseRecorder, xregistry.Document) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
	var doc xregistry.Document
	if rec.Code == http.StatusOK || rec.Code == http.StatusNotFound {
		_ = json.Unmarshal(rec.Body.Bytes(), &doc)
	}
	return rec, doc
}

func TestRegistryDocument(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, xregistry.SpecVersion, rec.Header().Get(xregistry.VersionHeader))
	assert.Contains(t, rec.Header().Get("Content-Type"), "schema=")

	assert.Equal(t, "/", doc["xid"])
	assert.Equal(t, "http://bridge.example/", doc["self"])
	assert.Equal(t, "http://bridge.example/noderegistries", doc["noderegistriesurl"])
	assert.Equal(t, float64(1), doc["noderegistriescount"])
	assert.NotContains(t, doc, "noderegistries", "groups are URL references by default")

	// Idempotent across calls with the same flags.
	_, doc2 := get(t, h, "http://bridge.example/")
	assert.Equal(t, doc["epoch"], doc2["epoch"])
	assert.Equal(t, doc["modifiedat"], doc2["modifiedat"])
}

func TestRegistryDocumentInline(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/?inline=noderegistries,model")
	require.Equal(t, http.StatusOK, rec.Code)
	groups, ok := doc["noderegistries"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, groups, "npmjs.org")
	assert.Contains(t, doc, "model")

	rec, _ = get(t, h, "http://bridge.example/?inline=nonsense")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGroupDocument(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "npmjs.org", doc["noderegistryid"])
	assert.Equal(t, "/noderegistries/npmjs.org", doc["xid"])
	assert.Equal(t, "http://bridge.example/noderegistries/npmjs.org", doc["self"])
	// With the index ready, the count reflects the corpus, not the estimate.
	assert.Equal(t, float64(5), doc["packagescount"])

	rec, _ = get(t, h, "http://bridge.example/noderegistries/unknown.org")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResourceDocument(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "express", doc["packageid"])
	assert.Equal(t, "4.0.0", doc["versionid"])
	assert.Equal(t, true, doc["isdefault"])
	assert.Equal(t, float64(3), doc["versionscount"])
	assert.Equal(t, "3.0.0", doc["ancestor"], "default version's ancestor is its predecessor")
	assert.Equal(t, "/noderegistries/npmjs.org/packages/express", doc["xid"])
	assert.Equal(t, "http://bridge.example"+doc["xid"].(string), doc["self"])
	assert.Equal(t, doc["self"].(string)+"/meta", doc["metaurl"])
	assert.Equal(t, doc["self"].(string)+"/versions", doc["versionsurl"])
	assert.Equal(t, "web framework", doc["description"])
	assert.Contains(t, doc, "tarballurl")
}

func TestResourceMetaConsistency(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	_, res := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express")
	rec, meta := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express/meta")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, res["versionid"], meta["defaultversionid"])
	assert.Equal(t, true, meta["readonly"])
	assert.Equal(t, "/noderegistries/npmjs.org/packages/express/meta", meta["xid"])
}

func TestVersionsCollection(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express/versions")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 3)

	v2 := doc["2.0.0"].(map[string]any)
	v3 := doc["3.0.0"].(map[string]any)
	v4 := doc["4.0.0"].(map[string]any)

	// Ancestor chain follows chronological order; the oldest points at
	// itself.
	assert.Equal(t, "2.0.0", v2["ancestor"])
	assert.Equal(t, "2.0.0", v3["ancestor"])
	assert.Equal(t, "3.0.0", v4["ancestor"])
	assert.Equal(t, true, v4["isdefault"])
	assert.Equal(t, false, v2["isdefault"])
}

func TestVersionMetaExactKeys(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express/versions/4.0.0/meta")
	require.Equal(t, http.StatusOK, rec.Code)

	var keys []string
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{
		"ancestor", "createdat", "epoch", "isdefault", "modifiedat",
		"packageid", "self", "versionid", "xid",
	}, keys)
}

func TestUnknownVersionIs404(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, _ := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/express/versions/9.9.9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestZeroVersionPackage(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/empty-pkg")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), doc["versionscount"])
	assert.NotContains(t, doc, "versionid")
	assert.NotContains(t, doc, "isdefault")

	rec, versions := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages/empty-pkg/versions")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, versions)
}

func TestMutatingVerbsAre405(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(method, "http://bridge.example/noderegistries/npmjs.org/packages", nil))
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)

		var problem map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, "Method Not Allowed", problem["title"])
		assert.Equal(t, float64(http.StatusMethodNotAllowed), problem["status"])
		assert.NotEmpty(t, problem["type"])
	}
}

func TestUnknownRouteIs404Problem(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://bridge.example/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var problem map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, float64(http.StatusNotFound), problem["status"])
}

func TestListPagination(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?limit=2&sort=name%3Dasc")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 2)
	assert.Contains(t, doc, "axios")
	assert.Contains(t, doc, "express")
	link := rec.Header().Get("Link")
	assert.Contains(t, link, `rel="next"`)
	assert.Contains(t, link, "offset=2")

	// The last page is not full, so no Link.
	rec, doc = get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?limit=4&offset=4")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 1)
	assert.Empty(t, rec.Header().Get("Link"))
}

func TestListSortDesc(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?limit=1&sort=name%3Ddesc")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 1)
	assert.Contains(t, doc, "react-dom")
}

func TestListLimitZeroRejected(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, _ := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?limit=0")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilteredListNameOnly(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?filter=name%3Dreact*&limit=3")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 2)
	assert.Contains(t, doc, "react")
	assert.Contains(t, doc, "react-dom")
	assert.Contains(t, rec.Header().Get("Link"), `rel="next"`,
		"filtered non-empty pages always advertise a next page")

	entry := doc["react"].(map[string]any)
	assert.NotContains(t, entry, "description", "no enrichment without metadata predicates")
}

func TestFilteredListWithEnrichment(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?filter=license%3DMIT&limit=10")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, doc, 4)
	assert.NotContains(t, doc, "lodash")

	entry := doc["react"].(map[string]any)
	assert.Equal(t, "ui library", entry["description"], "enriched entries carry metadata")
}

func TestFilterMatchingNothing(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, doc := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?filter=name%3Dzzz*")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, doc)
	assert.Empty(t, rec.Header().Get("Link"))
}

func TestMalformedFilterRejected(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec, _ := get(t, h, "http://bridge.example/noderegistries/npmjs.org/packages?filter=bogusfield%3Dx")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportRedirect(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://bridge.example/export", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://bridge.example/?doc&inline=*,capabilities,modelsource", rec.Header().Get("Location"))
}

func TestSelfEqualsBaseURLPlusXID(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	urls := []string{
		"http://bridge.example/",
		"http://bridge.example/noderegistries/npmjs.org",
		"http://bridge.example/noderegistries/npmjs.org/packages/express",
		"http://bridge.example/noderegistries/npmjs.org/packages/express/meta",
		"http://bridge.example/noderegistries/npmjs.org/packages/express/versions/4.0.0",
	}
	for _, u := range urls {
		_, doc := get(t, h, u)
		xid, _ := doc["xid"].(string)
		self, _ := doc["self"].(string)
		require.NotEmpty(t, xid, u)
		if xid == "/" {
			assert.Equal(t, "http://bridge.example/", self, u)
			continue
		}
		assert.Equal(t, "http://bridge.example"+xid, self, u)
	}
}

func TestHealthAndStats(t *testing.T) {
	f := testFacade(t, testFixture())
	h := f.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://bridge.example/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://bridge.example/performance/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	idx := stats["index"].(map[string]any)
	assert.Equal(t, true, idx["ready"])
	assert.Equal(t, float64(5), idx["size"])
}
