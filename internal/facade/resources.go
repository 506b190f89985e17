package facade

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/index"
	"github.com/xregistry/xrbridge/internal/logger"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// checkGroup validates the groupID path segment; every resource route is
// nested under it.
func (f *Facade) checkGroup(w http.ResponseWriter, r *http.Request) bool {
	groupID, err := common.PathParam(r, "groupID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return false
	}
	if groupID != f.cfg.GroupID {
		common.WriteNotFound(w, r, "unknown group: "+groupID)
		return false
	}
	return true
}

// fetchPackage loads a package from the ecosystem and orders its versions
// oldest-first.
func (f *Facade) fetchPackage(ctx context.Context, name string) (*PackageInfo, error) {
	pkg, err := f.eco.FetchPackage(ctx, name)
	if err != nil {
		return nil, err
	}
	f.sortVersions(pkg)
	return pkg, nil
}

// listResources handles GET /<groups>/<id>/<resources> with filter, sort,
// limit, and offset.
func (f *Facade) listResources(w http.ResponseWriter, r *http.Request) {
	if !f.checkGroup(w, r) {
		return
	}
	flags, err := common.ParseFlags(r)
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}

	base := common.BaseURL(r, f.pathPrefix)

	switch {
	case flags.Filter != "":
		f.listFiltered(w, r, base, flags)
	case flags.Sort != nil:
		f.listSorted(w, r, base, flags)
	default:
		f.listPlain(w, r, base, flags)
	}
}

// listFiltered answers filter= queries through the two-step engine.
func (f *Facade) listFiltered(w http.ResponseWriter, r *http.Request, base string, flags *common.Flags) {
	filter, err := index.ParseFilter(flags.Filter)
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}

	matches, hasMore, ok := f.results.Get(filter.String(), flags.Limit, flags.Offset)
	if !ok {
		matches, hasMore, err = f.eval.Evaluate(r.Context(), filter, flags.Limit, flags.Offset)
		if errors.Is(err, index.ErrIndexNotReady) {
			matches, hasMore, err = f.filterViaSearch(r.Context(), filter, flags.Limit, flags.Offset)
		}
		if err != nil {
			writeUpstreamError(w, r, err)
			return
		}
		f.results.Put(filter.String(), flags.Limit, flags.Offset, matches, hasMore)
	}

	collection := xregistry.Document{}
	for _, m := range matches {
		var enriched xregistry.Document
		if m.Doc != nil {
			enriched = f.eco.Summary(m.Doc)
		}
		collection[f.eco.Normalize(m.Name)] = f.resourceSummary(base, m.Name, enriched)
	}

	// Filtered pages advertise a next page whenever they are non-empty;
	// the engine's fan-out cap means more survivors may exist upstream.
	if len(matches) > 0 {
		w.Header().Set("Link", nextLink(r, base, flags.Limit, flags.Offset))
	}
	common.WriteJSONResponse(w, collection, http.StatusOK)
}

// filterViaSearch is the degraded path while the index is loading: the
// first name predicate drives an upstream search, and the returned page is
// filtered in memory.
func (f *Facade) filterViaSearch(ctx context.Context, filter *index.Filter, limit, offset int) ([]index.Match, bool, error) {
	namePreds := filter.NamePredicates()
	query := ""
	if len(namePreds) > 0 {
		query = index.LiteralPrefix(namePreds[0].Value)
	}

	names, err := f.eco.Search(ctx, query, offset+limit+1)
	if err != nil {
		return nil, false, err
	}

	var survivors []index.Match
	metaPreds := filter.MetadataPredicates()
	fieldPaths := f.eco.FieldPaths()
	for _, name := range names {
		keep := true
		for _, p := range namePreds {
			if !p.Match(name) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		var doc any
		if len(metaPreds) > 0 {
			doc, err = f.eco.FetchMetadata(ctx, name)
			if err != nil {
				logger.FromContext(ctx).Warnf("dropping search candidate %s: %v", name, err)
				continue
			}
			if !index.MatchDoc(doc, metaPreds, fieldPaths) {
				continue
			}
		}
		survivors = append(survivors, index.Match{Name: name, Doc: doc})
		if len(survivors) >= offset+limit {
			break
		}
	}

	if offset >= len(survivors) {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(survivors) {
		end = len(survivors)
	}
	page := survivors[offset:end]
	return page, len(page) > 0, nil
}

// listSorted applies sort=<field>=<dir> over the whole candidate set before
// slicing. Sorting waits for the index, bounded by the filter deadline.
func (f *Facade) listSorted(w http.ResponseWriter, r *http.Request, base string, flags *common.Flags) {
	waitCtx, cancel := context.WithTimeout(r.Context(), f.filterDeadline)
	defer cancel()
	if err := f.idx.WaitReady(waitCtx); err != nil {
		common.WriteUpstreamTimeout(w, r, "name index not ready within deadline")
		return
	}

	names := f.idx.Names()
	spec := flags.Sort

	var page []string
	docs := map[string]any{}
	if spec.Field == "name" {
		ordered := names
		if spec.Desc {
			ordered = reversed(names)
		}
		page = slicePage(ordered, flags.Limit, flags.Offset)
	} else {
		// Non-name sorts need metadata; the candidate set is capped the
		// same way two-step enrichment is.
		candidates := names
		if len(candidates) > f.maxFetches {
			candidates = candidates[:f.maxFetches]
		}
		docs = f.fetchDocs(r.Context(), candidates)
		ordered := f.sortByField(candidates, docs, spec)
		page = slicePage(ordered, flags.Limit, flags.Offset)
	}

	collection := xregistry.Document{}
	for _, name := range page {
		var enriched xregistry.Document
		if doc, ok := docs[name]; ok {
			enriched = f.eco.Summary(doc)
		}
		collection[f.eco.Normalize(name)] = f.resourceSummary(base, name, enriched)
	}

	if len(page) == flags.Limit {
		w.Header().Set("Link", nextLink(r, base, flags.Limit, flags.Offset))
	}
	common.WriteJSONResponse(w, collection, http.StatusOK)
}

// listPlain is the unfiltered, unsorted listing: a deterministic slice of
// the name index, or an upstream sample while the index is loading.
func (f *Facade) listPlain(w http.ResponseWriter, r *http.Request, base string, flags *common.Flags) {
	var page []string
	if f.idx.Ready() {
		page = slicePage(f.idx.Names(), flags.Limit, flags.Offset)
	} else {
		names, err := f.eco.Search(r.Context(), "", flags.Offset+flags.Limit)
		if err != nil {
			writeUpstreamError(w, r, err)
			return
		}
		page = slicePage(names, flags.Limit, flags.Offset)
	}

	collection := xregistry.Document{}
	for _, name := range page {
		collection[f.eco.Normalize(name)] = f.resourceSummary(base, name, nil)
	}

	if len(page) == flags.Limit {
		w.Header().Set("Link", nextLink(r, base, flags.Limit, flags.Offset))
	}
	common.WriteJSONResponse(w, collection, http.StatusOK)
}

// fetchDocs loads metadata for the given names in parallel, dropping
// failures; sort queries tolerate gaps the same way filters do.
func (f *Facade) fetchDocs(ctx context.Context, names []string) map[string]any {
	var mu sync.Mutex
	docs := make(map[string]any, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for _, name := range names {
		g.Go(func() error {
			doc, err := f.eco.FetchMetadata(gctx, name)
			if err != nil {
				logger.FromContext(ctx).Warnf("dropping sort candidate %s: %v", name, err)
				return nil
			}
			mu.Lock()
			docs[name] = doc
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return docs
}

// sortByField orders names by an extracted metadata field, ties broken by
// name so the order is deterministic.
func (f *Facade) sortByField(names []string, docs map[string]any, spec *common.SortSpec) []string {
	paths := f.eco.FieldPaths()[spec.Field]
	keys := make(map[string]string, len(names))
	for _, n := range names {
		if doc, ok := docs[n]; ok {
			keys[n] = index.FirstValue(doc, paths)
		}
	}
	ordered := make([]string, len(names))
	copy(ordered, names)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := keys[ordered[i]], keys[ordered[j]]
		if a != b {
			if spec.Desc {
				return a > b
			}
			return a < b
		}
		if spec.Desc {
			return ordered[i] > ordered[j]
		}
		return ordered[i] < ordered[j]
	})
	return ordered
}

// getResource handles GET .../<resources>/<r> — the default-version view.
func (f *Facade) getResource(w http.ResponseWriter, r *http.Request) {
	if !f.checkGroup(w, r) {
		return
	}
	name, err := common.PathParam(r, "resourceID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}
	pkg, err := f.fetchPackage(r.Context(), name)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	base := common.BaseURL(r, f.pathPrefix)
	common.WriteJSONResponse(w, f.resourceDocument(base, pkg), http.StatusOK)
}

// getResourceMeta handles GET .../<r>/meta.
func (f *Facade) getResourceMeta(w http.ResponseWriter, r *http.Request) {
	if !f.checkGroup(w, r) {
		return
	}
	name, err := common.PathParam(r, "resourceID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}
	pkg, err := f.fetchPackage(r.Context(), name)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	base := common.BaseURL(r, f.pathPrefix)
	common.WriteJSONResponse(w, f.metaDocument(base, pkg), http.StatusOK)
}

// getVersions handles GET .../<r>/versions — the full version map.
func (f *Facade) getVersions(w http.ResponseWriter, r *http.Request) {
	if !f.checkGroup(w, r) {
		return
	}
	name, err := common.PathParam(r, "resourceID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return
	}
	pkg, err := f.fetchPackage(r.Context(), name)
	if err != nil {
		writeUpstreamError(w, r, err)
		return
	}
	base := common.BaseURL(r, f.pathPrefix)

	collection := xregistry.Document{}
	for i := range pkg.Versions {
		v := &pkg.Versions[i]
		collection[v.ID] = f.versionDocument(base, pkg, v)
	}
	common.WriteJSONResponse(w, collection, http.StatusOK)
}

// getVersion handles GET .../versions/<v>.
func (f *Facade) getVersion(w http.ResponseWriter, r *http.Request) {
	pkg, v, base, ok := f.resolveVersion(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, f.versionDocument(base, pkg, v), http.StatusOK)
}

// getVersionMeta handles GET .../versions/<v>/meta.
func (f *Facade) getVersionMeta(w http.ResponseWriter, r *http.Request) {
	pkg, v, base, ok := f.resolveVersion(w, r)
	if !ok {
		return
	}
	common.WriteJSONResponse(w, f.versionMetaDocument(base, pkg, v), http.StatusOK)
}

func (f *Facade) resolveVersion(w http.ResponseWriter, r *http.Request) (*PackageInfo, *VersionInfo, string, bool) {
	if !f.checkGroup(w, r) {
		return nil, nil, "", false
	}
	name, err := common.PathParam(r, "resourceID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return nil, nil, "", false
	}
	versionID, err := common.PathParam(r, "versionID")
	if err != nil {
		common.WriteBadRequest(w, r, err.Error())
		return nil, nil, "", false
	}
	pkg, err := f.fetchPackage(r.Context(), name)
	if err != nil {
		writeUpstreamError(w, r, err)
		return nil, nil, "", false
	}
	v := findVersion(pkg, versionID)
	if v == nil {
		common.WriteNotFound(w, r, "unknown version: "+versionID)
		return nil, nil, "", false
	}
	return pkg, v, common.BaseURL(r, f.pathPrefix), true
}

func slicePage(names []string, limit, offset int) []string {
	if offset >= len(names) {
		return nil
	}
	end := offset + limit
	if end > len(names) {
		end = len(names)
	}
	return names[offset:end]
}

func reversed(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[len(names)-1-i] = n
	}
	return out
}
