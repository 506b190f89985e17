package facade

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

// registryDocument builds the root document. Groups appear as URL
// references unless inlined.
func (f *Facade) registryDocument(base string, flags *common.Flags) xregistry.Document {
	gp := f.cfg.GroupPlural
	st := f.state.Get("/")

	doc := xregistry.Document{
		"specversion":     xregistry.SpecVersion,
		"registryid":      string(f.cfg.Type) + "-wrapper",
		"xid":             "/",
		"self":            base + "/",
		"epoch":           st.Epoch,
		"createdat":       xregistry.FormatTime(st.CreatedAt),
		"modifiedat":      xregistry.FormatTime(st.ModifiedAt),
		"modelurl":        base + "/model",
		"capabilitiesurl": base + "/capabilities",
		gp + "url":        base + "/" + gp,
		gp + "count":      1,
	}

	if flags.HasInline(gp) {
		doc[gp] = xregistry.Document{f.cfg.GroupID: f.groupDocument(base)}
	}
	if flags.HasInline("model") || flags.HasInline("modelsource") {
		model := f.modelDocument()
		if flags.HasInline("model") {
			doc["model"] = model
		}
		if flags.HasInline("modelsource") {
			doc["modelsource"] = model
		}
	}
	if flags.HasInline("capabilities") {
		doc["capabilities"] = f.capabilitiesDocument()
	}
	return doc
}

// groupDocument builds the single group this facade fronts.
func (f *Facade) groupDocument(base string) xregistry.Document {
	gp, rp := f.cfg.GroupPlural, f.cfg.ResourcePlural
	xid := "/" + gp + "/" + f.cfg.GroupID
	st := f.state.Get(xid)

	count := f.cfg.PackagesCountEstimate
	if f.idx.Ready() {
		count = f.idx.Len()
	}

	return xregistry.Document{
		f.cfg.GroupSingular + "id": f.cfg.GroupID,
		"xid":        xid,
		"self":       base + xid,
		"epoch":      st.Epoch,
		"createdat":  xregistry.FormatTime(st.CreatedAt),
		"modifiedat": xregistry.FormatTime(st.ModifiedAt),
		rp + "url":   base + xid + "/" + rp,
		rp + "count": count,
	}
}

// resourceXID is the canonical identifier for one package; path segments
// keep the display form of the name.
func (f *Facade) resourceXID(name string) string {
	return "/" + f.cfg.GroupPlural + "/" + f.cfg.GroupID + "/" + f.cfg.ResourcePlural + "/" + escapeSegment(name)
}

// escapeSegment percent-encodes a name for use as one path segment, so
// scoped npm names stay a single segment in xids and self URLs.
func escapeSegment(name string) string {
	return url.PathEscape(name)
}

// resourceDocument builds the full resource view: identity attributes,
// resource metadata, and the default version's payload merged in.
func (f *Facade) resourceDocument(base string, pkg *PackageInfo) xregistry.Document {
	xid := f.resourceXID(pkg.Name)
	self := base + xid
	st := f.state.Get(xid)

	doc := xregistry.Document{
		f.cfg.ResourceSingular + "id": pkg.NormalizedID,
		"xid":           xid,
		"self":          self,
		"name":          pkg.Name,
		"epoch":         st.Epoch,
		"createdat":     xregistry.FormatTime(st.CreatedAt),
		"modifiedat":    xregistry.FormatTime(st.ModifiedAt),
		"metaurl":       self + "/meta",
		"versionsurl":   self + "/versions",
		"versionscount": len(pkg.Versions),
	}

	for k, v := range pkg.Attributes {
		doc[k] = v
	}

	if pkg.DefaultVersion != "" {
		doc["versionid"] = pkg.DefaultVersion
		doc["isdefault"] = true
		doc["ancestor"] = f.ancestorOf(pkg, pkg.DefaultVersion)
		if v := findVersion(pkg, pkg.DefaultVersion); v != nil {
			for k, val := range v.Attributes {
				doc[k] = val
			}
		}
	}
	return doc
}

// resourceSummary builds a list entry: identity plus whatever enrichment
// metadata the filter step produced.
func (f *Facade) resourceSummary(base, name string, enriched xregistry.Document) xregistry.Document {
	xid := f.resourceXID(name)
	self := base + xid
	doc := xregistry.Document{
		f.cfg.ResourceSingular + "id": f.eco.Normalize(name),
		"name":        name,
		"xid":         xid,
		"self":        self,
		"metaurl":     self + "/meta",
		"versionsurl": self + "/versions",
	}
	for k, v := range enriched {
		doc[k] = v
	}
	return doc
}

// metaDocument is the resource's identity view.
func (f *Facade) metaDocument(base string, pkg *PackageInfo) xregistry.Document {
	rxid := f.resourceXID(pkg.Name)
	xid := rxid + "/meta"
	st := f.state.Get(rxid)

	doc := xregistry.Document{
		f.cfg.ResourceSingular + "id": pkg.NormalizedID,
		"xid":        xid,
		"self":       base + xid,
		"epoch":      st.Epoch,
		"createdat":  xregistry.FormatTime(st.CreatedAt),
		"modifiedat": xregistry.FormatTime(st.ModifiedAt),
		"readonly":   true,
	}
	if pkg.DefaultVersion != "" {
		doc["defaultversionid"] = pkg.DefaultVersion
		doc["defaultversionurl"] = base + rxid + "/versions/" + escapeSegment(pkg.DefaultVersion)
	}
	return doc
}

// versionDocument builds the full version view.
func (f *Facade) versionDocument(base string, pkg *PackageInfo, v *VersionInfo) xregistry.Document {
	xid := f.resourceXID(pkg.Name) + "/versions/" + escapeSegment(v.ID)
	st := f.state.Get(xid)

	doc := xregistry.Document{
		f.cfg.ResourceSingular + "id": pkg.NormalizedID,
		"versionid":  v.ID,
		"xid":        xid,
		"self":       base + xid,
		"epoch":      st.Epoch,
		"createdat":  xregistry.FormatTime(st.CreatedAt),
		"modifiedat": xregistry.FormatTime(st.ModifiedAt),
		"isdefault":  v.ID == pkg.DefaultVersion,
		"ancestor":   f.ancestorOf(pkg, v.ID),
	}
	for k, val := range v.Attributes {
		doc[k] = val
	}
	return doc
}

// versionMetaDocument is the reduced version view: identity, timestamps,
// and the default/ancestor pointers, nothing else.
func (f *Facade) versionMetaDocument(base string, pkg *PackageInfo, v *VersionInfo) xregistry.Document {
	xid := f.resourceXID(pkg.Name) + "/versions/" + escapeSegment(v.ID) + "/meta"
	st := f.state.Get(xid)

	return xregistry.Document{
		f.cfg.ResourceSingular + "id": pkg.NormalizedID,
		"versionid":  v.ID,
		"xid":        xid,
		"self":       base + xid,
		"epoch":      st.Epoch,
		"createdat":  xregistry.FormatTime(st.CreatedAt),
		"modifiedat": xregistry.FormatTime(st.ModifiedAt),
		"isdefault":  v.ID == pkg.DefaultVersion,
		"ancestor":   f.ancestorOf(pkg, v.ID),
	}
}

// sortVersions orders a package's versions oldest-first: by publish time
// when the upstream exposes one, otherwise by the ecosystem comparator.
func (f *Facade) sortVersions(pkg *PackageInfo) {
	sort.SliceStable(pkg.Versions, func(i, j int) bool {
		a, b := pkg.Versions[i], pkg.Versions[j]
		if !a.Published.IsZero() && !b.Published.IsZero() && !a.Published.Equal(b.Published) {
			return a.Published.Before(b.Published)
		}
		return f.eco.CompareVersions(a.ID, b.ID) < 0
	})
}

// ancestorOf returns the immediate predecessor of versionID in the sorted
// version list, or versionID itself for the oldest version.
func (f *Facade) ancestorOf(pkg *PackageInfo, versionID string) string {
	for i := range pkg.Versions {
		if pkg.Versions[i].ID == versionID {
			if i == 0 {
				return versionID
			}
			return pkg.Versions[i-1].ID
		}
	}
	return versionID
}

func findVersion(pkg *PackageInfo, id string) *VersionInfo {
	for i := range pkg.Versions {
		if pkg.Versions[i].ID == id {
			return &pkg.Versions[i]
		}
	}
	return nil
}

// writeUpstreamError maps the upstream error taxonomy onto problem
// responses.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case upstream.IsNotFound(err):
		common.WriteNotFound(w, r, err.Error())
	case upstream.IsTimeout(err):
		common.WriteUpstreamTimeout(w, r, err.Error())
	default:
		common.WriteUpstreamUnavailable(w, r, err.Error())
	}
}

// nextLink composes the rel="next" URL for a paginated response.
func nextLink(r *http.Request, base string, limit, offset int) string {
	u := *r.URL
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset+limit))
	return "<" + base + u.Path + "?" + q.Encode() + `>; rel="next"`
}
