// Package npm adapts the npmjs.org registry dialect to the facade.
package npm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/xregistry/xrbridge/internal/facade"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/versions"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

const (
	packumentTTL = 5 * time.Minute
	searchTTL    = 2 * time.Minute
	corpusTTL    = 12 * time.Hour

	// corpusLimit bounds the replicate _all_docs listing that seeds the
	// name index.
	corpusLimit = 2_000_000

	replicateURL = "https://replicate.npmjs.com"
)

// Ecosystem is the npm adapter.
type Ecosystem struct {
	client  *upstream.Client
	baseURL string
}

var _ facade.Ecosystem = (*Ecosystem)(nil)

// New creates the adapter over the given upstream base URL.
func New(client *upstream.Client, baseURL string) *Ecosystem {
	return &Ecosystem{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Normalize lowercases the name; npm package names are case-insensitive
// and scoped names keep their @scope/ prefix.
func (*Ecosystem) Normalize(id string) string {
	return strings.ToLower(id)
}

// FetchPackage loads and shapes the packument.
func (e *Ecosystem) FetchPackage(ctx context.Context, name string) (*facade.PackageInfo, error) {
	doc, err := e.FetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}

	var p Packument
	if err := upstream.Redecode(doc, &p); err != nil {
		return nil, errors.Wrapf(err, "malformed packument for %s", name)
	}

	info := &facade.PackageInfo{
		Name:           name,
		NormalizedID:   e.Normalize(name),
		DefaultVersion: p.DistTags["latest"],
		Attributes:     packageAttributes(&p),
	}

	for id, rel := range p.Versions {
		v := facade.VersionInfo{
			ID:         id,
			Attributes: releaseAttributes(&rel),
		}
		if ts, ok := p.Time[id]; ok {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				v.Published = t
				v.Attributes["publishedat"] = xregistry.FormatTime(t)
			}
		}
		info.Versions = append(info.Versions, v)
	}
	return info, nil
}

// FetchMetadata returns the raw packument for filter enrichment.
func (e *Ecosystem) FetchMetadata(ctx context.Context, name string) (any, error) {
	return e.client.FetchJSON(ctx, e.baseURL+"/"+url.PathEscape(name), packumentTTL)
}

// Search queries the npm search endpoint. An empty query asks for a stable
// sample page so listings degrade gracefully while the index loads.
func (e *Ecosystem) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" {
		query = "a"
	}
	if limit <= 0 || limit > 250 {
		limit = 250
	}
	u := fmt.Sprintf("%s/-/v1/search?text=%s&size=%d", e.baseURL, url.QueryEscape(query), limit)
	doc, err := e.client.FetchJSON(ctx, u, searchTTL)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := upstream.Redecode(doc, &sr); err != nil {
		return nil, errors.Wrap(err, "malformed search response")
	}
	names := make([]string, 0, len(sr.Objects))
	for _, o := range sr.Objects {
		names = append(names, o.Package.Name)
	}
	return names, nil
}

// LoadCorpus seeds the name index from the replicate _all_docs listing.
func (e *Ecosystem) LoadCorpus(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/_all_docs?limit=%d", replicateURL, corpusLimit)
	doc, err := e.client.FetchJSON(ctx, u, corpusTTL)
	if err != nil {
		return nil, err
	}
	var ad allDocsResponse
	if err := upstream.Redecode(doc, &ad); err != nil {
		return nil, errors.Wrap(err, "malformed _all_docs response")
	}
	names := make([]string, 0, len(ad.Rows))
	for _, row := range ad.Rows {
		// Design documents live alongside packages in the replica.
		if strings.HasPrefix(row.ID, "_design/") {
			continue
		}
		names = append(names, row.ID)
	}
	return names, nil
}

// FieldPaths maps filter fields into the packument.
func (*Ecosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"description": {"description"},
		"author":      {"author.name", "author"},
		"license":     {"license"},
		"homepage":    {"homepage"},
		"keywords":    {"keywords"},
		"version":     {"dist-tags.latest"},
		"repository":  {"repository.url", "repository"},
	}
}

// Summary projects list-entry attributes out of a packument.
func (*Ecosystem) Summary(doc any) xregistry.Document {
	var p Packument
	if err := upstream.Redecode(doc, &p); err != nil {
		return nil
	}
	out := xregistry.Document{}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.License != "" {
		out["license"] = p.License
	}
	if p.Homepage != "" {
		out["homepage"] = p.Homepage
	}
	if latest := p.DistTags["latest"]; latest != "" {
		out["versionid"] = latest
	}
	return out
}

// CompareVersions orders semver ids with a lexicographic fallback.
func (*Ecosystem) CompareVersions(a, b string) int {
	return versions.Compare(a, b)
}

// packageAttributes is the enumerated resource-level projection.
func packageAttributes(p *Packument) xregistry.Document {
	out := xregistry.Document{}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Keywords) > 0 {
		out["keywords"] = p.Keywords
	}
	if p.License != "" {
		out["license"] = p.License
	}
	if p.Homepage != "" {
		out["homepage"] = p.Homepage
	}
	if p.Repository != nil && p.Repository.URL != "" {
		out["repository"] = p.Repository.URL
	}
	if p.Author != nil && p.Author.Name != "" {
		out["author"] = p.Author.Name
	}
	return out
}

// releaseAttributes is the enumerated version-level projection.
func releaseAttributes(rel *Release) xregistry.Document {
	out := xregistry.Document{}
	if rel.Dist.Tarball != "" {
		out["tarballurl"] = rel.Dist.Tarball
	}
	if rel.Dist.Shasum != "" {
		out["shasum"] = rel.Dist.Shasum
	}
	if rel.Dist.Integrity != "" {
		out["integrity"] = rel.Dist.Integrity
	}
	if rel.License != "" {
		out["license"] = rel.License
	}
	if rel.Deprecated != "" {
		out["deprecated"] = rel.Deprecated
	}
	return out
}

