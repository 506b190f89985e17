// Package maven adapts Maven Central (search API + repository layout) to
// the facade. Package identifiers are "group:artifact" coordinates.
package maven

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/xregistry/xrbridge/internal/facade"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

const (
	searchTTL = 5 * time.Minute
	corpusTTL = 12 * time.Hour

	searchURL = "https://search.maven.org/solrsearch/select"

	// versionRows caps the versions requested per coordinate.
	versionRows = 200

	// corpusPages bounds the coordinate sweep that seeds the name index;
	// Maven Central has no full-enumeration API.
	corpusPages = 50
	corpusRows  = 200
)

// searchResponse is the solrsearch JSON envelope.
type searchResponse struct {
	Response struct {
		NumFound int   `json:"numFound"`
		Docs     []doc `json:"docs"`
	} `json:"response"`
}

type doc struct {
	ID             string   `json:"id"`
	GroupID        string   `json:"g"`
	ArtifactID     string   `json:"a"`
	Version        string   `json:"v"`
	LatestVersion  string   `json:"latestVersion"`
	PublishedMilli int64    `json:"timestamp"`
	Packaging      string   `json:"p"`
	Files          []string `json:"ec"`
}

// Ecosystem is the Maven Central adapter.
type Ecosystem struct {
	client *upstream.Client

	// repoURL is the repository layout root used to compose artifact URLs.
	repoURL string
}

var _ facade.Ecosystem = (*Ecosystem)(nil)

// New creates the adapter. baseURL is the repository root (repo1).
func New(client *upstream.Client, baseURL string) *Ecosystem {
	return &Ecosystem{
		client:  client,
		repoURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Normalize keeps coordinates as-is; Maven group and artifact ids are
// case-sensitive.
func (*Ecosystem) Normalize(id string) string { return id }

// FetchPackage lists all versions of a coordinate via the search API.
func (e *Ecosystem) FetchPackage(ctx context.Context, name string) (*facade.PackageInfo, error) {
	g, a, found := strings.Cut(name, ":")
	if !found {
		return nil, upstream.NewError(upstream.KindNotFound, name, 0,
			errors.New("package identifier not of form 'group:artifact'"))
	}

	docAny, err := e.FetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := upstream.Redecode(docAny, &sr); err != nil {
		return nil, errors.Wrapf(err, "malformed search response for %s", name)
	}
	if len(sr.Response.Docs) == 0 {
		return nil, upstream.NewError(upstream.KindNotFound, name, 0, nil)
	}

	info := &facade.PackageInfo{
		Name:         name,
		NormalizedID: name,
		Attributes: xregistry.Document{
			"groupid":    g,
			"artifactid": a,
		},
	}

	var newest int64
	for _, d := range sr.Response.Docs {
		published := time.UnixMilli(d.PublishedMilli)
		v := facade.VersionInfo{
			ID:        d.Version,
			Published: published,
			Attributes: xregistry.Document{
				"publishedat": xregistry.FormatTime(published),
				"pomurl":      e.fileURL(g, a, d.Version, ".pom"),
				"jarurl":      e.fileURL(g, a, d.Version, ".jar"),
			},
		}
		if len(d.Files) > 0 {
			v.Attributes["files"] = d.Files
		}
		info.Versions = append(info.Versions, v)
		if d.PublishedMilli > newest {
			newest = d.PublishedMilli
			info.DefaultVersion = d.Version
		}
	}
	return info, nil
}

// FetchMetadata returns the raw per-coordinate version listing.
func (e *Ecosystem) FetchMetadata(ctx context.Context, name string) (any, error) {
	g, a, found := strings.Cut(name, ":")
	if !found {
		return nil, upstream.NewError(upstream.KindNotFound, name, 0,
			errors.New("package identifier not of form 'group:artifact'"))
	}
	q := fmt.Sprintf(`g:%q AND a:%q`, g, a)
	u := fmt.Sprintf("%s?q=%s&core=gav&rows=%d&wt=json", searchURL, url.QueryEscape(q), versionRows)
	return e.client.FetchJSON(ctx, u, searchTTL)
}

// Search queries the search API by free text.
func (e *Ecosystem) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if query == "" {
		query = "*"
	}
	if limit <= 0 || limit > corpusRows {
		limit = corpusRows
	}
	u := fmt.Sprintf("%s?q=%s&rows=%d&wt=json", searchURL, url.QueryEscape(query), limit)
	docAny, err := e.client.FetchJSON(ctx, u, searchTTL)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := upstream.Redecode(docAny, &sr); err != nil {
		return nil, errors.Wrap(err, "malformed search response")
	}
	names := make([]string, 0, len(sr.Response.Docs))
	for _, d := range sr.Response.Docs {
		names = append(names, d.GroupID+":"+d.ArtifactID)
	}
	return names, nil
}

// LoadCorpus sweeps the search API for coordinates. The sweep is bounded;
// the index covers the most relevant slice of Central rather than all of
// it, and once the index is ready filter queries do not find coordinates
// outside that slice.
func (e *Ecosystem) LoadCorpus(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for page := 0; page < corpusPages; page++ {
		u := fmt.Sprintf("%s?q=*:*&rows=%d&start=%d&wt=json", searchURL, corpusRows, page*corpusRows)
		docAny, err := e.client.FetchJSON(ctx, u, corpusTTL)
		if err != nil {
			if page > 0 {
				break
			}
			return nil, err
		}
		var sr searchResponse
		if err := upstream.Redecode(docAny, &sr); err != nil {
			return nil, errors.Wrap(err, "malformed search response")
		}
		if len(sr.Response.Docs) == 0 {
			break
		}
		for _, d := range sr.Response.Docs {
			coord := d.GroupID + ":" + d.ArtifactID
			if !seen[coord] {
				seen[coord] = true
				names = append(names, coord)
			}
		}
	}
	return names, nil
}

// FieldPaths maps filter fields into the version listing.
func (*Ecosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"description": {"response.docs.0.id"},
		"version":     {"response.docs.0.latestVersion", "response.docs.0.v"},
		"repository":  {"response.docs.0.g"},
	}
}

// Summary projects list-entry attributes out of a version listing.
func (*Ecosystem) Summary(docAny any) xregistry.Document {
	var sr searchResponse
	if err := upstream.Redecode(docAny, &sr); err != nil || len(sr.Response.Docs) == 0 {
		return nil
	}
	d := sr.Response.Docs[0]
	out := xregistry.Document{
		"groupid":    d.GroupID,
		"artifactid": d.ArtifactID,
	}
	if d.LatestVersion != "" {
		out["versionid"] = d.LatestVersion
	} else if d.Version != "" {
		out["versionid"] = d.Version
	}
	return out
}

// CompareVersions applies the Maven version comparator semantics as far as
// go-version models them, with a string-compare fallback.
func (*Ecosystem) CompareVersions(a, b string) int {
	va, errA := goversion.NewVersion(a)
	vb, errB := goversion.NewVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	return va.Compare(vb)
}

// fileURL composes a repository-layout artifact URL.
func (e *Ecosystem) fileURL(g, a, v, suffix string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s-%s%s",
		e.repoURL, strings.ReplaceAll(g, ".", "/"), a, v, a, v, suffix)
}
