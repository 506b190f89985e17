// Package oci adapts an OCI distribution registry (tags + catalog APIs) to
// the facade. Resources are repositories; versions are tags.
package oci

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/xregistry/xrbridge/internal/facade"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

const (
	tagsTTL    = 5 * time.Minute
	catalogTTL = 12 * time.Hour

	// catalogLimit bounds the repository enumeration used to seed the
	// name index; registries may refuse or truncate the catalog API.
	catalogLimit = 100_000
)

// tagsResponse is /v2/<name>/tags/list.
type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// catalogResponse is /v2/_catalog.
type catalogResponse struct {
	Repositories []string `json:"repositories"`
}

// Ecosystem is the OCI distribution adapter.
type Ecosystem struct {
	client  *upstream.Client
	baseURL string
}

var _ facade.Ecosystem = (*Ecosystem)(nil)

// New creates the adapter over the given registry root.
func New(client *upstream.Client, baseURL string) *Ecosystem {
	return &Ecosystem{
		client:  client,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// Normalize lowercases the repository and applies the docker.io convention
// of prefixing bare official images with library/.
func (*Ecosystem) Normalize(id string) string {
	id = strings.ToLower(id)
	if !strings.Contains(id, "/") {
		id = "library/" + id
	}
	return id
}

// FetchPackage lists a repository's tags.
func (e *Ecosystem) FetchPackage(ctx context.Context, name string) (*facade.PackageInfo, error) {
	doc, err := e.FetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	var tr tagsResponse
	if err := upstream.Redecode(doc, &tr); err != nil {
		return nil, errors.Wrapf(err, "malformed tags listing for %s", name)
	}

	repo := e.Normalize(name)
	info := &facade.PackageInfo{
		Name:         name,
		NormalizedID: repo,
		Attributes: xregistry.Document{
			"repository": repo,
		},
	}

	for _, tag := range tr.Tags {
		info.Versions = append(info.Versions, facade.VersionInfo{
			ID: tag,
			Attributes: xregistry.Document{
				"manifesturl": fmt.Sprintf("%s/v2/%s/manifests/%s", e.baseURL, repo, tag),
			},
		})
		if tag == "latest" {
			info.DefaultVersion = "latest"
		}
	}
	// Tag listings carry no timestamps; without a latest tag the highest
	// tag in comparator order stands in as the default.
	if info.DefaultVersion == "" && len(tr.Tags) > 0 {
		best := tr.Tags[0]
		for _, tag := range tr.Tags[1:] {
			if e.CompareVersions(tag, best) > 0 {
				best = tag
			}
		}
		info.DefaultVersion = best
	}
	return info, nil
}

// FetchMetadata returns the raw tags listing.
func (e *Ecosystem) FetchMetadata(ctx context.Context, name string) (any, error) {
	return e.client.FetchJSON(ctx, e.baseURL+"/v2/"+e.Normalize(name)+"/tags/list", tagsTTL)
}

// Search degrades to an existence probe; the distribution spec has no
// search endpoint.
func (e *Ecosystem) Search(ctx context.Context, query string, _ int) ([]string, error) {
	if query == "" {
		return nil, nil
	}
	if _, err := e.FetchMetadata(ctx, query); err != nil {
		if upstream.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return []string{e.Normalize(query)}, nil
}

// LoadCorpus enumerates repositories via the catalog API.
func (e *Ecosystem) LoadCorpus(ctx context.Context) ([]string, error) {
	u := fmt.Sprintf("%s/v2/_catalog?n=%d", e.baseURL, catalogLimit)
	doc, err := e.client.FetchJSON(ctx, u, catalogTTL)
	if err != nil {
		return nil, err
	}
	var cr catalogResponse
	if err := upstream.Redecode(doc, &cr); err != nil {
		return nil, errors.Wrap(err, "malformed catalog response")
	}
	return cr.Repositories, nil
}

// FieldPaths maps filter fields into the tags listing.
func (*Ecosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"repository": {"name"},
		"version":    {"tags"},
	}
}

// Summary projects list-entry attributes out of a tags listing.
func (*Ecosystem) Summary(doc any) xregistry.Document {
	var tr tagsResponse
	if err := upstream.Redecode(doc, &tr); err != nil {
		return nil
	}
	return xregistry.Document{
		"tagscount": len(tr.Tags),
	}
}

// CompareVersions orders tags lexically; tags are opaque in the
// distribution spec.
func (*Ecosystem) CompareVersions(a, b string) int {
	return strings.Compare(a, b)
}
