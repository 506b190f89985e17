// Package mcp adapts the MCP server registry (/v0/servers API) to the
// facade. Servers publish a single current version.
package mcp

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
	serverTTL = 5 * time.Minute
	listTTL   = 5 * time.Minute
	corpusTTL = 12 * time.Hour

	// pageSize is the /v0/servers page size; corpusPages bounds the
	// cursor walk that seeds the name index.
	pageSize    = 100
	corpusPages = 100
)

// Server is the upstream server record.
type Server struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Repository  struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	} `json:"repository"`
	WebsiteURL string `json:"website_url"`
}

// listResponse is /v0/servers.
type listResponse struct {
	Servers  []Server `json:"servers"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
	} `json:"metadata"`
}

// Ecosystem is the MCP registry adapter.
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

// Normalize lowercases the reverse-DNS server name.
func (*Ecosystem) Normalize(id string) string {
	return strings.ToLower(id)
}

// FetchPackage loads one server record. MCP servers expose their current
// version only, so the resource carries a single version entry.
func (e *Ecosystem) FetchPackage(ctx context.Context, name string) (*facade.PackageInfo, error) {
	doc, err := e.FetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}
	var s Server
	if err := upstream.Redecode(doc, &s); err != nil {
		return nil, errors.Wrapf(err, "malformed server record for %s", name)
	}
	if s.Name == "" {
		return nil, upstream.NewError(upstream.KindNotFound, name, 0, nil)
	}

	info := &facade.PackageInfo{
		Name:           s.Name,
		NormalizedID:   e.Normalize(s.Name),
		DefaultVersion: s.Version,
		Attributes:     serverAttributes(&s),
	}
	if s.Version != "" {
		info.Versions = []facade.VersionInfo{{
			ID:         s.Version,
			Attributes: xregistry.Document{},
		}}
	}
	return info, nil
}

// FetchMetadata returns the raw server record.
func (e *Ecosystem) FetchMetadata(ctx context.Context, name string) (any, error) {
	return e.client.FetchJSON(ctx, e.baseURL+"/v0/servers/"+url.PathEscape(name), serverTTL)
}

// Search queries the listing endpoint's search parameter.
func (e *Ecosystem) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 || limit > pageSize {
		limit = pageSize
	}
	u := fmt.Sprintf("%s/v0/servers?limit=%d", e.baseURL, limit)
	if query != "" {
		u += "&search=" + url.QueryEscape(query)
	}
	doc, err := e.client.FetchJSON(ctx, u, listTTL)
	if err != nil {
		return nil, err
	}
	var lr listResponse
	if err := upstream.Redecode(doc, &lr); err != nil {
		return nil, errors.Wrap(err, "malformed server listing")
	}
	names := make([]string, 0, len(lr.Servers))
	for _, s := range lr.Servers {
		names = append(names, s.Name)
	}
	return names, nil
}

// LoadCorpus walks the listing cursor to seed the name index.
func (e *Ecosystem) LoadCorpus(ctx context.Context) ([]string, error) {
	var names []string
	cursor := ""
	for page := 0; page < corpusPages; page++ {
		u := fmt.Sprintf("%s/v0/servers?limit=%d", e.baseURL, pageSize)
		if cursor != "" {
			u += "&cursor=" + url.QueryEscape(cursor)
		}
		doc, err := e.client.FetchJSON(ctx, u, corpusTTL)
		if err != nil {
			if page > 0 {
				break
			}
			return nil, err
		}
		var lr listResponse
		if err := upstream.Redecode(doc, &lr); err != nil {
			return nil, errors.Wrap(err, "malformed server listing")
		}
		for _, s := range lr.Servers {
			names = append(names, s.Name)
		}
		if lr.Metadata.NextCursor == "" {
			break
		}
		cursor = lr.Metadata.NextCursor
	}
	return names, nil
}

// FieldPaths maps filter fields into the server record.
func (*Ecosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"description": {"description"},
		"homepage":    {"website_url"},
		"version":     {"version"},
		"repository":  {"repository.url"},
	}
}

// Summary projects list-entry attributes out of a server record.
func (*Ecosystem) Summary(doc any) xregistry.Document {
	var s Server
	if err := upstream.Redecode(doc, &s); err != nil {
		return nil
	}
	out := xregistry.Document{}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Version != "" {
		out["versionid"] = s.Version
	}
	return out
}

// CompareVersions orders semver ids with a lexicographic fallback.
func (*Ecosystem) CompareVersions(a, b string) int {
	return versions.Compare(a, b)
}

func serverAttributes(s *Server) xregistry.Document {
	out := xregistry.Document{}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if s.Repository.URL != "" {
		out["repository"] = s.Repository.URL
	}
	if s.WebsiteURL != "" {
		out["homepage"] = s.WebsiteURL
	}
	return out
}
