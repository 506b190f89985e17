// Package facade implements the registry-shaped HTTP surface over one
// upstream ecosystem: path mapping, document shaping, pagination, sort,
// and the filter engine wiring.
package facade

import (
	"context"
	"time"

	"github.com/xregistry/xrbridge/internal/xregistry"
)

// VersionInfo is one package version in chronological order.
type VersionInfo struct {
	ID string

	// Published is the upstream release time; zero when the ecosystem does
	// not expose one (ordering then falls back to the version comparator).
	Published time.Time

	// Attributes holds the ecosystem payload fields projected onto the
	// version document.
	Attributes xregistry.Document
}

// PackageInfo is the facade-internal view of one upstream package.
type PackageInfo struct {
	// Name is the display form used in URL paths.
	Name string

	// NormalizedID is the deterministic <resource>id attribute value.
	NormalizedID string

	// DefaultVersion is the upstream latest/stable pointer; empty when the
	// package has no versions.
	DefaultVersion string

	// Attributes holds resource-level metadata (description, license, ...).
	Attributes xregistry.Document

	// Versions is sorted ascending: oldest first.
	Versions []VersionInfo
}

// Ecosystem adapts one upstream registry dialect to the facade. One adapter
// instance exists per facade; implementations live in internal/upstream.
type Ecosystem interface {
	// Normalize maps a display identifier onto its canonical form (PEP 503
	// lowercasing, npm scoped-name rules, Maven group:artifact).
	Normalize(id string) string

	// FetchPackage loads and shapes the full package record.
	FetchPackage(ctx context.Context, name string) (*PackageInfo, error)

	// FetchMetadata loads the raw metadata document used for filter
	// enrichment; the filter engine extracts fields from it by path.
	FetchMetadata(ctx context.Context, name string) (any, error)

	// Search asks the upstream for names matching query; it is the
	// fallback while the name index is still loading. An empty query
	// returns an upstream-defined sample.
	Search(ctx context.Context, query string, limit int) ([]string, error)

	// LoadCorpus fetches the full name corpus for the index.
	LoadCorpus(ctx context.Context) ([]string, error)

	// FieldPaths maps filter fields onto gjson paths into the metadata
	// document.
	FieldPaths() map[string][]string

	// Summary projects list-entry attributes out of a metadata document.
	Summary(doc any) xregistry.Document

	// CompareVersions orders two version ids per the ecosystem's rules.
	CompareVersions(a, b string) int
}
