// Package pypi adapts the pypi.org registry dialect to the facade.
package pypi

import (
	"context"
	"regexp"
	"strings"
	"time"

	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/pkg/errors"

	"github.com/xregistry/xrbridge/internal/facade"
	"github.com/xregistry/xrbridge/internal/upstream"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

const (
	projectTTL = 5 * time.Minute
	corpusTTL  = 12 * time.Hour

	// simpleAccept negotiates the JSON rendering of the simple index.
	simpleAccept = "application/vnd.pypi.simple.v1+json"
)

// Project is the /pypi/<name>/json document.
type Project struct {
	Info     Info                  `json:"info"`
	Releases map[string][]Artifact `json:"releases"`
}

// Info describes a project.
type Info struct {
	Name        string            `json:"name"`
	Summary     string            `json:"summary"`
	Version     string            `json:"version"`
	License     string            `json:"license"`
	Author      string            `json:"author"`
	Keywords    string            `json:"keywords"`
	Homepage    string            `json:"home_page"`
	ProjectURLs map[string]string `json:"project_urls"`
}

// Artifact is one file of a release.
type Artifact struct {
	Filename    string    `json:"filename"`
	URL         string    `json:"url"`
	PackageType string    `json:"packagetype"`
	UploadTime  time.Time `json:"upload_time_iso_8601"`
	Digests     struct {
		SHA256 string `json:"sha256"`
	} `json:"digests"`
}

// simpleIndex is the JSON form of /simple/.
type simpleIndex struct {
	Projects []struct {
		Name string `json:"name"`
	} `json:"projects"`
}

// Ecosystem is the PyPI adapter.
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

var normalizeRuns = regexp.MustCompile(`[-_.]+`)

// Normalize applies PEP 503: lowercase with runs of ._- collapsed to -.
func (*Ecosystem) Normalize(id string) string {
	return normalizeRuns.ReplaceAllString(strings.ToLower(id), "-")
}

// FetchPackage loads and shapes the project document.
func (e *Ecosystem) FetchPackage(ctx context.Context, name string) (*facade.PackageInfo, error) {
	doc, err := e.FetchMetadata(ctx, name)
	if err != nil {
		return nil, err
	}

	var p Project
	if err := upstream.Redecode(doc, &p); err != nil {
		return nil, errors.Wrapf(err, "malformed project document for %s", name)
	}

	info := &facade.PackageInfo{
		Name:           name,
		NormalizedID:   e.Normalize(name),
		DefaultVersion: p.Info.Version,
		Attributes:     projectAttributes(&p.Info),
	}

	for id, artifacts := range p.Releases {
		v := facade.VersionInfo{ID: id, Attributes: xregistry.Document{}}
		for _, a := range artifacts {
			if v.Published.IsZero() || (!a.UploadTime.IsZero() && a.UploadTime.Before(v.Published)) {
				v.Published = a.UploadTime
			}
			if a.PackageType == "sdist" || v.Attributes["sourceurl"] == nil {
				if a.URL != "" {
					v.Attributes["sourceurl"] = a.URL
				}
				if a.Digests.SHA256 != "" {
					v.Attributes["sha256"] = a.Digests.SHA256
				}
			}
		}
		if !v.Published.IsZero() {
			v.Attributes["publishedat"] = xregistry.FormatTime(v.Published)
		}
		v.Attributes["filecount"] = len(artifacts)
		info.Versions = append(info.Versions, v)
	}
	return info, nil
}

// FetchMetadata returns the raw project document for filter enrichment.
func (e *Ecosystem) FetchMetadata(ctx context.Context, name string) (any, error) {
	return e.client.FetchJSON(ctx, e.baseURL+"/pypi/"+e.Normalize(name)+"/json", projectTTL)
}

// Search degrades to an existence probe: PyPI has no JSON search API, so
// the only cheap question is whether the queried name resolves.
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

// LoadCorpus seeds the name index from the simple index JSON rendering.
func (e *Ecosystem) LoadCorpus(ctx context.Context) ([]string, error) {
	doc, err := e.client.FetchJSONAccept(ctx, e.baseURL+"/simple/", corpusTTL, simpleAccept)
	if err != nil {
		return nil, err
	}
	var idx simpleIndex
	if err := upstream.Redecode(doc, &idx); err != nil {
		return nil, errors.Wrap(err, "malformed simple index")
	}
	names := make([]string, 0, len(idx.Projects))
	for _, p := range idx.Projects {
		names = append(names, p.Name)
	}
	return names, nil
}

// FieldPaths maps filter fields into the project document.
func (*Ecosystem) FieldPaths() map[string][]string {
	return map[string][]string{
		"description": {"info.summary", "info.description"},
		"author":      {"info.author"},
		"license":     {"info.license"},
		"homepage":    {"info.home_page", "info.project_urls.Homepage"},
		"keywords":    {"info.keywords"},
		"version":     {"info.version"},
		"repository":  {"info.project_urls.Source", "info.project_urls.Repository"},
	}
}

// Summary projects list-entry attributes out of a project document.
func (*Ecosystem) Summary(doc any) xregistry.Document {
	var p Project
	if err := upstream.Redecode(doc, &p); err != nil {
		return nil
	}
	out := xregistry.Document{}
	if p.Info.Summary != "" {
		out["description"] = p.Info.Summary
	}
	if p.Info.License != "" {
		out["license"] = p.Info.License
	}
	if p.Info.Version != "" {
		out["versionid"] = p.Info.Version
	}
	return out
}

// CompareVersions orders ids per PEP 440, falling back to a string compare
// for unparseable ids.
func (*Ecosystem) CompareVersions(a, b string) int {
	va, errA := pep440.Parse(a)
	vb, errB := pep440.Parse(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	switch {
	case va.LessThan(vb):
		return -1
	case va.GreaterThan(vb):
		return 1
	default:
		return 0
	}
}

func projectAttributes(info *Info) xregistry.Document {
	out := xregistry.Document{}
	if info.Summary != "" {
		out["description"] = info.Summary
	}
	if info.License != "" {
		out["license"] = info.License
	}
	if info.Author != "" {
		out["author"] = info.Author
	}
	if info.Homepage != "" {
		out["homepage"] = info.Homepage
	} else if h := info.ProjectURLs["Homepage"]; h != "" {
		out["homepage"] = h
	}
	if info.Keywords != "" {
		out["keywords"] = splitKeywords(info.Keywords)
	}
	return out
}

// splitKeywords handles both comma- and space-separated keyword strings.
func splitKeywords(raw string) []string {
	sep := " "
	if strings.Contains(raw, ",") {
		sep = ","
	}
	var out []string
	for _, k := range strings.Split(raw, sep) {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
