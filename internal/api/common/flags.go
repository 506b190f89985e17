package common

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Pagination defaults.
const (
	DefaultLimit = 20
)

// Flags is the typed view of the request query flags every facade accepts.
type Flags struct {
	Inline     map[string]bool
	Filter     string
	Sort       *SortSpec
	Doc        bool
	Schema     string
	Epoch      *int
	NoReadonly bool
	Limit      int
	Offset     int
}

// SortSpec is a parsed sort=<field>=<asc|desc> flag.
type SortSpec struct {
	Field string
	Desc  bool
}

// InlineAll reports whether inline=* was requested.
func (f *Flags) InlineAll() bool { return f.Inline["*"] }

// HasInline reports whether name (or *) was requested.
func (f *Flags) HasInline(name string) bool {
	return f.Inline["*"] || f.Inline[name]
}

// baseInlineOptions are always accepted; facades extend the set with their
// group and resource collection names.
var baseInlineOptions = map[string]bool{
	"*":            true,
	"model":        true,
	"modelsource":  true,
	"capabilities": true,
	"endpoints":    true,
	"meta":         true,
	"versions":     true,
}

// ParseFlags parses the query flags. extraInline lists additional inline
// targets (collection names) the caller accepts. Unknown inline targets and
// malformed values are a 400; query parameters not parsed here are ignored.
func ParseFlags(r *http.Request, extraInline ...string) (*Flags, error) {
	q := r.URL.Query()
	f := &Flags{
		Inline: map[string]bool{},
		Limit:  DefaultLimit,
	}

	allowed := make(map[string]bool, len(baseInlineOptions)+len(extraInline))
	for k := range baseInlineOptions {
		allowed[k] = true
	}
	for _, k := range extraInline {
		allowed[k] = true
	}

	if raw, ok := q["inline"]; ok {
		for _, part := range raw {
			if part == "" {
				// bare ?inline means inline everything
				f.Inline["*"] = true
				continue
			}
			for _, name := range strings.Split(part, ",") {
				name = strings.TrimSpace(name)
				if name == "" {
					continue
				}
				// Nested inline paths keep only their first segment for
				// validation; facades handle the remainder.
				head := name
				if i := strings.IndexByte(name, '.'); i >= 0 {
					head = name[:i]
				}
				if !allowed[head] {
					return nil, fmt.Errorf("unknown inline target: %q", name)
				}
				f.Inline[name] = true
			}
		}
	}

	f.Filter = q.Get("filter")

	if raw := q.Get("sort"); raw != "" {
		spec, err := parseSort(raw)
		if err != nil {
			return nil, err
		}
		f.Sort = spec
	}

	if _, ok := q["doc"]; ok {
		f.Doc = true
	}
	f.Schema = q.Get("schema")
	if _, ok := q["noreadonly"]; ok {
		f.NoReadonly = true
	}

	if raw := q.Get("epoch"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid epoch: %q", raw)
		}
		f.Epoch = &n
	}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid limit: %q", raw)
		}
		if n <= 0 {
			return nil, fmt.Errorf("limit must be at least 1")
		}
		f.Limit = n
	}
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid offset: %q", raw)
		}
		f.Offset = n
	}

	return f, nil
}

func parseSort(raw string) (*SortSpec, error) {
	field, dir, found := strings.Cut(raw, "=")
	if field == "" {
		return nil, fmt.Errorf("invalid sort: %q", raw)
	}
	spec := &SortSpec{Field: field}
	if found {
		switch dir {
		case "asc", "":
		case "desc":
			spec.Desc = true
		default:
			return nil, fmt.Errorf("invalid sort direction: %q", dir)
		}
	}
	return spec, nil
}
