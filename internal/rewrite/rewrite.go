// Package rewrite substitutes upstream origins with the bridge-visible base
// URL in JSON payloads and Link headers, leaving canonical identifiers
// untouched.
package rewrite

import (
	"reflect"
	"strings"
)

// skipKeys are fields whose values are canonical identifiers and must never
// be rewritten, even when they look like upstream URLs.
var skipKeys = map[string]bool{
	"xid": true,
}

// Rewriter replaces one upstream origin with one base URL.
type Rewriter struct {
	upstream string
	base     string
}

// New builds a rewriter mapping upstream-origin-prefixed strings onto base.
func New(upstream, base string) *Rewriter {
	return &Rewriter{
		upstream: strings.TrimSuffix(upstream, "/"),
		base:     strings.TrimSuffix(base, "/"),
	}
}

// Value walks a decoded JSON value and rewrites every string that begins
// with the upstream origin. The input is mutated in place where possible
// and also returned. Rewriting is idempotent: a second pass is a no-op.
func (rw *Rewriter) Value(v any) any {
	return rw.walk(v, map[uintptr]bool{})
}

// walk recurses through objects and arrays. JSON documents are trees, but a
// visited set guards against cycles introduced by hand-built values.
func (rw *Rewriter) walk(v any, seen map[uintptr]bool) any {
	switch val := v.(type) {
	case string:
		return rw.String(val)
	case map[string]any:
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return val
		}
		seen[ptr] = true
		for k, child := range val {
			if skipKeys[k] {
				continue
			}
			val[k] = rw.walk(child, seen)
		}
		return val
	case []any:
		if len(val) == 0 {
			return val
		}
		ptr := reflect.ValueOf(val).Pointer()
		if seen[ptr] {
			return val
		}
		seen[ptr] = true
		for i, child := range val {
			val[i] = rw.walk(child, seen)
		}
		return val
	default:
		return v
	}
}

// String rewrites a single string value.
func (rw *Rewriter) String(s string) string {
	if rw.upstream == "" || !strings.HasPrefix(s, rw.upstream) {
		return s
	}
	rest := s[len(rw.upstream):]
	// Require a path/query boundary so "https://example.com.evil" is not
	// treated as the origin "https://example.com".
	if rest != "" && rest[0] != '/' && rest[0] != '?' && rest[0] != '#' {
		return s
	}
	return rw.base + rest
}

// LinkHeader rewrites every occurrence of the upstream origin in a Link
// header value.
func (rw *Rewriter) LinkHeader(link string) string {
	if rw.upstream == "" {
		return link
	}
	return strings.ReplaceAll(link, rw.upstream, rw.base)
}
