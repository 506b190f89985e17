// Package index implements the in-process name index and the two-step
// filter engine that answers filter= queries with bounded upstream work.
package index

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Comparison operators supported by the filter grammar.
const (
	OpEquals    = "="
	OpNotEquals = "!="
)

// Fields the filter taxonomy defines. "name" predicates are cheap (answered
// from the index); everything else needs metadata enrichment.
var filterFields = map[string]bool{
	"name":        true,
	"description": true,
	"author":      true,
	"license":     true,
	"homepage":    true,
	"keywords":    true,
	"version":     true,
	"repository":  true,
}

// Predicate is one comparison of the filter expression.
type Predicate struct {
	Field string
	Op    string
	Value string

	// matcher is set when Value contains wildcards.
	matcher glob.Glob
}

// Wildcard reports whether the predicate value carries a * wildcard.
func (p *Predicate) Wildcard() bool { return p.matcher != nil }

// Match evaluates the predicate against one field value, wildcard-aware and
// case-insensitive.
func (p *Predicate) Match(value string) bool {
	var matched bool
	if p.matcher != nil {
		matched = p.matcher.Match(strings.ToLower(value))
	} else {
		matched = strings.EqualFold(value, p.Value)
	}
	if p.Op == OpNotEquals {
		return !matched
	}
	return matched
}

// MatchAny evaluates the predicate against a multi-valued field (keywords).
// For != the predicate must hold against every value.
func (p *Predicate) MatchAny(values []string) bool {
	if p.Op == OpNotEquals {
		for _, v := range values {
			if !p.Match(v) {
				return false
			}
		}
		return true
	}
	for _, v := range values {
		if p.Match(v) {
			return true
		}
	}
	return false
}

// Filter is a conjunction of predicates.
type Filter struct {
	Predicates []Predicate

	// raw is the normalized expression, used as a cache key component.
	raw string
}

// String returns the normalized filter expression.
func (f *Filter) String() string { return f.raw }

// NamePredicates returns the predicates evaluable against the name index.
func (f *Filter) NamePredicates() []Predicate {
	var out []Predicate
	for _, p := range f.Predicates {
		if p.Field == "name" {
			out = append(out, p)
		}
	}
	return out
}

// MetadataPredicates returns the predicates that need enrichment.
func (f *Filter) MetadataPredicates() []Predicate {
	var out []Predicate
	for _, p := range f.Predicates {
		if p.Field != "name" {
			out = append(out, p)
		}
	}
	return out
}

// ParseFilter parses an expression of &-joined comparisons, e.g.
// "name=react*&license=MIT". Unknown fields and malformed comparisons are
// rejected so they surface as 400s.
func ParseFilter(expr string) (*Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty filter expression")
	}

	f := &Filter{}
	var normalized []string
	for _, clause := range strings.Split(expr, "&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		op := OpEquals
		field, value, found := strings.Cut(clause, "!=")
		if found {
			op = OpNotEquals
		} else {
			field, value, found = strings.Cut(clause, "=")
			if !found {
				return nil, fmt.Errorf("malformed filter clause: %q", clause)
			}
		}

		field = strings.ToLower(strings.TrimSpace(field))
		value = strings.TrimSpace(value)
		if !filterFields[field] {
			return nil, fmt.Errorf("unknown filter field: %q", field)
		}
		if value == "" {
			return nil, fmt.Errorf("empty value in filter clause: %q", clause)
		}

		p := Predicate{Field: field, Op: op, Value: value}
		if strings.ContainsAny(value, "*?[") {
			m, err := glob.Compile(strings.ToLower(value))
			if err != nil {
				return nil, fmt.Errorf("invalid wildcard pattern %q: %w", value, err)
			}
			p.matcher = m
		}
		f.Predicates = append(f.Predicates, p)
		normalized = append(normalized, field+op+strings.ToLower(value))
	}

	if len(f.Predicates) == 0 {
		return nil, fmt.Errorf("empty filter expression")
	}
	f.raw = strings.Join(normalized, "&")
	return f, nil
}

// LiteralPrefix returns the literal prefix of a wildcard value, used to
// order candidate fetches prefix-match first.
func LiteralPrefix(value string) string {
	if i := strings.IndexAny(value, "*?["); i >= 0 {
		return value[:i]
	}
	return value
}
