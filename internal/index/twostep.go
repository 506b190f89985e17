package index

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/xregistry/xrbridge/internal/logger"
)

// Match is one filter survivor. Doc carries the upstream metadata when
// step-two enrichment fired, nil for name-only queries.
type Match struct {
	Name string
	Doc  any
}

// MetadataFetcher loads upstream metadata for one package name.
type MetadataFetcher func(ctx context.Context, name string) (any, error)

// ErrIndexNotReady signals that the caller should fall back to upstream
// search.
var ErrIndexNotReady = errors.New("name index not ready")

// Evaluator runs the two-step strategy: name predicates against the index
// first, then bounded parallel metadata enrichment for the survivors.
type Evaluator struct {
	Index *NameIndex
	Fetch MetadataFetcher

	// FieldPaths maps filter fields to gjson paths into the ecosystem's
	// metadata document, e.g. "author" -> ["author.name", "author"].
	FieldPaths map[string][]string

	MaxFetches  int
	Concurrency int
	Deadline    time.Duration
}

type fetchResult struct {
	doc any
	err error
}

// Evaluate answers a filter query. Work is bounded: at most MaxFetches
// upstream calls, all under the whole-query deadline. hasMore reports
// whether callers should advertise a next page.
func (e *Evaluator) Evaluate(ctx context.Context, f *Filter, limit, offset int) ([]Match, bool, error) {
	if !e.Index.Ready() {
		return nil, false, ErrIndexNotReady
	}

	candidates := e.Index.Candidates(f.NamePredicates())
	metaPreds := f.MetadataPredicates()

	if len(metaPreds) == 0 {
		return pageOf(candidates, limit, offset)
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	if len(candidates) > e.MaxFetches {
		candidates = candidates[:e.MaxFetches]
	}
	need := offset + limit

	ctx, cancel := context.WithTimeout(ctx, e.Deadline)
	defer cancel()

	results := make([]chan fetchResult, len(candidates))
	for i := range results {
		results[i] = make(chan fetchResult, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Concurrency)
	// window holds one token per fetch not yet consumed, so dispatch runs at
	// most Concurrency candidates ahead of the in-order consumer below.
	window := make(chan struct{}, max(e.Concurrency, 1))
	go func() {
		for i, name := range candidates {
			select {
			case window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					results[i] <- fetchResult{err: err}
					return nil
				}
				doc, err := e.Fetch(gctx, name)
				results[i] <- fetchResult{doc: doc, err: err}
				return nil
			})
		}
	}()

	// Consume in candidate order so the result is deterministic, stopping
	// as soon as offset+limit survivors are known. Outstanding fetches are
	// cancelled on return.
	var survivors []Match
	for i := range candidates {
		var res fetchResult
		select {
		case res = <-results[i]:
		case <-ctx.Done():
			// Deadline hit: answer with the survivors found so far.
			matches, _, _ := pageOfMatches(survivors, limit, offset)
			return matches, len(matches) > 0, nil
		}
		<-window
		if res.err != nil {
			// A failed candidate is dropped, never fatal to the query.
			logger.FromContext(ctx).Warnf("dropping filter candidate %s: %v", candidates[i], res.err)
			continue
		}
		if matchesMetadata(res.doc, metaPreds, e.FieldPaths) {
			survivors = append(survivors, Match{Name: candidates[i], Doc: res.doc})
			if len(survivors) >= need {
				break
			}
		}
	}

	matches, _, _ := pageOfMatches(survivors, limit, offset)
	return matches, len(matches) > 0, nil
}

// pageOf slices a name-only candidate list into the requested page.
func pageOf(names []string, limit, offset int) ([]Match, bool, error) {
	if offset >= len(names) {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(names) {
		end = len(names)
	}
	matches := make([]Match, 0, end-offset)
	for _, n := range names[offset:end] {
		matches = append(matches, Match{Name: n})
	}
	return matches, end < len(names), nil
}

func pageOfMatches(survivors []Match, limit, offset int) ([]Match, bool, error) {
	if offset >= len(survivors) {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(survivors) {
		end = len(survivors)
	}
	return survivors[offset:end], false, nil
}

// MatchDoc evaluates metadata predicates against a document; the degraded
// search path uses it to filter upstream results in memory.
func MatchDoc(doc any, preds []Predicate, fieldPaths map[string][]string) bool {
	return matchesMetadata(doc, preds, fieldPaths)
}

// FirstValue extracts the first value for a field path set, used as a sort
// key.
func FirstValue(doc any, paths []string) string {
	body, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	values := extractValues(body, paths)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// matchesMetadata evaluates the remaining predicates against the metadata
// document. Fields are extracted by gjson path; an absent field fails
// positive predicates and passes negative ones.
func matchesMetadata(doc any, preds []Predicate, fieldPaths map[string][]string) bool {
	body, err := json.Marshal(doc)
	if err != nil {
		return false
	}
	for i := range preds {
		values := extractValues(body, fieldPaths[preds[i].Field])
		if len(values) == 0 {
			if preds[i].Op == OpNotEquals {
				continue
			}
			return false
		}
		if !preds[i].MatchAny(values) {
			return false
		}
	}
	return true
}

func extractValues(body []byte, paths []string) []string {
	var out []string
	for _, p := range paths {
		res := gjson.GetBytes(body, p)
		if !res.Exists() {
			continue
		}
		if res.IsArray() {
			for _, item := range res.Array() {
				if s := item.String(); s != "" {
					out = append(out, s)
				}
			}
			continue
		}
		if s := res.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
