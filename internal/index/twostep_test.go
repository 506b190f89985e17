package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFieldPaths = map[string][]string{
	"description": {"description"},
	"license":     {"license"},
	"keywords":    {"keywords"},
}

func testEvaluator(idx *NameIndex, fetch MetadataFetcher) *Evaluator {
	return &Evaluator{
		Index:       idx,
		Fetch:       fetch,
		FieldPaths:  testFieldPaths,
		MaxFetches:  100,
		Concurrency: 4,
		Deadline:    5 * time.Second,
	}
}

func TestEvaluateNameOnly(t *testing.T) {
	idx := readyIndex(t, "react", "react-dom", "redux")
	e := testEvaluator(idx, func(context.Context, string) (any, error) {
		t.Fatal("name-only filters must not fetch metadata")
		return nil, nil
	})

	f, err := ParseFilter("name=re*")
	require.NoError(t, err)
	matches, hasMore, err := e.Evaluate(context.Background(), f, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Name: "react"}, {Name: "react-dom"}}, matches)
	assert.True(t, hasMore)

	matches, hasMore, err = e.Evaluate(context.Background(), f, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []Match{{Name: "redux"}}, matches)
	assert.False(t, hasMore)
}

func TestEvaluateNotReady(t *testing.T) {
	idx := NewNameIndex(nil, "")
	e := testEvaluator(idx, nil)

	f, err := ParseFilter("name=react")
	require.NoError(t, err)
	_, _, err = e.Evaluate(context.Background(), f, 10, 0)
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestEvaluateEnrichment(t *testing.T) {
	idx := readyIndex(t, "a-mit", "b-gpl", "c-mit")
	e := testEvaluator(idx, func(_ context.Context, name string) (any, error) {
		license := "MIT"
		if name == "b-gpl" {
			license = "GPL-3.0"
		}
		return map[string]any{"name": name, "license": license}, nil
	})

	f, err := ParseFilter("license=MIT")
	require.NoError(t, err)
	matches, hasMore, err := e.Evaluate(context.Background(), f, 10, 0)
	require.NoError(t, err)

	require.Len(t, matches, 2)
	assert.Equal(t, "a-mit", matches[0].Name)
	assert.Equal(t, "c-mit", matches[1].Name)
	assert.NotNil(t, matches[0].Doc, "survivors carry their metadata")
	assert.True(t, hasMore)
}

func TestEvaluateBoundedFanOut(t *testing.T) {
	var names []string
	for i := 0; i < 500; i++ {
		names = append(names, fmt.Sprintf("pkg-%03d", i))
	}
	idx := readyIndex(t, names...)

	var fetches atomic.Int32
	e := testEvaluator(idx, func(_ context.Context, name string) (any, error) {
		fetches.Add(1)
		return map[string]any{"license": "GPL"}, nil
	})
	e.MaxFetches = 50

	f, err := ParseFilter("license=MIT")
	require.NoError(t, err)
	matches, _, err := e.Evaluate(context.Background(), f, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.LessOrEqual(t, fetches.Load(), int32(50))
}

func TestEvaluateShortCircuits(t *testing.T) {
	var names []string
	for i := 0; i < 100; i++ {
		names = append(names, fmt.Sprintf("pkg-%03d", i))
	}
	idx := readyIndex(t, names...)

	var fetches atomic.Int32
	e := testEvaluator(idx, func(ctx context.Context, _ string) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fetches.Add(1)
		return map[string]any{"license": "MIT"}, nil
	})
	e.Concurrency = 1

	f, err := ParseFilter("license=MIT")
	require.NoError(t, err)
	matches, hasMore, err := e.Evaluate(context.Background(), f, 3, 0)
	require.NoError(t, err)

	require.Len(t, matches, 3)
	assert.Equal(t, "pkg-000", matches[0].Name)
	assert.True(t, hasMore)
	// With every candidate surviving, the walk stops at offset+limit.
	assert.Less(t, fetches.Load(), int32(100))
}

func TestEvaluateDropsFailedCandidates(t *testing.T) {
	idx := readyIndex(t, "bad", "good")
	e := testEvaluator(idx, func(_ context.Context, name string) (any, error) {
		if name == "bad" {
			return nil, fmt.Errorf("upstream exploded")
		}
		return map[string]any{"license": "MIT"}, nil
	})

	f, err := ParseFilter("license=MIT")
	require.NoError(t, err)
	matches, _, err := e.Evaluate(context.Background(), f, 10, 0)
	require.NoError(t, err, "a single failed fetch never fails the query")
	require.Len(t, matches, 1)
	assert.Equal(t, "good", matches[0].Name)
}

func TestEvaluateEmptyCandidates(t *testing.T) {
	idx := readyIndex(t, "react")
	e := testEvaluator(idx, nil)

	f, err := ParseFilter("name=zzz*&license=MIT")
	require.NoError(t, err)
	matches, hasMore, err := e.Evaluate(context.Background(), f, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.False(t, hasMore)
}

func TestMatchDocAbsentFields(t *testing.T) {
	doc := map[string]any{"name": "x"}

	pos, err := ParseFilter("description=something")
	require.NoError(t, err)
	assert.False(t, MatchDoc(doc, pos.MetadataPredicates(), testFieldPaths))

	neg, err := ParseFilter("description!=something")
	require.NoError(t, err)
	assert.True(t, MatchDoc(doc, neg.MetadataPredicates(), testFieldPaths))
}

func TestResultCacheAging(t *testing.T) {
	c, err := NewResultCache(10, 50*time.Millisecond)
	require.NoError(t, err)

	c.Put("f", 10, 0, []Match{{Name: "react"}}, true)
	got, hasMore, ok := c.Get("f", 10, 0)
	require.True(t, ok)
	assert.True(t, hasMore)
	assert.Equal(t, "react", got[0].Name)

	time.Sleep(60 * time.Millisecond)
	_, _, ok = c.Get("f", 10, 0)
	assert.False(t, ok, "entries age out")
}
