package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/cache"
)

func contextWithMeta(t *testing.T) context.Context {
	t.Helper()
	return common.WithMeta(context.Background(), common.RequestMeta{
		CorrelationID: "corr-1",
		TraceID:       "trace-1",
	})
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	disk, err := cache.NewDiskTier(t.TempDir())
	require.NoError(t, err)
	mgr, err := cache.NewManager(100, disk)
	require.NoError(t, err)
	return NewClient(mgr, 2*time.Second, 4)
}

func TestFetchJSONParsesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"express","dist-tags":{"latest":"4.0.0"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	v, err := c.FetchJSON(context.Background(), srv.URL+"/express", time.Minute)
	require.NoError(t, err)
	doc := v.(map[string]any)
	assert.Equal(t, "express", doc["name"])
}

func TestFetchJSONErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{name: "404 is NotFound", status: http.StatusNotFound, check: IsNotFound},
		{name: "410 is NotFound", status: http.StatusGone, check: IsNotFound},
		{name: "500 is Unavailable", status: http.StatusInternalServerError, check: IsUnavailable},
		{name: "503 is Unavailable", status: http.StatusServiceUnavailable, check: IsUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := newTestClient(t)
			_, err := c.FetchJSON(context.Background(), srv.URL, time.Minute)
			require.Error(t, err)
			assert.True(t, tt.check(err), "got: %v", err)
		})
	}
}

func TestFetchJSONRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.FetchJSON(context.Background(), srv.URL, time.Minute)
	require.Error(t, err)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindRateLimited, ue.Kind)
	assert.True(t, ue.Transient())
}

func TestFetchJSONMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	_, err := c.FetchJSON(context.Background(), srv.URL, time.Minute)
	require.Error(t, err)
	var ue *Error
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, KindMalformed, ue.Kind)
	assert.False(t, ue.Transient())
}

func TestFetchJSONTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	disk, err := cache.NewDiskTier(t.TempDir())
	require.NoError(t, err)
	mgr, err := cache.NewManager(10, disk)
	require.NoError(t, err)
	c := NewClient(mgr, 50*time.Millisecond, 4)

	_, err = c.FetchJSON(context.Background(), srv.URL, time.Minute)
	require.Error(t, err)
	assert.True(t, IsTimeout(err), "got: %v", err)
}

func TestFetchJSONNetworkError(t *testing.T) {
	c := newTestClient(t)
	_, err := c.FetchJSON(context.Background(), "http://127.0.0.1:1/nothing-here", time.Minute)
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestConcurrentIdenticalMissesHitUpstreamOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t)
	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := c.FetchJSON(context.Background(), srv.URL+"/k", time.Minute)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestTraceHeadersPropagate(t *testing.T) {
	var gotCorrelation, gotTrace string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCorrelation = r.Header.Get("X-Correlation-Id")
		gotTrace = r.Header.Get("X-Trace-Id")
		_, _ = w.Write([]byte("{}"))
	}))
	defer srv.Close()

	c := newTestClient(t)
	ctx := contextWithMeta(t)
	_, err := c.FetchJSON(ctx, srv.URL, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", gotCorrelation)
	assert.Equal(t, "trace-1", gotTrace)
}
