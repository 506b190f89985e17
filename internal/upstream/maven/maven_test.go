package maven

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xregistry/xrbridge/internal/cache"
	"github.com/xregistry/xrbridge/internal/upstream"
)

func newAdapter(t *testing.T) *Ecosystem {
	t.Helper()
	disk, err := cache.NewDiskTier(t.TempDir())
	require.NoError(t, err)
	mgr, err := cache.NewManager(100, disk)
	require.NoError(t, err)
	return New(upstream.NewClient(mgr, 2*time.Second, 4), "https://repo1.maven.org/maven2")
}

func TestFetchPackageRejectsBareNames(t *testing.T) {
	eco := newAdapter(t)
	_, err := eco.FetchPackage(context.Background(), "guava")
	require.Error(t, err)
	assert.True(t, upstream.IsNotFound(err))
}

func TestFileURLLayout(t *testing.T) {
	eco := newAdapter(t)
	assert.Equal(t,
		"https://repo1.maven.org/maven2/com/google/guava/guava/33.0.0-jre/guava-33.0.0-jre.jar",
		eco.fileURL("com.google.guava", "guava", "33.0.0-jre", ".jar"))
}

func TestSummaryFromSearchDocs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"numFound":2,"docs":[
			{"id":"g:a:1.0","g":"com.g","a":"a","v":"1.0","timestamp":1000,"ec":[".jar",".pom"]},
			{"id":"g:a:2.0","g":"com.g","a":"a","v":"2.0","timestamp":2000,"ec":[".jar"]}
		]}}`))
	}))
	defer srv.Close()

	disk, err := cache.NewDiskTier(t.TempDir())
	require.NoError(t, err)
	mgr, err := cache.NewManager(100, disk)
	require.NoError(t, err)
	client := upstream.NewClient(mgr, 2*time.Second, 4)
	eco := New(client, srv.URL)

	// Point the metadata fetch at the fake server by fetching through it.
	doc, err := client.FetchJSON(context.Background(), srv.URL+"/solrsearch", time.Minute)
	require.NoError(t, err)
	sum := eco.Summary(doc)
	assert.Equal(t, "com.g", sum["groupid"])
	assert.Equal(t, "a", sum["artifactid"])
}

func TestCompareVersions(t *testing.T) {
	eco := &Ecosystem{}
	assert.Negative(t, eco.CompareVersions("1.0", "1.1"))
	assert.Negative(t, eco.CompareVersions("1.9", "1.10"), "numeric segments compare numerically")
	assert.Positive(t, eco.CompareVersions("2.0.0", "2.0.0-alpha"))
}

func TestNormalizeIsIdentity(t *testing.T) {
	eco := &Ecosystem{}
	assert.Equal(t, "com.google.guava:guava", eco.Normalize("com.google.guava:guava"))
}
