package registryclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		httpClient: srv.Client(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		baseURL:    srv.URL,
	}
}

func TestFetchCrateMetadataParsesVersionList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/serde", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"crate":{"name":"serde"},"versions":[{"num":"1.0.0"},{"num":"1.0.1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	meta, err := c.FetchCrateMetadata(context.Background(), "serde")
	require.NoError(t, err)
	require.Equal(t, "serde", meta.Name)
	require.Equal(t, []string{"1.0.0", "1.0.1"}, meta.Versions)
}

func TestFetchCrateMetadataFailsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	_, err := c.FetchCrateMetadata(context.Background(), "nonexistent")
	require.Error(t, err)
}

func TestDownloadCrateWritesArchiveToDestPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/serde/1.0.0/download", r.URL.Path)
		w.Write([]byte("fake-crate-bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "serde-1.0.0.crate")
	c := newTestClient(srv)
	err := c.DownloadCrate(context.Background(), "serde", "1.0.0", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("fake-crate-bytes"), data)
}

func TestDownloadCrateFollowsRedirect(t *testing.T) {
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("redirected-bytes"))
	}))
	defer target.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/serde/1.0.0/download", http.StatusFound)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "serde-1.0.0.crate")
	c := newTestClient(srv)
	err := c.DownloadCrate(context.Background(), "serde", "1.0.0", dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, []byte("redirected-bytes"), data)
}

func TestDownloadCrateFailsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "serde-1.0.0.crate")
	c := newTestClient(srv)
	err := c.DownloadCrate(context.Background(), "serde", "1.0.0", dest)
	require.Error(t, err)
}

func TestFetchCrateMetadataRespectsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"crate":{"name":"serde"},"versions":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchCrateMetadata(ctx, "serde")
	require.Error(t, err)
}
