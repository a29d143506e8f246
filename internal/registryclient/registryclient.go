// Package registryclient fetches crate metadata and archives from
// crates.io over HTTP. Like registryindex, it is an external collaborator
// to the offline resolve/build path: a complete bootstrapper needs a way
// to populate its local cache, even though the core build never calls
// out to the network.
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/tsukumogami/cargo-bootstrap/internal/bootstraperr"
	"github.com/tsukumogami/cargo-bootstrap/internal/httputil"
)

const registryBaseURL = "https://crates.io/api/v1/crates"

// CrateMetadata is the subset of crates.io's crate metadata response
// this bootstrapper cares about.
type CrateMetadata struct {
	Name     string   `json:"name"`
	Versions []string `json:"-"`
}

type crateMetadataResponse struct {
	Crate struct {
		Name string `json:"name"`
	} `json:"crate"`
	Versions []struct {
		Num string `json:"num"`
	} `json:"versions"`
}

// Client fetches crate metadata and archives, rate-limited to be a
// polite citizen of the shared registry.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// New constructs a Client with SSRF-hardened transport defaults and a
// rate limit of 1 request/second with a burst of 3, matching crates.io's
// documented crawler etiquette.
func New() *Client {
	return &Client{
		httpClient: httputil.NewSecureClient(httputil.DefaultOptions()),
		limiter:    rate.NewLimiter(rate.Limit(1), 3),
		baseURL:    registryBaseURL,
	}
}

// FetchCrateMetadata retrieves the published version list for name.
func (c *Client) FetchCrateMetadata(ctx context.Context, name string) (*CrateMetadata, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.MissingSource, name, "failed to build metadata request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.MissingSource, name, "metadata request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, bootstraperr.New(bootstraperr.MissingSource, name, fmt.Sprintf("metadata request returned status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.MissingSource, name, "failed to read metadata response", err)
	}

	var parsed crateMetadataResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, bootstraperr.Wrap(bootstraperr.MissingSource, name, "failed to parse metadata response", err)
	}

	meta := &CrateMetadata{Name: parsed.Crate.Name}
	for _, v := range parsed.Versions {
		meta.Versions = append(meta.Versions, v.Num)
	}
	return meta, nil
}

// DownloadCrate retrieves the .crate archive for (name, version) and
// writes it to destPath, following redirects and failing on a non-2xx
// final response.
func (c *Client) DownloadCrate(ctx context.Context, name, version, destPath string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	namever := fmt.Sprintf("%s-%s", name, version)
	url := fmt.Sprintf("%s/%s/%s/download", c.baseURL, name, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return bootstraperr.Wrap(bootstraperr.ArchiveMissing, namever, "failed to build download request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return bootstraperr.Wrap(bootstraperr.ArchiveMissing, namever, "download request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return bootstraperr.New(bootstraperr.ArchiveMissing, namever, fmt.Sprintf("download request returned status %d", resp.StatusCode))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return bootstraperr.Wrap(bootstraperr.ArchiveMissing, namever, "failed to create destination file", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return bootstraperr.Wrap(bootstraperr.ArchiveMissing, namever, "failed to write downloaded archive", err)
	}
	return nil
}
