package update

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
)

// ReleaseSource fetches the newest release. A nil candidate with a nil
// error means the source has published nothing.
type ReleaseSource interface {
	Fetch(ctx context.Context) (*ReleaseCandidate, error)
	// Describe names the source for diagnostics
	Describe() string
}

// ManifestSource reads a {"version", "package"} manifest
type ManifestSource struct {
	url     string
	client  httpclient.Client
	timeout time.Duration
}

// NewManifestSource creates a manifest source
func NewManifestSource(url string, client httpclient.Client, timeout time.Duration) *ManifestSource {
	return &ManifestSource{url: url, client: client, timeout: timeout}
}

// Fetch retrieves and parses the manifest
func (s *ManifestSource) Fetch(ctx context.Context) (*ReleaseCandidate, error) {
	body, err := get(ctx, s.client, s.url, nil, s.timeout)
	if err != nil {
		return nil, err
	}
	return parseManifest(body)
}

// Describe returns the manifest URL
func (s *ManifestSource) Describe() string {
	return s.url
}

// ReleasesSource reads the GitHub releases list of a repository
type ReleasesSource struct {
	apiBase   string
	repo      string
	userAgent string
	client    httpclient.Client
	timeout   time.Duration
}

// NewReleasesSource creates a releases source for repo ("owner/name")
func NewReleasesSource(apiBase, repo, userAgent string, client httpclient.Client, timeout time.Duration) *ReleasesSource {
	return &ReleasesSource{
		apiBase:   apiBase,
		repo:      repo,
		userAgent: userAgent,
		client:    client,
		timeout:   timeout,
	}
}

// URL returns the releases endpoint
func (s *ReleasesSource) URL() string {
	return fmt.Sprintf("%s/repos/%s/releases", s.apiBase, s.repo)
}

// Fetch retrieves the releases list and returns its newest entry
func (s *ReleasesSource) Fetch(ctx context.Context) (*ReleaseCandidate, error) {
	headers := map[string]string{
		"Accept": "application/vnd.github+json",
	}
	if s.userAgent != "" {
		headers["User-Agent"] = s.userAgent
	}

	body, err := get(ctx, s.client, s.URL(), headers, s.timeout)
	if err != nil {
		return nil, err
	}
	return parseReleases(body)
}

// Describe returns the repository
func (s *ReleasesSource) Describe() string {
	return s.repo
}

func get(ctx context.Context, client httpclient.Client, url string, headers map[string]string, timeout time.Duration) ([]byte, error) {
	resp, err := client.Get(ctx, url, headers, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %w", ErrBadStatus, resp.Err())
	}
	return resp.Body, nil
}
