// Package update decides whether a newer build of the plugin is published
// and which archive to install. Release metadata comes from either a JSON
// manifest or the GitHub releases API and is cached for a fixed TTL.
package update

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransport means the release source could not be reached
	ErrTransport = errors.New("update: transport failure")
	// ErrBadStatus means the release source answered with a non-200 status
	ErrBadStatus = errors.New("update: unexpected status")
	// ErrMalformedResponse means the body could not be parsed into a release
	ErrMalformedResponse = errors.New("update: malformed response")
)

// IsMalformed reports whether err was caused by an unparseable response
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// Asset is a file attached to a release
type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

// ReleaseCandidate is the newest published release
type ReleaseCandidate struct {
	Version string
	// PackageURL is set by sources that name the archive directly
	PackageURL  string
	PublishedAt *time.Time
	Assets      []Asset
	// ArchiveURL is the source archive generated for the tag
	ArchiveURL string
	// Raw is the response element the candidate was parsed from
	Raw json.RawMessage
}

type manifest struct {
	Version *string `json:"version"`
	Package *string `json:"package"`
}

// parseManifest reads {"version": ..., "package": ...}. Both fields are
// required.
func parseManifest(body []byte) (*ReleaseCandidate, error) {
	var m manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if m.Version == nil || strings.TrimSpace(*m.Version) == "" {
		return nil, fmt.Errorf("%w: manifest has no version", ErrMalformedResponse)
	}
	if m.Package == nil || *m.Package == "" {
		return nil, fmt.Errorf("%w: manifest has no package", ErrMalformedResponse)
	}

	return &ReleaseCandidate{
		Version:    *m.Version,
		PackageURL: *m.Package,
		Raw:        append(json.RawMessage(nil), body...),
	}, nil
}

type release struct {
	TagName     string  `json:"tag_name"`
	Assets      []Asset `json:"assets"`
	ZipballURL  string  `json:"zipball_url"`
	PublishedAt string  `json:"published_at"`
}

// parseReleases reads a releases array ordered newest first and returns
// its first element. An empty array yields no candidate and no error.
func parseReleases(body []byte) (*ReleaseCandidate, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var r release
	if err := json.Unmarshal(raw[0], &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if r.TagName == "" {
		return nil, fmt.Errorf("%w: release has no tag_name", ErrMalformedResponse)
	}

	candidate := &ReleaseCandidate{
		Version:    r.TagName,
		Assets:     r.Assets,
		ArchiveURL: r.ZipballURL,
		Raw:        raw[0],
	}
	if r.PublishedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.PublishedAt); err == nil {
			candidate.PublishedAt = &t
		}
	}
	return candidate, nil
}

// ResolvePackageURL picks the archive to install: the asset named
// "<slug>.zip", then the first asset ending in ".zip", then the source
// archive. Candidates that carry a package URL use it directly. The result
// is absent only for a nil candidate or one with nothing to download.
func ResolvePackageURL(c *ReleaseCandidate, slug string) (string, bool) {
	if c == nil {
		return "", false
	}
	if c.PackageURL != "" {
		return c.PackageURL, true
	}

	exact := slug + ".zip"
	for _, a := range c.Assets {
		if a.DownloadURL != "" && a.Name == exact {
			return a.DownloadURL, true
		}
	}
	for _, a := range c.Assets {
		if a.DownloadURL != "" && strings.HasSuffix(a.Name, ".zip") {
			return a.DownloadURL, true
		}
	}

	if c.ArchiveURL != "" {
		return c.ArchiveURL, true
	}
	return "", false
}
