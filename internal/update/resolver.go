package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/clock"
	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	"github.com/livinlefevreloca/omakase-sync/internal/version"
)

// Source kinds
const (
	SourceReleases = "releases"
	SourceManifest = "manifest"
)

// Defaults for the release lookup
const (
	DefaultAPIBase    = "https://api.github.com"
	DefaultRepo       = "megane9988/omakase-sync"
	DefaultUserAgent  = "WordPress"
	DefaultTimeout    = 20 * time.Second
	DefaultCacheTTL   = 6 * time.Hour
	DefaultCacheKey   = "omakase_sync_plugin_check"
	DefaultPluginFile = "omakase-sync/omakase-sync.php"
	DefaultHomepage   = "https://github.com/megane9988/omakase-sync"
	DefaultCheckHook  = "omakase_sync_update_check"

	// DefaultCheckSchedule matches the host's own plugin update checks
	DefaultCheckSchedule = "twicedaily"

	checkCallback = "omakase_sync_refresh_offer"
)

var (
	// ErrNotInstalled means the plugin being updated is not in the registry
	ErrNotInstalled = errors.New("update: plugin not installed")
	// ErrNoRelease means no release could be retrieved from the source
	ErrNoRelease = errors.New("update: no release info available")
)

// Config holds update settings
type Config struct {
	// Source is "releases" or "manifest"
	Source      string        `toml:"source"`
	ManifestURL string        `toml:"manifest_url"`
	APIBase     string        `toml:"api_base"`
	Repo        string        `toml:"repo"`
	UserAgent   string        `toml:"user_agent"`
	Timeout     time.Duration `toml:"timeout"`
	CacheTTL    time.Duration `toml:"cache_ttl"`
	CacheKey    string        `toml:"cache_key"`
	PluginFile  string        `toml:"plugin_file"`
	Homepage    string        `toml:"homepage"`
	Description string        `toml:"description"`
	// CheckHook is fired by the daemon to recompute the pending offer
	CheckHook string `toml:"check_hook"`
	// CheckSchedule names the recurrence CheckHook is scheduled on
	CheckSchedule string `toml:"check_schedule"`
}

// DefaultConfig returns settings for the public GitHub repository
func DefaultConfig() Config {
	return Config{
		Source:      SourceReleases,
		APIBase:     DefaultAPIBase,
		Repo:        DefaultRepo,
		UserAgent:   DefaultUserAgent,
		Timeout:     DefaultTimeout,
		CacheTTL:    DefaultCacheTTL,
		CacheKey:    DefaultCacheKey,
		PluginFile:  DefaultPluginFile,
		Homepage:    DefaultHomepage,
		Description: "Reports the site's WordPress version and plugins to the Omakase management server.",
		CheckHook:   DefaultCheckHook,

		CheckSchedule: DefaultCheckSchedule,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch c.Source {
	case SourceReleases:
		if c.Repo == "" {
			return fmt.Errorf("repo must be set for the releases source")
		}
		if c.APIBase == "" {
			return fmt.Errorf("api_base must be set for the releases source")
		}
	case SourceManifest:
		if c.ManifestURL == "" {
			return fmt.Errorf("manifest_url must be set for the manifest source")
		}
	default:
		return fmt.Errorf("source must be %q or %q, got %q", SourceReleases, SourceManifest, c.Source)
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache_ttl must be positive, got %v", c.CacheTTL)
	}
	if c.CacheKey == "" {
		return fmt.Errorf("cache_key must not be empty")
	}
	if c.PluginFile == "" {
		return fmt.Errorf("plugin_file must not be empty")
	}
	if c.CheckHook == "" {
		return fmt.Errorf("check_hook must not be empty")
	}
	if c.CheckSchedule == "" {
		return fmt.Errorf("check_schedule must not be empty")
	}
	return nil
}

// NewSource builds the release source the configuration selects
func NewSource(config Config, client httpclient.Client) (ReleaseSource, error) {
	switch config.Source {
	case SourceReleases:
		return NewReleasesSource(config.APIBase, config.Repo, config.UserAgent, client, config.Timeout), nil
	case SourceManifest:
		return NewManifestSource(config.ManifestURL, client, config.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown release source %q", config.Source)
	}
}

// PluginLister enumerates installed plugins
type PluginLister interface {
	List() ([]plugins.Plugin, error)
}

// UpdateOffer is what the host's updater needs to install a newer build
type UpdateOffer struct {
	Slug       string `json:"slug"`
	NewVersion string `json:"new_version"`
	URL        string `json:"url"`
	Package    string `json:"package"`
}

// PluginInfo describes the plugin for the host's details screen
type PluginInfo struct {
	Name         string
	Slug         string
	Version      string
	LastUpdated  time.Time
	Homepage     string
	Sections     map[string]string
	DownloadLink string
}

// DebugReport is a fresh diagnostic view of the update state
type DebugReport struct {
	Source          string
	LocalVersion    string
	LatestVersion   string
	PackageURL      string
	AssetCount      int
	UpdateAvailable bool
	// Err is set when no release could be retrieved
	Err error
}

// Resolver answers whether an update is available and where to get it
type Resolver struct {
	config    Config
	source    ReleaseSource
	installed PluginLister
	options   options.Store
	cache     *releaseCache
	clock     clock.Clock
	logger    *slog.Logger
}

// New creates a resolver
func New(config Config, source ReleaseSource, installed PluginLister, store options.Store, clk clock.Clock, logger *slog.Logger) (*Resolver, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid update config: %w", err)
	}

	return &Resolver{
		config:    config,
		source:    source,
		installed: installed,
		options:   store,
		cache:     newReleaseCache(config.CacheTTL, clk),
		clock:     clk,
		logger:    logger,
	}, nil
}

// Slug returns the plugin's folder name
func (r *Resolver) Slug() string {
	return plugins.Slug(r.config.PluginFile)
}

// FetchReleaseInfo returns the newest release, from the cache when it is
// fresh and force is false. A successful fetch is always cached. When the
// fetch fails the last cached value is returned alongside the error.
func (r *Resolver) FetchReleaseInfo(ctx context.Context, force bool) (*ReleaseCandidate, error) {
	if !force {
		if c, ok := r.cache.fresh(r.config.CacheKey); ok {
			return c, nil
		}
	}

	c, err := r.source.Fetch(ctx)
	if err != nil {
		prev, ok := r.cache.last(r.config.CacheKey)
		r.logger.Warn("failed to fetch release info",
			"source", r.source.Describe(),
			"serving_stale", ok && prev != nil,
			"error", err)
		return prev, err
	}

	r.cache.store(r.config.CacheKey, c)
	if c != nil {
		r.logger.Debug("fetched release info", "source", r.source.Describe(), "version", c.Version)
	}
	return c, nil
}

// GetReleaseInfo is FetchReleaseInfo without the error: failures are
// logged and the stale value, if any, is returned.
func (r *Resolver) GetReleaseInfo(ctx context.Context, force bool) *ReleaseCandidate {
	c, _ := r.FetchReleaseInfo(ctx, force)
	return c
}

// IsUpdateAvailable reports whether the newest release is strictly newer
// than current
func (r *Resolver) IsUpdateAvailable(ctx context.Context, current string) bool {
	c := r.GetReleaseInfo(ctx, false)
	return c != nil && version.Less(current, c.Version)
}

// ResolvePackageURL picks the archive to install for candidate
func (r *Resolver) ResolvePackageURL(candidate *ReleaseCandidate) (string, bool) {
	return ResolvePackageURL(candidate, r.Slug())
}

// CheckForUpdate returns an offer when a newer release with a resolvable
// package exists, nil otherwise
func (r *Resolver) CheckForUpdate(ctx context.Context, current string) *UpdateOffer {
	c := r.GetReleaseInfo(ctx, false)
	if c == nil || !version.Less(current, c.Version) {
		return nil
	}

	pkg, ok := r.ResolvePackageURL(c)
	if !ok {
		return nil
	}

	return &UpdateOffer{
		Slug:       r.config.PluginFile,
		NewVersion: c.Version,
		URL:        r.config.Homepage,
		Package:    pkg,
	}
}

func (r *Resolver) installedPlugin() (*plugins.Plugin, error) {
	list, err := r.installed.List()
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].FilePath == r.config.PluginFile {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotInstalled, r.config.PluginFile)
}

// LocalVersion returns the installed version of the plugin
func (r *Resolver) LocalVersion() (string, error) {
	p, err := r.installedPlugin()
	if err != nil {
		return "", err
	}
	return p.Version, nil
}

// RefreshOffer recomputes the pending offer against the installed version
// and stores it in the option store
func (r *Resolver) RefreshOffer(ctx context.Context, force bool) (*UpdateOffer, error) {
	current, err := r.LocalVersion()
	if err != nil {
		return nil, err
	}

	if force {
		r.cache.expire(r.config.CacheKey)
	}

	offer := r.CheckForUpdate(ctx, current)

	value := ""
	if offer != nil {
		data, err := json.Marshal(offer)
		if err != nil {
			return nil, fmt.Errorf("failed to encode update offer: %w", err)
		}
		value = string(data)
	}
	if err := r.options.Set(options.KeyUpdateOffer, value); err != nil {
		return nil, fmt.Errorf("failed to store update offer: %w", err)
	}

	if offer != nil {
		r.logger.Info("update available",
			"plugin", r.config.PluginFile,
			"current", current,
			"new_version", offer.NewVersion)
	}
	return offer, nil
}

// PendingOffer returns the stored offer, nil when there is none
func (r *Resolver) PendingOffer() (*UpdateOffer, error) {
	value, err := r.options.Get(options.KeyUpdateOffer, "")
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	var offer UpdateOffer
	if err := json.Unmarshal([]byte(value), &offer); err != nil {
		return nil, fmt.Errorf("failed to decode stored update offer: %w", err)
	}
	return &offer, nil
}

// ClearPendingUpdate drops the stored offer and recomputes it from a fresh
// lookup
func (r *Resolver) ClearPendingUpdate(ctx context.Context) error {
	if err := r.options.Set(options.KeyUpdateOffer, ""); err != nil {
		return fmt.Errorf("failed to clear update offer: %w", err)
	}
	_, err := r.RefreshOffer(ctx, true)
	return err
}

// PluginInfo describes the plugin when slug names it, by file path or
// folder, and returns nil otherwise
func (r *Resolver) PluginInfo(ctx context.Context, slug string) *PluginInfo {
	if slug == "" || (slug != r.config.PluginFile && slug != r.Slug()) {
		return nil
	}

	info := &PluginInfo{
		Name:        r.Slug(),
		Slug:        r.config.PluginFile,
		LastUpdated: r.clock.Now(),
		Homepage:    r.config.Homepage,
		Sections:    map[string]string{"description": r.config.Description},
	}

	if p, err := r.installedPlugin(); err == nil {
		info.Name = p.Name
		info.Version = p.Version
	} else {
		r.logger.Debug("plugin not found in registry", "plugin", r.config.PluginFile, "error", err)
	}

	c := r.GetReleaseInfo(ctx, false)
	if c == nil {
		return info
	}

	info.Version = c.Version
	if c.PublishedAt != nil {
		info.LastUpdated = *c.PublishedAt
	}
	if pkg, ok := r.ResolvePackageURL(c); ok {
		info.DownloadLink = pkg
	}
	return info
}

// Debug bypasses the cache and reports the full resolution
func (r *Resolver) Debug(ctx context.Context) DebugReport {
	report := DebugReport{Source: r.source.Describe()}

	local, err := r.LocalVersion()
	if err != nil {
		r.logger.Debug("failed to read local version", "error", err)
	}
	report.LocalVersion = local

	c, err := r.FetchReleaseInfo(ctx, true)
	if c == nil {
		if err == nil {
			err = ErrNoRelease
		}
		report.Err = err
		return report
	}

	// a stale candidate is still reported, along with why it is stale
	report.Err = err
	report.LatestVersion = c.Version
	report.PackageURL, _ = r.ResolvePackageURL(c)
	report.AssetCount = len(c.Assets)
	report.UpdateAvailable = local != "" && version.Less(local, c.Version)
	return report
}

// Attach recomputes the pending offer whenever the check hook fires
func (r *Resolver) Attach(reg *hooks.Registry) {
	reg.AddAction(r.config.CheckHook, checkCallback, func(ctx context.Context) error {
		_, err := r.RefreshOffer(ctx, false)
		return err
	})
}
