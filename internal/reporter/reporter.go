// Package reporter pushes the site's inventory to the management server
// each time the reporting job fires. Every failure is logged and swallowed:
// a tick that fails is simply retried by the next one.
package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
)

// Defaults for the sync endpoint
const (
	DefaultEndpoint = "https://manage.megane9988.com/api/v1/sites/{site_id}/sync"
	DefaultTimeout  = 30 * time.Second
	DefaultHook     = "omakase_hourly_sync_event"

	siteIDPlaceholder = "{site_id}"
	syncCallback      = "omakase_sync_data"
)

var (
	// ErrMissingCredentials means the site id or api key is not configured
	ErrMissingCredentials = errors.New("reporter: site credentials not configured")
	// ErrTransport means the request never produced a response
	ErrTransport = errors.New("reporter: transport failure")
	// ErrBadStatus means the server answered with a non-2xx status
	ErrBadStatus = errors.New("reporter: server rejected sync")
)

// Config holds reporter settings
type Config struct {
	// Endpoint is the sync URL; {site_id} is replaced by the numeric site id
	Endpoint string        `toml:"endpoint"`
	Timeout  time.Duration `toml:"timeout"`
	Hook     string        `toml:"hook"`
	// HostVersion is reported as wordpress_version
	HostVersion string `toml:"host_version"`
}

// DefaultConfig returns the production endpoint settings
func DefaultConfig() Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Timeout:  DefaultTimeout,
		Hook:     DefaultHook,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if !strings.Contains(c.Endpoint, siteIDPlaceholder) {
		return fmt.Errorf("endpoint must contain %s", siteIDPlaceholder)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.Hook == "" {
		return fmt.Errorf("hook must not be empty")
	}
	return nil
}

// SiteCredentials identify the site to the management server
type SiteCredentials struct {
	SiteID string
	APIKey string
}

// Complete reports whether both fields are set
func (c SiteCredentials) Complete() bool {
	return c.SiteID != "" && c.APIKey != ""
}

// PluginEntry is one plugin in the snapshot
type PluginEntry struct {
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Version  string `json:"version"`
	IsActive bool   `json:"is_active"`
}

// SiteSnapshot is the sync payload
type SiteSnapshot struct {
	WordPressVersion string        `json:"wordpress_version"`
	Plugins          []PluginEntry `json:"plugins"`
}

// Outcome classifies a tick
type Outcome int

const (
	Skipped Outcome = iota
	Delivered
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// TickResult describes what a tick did
type TickResult struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// Reporter builds and sends site snapshots
type Reporter struct {
	config  Config
	options options.Store
	plugins plugins.Registry
	client  httpclient.Client
	logger  *slog.Logger
}

// New creates a reporter
func New(config Config, store options.Store, registry plugins.Registry, client httpclient.Client, logger *slog.Logger) (*Reporter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid reporter config: %w", err)
	}

	return &Reporter{
		config:  config,
		options: store,
		plugins: registry,
		client:  client,
		logger:  logger,
	}, nil
}

// Credentials reads the site id and api key from the option store
func (r *Reporter) Credentials() (SiteCredentials, error) {
	siteID, err := r.options.Get(options.KeySiteID, "")
	if err != nil {
		return SiteCredentials{}, fmt.Errorf("failed to read %s: %w", options.KeySiteID, err)
	}
	apiKey, err := r.options.Get(options.KeyAPIKey, "")
	if err != nil {
		return SiteCredentials{}, fmt.Errorf("failed to read %s: %w", options.KeyAPIKey, err)
	}
	return SiteCredentials{SiteID: siteID, APIKey: apiKey}, nil
}

// Snapshot enumerates installed plugins in registry order
func (r *Reporter) Snapshot() (*SiteSnapshot, error) {
	installed, err := r.plugins.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}

	snapshot := &SiteSnapshot{
		WordPressVersion: r.config.HostVersion,
		Plugins:          make([]PluginEntry, 0, len(installed)),
	}

	for _, p := range installed {
		active, err := r.plugins.IsActive(p.FilePath)
		if err != nil {
			return nil, fmt.Errorf("failed to check plugin %q: %w", p.FilePath, err)
		}
		snapshot.Plugins = append(snapshot.Plugins, PluginEntry{
			Name:     p.Name,
			Slug:     plugins.Slug(p.FilePath),
			Version:  p.Version,
			IsActive: active,
		})
	}

	return snapshot, nil
}

// SyncURL returns the endpoint for siteID
func (r *Reporter) SyncURL(siteID string) string {
	id := strconv.FormatInt(coerceInt(siteID), 10)
	return strings.ReplaceAll(r.config.Endpoint, siteIDPlaceholder, id)
}

// RunSyncTick sends one snapshot. It never returns an error to the
// caller; the result carries the outcome.
func (r *Reporter) RunSyncTick(ctx context.Context) TickResult {
	creds, err := r.Credentials()
	if err != nil {
		r.logger.Error("failed to read site credentials", "error", err)
		return TickResult{Outcome: Failed, Err: err}
	}
	if !creds.Complete() {
		r.logger.Debug("site credentials not configured, skipping sync")
		return TickResult{Outcome: Skipped, Err: ErrMissingCredentials}
	}

	snapshot, err := r.Snapshot()
	if err != nil {
		r.logger.Error("failed to build site snapshot", "error", err)
		return TickResult{Outcome: Failed, Err: err}
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error("failed to encode site snapshot", "error", err)
		return TickResult{Outcome: Failed, Err: err}
	}

	url := r.SyncURL(creds.SiteID)
	headers := map[string]string{
		"Content-Type": "application/json; charset=UTF-8",
		"X-TOKEN":      creds.APIKey,
	}

	resp, err := r.client.Post(ctx, url, headers, body, r.config.Timeout)
	if err != nil {
		r.logger.Error("sync request failed", "url", url, "error", err)
		return TickResult{Outcome: Failed, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	if !resp.OK() {
		r.logger.Error("sync rejected by server",
			"url", url,
			"status", resp.StatusCode,
			"body", string(resp.Body))
		return TickResult{
			Outcome:    Failed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%w: %w", ErrBadStatus, resp.Err()),
		}
	}

	r.logger.Info("site inventory synced",
		"url", url,
		"status", resp.StatusCode,
		"plugins", len(snapshot.Plugins))
	return TickResult{Outcome: Delivered, StatusCode: resp.StatusCode}
}

// Attach runs a tick whenever the reporting job fires
func (r *Reporter) Attach(reg *hooks.Registry) {
	reg.AddAction(r.config.Hook, syncCallback, func(ctx context.Context) error {
		r.RunSyncTick(ctx)
		return nil
	})
}

// coerceInt reads the leading integer of s the way a loose integer cast
// does: surrounding whitespace is ignored, parsing stops at the first
// non-digit, and a string without a leading number is 0. Out of range
// values saturate.
func coerceInt(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")

	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}

	n, err := strconv.ParseInt(s[:end], 10, 64)
	if err != nil {
		if s[0] == '-' {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n
}
