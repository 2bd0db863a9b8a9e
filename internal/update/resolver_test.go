package update

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	"github.com/livinlefevreloca/omakase-sync/internal/testutil"
)

var testStart = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

// fakeSource returns a scripted candidate and counts fetches
type fakeSource struct {
	mu        sync.Mutex
	candidate *ReleaseCandidate
	err       error
	fetches   int
}

func (s *fakeSource) Fetch(context.Context) (*ReleaseCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	return s.candidate, s.err
}

func (s *fakeSource) Describe() string { return "fake" }

func (s *fakeSource) set(c *ReleaseCandidate, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candidate, s.err = c, err
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type fixture struct {
	resolver *Resolver
	source   *fakeSource
	plugins  *testutil.FakePlugins
	options  *testutil.MemoryOptions
	clock    *testutil.MockClock
	logger   *testutil.TestLogger
}

func newFixture(t *testing.T, source ReleaseSource, localVersion string) *fixture {
	t.Helper()

	clk := testutil.NewMockClock(testStart)
	logger := testutil.NewTestLogger()
	store := testutil.NewMemoryOptions(nil)
	fakePlugins := testutil.NewFakePlugins(
		plugins.Plugin{FilePath: DefaultPluginFile, Name: "Omakase Sync", Version: localVersion},
	)

	r, err := New(DefaultConfig(), source, fakePlugins, store, clk, logger.Logger())
	require.NoError(t, err)

	f := &fixture{resolver: r, plugins: fakePlugins, options: store, clock: clk, logger: logger}
	if fs, ok := source.(*fakeSource); ok {
		f.source = fs
	}
	return f
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	manifest := DefaultConfig()
	manifest.Source = SourceManifest
	assert.Error(t, manifest.Validate(), "manifest source needs a url")
	manifest.ManifestURL = "https://example.com/omakase-sync.json"
	assert.NoError(t, manifest.Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "unknown source", modify: func(c *Config) { c.Source = "ftp" }},
		{name: "no repo", modify: func(c *Config) { c.Repo = "" }},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }},
		{name: "zero ttl", modify: func(c *Config) { c.CacheTTL = 0 }},
		{name: "no cache key", modify: func(c *Config) { c.CacheKey = "" }},
		{name: "no plugin file", modify: func(c *Config) { c.PluginFile = "" }},
		{name: "no check hook", modify: func(c *Config) { c.CheckHook = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// =============================================================================
// Cache
// =============================================================================

func TestGetReleaseInfo_TTL(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/pkg.zip"}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	first := f.resolver.GetReleaseInfo(ctx, false)
	require.NotNil(t, first)
	assert.Equal(t, 1, source.count())

	source.set(&ReleaseCandidate{Version: "1.4.0", PackageURL: "https://x/pkg-2.zip"}, nil)

	f.clock.Set(testStart.Add(5*time.Hour + 59*time.Minute))
	cached := f.resolver.GetReleaseInfo(ctx, false)
	assert.Same(t, first, cached, "served unchanged inside the TTL")
	assert.Equal(t, 1, source.count())

	f.clock.Set(testStart.Add(6*time.Hour + time.Minute))
	refreshed := f.resolver.GetReleaseInfo(ctx, false)
	require.NotNil(t, refreshed)
	assert.Equal(t, "1.4.0", refreshed.Version)
	assert.Equal(t, 2, source.count())
}

func TestGetReleaseInfo_ForceBypassesReadButWrites(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/a.zip"}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	f.resolver.GetReleaseInfo(ctx, false)
	source.set(&ReleaseCandidate{Version: "1.5.0", PackageURL: "https://x/b.zip"}, nil)

	forced := f.resolver.GetReleaseInfo(ctx, true)
	assert.Equal(t, "1.5.0", forced.Version)
	assert.Equal(t, 2, source.count())

	// the forced result was cached
	cached := f.resolver.GetReleaseInfo(ctx, false)
	assert.Equal(t, "1.5.0", cached.Version)
	assert.Equal(t, 2, source.count())
}

func TestGetReleaseInfo_ServesStaleOnFailure(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/pkg.zip"}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	f.resolver.GetReleaseInfo(ctx, false)

	source.set(nil, fmt.Errorf("%w: connection reset", ErrTransport))
	f.clock.Advance(7 * time.Hour)

	c, err := f.resolver.FetchReleaseInfo(ctx, false)
	assert.ErrorIs(t, err, ErrTransport)
	require.NotNil(t, c)
	assert.Equal(t, "1.3.0", c.Version)
	assert.True(t, f.logger.HasWarning())

	// still stale, so the next lookup retries
	f.resolver.GetReleaseInfo(ctx, false)
	assert.Equal(t, 3, source.count())
}

func TestGetReleaseInfo_FailureWithEmptyCache(t *testing.T) {
	source := &fakeSource{err: fmt.Errorf("%w: 404", ErrBadStatus)}
	f := newFixture(t, source, "1.2.0")

	assert.Nil(t, f.resolver.GetReleaseInfo(context.Background(), false))
	assert.False(t, f.resolver.IsUpdateAvailable(context.Background(), "1.2.0"))
}

// =============================================================================
// Version decisions
// =============================================================================

func TestIsUpdateAvailable(t *testing.T) {
	tests := []struct {
		current string
		remote  string
		want    bool
	}{
		{current: "1.2.0", remote: "1.3.0", want: true},
		{current: "1.2.0", remote: "1.2.0", want: false},
		{current: "1.2.0", remote: "1.1.0", want: false},
		{current: "2.0", remote: "10.0", want: true},
		{current: "1.2.0", remote: "v1.2.1", want: true},
		{current: "1.3.0-beta", remote: "1.3.0", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.remote, func(t *testing.T) {
			source := &fakeSource{candidate: &ReleaseCandidate{Version: tt.remote}}
			f := newFixture(t, source, tt.current)
			assert.Equal(t, tt.want, f.resolver.IsUpdateAvailable(context.Background(), tt.current))
		})
	}
}

func TestIsUpdateAvailable_NumericProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("agrees with segment-wise numeric comparison", prop.ForAll(
		func(a, b []int) bool {
			current, remote := join(a), join(b)
			source := &fakeSource{candidate: &ReleaseCandidate{Version: remote}}
			r, err := New(DefaultConfig(), source, testutil.NewFakePlugins(), testutil.NewMemoryOptions(nil),
				testutil.NewMockClock(testStart), testutil.NewTestLogger().Logger())
			if err != nil {
				return false
			}
			return r.IsUpdateAvailable(context.Background(), current) == numericLess(a, b)
		},
		gen.SliceOfN(3, gen.IntRange(0, 30)),
		gen.SliceOfN(3, gen.IntRange(0, 30)),
	))

	properties.TestingRun(t)
}

func join(segments []int) string {
	s := ""
	for i, n := range segments {
		if i > 0 {
			s += "."
		}
		s += fmt.Sprint(n)
	}
	return s
}

func numericLess(a, b []int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestCheckForUpdate(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{
		Version:    "v1.4.0",
		Assets:     []Asset{{Name: "omakase-sync.zip", DownloadURL: "https://dl/omakase-sync.zip"}},
		ArchiveURL: "https://api.github.com/zip",
	}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	offer := f.resolver.CheckForUpdate(ctx, "1.2.0")
	require.NotNil(t, offer)
	assert.Equal(t, UpdateOffer{
		Slug:       DefaultPluginFile,
		NewVersion: "v1.4.0",
		URL:        DefaultHomepage,
		Package:    "https://dl/omakase-sync.zip",
	}, *offer)

	assert.Nil(t, f.resolver.CheckForUpdate(ctx, "1.4.0"))
}

func TestCheckForUpdate_NoPackageNoOffer(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "9.0.0"}}
	f := newFixture(t, source, "1.2.0")

	assert.True(t, f.resolver.IsUpdateAvailable(context.Background(), "1.2.0"))
	assert.Nil(t, f.resolver.CheckForUpdate(context.Background(), "1.2.0"))
}

// =============================================================================
// Offer persistence
// =============================================================================

func TestRefreshOffer_StoresAndClears(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/pkg.zip"}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	offer, err := f.resolver.RefreshOffer(ctx, false)
	require.NoError(t, err)
	require.NotNil(t, offer)

	pending, err := f.resolver.PendingOffer()
	require.NoError(t, err)
	assert.Equal(t, offer, pending)

	// the new build is installed; recomputing drops the offer
	f.plugins = testutil.NewFakePlugins(plugins.Plugin{FilePath: DefaultPluginFile, Version: "1.3.0"})
	f.resolver.installed = f.plugins
	require.NoError(t, f.resolver.ClearPendingUpdate(ctx))

	pending, err = f.resolver.PendingOffer()
	require.NoError(t, err)
	assert.Nil(t, pending)
	assert.Equal(t, 2, source.count(), "clearing forces a fresh lookup")
}

func TestRefreshOffer_NotInstalled(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/pkg.zip"}}
	f := newFixture(t, source, "1.2.0")
	f.resolver.installed = testutil.NewFakePlugins()

	_, err := f.resolver.RefreshOffer(context.Background(), false)
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestPendingOffer_Corrupt(t *testing.T) {
	f := newFixture(t, &fakeSource{}, "1.2.0")
	require.NoError(t, f.options.Set(options.KeyUpdateOffer, "{not json"))

	_, err := f.resolver.PendingOffer()
	assert.Error(t, err)
}

func TestAttach(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{Version: "1.3.0", PackageURL: "https://x/pkg.zip"}}
	f := newFixture(t, source, "1.2.0")

	reg := hooks.NewRegistry()
	f.resolver.Attach(reg)
	require.NoError(t, reg.Do(context.Background(), DefaultCheckHook))

	pending, err := f.resolver.PendingOffer()
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, "1.3.0", pending.NewVersion)
}

// =============================================================================
// Plugin information and diagnostics
// =============================================================================

func TestPluginInfo(t *testing.T) {
	published := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	source := &fakeSource{candidate: &ReleaseCandidate{
		Version:     "v1.4.0",
		PublishedAt: &published,
		ArchiveURL:  "https://api.github.com/zip",
	}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	assert.Nil(t, f.resolver.PluginInfo(ctx, "akismet/akismet.php"))
	assert.Nil(t, f.resolver.PluginInfo(ctx, ""))

	for _, slug := range []string{DefaultPluginFile, "omakase-sync"} {
		info := f.resolver.PluginInfo(ctx, slug)
		require.NotNil(t, info, slug)
		assert.Equal(t, "Omakase Sync", info.Name)
		assert.Equal(t, "v1.4.0", info.Version)
		assert.True(t, info.LastUpdated.Equal(published))
		assert.Equal(t, DefaultHomepage, info.Homepage)
		assert.NotEmpty(t, info.Sections["description"])
		assert.Equal(t, "https://api.github.com/zip", info.DownloadLink)
	}
}

func TestPluginInfo_NoReleaseFallsBackToLocal(t *testing.T) {
	source := &fakeSource{err: ErrTransport}
	f := newFixture(t, source, "1.2.0")

	info := f.resolver.PluginInfo(context.Background(), DefaultPluginFile)
	require.NotNil(t, info)
	assert.Equal(t, "1.2.0", info.Version)
	assert.True(t, info.LastUpdated.Equal(testStart))
	assert.Empty(t, info.DownloadLink)
}

func TestDebug(t *testing.T) {
	source := &fakeSource{candidate: &ReleaseCandidate{
		Version: "v1.4.0",
		Assets: []Asset{
			{Name: "omakase-sync.zip", DownloadURL: "https://dl/omakase-sync.zip"},
			{Name: "checksums.txt", DownloadURL: "https://dl/checksums.txt"},
		},
	}}
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	f.resolver.GetReleaseInfo(ctx, false)
	report := f.resolver.Debug(ctx)

	assert.Equal(t, 2, source.count(), "debug always refetches")
	assert.NoError(t, report.Err)
	assert.Equal(t, "fake", report.Source)
	assert.Equal(t, "1.2.0", report.LocalVersion)
	assert.Equal(t, "v1.4.0", report.LatestVersion)
	assert.Equal(t, "https://dl/omakase-sync.zip", report.PackageURL)
	assert.Equal(t, 2, report.AssetCount)
	assert.True(t, report.UpdateAvailable)
}

func TestDebug_NoRelease(t *testing.T) {
	f := newFixture(t, &fakeSource{}, "1.2.0")

	report := f.resolver.Debug(context.Background())
	assert.ErrorIs(t, report.Err, ErrNoRelease)
	assert.False(t, report.UpdateAvailable)
}

// =============================================================================
// Sources end to end
// =============================================================================

func TestManifestSource_EndToEnd(t *testing.T) {
	client := testutil.NewFakeHTTPClient()
	client.Respond(http.StatusOK, `{"version":"1.3.0","package":"https://x/pkg.zip"}`)

	source := NewManifestSource("https://example.com/omakase-sync.json", client, DefaultTimeout)
	f := newFixture(t, source, "1.2.0")
	ctx := context.Background()

	assert.True(t, f.resolver.IsUpdateAvailable(ctx, "1.2.0"))
	pkg, ok := f.resolver.ResolvePackageURL(f.resolver.GetReleaseInfo(ctx, false))
	assert.True(t, ok)
	assert.Equal(t, "https://x/pkg.zip", pkg)

	calls := client.Calls()
	require.Len(t, calls, 1, "second lookup is served from cache")
	assert.Equal(t, "https://example.com/omakase-sync.json", calls[0].URL)
	assert.Equal(t, 20*time.Second, calls[0].Timeout)
}

func TestReleasesSource_EndToEnd(t *testing.T) {
	client := testutil.NewFakeHTTPClient()
	client.Respond(http.StatusOK, `[{"tag_name":"1.1.0","assets":[]}]`)

	source := NewReleasesSource(DefaultAPIBase, DefaultRepo, DefaultUserAgent, client, DefaultTimeout)
	f := newFixture(t, source, "1.2.0")

	assert.False(t, f.resolver.IsUpdateAvailable(context.Background(), "1.2.0"))

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://api.github.com/repos/megane9988/omakase-sync/releases", calls[0].URL)
	assert.Equal(t, "WordPress", calls[0].Headers["User-Agent"])
}

func TestSources_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *testutil.FakeHTTPClient)
		wantErr error
	}{
		{
			name:    "transport",
			setup:   func(c *testutil.FakeHTTPClient) { c.Fail(errors.New("dial tcp: timeout")) },
			wantErr: ErrTransport,
		},
		{
			name:    "rate limited",
			setup:   func(c *testutil.FakeHTTPClient) { c.Respond(http.StatusForbidden, `{"message":"rate limit"}`) },
			wantErr: ErrBadStatus,
		},
		{
			name:    "created is not ok",
			setup:   func(c *testutil.FakeHTTPClient) { c.Respond(http.StatusCreated, `[]`) },
			wantErr: ErrBadStatus,
		},
		{
			name:    "malformed",
			setup:   func(c *testutil.FakeHTTPClient) { c.Respond(http.StatusOK, `<!doctype html>`) },
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testutil.NewFakeHTTPClient()
			tt.setup(client)

			for _, source := range []ReleaseSource{
				NewManifestSource("https://example.com/m.json", client, time.Second),
				NewReleasesSource(DefaultAPIBase, DefaultRepo, DefaultUserAgent, client, time.Second),
			} {
				_, err := source.Fetch(context.Background())
				assert.ErrorIs(t, err, tt.wantErr, source.Describe())
			}
		})
	}
}

func TestSources_BadStatusCarriesBody(t *testing.T) {
	client := testutil.NewFakeHTTPClient()
	client.Respond(http.StatusNotFound, `{"message":"Not Found"}`)

	_, err := NewReleasesSource(DefaultAPIBase, "missing/repo", "", client, time.Second).Fetch(context.Background())

	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	_, hasUA := client.Calls()[0].Headers["User-Agent"]
	assert.False(t, hasUA)
}

func TestNewSource(t *testing.T) {
	client := testutil.NewFakeHTTPClient()

	s, err := NewSource(DefaultConfig(), client)
	require.NoError(t, err)
	assert.IsType(t, &ReleasesSource{}, s)

	cfg := DefaultConfig()
	cfg.Source = SourceManifest
	cfg.ManifestURL = "https://example.com/m.json"
	s, err = NewSource(cfg, client)
	require.NoError(t, err)
	assert.IsType(t, &ManifestSource{}, s)

	cfg.Source = "svn"
	_, err = NewSource(cfg, client)
	assert.Error(t, err)
}
