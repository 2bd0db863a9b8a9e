package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/omakase-sync/internal/hooks"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/options"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	"github.com/livinlefevreloca/omakase-sync/internal/testutil"
)

type fixture struct {
	reporter *Reporter
	options  *testutil.MemoryOptions
	plugins  *testutil.FakePlugins
	client   *testutil.FakeHTTPClient
	logger   *testutil.TestLogger
}

func newFixture(t *testing.T, creds map[string]string) *fixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.HostVersion = "6.4.2"

	store := testutil.NewMemoryOptions(creds)
	fakePlugins := testutil.NewFakePlugins(
		plugins.Plugin{FilePath: "omakase-sync/omakase-sync.php", Name: "Omakase Sync", Version: "1.2.0"},
		plugins.Plugin{FilePath: "hello.php", Name: "Hello Dolly", Version: "1.7.2"},
	)
	fakePlugins.SetActive("omakase-sync/omakase-sync.php", true)

	client := testutil.NewFakeHTTPClient()
	logger := testutil.NewTestLogger()

	r, err := New(cfg, store, fakePlugins, client, logger.Logger())
	require.NoError(t, err)

	return &fixture{reporter: r, options: store, plugins: fakePlugins, client: client, logger: logger}
}

var validCreds = map[string]string{
	options.KeySiteID: "42",
	options.KeyAPIKey: "secret-token",
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "empty endpoint", modify: func(c *Config) { c.Endpoint = "" }},
		{name: "endpoint without placeholder", modify: func(c *Config) { c.Endpoint = "https://example.com/sync" }},
		{name: "zero timeout", modify: func(c *Config) { c.Timeout = 0 }},
		{name: "empty hook", modify: func(c *Config) { c.Hook = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRunSyncTick_MissingCredentialsMakesNoRequest(t *testing.T) {
	tests := []struct {
		name  string
		creds map[string]string
	}{
		{name: "nothing set", creds: nil},
		{name: "no api key", creds: map[string]string{options.KeySiteID: "42"}},
		{name: "no site id", creds: map[string]string{options.KeyAPIKey: "secret"}},
		{name: "empty values", creds: map[string]string{options.KeySiteID: "", options.KeyAPIKey: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.creds)

			result := f.reporter.RunSyncTick(context.Background())
			assert.Equal(t, Skipped, result.Outcome)
			assert.ErrorIs(t, result.Err, ErrMissingCredentials)
			assert.Zero(t, f.client.CallCount())
			assert.False(t, f.logger.HasError())
		})
	}
}

func TestRunSyncTick_Delivers(t *testing.T) {
	f := newFixture(t, validCreds)
	f.client.Respond(http.StatusOK, `{"ok":true}`)

	result := f.reporter.RunSyncTick(context.Background())
	assert.Equal(t, Delivered, result.Outcome)
	assert.NoError(t, result.Err)

	calls := f.client.Calls()
	require.Len(t, calls, 1)
	call := calls[0]

	assert.Equal(t, "POST", call.Method)
	assert.Equal(t, "https://manage.megane9988.com/api/v1/sites/42/sync", call.URL)
	assert.Equal(t, "secret-token", call.Headers["X-TOKEN"])
	assert.Equal(t, "application/json; charset=UTF-8", call.Headers["Content-Type"])
	assert.Equal(t, 30*time.Second, call.Timeout)

	var payload SiteSnapshot
	require.NoError(t, json.Unmarshal(call.Body, &payload))
	assert.Equal(t, "6.4.2", payload.WordPressVersion)
	assert.Equal(t, []PluginEntry{
		{Name: "Omakase Sync", Slug: "omakase-sync", Version: "1.2.0", IsActive: true},
		{Name: "Hello Dolly", Slug: "", Version: "1.7.2", IsActive: false},
	}, payload.Plugins)
}

func TestRunSyncTick_WireFieldNames(t *testing.T) {
	f := newFixture(t, validCreds)

	f.reporter.RunSyncTick(context.Background())
	calls := f.client.Calls()
	require.Len(t, calls, 1)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(calls[0].Body, &raw))
	assert.Contains(t, raw, "wordpress_version")

	list, ok := raw["plugins"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, list)
	entry := list[0].(map[string]interface{})
	for _, key := range []string{"name", "slug", "version", "is_active"} {
		assert.Contains(t, entry, key)
	}
}

func TestRunSyncTick_BadStatusLogsStatusAndBody(t *testing.T) {
	f := newFixture(t, validCreds)
	f.client.Respond(http.StatusUnauthorized, "invalid token")

	result := f.reporter.RunSyncTick(context.Background())
	assert.Equal(t, Failed, result.Outcome)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.ErrorIs(t, result.Err, ErrBadStatus)

	var statusErr *httpclient.StatusError
	assert.ErrorAs(t, result.Err, &statusErr)

	entry, found := f.logger.FindEntry("sync rejected by server")
	require.True(t, found)
	assert.Equal(t, int64(http.StatusUnauthorized), entry.Fields["status"])
	assert.Equal(t, "invalid token", entry.Fields["body"])
	assert.Equal(t, 1, f.client.CallCount(), "no retry")
}

func TestRunSyncTick_TransportFailure(t *testing.T) {
	f := newFixture(t, validCreds)
	f.client.Fail(errors.New("connection refused"))

	result := f.reporter.RunSyncTick(context.Background())
	assert.Equal(t, Failed, result.Outcome)
	assert.ErrorIs(t, result.Err, ErrTransport)
	assert.True(t, f.logger.HasError())
	assert.Equal(t, 1, f.client.CallCount())
}

func TestRunSyncTick_PluginListFailure(t *testing.T) {
	f := newFixture(t, validCreds)
	f.plugins.SetListError(errors.New("registry unavailable"))

	result := f.reporter.RunSyncTick(context.Background())
	assert.Equal(t, Failed, result.Outcome)
	assert.Zero(t, f.client.CallCount())
}

func TestSyncURL_CoercesSiteID(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		siteID string
		want   string
	}{
		{siteID: "42", want: "https://manage.megane9988.com/api/v1/sites/42/sync"},
		{siteID: "abc", want: "https://manage.megane9988.com/api/v1/sites/0/sync"},
		{siteID: "12abc", want: "https://manage.megane9988.com/api/v1/sites/12/sync"},
		{siteID: "  7", want: "https://manage.megane9988.com/api/v1/sites/7/sync"},
		{siteID: "../admin", want: "https://manage.megane9988.com/api/v1/sites/0/sync"},
	}

	for _, tt := range tests {
		t.Run(tt.siteID, func(t *testing.T) {
			assert.Equal(t, tt.want, f.reporter.SyncURL(tt.siteID))
		})
	}
}

func TestCoerceInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{in: "", want: 0},
		{in: "0", want: 0},
		{in: "-5", want: -5},
		{in: "+9", want: 9},
		{in: "-", want: 0},
		{in: "3.9", want: 3},
		{in: "99999999999999999999", want: math.MaxInt64},
		{in: "-99999999999999999999", want: math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, coerceInt(tt.in))
		})
	}
}

func TestAttach(t *testing.T) {
	f := newFixture(t, validCreds)
	f.client.Respond(http.StatusInternalServerError, "boom")

	reg := hooks.NewRegistry()
	f.reporter.Attach(reg)
	f.reporter.Attach(reg)

	// A failing tick never surfaces as a hook error
	require.NoError(t, reg.Do(context.Background(), DefaultHook))
	assert.Equal(t, 1, f.client.CallCount())
}
