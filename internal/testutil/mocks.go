package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/omakase-sync/internal/db"
	"github.com/livinlefevreloca/omakase-sync/internal/httpclient"
	"github.com/livinlefevreloca/omakase-sync/internal/plugins"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a migrated in-memory SQLite database
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := database.Migrate(); err != nil {
		database.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		database.Close()
	})

	return database
}

// HTTPCall records one request made through FakeHTTPClient
type HTTPCall struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// FakeHTTPClient implements httpclient.Client with scripted responses
type FakeHTTPClient struct {
	mu       sync.Mutex
	calls    []HTTPCall
	response *httpclient.Response
	err      error
	handler  func(call HTTPCall) (*httpclient.Response, error)
}

func NewFakeHTTPClient() *FakeHTTPClient {
	return &FakeHTTPClient{
		response: &httpclient.Response{StatusCode: 200},
	}
}

// Respond makes every call return the given status and body
func (f *FakeHTTPClient) Respond(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.response = &httpclient.Response{StatusCode: status, Body: []byte(body)}
	f.err = nil
	f.handler = nil
}

// Fail makes every call return err
func (f *FakeHTTPClient) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.handler = nil
}

// Handle routes every call through fn
func (f *FakeHTTPClient) Handle(fn func(call HTTPCall) (*httpclient.Response, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *FakeHTTPClient) Get(_ context.Context, url string, headers map[string]string, timeout time.Duration) (*httpclient.Response, error) {
	return f.record(HTTPCall{Method: "GET", URL: url, Headers: headers, Timeout: timeout})
}

func (f *FakeHTTPClient) Post(_ context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (*httpclient.Response, error) {
	return f.record(HTTPCall{Method: "POST", URL: url, Headers: headers, Body: body, Timeout: timeout})
}

func (f *FakeHTTPClient) record(call HTTPCall) (*httpclient.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler, resp, err := f.handler, f.response, f.err
	f.mu.Unlock()

	if handler != nil {
		return handler(call)
	}
	if err != nil {
		return nil, err
	}
	copied := *resp
	return &copied, nil
}

// Calls returns a copy of all recorded calls
func (f *FakeHTTPClient) Calls() []HTTPCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]HTTPCall, len(f.calls))
	copy(result, f.calls)
	return result
}

// CallCount returns the number of recorded calls
func (f *FakeHTTPClient) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// MemoryOptions implements options.Store in memory
type MemoryOptions struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
}

func NewMemoryOptions(values map[string]string) *MemoryOptions {
	m := &MemoryOptions{values: make(map[string]string)}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *MemoryOptions) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *MemoryOptions) Get(key, def string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getErr != nil {
		return "", m.getErr
	}
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	return def, nil
}

func (m *MemoryOptions) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// FakePlugins implements plugins.Registry in memory
type FakePlugins struct {
	mu          sync.Mutex
	plugins     []plugins.Plugin
	active      map[string]bool
	activated   []string
	listErr     error
	activateErr error
}

func NewFakePlugins(installed ...plugins.Plugin) *FakePlugins {
	return &FakePlugins{
		plugins: installed,
		active:  make(map[string]bool),
	}
}

func (f *FakePlugins) SetActive(filePath string, active bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[filePath] = active
}

func (f *FakePlugins) SetListError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
}

func (f *FakePlugins) SetActivateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activateErr = err
}

func (f *FakePlugins) List() ([]plugins.Plugin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]plugins.Plugin, len(f.plugins))
	copy(result, f.plugins)
	return result, nil
}

func (f *FakePlugins) IsActive(filePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[filePath], nil
}

func (f *FakePlugins) Activate(filePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.activated = append(f.activated, filePath)
	if f.activateErr != nil {
		return f.activateErr
	}
	f.active[filePath] = true
	return nil
}

// SetVersion records a new version for an installed plugin
func (f *FakePlugins) SetVersion(filePath, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.plugins {
		if f.plugins[i].FilePath == filePath {
			f.plugins[i].Version = version
			return nil
		}
	}
	return fmt.Errorf("plugin %q not installed", filePath)
}

// Activated returns the file paths Activate was called with
func (f *FakePlugins) Activated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	result := make([]string, len(f.activated))
	copy(result, f.activated)
	return result
}

// MockClock provides controllable time for testing
type MockClock struct {
	mu      sync.Mutex
	current time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{
		current: start,
	}
}

func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *MockClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = m.current.Add(d)
}

func (m *MockClock) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// TestLogger provides a logger that captures logs for testing
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

type LogEntry struct {
	Level   string
	Message string
	Fields  map[string]interface{}
}

func NewTestLogger() *TestLogger {
	return &TestLogger{
		entries: make([]LogEntry, 0),
	}
}

func (l *TestLogger) log(level, msg string, fields ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := LogEntry{
		Level:   level,
		Message: msg,
		Fields:  make(map[string]interface{}),
	}

	for i := 0; i < len(fields); i += 2 {
		if i+1 < len(fields) {
			key := fmt.Sprintf("%v", fields[i])
			entry.Fields[key] = fields[i+1]
		}
	}

	l.entries = append(l.entries, entry)
}

func (l *TestLogger) GetEntries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, len(l.entries))
	copy(result, l.entries)
	return result
}

func (l *TestLogger) GetEntriesByLevel(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]LogEntry, 0)
	for _, entry := range l.entries {
		if entry.Level == level {
			result = append(result, entry)
		}
	}
	return result
}

// FindEntry returns the first entry with the given message
func (l *TestLogger) FindEntry(msg string) (LogEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Message == msg {
			return entry, true
		}
	}
	return LogEntry{}, false
}

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]LogEntry, 0)
}

func (l *TestLogger) hasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entry := range l.entries {
		if entry.Level == level {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasError() bool   { return l.hasLevel("ERROR") }
func (l *TestLogger) HasWarning() bool { return l.hasLevel("WARN") }
func (l *TestLogger) HasDebug() bool   { return l.hasLevel("DEBUG") }

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&testLogHandler{logger: l})
}

// testLogHandler implements slog.Handler for TestLogger
type testLogHandler struct {
	logger *TestLogger
	attrs  []slog.Attr
	groups []string
}

func (h *testLogHandler) Enabled(_ context.Context, _ slog.Level) bool {
	return true
}

func (h *testLogHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make([]interface{}, 0, r.NumAttrs()*2)
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, a.Key, a.Value.Any())
		return true
	})

	for _, attr := range h.attrs {
		fields = append(fields, attr.Key, attr.Value.Any())
	}

	h.logger.log(r.Level.String(), r.Message, fields...)
	return nil
}

func (h *testLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)
	return &testLogHandler{
		logger: h.logger,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *testLogHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups[len(h.groups)] = name
	return &testLogHandler{
		logger: h.logger,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

// WaitFor waits for a condition to be true with timeout
func WaitFor(t TestingT, condition func() bool, timeout time.Duration, msgAndArgs ...interface{}) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return true
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Errorf("timeout waiting for condition: %v", msgAndArgs)
			return false
		}
	}
}

// TestingT is a minimal interface for testing
type TestingT interface {
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}
