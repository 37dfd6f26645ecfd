package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvcal/internal/calendar"
	"uvcal/internal/config"
	"uvcal/internal/loader"
	"uvcal/internal/window"
)

type fakeLoader struct {
	mu       sync.Mutex
	loads    []string
	reloads  int
	last     *loader.Report
	lastYear string
}

func (f *fakeLoader) Load(_ context.Context, year string) loader.Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, year)
	anchor := window.Anchor(year, time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC))
	r := loader.Report{RequestedYear: year, Window: window.Compute(anchor, 10)}
	f.last = &r
	f.lastYear = year
	return r
}

func (f *fakeLoader) Reload(ctx context.Context) loader.Report {
	f.mu.Lock()
	f.reloads++
	year := f.lastYear
	f.mu.Unlock()
	return f.Load(ctx, year)
}

func (f *fakeLoader) Last() (loader.Report, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return loader.Report{}, false
	}
	return *f.last, true
}

func (f *fakeLoader) LastRequestedYear() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastYear
}

func (f *fakeLoader) loadCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.loads...)
}

type fakeCalendar struct {
	mu       sync.Mutex
	rendered bool
	viewport calendar.Viewport
}

func (f *fakeCalendar) View() (calendar.View, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return calendar.View{Locale: "de", Columns: 5, Viewport: f.viewport}, f.rendered
}

func (f *fakeCalendar) HTML() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.rendered {
		return nil
	}
	return []byte(`<div class="calendar" data-ready="true"></div>`)
}

func (f *fakeCalendar) Resize(w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.viewport = calendar.Viewport{Width: w, Height: h}
}

func newTestServer(t *testing.T, cfg *config.Config, previewPath string) (*httptest.Server, *fakeLoader, *fakeCalendar) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	l := &fakeLoader{}
	cal := &fakeCalendar{rendered: true}
	srv := httptest.NewServer(NewServer(cfg, l, cal, previewPath).Handler())
	t.Cleanup(srv.Close)
	return srv, l, cal
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCalendarPageLoadsOnFirstRequest(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + "/calendar")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Equal(t, []string{""}, l.loadCalls())

	// Same year again is served from the previous load.
	resp2, err := http.Get(srv.URL + "/calendar")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, []string{""}, l.loadCalls())
}

func TestCalendarJSONReloadsOnYearChange(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + "/api/calendar?year=2024")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body calendarResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "2024", body.Report.RequestedYear)
	assert.Equal(t, 2023, body.Report.Window.StartYear)
	assert.Equal(t, 2024, body.Report.Window.EndYear)
	assert.Equal(t, 5, body.View.Columns)

	resp2, err := http.Get(srv.URL + "/api/calendar?year=2026")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, []string{"2024", "2026"}, l.loadCalls())
}

func TestCalendarRejectsInvalidYear(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	for _, path := range []string{"/api/calendar?year=abc", "/calendar?year=abc", "/calendar?year=10000", "/calendar?year=0"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
		assert.Equal(t, "invalid year", decodeError(t, resp), path)
		resp.Body.Close()
	}
	assert.Empty(t, l.loadCalls())
}

func TestCalendarNotRenderedYet(t *testing.T) {
	cfg := config.DefaultConfig()
	l := &fakeLoader{}
	srv := httptest.NewServer(NewServer(cfg, l, &fakeCalendar{}, "").Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/calendar")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReload(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	resp, err := http.Post(srv.URL+"/api/reload", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, l.reloads)

	resp2, err := http.Get(srv.URL + "/api/reload")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestViewport(t *testing.T) {
	srv, _, cal := newTestServer(t, nil, "")

	resp, err := http.Post(srv.URL+"/api/viewport", "application/json", strings.NewReader(`{"width":800,"height":600}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	view, _ := cal.View()
	assert.Equal(t, calendar.Viewport{Width: 800, Height: 600}, view.Viewport)

	for _, body := range []string{`{"width":0,"height":600}`, `nope`} {
		resp, err := http.Post(srv.URL+"/api/viewport", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
}

func TestPreview(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, "")
	resp, err := http.Get(srv.URL + "/preview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	path := filepath.Join(t.TempDir(), "preview.png")
	srv2, _, _ := newTestServer(t, nil, path)

	resp, err = http.Get(srv2.URL + "/preview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, os.WriteFile(path, []byte("\x89PNG\r\n\x1a\n"), 0o644))
	resp, err = http.Get(srv2.URL + "/preview.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
}

func TestIndexRedirects(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, "")
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/calendar", resp.Header.Get("Location"))
}

func TestNotFoundIsJSON(t *testing.T) {
	srv, _, _ := newTestServer(t, nil, "")
	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not found", decodeError(t, resp))
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv, _, _ := newTestServer(t, cfg, "")

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/calendar")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/calendar", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Listen = "127.0.0.1:0"
	s := NewServer(cfg, &fakeLoader{}, &fakeCalendar{}, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestBasicAuthWithHashedPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: hash}
	srv, _, _ := newTestServer(t, cfg, "")

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/calendar", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCalendarWithoutYearAfterYearRequestLoadsToday(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	for _, path := range []string{"/calendar?year=2024", "/calendar", "/calendar"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
	assert.Equal(t, []string{"2024", ""}, l.loadCalls())
}
