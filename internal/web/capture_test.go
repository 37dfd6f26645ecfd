package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvcal/internal/calendar"
	"uvcal/internal/capture"
	"uvcal/internal/config"
	"uvcal/internal/loader"
	"uvcal/internal/model"
)

type emptyHolidays struct{}

func (emptyHolidays) FetchPublic(context.Context, int) ([]model.Day, error)   { return nil, nil }
func (emptyHolidays) FetchPersonal(context.Context, int) ([]model.Day, error) { return nil, nil }
func (emptyHolidays) FetchSickDays(context.Context, int) ([]model.Day, error) { return nil, nil }
func (emptyHolidays) Marks(time.Time) model.DayMarks                          { return model.DayMarks{} }

// newLiveServer wires a real loader and renderer behind the server, with a
// previewer that fetches CurrentPath after every render the way headless
// Chromium does.
func newLiveServer(t *testing.T, cfg *config.Config) (*httptest.Server, *loader.Loader, *calendar.Renderer, *atomic.Int32) {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	now := func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) }

	renderer := calendar.New(calendar.Options{ShownMonths: 10, WeekStart: time.Monday, Now: now})
	t.Cleanup(renderer.Close)
	ld := loader.New(emptyHolidays{}, renderer, loader.WithShownMonths(10), loader.WithClock(now))

	s := NewServer(cfg, ld, renderer, "")
	s.SetCaptureToken("capture-token")
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	var captures atomic.Int32
	previewer := capture.NewPreviewer(context.Background(), capture.Options{
		URL:        srv.URL + CurrentPath,
		OutputPath: "unused.png",
		Headers:    map[string]string{CaptureTokenHeader: "capture-token"},
	}, func(ctx context.Context, opts capture.Options) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
		if err != nil {
			return err
		}
		for k, v := range opts.Headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			captures.Add(1)
		}
		return nil
	})
	renderer.OnRender(func(calendar.View) { previewer.Trigger() })

	return srv, ld, renderer, &captures
}

func TestYearRequestSurvivesPreviewCapture(t *testing.T) {
	srv, ld, renderer, captures := newLiveServer(t, nil)

	resp, err := http.Get(srv.URL + "/calendar?year=2020")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Eventually(t, func() bool { return captures.Load() >= 1 }, 2*time.Second, time.Millisecond)
	// Let any follow-up capture settle before checking the loaded year.
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, "2020", ld.LastRequestedYear())
	view, ok := renderer.View()
	require.True(t, ok)
	assert.Equal(t, 2020, view.Anchor.Year())

	report, ok := ld.Last()
	require.True(t, ok)
	assert.Equal(t, "2020", report.RequestedYear)
}

func TestCaptureTokenWithBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	srv, ld, _, captures := newLiveServer(t, cfg)

	// The capture hook runs with the token only, so a 200 proves the bypass.
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/calendar?year=2021", nil)
	require.NoError(t, err)
	req.SetBasicAuth("admin", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool { return captures.Load() >= 1 }, 2*time.Second, time.Millisecond)

	get := func(path, token string) int {
		req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
		require.NoError(t, err)
		if token != "" {
			req.Header.Set(CaptureTokenHeader, token)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get(CurrentPath, "capture-token"))
	assert.Equal(t, http.StatusUnauthorized, get(CurrentPath, "wrong-token"))
	assert.Equal(t, http.StatusUnauthorized, get(CurrentPath, ""))
	// The token opens the current page only.
	assert.Equal(t, http.StatusUnauthorized, get("/calendar", "capture-token"))
	assert.Equal(t, http.StatusUnauthorized, get("/api/calendar", "capture-token"))

	assert.Equal(t, "2021", ld.LastRequestedYear())
}

func TestCurrentPageNeverLoads(t *testing.T) {
	srv, l, _ := newTestServer(t, nil, "")

	resp, err := http.Get(srv.URL + CurrentPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, l.loadCalls())
}
