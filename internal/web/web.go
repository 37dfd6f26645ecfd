// Package web serves the calendar page, its JSON view and load controls.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/julienschmidt/httprouter"

	"uvcal/internal/calendar"
	"uvcal/internal/config"
	"uvcal/internal/loader"
	appLog "uvcal/internal/log"
	"uvcal/internal/metrics"
	"uvcal/internal/window"
)

// RangeLoader is the part of the loader the server drives.
type RangeLoader interface {
	Load(ctx context.Context, requestedYear string) loader.Report
	Reload(ctx context.Context) loader.Report
	Last() (loader.Report, bool)
	LastRequestedYear() string
}

// Calendar is the part of the renderer the server reads.
type Calendar interface {
	View() (calendar.View, bool)
	HTML() []byte
	Resize(width, height int)
}

// CurrentPath serves the last rendered page without loading. Preview
// capture screenshots it so the shown year is never changed by a capture.
const CurrentPath = "/calendar/current"

// CaptureTokenHeader carries the token that lets preview capture read
// CurrentPath when basic auth is enabled.
const CaptureTokenHeader = "X-Uvcal-Capture-Token"

// Server exposes the rendered calendar and load control over HTTP.
type Server struct {
	cfg          *config.Config
	loader       RangeLoader
	cal          Calendar
	previewPath  string
	captureToken string
	router       *httprouter.Router
}

// NewServer constructs a Server. previewPath may be empty when preview
// capture is disabled.
func NewServer(cfg *config.Config, l RangeLoader, cal Calendar, previewPath string) *Server {
	s := &Server{
		cfg:         cfg,
		loader:      l,
		cal:         cal,
		previewPath: previewPath,
		router:      httprouter.New(),
	}
	s.registerRoutes()
	return s
}

// SetCaptureToken admits requests for CurrentPath that send token in
// CaptureTokenHeader without basic auth credentials. Empty disables it.
func (s *Server) SetCaptureToken(token string) {
	s.captureToken = token
}

// Handler returns the root handler with logging and optional basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.router)
	if s.basicAuthEnabled() {
		h = s.basicAuthMiddleware(h)
	}
	return requestLogging(h)
}

func (s *Server) registerRoutes() {
	s.router.HandlerFunc(http.MethodGet, "/health", s.handleHealth)
	s.router.Handler(http.MethodGet, "/metrics", metrics.Handler())
	s.router.HandlerFunc(http.MethodGet, "/", s.handleIndex)
	s.router.HandlerFunc(http.MethodGet, "/calendar", s.handleCalendarPage)
	s.router.HandlerFunc(http.MethodGet, CurrentPath, s.handleCurrentPage)
	s.router.HandlerFunc(http.MethodGet, "/api/calendar", s.handleCalendarJSON)
	s.router.HandlerFunc(http.MethodPost, "/api/reload", s.handleReload)
	s.router.HandlerFunc(http.MethodPost, "/api/viewport", s.handleViewport)
	s.router.HandlerFunc(http.MethodGet, "/preview.png", s.handlePreview)

	s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password means disabled.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
// The configured password may be plain text or an Argon2id hash.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.URL.Path == CurrentPath && s.captureToken != "" &&
			secureCompare(r.Header.Get(CaptureTokenHeader), s.captureToken) {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !passwordMatches(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="uvcal", charset="UTF-8"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/calendar", http.StatusFound)
}

// ensureLoaded runs a load when the requested year differs from the one
// currently shown, or when nothing was loaded yet.
func (s *Server) ensureLoaded(r *http.Request) (loader.Report, bool) {
	year := r.URL.Query().Get("year")
	if year != "" {
		if _, ok := window.ParseYear(year); !ok {
			return loader.Report{}, false
		}
	}

	last, loaded := s.loader.Last()
	if loaded && year == s.loader.LastRequestedYear() {
		return last, true
	}
	return s.loader.Load(r.Context(), year), true
}

func (s *Server) handleCalendarPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.ensureLoaded(r); !ok {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	s.writePage(w)
}

func (s *Server) handleCurrentPage(w http.ResponseWriter, _ *http.Request) {
	s.writePage(w)
}

func (s *Server) writePage(w http.ResponseWriter) {
	html := s.cal.HTML()
	if html == nil {
		writeError(w, http.StatusServiceUnavailable, "calendar not rendered yet")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(html)
}

// calendarResponse is the JSON shape of /api/calendar.
type calendarResponse struct {
	View   calendar.View `json:"view"`
	Report loader.Report `json:"report"`
}

func (s *Server) handleCalendarJSON(w http.ResponseWriter, r *http.Request) {
	report, ok := s.ensureLoaded(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	view, rendered := s.cal.View()
	if !rendered {
		writeError(w, http.StatusServiceUnavailable, "calendar not rendered yet")
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{View: view, Report: report})
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loader.Reload(r.Context()))
}

type viewportRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s *Server) handleViewport(w http.ResponseWriter, r *http.Request) {
	var req viewportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid viewport body")
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive")
		return
	}
	s.cal.Resize(req.Width, req.Height)
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previewPath == "" {
		writeError(w, http.StatusNotFound, "preview capture disabled")
		return
	}
	if _, err := os.Stat(s.previewPath); err != nil {
		writeError(w, http.StatusNotFound, "no preview captured yet")
		return
	}
	http.ServeFile(w, r, s.previewPath)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http_request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", float64(time.Since(start).Microseconds())/1000,
		)
	})
}
