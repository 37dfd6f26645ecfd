// Package calendar lays out the loaded window of months and renders it as
// an HTML page. It is the Calendar the range loader initialises.
package calendar

import (
	"bytes"
	"embed"
	"html/template"
	"sync"
	"time"

	"uvcal/internal/debounce"
	"uvcal/internal/loader"
	appLog "uvcal/internal/log"
	"uvcal/internal/metrics"
	"uvcal/internal/window"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/calendar.html"))

// DefaultResizeDelay is how long resize events are collected before a
// single re-render.
const DefaultResizeDelay = 30 * time.Millisecond

// Options configures a Renderer.
type Options struct {
	ShownMonths int
	WeekStart   time.Weekday
	Locale      string

	// MonthWidth is the pixel width of one month column.
	MonthWidth int
	// Viewport is assumed until a client reports its own.
	Viewport Viewport

	ResizeDelay time.Duration
	Now         func() time.Time
}

// Renderer implements loader.Calendar.
type Renderer struct {
	opts Options

	mu       sync.RWMutex
	svc      loader.HolidayService
	anchor   time.Time
	viewport Viewport
	view     View
	html     []byte
	renders  int
	hooks    []func(View)

	resize *debounce.Debouncer
}

var _ loader.Calendar = (*Renderer)(nil)

// New returns a Renderer. Zero options get defaults.
func New(opts Options) *Renderer {
	if opts.ShownMonths <= 0 {
		opts.ShownMonths = window.DefaultShownMonths
	}
	if opts.MonthWidth <= 0 {
		opts.MonthWidth = 260
	}
	if opts.ResizeDelay <= 0 {
		opts.ResizeDelay = DefaultResizeDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Locale == "" {
		opts.Locale = "en"
	}

	r := &Renderer{opts: opts, viewport: opts.Viewport}
	r.resize = debounce.New(opts.ResizeDelay, r.ReRender)
	return r
}

// OnRender registers fn to run after every render, outside the lock.
func (r *Renderer) OnRender(fn func(View)) {
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

// Init stores the holiday service and anchor and renders.
func (r *Renderer) Init(svc loader.HolidayService, anchor time.Time) {
	r.mu.Lock()
	r.svc = svc
	r.anchor = anchor
	r.mu.Unlock()

	r.ReRender()
}

// ReRender lays out and renders the current state again. It does nothing
// before the first Init.
func (r *Renderer) ReRender() {
	r.mu.Lock()
	if r.svc == nil {
		r.mu.Unlock()
		return
	}

	w := window.Compute(r.anchor, r.opts.ShownMonths)
	v := buildView(w, r.opts.WeekStart, r.opts.Locale, r.opts.Now(), r.svc.Marks)
	v.Viewport = r.viewport
	v.Columns = columns(r.viewport.Width, r.opts.MonthWidth, r.opts.ShownMonths)
	v.RenderedAt = r.opts.Now()

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, v); err != nil {
		r.mu.Unlock()
		appLog.Error("calendar render failed", err)
		return
	}

	r.view = v
	r.html = buf.Bytes()
	r.renders++
	hooks := append([]func(View){}, r.hooks...)
	r.mu.Unlock()

	metrics.Renders.Inc()
	appLog.Debug("calendar rendered", "months", len(v.Months), "columns", v.Columns)

	for _, fn := range hooks {
		fn(v)
	}
}

// Resize records the new viewport and schedules a debounced re-render.
func (r *Renderer) Resize(width, height int) {
	r.mu.Lock()
	r.viewport = Viewport{Width: width, Height: height}
	r.mu.Unlock()

	r.resize.Trigger()
}

// View returns the last rendered view. ok is false before the first render.
func (r *Renderer) View() (View, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.view, r.renders > 0
}

// HTML returns the last rendered page, or nil before the first render.
func (r *Renderer) HTML() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.html
}

// Renders returns how many renders completed.
func (r *Renderer) Renders() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.renders
}

// Close cancels a pending resize re-render.
func (r *Renderer) Close() {
	r.resize.Stop()
}
