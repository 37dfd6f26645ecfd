// Package capture screenshots the rendered calendar with headless Chromium.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	appLog "uvcal/internal/log"
)

const (
	DefaultWidth   = 1304
	DefaultHeight  = 984
	DefaultTimeout = 30 * time.Second
)

// Options defines a headless Chromium screenshot of the calendar page.
type Options struct {
	// URL to capture, e.g. "http://127.0.0.1:8080/calendar".
	URL string
	// OutputPath is where the PNG is written.
	OutputPath string

	Width   int
	Height  int
	Timeout time.Duration

	// Headers are sent with every request the page makes.
	Headers map[string]string
}

func (o *Options) normalize() {
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// CalendarPNG navigates headless Chromium to opts.URL, waits until the
// calendar root carries data-ready="true" and writes a PNG screenshot.
func CalendarPNG(parentCtx context.Context, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("capture: URL is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("capture: OutputPath is required")
	}
	opts.normalize()

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if len(opts.Headers) > 0 {
		headers := make(network.Headers, len(opts.Headers))
		for k, v := range opts.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.Enable(), network.SetExtraHTTPHeaders(headers))
	}
	tasks = append(tasks,
		chromedp.Navigate(opts.URL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		chromedp.FullScreenshot(&png, 100),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.OutputPath), 0o755); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	// Write then rename so /preview.png never serves a partial file.
	tmp := opts.OutputPath + ".tmp"
	if err := os.WriteFile(tmp, png, 0o644); err != nil {
		return fmt.Errorf("capture: failed to write PNG: %w", err)
	}
	if err := os.Rename(tmp, opts.OutputPath); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	return nil
}

// Func captures a screenshot; CalendarPNG in production.
type Func func(ctx context.Context, opts Options) error

// Previewer re-captures the calendar after renders. Captures run in the
// background one at a time; a render arriving while one runs schedules
// exactly one follow-up capture.
type Previewer struct {
	ctx     context.Context
	opts    Options
	capture Func

	mu      sync.Mutex
	running bool
	again   bool
	last    time.Time
	lastErr error
}

// NewPreviewer returns a Previewer bound to ctx. A nil fn uses CalendarPNG.
func NewPreviewer(ctx context.Context, opts Options, fn Func) *Previewer {
	if fn == nil {
		fn = CalendarPNG
	}
	opts.normalize()
	return &Previewer{ctx: ctx, opts: opts, capture: fn}
}

// Trigger requests a capture. It never blocks.
func (p *Previewer) Trigger() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.again = true
		return
	}
	p.running = true
	go p.loop()
}

func (p *Previewer) loop() {
	for {
		start := time.Now()
		err := p.capture(p.ctx, p.opts)
		if err != nil {
			appLog.Error("preview capture failed", err, "output", p.opts.OutputPath)
		} else {
			appLog.Info("preview captured", "output", p.opts.OutputPath, "took", time.Since(start).String())
		}

		p.mu.Lock()
		p.lastErr = err
		if err == nil {
			p.last = time.Now()
		}
		if !p.again || p.ctx.Err() != nil {
			p.running = false
			p.mu.Unlock()
			return
		}
		p.again = false
		p.mu.Unlock()
	}
}

// Status returns the time of the last successful capture and the last error.
func (p *Previewer) Status() (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last, p.lastErr
}

// OutputPath returns where previews are written.
func (p *Previewer) OutputPath() string { return p.opts.OutputPath }
