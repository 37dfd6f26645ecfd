// Package loader runs the calendar range load: it centres a window of
// months on an anchor date, fetches every day-marking category for the
// window's boundary years concurrently and initialises the calendar once
// all fetches have settled.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	appLog "uvcal/internal/log"
	"uvcal/internal/metrics"
	"uvcal/internal/model"
	"uvcal/internal/window"
)

// HolidayService is the data source the loader fetches from and the
// calendar reads marks back out of.
type HolidayService interface {
	FetchPublic(ctx context.Context, year int) ([]model.Day, error)
	FetchPersonal(ctx context.Context, year int) ([]model.Day, error)
	FetchSickDays(ctx context.Context, year int) ([]model.Day, error)
	Marks(date time.Time) model.DayMarks
}

// Calendar renders the loaded range.
type Calendar interface {
	Init(svc HolidayService, anchor time.Time)
	ReRender()
}

// Settlement is the outcome of one fetch. Err is nil on success.
type Settlement struct {
	Category model.Category `json:"category"`
	Year     int            `json:"year"`
	Days     int            `json:"days"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration_ns"`
}

// OK reports whether the fetch succeeded.
func (s Settlement) OK() bool { return s.Err == nil }

// Report describes one finished load.
type Report struct {
	RequestedYear string        `json:"requested_year,omitempty"`
	Window        window.Window `json:"window"`
	Settlements   []Settlement  `json:"settlements"`
	Failed        int           `json:"failed"`
	LoadedAt      time.Time     `json:"loaded_at"`
}

// Loader is the calendar range loader. Loads are serialised.
type Loader struct {
	svc         HolidayService
	cal         Calendar
	shownMonths int
	now         func() time.Time

	mu       sync.Mutex
	lastYear string
	last     *Report
}

// Option customises a Loader.
type Option func(*Loader)

// WithShownMonths sets the window size in months.
func WithShownMonths(n int) Option {
	return func(l *Loader) { l.shownMonths = n }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loader) { l.now = now }
}

// New returns a Loader fetching from svc and rendering into cal.
func New(svc HolidayService, cal Calendar, opts ...Option) *Loader {
	l := &Loader{
		svc:         svc,
		cal:         cal,
		shownMonths: window.DefaultShownMonths,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load computes the window for requestedYear (may be empty), issues the six
// fetches and blocks until every one has settled. The calendar is then
// initialised exactly once, whatever the fetch outcomes.
func (l *Loader) Load(ctx context.Context, requestedYear string) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	anchor := window.Anchor(requestedYear, l.now())
	w := window.Compute(anchor, l.shownMonths)

	appLog.Info("calendar load start",
		"requested_year", requestedYear,
		"anchor", anchor.Format(model.DateLayout),
		"start_year", w.StartYear,
		"end_year", w.EndYear,
	)

	settlements := l.fetchAll(ctx, w)

	report := Report{
		RequestedYear: requestedYear,
		Window:        w,
		Settlements:   settlements,
		LoadedAt:      l.now(),
	}
	for _, s := range settlements {
		if !s.OK() {
			report.Failed++
		}
	}

	l.cal.Init(l.svc, anchor)

	l.lastYear = requestedYear
	l.last = &report
	metrics.Loads.Inc()

	appLog.Info("calendar load done", "failed", report.Failed, "fetches", len(settlements))
	return report
}

// Reload repeats the last load with the same requested year.
func (l *Loader) Reload(ctx context.Context) Report {
	return l.Load(ctx, l.LastRequestedYear())
}

// LastRequestedYear returns the year of the previous load ("" if none).
func (l *Loader) LastRequestedYear() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastYear
}

// Last returns the report of the previous load.
func (l *Loader) Last() (Report, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return Report{}, false
	}
	return *l.last, true
}

type fetchFunc func(ctx context.Context, year int) ([]model.Day, error)

// fetchAll runs one fetch per category for the start year and one per
// category for the end year, in that order, and waits for all of them.
// Equal years are still fetched twice.
func (l *Loader) fetchAll(ctx context.Context, w window.Window) []Settlement {
	fetchers := map[model.Category]fetchFunc{
		model.CategoryPublic:   l.svc.FetchPublic,
		model.CategoryPersonal: l.svc.FetchPersonal,
		model.CategorySick:     l.svc.FetchSickDays,
	}

	years := w.Years()
	out := make([]Settlement, len(years)*len(model.Categories))

	var wg sync.WaitGroup
	for i, year := range years {
		for j, cat := range model.Categories {
			slot := &out[i*len(model.Categories)+j]
			slot.Category = cat
			slot.Year = year

			wg.Add(1)
			go func(fetch fetchFunc) {
				defer wg.Done()
				settle(ctx, slot, fetch)
			}(fetchers[cat])
		}
	}
	wg.Wait()
	return out
}

// settle runs fetch and records its outcome in s. A panicking fetch settles
// as a failure.
func settle(ctx context.Context, s *Settlement, fetch fetchFunc) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.Err = fmt.Errorf("loader: %s %d: panic: %v", s.Category, s.Year, r)
		}
		s.Duration = time.Since(start)
		if s.Err != nil {
			s.Error = s.Err.Error()
			appLog.Error("calendar fetch failed", s.Err, "category", string(s.Category), "year", s.Year)
		}
		metrics.ObserveFetch(string(s.Category), s.Duration, s.Err)
	}()

	days, err := fetch(ctx, s.Year)
	s.Days = len(days)
	s.Err = err
}
