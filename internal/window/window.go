// Package window computes the range of months shown around an anchor date.
package window

import (
	"strconv"
	"strings"
	"time"
)

// DefaultShownMonths is the number of months shown when the caller does not
// configure one.
const DefaultShownMonths = 10

// Window is the span of months centred on Anchor.
type Window struct {
	Anchor time.Time `json:"anchor"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`

	StartYear int `json:"start_year"`
	EndYear   int `json:"end_year"`

	ShownMonths int `json:"shown_months"`
}

// Anchor returns the date the window is centred on.
//
// A requested year that parses and differs from now's year moves the anchor
// to January 1st of that year, keeping now's clock time and location.
// Everything else (empty, not a number, out of range, current year) keeps now.
func Anchor(requestedYear string, now time.Time) time.Time {
	year, ok := ParseYear(requestedYear)
	if !ok || year == now.Year() {
		return now
	}
	return time.Date(year, time.January, 1,
		now.Hour(), now.Minute(), now.Second(), now.Nanosecond(), now.Location())
}

// ParseYear parses a "year" query value. ok is false for empty or invalid input.
func ParseYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 1 || year > 9999 {
		return 0, false
	}
	return year, true
}

// Compute derives the window around anchor. shownMonths is split evenly
// before and after the anchor; values <= 0 fall back to DefaultShownMonths.
func Compute(anchor time.Time, shownMonths int) Window {
	if shownMonths <= 0 {
		shownMonths = DefaultShownMonths
	}
	half := shownMonths / 2

	start := AddMonths(anchor, -half)
	end := AddMonths(anchor, half)

	return Window{
		Anchor:      anchor,
		Start:       start,
		End:         end,
		StartYear:   start.Year(),
		EndYear:     end.Year(),
		ShownMonths: shownMonths,
	}
}

// Years returns the boundary years in fetch order: start year, then end year.
// Equal years are returned twice.
func (w Window) Years() [2]int {
	return [2]int{w.StartYear, w.EndYear}
}

// Months returns the first day of each shown month, beginning with the
// start month.
func (w Window) Months() []time.Time {
	first := time.Date(w.Start.Year(), w.Start.Month(), 1, 0, 0, 0, 0, w.Start.Location())
	out := make([]time.Time, 0, w.ShownMonths)
	for i := 0; i < w.ShownMonths; i++ {
		out = append(out, first.AddDate(0, i, 0))
	}
	return out
}

// AddMonths adds n months to t. Unlike time.Time.AddDate the day of month is
// clamped to the target month's length, so Jul 31 minus 5 months is the last
// day of February rather than early March.
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
