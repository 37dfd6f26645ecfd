package holiday

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rickar/cal/v2/de"

	"uvcal/internal/ics"
	"uvcal/internal/model"
)

// PublicSource supplies public holidays for a year when the upstream API
// is not the source of truth.
type PublicSource interface {
	PublicHolidays(ctx context.Context, year int) ([]model.Day, error)
}

// ICSSource reads public holidays from an iCalendar subscription.
type ICSSource struct {
	fetcher *Fetcher
	url     string
	loc     *time.Location
}

// NewICSSource returns a source backed by the feed at url.
func NewICSSource(fetcher *Fetcher, url string, loc *time.Location) *ICSSource {
	if loc == nil {
		loc = time.Local
	}
	return &ICSSource{fetcher: fetcher, url: url, loc: loc}
}

func (s *ICSSource) PublicHolidays(ctx context.Context, year int) ([]model.Day, error) {
	res, err := s.fetcher.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("holiday: ics feed: %w", err)
	}
	events, err := ics.ParseICS("public", res.Body, s.loc)
	if err != nil {
		return nil, fmt.Errorf("holiday: ics feed: %w", err)
	}
	return ics.HolidaysForYear(events, year, s.loc)
}

// BuiltinSource computes the nationwide German public holidays locally.
type BuiltinSource struct {
	loc *time.Location
	// HalfDayEves adds Christmas Eve and New Year's Eve as half holidays.
	HalfDayEves bool
}

// NewBuiltinSource returns the local German holiday source.
func NewBuiltinSource(loc *time.Location, halfDayEves bool) *BuiltinSource {
	if loc == nil {
		loc = time.Local
	}
	return &BuiltinSource{loc: loc, HalfDayEves: halfDayEves}
}

func (s *BuiltinSource) PublicHolidays(_ context.Context, year int) ([]model.Day, error) {
	days := make([]model.Day, 0, len(de.Holidays)+2)
	for _, h := range de.Holidays {
		actual, _ := h.Calc(year)
		if actual.IsZero() {
			continue
		}
		days = append(days, model.Day{
			Date:        time.Date(actual.Year(), actual.Month(), actual.Day(), 0, 0, 0, 0, s.loc),
			Category:    model.CategoryPublic,
			Description: h.Name,
			DayLength:   1,
		})
	}
	if s.HalfDayEves {
		for _, eve := range []struct {
			day  int
			name string
		}{{24, "Heiligabend"}, {31, "Silvester"}} {
			days = append(days, model.Day{
				Date:        time.Date(year, time.December, eve.day, 0, 0, 0, 0, s.loc),
				Category:    model.CategoryPublic,
				Description: eve.name,
				DayLength:   0.5,
			})
		}
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}
