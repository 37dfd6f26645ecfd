package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "uvcal/internal/log"
	"uvcal/internal/model"
)

const defaultMaxOccurrencesPerEvent = 400

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// Location all occurrences are converted to. Nil means time.Local.
	Location *time.Location

	// RangeStart is inclusive, RangeEnd exclusive.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single rule. Zero means the default.
	MaxOccurrencesPerEvent int
}

// ExpandOccurrences expands events into concrete occurrences overlapping
// the configured range. It handles single events, RRULE recurrence, EXDATE
// and RECURRENCE-ID overrides.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, error) {
	if !cfg.RangeEnd.After(cfg.RangeStart) {
		return nil, errors.New("ics: RangeEnd must be after RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.Occurrence, 0)
	for uid, bases := range baseByUID {
		for _, ev := range bases {
			if ev.RawRRule == "" {
				if overlaps(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
					out = append(out, makeOccurrence(ev, ev.Start, ev.End, cfg.Location))
				}
				continue
			}
			occ, hitCap := expandRecurring(ev, overridesByUID[uid], cfg)
			if hitCap {
				appLog.Error("ics expand truncated", errors.New("max occurrences reached"),
					"uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
			}
			out = append(out, occ...)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func expandRecurring(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("ics expand: bad RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by the event duration so multi-day events that
	// started before the range still count.
	dur := ev.End.Sub(ev.Start)
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.Add(-time.Nanosecond).In(ev.Start.Location())

	starts := set.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, s := range starts {
		e := s.Add(dur)
		if ev.AllDay {
			// Keep calendar days across DST changes.
			days := int(dur.Hours()+12) / 24
			if days < 1 {
				days = 1
			}
			e = s.AddDate(0, 0, days)
		}
		base := ev
		if o, ok := findOverride(overrides, s); ok {
			base, s, e = o, o.Start, o.End
		}
		if overlaps(s, e, cfg.RangeStart, cfg.RangeEnd) {
			out = append(out, makeOccurrence(base, s, e, cfg.Location))
		}
	}
	return out, hitCap
}

func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func makeOccurrence(ev ParsedEvent, start, end time.Time, loc *time.Location) model.Occurrence {
	occ := model.Occurrence{
		SourceID: ev.FeedID,
		UID:      ev.UID,
		Summary:  ev.Summary,
		AllDay:   ev.AllDay,
		Start:    start.In(loc),
		End:      end.In(loc),
	}
	if ev.AllDay {
		// Date-only values already are local midnights; keep the wall date.
		occ.Start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc)
		occ.End = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, loc)
	}
	occ.InstanceKey = occ.Start.Format(time.RFC3339)
	return occ
}

// overlaps treats both ranges as half-open.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if !aEnd.After(aStart) {
		aEnd = aStart.Add(time.Nanosecond)
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// HolidaysForYear expands a parsed holiday feed into one public-holiday Day
// per calendar day of year covered by an all-day event. Timed events are
// ignored. If two events cover the same day their summaries are joined.
func HolidaysForYear(events []ParsedEvent, year int, loc *time.Location) ([]model.Day, error) {
	if loc == nil {
		loc = time.Local
	}
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	to := from.AddDate(1, 0, 0)

	occs, err := ExpandOccurrences(events, ExpandConfig{Location: loc, RangeStart: from, RangeEnd: to})
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]int)
	days := make([]model.Day, 0, len(occs))
	for _, occ := range occs {
		if !occ.AllDay {
			continue
		}
		for d := occ.Start; d.Before(occ.End); d = d.AddDate(0, 0, 1) {
			if d.Year() != year {
				continue
			}
			key := d.Format(model.DateLayout)
			if i, ok := byKey[key]; ok {
				if occ.Summary != "" && days[i].Description != occ.Summary {
					days[i].Description += ", " + occ.Summary
				}
				continue
			}
			byKey[key] = len(days)
			days = append(days, model.Day{
				Date:        d,
				Category:    model.CategoryPublic,
				Description: occ.Summary,
				DayLength:   1,
			})
		}
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date.Before(days[j].Date) })
	return days, nil
}
