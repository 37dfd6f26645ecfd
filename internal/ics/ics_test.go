package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const holidayFeed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//uvcal//test//EN
BEGIN:VEVENT
UID:neujahr@test
DTSTAMP:20200101T000000Z
DTSTART;VALUE=DATE:20200101
DTEND;VALUE=DATE:20200102
RRULE:FREQ=YEARLY
SUMMARY:Neujahr
END:VEVENT
BEGIN:VEVENT
UID:weihnachten@test
DTSTAMP:20200101T000000Z
DTSTART;VALUE=DATE:20201225
DTEND;VALUE=DATE:20201227
RRULE:FREQ=YEARLY
EXDATE;VALUE=DATE:20251225
SUMMARY:Weihnachten
END:VEVENT
BEGIN:VEVENT
UID:brueckentag@test
DTSTAMP:20200101T000000Z
DTSTART;VALUE=DATE:20240531
SUMMARY:Brueckentag
END:VEVENT
BEGIN:VEVENT
UID:meeting@test
DTSTAMP:20200101T000000Z
DTSTART:20240105T090000Z
DTEND:20240105T100000Z
SUMMARY:Planning
END:VEVENT
END:VCALENDAR
`

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

func TestParseICS(t *testing.T) {
	events, err := ParseICS("de", crlf(holidayFeed), time.UTC)
	require.NoError(t, err)
	require.Len(t, events, 4)

	byUID := map[string]ParsedEvent{}
	for _, ev := range events {
		byUID[ev.UID] = ev
	}

	xmas := byUID["weihnachten@test"]
	assert.True(t, xmas.AllDay)
	assert.Equal(t, "FREQ=YEARLY", xmas.RawRRule)
	assert.Equal(t, time.Date(2020, time.December, 25, 0, 0, 0, 0, time.UTC), xmas.Start)
	assert.Equal(t, time.Date(2020, time.December, 27, 0, 0, 0, 0, time.UTC), xmas.End)
	require.Len(t, xmas.ExDates, 1)

	bridge := byUID["brueckentag@test"]
	assert.Equal(t, bridge.Start.AddDate(0, 0, 1), bridge.End, "missing DTEND means one day")

	assert.False(t, byUID["meeting@test"].AllDay)
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS("de", nil, time.UTC)
	assert.Error(t, err)
}

func TestHolidaysForYear(t *testing.T) {
	events, err := ParseICS("de", crlf(holidayFeed), time.UTC)
	require.NoError(t, err)

	days, err := HolidaysForYear(events, 2024, time.UTC)
	require.NoError(t, err)

	keys := make([]string, 0, len(days))
	for _, d := range days {
		keys = append(keys, d.Key())
	}
	assert.Equal(t, []string{"2024-01-01", "2024-05-31", "2024-12-25", "2024-12-26"}, keys)
	assert.Equal(t, "Neujahr", days[0].Description)
	assert.EqualValues(t, 1, days[0].DayLength)
}

func TestHolidaysForYearHonoursExDate(t *testing.T) {
	events, err := ParseICS("de", crlf(holidayFeed), time.UTC)
	require.NoError(t, err)

	days, err := HolidaysForYear(events, 2025, time.UTC)
	require.NoError(t, err)

	require.Len(t, days, 1)
	assert.Equal(t, "2025-01-01", days[0].Key())
}

func TestExpandOccurrencesRejectsEmptyRange(t *testing.T) {
	now := time.Now()
	_, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now})
	assert.Error(t, err)
}
