package calendar

import (
	"strings"
	"time"

	"uvcal/internal/model"
	"uvcal/internal/window"
)

// View is the laid-out calendar handed to templates and the JSON API.
type View struct {
	Anchor   time.Time `json:"anchor"`
	Today    string    `json:"today"`
	Locale   string    `json:"locale"`
	Columns  int       `json:"columns"`
	Viewport Viewport  `json:"viewport"`

	Weekdays []string `json:"weekdays"`
	Months   []Month  `json:"months"`
	// Years lists the selectable years, newest first.
	Years []int `json:"years"`

	RenderedAt time.Time `json:"rendered_at"`
}

// Viewport is the client's reported drawing area in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Month is one month grid. Weeks always have seven cells; cells outside the
// month have InMonth false.
type Month struct {
	Year  int      `json:"year"`
	Month int      `json:"month"`
	Title string   `json:"title"`
	Weeks [][]Cell `json:"weeks"`
}

// Cell is one day of a month grid.
type Cell struct {
	Date    string         `json:"date,omitempty"`
	Day     int            `json:"day,omitempty"`
	InMonth bool           `json:"in_month"`
	Weekend bool           `json:"weekend,omitempty"`
	Today   bool           `json:"today,omitempty"`
	Marks   model.DayMarks `json:"marks"`
}

// Classes returns the CSS classes of the cell.
func (c Cell) Classes() string {
	if !c.InMonth {
		return "blank"
	}
	cls := []string{"day"}
	if c.Weekend {
		cls = append(cls, "weekend")
	}
	if c.Today {
		cls = append(cls, "today")
	}
	if c.Marks.PublicHoliday {
		cls = append(cls, "public")
		if c.Marks.PublicLength > 0 && c.Marks.PublicLength < 1 {
			cls = append(cls, "public-half")
		}
	}
	if c.Marks.PersonalLength > 0 {
		cls = append(cls, "personal")
		if c.Marks.PersonalLength < 1 {
			cls = append(cls, "personal-half")
		}
	}
	if c.Marks.SickLength > 0 {
		cls = append(cls, "sick")
		if c.Marks.SickLength < 1 {
			cls = append(cls, "sick-half")
		}
	}
	return strings.Join(cls, " ")
}

// Link returns the page the cell links to, if any. Sick notes win over
// leave applications.
func (c Cell) Link() string {
	if c.Marks.SickHref != "" {
		return c.Marks.SickHref
	}
	return c.Marks.PersonalHref
}

var monthNames = map[string][12]string{
	"de": {"Januar", "Februar", "März", "April", "Mai", "Juni", "Juli", "August", "September", "Oktober", "November", "Dezember"},
	"en": {"January", "February", "March", "April", "May", "June", "July", "August", "September", "October", "November", "December"},
}

// Sunday first, as time.Weekday.
var weekdayNames = map[string][7]string{
	"de": {"So", "Mo", "Di", "Mi", "Do", "Fr", "Sa"},
	"en": {"Su", "Mo", "Tu", "We", "Th", "Fr", "Sa"},
}

func language(locale string) string {
	lang := strings.ToLower(locale)
	if i := strings.IndexAny(lang, "-_"); i >= 0 {
		lang = lang[:i]
	}
	if _, ok := monthNames[lang]; ok {
		return lang
	}
	return "en"
}

// selectableYears is next year followed by the current and nine past years.
func selectableYears(current int) []int {
	years := make([]int, 0, 11)
	for y := current + 1; y >= current-9; y-- {
		years = append(years, y)
	}
	return years
}

// buildView lays out w's months. marks may be nil.
func buildView(w window.Window, weekStart time.Weekday, locale string, today time.Time, marks func(time.Time) model.DayMarks) View {
	lang := language(locale)
	todayKey := today.Format(model.DateLayout)

	v := View{
		Anchor: w.Anchor,
		Today:  todayKey,
		Locale: locale,
		Years:  selectableYears(today.Year()),
	}
	for i := 0; i < 7; i++ {
		v.Weekdays = append(v.Weekdays, weekdayNames[lang][(int(weekStart)+i)%7])
	}

	for _, first := range w.Months() {
		m := Month{
			Year:  first.Year(),
			Month: int(first.Month()),
			Title: monthNames[lang][first.Month()-1] + " " + first.Format("2006"),
		}

		lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
		week := make([]Cell, lead, 7)

		days := window.DaysIn(first.Year(), first.Month())
		for d := 1; d <= days; d++ {
			date := time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, first.Location())
			cell := Cell{
				Date:    date.Format(model.DateLayout),
				Day:     d,
				InMonth: true,
				Weekend: date.Weekday() == time.Saturday || date.Weekday() == time.Sunday,
			}
			cell.Today = cell.Date == todayKey
			if marks != nil {
				cell.Marks = marks(date)
			}
			week = append(week, cell)
			if len(week) == 7 {
				m.Weeks = append(m.Weeks, week)
				week = make([]Cell, 0, 7)
			}
		}
		if len(week) > 0 {
			for len(week) < 7 {
				week = append(week, Cell{})
			}
			m.Weeks = append(m.Weeks, week)
		}
		v.Months = append(v.Months, m)
	}
	return v
}

// columns decides how many months fit next to each other.
func columns(width, monthWidth, shown int) int {
	if width <= 0 || monthWidth <= 0 {
		return 1
	}
	n := width / monthWidth
	if n < 1 {
		n = 1
	}
	if shown > 0 && n > shown {
		n = shown
	}
	return n
}
