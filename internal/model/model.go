package model

import "time"

// DateLayout is the wire and map-key format for calendar days.
const DateLayout = "2006-01-02"

// Category identifies one of the three kinds of day marking.
type Category string

const (
	CategoryPublic   Category = "public"
	CategoryPersonal Category = "personal"
	CategorySick     Category = "sick"
)

// Categories lists every category in fetch order.
var Categories = []Category{CategoryPublic, CategoryPersonal, CategorySick}

// Day is a single marked calendar day as returned by the holiday service.
type Day struct {
	// Date is local midnight of the marked day.
	Date     time.Time
	Category Category

	Description string

	// DayLength is 1 for a full day and 0.5 for a morning or noon half day.
	DayLength float64

	// Status is the absence status reported upstream (e.g. ALLOWED, WAITING).
	// Empty for public holidays.
	Status string

	// Href links to the application or sick note page, if any.
	Href string
}

// Key returns the day's date in DateLayout.
func (d Day) Key() string {
	return d.Date.Format(DateLayout)
}

// DayMarks is everything known about one date across all categories.
type DayMarks struct {
	PublicHoliday bool    `json:"public_holiday"`
	Description   string  `json:"description,omitempty"`
	PublicLength  float64 `json:"public_length,omitempty"`

	PersonalLength float64 `json:"personal_length,omitempty"`
	PersonalStatus string  `json:"personal_status,omitempty"`
	PersonalHref   string  `json:"personal_href,omitempty"`

	SickLength float64 `json:"sick_length,omitempty"`
	SickHref   string  `json:"sick_href,omitempty"`
}

// Empty reports whether no category marks the day.
func (m DayMarks) Empty() bool {
	return !m.PublicHoliday && m.PersonalLength == 0 && m.SickLength == 0
}

// Occurrence is a single concrete instance of a feed event after recurrence
// expansion.
type Occurrence struct {
	SourceID string // feed identifier
	UID      string // iCalendar UID

	// InstanceKey identifies one occurrence of a recurring event.
	InstanceKey string

	Summary string
	AllDay  bool

	// Start / End in the display location. End is exclusive.
	Start time.Time
	End   time.Time
}
