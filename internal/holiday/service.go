// Package holiday fetches the three kinds of day marking shown on the
// absence calendar (public holidays, personal leave, sick days) and keeps
// the latest successful result per category and year for lookups.
package holiday

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	appLog "uvcal/internal/log"
	"uvcal/internal/model"
)

// Absence types understood by the upstream absences endpoint.
const (
	absenceVacation = "VACATION"
	absenceSickNote = "SICK_NOTE"
)

// Service is the holiday service for one person.
type Service struct {
	webPrefix string
	apiPrefix string
	personID  int

	baseURL string
	loc     *time.Location
	fetcher *Fetcher
	public  PublicSource

	mu    sync.RWMutex
	days  map[model.Category]map[int][]model.Day
	index map[string]model.DayMarks
}

// Option customises a Service.
type Option func(*Service)

// WithBaseURL sets scheme and host the API prefix is resolved against.
func WithBaseURL(u string) Option {
	return func(s *Service) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithFetcher replaces the default uncached fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithLocation sets the zone dates are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithPublicSource fetches public holidays from src instead of the API.
func WithPublicSource(src PublicSource) Option {
	return func(s *Service) { s.public = src }
}

// New constructs a Service from the web path prefix, the API path prefix
// and the person identifier.
func New(webPrefix, apiPrefix string, personID int, opts ...Option) *Service {
	s := &Service{
		webPrefix: strings.TrimRight(webPrefix, "/"),
		apiPrefix: strings.TrimRight(apiPrefix, "/"),
		personID:  personID,
		loc:       time.Local,
		days:      make(map[model.Category]map[int][]model.Day),
		index:     make(map[string]model.DayMarks),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(nil, "")
	}
	return s
}

// PersonID returns the person the service fetches for.
func (s *Service) PersonID() int { return s.personID }

// FetchPublic fetches the public holidays of year.
func (s *Service) FetchPublic(ctx context.Context, year int) ([]model.Day, error) {
	var (
		days []model.Day
		err  error
	)
	if s.public != nil {
		days, err = s.public.PublicHolidays(ctx, year)
	} else {
		days, err = s.fetchAPIPublic(ctx, year)
	}
	if err != nil {
		return nil, err
	}
	s.store(model.CategoryPublic, year, days)
	return days, nil
}

// FetchPersonal fetches the person's leave days of year.
func (s *Service) FetchPersonal(ctx context.Context, year int) ([]model.Day, error) {
	days, err := s.fetchAbsences(ctx, year, absenceVacation, model.CategoryPersonal)
	if err != nil {
		return nil, err
	}
	s.store(model.CategoryPersonal, year, days)
	return days, nil
}

// FetchSickDays fetches the person's sick days of year.
func (s *Service) FetchSickDays(ctx context.Context, year int) ([]model.Day, error) {
	days, err := s.fetchAbsences(ctx, year, absenceSickNote, model.CategorySick)
	if err != nil {
		return nil, err
	}
	s.store(model.CategorySick, year, days)
	return days, nil
}

// Marks returns what is known about date across all cached categories.
func (s *Service) Marks(date time.Time) model.DayMarks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[date.In(s.loc).Format(model.DateLayout)]
}

// Days returns the cached days of one category and year.
func (s *Service) Days(cat model.Category, year int) ([]model.Day, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	days, ok := s.days[cat][year]
	return days, ok
}

// Years returns every year with at least one cached category, ascending.
func (s *Service) Years() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]bool)
	for _, byYear := range s.days {
		for y := range byYear {
			seen[y] = true
		}
	}
	out := make([]int, 0, len(seen))
	for y := range seen {
		out = append(out, y)
	}
	sort.Ints(out)
	return out
}

func (s *Service) store(cat model.Category, year int, days []model.Day) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.days[cat] == nil {
		s.days[cat] = make(map[int][]model.Day)
	}
	s.days[cat][year] = days
	s.reindex()
}

// reindex rebuilds the date lookup. Callers hold mu.
func (s *Service) reindex() {
	index := make(map[string]model.DayMarks)
	for cat, byYear := range s.days {
		for _, days := range byYear {
			for _, d := range days {
				key := d.Key()
				m := index[key]
				switch cat {
				case model.CategoryPublic:
					m.PublicHoliday = true
					m.Description = d.Description
					m.PublicLength = d.DayLength
				case model.CategoryPersonal:
					m.PersonalLength += d.DayLength
					m.PersonalStatus = d.Status
					m.PersonalHref = d.Href
				case model.CategorySick:
					m.SickLength += d.DayLength
					m.SickHref = d.Href
				}
				index[key] = m
			}
		}
	}
	s.index = index
}

type holidaysResponse struct {
	Response struct {
		PublicHolidays []publicHolidayDTO `json:"publicHolidays"`
	} `json:"response"`
}

type publicHolidayDTO struct {
	Date        string  `json:"date"`
	Description string  `json:"description"`
	DayLength   float64 `json:"dayLength"`
}

type absencesResponse struct {
	Response struct {
		Absences []absenceDTO `json:"absences"`
	} `json:"response"`
}

type absenceDTO struct {
	Date      string  `json:"date"`
	DayLength float64 `json:"dayLength"`
	Href      string  `json:"href"`
	Type      string  `json:"type"`
	Status    string  `json:"status"`
}

func (s *Service) fetchAPIPublic(ctx context.Context, year int) ([]model.Day, error) {
	body, err := s.get(ctx, "/holidays", url.Values{
		"year":   {strconv.Itoa(year)},
		"person": {strconv.Itoa(s.personID)},
	})
	if err != nil {
		return nil, fmt.Errorf("holiday: public %d: %w", year, err)
	}

	var resp holidaysResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("holiday: public %d: decode: %w", year, err)
	}

	days := make([]model.Day, 0, len(resp.Response.PublicHolidays))
	for _, h := range resp.Response.PublicHolidays {
		date, err := time.ParseInLocation(model.DateLayout, h.Date, s.loc)
		if err != nil {
			appLog.Error("holiday: skipping public holiday with bad date", err, "date", h.Date)
			continue
		}
		days = append(days, model.Day{
			Date:        date,
			Category:    model.CategoryPublic,
			Description: h.Description,
			DayLength:   dayLengthOrFull(h.DayLength),
		})
	}
	return days, nil
}

func (s *Service) fetchAbsences(ctx context.Context, year int, absenceType string, cat model.Category) ([]model.Day, error) {
	body, err := s.get(ctx, "/absences", url.Values{
		"year":   {strconv.Itoa(year)},
		"person": {strconv.Itoa(s.personID)},
		"type":   {absenceType},
	})
	if err != nil {
		return nil, fmt.Errorf("holiday: %s %d: %w", cat, year, err)
	}

	var resp absencesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("holiday: %s %d: decode: %w", cat, year, err)
	}

	days := make([]model.Day, 0, len(resp.Response.Absences))
	for _, a := range resp.Response.Absences {
		if a.Type != "" && a.Type != absenceType {
			continue
		}
		date, err := time.ParseInLocation(model.DateLayout, a.Date, s.loc)
		if err != nil {
			appLog.Error("holiday: skipping absence with bad date", err, "date", a.Date, "category", string(cat))
			continue
		}
		days = append(days, model.Day{
			Date:      date,
			Category:  cat,
			DayLength: dayLengthOrFull(a.DayLength),
			Status:    a.Status,
			Href:      s.href(cat, a.Href),
		})
	}
	return days, nil
}

func (s *Service) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	u := s.baseURL + s.apiPrefix + path + "?" + q.Encode()
	res, err := s.fetcher.Get(ctx, u)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// href turns an upstream absence reference into a link below the web
// prefix. Absolute references are kept.
func (s *Service) href(cat model.Category, ref string) string {
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "/") || strings.Contains(ref, "://") {
		return ref
	}
	page := "application"
	if cat == model.CategorySick {
		page = "sicknote"
	}
	return s.webPrefix + "/" + page + "/" + ref
}

func dayLengthOrFull(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

// StatusCode extracts the upstream HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
