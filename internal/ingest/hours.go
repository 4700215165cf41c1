package ingest

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/demandcast/demandcast/internal/domain"
)

// HoursDay is one day of the operating-hours calendar.
type HoursDay struct {
	DS          time.Time
	OpenMinutes int
	IsClosed    bool
}

// HoursCalendar answers open-minutes and closure questions for any date.
// Dates absent from the loaded file fall back to the store's default weekly
// schedule, so lookups never fail.
type HoursCalendar struct {
	byDate map[time.Time]HoursDay
}

// NewHoursCalendar builds a calendar from explicit per-day entries.
func NewHoursCalendar(days []HoursDay) *HoursCalendar {
	cal := &HoursCalendar{byDate: make(map[time.Time]HoursDay, len(days))}
	for _, day := range days {
		day.DS = domain.Day(day.DS)
		day.IsClosed = day.OpenMinutes == 0
		cal.byDate[day.DS] = day
	}
	return cal
}

// LoadHours reads an hours-calendar CSV with columns ds, open, close (HH:MM).
// Empty open/close times mark the day closed. A missing file is not an error:
// the calendar then answers entirely from defaults.
func LoadHours(path string) (*HoursCalendar, error) {
	if path == "" {
		return NewHoursCalendar(nil), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("path", path).Msg("Hours calendar missing, using default weekly schedule")
			return NewHoursCalendar(nil), nil
		}
		return nil, fmt.Errorf("failed to open hours csv %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read hours csv %s: %w", path, err)
	}
	if len(records) < 2 {
		return NewHoursCalendar(nil), nil
	}

	dateIdx, openIdx, closeIdx := -1, -1, -1
	for i, col := range records[0] {
		name := strings.ToLower(strings.TrimSpace(col))
		switch {
		case name == "ds" || strings.Contains(name, "date"):
			dateIdx = i
		case strings.Contains(name, "open"):
			openIdx = i
		case strings.Contains(name, "close"):
			closeIdx = i
		}
	}
	if dateIdx < 0 || openIdx < 0 || closeIdx < 0 {
		return nil, fmt.Errorf("could not identify ds/open/close columns in header %v", records[0])
	}

	days := make([]HoursDay, 0, len(records)-1)
	for _, rec := range records[1:] {
		if dateIdx >= len(rec) || openIdx >= len(rec) || closeIdx >= len(rec) {
			continue
		}
		ds, ok := parseSalesDate(rec[dateIdx])
		if !ok {
			continue
		}
		days = append(days, HoursDay{DS: ds, OpenMinutes: openMinutes(rec[openIdx], rec[closeIdx])})
	}

	log.Info().Int("days", len(days)).Str("path", path).Msg("Hours calendar loaded")
	return NewHoursCalendar(days), nil
}

// Day returns the hours entry for a date, from the file when present,
// otherwise from the default weekly schedule.
func (c *HoursCalendar) Day(ds time.Time) HoursDay {
	ds = domain.Day(ds)
	if day, ok := c.byDate[ds]; ok {
		return day
	}
	minutes := DefaultOpenMinutes(ds)
	return HoursDay{DS: ds, OpenMinutes: minutes, IsClosed: minutes == 0}
}

// OpenMinutes returns the open minutes for a date.
func (c *HoursCalendar) OpenMinutes(ds time.Time) int { return c.Day(ds).OpenMinutes }

// IsClosed reports whether the store is closed on a date.
func (c *HoursCalendar) IsClosed(ds time.Time) bool { return c.Day(ds).IsClosed }

// DefaultOpenMinutes is the store's standing weekly schedule: Mon-Thu
// 11:00-20:00, Fri-Sat 10:00-21:00, Sun 11:00-19:00, with extended Mon-Thu
// hours 10:00-21:00 during the December 8-30 holiday stretch.
func DefaultOpenMinutes(ds time.Time) int {
	ds = domain.Day(ds)
	wd := ds.Weekday()
	if ds.Month() == time.December && ds.Day() >= 8 && ds.Day() <= 30 &&
		wd >= time.Monday && wd <= time.Thursday {
		return 660
	}
	switch wd {
	case time.Monday, time.Tuesday, time.Wednesday, time.Thursday:
		return 540
	case time.Friday, time.Saturday:
		return 660
	default: // Sunday
		return 480
	}
}

// openMinutes converts HH:MM open/close strings to a minute count. Empty
// strings mean closed; a close before open wraps past midnight.
func openMinutes(openStr, closeStr string) int {
	open, okOpen := parseClock(openStr)
	close, okClose := parseClock(closeStr)
	if !okOpen || !okClose {
		return 0
	}
	minutes := close - open
	if minutes < 0 {
		minutes += 24 * 60
	}
	return minutes
}

func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
