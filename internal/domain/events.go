package domain

import (
	"sort"
	"time"
)

// EventInstance is one dated occurrence of a recurring event family
// (promo window, holiday, local festival). End is inclusive.
type EventInstance struct {
	Family string    `json:"event_family"`
	Start  time.Time `json:"start_date"`
	End    time.Time `json:"end_date"`
}

// EventCalendar is the daily expansion of event instances: which families are
// active on which dates. Built once at ingest, read-only afterwards.
type EventCalendar struct {
	byFamily map[string][]time.Time
	byDate   map[time.Time][]string
}

// NewEventCalendar expands instances to per-day membership. Instances with
// End before Start are ignored.
func NewEventCalendar(instances []EventInstance) *EventCalendar {
	cal := &EventCalendar{
		byFamily: make(map[string][]time.Time),
		byDate:   make(map[time.Time][]string),
	}
	for _, inst := range instances {
		start, end := Day(inst.Start), Day(inst.End)
		if end.Before(start) {
			continue
		}
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			cal.byFamily[inst.Family] = append(cal.byFamily[inst.Family], d)
			cal.byDate[d] = append(cal.byDate[d], inst.Family)
		}
	}
	for family := range cal.byFamily {
		days := cal.byFamily[family]
		sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	}
	return cal
}

// Families returns all known event families, sorted.
func (c *EventCalendar) Families() []string {
	families := make([]string, 0, len(c.byFamily))
	for f := range c.byFamily {
		families = append(families, f)
	}
	sort.Strings(families)
	return families
}

// Days returns the ascending event days of a family.
func (c *EventCalendar) Days(family string) []time.Time {
	return c.byFamily[family]
}

// ActiveOn returns the families active on a date.
func (c *EventCalendar) ActiveOn(ds time.Time) []string {
	return c.byDate[Day(ds)]
}
