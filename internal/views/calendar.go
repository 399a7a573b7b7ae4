// Package views derives read-only projections from cached rows: calendar
// membership and month grids, normalized calendar items, aggregate stats,
// free-text search and collaborator permissions. Nothing here mutates its input.
package views

import "time"

// DefaultDateFormat is the date format used when printing calendar days
const DefaultDateFormat = "2006-01-02"

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same date in a's location.
func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// OnDay reports whether something starting at start, and optionally ending at
// end, belongs to the calendar day containing day. The day is taken in day's
// location: it spans from midnight up to, not including, the next midnight.
func OnDay(start time.Time, end *time.Time, day time.Time) bool {
	dayStart := StartOfDay(day)
	dayEnd := dayStart.AddDate(0, 0, 1)

	if !start.Before(dayStart) && start.Before(dayEnd) {
		return true
	}
	if end == nil {
		return false
	}
	return start.Before(dayEnd) && end.After(dayStart)
}

// Day is one cell of a month grid.
type Day[E any] struct {
	Date           time.Time
	Items          []E
	IsCurrentMonth bool
	IsToday        bool
	IsSelected     bool
}

// Month is a calendar month laid out as whole Sunday-to-Saturday weeks.
type Month[E any] struct {
	Year  int
	Month time.Month
	Weeks [][7]Day[E]
}

// Days flattens the grid into a single slice, week by week.
func (m Month[E]) Days() []Day[E] {
	days := make([]Day[E], 0, len(m.Weeks)*7)
	for _, w := range m.Weeks {
		days = append(days, w[:]...)
	}
	return days
}

// Span extracts the start and optional end of an item for calendar placement.
// ok is false for items with no date, which never appear in a grid.
type Span[E any] func(E) (start time.Time, end *time.Time, ok bool)

// BuildMonth lays out the month (month0 is zero based) in today's location.
// The grid starts on the Sunday on or before the 1st and ends on the Saturday
// on or after the last day. Each cell holds the items that fall on it, in the
// order they appear in items. selected may be nil.
func BuildMonth[E any](year, month0 int, items []E, span Span[E], selected *time.Time, today time.Time) Month[E] {
	loc := today.Location()
	first := time.Date(year, time.Month(month0+1), 1, 0, 0, 0, 0, loc)
	last := first.AddDate(0, 1, -1)

	gridStart := first.AddDate(0, 0, -int(first.Weekday()))
	gridEnd := last.AddDate(0, 0, int(time.Saturday-last.Weekday()))

	m := Month[E]{Year: first.Year(), Month: first.Month()}
	var week [7]Day[E]
	for d := gridStart; !d.After(gridEnd); d = d.AddDate(0, 0, 1) {
		cell := Day[E]{
			Date:           d,
			IsCurrentMonth: d.Month() == first.Month() && d.Year() == first.Year(),
			IsToday:        SameDay(d, today),
			IsSelected:     selected != nil && SameDay(d, *selected),
		}
		for _, it := range items {
			start, end, ok := span(it)
			if ok && OnDay(start, end, d) {
				cell.Items = append(cell.Items, it)
			}
		}
		week[d.Weekday()] = cell
		if d.Weekday() == time.Saturday {
			m.Weeks = append(m.Weeks, week)
			week = [7]Day[E]{}
		}
	}
	return m
}
