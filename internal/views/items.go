package views

import (
	"sort"
	"time"

	"hubcache/backend"
)

// ItemKind tells events and tasks apart on a calendar.
type ItemKind string

const (
	KindEvent ItemKind = "event"
	KindTask  ItemKind = "task"
)

// CalendarItem is the single normalized shape rendered on calendars.
type CalendarItem struct {
	ID        string     `json:"id"`
	Kind      ItemKind   `json:"kind"`
	Title     string     `json:"title"`
	Date      time.Time  `json:"date"`
	End       *time.Time `json:"end,omitempty"`
	AllDay    bool       `json:"all_day"`
	Color     string     `json:"color,omitempty"`
	Completed bool       `json:"completed"`
}

// Default colors for items that carry none of their own.
const (
	DefaultEventColor = "#3b82f6"
	colorHigh         = "#ef4444"
	colorMedium       = "#f59e0b"
	colorLow          = "#10b981"
)

// EventItem normalizes an event.
func EventItem(e backend.Event) CalendarItem {
	color := e.Color
	if color == "" {
		color = DefaultEventColor
	}
	return CalendarItem{
		ID:     e.ID,
		Kind:   KindEvent,
		Title:  e.Title,
		Date:   e.StartDate,
		End:    e.EndDate,
		AllDay: e.AllDay,
		Color:  color,
	}
}

// TaskItem normalizes a task. Tasks without a due date have no place on a
// calendar and report false.
func TaskItem(t backend.Task) (CalendarItem, bool) {
	if t.DueDate == nil {
		return CalendarItem{}, false
	}
	return CalendarItem{
		ID:        t.ID,
		Kind:      KindTask,
		Title:     t.Title,
		Date:      *t.DueDate,
		Color:     PriorityColor(t.Priority),
		Completed: t.Completed,
	}, true
}

// PriorityColor maps a task priority to its calendar color.
func PriorityColor(p backend.Priority) string {
	switch p {
	case backend.PriorityHigh:
		return colorHigh
	case backend.PriorityLow:
		return colorLow
	default:
		return colorMedium
	}
}

// MergeCalendarItems normalizes events and dated tasks into one list ordered
// by date; events sort before tasks on the same instant.
func MergeCalendarItems(events []backend.Event, tasks []backend.Task) []CalendarItem {
	items := make([]CalendarItem, 0, len(events)+len(tasks))
	for _, e := range events {
		items = append(items, EventItem(e))
	}
	for _, t := range tasks {
		if it, ok := TaskItem(t); ok {
			items = append(items, it)
		}
	}
	SortCalendarItems(items)
	return items
}

// SortCalendarItems orders items by date, then kind, then title.
func SortCalendarItems(items []CalendarItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Kind != b.Kind {
			return a.Kind == KindEvent
		}
		return a.Title < b.Title
	})
}

// ItemSpan places a CalendarItem on a month grid.
func ItemSpan(it CalendarItem) (time.Time, *time.Time, bool) {
	return it.Date, it.End, true
}
