package utils

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativePattern matches relative date formats like +7d, -3d, +2w, +1m
var relativePattern = regexp.MustCompile(`^([+-])(\d+)([dwm])$`)

// absoluteLayouts are tried in order after relative formats.
var absoluteLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseRelativeDate parses "today", "tomorrow", "yesterday", "+7d", "-3d",
// "+2w", "+1m" relative to now. Returns nil, nil if dateStr is not relative.
func parseRelativeDate(dateStr string, now time.Time) (*time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	lower := strings.ToLower(dateStr)

	switch lower {
	case "today":
		return &today, nil
	case "tomorrow":
		t := today.AddDate(0, 0, 1)
		return &t, nil
	case "yesterday":
		t := today.AddDate(0, 0, -1)
		return &t, nil
	}

	matches := relativePattern.FindStringSubmatch(lower)
	if matches == nil {
		return nil, nil
	}

	num, err := strconv.Atoi(matches[2])
	if err != nil {
		return nil, ErrInvalidDate(dateStr)
	}
	if matches[1] == "-" {
		num = -num
	}

	var result time.Time
	switch matches[3] {
	case "d":
		result = today.AddDate(0, 0, num)
	case "w":
		result = today.AddDate(0, 0, num*7)
	case "m":
		result = today.AddDate(0, num, 0)
	}

	return &result, nil
}

// ParseDateFlag parses a date or date-time string in the local timezone.
// Supported relative formats: today, tomorrow, yesterday, +Nd, -Nd, +Nw, +Nm
// Supported absolute formats: YYYY-MM-DD, YYYY-MM-DDTHH:MM, YYYY-MM-DD HH:MM
// Returns nil, nil for an empty string.
func ParseDateFlag(dateStr string) (*time.Time, error) {
	return ParseDateFlagAt(dateStr, time.Now())
}

// ParseDateFlagAt is ParseDateFlag with relative dates resolved against now.
func ParseDateFlagAt(dateStr string, now time.Time) (*time.Time, error) {
	if dateStr == "" {
		return nil, nil
	}

	t, err := parseRelativeDate(dateStr, now)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}

	for _, layout := range absoluteLayouts {
		if parsed, err := time.ParseInLocation(layout, dateStr, now.Location()); err == nil {
			return &parsed, nil
		}
	}
	return nil, ErrInvalidDate(dateStr)
}

// ParseMonthFlag parses YYYY-MM into a year and a zero-based month.
func ParseMonthFlag(monthStr string) (year, month0 int, err error) {
	parsed, err := time.Parse("2006-01", monthStr)
	if err != nil {
		return 0, 0, ErrInvalidMonth(monthStr)
	}
	return parsed.Year(), int(parsed.Month()) - 1, nil
}
