package extract

import (
	"strconv"
	"strings"
	"time"
)

// months maps lowercase English month names and 3-letter abbreviations to
// their time.Month. This is the entire recognized vocabulary; see
// parseMonth for the unknown-name behavior.
var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// parseMonth resolves an English month name or 3-letter abbreviation,
// case-insensitive. An unrecognized name resolves to January. That fallback
// is long-standing observable behavior; changing it silently would shift
// extracted dates, so it stays and is pinned by tests.
func parseMonth(name string) time.Month {
	m, ok := months[strings.ToLower(strings.TrimSuffix(name, "."))]
	if !ok {
		return time.January
	}
	return m
}

// parseDayDate builds a date from month-name/day/optional-year submatches.
// A missing year assumes the fallback date's year.
func parseDayDate(monthName, dayStr, yearStr string, fallback time.Time, loc *time.Location) time.Time {
	month := parseMonth(monthName)
	day, _ := strconv.Atoi(dayStr)
	year := fallback.Year()
	if yearStr != "" {
		if y, err := strconv.Atoi(yearStr); err == nil {
			year = y
		}
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// parse12Hour converts hour/minute/meridiem submatches to clock values:
// 12 AM maps to 0, 12 PM stays 12, other PM hours add 12.
func parse12Hour(hourStr, minStr, meridiem string) (hour, min int) {
	hour, _ = strconv.Atoi(hourStr)
	if minStr != "" {
		min, _ = strconv.Atoi(minStr)
	}
	pm := strings.HasPrefix(strings.ToLower(meridiem), "p")
	if hour == 12 {
		if !pm {
			hour = 0
		}
	} else if pm {
		hour += 12
	}
	return hour, min
}

// parse24Hour converts HH/MM submatches literally.
func parse24Hour(hourStr, minStr string) (hour, min int) {
	hour, _ = strconv.Atoi(hourStr)
	min, _ = strconv.Atoi(minStr)
	return hour, min
}

// at places clock values onto a calendar date.
func at(date time.Time, hour, min int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), hour, min, 0, 0, date.Location())
}

// startOfDay truncates t to midnight in its own location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay returns the last representable millisecond of t's day.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}
