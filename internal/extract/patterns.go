// Package extract recovers structured event records from the free-form text
// of a calendar detail surface. The text has no schema and varies by host
// version, locale layout and view, so extraction is an ordered catalog of
// pattern matchers: each pattern either claims the text or passes, and the
// first claim wins.
package extract

import (
	"regexp"
	"time"
)

// TimeMatch is the outcome of running the pattern catalog over a text blob.
type TimeMatch struct {
	Start  time.Time
	End    time.Time
	AllDay bool

	// Pattern names the catalog entry that claimed the text; useful in
	// logs when extraction goes wrong on a new host version.
	Pattern string
}

// Regex building blocks. The date form covers "January 15, 2024",
// "Jan 15 2024" and "Jan 15"; the 12-hour form covers "9 AM", "9:30pm",
// "11 a.m."; the separator covers the dash variants the host renders plus
// spelled-out "to"/"until".
const (
	reDate  = `([A-Za-z]{3,9})\.?\s+(\d{1,2})(?:,?\s*(\d{4}))?`
	reT12   = `(\d{1,2})(?::(\d{2}))?\s*([AaPp])\.?[Mm]\.?`
	reT24   = `([01]?\d|2[0-3]):([0-5]\d)`
	reDash  = `(?:\s*[-–—~]\s*|\s+(?:to|until)\s+)`
	reComma = `,?\s+`
)

var (
	reAllDay = regexp.MustCompile(`(?i)\ball[\s-]?day\b`)
	reDates  = regexp.MustCompile(`(?i)` + reDate)

	// date time – date time
	reDateTimeSpan = regexp.MustCompile(`(?i)` + reDate + reComma + reT12 + reDash + reDate + reComma + reT12)
	// date time – time
	reDateTimeRange = regexp.MustCompile(`(?i)` + reDate + reComma + reT12 + reDash + reT12)
	// time – time (12-hour)
	reTimeRange = regexp.MustCompile(`(?i)` + reT12 + reDash + reT12)
	// HH:MM–HH:MM (24-hour)
	reTimeRange24 = regexp.MustCompile(reT24 + reDash + reT24)
	// single bare time
	reSingle12 = regexp.MustCompile(`(?i)` + reT12)
	reSingle24 = regexp.MustCompile(reT24)
)

// defaultEventDuration applies when the surface exposes only a start time.
const defaultEventDuration = time.Hour

type pattern struct {
	name  string
	match func(text string, fallback time.Time) (TimeMatch, bool)
}

// catalog is evaluated strictly in order; reordering entries changes which
// interpretation wins for ambiguous text (an all-day banner that also shows
// a time range must classify as all-day).
var catalog = []pattern{
	{"all-day", matchAllDay},
	{"date-time-span", matchDateTimeSpan},
	{"date-time-range", matchDateTimeRange},
	{"time-range", matchTimeRange},
	{"time-range-24h", matchTimeRange24},
	{"single-time", matchSingleTime},
}

// MatchTimes runs the catalog over text. The fallback date (with its
// location) supplies the calendar date whenever the text omits one, which
// is the common case for single-day events; it also supplies the assumed
// year for dates written without one. MatchTimes is total: when no pattern
// claims the text it returns an all-day match spanning the fallback date.
func MatchTimes(text string, fallback time.Time) TimeMatch {
	for _, p := range catalog {
		if m, ok := p.match(text, fallback); ok {
			m.Pattern = p.name
			return m
		}
	}
	day := startOfDay(fallback)
	return TimeMatch{
		Start:   day,
		End:     endOfDay(fallback),
		AllDay:  true,
		Pattern: "default-all-day",
	}
}

// matchAllDay claims text carrying an all-day marker, optionally followed
// by one or two explicit dates for multi-day spans.
func matchAllDay(text string, fallback time.Time) (TimeMatch, bool) {
	if !reAllDay.MatchString(text) {
		return TimeMatch{}, false
	}

	dates := reDates.FindAllStringSubmatch(text, 2)
	start := startOfDay(fallback)
	end := endOfDay(fallback)

	switch len(dates) {
	case 1:
		d := parseDayDate(dates[0][1], dates[0][2], dates[0][3], fallback, fallback.Location())
		start = startOfDay(d)
		end = endOfDay(d)
	case 2:
		d1 := parseDayDate(dates[0][1], dates[0][2], dates[0][3], fallback, fallback.Location())
		d2 := parseDayDate(dates[1][1], dates[1][2], dates[1][3], fallback, fallback.Location())
		if d2.Before(d1) {
			d1, d2 = d2, d1
		}
		start = startOfDay(d1)
		end = endOfDay(d2)
	}

	return TimeMatch{Start: start, End: end, AllDay: true}, true
}

// matchDateTimeSpan claims "date time – date time": a timed event with an
// explicit date on both ends, possibly spanning days.
func matchDateTimeSpan(text string, fallback time.Time) (TimeMatch, bool) {
	m := reDateTimeSpan.FindStringSubmatch(text)
	if m == nil {
		return TimeMatch{}, false
	}
	loc := fallback.Location()

	d1 := parseDayDate(m[1], m[2], m[3], fallback, loc)
	h1, min1 := parse12Hour(m[4], m[5], m[6])
	d2 := parseDayDate(m[7], m[8], m[9], fallback, loc)
	h2, min2 := parse12Hour(m[10], m[11], m[12])

	start := at(d1, h1, min1)
	end := at(d2, h2, min2)
	if end.Before(start) {
		start, end = end, start
	}
	return TimeMatch{Start: start, End: end}, true
}

// matchDateTimeRange claims "date time – time": a single-day timed event
// with an explicit date.
func matchDateTimeRange(text string, fallback time.Time) (TimeMatch, bool) {
	m := reDateTimeRange.FindStringSubmatch(text)
	if m == nil {
		return TimeMatch{}, false
	}
	loc := fallback.Location()

	d := parseDayDate(m[1], m[2], m[3], fallback, loc)
	h1, min1 := parse12Hour(m[4], m[5], m[6])
	h2, min2 := parse12Hour(m[7], m[8], m[9])

	start := at(d, h1, min1)
	end := at(d, h2, min2)
	if end.Before(start) {
		// Ranges like "10 PM – 1 AM" cross midnight.
		end = end.AddDate(0, 0, 1)
	}
	return TimeMatch{Start: start, End: end}, true
}

// matchTimeRange claims a bare 12-hour range with no date; the calendar
// date comes from the fallback.
func matchTimeRange(text string, fallback time.Time) (TimeMatch, bool) {
	m := reTimeRange.FindStringSubmatch(text)
	if m == nil {
		return TimeMatch{}, false
	}
	day := startOfDay(fallback)
	h1, min1 := parse12Hour(m[1], m[2], m[3])
	h2, min2 := parse12Hour(m[4], m[5], m[6])

	start := at(day, h1, min1)
	end := at(day, h2, min2)
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return TimeMatch{Start: start, End: end}, true
}

// matchTimeRange24 claims a bare 24-hour "HH:MM–HH:MM" range.
func matchTimeRange24(text string, fallback time.Time) (TimeMatch, bool) {
	m := reTimeRange24.FindStringSubmatch(text)
	if m == nil {
		return TimeMatch{}, false
	}
	day := startOfDay(fallback)
	h1, min1 := parse24Hour(m[1], m[2])
	h2, min2 := parse24Hour(m[3], m[4])

	start := at(day, h1, min1)
	end := at(day, h2, min2)
	if end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return TimeMatch{Start: start, End: end}, true
}

// matchSingleTime claims a lone time with no range; the event gets the
// default one-hour duration.
func matchSingleTime(text string, fallback time.Time) (TimeMatch, bool) {
	day := startOfDay(fallback)

	if m := reSingle12.FindStringSubmatch(text); m != nil {
		h, min := parse12Hour(m[1], m[2], m[3])
		start := at(day, h, min)
		return TimeMatch{Start: start, End: start.Add(defaultEventDuration)}, true
	}
	if m := reSingle24.FindStringSubmatch(text); m != nil {
		h, min := parse24Hour(m[1], m[2])
		start := at(day, h, min)
		return TimeMatch{Start: start, End: start.Add(defaultEventDuration)}, true
	}
	return TimeMatch{}, false
}
