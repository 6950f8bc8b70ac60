package adjust

import "time"

// Layouts for the calendar "dates" query-parameter encoding. The timed form
// is always UTC.
const (
	layoutAllDay = "20060102"
	layoutTimed  = "20060102T150405Z"
)

// FormatGoogleCalendarDates renders the bit-exact "dates" query parameter
// understood by the calendar's event-template URL:
//
//	all-day: YYYYMMDD/YYYYMMDD
//	timed:   YYYYMMDDTHHmmssZ/YYYYMMDDTHHmmssZ (UTC)
func FormatGoogleCalendarDates(start, end time.Time, allDay bool) string {
	if allDay {
		return start.Format(layoutAllDay) + "/" + end.Format(layoutAllDay)
	}
	return start.UTC().Format(layoutTimed) + "/" + end.UTC().Format(layoutTimed)
}
