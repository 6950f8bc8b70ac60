// Package adjust contains the pure date-shifting transformations applied to
// extracted event records before replay.
package adjust

import (
	"errors"
	"fmt"
	"time"

	"caldup/internal/model"
)

// ErrInvalidTargetDate reports a target date that is not a valid calendar
// date (the zero time, or a date outside the representable range).
var ErrInvalidTargetDate = errors.New("adjust: invalid target date")

// Defaults for records whose source times did not survive extraction.
// Missing times are common for degraded extractions, so this is policy,
// not data loss.
const (
	fallbackStartHour = 9
	fallbackDuration  = time.Hour
)

// Adjust returns a copy of details moved to targetDate with its duration
// preserved. Pure; the input is never mutated.
//
// Cases:
//   - all-day: new start is start-of-day(targetDate); the span in whole
//     days is recomputed from the original record (minimum 1) and the new
//     end is that many days later, midnight-exclusive.
//   - timed with both timestamps: the original start's wall clock is
//     copied onto targetDate and the end follows at exactly the original
//     elapsed duration, so duration survives daylight-saving boundaries.
//   - either timestamp missing: a one-hour 09:00–10:00 event on targetDate,
//     with AllDay forced false.
func Adjust(details model.EventDetails, targetDate time.Time) (model.EventDetails, error) {
	if !validDate(targetDate) {
		return model.EventDetails{}, fmt.Errorf("%w: %v", ErrInvalidTargetDate, targetDate)
	}

	out := details.Clone()

	if details.AllDay {
		days := 1
		if details.Start != nil && details.End != nil {
			days = wholeDays(*details.Start, *details.End)
			if days < 1 {
				days = 1
			}
		}
		start := startOfDay(targetDate)
		end := start.AddDate(0, 0, days)
		out.Start = &start
		out.End = &end
		return out, nil
	}

	if details.Start == nil || details.End == nil {
		start := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(),
			fallbackStartHour, 0, 0, 0, targetDate.Location())
		end := start.Add(fallbackDuration)
		out.Start = &start
		out.End = &end
		out.AllDay = false
		return out, nil
	}

	orig := *details.Start
	duration := details.End.Sub(orig)

	start := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(),
		orig.Hour(), orig.Minute(), orig.Second(), orig.Nanosecond(), orig.Location())
	// Absolute elapsed time, not field arithmetic: the end lands wherever
	// the duration puts it, even across a DST transition.
	end := start.Add(duration)

	out.Start = &start
	out.End = &end
	return out, nil
}

// Tomorrow returns the calendar day after the record's own date (its start
// date when present, otherwise the given fallback date).
func Tomorrow(details model.EventDetails, fallback time.Time) (time.Time, error) {
	base := fallback
	if details.Start != nil {
		base = *details.Start
	}
	if !validDate(base) {
		return time.Time{}, fmt.Errorf("%w: no usable base date", ErrInvalidTargetDate)
	}
	return startOfDay(base).AddDate(0, 0, 1), nil
}

// wholeDays counts the days covered by [start, end], rounding partial days
// up so a span ending at 23:59:59.999 still counts its final day.
func wholeDays(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

func validDate(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	y := t.Year()
	return y >= 1 && y <= 9999
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
