package extract

import (
	"strings"

	"github.com/teambition/rrule-go"

	"caldup/internal/dom"
)

// weekdayNames maps spelled-out weekday names in recurrence prose to rrule
// weekdays.
var weekdayNames = map[string]rrule.Weekday{
	"monday":    rrule.MO,
	"tuesday":   rrule.TU,
	"wednesday": rrule.WE,
	"thursday":  rrule.TH,
	"friday":    rrule.FR,
	"saturday":  rrule.SA,
	"sunday":    rrule.SU,
}

// Recurrence recovers a recurrence rule from the detail surface, either as
// a raw RRULE line or from prose such as "Weekly on Monday". The result is
// a canonical RRULE string, or "" when the event does not recur or the
// text could not be interpreted. Best effort only; callers treat "" as
// non-recurring.
func Recurrence(surface dom.Surface) string {
	for _, line := range surface.Lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}

		if raw, ok := strings.CutPrefix(t, "RRULE:"); ok {
			// Validate before trusting host text.
			if r, err := rrule.StrToRRule(raw); err == nil {
				return r.String()
			}
			continue
		}

		if rule := proseRule(t); rule != "" {
			return rule
		}
	}
	return ""
}

// proseRule interprets the recurrence phrasings the host renders in detail
// surfaces. Unrecognized prose yields "".
func proseRule(line string) string {
	lower := strings.ToLower(line)

	var opt rrule.ROption
	switch {
	case strings.HasPrefix(lower, "daily") || strings.HasPrefix(lower, "every day"):
		opt.Freq = rrule.DAILY
	case strings.HasPrefix(lower, "weekly") || strings.HasPrefix(lower, "every week"):
		opt.Freq = rrule.WEEKLY
		if day, ok := proseWeekday(lower); ok {
			opt.Byweekday = []rrule.Weekday{day}
		}
	case strings.HasPrefix(lower, "monthly") || strings.HasPrefix(lower, "every month"):
		opt.Freq = rrule.MONTHLY
	case strings.HasPrefix(lower, "annually") || strings.HasPrefix(lower, "yearly") || strings.HasPrefix(lower, "every year"):
		opt.Freq = rrule.YEARLY
	default:
		return ""
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return ""
	}
	return r.String()
}

func proseWeekday(lower string) (rrule.Weekday, bool) {
	for name, day := range weekdayNames {
		if strings.Contains(lower, name) {
			return day, true
		}
	}
	return rrule.Weekday{}, false
}
