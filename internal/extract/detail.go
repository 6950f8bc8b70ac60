package extract

import (
	"strings"
	"time"

	"caldup/internal/dom"
	appLog "caldup/internal/log"
	"caldup/internal/model"
)

// DefaultTitle is the placeholder used when no usable title is found.
const DefaultTitle = "Untitled event"

// locationIndicators are tokens that mark a line as a location label. The
// location value is the nearest following line that is not itself an
// indicator.
var locationIndicators = []string{"location", "where", "room", "venue", "address"}

// Details turns a detail-surface snapshot into a structured event record.
// It is total: every internal failure degrades to a best-effort default
// rather than surfacing an error, because a half-extracted record is still
// duplicable while an aborted workflow is not.
func Details(surface dom.Surface, id string, fallback time.Time) model.EventDetails {
	times := MatchTimes(surface.Blob, fallback)
	appLog.Debug("detail extraction",
		"event_id", id,
		"pattern", times.Pattern,
		"all_day", times.AllDay,
	)

	start := times.Start
	end := times.End

	return model.EventDetails{
		ID:          id,
		Title:       Title(surface),
		Start:       &start,
		End:         &end,
		AllDay:      times.AllDay,
		Location:    Location(surface),
		Description: Description(surface),
		RRule:       Recurrence(surface),
	}
}

// Title picks the first non-empty heading, falling back to the longest
// non-trivial text line, then to the placeholder.
func Title(surface dom.Surface) string {
	for _, h := range surface.Headings {
		if t := strings.TrimSpace(h); t != "" {
			return t
		}
	}

	best := ""
	for _, line := range surface.Lines {
		t := strings.TrimSpace(line)
		if !trivialLine(t) && len(t) > len(best) {
			best = t
		}
	}
	if best != "" {
		return best
	}
	return DefaultTitle
}

// trivialLine filters lines that cannot plausibly be a title: empty, very
// short, or consisting only of digits and time/date punctuation.
func trivialLine(s string) bool {
	if len(s) < 4 {
		return true
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == ':' || r == '-' || r == '–' || r == '/' || r == ',' || r == '.' || r == ' ':
		default:
			return false
		}
	}
	return true
}

// Location scans the surface lines for a location indicator token and
// returns the nearest following non-indicator line. Inline forms like
// "Location: Conference room 4" are handled on the indicator line itself.
func Location(surface dom.Surface) string {
	for i, line := range surface.Lines {
		t := strings.TrimSpace(line)
		tok, inline := indicatorToken(t)
		if tok == "" {
			continue
		}
		if inline != "" {
			return inline
		}
		for j := i + 1; j < len(surface.Lines); j++ {
			next := strings.TrimSpace(surface.Lines[j])
			if next == "" {
				continue
			}
			if tok, _ := indicatorToken(next); tok != "" {
				continue
			}
			return next
		}
	}
	return ""
}

// indicatorToken reports whether the line is a location indicator: either
// the bare token ("Where") or the token with an explicit separator and an
// inline value ("Location: Building A"). A line that merely starts with an
// indicator word ("Room 12") is a value, not an indicator.
func indicatorToken(line string) (token, inline string) {
	lower := strings.ToLower(line)
	for _, ind := range locationIndicators {
		if !strings.HasPrefix(lower, ind) {
			continue
		}
		rest := strings.TrimSpace(line[len(ind):])
		if rest == "" {
			return ind, ""
		}
		if strings.HasPrefix(rest, ":") || strings.HasPrefix(rest, "-") ||
			strings.HasPrefix(rest, "–") || strings.HasPrefix(rest, "—") {
			return ind, strings.TrimSpace(strings.TrimLeft(rest, ":-–— \t"))
		}
	}
	return "", ""
}

// Description returns the first non-empty description candidate, or the
// empty string. It never fails.
func Description(surface dom.Surface) string {
	for _, d := range surface.Descriptions {
		if t := strings.TrimSpace(d); t != "" {
			return t
		}
	}
	return ""
}
