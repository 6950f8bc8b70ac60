package dom

import (
	"context"
	"time"
)

// Grid-column candidates: elements that carry a calendar date attribute.
var gridColumnSelectors = []string{
	`[data-date]`,
	`[role="gridcell"][data-date]`,
}

// GridDate infers the calendar date of the element behind ref from its
// position in the calendar grid: the day column whose horizontal span
// contains the element's center wins. Detail-surface text often omits the
// date for single-day events, so this is the extractor's fallback date.
// Returns false when no dated column overlaps the element.
func GridDate(ctx context.Context, c Collaborator, ref string, loc *time.Location) (time.Time, bool) {
	box, err := c.BoundingBox(ctx, ref)
	if err != nil || box.Width <= 0 {
		return time.Time{}, false
	}
	centerX := box.X + box.Width/2

	columns, err := Resolve(ctx, c, gridColumnSelectors)
	if err != nil {
		return time.Time{}, false
	}

	for _, col := range columns {
		if col.Date == "" {
			continue
		}
		colBox, err := c.BoundingBox(ctx, col.Ref)
		if err != nil {
			continue
		}
		if centerX < colBox.X || centerX > colBox.X+colBox.Width {
			continue
		}
		if d, err := time.ParseInLocation("2006-01-02", col.Date, loc); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}
