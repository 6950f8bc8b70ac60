package create

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "caldup/internal/log"
	"caldup/internal/model"
)

// ArtifactWriter drops an .ics file for every created duplicate so the
// event survives locally even when the host system fails silently after
// accepting the creation.
type ArtifactWriter struct {
	dir string
}

// NewArtifactWriter writes artifacts under dir; "" disables writing.
func NewArtifactWriter(dir string) *ArtifactWriter {
	return &ArtifactWriter{dir: dir}
}

// Write serializes the record as a single-VEVENT calendar. Best effort:
// callers log the returned error and move on.
func (w *ArtifactWriter) Write(_ context.Context, details model.EventDetails) (string, error) {
	if w.dir == "" {
		return "", nil
	}
	if details.Start == nil || details.End == nil {
		return "", fmt.Errorf("create: artifact needs both timestamps")
	}

	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return "", err
	}

	uid := uuid.NewString()
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)

	ev := cal.AddEvent(uid)
	ev.SetDtStampTime(time.Now().UTC())
	ev.SetSummary(details.Title)
	if details.Location != "" {
		ev.SetLocation(details.Location)
	}
	if details.Description != "" {
		ev.SetDescription(details.Description)
	}
	if details.RRule != "" {
		ev.AddRrule(details.RRule)
	}

	if details.AllDay {
		ev.SetAllDayStartAt(*details.Start)
		ev.SetAllDayEndAt(*details.End)
	} else {
		ev.SetStartAt(*details.Start)
		ev.SetEndAt(*details.End)
	}

	path := filepath.Join(w.dir, fmt.Sprintf("duplicate-%s-%s.ics",
		details.Start.Format("20060102"), uid[:8]))
	if err := os.WriteFile(path, []byte(cal.Serialize()), 0o600); err != nil {
		return "", err
	}

	appLog.Debug("ics artifact written", "path", path, "summary", details.Title)
	return path, nil
}
