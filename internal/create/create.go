// Package create holds the event-creation collaborators: the calendar API
// path, the event-template URL fallback, and the local ICS artifact writer.
package create

import (
	"context"
	"errors"
	"time"

	"caldup/internal/model"
)

// Taxonomy errors surfaced by creation paths.
var (
	// ErrCredentialMissing means no source in the credential chain yielded
	// a usable bearer token. Recoverable: callers fall back to the URL
	// path.
	ErrCredentialMissing = errors.New("create: no usable credential")

	// ErrCreationFailed means the collaborator accepted the request but
	// could not create the event.
	ErrCreationFailed = errors.New("create: event creation failed")
)

// Creator is the narrow event-creation capability the orchestrator
// consumes.
type Creator interface {
	CreateEvent(ctx context.Context, details model.EventDetails) error
}

// EventDateTime is one end of an event: either a bare date (all-day) or a
// zoned timestamp, never both.
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Payload is the wire shape accepted by the calendar insert endpoint.
type Payload struct {
	Summary     string        `json:"summary"`
	Start       EventDateTime `json:"start"`
	End         EventDateTime `json:"end"`
	Location    string        `json:"location,omitempty"`
	Description string        `json:"description,omitempty"`
	Recurrence  []string      `json:"recurrence,omitempty"`
}

// BuildPayload converts an adjusted record into the insert payload.
// tz names the zone attached to timed payloads; all-day payloads carry
// bare dates.
func BuildPayload(details model.EventDetails, tz string) Payload {
	p := Payload{
		Summary:     details.Title,
		Location:    details.Location,
		Description: details.Description,
	}
	if details.RRule != "" {
		p.Recurrence = []string{"RRULE:" + details.RRule}
	}

	var start, end time.Time
	if details.Start != nil {
		start = *details.Start
	}
	if details.End != nil {
		end = *details.End
	}

	if details.AllDay {
		p.Start = EventDateTime{Date: start.Format("2006-01-02")}
		p.End = EventDateTime{Date: end.Format("2006-01-02")}
		return p
	}

	p.Start = EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: tz}
	p.End = EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: tz}
	return p
}
