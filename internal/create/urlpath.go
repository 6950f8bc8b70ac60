package create

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"caldup/internal/adjust"
	appLog "caldup/internal/log"
	"caldup/internal/model"
)

const templateBaseURL = "https://calendar.google.com/calendar/render"

// Navigator is the slice of browser capability the URL path needs.
// Implemented by dom.Browser.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// URLCreator creates events by opening the calendar's pre-filled
// event-template URL in the attached browser. It needs no credential, so
// it serves as the fallback when the chain comes up empty.
type URLCreator struct {
	nav     Navigator
	baseURL string
}

// NewURLCreator builds the URL fallback path. baseURL "" means the public
// render endpoint.
func NewURLCreator(nav Navigator, baseURL string) *URLCreator {
	if baseURL == "" {
		baseURL = templateBaseURL
	}
	return &URLCreator{nav: nav, baseURL: baseURL}
}

// TemplateURL renders the pre-filled event URL for the given record.
func (u *URLCreator) TemplateURL(details model.EventDetails) (string, error) {
	if details.Start == nil || details.End == nil {
		return "", fmt.Errorf("%w: record has no timestamps", ErrCreationFailed)
	}

	q := url.Values{}
	q.Set("action", "TEMPLATE")
	q.Set("text", details.Title)
	q.Set("dates", adjust.FormatGoogleCalendarDates(*details.Start, *details.End, details.AllDay))
	if details.Location != "" {
		q.Set("location", details.Location)
	}
	if details.Description != "" {
		q.Set("details", details.Description)
	}
	if details.RRule != "" {
		q.Set("recur", "RRULE:"+details.RRule)
	}
	return u.baseURL + "?" + q.Encode(), nil
}

// CreateEvent opens the template URL; the host application takes it from
// there.
func (u *URLCreator) CreateEvent(ctx context.Context, details model.EventDetails) error {
	if u.nav == nil {
		return fmt.Errorf("%w: no navigator attached", ErrCreationFailed)
	}
	target, err := u.TemplateURL(details)
	if err != nil {
		return err
	}
	if err := u.nav.Navigate(ctx, target); err != nil {
		return fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}
	appLog.Info("event template opened", "summary", details.Title)
	return nil
}

// FallbackCreator tries the API path first and degrades to the URL path
// when no credential is available. Any other API failure is surfaced as-is;
// the URL path only covers the credential-missing case.
type FallbackCreator struct {
	API Creator
	URL Creator
}

func (f FallbackCreator) CreateEvent(ctx context.Context, details model.EventDetails) error {
	if f.API != nil {
		err := f.API.CreateEvent(ctx, details)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrCredentialMissing) {
			return err
		}
		appLog.Info("no credential; using url fallback", "summary", details.Title)
	}
	if f.URL == nil {
		return ErrCredentialMissing
	}
	return f.URL.CreateEvent(ctx, details)
}
