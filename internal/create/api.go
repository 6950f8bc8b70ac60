package create

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"

	appLog "caldup/internal/log"
	"caldup/internal/model"
)

const defaultAPIBaseURL = "https://www.googleapis.com/calendar/v3"

// APICreator creates events through the calendar REST API using a bearer
// token from the credential chain. Calls run through a circuit breaker so a
// misbehaving API cannot soak every duplication attempt in timeouts.
type APICreator struct {
	client     *http.Client
	chain      *Chain
	breaker    *gobreaker.CircuitBreaker[struct{}]
	baseURL    string
	calendarID string
	timezone   string
}

// NewAPICreator builds an API creation path. baseURL "" means the public
// endpoint; calendarID "" means "primary".
func NewAPICreator(chain *Chain, baseURL, calendarID, timezone string) *APICreator {
	if baseURL == "" {
		baseURL = defaultAPIBaseURL
	}
	if calendarID == "" {
		calendarID = "primary"
	}

	settings := gobreaker.Settings{
		Name:        "calendar-api",
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	return &APICreator{
		client:     &http.Client{Timeout: 15 * time.Second},
		chain:      chain,
		breaker:    gobreaker.NewCircuitBreaker[struct{}](settings),
		baseURL:    baseURL,
		calendarID: calendarID,
		timezone:   timezone,
	}
}

// CreateEvent inserts the adjusted record as a new calendar event. Returns
// ErrCredentialMissing when the chain is empty-handed, letting the caller
// fall back to the URL path.
func (a *APICreator) CreateEvent(ctx context.Context, details model.EventDetails) error {
	token, err := a.chain.Token(ctx)
	if err != nil {
		return err
	}

	payload := BuildPayload(details, a.timezone)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("create: payload marshal failed: %w", err)
	}

	insertURL := fmt.Sprintf("%s/calendars/%s/events", a.baseURL, url.PathEscape(a.calendarID))

	_, err = a.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, insertURL, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := a.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return struct{}{}, fmt.Errorf("%w: status %d: %s", ErrCreationFailed, resp.StatusCode, snippet)
		}
		return struct{}{}, nil
	})
	if err != nil {
		appLog.Error("api event creation failed", err, "summary", details.Title)
		if gobreakerOpen(err) {
			return fmt.Errorf("%w: circuit open: %v", ErrCreationFailed, err)
		}
		return err
	}

	appLog.Info("event created via api", "summary", details.Title, "calendar", a.calendarID)
	return nil
}

func gobreakerOpen(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
