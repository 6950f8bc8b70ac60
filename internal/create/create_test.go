package create

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"caldup/internal/model"
)

func timePtr(t time.Time) *time.Time { return &t }

func timedDetails() model.EventDetails {
	return model.EventDetails{
		ID:       "ev-1",
		Title:    "Design review",
		Start:    timePtr(time.Date(2024, 1, 16, 14, 0, 0, 0, time.UTC)),
		End:      timePtr(time.Date(2024, 1, 16, 15, 30, 0, 0, time.UTC)),
		Location: "Room 4",
	}
}

func TestBuildPayload_Timed(t *testing.T) {
	p := BuildPayload(timedDetails(), "Europe/Berlin")

	assert.Equal(t, "Design review", p.Summary)
	assert.Equal(t, "Room 4", p.Location)
	assert.Equal(t, "2024-01-16T14:00:00Z", p.Start.DateTime)
	assert.Equal(t, "2024-01-16T15:30:00Z", p.End.DateTime)
	assert.Equal(t, "Europe/Berlin", p.Start.TimeZone)
	assert.Empty(t, p.Start.Date)
	assert.Empty(t, p.Recurrence)
}

func TestBuildPayload_AllDayUsesBareDates(t *testing.T) {
	d := model.EventDetails{
		Title:  "Offsite",
		Start:  timePtr(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)),
		End:    timePtr(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)),
		AllDay: true,
	}

	p := BuildPayload(d, "Europe/Berlin")
	assert.Equal(t, "2024-01-16", p.Start.Date)
	assert.Equal(t, "2024-01-17", p.End.Date)
	assert.Empty(t, p.Start.DateTime)
	assert.Empty(t, p.Start.TimeZone)
}

func TestBuildPayload_Recurrence(t *testing.T) {
	d := timedDetails()
	d.RRule = "FREQ=WEEKLY;BYDAY=TU"

	p := BuildPayload(d, "")
	assert.Equal(t, []string{"RRULE:FREQ=WEEKLY;BYDAY=TU"}, p.Recurrence)
}

type probeSource struct {
	name  string
	token string
	err   error
	hits  int
}

func (p *probeSource) Name() string { return p.name }
func (p *probeSource) Token(context.Context) (string, error) {
	p.hits++
	return p.token, p.err
}

func TestChain_FirstNonEmptyTokenWins(t *testing.T) {
	first := &probeSource{name: "a"}
	second := &probeSource{name: "b", token: "tok-b"}
	third := &probeSource{name: "c", token: "tok-c"}

	tok, err := NewChain(first, second, third).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-b", tok)
	assert.Equal(t, 1, first.hits)
	assert.Equal(t, 1, second.hits)
	assert.Zero(t, third.hits)
}

func TestChain_ProbeErrorsAreSkipped(t *testing.T) {
	broken := &probeSource{name: "broken", err: errors.New("eval failed")}
	good := &probeSource{name: "good", token: "tok"}

	tok, err := NewChain(broken, good).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}

func TestChain_ExhaustionYieldsCredentialMissing(t *testing.T) {
	empty := &probeSource{name: "empty"}

	_, err := NewChain(empty).Token(context.Background())
	assert.ErrorIs(t, err, ErrCredentialMissing)
}

func TestStaticSource_StripsBearerPrefix(t *testing.T) {
	tok, err := StaticSource{Value: "  Bearer ya29.secret "}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.secret", tok)
}

func TestEnvSource(t *testing.T) {
	t.Setenv("CALDUP_TEST_TOKEN", "env-tok")

	tok, err := EnvSource{Var: "CALDUP_TEST_TOKEN"}.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "env-tok", tok)

	tok, err = EnvSource{Var: "CALDUP_TEST_TOKEN_UNSET"}.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}

type fakeTokenSource struct {
	tok *oauth2.Token
	err error
}

func (f fakeTokenSource) Token() (*oauth2.Token, error) { return f.tok, f.err }

func TestOAuthSource_ValidToken(t *testing.T) {
	src := OAuthSource{Source: fakeTokenSource{tok: &oauth2.Token{
		AccessToken: "ya29.live",
		Expiry:      time.Now().Add(time.Hour),
	}}}

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.live", tok)
}

func TestOAuthSource_ExpiredTokenIsAbsence(t *testing.T) {
	src := OAuthSource{Source: fakeTokenSource{tok: &oauth2.Token{
		AccessToken: "ya29.stale",
		Expiry:      time.Now().Add(-time.Hour),
	}}}

	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tok)
}

func TestOAuthSource_ProviderErrorSurfaces(t *testing.T) {
	src := OAuthSource{Source: fakeTokenSource{err: errors.New("refresh rejected")}}

	_, err := src.Token(context.Background())
	assert.Error(t, err)
}

func TestChain_OAuthSourceServesAfterEmptySources(t *testing.T) {
	oauthSrc := OAuthSource{Source: fakeTokenSource{tok: &oauth2.Token{
		AccessToken: "ya29.chained",
		Expiry:      time.Now().Add(time.Hour),
	}}}

	tok, err := NewChain(&probeSource{name: "empty"}, oauthSrc).Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ya29.chained", tok)
}

func TestNewOAuthRefreshSource_ExchangesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.FormValue("grant_type"))
		assert.Equal(t, "rt-1", r.FormValue("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	src := NewOAuthRefreshSource(context.Background(), "client", "secret", srv.URL, "rt-1")
	tok, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "at-1", tok)
}

func TestTemplateURL_Timed(t *testing.T) {
	u := NewURLCreator(nil, "")
	raw, err := u.TemplateURL(timedDetails())
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "TEMPLATE", q.Get("action"))
	assert.Equal(t, "Design review", q.Get("text"))
	assert.Equal(t, "20240116T140000Z/20240116T153000Z", q.Get("dates"))
	assert.Equal(t, "Room 4", q.Get("location"))
}

func TestTemplateURL_AllDay(t *testing.T) {
	d := model.EventDetails{
		Title:  "Offsite",
		Start:  timePtr(time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)),
		End:    timePtr(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)),
		AllDay: true,
	}

	u := NewURLCreator(nil, "")
	raw, err := u.TemplateURL(d)
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "20240116/20240117", parsed.Query().Get("dates"))
}

func TestTemplateURL_MissingTimestamps(t *testing.T) {
	u := NewURLCreator(nil, "")
	_, err := u.TemplateURL(model.EventDetails{Title: "No times"})
	assert.ErrorIs(t, err, ErrCreationFailed)
}

type fakeNavigator struct {
	urls []string
	err  error
}

func (f *fakeNavigator) Navigate(_ context.Context, u string) error {
	f.urls = append(f.urls, u)
	return f.err
}

func TestURLCreator_CreateEventNavigates(t *testing.T) {
	nav := &fakeNavigator{}
	u := NewURLCreator(nav, "")

	require.NoError(t, u.CreateEvent(context.Background(), timedDetails()))
	require.Len(t, nav.urls, 1)
	assert.Contains(t, nav.urls[0], templateBaseURL)
}

func TestAPICreator_InsertsEvent(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	chain := NewChain(StaticSource{Value: "tok"})
	api := NewAPICreator(chain, srv.URL, "primary", "UTC")

	require.NoError(t, api.CreateEvent(context.Background(), timedDetails()))
	assert.Equal(t, "/calendars/primary/events", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "Design review", gotPayload.Summary)
	assert.Equal(t, "2024-01-16T14:00:00Z", gotPayload.Start.DateTime)
}

func TestAPICreator_NonSuccessStatusIsCreationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	api := NewAPICreator(NewChain(StaticSource{Value: "tok"}), srv.URL, "", "UTC")
	err := api.CreateEvent(context.Background(), timedDetails())
	assert.ErrorIs(t, err, ErrCreationFailed)
}

func TestAPICreator_NoCredentialSkipsRequest(t *testing.T) {
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
	}))
	defer srv.Close()

	api := NewAPICreator(NewChain(), srv.URL, "", "UTC")
	err := api.CreateEvent(context.Background(), timedDetails())
	assert.ErrorIs(t, err, ErrCredentialMissing)
	assert.Zero(t, requests)
}

type stubCreator struct {
	err   error
	calls int
}

func (s *stubCreator) CreateEvent(context.Context, model.EventDetails) error {
	s.calls++
	return s.err
}

func TestFallbackCreator_UsesURLOnlyWhenCredentialMissing(t *testing.T) {
	api := &stubCreator{err: ErrCredentialMissing}
	urlPath := &stubCreator{}

	f := FallbackCreator{API: api, URL: urlPath}
	require.NoError(t, f.CreateEvent(context.Background(), timedDetails()))
	assert.Equal(t, 1, api.calls)
	assert.Equal(t, 1, urlPath.calls)
}

func TestFallbackCreator_OtherAPIErrorsSurface(t *testing.T) {
	api := &stubCreator{err: ErrCreationFailed}
	urlPath := &stubCreator{}

	f := FallbackCreator{API: api, URL: urlPath}
	err := f.CreateEvent(context.Background(), timedDetails())
	assert.ErrorIs(t, err, ErrCreationFailed)
	assert.Zero(t, urlPath.calls)
}

func TestFallbackCreator_APISuccessSkipsURL(t *testing.T) {
	api := &stubCreator{}
	urlPath := &stubCreator{}

	f := FallbackCreator{API: api, URL: urlPath}
	require.NoError(t, f.CreateEvent(context.Background(), timedDetails()))
	assert.Zero(t, urlPath.calls)
}
